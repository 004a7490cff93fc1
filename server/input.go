package server

import "encoding/json"

// 客户端 → 服务端
const (
	MsgForDevice           = "MESSAGE_FOR_DEVICE"
	MsgUIPresence          = "UPDATE_DEVICE_UI_PRESENCE"
	MsgRequestInitialWorld = "REQUEST_INITIAL_WORLD"
	MsgRestoreMap          = "RESTORE_MAP_EARLIER"
	MsgDropItem            = "DROP_ITEM"
	MsgFire                = "FIRE"
	MsgReload              = "RELOAD"
	MsgSetActiveItem       = "SET_ACTIVE_INTERACTIVE_ITEM"
	MsgMove                = "MOVE"
)

// 服务端 → 客户端（设备与地形消息类型定义在各自的包中）
const (
	MsgReset           = "RESET"
	MsgProjectiles     = "PROJECTILE_CHANGES"
	MsgInventory       = "INVENTORY_UPDATE"
	MsgOpenDeviceUI    = "OPEN_DEVICE_UI"
	MsgActivityFeed    = "ACTIVITY_FEED_MESSAGE"
	MsgReloadState     = "RELOAD_STATE"
	MsgPlayerPositions = "PLAYER_POSITIONS"
)

// Envelope 双向通用的消息外层
// 示例：{"type":"MOVE","payload":{"x":10,"y":20}}
type Envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// inbound 入站消息；payload 留给各处理器自行解码
type inbound struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type deviceMessage struct {
	DeviceID string `json:"deviceId"`
	Key      string `json:"key"`
	Data     any    `json:"data"`
}

type uiPresence struct {
	Action   string `json:"action"`
	DeviceID string `json:"deviceId"`
}

type dropItem struct {
	ItemID string `json:"itemId"`
	Amount int    `json:"amount"`
	// Slot 非空时丢弃交互栏位中的物品
	Slot *int `json:"interactiveSlot,omitempty"`
}

// fire 射击方向，弧度
type fire struct {
	Angle float64 `json:"angle"`
}

type move struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type setActiveItem struct {
	Slot int `json:"slot"`
}

func decode[T any](payload json.RawMessage) (T, bool) {
	var v T
	if len(payload) == 0 {
		return v, false
	}
	if err := json.Unmarshal(payload, &v); err != nil {
		return v, false
	}
	return v, true
}
