package server

import (
	"encoding/json"

	"github.com/go-gl/mathgl/mgl64"
	"golang.org/x/time/rate"

	"devicearena/devices"
	"devicearena/loop"
)

// PlayerID 表示玩家唯一标识
type PlayerID string

// Outbox 玩家连接的发送端；ClientConn 为 WebSocket 实现
type Outbox interface {
	Enqueue(b []byte)
	Close()
}

// Player 房间内的玩家实体（服务端权威状态），只在房间调度器协程中读写
type Player struct {
	id    PlayerID
	name  string
	team  string
	score float64
	pos   mgl64.Vec2

	inv          *Inventory
	openDeviceUI string
	reload       *loop.Wait

	room    *Room
	out     Outbox
	limiter *rate.Limiter
	unsubs  []func()
}

var _ devices.Player = (*Player)(nil)

func (p *Player) ID() string            { return string(p.id) }
func (p *Player) Name() string          { return p.name }
func (p *Player) TeamID() string        { return p.team }
func (p *Player) Score() float64        { return p.score }
func (p *Player) Position() mgl64.Vec2  { return p.pos }
func (p *Player) Inventory() *Inventory { return p.inv }
func (p *Player) OpenDeviceUI() string  { return p.openDeviceUI }

// AddItem 由设备调用，背包变化后同步给玩家
func (p *Player) AddItem(itemID string, amount, clip int) int {
	overflow := p.inv.AddItem(itemID, amount, clip)
	if overflow != amount {
		p.sendInventory()
	}
	return overflow
}

func (p *Player) SetOpenDeviceUI(id string) {
	if p.openDeviceUI == id {
		return
	}
	p.openDeviceUI = id
	p.Send(MsgOpenDeviceUI, map[string]string{"deviceId": id})
}

// Send 向该玩家发送一条 {type, payload} 消息
func (p *Player) Send(typ string, payload any) {
	b, err := json.Marshal(Envelope{Type: typ, Payload: payload})
	if err != nil {
		Log.Warnf("encode %s for %s: %v", typ, p.id, err)
		return
	}
	if p.room != nil {
		p.room.record(typ, p.id, payload)
	}
	if p.out != nil {
		p.out.Enqueue(b)
	}
}

func (p *Player) sendInventory() { p.Send(MsgInventory, p.inv) }

// feed 活动信息流中的一条消息
func (p *Player) feed(text string) {
	p.Send(MsgActivityFeed, map[string]string{"text": text})
}

// subscribe 记录玩家级订阅，离开房间时统一取消
func (p *Player) subscribe(unsub func()) { p.unsubs = append(p.unsubs, unsub) }

func (p *Player) releaseSubscriptions() {
	for _, u := range p.unsubs {
		u()
	}
	p.unsubs = nil
}
