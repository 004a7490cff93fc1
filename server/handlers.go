package server

import (
	"encoding/json"
	"math"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"devicearena/devices"
	"devicearena/mapdata"
	"devicearena/physics"
	"devicearena/terrain"
)

// droppedItemLayer 掉落物与角色共用按深度排序的图层
const droppedItemLayer = "DepthSortedCharactersAndDevices"

func (r *Room) registerHandlers() {
	r.dispatch.On(MsgForDevice, r.onDeviceMessage)
	r.dispatch.On(MsgUIPresence, r.onUIPresence)
	r.dispatch.On(MsgRequestInitialWorld, r.onRequestInitialWorld)
	r.dispatch.On(MsgRestoreMap, r.onRestoreMap)
	r.dispatch.On(MsgDropItem, r.onDropItem)
	r.dispatch.On(MsgFire, r.onFire)
	r.dispatch.On(MsgReload, r.onReload)
	r.dispatch.On(MsgSetActiveItem, r.onSetActiveItem)
	r.dispatch.On(MsgMove, r.onMove)
}

func (r *Room) onDeviceMessage(p *Player, payload json.RawMessage) {
	m, ok := decode[deviceMessage](payload)
	if !ok || m.DeviceID == "" {
		return
	}
	r.devices.HandleMessage(p, m.DeviceID, m.Key, m.Data)
}

func (r *Room) onUIPresence(p *Player, payload json.RawMessage) {
	m, ok := decode[uiPresence](payload)
	if !ok {
		return
	}
	if !r.devices.HandleUIPresence(p, m.Action, m.DeviceID) {
		r.log.Debug("ui presence for unknown device", zap.String("device", m.DeviceID))
	}
}

// onRequestInitialWorld 首包顺序：设备状态、地形、设备列表
func (r *Room) onRequestInitialWorld(p *Player, _ json.RawMessage) {
	p.Send(devices.MsgStateChanges, r.devices.InitialChanges())
	p.Send(terrain.MsgTerrainChanges, r.terrain.InitialMessage())
	p.Send(devices.MsgWorldChanges, r.devices.InitialWorld())
}

// onRestoreMap 只有房主可以把地图恢复到初始状态
func (r *Room) onRestoreMap(p *Player, _ json.RawMessage) {
	if p.id != r.host {
		r.log.Warn("restore requested by non-host", zap.String("player", string(p.id)))
		return
	}
	r.Broadcast(MsgReset, nil)
	r.devices.RestoreAll()
	r.terrain.Restore()
}

// onDropItem 从背包取出物品，在玩家脚下生成 droppedItem 设备
func (r *Room) onDropItem(p *Player, payload json.RawMessage) {
	m, ok := decode[dropItem](payload)
	if !ok {
		return
	}
	itemID, amount, clip := m.ItemID, 0, 0
	if m.Slot != nil {
		slot, ok := p.inv.TakeSlot(*m.Slot)
		if !ok {
			return
		}
		p.reload.Cancel()
		itemID, amount, clip = slot.ItemID, 1, slot.Clip
	} else {
		amount = p.inv.Take(m.ItemID, m.Amount)
	}
	if amount == 0 {
		return
	}
	r.devices.Create(mapdata.DeviceInfo{
		ID:       uuid.NewString(),
		X:        p.pos.X(),
		Y:        p.pos.Y(),
		Depth:    p.pos.Y(),
		Layer:    droppedItemLayer,
		DeviceID: "droppedItem",
		Options: map[string]any{
			"itemId":      itemID,
			"amount":      float64(amount),
			"currentClip": float64(clip),
		},
	}, true)
	p.sendInventory()
}

func (r *Room) onSetActiveItem(p *Player, payload json.RawMessage) {
	m, ok := decode[setActiveItem](payload)
	if !ok || m.Slot == p.inv.Active {
		return
	}
	if p.inv.SetActive(m.Slot) {
		p.reload.Cancel()
		p.sendInventory()
	}
}

func (r *Room) onMove(p *Player, payload json.RawMessage) {
	m, ok := decode[move](payload)
	if !ok || math.IsNaN(m.X) || math.IsNaN(m.Y) {
		return
	}
	p.pos = mgl64.Vec2{m.X, m.Y}
	r.moved[p.id] = true
}

// onReload 换弹读条：到期补满弹匣；期间移动超过 CancelDistance 则打断，两者只发生一个
func (r *Room) onReload(p *Player, _ json.RawMessage) {
	slot := p.inv.ActiveSlot()
	if slot == nil || p.reload.Pending() {
		return
	}
	gadget, ok := r.cfg.Tables.Gadget(slot.ItemID)
	if !ok || slot.Clip >= gadget.ClipSize {
		return
	}
	itemID, start := slot.ItemID, p.pos

	var unsub func()
	p.Send(MsgReloadState, map[string]bool{"reloading": true})
	p.reload = r.loop.Wait(time.Duration(gadget.ReloadTimeMs)*time.Millisecond,
		func() {
			unsub()
			if s := p.inv.ActiveSlot(); s != nil && s.ItemID == itemID {
				s.Clip = gadget.ClipSize
			}
			p.Send(MsgReloadState, map[string]bool{"reloading": false})
			p.sendInventory()
		},
		func() {
			unsub()
			p.Send(MsgReloadState, map[string]bool{"reloading": false})
		})
	unsub = r.dispatch.OnFor(p.id, MsgMove, func(p *Player, _ json.RawMessage) {
		if p.pos.Sub(start).Len() > gadget.CancelDistance {
			p.reload.Cancel()
		}
	})
	p.subscribe(unsub)
}

type projectile struct {
	ID     string     `json:"id"`
	Owner  string     `json:"owner"`
	Start  mgl64.Vec2 `json:"start"`
	End    mgl64.Vec2 `json:"end"`
	Radius float64    `json:"radius"`
	Speed  float64    `json:"speed"`
}

type projectileChanges struct {
	Added []projectile         `json:"added"`
	Hit   []*physics.HitEffect `json:"hit"`
}

// onFire 消耗一发弹药，沿射击方向投射线段，命中的第一个静态碰撞体承受伤害
func (r *Room) onFire(p *Player, payload json.RawMessage) {
	m, ok := decode[fire](payload)
	if !ok || math.IsNaN(m.Angle) {
		return
	}
	slot := p.inv.ActiveSlot()
	if slot == nil || slot.Clip <= 0 || p.reload.Pending() {
		return
	}
	gadget, ok := r.cfg.Tables.Gadget(slot.ItemID)
	if !ok {
		return
	}
	slot.Clip--

	dir := mgl64.Vec2{math.Cos(m.Angle), math.Sin(m.Angle)}
	end := p.pos.Add(dir.Mul(gadget.Distance))
	hits := []*physics.HitEffect{}
	if hit, ok := r.space.CastSegment(p.pos, dir, gadget.Distance); ok {
		end = hit.Point
		attacker := physics.Attacker{PlayerID: string(p.id), TeamID: p.team}
		if eff := r.space.Hit(hit.Collider, gadget.Damage, attacker); eff != nil {
			hits = append(hits, eff)
		}
	}
	r.Broadcast(MsgProjectiles, projectileChanges{
		Added: []projectile{{
			ID:     uuid.NewString(),
			Owner:  string(p.id),
			Start:  p.pos,
			End:    end,
			Radius: gadget.Radius,
			Speed:  gadget.Speed,
		}},
		Hit: hits,
	})
	p.sendInventory()
}
