package devices

import (
	"math"
	"sort"
	"time"

	"github.com/elliotchance/orderedmap/v2"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/samber/lo"

	"devicearena/blocks"
	"devicearena/loop"
	"devicearena/mapdata"
	"devicearena/physics"
)

// Scope 设备状态的可见范围
type Scope string

const (
	ScopeGlobal Scope = "global"
	ScopeTeam   Scope = "team"
	ScopePlayer Scope = "player"
)

// ParseScope 无法识别的取值按 global 处理
func ParseScope(s string) Scope {
	switch Scope(s) {
	case ScopeTeam, ScopePlayer:
		return Scope(s)
	}
	return ScopeGlobal
}

// WireKey 状态在网络上的键：GLOBAL_k、TEAM_<id>_k、PLAYER_<id>_k
func WireKey(scope Scope, owner, key string) string {
	switch scope {
	case ScopeTeam:
		return "TEAM_" + owner + "_" + key
	case ScopePlayer:
		return "PLAYER_" + owner + "_" + key
	}
	return "GLOBAL_" + key
}

type state = orderedmap.OrderedMap[string, any]

func newState() *state { return orderedmap.NewOrderedMap[string, any]() }

// Device 地图上一个有类型、有状态的交互对象
//
// 所有字段只在房间调度器协程中读写。
type Device struct {
	ID      string
	Type    string
	X, Y    float64
	Depth   float64
	Layer   string
	Options map[string]any

	// Custom 只对本设备上运行的脚本生效的自定义积木
	Custom blocks.Handlers

	behavior Behavior
	registry *Registry
	grids    []mapdata.CodeGrid

	global  *state
	teams   *orderedmap.OrderedMap[string, *state]
	players *orderedmap.OrderedMap[string, *state]

	colliders []physics.ColliderHandle
	timers    []*loop.Timer
	removed   bool
}

func newDevice(r *Registry, info mapdata.DeviceInfo) *Device {
	opts := info.Options
	if opts == nil {
		opts = map[string]any{}
	}
	return &Device{
		ID:       info.ID,
		Type:     info.DeviceID,
		X:        info.X,
		Y:        info.Y,
		Depth:    info.Depth,
		Layer:    info.Layer,
		Options:  opts,
		registry: r,
		global:   newState(),
		teams:    orderedmap.NewOrderedMap[string, *state](),
		players:  orderedmap.NewOrderedMap[string, *state](),
	}
}

func (d *Device) Registry() *Registry { return d.registry }

func (d *Device) Behavior() Behavior { return d.behavior }

// Removed 设备已从注册表移除
func (d *Device) Removed() bool { return d.removed }

func (d *Device) Position() mgl64.Vec2 { return mgl64.Vec2{d.X, d.Y} }

func (d *Device) info() mapdata.DeviceInfo {
	return mapdata.DeviceInfo{
		ID: d.ID, X: d.X, Y: d.Y, Depth: d.Depth,
		Layer: d.Layer, DeviceID: d.Type, Options: d.Options,
	}
}

func (d *Device) bucket(scope Scope, owner string, create bool) *state {
	var set *orderedmap.OrderedMap[string, *state]
	switch scope {
	case ScopeTeam:
		set = d.teams
	case ScopePlayer:
		set = d.players
	default:
		return d.global
	}
	st, ok := set.Get(owner)
	if !ok && create {
		st = newState()
		set.Set(owner, st)
	}
	return st
}

// State 读取状态；owner 为队伍或玩家 id，global 时忽略
func (d *Device) State(scope Scope, owner, key string) (any, bool) {
	st := d.bucket(scope, owner, false)
	if st == nil {
		return nil, false
	}
	return st.Get(key)
}

// UpdateState 修改设备状态的唯一途径，变更进入注册表的待广播缓冲
func (d *Device) UpdateState(scope Scope, owner, key string, value any) {
	if d.removed {
		return
	}
	value = wireValue(value)
	d.bucket(scope, owner, true).Set(key, value)
	d.registry.addChange(d.ID, WireKey(scope, owner, key), value)
}

// wireValue NaN 与 ±Inf 无法编码为 JSON，按 null 存储
func wireValue(v any) any {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return nil
		}
	case float32:
		if math.IsNaN(float64(n)) || math.IsInf(float64(n), 0) {
			return nil
		}
	}
	return v
}

func (d *Device) UpdateGlobal(key string, value any) { d.UpdateState(ScopeGlobal, "", key, value) }

func (d *Device) UpdateTeam(team, key string, value any) { d.UpdateState(ScopeTeam, team, key, value) }

func (d *Device) UpdatePlayer(player, key string, value any) {
	d.UpdateState(ScopePlayer, player, key, value)
}

// UpdateForAll 按范围对所有已连接玩家（或其队伍）写入同一个值
func (d *Device) UpdateForAll(scope Scope, key string, value any) {
	switch scope {
	case ScopeTeam:
		seen := map[string]bool{}
		for _, p := range d.registry.host.Players() {
			if team := p.TeamID(); !seen[team] {
				seen[team] = true
				d.UpdateTeam(team, key, value)
			}
		}
	case ScopePlayer:
		for _, p := range d.registry.host.Players() {
			d.UpdatePlayer(p.ID(), key, value)
		}
	default:
		d.UpdateGlobal(key, value)
	}
}

// ScopedState 按范围读取 actor 可见的状态
func (d *Device) ScopedState(scope Scope, actor Player, key string) (any, bool) {
	switch scope {
	case ScopeTeam:
		if actor == nil {
			return nil, false
		}
		return d.State(ScopeTeam, actor.TeamID(), key)
	case ScopePlayer:
		if actor == nil {
			return nil, false
		}
		return d.State(ScopePlayer, actor.ID(), key)
	}
	return d.State(ScopeGlobal, "", key)
}

// SetScoped 按范围写入 actor 可见的状态；非 global 且没有 actor 时忽略
func (d *Device) SetScoped(scope Scope, actor Player, key string, value any) {
	switch scope {
	case ScopeTeam:
		if actor != nil {
			d.UpdateTeam(actor.TeamID(), key, value)
		}
	case ScopePlayer:
		if actor != nil {
			d.UpdatePlayer(actor.ID(), key, value)
		}
	default:
		d.UpdateGlobal(key, value)
	}
}

// clearState 恢复前清空全部可变状态
func (d *Device) clearState() {
	d.global = newState()
	d.teams = orderedmap.NewOrderedMap[string, *state]()
	d.players = orderedmap.NewOrderedMap[string, *state]()
}

func (d *Device) forgetPlayer(id string) { d.players.Delete(id) }

// stateChanges 以网络键展开的完整状态，顺序为 global、team、player
func (d *Device) stateChanges() [][2]any {
	var out [][2]any
	for el := d.global.Front(); el != nil; el = el.Next() {
		out = append(out, [2]any{WireKey(ScopeGlobal, "", el.Key), el.Value})
	}
	for _, set := range []struct {
		scope Scope
		m     *orderedmap.OrderedMap[string, *state]
	}{{ScopeTeam, d.teams}, {ScopePlayer, d.players}} {
		for owner := set.m.Front(); owner != nil; owner = owner.Next() {
			for el := owner.Value.Front(); el != nil; el = el.Next() {
				out = append(out, [2]any{WireKey(set.scope, owner.Key, el.Key), el.Value})
			}
		}
	}
	return out
}

// TriggerWire 沿本设备以 connection 为起点的连线触发下游设备
func (d *Device) TriggerWire(connection string, actor Player) {
	d.registry.TriggerWire(d, connection, actor)
}

// TriggerChannel 在频道上广播
func (d *Device) TriggerChannel(channel string, actor Player) {
	d.registry.TriggerChannel(channel, actor)
}

// TriggerBlock 执行触发类型匹配的代码格
func (d *Device) TriggerBlock(trigger string, actor Player, value string) {
	d.registry.triggerBlock(d, trigger, actor, value, nil)
}

// TriggerBlockWith 同 TriggerBlock，handlers 只对这次触发生效并优先于设备级自定义积木
func (d *Device) TriggerBlockWith(trigger string, actor Player, value string, handlers blocks.Lookup) {
	d.registry.triggerBlock(d, trigger, actor, value, handlers)
}

// After 通过房间调度器延迟执行；设备移除时未到期的定时器一并取消
func (d *Device) After(delay time.Duration, fn func()) *loop.Timer {
	tm := d.registry.loop.AfterFunc(delay, func() {
		if d.removed {
			return
		}
		d.registry.safely(d, "timer", fn)
	})
	d.timers = append(lo.Filter(d.timers, func(t *loop.Timer, _ int) bool { return t.Pending() }), tm)
	return tm
}

// AddCollider 在设备坐标系下创建静态碰撞体，由设备自己负责释放
func (d *Device) AddCollider(shape physics.Shape) physics.ColliderHandle {
	shape.Center = shape.Center.Add(d.Position())
	h := d.registry.space.CreateStaticCollider(shape)
	d.colliders = append(d.colliders, h)
	return h
}

// ReleaseColliders 释放设备持有的全部碰撞体与命中回调
func (d *Device) ReleaseColliders() {
	for _, h := range d.colliders {
		d.registry.space.DeregisterHitCallback(h)
		d.registry.space.RemoveCollider(h)
	}
	d.colliders = nil
}

func (d *Device) Colliders() []physics.ColliderHandle { return d.colliders }

func (d *Device) stopTimers() {
	for _, tm := range d.timers {
		tm.Stop()
	}
	d.timers = nil
}

// optionKeys 选项键按字典序，保证编码稳定
func (d *Device) optionKeys() []string {
	keys := make([]string, 0, len(d.Options))
	for k := range d.Options {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
