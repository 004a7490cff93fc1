package server

import (
	"encoding/json"

	"github.com/samber/lo"
)

// Handler 入站消息处理器，在房间调度器协程中调用
type Handler func(p *Player, payload json.RawMessage)

type subscription struct {
	id     uint64
	player PlayerID // 为空表示对所有玩家生效
	fn     Handler
}

// Dispatcher 按消息类型分发的处理表
//
// 同一类型先调用房间级处理器，再调用只对某个玩家生效的处理器，各自按注册顺序。
// 只在房间调度器协程中使用。
type Dispatcher struct {
	next uint64
	subs map[string][]subscription
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{subs: make(map[string][]subscription)}
}

// On 注册房间级处理器，返回取消函数
func (d *Dispatcher) On(typ string, fn Handler) (unsubscribe func()) {
	return d.add(typ, "", fn)
}

// OnFor 注册只处理 player 消息的处理器；玩家离开时应取消
func (d *Dispatcher) OnFor(player PlayerID, typ string, fn Handler) (unsubscribe func()) {
	return d.add(typ, player, fn)
}

func (d *Dispatcher) add(typ string, player PlayerID, fn Handler) func() {
	d.next++
	id := d.next
	d.subs[typ] = append(d.subs[typ], subscription{id: id, player: player, fn: fn})
	return func() {
		rest := lo.Reject(d.subs[typ], func(s subscription, _ int) bool { return s.id == id })
		if len(rest) == 0 {
			delete(d.subs, typ)
			return
		}
		d.subs[typ] = rest
	}
}

// Dispatch 返回是否有处理器接收了该消息
func (d *Dispatcher) Dispatch(p *Player, typ string, payload json.RawMessage) bool {
	subs := d.subs[typ]
	if len(subs) == 0 {
		return false
	}
	// 处理器可能在分发过程中取消订阅，先取快照
	snapshot := append([]subscription(nil), subs...)
	handled := false
	for _, global := range []bool{true, false} {
		for _, s := range snapshot {
			if (s.player == "") != global {
				continue
			}
			if !global && (p == nil || s.player != p.id) {
				continue
			}
			s.fn(p, payload)
			handled = true
		}
	}
	return handled
}

// Count 某类型当前的处理器数量
func (d *Dispatcher) Count(typ string) int { return len(d.subs[typ]) }
