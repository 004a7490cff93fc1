package server

import (
	"sort"
	"time"
)

const (
	// TicksPerSecond 未配置时的世界推进频率（20 TPS）
	TicksPerSecond = 20
)

// PlayerState 为广播给客户端的轻量位置状态
type PlayerState struct {
	ID string  `json:"id"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
}

// StartTicker 启动房间的 Tick 循环；每个 Tick 作为一个回合投递给调度器
func (r *Room) StartTicker() {
	if r.tickerStarted {
		return
	}
	r.tickerStarted = true
	interval := time.Second / time.Duration(r.tickRate())
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.ctx.Done():
				return
			case <-ticker.C:
			}
			// 调度器繁忙时跳过本次 Tick，不堆积
			r.loop.TryPost(func() {
				start := time.Now()
				r.BeginTick()
				r.BroadcastDelta()
				r.metrics.AddTick(time.Since(start))
			})
		}
	}()
}

// BeginTick 推进游戏时间
func (r *Room) BeginTick() { r.tickSeq.Inc() }

// BroadcastDelta 广播上个 Tick 以来位置变化的玩家
func (r *Room) BroadcastDelta() {
	if len(r.moved) == 0 {
		return
	}
	states := make([]PlayerState, 0, len(r.moved))
	for id := range r.moved {
		if p := r.players[id]; p != nil {
			states = append(states, PlayerState{ID: string(id), X: p.pos.X(), Y: p.pos.Y()})
		}
	}
	r.moved = make(map[PlayerID]bool)
	if len(states) == 0 {
		return
	}
	sort.Slice(states, func(i, j int) bool { return states[i].ID < states[j].ID })
	r.Broadcast(MsgPlayerPositions, states)
}
