package server

import (
	"time"

	"go.uber.org/atomic"
)

// RoomMetrics 记录房间运行期的关键指标（用于监控与调试）
//
// 同时作为设备注册表与地形的 Observer。
type RoomMetrics struct {
	TickCount         atomic.Int64 // 统计的 Tick 次数
	MessagesAccepted  atomic.Int64 // 被接受的入站消息数
	RateLimited       atomic.Int64 // 因限速被拒绝的消息数
	UnknownMessages   atomic.Int64 // 没有处理器的消息类型
	ChanFullDiscarded atomic.Int64 // 因调度队列满被丢弃的消息数
	DeviceFlushes     atomic.Int64
	DevicesChanged    atomic.Int64
	TerrainFlushes    atomic.Int64
	HookFailures      atomic.Int64
	SignalsDropped    atomic.Int64
	TotalTickNs       atomic.Int64 // Tick 累计耗时（纳秒）
}

func (m *RoomMetrics) IncAccepted()          { m.MessagesAccepted.Inc() }
func (m *RoomMetrics) IncRateLimited()       { m.RateLimited.Inc() }
func (m *RoomMetrics) IncUnknown()           { m.UnknownMessages.Inc() }
func (m *RoomMetrics) IncChanFullDiscarded() { m.ChanFullDiscarded.Inc() }
func (m *RoomMetrics) AddTick(d time.Duration) {
	m.TickCount.Inc()
	m.TotalTickNs.Add(d.Nanoseconds())
}

func (m *RoomMetrics) DevicesFlushed(changed, _, _ int) {
	m.DeviceFlushes.Inc()
	m.DevicesChanged.Add(int64(changed))
}

func (m *RoomMetrics) HookFailed(string, string) { m.HookFailures.Inc() }

func (m *RoomMetrics) SignalDropped(string) { m.SignalsDropped.Inc() }

func (m *RoomMetrics) TerrainFlushed(int, int, int) { m.TerrainFlushes.Inc() }

// Snapshot 返回只读副本，便于 HTTP 输出
func (m *RoomMetrics) Snapshot() map[string]any {
	tick := m.TickCount.Load()
	total := m.TotalTickNs.Load()
	var avgMs float64
	if tick > 0 {
		avgMs = float64(total) / float64(tick) / 1e6
	}
	return map[string]any{
		"tick_count":          tick,
		"messages_accepted":   m.MessagesAccepted.Load(),
		"rate_limited":        m.RateLimited.Load(),
		"unknown_messages":    m.UnknownMessages.Load(),
		"chan_full_discarded": m.ChanFullDiscarded.Load(),
		"device_flushes":      m.DeviceFlushes.Load(),
		"devices_changed":     m.DevicesChanged.Load(),
		"terrain_flushes":     m.TerrainFlushes.Load(),
		"hook_failures":       m.HookFailures.Load(),
		"signals_dropped":     m.SignalsDropped.Load(),
		"avg_tick_ms":         avgMs,
	}
}
