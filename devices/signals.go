package devices

import (
	"fmt"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"

	"devicearena/blocks"
)

// cascade 一次顶层触发（玩家动作、计时器）引发的全部频道/连线分发
type cascade struct {
	depth      int
	dispatched int
}

// enter 预算耗尽时返回 ok=false，本次分发被丢弃
func (r *Registry) enter(kind, name string) (leave func(), ok bool) {
	top := r.cascade == nil
	if top {
		r.cascade = &cascade{}
	}
	c := r.cascade
	if c.depth >= r.budget.MaxDepth || c.dispatched >= r.budget.MaxDispatches {
		r.log.Warn("signal dropped: cascade budget exhausted",
			zap.String("kind", kind), zap.String("name", name),
			zap.Int("depth", c.depth), zap.Int("dispatched", c.dispatched))
		r.obs.SignalDropped(kind)
		if top {
			r.cascade = nil
		}
		return nil, false
	}
	c.depth++
	c.dispatched++
	return func() {
		c.depth--
		if top {
			r.cascade = nil
		}
	}, true
}

// TriggerChannel 在频道上广播：按注册顺序调用每个设备的 OnChannel，
// 并执行门控在该频道上的代码格。空频道是无操作。
//
// 广播开始时对设备列表取快照：级联中新建的设备收不到本次广播，已移除的设备被跳过。
func (r *Registry) TriggerChannel(channel string, actor Player) {
	if channel == "" {
		return
	}
	leave, ok := r.enter("channel", channel)
	if !ok {
		return
	}
	defer leave()

	for _, d := range r.Devices() {
		if d.removed {
			continue
		}
		r.safely(d, "onChannel", func() { d.behavior.OnChannel(channel, actor) })
		if d.removed {
			continue
		}
		r.triggerBlock(d, ChannelTrigger, actor, channel, nil)
	}
}

// TriggerWire 按 id 解析 from 上起点为 connection 的连线，调用终点设备的 OnWire
func (r *Registry) TriggerWire(from *Device, connection string, actor Player) {
	if from == nil {
		return
	}
	wires := r.wires[from.ID]
	if len(wires) == 0 {
		return
	}
	leave, ok := r.enter("wire", from.ID+"/"+connection)
	if !ok {
		return
	}
	defer leave()

	for _, w := range wires {
		if w.StartConnection != connection {
			continue
		}
		target := r.byID[w.EndDevice]
		if target == nil {
			continue
		}
		end := w.EndConnection
		r.safely(target, "onWire", func() { target.behavior.OnWire(end, actor) })
	}
}

// ChannelTrigger 门控在频道上的代码格的触发类型；channel_radio 是旧地图的写法
const ChannelTrigger = "channel"

func triggerMatches(gridType, trigger string) bool {
	if gridType == trigger {
		return true
	}
	return trigger == ChannelTrigger && gridType == "channel_radio"
}

func (r *Registry) triggerBlock(d *Device, trigger string, actor Player, value string, extra blocks.Lookup) {
	if len(d.grids) == 0 {
		return
	}
	lookup := blocks.Chain{extra, d.Custom}
	for i := range d.grids {
		g := &d.grids[i]
		if !triggerMatches(g.TriggerType, trigger) {
			continue
		}
		if value != "" && g.TriggerValue != value {
			continue
		}
		env := &scriptEnv{r: r, d: d, actor: actor}
		r.safely(d, "grid:"+trigger, func() { blocks.RunWorkspace(&g.JSON, lookup, env) })
	}
}

// safely 隔离单个设备钩子的 panic：记录、计数并上报，不影响同一回合中其他设备
func (r *Registry) safely(d *Device, hook string, fn func()) (ok bool) {
	defer func() {
		p := recover()
		if p == nil {
			return
		}
		ok = false
		r.log.Error("device hook panic",
			zap.String("device", d.ID), zap.String("type", d.Type), zap.String("hook", hook),
			zap.Any("panic", p), zap.Stack("stack"))
		r.obs.HookFailed(d.Type, hook)

		hub := sentry.CurrentHub().Clone()
		hub.ConfigureScope(func(scope *sentry.Scope) {
			scope.SetTag("device", d.ID)
			scope.SetTag("device_type", d.Type)
			scope.SetTag("hook", hook)
		})
		hub.Recover(fmt.Errorf("device %s hook %s: %v", d.ID, hook, p))
	}()
	fn()
	return true
}
