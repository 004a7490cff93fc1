package devices

import (
	"math/rand"

	"devicearena/blocks"
)

// scriptEnv 代码格运行时看到的世界
type scriptEnv struct {
	r     *Registry
	d     *Device
	actor Player
}

func (e *scriptEnv) Actor() blocks.Actor {
	if e.actor == nil {
		return nil
	}
	return e.actor
}

func (e *scriptEnv) TriggerChannel(channel string) { e.r.TriggerChannel(channel, e.actor) }

func (e *scriptEnv) ActivityFeed(target blocks.FeedTarget, text string) {
	e.r.host.ActivityFeed(target, e.actor, text)
}

// Property 优先读取同名属性设备，按其范围取 actor 可见的值
func (e *scriptEnv) Property(name string) blocks.Value {
	if d := e.r.propertyDevice(name); d != nil {
		v, _ := d.ScopedState(d.OptScope("scope"), e.actor, propertyValueKey)
		return v
	}
	return e.r.Property(name)
}

func (e *scriptEnv) SetProperty(name string, v blocks.Value) {
	if d := e.r.propertyDevice(name); d != nil {
		d.SetScoped(d.OptScope("scope"), e.actor, propertyValueKey, v)
		return
	}
	e.r.SetProperty(name, v)
}

func (e *scriptEnv) TeamScore(teamID string) float64 { return e.r.host.TeamScore(teamID) }

func (e *scriptEnv) SecondsIntoGame() float64 { return e.r.host.SecondsIntoGame() }

func (e *scriptEnv) IsLiveGame() bool { return true }

func (e *scriptEnv) Rand() *rand.Rand { return e.r.rnd }
