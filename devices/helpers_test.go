package devices

import (
	"context"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"devicearena/blocks"
	"devicearena/config"
	"devicearena/loop"
	"devicearena/mapdata"
	"devicearena/physics"
)

type sentMsg struct {
	typ     string
	payload any
}

type fakeHost struct {
	players []Player
	sent    []sentMsg
	feed    []string
}

func (h *fakeHost) Players() []Player { return h.players }

func (h *fakeHost) Broadcast(typ string, payload any) {
	h.sent = append(h.sent, sentMsg{typ, payload})
}

func (h *fakeHost) ActivityFeed(_ blocks.FeedTarget, _ Player, text string) {
	h.feed = append(h.feed, text)
}

func (h *fakeHost) TeamScore(string) float64 { return 0 }

func (h *fakeHost) SecondsIntoGame() float64 { return 0 }

func (h *fakeHost) of(typ string) []any {
	var out []any
	for _, m := range h.sent {
		if m.typ == typ {
			out = append(out, m.payload)
		}
	}
	return out
}

func (h *fakeHost) reset() { h.sent = nil }

type fakePlayer struct {
	id, name, team string
	pos            mgl64.Vec2
	capacity       int
	items          map[string]int
	openUI         string
}

func newPlayer(id, team string) *fakePlayer {
	return &fakePlayer{id: id, name: "name-" + id, team: team, capacity: 1 << 30, items: map[string]int{}}
}

func (p *fakePlayer) ID() string                { return p.id }
func (p *fakePlayer) Name() string              { return p.name }
func (p *fakePlayer) TeamID() string            { return p.team }
func (p *fakePlayer) Score() float64            { return 0 }
func (p *fakePlayer) Position() mgl64.Vec2      { return p.pos }
func (p *fakePlayer) SetOpenDeviceUI(id string) { p.openUI = id }
func (p *fakePlayer) Send(string, any)          {}

func (p *fakePlayer) AddItem(id string, amount, _ int) int {
	room := p.capacity - p.items[id]
	if amount <= room {
		p.items[id] += amount
		return 0
	}
	p.items[id] += room
	return amount - room
}

type countingObserver struct {
	flushes, hookFailures, dropped int
}

func (o *countingObserver) DevicesFlushed(int, int, int) { o.flushes++ }
func (o *countingObserver) HookFailed(string, string)    { o.hookFailures++ }
func (o *countingObserver) SignalDropped(string)         { o.dropped++ }

// recorder 记录每个钩子的调用，type 为 "listener"
type recorder struct {
	Passive
	d   *Device
	log *[]string
	// onChannel 可选的额外行为
	onChannel func(channel string, actor Player)
}

func (rc *recorder) OnChannel(channel string, actor Player) {
	*rc.log = append(*rc.log, rc.d.ID+":channel:"+channel)
	if rc.onChannel != nil {
		rc.onChannel(channel, actor)
	}
}

func (rc *recorder) OnWire(connection string, _ Player) {
	*rc.log = append(*rc.log, rc.d.ID+":wire:"+connection)
}

type fixture struct {
	reg   *Registry
	host  *fakeHost
	loop  *loop.Loop
	space *physics.World
	obs   *countingObserver
	log   []string
}

type fixtureOption func(*Options)

func newFixture(t *testing.T, m *mapdata.Map, opts ...fixtureOption) *fixture {
	t.Helper()
	f := &fixture{
		host:  &fakeHost{},
		loop:  loop.New(64, nil),
		space: physics.NewWorld(),
		obs:   &countingObserver{},
	}
	factory := DefaultFactory()
	factory["listener"] = func(d *Device) Behavior {
		d.Custom = blocks.Handlers{"record": func(c *blocks.Call) blocks.Value {
			f.log = append(f.log, d.ID+":grid:"+blocks.ToText(c.Run("VALUE")))
			return nil
		}}
		return &recorder{d: d, log: &f.log}
	}
	o := Options{
		Map:      m,
		Host:     f.host,
		Loop:     f.loop,
		Space:    f.space,
		Factory:  factory,
		Tables:   config.DefaultTables(),
		Observer: f.obs,
		Signals:  config.Signals{MaxDepth: 16, MaxDispatches: 256},
	}
	for _, fn := range opts {
		fn(&o)
	}
	f.reg = New(o)
	return f
}

// boot 没有 Loader 设备时同步开机
func (f *fixture) boot(t *testing.T) {
	t.Helper()
	f.loop.Turn(func() { f.reg.Start(context.Background()) })
	select {
	case <-f.reg.Ready():
	default:
		t.Fatal("registry not ready after synchronous boot")
	}
	f.host.reset()
}

// turn 执行一个回合（含回合末尾的刷新）
func (f *fixture) turn(fn func()) { f.loop.Turn(fn) }

func device(id, typ string, opts map[string]any) mapdata.DeviceInfo {
	return mapdata.DeviceInfo{ID: id, DeviceID: typ, Layer: "DepthSortedCharactersAndDevices", Options: opts}
}

// recordGrid 触发时执行 record(text) 积木的代码格
func recordGrid(trigger, value, text string) mapdata.CodeGrid {
	return mapdata.CodeGrid{
		TriggerType:  trigger,
		TriggerValue: value,
		JSON: blocks.Workspace{Blocks: blocks.TopBlocks{Blocks: []*blocks.Block{{
			Type: "record",
			Inputs: map[string]*blocks.Input{
				"VALUE": {Block: &blocks.Block{Type: "text", Fields: map[string]any{"TEXT": text}}},
			},
		}}}},
	}
}

// runLoop 在后台运行调度器，do 把 fn 作为一个回合投递并等待回合（含刷新）结束
func runLoop(t *testing.T, l *loop.Loop) (do func(fn func())) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	t.Cleanup(cancel)
	return func(fn func()) {
		done := make(chan struct{})
		if !l.Post(func() {
			fn()
			l.Defer(func() { close(done) })
		}) {
			t.Fatal("loop stopped")
		}
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("turn timed out")
		}
	}
}
