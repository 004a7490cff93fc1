package devices

import (
	"context"
	"encoding/json"
	"math"
	"strings"
	"testing"

	"devicearena/mapdata"
)

func TestCoalescesChangesInOneTurn(t *testing.T) {
	f := newFixture(t, &mapdata.Map{Devices: []mapdata.DeviceInfo{device("a", "passive", nil)}})
	f.boot(t)
	a := f.reg.FindByID("a")

	f.turn(func() {
		for i := 1; i <= 5; i++ {
			a.UpdateGlobal("count", i)
		}
		a.UpdatePlayer("p1", "count", 9)
	})

	msgs := f.host.of(MsgStateChanges)
	if len(msgs) != 1 {
		t.Fatalf("got %d state broadcasts, want 1", len(msgs))
	}
	sc := msgs[0].(StateChanges)
	if len(sc.Changes) != 1 || sc.Changes[0][0] != "a" {
		t.Fatalf("changes = %+v", sc.Changes)
	}
	keys, vals := sc.Changes[0][1].([]int), sc.Changes[0][2].([]any)
	if len(keys) != 2 || sc.Values[keys[0]] != "GLOBAL_count" || sc.Values[keys[1]] != "PLAYER_p1_count" {
		t.Fatalf("keys = %v values = %v", keys, sc.Values)
	}
	if vals[0] != 5 || vals[1] != 9 {
		t.Fatalf("vals = %v, want final values", vals)
	}

	f.turn(func() {})
	if n := len(f.host.of(MsgStateChanges)); n != 1 {
		t.Fatalf("idle turn broadcast again: %d", n)
	}
}

func TestChangesBeforeBootAreNotBroadcast(t *testing.T) {
	f := newFixture(t, &mapdata.Map{Devices: []mapdata.DeviceInfo{device("a", "passive", nil)}})
	f.turn(func() { f.reg.FindByID("a").UpdateGlobal("x", 1) })
	if len(f.host.sent) != 0 {
		t.Fatalf("broadcast before boot: %+v", f.host.sent)
	}
	f.boot(t)
	f.turn(func() {})
	if len(f.host.sent) != 0 {
		t.Fatalf("boot-time changes leaked into a flush: %+v", f.host.sent)
	}
	if v, _ := f.reg.FindByID("a").State(ScopeGlobal, "", "x"); v != 1 {
		t.Fatalf("state lost: %v", v)
	}
}

func TestUnknownTypeFallsBackToPassive(t *testing.T) {
	f := newFixture(t, &mapdata.Map{Devices: []mapdata.DeviceInfo{device("x", "teleporter", nil)}})
	f.boot(t)
	if _, ok := f.reg.FindByID("x").Behavior().(Passive); !ok {
		t.Fatalf("behavior = %T", f.reg.FindByID("x").Behavior())
	}
	f.turn(func() { f.reg.TriggerChannel("anything", nil) })
}

func TestChannelFanOutOrder(t *testing.T) {
	m := &mapdata.Map{
		Devices: []mapdata.DeviceInfo{
			device("c", "listener", nil),
			device("a", "listener", nil),
			device("b", "listener", nil),
		},
		CodeGrids: map[string]map[string]mapdata.CodeGrid{
			"c": {"g1": recordGrid("channel", "go", "c1")},
			"a": {
				"g1": recordGrid("channel_radio", "go", "a1"),
				"g2": recordGrid("channel", "stop", "a2"),
				"g3": recordGrid("wire", "", "a3"),
			},
		},
	}
	f := newFixture(t, m)
	f.boot(t)
	f.turn(func() { f.reg.TriggerChannel("go", nil) })

	want := "c:channel:go,c:grid:c1,a:channel:go,a:grid:a1,b:channel:go"
	if got := strings.Join(f.log, ","); got != want {
		t.Fatalf("order = %s\nwant    %s", got, want)
	}

	f.log = nil
	f.turn(func() { f.reg.TriggerChannel("", nil) })
	if len(f.log) != 0 {
		t.Fatalf("empty channel dispatched: %v", f.log)
	}
}

func TestWireResolvesTargetsByID(t *testing.T) {
	m := &mapdata.Map{
		Devices: []mapdata.DeviceInfo{
			device("src", "listener", nil),
			device("dst", "listener", nil),
			device("other", "listener", nil),
		},
		Wires: []mapdata.Wire{
			{StartDevice: "src", StartConnection: "pressed", EndDevice: "dst", EndConnection: "open"},
			{StartDevice: "src", StartConnection: "released", EndDevice: "other", EndConnection: "close"},
			{StartDevice: "src", StartConnection: "pressed", EndDevice: "missing", EndConnection: "open"},
		},
	}
	f := newFixture(t, m)
	f.boot(t)
	src := f.reg.FindByID("src")

	f.turn(func() { src.TriggerWire("pressed", nil) })
	if got := strings.Join(f.log, ","); got != "dst:wire:open" {
		t.Fatalf("log = %s", got)
	}

	f.log = nil
	f.turn(func() {
		f.reg.Remove(f.reg.FindByID("dst"))
		src.TriggerWire("pressed", nil)
	})
	if len(f.log) != 0 {
		t.Fatalf("removed target still wired: %v", f.log)
	}

	// 同 id 重建后连线重新生效
	f.turn(func() {
		f.reg.Create(device("dst", "listener", nil), true)
		src.TriggerWire("pressed", nil)
	})
	if got := strings.Join(f.log, ","); got != "dst:wire:open" {
		t.Fatalf("log after recreate = %s", got)
	}
}

func TestAddedThenRemovedCollapses(t *testing.T) {
	f := newFixture(t, &mapdata.Map{Devices: []mapdata.DeviceInfo{device("a", "passive", nil)}})
	f.boot(t)

	f.turn(func() {
		d := f.reg.Create(device("temp", "droppedItem", map[string]any{"itemId": "energy", "amount": 3}), true)
		d.UpdateGlobal("amount", 2)
		f.reg.Remove(d)
		f.reg.Remove(d)
	})
	if len(f.host.sent) != 0 {
		t.Fatalf("collapsed add/remove still broadcast: %+v", f.host.sent)
	}
	if f.reg.FindByID("temp") != nil {
		t.Fatal("temp still registered")
	}

	// 跨窗口的新增与移除各自广播
	var d *Device
	f.turn(func() { d = f.reg.Create(device("temp", "passive", nil), true) })
	f.turn(func() { f.reg.Remove(d) })
	worlds := f.host.of(MsgWorldChanges)
	if len(worlds) != 2 {
		t.Fatalf("got %d world broadcasts, want 2", len(worlds))
	}
	added := worlds[0].(WorldChanges).Devices.AddedDevices.Devices
	removed := worlds[1].(WorldChanges).Devices.RemovedDevices
	if len(added) != 1 || added[0][0] != "temp" || len(removed) != 1 || removed[0] != "temp" {
		t.Fatalf("added=%v removed=%v", added, removed)
	}
}

func TestRemovalDuringCascade(t *testing.T) {
	m := &mapdata.Map{Devices: []mapdata.DeviceInfo{
		device("killer", "listener", nil),
		device("victim", "listener", nil),
		device("bystander", "listener", nil),
	}}
	f := newFixture(t, m)
	f.boot(t)
	killer := f.reg.FindByID("killer").Behavior().(*recorder)
	killer.onChannel = func(string, Player) {
		f.reg.Remove(f.reg.FindByID("victim"))
	}

	f.turn(func() {
		f.reg.FindByID("victim").UpdateGlobal("hp", 1)
		f.reg.TriggerChannel("boom", nil)
	})
	if got := strings.Join(f.log, ","); got != "killer:channel:boom,bystander:channel:boom" {
		t.Fatalf("log = %s", got)
	}
	for _, msg := range f.host.of(MsgStateChanges) {
		for _, c := range msg.(StateChanges).Changes {
			if c[0] == "victim" {
				t.Fatal("removed device still has pending changes")
			}
		}
	}
	worlds := f.host.of(MsgWorldChanges)
	if len(worlds) != 1 || worlds[0].(WorldChanges).Devices.RemovedDevices[0] != "victim" {
		t.Fatalf("world changes = %+v", worlds)
	}
}

func TestWorldChangesPrecedeStateChanges(t *testing.T) {
	f := newFixture(t, &mapdata.Map{})
	f.boot(t)
	f.turn(func() {
		f.reg.Create(device("drop", "droppedItem", map[string]any{"itemId": "energy", "amount": 4}), true)
	})
	if len(f.host.sent) != 2 || f.host.sent[0].typ != MsgWorldChanges || f.host.sent[1].typ != MsgStateChanges {
		t.Fatalf("sent = %+v", f.host.sent)
	}
	sc := f.host.sent[1].payload.(StateChanges)
	if len(sc.Changes) != 1 || sc.Changes[0][0] != "drop" {
		t.Fatalf("new device state missing: %+v", sc.Changes)
	}
}

func TestRestoreIsIdempotent(t *testing.T) {
	m := &mapdata.Map{
		Devices: []mapdata.DeviceInfo{
			device("btn", "button", map[string]any{"scope": "global", "activeOnStart": true}),
			device("prop", "prop", map[string]any{"propId": "crate", "UseColliders": true, "health": 50.0}),
			device("q", "gimkitLiveQuestion", nil),
		},
		Wires: []mapdata.Wire{{StartDevice: "q", StartConnection: "questionCorrect", EndDevice: "btn", EndConnection: "disable"}},
	}
	f := newFixture(t, m)
	do := runLoop(t, f.loop)
	do(func() { f.reg.Start(context.Background()) })
	<-f.reg.Ready()
	var baseline uint64
	do(func() { baseline = f.reg.Digest() })

	do(func() {
		f.reg.FindByID("btn").Behavior().OnWire("disable", nil)
		f.reg.Create(device("drop", "droppedItem", map[string]any{"itemId": "energy"}), true)
		f.reg.Remove(f.reg.FindByID("prop"))
	})
	if f.space.Colliders() != 0 {
		t.Fatalf("removed prop left %d colliders", f.space.Colliders())
	}

	var first, second uint64
	f.host.reset()
	do(func() {
		f.reg.RestoreAll()
		first = f.reg.Digest()
	})
	do(func() {
		f.reg.RestoreAll()
		second = f.reg.Digest()
	})
	if first != second || first != baseline {
		t.Fatalf("digests: baseline=%x first=%x second=%x", baseline, first, second)
	}
	if f.space.Colliders() != 1 {
		t.Fatalf("colliders after restore = %d, want 1", f.space.Colliders())
	}
	ids := make([]string, 0, 3)
	for _, d := range f.reg.Devices() {
		ids = append(ids, d.ID)
	}
	if strings.Join(ids, ",") != "btn,prop,q" {
		t.Fatalf("device order after restore = %v", ids)
	}

	states := f.host.of(MsgStateChanges)
	last := states[len(states)-1].(StateChanges)
	if strings.Join(last.RemovedIDs, ",") != "btn,prop,q" || len(last.Changes) != 3 {
		t.Fatalf("restore flush = %+v", last)
	}
}

func TestHookPanicIsIsolated(t *testing.T) {
	m := &mapdata.Map{Devices: []mapdata.DeviceInfo{
		device("first", "listener", nil),
		device("bomb", "listener", nil),
		device("last", "listener", nil),
	}}
	f := newFixture(t, m)
	f.boot(t)
	bomb := f.reg.FindByID("bomb")
	bomb.Behavior().(*recorder).onChannel = func(string, Player) {
		bomb.UpdateGlobal("armed", true)
		panic("kaboom")
	}

	f.turn(func() {
		f.reg.FindByID("first").UpdateGlobal("x", 1)
		f.reg.TriggerChannel("tick", nil)
	})
	if got := strings.Join(f.log, ","); got != "first:channel:tick,bomb:channel:tick,last:channel:tick" {
		t.Fatalf("log = %s", got)
	}
	if f.obs.hookFailures != 1 {
		t.Fatalf("hook failures = %d", f.obs.hookFailures)
	}
	msgs := f.host.of(MsgStateChanges)
	if len(msgs) != 1 || len(msgs[0].(StateChanges).Changes) != 2 {
		t.Fatalf("changes = %+v", msgs)
	}
}

func TestCascadeBudget(t *testing.T) {
	m := &mapdata.Map{Devices: []mapdata.DeviceInfo{device("echo", "listener", nil)}}
	f := newFixture(t, m, func(o *Options) { o.Signals.MaxDepth = 5 })
	f.boot(t)
	echo := f.reg.FindByID("echo")
	echo.Behavior().(*recorder).onChannel = func(ch string, actor Player) {
		f.reg.TriggerChannel(ch, actor)
	}

	f.turn(func() { f.reg.TriggerChannel("loop", nil) })
	if len(f.log) != 5 {
		t.Fatalf("onChannel ran %d times, want 5", len(f.log))
	}
	if f.obs.dropped != 1 {
		t.Fatalf("dropped = %d", f.obs.dropped)
	}

	// 预算按顶层触发计算，下一次触发重新开始
	f.log = nil
	f.turn(func() { f.reg.TriggerChannel("loop", nil) })
	if len(f.log) != 5 {
		t.Fatalf("second cascade ran %d times", len(f.log))
	}
}

func TestDispatchBudget(t *testing.T) {
	m := &mapdata.Map{
		Devices: []mapdata.DeviceInfo{device("a", "listener", nil), device("b", "listener", nil)},
		Wires: []mapdata.Wire{
			{StartDevice: "a", StartConnection: "out", EndDevice: "b", EndConnection: "in"},
		},
	}
	f := newFixture(t, m, func(o *Options) { o.Signals.MaxDispatches = 3 })
	f.boot(t)
	a := f.reg.FindByID("a")
	a.Behavior().(*recorder).onChannel = func(_ string, actor Player) {
		for i := 0; i < 5; i++ {
			a.TriggerWire("out", actor)
		}
	}
	f.turn(func() { f.reg.TriggerChannel("go", nil) })
	wires := 0
	for _, l := range f.log {
		if strings.HasSuffix(l, ":wire:in") {
			wires++
		}
	}
	if wires != 2 || f.obs.dropped != 3 {
		t.Fatalf("wires=%d dropped=%d", wires, f.obs.dropped)
	}
}

func TestJoinRunsOnJoinAndLeaveForgetsPlayer(t *testing.T) {
	m := &mapdata.Map{Devices: []mapdata.DeviceInfo{
		device("btn", "button", map[string]any{"scope": "player", "activeOnStart": false}),
	}}
	f := newFixture(t, m)
	f.boot(t)
	p := newPlayer("p1", "t1")
	f.turn(func() { f.reg.Join(p) })
	btn := f.reg.FindByID("btn")
	if v, ok := btn.State(ScopePlayer, "p1", "active"); !ok || v != false {
		t.Fatalf("player state = %v %v", v, ok)
	}
	f.turn(func() { f.reg.Leave(p) })
	if _, ok := btn.State(ScopePlayer, "p1", "active"); ok {
		t.Fatal("player state kept after leave")
	}
}

func TestUIPresence(t *testing.T) {
	f := newFixture(t, &mapdata.Map{Devices: []mapdata.DeviceInfo{device("q", "passive", nil)}})
	f.boot(t)
	p := newPlayer("p1", "t1")
	f.turn(func() {
		if !f.reg.HandleUIPresence(p, "OPEN", "q") {
			t.Error("device not found")
		}
	})
	if p.openUI != "q" {
		t.Fatalf("openUI = %q", p.openUI)
	}
	f.turn(func() { f.reg.HandleUIPresence(p, "CLOSE", "q") })
	if p.openUI != "" {
		t.Fatalf("openUI = %q", p.openUI)
	}
	if f.reg.HandleUIPresence(p, "OPEN", "missing") {
		t.Fatal("missing device reported found")
	}
}

func TestNonFiniteValuesDoNotBlockFlush(t *testing.T) {
	f := newFixture(t, &mapdata.Map{Devices: []mapdata.DeviceInfo{
		device("a", "passive", nil),
		device("b", "passive", nil),
	}})
	f.boot(t)

	f.turn(func() {
		f.reg.FindByID("a").UpdateGlobal("score", math.NaN())
		f.reg.FindByID("a").UpdatePlayer("p1", "best", math.Inf(1))
		f.reg.FindByID("b").UpdateGlobal("active", true)
	})

	msgs := f.host.of(MsgStateChanges)
	if len(msgs) != 1 {
		t.Fatalf("got %d state broadcasts, want 1", len(msgs))
	}
	sc := msgs[0].(StateChanges)
	if len(sc.Changes) != 2 {
		t.Fatalf("changes = %+v", sc.Changes)
	}
	if vals := sc.Changes[0][2].([]any); vals[0] != nil || vals[1] != nil {
		t.Fatalf("non-finite values = %v, want null", vals)
	}
	if _, err := json.Marshal(sc); err != nil {
		t.Fatalf("flush not encodable: %v", err)
	}
	if _, err := json.Marshal(f.reg.InitialChanges()); err != nil {
		t.Fatalf("snapshot not encodable: %v", err)
	}
}

// sweeper 的 Restore 移除 target 设备
type sweeper struct {
	Passive
	d      *Device
	target string
	armed  *bool
}

func (s *sweeper) Restore() {
	if *s.armed {
		s.d.Registry().Remove(s.d.Registry().FindByID(s.target))
	}
}

type restoreCounter struct {
	Passive
	d *Device
	n *int
}

func (c *restoreCounter) Restore() {
	*c.n++
	c.d.UpdateGlobal("restored", *c.n)
}

func TestRestoreSkipsDevicesRemovedByEarlierHooks(t *testing.T) {
	armed, restores := false, 0
	m := &mapdata.Map{Devices: []mapdata.DeviceInfo{
		device("sweeper", "sweeper", nil),
		device("victim", "counter", nil),
	}}
	f := newFixture(t, m, func(o *Options) {
		o.Factory["sweeper"] = func(d *Device) Behavior { return &sweeper{d: d, target: "victim", armed: &armed} }
		o.Factory["counter"] = func(d *Device) Behavior { return &restoreCounter{d: d, n: &restores} }
	})
	f.boot(t)
	armed, restores = true, 0

	f.turn(func() { f.reg.RestoreAll() })

	if f.reg.FindByID("victim") != nil {
		t.Fatal("victim not removed")
	}
	if restores != 0 {
		t.Fatalf("removed device restored %d times", restores)
	}
	for _, msg := range f.host.of(MsgStateChanges) {
		for _, c := range msg.(StateChanges).Changes {
			if c[0] == "victim" {
				t.Fatalf("change staged for removed device: %+v", c)
			}
		}
	}
}
