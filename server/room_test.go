package server

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"devicearena/config"
	"devicearena/devices"
	"devicearena/mapdata"
	"devicearena/terrain"
)

type sentEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// fakeOutbox 记录发给玩家的全部消息
type fakeOutbox struct {
	mu     sync.Mutex
	msgs   []sentEnvelope
	closed bool
}

func (o *fakeOutbox) Enqueue(b []byte) {
	var env sentEnvelope
	_ = json.Unmarshal(b, &env)
	o.mu.Lock()
	o.msgs = append(o.msgs, env)
	o.mu.Unlock()
}

func (o *fakeOutbox) Close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
}

func (o *fakeOutbox) types() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, len(o.msgs))
	for i, m := range o.msgs {
		out[i] = m.Type
	}
	return out
}

func (o *fakeOutbox) of(typ string) []json.RawMessage {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []json.RawMessage
	for _, m := range o.msgs {
		if m.Type == typ {
			out = append(out, m.Payload)
		}
	}
	return out
}

func (o *fakeOutbox) reset() {
	o.mu.Lock()
	o.msgs = nil
	o.mu.Unlock()
}

func testConfig() config.Config {
	cfg := config.Defaults()
	cfg.Tables.Gadgets[0].ReloadTimeMs = 50
	return cfg
}

func startRoom(t *testing.T, cfg config.Config, m *mapdata.Map) *Room {
	t.Helper()
	r := NewRoom("test", RoomOptions{Config: cfg, Map: m, Seed: 1})
	r.Start()
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func join(t *testing.T, r *Room, id string) (*Player, *fakeOutbox) {
	t.Helper()
	out := &fakeOutbox{}
	p := r.AddPlayer(PlayerID(id), id, "1", out)
	waitFor(t, r, func() bool { return r.players[p.id] == p })
	return p, out
}

// waitFor 在调度器中轮询条件
func waitFor(t *testing.T, r *Room, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		ok := false
		if err := r.Do(func() { ok = cond() }); err != nil {
			t.Fatalf("room: %v", err)
		}
		if ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

// send 投递一条客户端消息并等待其回合结束
func send(t *testing.T, r *Room, p *Player, typ string, payload any) {
	t.Helper()
	raw, err := json.Marshal(map[string]any{"type": typ, "payload": payload})
	if err != nil {
		t.Fatal(err)
	}
	r.HandleRaw(p, raw)
	if err := r.Do(func() {}); err != nil {
		t.Fatalf("room: %v", err)
	}
}

func TestInitialWorldOrder(t *testing.T) {
	m := &mapdata.Map{Tiles: []mapdata.Tile{{X: 0, Y: 0, Terrain: "grass"}}}
	r := startRoom(t, testConfig(), m)
	p, out := join(t, r, "p1")
	out.reset()

	send(t, r, p, MsgRequestInitialWorld, nil)

	got := out.types()
	want := []string{devices.MsgStateChanges, terrain.MsgTerrainChanges, devices.MsgWorldChanges}
	if len(got) != len(want) {
		t.Fatalf("types = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("types = %v, want %v", got, want)
		}
	}
}

func TestJoinWaitsForDevices(t *testing.T) {
	r := NewRoom("test", RoomOptions{Config: testConfig()})
	out := &fakeOutbox{}
	p := r.AddPlayer("p1", "p1", "1", out)
	r.Start()
	t.Cleanup(func() { _ = r.Close() })

	waitFor(t, r, func() bool { return r.players[p.id] == p })
	if len(out.of(MsgInventory)) == 0 {
		t.Fatal("joined player did not receive inventory")
	}
	if r.host != p.id {
		t.Fatalf("host = %q", r.host)
	}
}

func TestRateLimitAndUnknownMessages(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit = config.RateLimit{PerSecond: 0.001, Burst: 2}
	r := startRoom(t, cfg, nil)
	p, _ := join(t, r, "p1")

	for i := 0; i < 5; i++ {
		send(t, r, p, "NOT_A_MESSAGE", nil)
	}
	if got := r.metrics.RateLimited.Load(); got != 3 {
		t.Fatalf("rate limited = %d, want 3", got)
	}
	if got := r.metrics.UnknownMessages.Load(); got != 2 {
		t.Fatalf("unknown = %d, want 2", got)
	}
}

func TestDropItemSpawnsDevice(t *testing.T) {
	r := startRoom(t, testConfig(), nil)
	p, out := join(t, r, "p1")
	if err := r.Do(func() { p.AddItem("medpack", 3, 0) }); err != nil {
		t.Fatal(err)
	}
	send(t, r, p, MsgMove, move{X: 100, Y: 200})
	send(t, r, p, MsgDropItem, dropItem{ItemID: "medpack", Amount: 2})

	var (
		n    int
		left int
		dev  *devices.Device
	)
	_ = r.Do(func() {
		found := r.devices.FindByType("droppedItem")
		n = len(found)
		if n > 0 {
			dev = found[0]
		}
		left = p.inv.Items["medpack"]
	})
	if n != 1 || left != 1 {
		t.Fatalf("dropped devices = %d, medpacks left = %d", n, left)
	}
	if dev.X != 100 || dev.Y != 200 {
		t.Fatalf("dropped at (%v,%v)", dev.X, dev.Y)
	}
	if len(out.of(devices.MsgWorldChanges)) == 0 {
		t.Fatal("no world changes broadcast for the dropped item")
	}

	// 原地拾取
	send(t, r, p, MsgForDevice, deviceMessage{DeviceID: dev.ID, Key: "interacted"})
	_ = r.Do(func() { left = p.inv.Items["medpack"] })
	if left != 3 {
		t.Fatalf("medpacks after pickup = %d", left)
	}
}

func armBlaster(t *testing.T, r *Room, p *Player, clip int) {
	t.Helper()
	if err := r.Do(func() { p.AddItem("gadget-blaster", 1, clip) }); err != nil {
		t.Fatal(err)
	}
}

func TestReloadCompletes(t *testing.T) {
	r := startRoom(t, testConfig(), nil)
	p, out := join(t, r, "p1")
	armBlaster(t, r, p, 0)

	send(t, r, p, MsgReload, nil)
	waitFor(t, r, func() bool { return p.inv.ActiveSlot().Clip == 6 })
	if n := len(out.of(MsgReloadState)); n != 2 {
		t.Fatalf("reload state messages = %d, want 2", n)
	}
}

func TestReloadCancelledByMove(t *testing.T) {
	cfg := testConfig()
	cfg.Tables.Gadgets[0].ReloadTimeMs = 300
	r := startRoom(t, cfg, nil)
	p, out := join(t, r, "p1")
	armBlaster(t, r, p, 0)

	send(t, r, p, MsgReload, nil)
	send(t, r, p, MsgMove, move{X: 5, Y: 0})
	if err := r.Do(func() {
		if !p.reload.Pending() {
			t.Error("small move cancelled the reload")
		}
	}); err != nil {
		t.Fatal(err)
	}
	send(t, r, p, MsgMove, move{X: 50, Y: 0})

	time.Sleep(400 * time.Millisecond)
	clip := -1
	_ = r.Do(func() { clip = p.inv.ActiveSlot().Clip })
	if clip != 0 {
		t.Fatalf("clip = %d after cancelled reload", clip)
	}
	if n := len(out.of(MsgReloadState)); n != 2 {
		t.Fatalf("reload state messages = %d, want 2", n)
	}
	if n := r.dispatch.Count(MsgMove); n != 1 {
		t.Fatalf("move handlers = %d, reload subscription leaked", n)
	}
}

func TestFireDamagesTerrain(t *testing.T) {
	m := &mapdata.Map{Tiles: []mapdata.Tile{{X: 2, Y: 0, Terrain: "wood", Collides: true}}}
	r := startRoom(t, testConfig(), m)
	p, out := join(t, r, "p1")
	armBlaster(t, r, p, 6)
	send(t, r, p, MsgMove, move{X: 0, Y: 32})

	send(t, r, p, MsgFire, fire{Angle: 0})

	shots := out.of(MsgProjectiles)
	if len(shots) != 1 {
		t.Fatalf("projectile broadcasts = %d", len(shots))
	}
	var pc struct {
		Added []struct {
			End [2]float64 `json:"end"`
		} `json:"added"`
		Hit []struct {
			Target        string  `json:"target"`
			HealthPercent float64 `json:"healthPercent"`
		} `json:"hit"`
	}
	if err := json.Unmarshal(shots[0], &pc); err != nil {
		t.Fatal(err)
	}
	if len(pc.Hit) != 1 || pc.Hit[0].Target != "tile:0_2_0" || pc.Hit[0].HealthPercent != 0.8 {
		t.Fatalf("hit = %+v", pc.Hit)
	}
	if len(pc.Added) != 1 || pc.Added[0].End[0] != 128 {
		t.Fatalf("added = %+v", pc.Added)
	}

	var health float64
	var clip int
	_ = r.Do(func() {
		health, _, _ = r.terrain.Health(terrain.Key{X: 2, Y: 0})
		clip = p.inv.ActiveSlot().Clip
	})
	if health != 80 || clip != 5 {
		t.Fatalf("health = %v clip = %d", health, clip)
	}
}

func TestRestoreIsHostOnly(t *testing.T) {
	r := startRoom(t, testConfig(), nil)
	host, hostOut := join(t, r, "p1")
	guest, guestOut := join(t, r, "p2")

	send(t, r, guest, MsgRestoreMap, nil)
	if n := len(guestOut.of(MsgReset)); n != 0 {
		t.Fatalf("guest restore broadcast reset")
	}
	send(t, r, host, MsgRestoreMap, nil)
	if len(hostOut.of(MsgReset)) != 1 || len(guestOut.of(MsgReset)) != 1 {
		t.Fatal("host restore did not reach every player")
	}

	// 房主离开后由下一位玩家接任
	r.Leave(host)
	waitFor(t, r, func() bool { return r.host == guest.id })
}

func TestDuplicateJoinReplacesConnection(t *testing.T) {
	r := startRoom(t, testConfig(), nil)
	_, first := join(t, r, "p1")
	second, _ := join(t, r, "p1")

	var n int
	_ = r.Do(func() { n = len(r.order) })
	if n != 1 {
		t.Fatalf("players = %d", n)
	}
	first.mu.Lock()
	closed := first.closed
	first.mu.Unlock()
	if !closed {
		t.Fatal("previous connection left open")
	}
	// 旧连接的 Leave 不影响新连接
	r.Leave(&Player{id: second.id})
	_ = r.Do(func() { n = len(r.order) })
	if n != 1 {
		t.Fatalf("players after stale leave = %d", n)
	}
}

func TestCloseClosesConnections(t *testing.T) {
	r := NewRoom("test", RoomOptions{Config: testConfig()})
	r.Start()
	_, out := join(t, r, "p1")
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	out.mu.Lock()
	defer out.mu.Unlock()
	if !out.closed {
		t.Fatal("connection left open after close")
	}
	select {
	case <-r.loop.Stopped():
	case <-time.After(3 * time.Second):
		t.Fatal("loop still running after close")
	}
	if err := r.Do(func() {}); err != ErrRoomClosed {
		t.Fatalf("Do after close = %v", err)
	}
}
