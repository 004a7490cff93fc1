package terrain

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/elliotchance/orderedmap/v2"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/zeebo/xxh3"
	"go.uber.org/zap"

	"devicearena/config"
	"devicearena/loop"
	"devicearena/mapdata"
	"devicearena/physics"
)

// MsgTerrainChanges 地形变更消息类型
const MsgTerrainChanges = "TERRAIN_CHANGES"

// TileSize 一格地形的像素边长
const TileSize = 64

// Key 地形格坐标；同一坐标至多一格
type Key struct {
	Depth, X, Y int
}

// String 网络上的复合键 depth_x_y
func (k Key) String() string { return fmt.Sprintf("%d_%d_%d", k.Depth, k.X, k.Y) }

// Tile 一格地形
type Tile struct {
	X, Y, Depth int
	Terrain     string
	Collides    bool
}

func (t Tile) Key() Key { return Key{Depth: t.Depth, X: t.X, Y: t.Y} }

func fromMap(t mapdata.Tile) Tile {
	return Tile{X: t.X, Y: t.Y, Depth: t.Depth, Terrain: t.Terrain, Collides: t.Collides}
}

type cell struct {
	Tile
	collider  physics.ColliderHandle
	hasBody   bool
	health    float64
	maxHealth float64
}

// Broadcaster 房间广播
type Broadcaster interface {
	Broadcast(typ string, payload any)
}

// Observer 地形刷新指标的接收方
type Observer interface {
	TerrainFlushed(added, removed, damaged int)
}

type nopObserver struct{}

func (nopObserver) TerrainFlushed(int, int, int) {}

type Options struct {
	Baseline []mapdata.Tile
	Space    physics.Space
	Loop     *loop.Loop
	Host     Broadcaster
	Tables   config.Tables
	Observer Observer
	Logger   *zap.Logger
}

// Store 房间的地形格集合，变更按回合合并后以 TERRAIN_CHANGES 广播
//
// 只在房间调度器协程中使用。
type Store struct {
	baseline []Tile
	space    physics.Space
	loop     *loop.Loop
	host     Broadcaster
	tables   config.Tables
	obs      Observer
	log      *zap.Logger

	tiles *orderedmap.OrderedMap[Key, *cell]

	added    *orderedmap.OrderedMap[Key, Tile]
	removed  *orderedmap.OrderedMap[Key, struct{}]
	health   *orderedmap.OrderedMap[Key, []float64]
	replaced map[Key]bool
	armed    bool
	updateID int
}

// New 按地图基线放置全部地形；初始放置不进入变更缓冲
func New(opts Options) *Store {
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	s := &Store{
		space:  opts.Space,
		loop:   opts.Loop,
		host:   opts.Host,
		tables: opts.Tables,
		obs:    opts.Observer,
		log:    opts.Logger,
		tiles:  orderedmap.NewOrderedMap[Key, *cell](),
	}
	s.resetBuffers()
	for _, t := range opts.Baseline {
		tile := fromMap(t)
		if _, dup := s.tiles.Get(tile.Key()); dup {
			s.log.Warn("duplicate tile in baseline", zap.Stringer("tile", tile.Key()))
			continue
		}
		s.baseline = append(s.baseline, tile)
		s.insert(tile)
	}
	return s
}

func (s *Store) resetBuffers() {
	s.added = orderedmap.NewOrderedMap[Key, Tile]()
	s.removed = orderedmap.NewOrderedMap[Key, struct{}]()
	s.health = orderedmap.NewOrderedMap[Key, []float64]()
	s.replaced = map[Key]bool{}
}

// Len 当前地形格数量
func (s *Store) Len() int { return s.tiles.Len() }

// Tile 按坐标查询
func (s *Store) Tile(k Key) (Tile, bool) {
	c, ok := s.tiles.Get(k)
	if !ok {
		return Tile{}, false
	}
	return c.Tile, true
}

// Health 当前生命值与上限；不可破坏的地形上限为 0
func (s *Store) Health(k Key) (health, full float64, ok bool) {
	c, ok := s.tiles.Get(k)
	if !ok {
		return 0, 0, false
	}
	return c.health, c.maxHealth, true
}

// Collider 地形格的碰撞体句柄
func (s *Store) Collider(k Key) (physics.ColliderHandle, bool) {
	c, ok := s.tiles.Get(k)
	if !ok || !c.hasBody {
		return 0, false
	}
	return c.collider, true
}

// Place 放置地形；坐标已被占用时返回 false
func (s *Store) Place(t Tile) bool {
	k := t.Key()
	if _, ok := s.tiles.Get(k); ok {
		return false
	}
	s.insert(t)
	if _, ok := s.removed.Get(k); ok {
		// 同一窗口内先移除后放置：只发新增，客户端按坐标覆盖
		s.removed.Delete(k)
		s.replaced[k] = true
	}
	s.added.Set(k, t)
	s.arm()
	return true
}

// Remove 移除地形并释放碰撞体；坐标为空时返回 false
func (s *Store) Remove(depth, x, y int) bool {
	k := Key{Depth: depth, X: x, Y: y}
	c, ok := s.tiles.Get(k)
	if !ok {
		return false
	}
	s.release(c)
	s.tiles.Delete(k)
	s.health.Delete(k)

	_, fresh := s.added.Get(k)
	s.added.Delete(k)
	if !fresh || s.replaced[k] {
		delete(s.replaced, k)
		s.removed.Set(k, struct{}{})
	}
	s.arm()
	return true
}

// Restore 按差异与基线对齐：多出的移除，缺失或属性不同的重新放置，相同的保留碰撞体只回满生命
func (s *Store) Restore() {
	want := make(map[Key]Tile, len(s.baseline))
	for _, t := range s.baseline {
		want[t.Key()] = t
	}
	var stale []Key
	for el := s.tiles.Front(); el != nil; el = el.Next() {
		t, ok := want[el.Key]
		if !ok || t.Terrain != el.Value.Terrain || t.Collides != el.Value.Collides {
			stale = append(stale, el.Key)
		}
	}
	for _, k := range stale {
		s.Remove(k.Depth, k.X, k.Y)
	}
	for _, t := range s.baseline {
		c, ok := s.tiles.Get(t.Key())
		if !ok {
			s.Place(t)
			continue
		}
		if c.maxHealth > 0 && c.health != c.maxHealth {
			c.health = c.maxHealth
			s.health.Set(t.Key(), []float64{float64(t.X), float64(t.Y), float64(t.Depth), 1, 0})
			s.arm()
		}
	}
}

func (s *Store) insert(t Tile) {
	c := &cell{Tile: t}
	if opt, ok := s.tables.Terrain(t.Terrain); ok && opt.Health > 0 {
		c.maxHealth = opt.Health
		c.health = opt.Health
	}
	s.tiles.Set(t.Key(), c)
	if !t.Collides || s.space == nil {
		return
	}
	c.collider = s.space.CreateStaticCollider(physics.Shape{
		Kind:        physics.ShapeBox,
		Center:      mgl64.Vec2{float64(t.X)*TileSize + TileSize/2, float64(t.Y)*TileSize + TileSize/2},
		HalfExtents: mgl64.Vec2{TileSize / 2, TileSize / 2},
	})
	c.hasBody = true
	if c.maxHealth > 0 {
		k := t.Key()
		s.space.RegisterHitCallback(c.collider, func(damage float64, _ physics.Attacker) *physics.HitEffect {
			return s.hit(k, damage)
		})
	}
}

func (s *Store) release(c *cell) {
	if !c.hasBody {
		return
	}
	s.space.DeregisterHitCallback(c.collider)
	s.space.RemoveCollider(c.collider)
	c.hasBody = false
}

// hit 可破坏地形受到伤害；生命归零时移除
func (s *Store) hit(k Key, damage float64) *physics.HitEffect {
	c, ok := s.tiles.Get(k)
	if !ok || c.maxHealth <= 0 || damage <= 0 {
		return nil
	}
	c.health = math.Max(0, c.health-damage)
	pct := c.health / c.maxHealth
	eff := &physics.HitEffect{Target: "tile:" + k.String(), Damage: damage, HealthPercent: pct}
	if c.health == 0 {
		s.Remove(k.Depth, k.X, k.Y)
		return eff
	}
	s.health.Set(k, []float64{float64(k.X), float64(k.Y), float64(k.Depth), pct, damage})
	s.arm()
	return eff
}

func (s *Store) arm() {
	if s.armed || s.loop == nil {
		return
	}
	s.armed = true
	s.loop.Defer(s.flush)
}

func (s *Store) flush() {
	s.armed = false
	added, removed, damaged := s.added.Len(), s.removed.Len(), s.health.Len()
	if added == 0 && removed == 0 && damaged == 0 {
		return
	}
	tiles := make([]Tile, 0, added)
	for el := s.added.Front(); el != nil; el = el.Next() {
		tiles = append(tiles, el.Value)
	}
	removedKeys := make([]string, 0, removed)
	for el := s.removed.Front(); el != nil; el = el.Next() {
		removedKeys = append(removedKeys, el.Key.String())
	}
	health := make([][]float64, 0, damaged)
	for el := s.health.Front(); el != nil; el = el.Next() {
		health = append(health, el.Value)
	}
	s.resetBuffers()
	s.updateID++

	if s.host != nil {
		s.host.Broadcast(MsgTerrainChanges, Changes{
			Added:          Encode(tiles),
			RemovedTiles:   removedKeys,
			ModifiedHealth: health,
			UpdateID:       s.updateID,
		})
	}
	s.obs.TerrainFlushed(added, removed, damaged)
}

// InitialMessage 新加入玩家的完整地形
func (s *Store) InitialMessage() Changes {
	tiles := make([]Tile, 0, s.tiles.Len())
	var health [][]float64
	for el := s.tiles.Front(); el != nil; el = el.Next() {
		tiles = append(tiles, el.Value.Tile)
		if c := el.Value; c.maxHealth > 0 && c.health < c.maxHealth {
			health = append(health, []float64{float64(c.X), float64(c.Y), float64(c.Depth), c.health / c.maxHealth, 0})
		}
	}
	if health == nil {
		health = [][]float64{}
	}
	return Changes{
		Added:          Encode(tiles),
		Initial:        true,
		RemovedTiles:   []string{},
		ModifiedHealth: health,
		UpdateID:       s.updateID,
	}
}

// Digest 地形集合与生命值的摘要，与插入顺序无关
func (s *Store) Digest() uint64 {
	type entry struct {
		Tile
		Health float64
	}
	entries := make([]entry, 0, s.tiles.Len())
	for el := s.tiles.Front(); el != nil; el = el.Next() {
		entries = append(entries, entry{el.Value.Tile, el.Value.health})
	}
	sort.Slice(entries, func(i, j int) bool { return less(entries[i].Tile, entries[j].Tile) })
	raw, _ := json.Marshal(entries)
	return xxh3.Hash(raw)
}

func less(a, b Tile) bool {
	if a.Depth != b.Depth {
		return a.Depth < b.Depth
	}
	if a.Y != b.Y {
		return a.Y < b.Y
	}
	return a.X < b.X
}
