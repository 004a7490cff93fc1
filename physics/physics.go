package physics

import (
	"math"
	"sort"

	"github.com/go-gl/mathgl/mgl64"
)

// ColliderHandle 静态碰撞体句柄
type ColliderHandle uint32

// ShapeKind 碰撞体形状
type ShapeKind int

const (
	ShapeBox ShapeKind = iota
	ShapeCircle
	ShapeCapsule
)

// Shape 静态碰撞体描述（世界坐标，角度为度）
type Shape struct {
	Kind   ShapeKind
	Center mgl64.Vec2
	// Box: 半宽半高；Capsule: X 为半长（不含半圆），Y 忽略
	HalfExtents mgl64.Vec2
	Radius      float64
	Angle       float64
}

// Attacker 造成伤害的一方
type Attacker struct {
	PlayerID string
	TeamID   string
}

// HitEffect 命中回调可选返回的效果，随 PROJECTILE_CHANGES 一起下发
type HitEffect struct {
	Target        string  `json:"target"`
	Damage        float64 `json:"damage"`
	HealthPercent float64 `json:"healthPercent"`
}

// HitFunc 命中回调
type HitFunc func(damage float64, attacker Attacker) *HitEffect

// Space 物理协作者的窄接口：设备与地形只通过它创建/释放碰撞体
type Space interface {
	CreateStaticCollider(shape Shape) ColliderHandle
	RemoveCollider(h ColliderHandle)
	RegisterHitCallback(h ColliderHandle, fn HitFunc)
	DeregisterHitCallback(h ColliderHandle)
}

// World 内存中的静态碰撞世界，只在房间的调度器协程中使用
type World struct {
	next      ColliderHandle
	colliders map[ColliderHandle]Shape
	callbacks map[ColliderHandle]HitFunc
}

// NewWorld 创建空的物理世界
func NewWorld() *World {
	return &World{
		colliders: make(map[ColliderHandle]Shape),
		callbacks: make(map[ColliderHandle]HitFunc),
	}
}

// CreateStaticCollider 注册一个静态碰撞体
func (w *World) CreateStaticCollider(shape Shape) ColliderHandle {
	w.next++
	w.colliders[w.next] = shape
	return w.next
}

// RemoveCollider 移除碰撞体及其命中回调；重复移除为空操作
func (w *World) RemoveCollider(h ColliderHandle) {
	delete(w.colliders, h)
	delete(w.callbacks, h)
}

func (w *World) RegisterHitCallback(h ColliderHandle, fn HitFunc) {
	if _, ok := w.colliders[h]; !ok {
		return
	}
	w.callbacks[h] = fn
}

func (w *World) DeregisterHitCallback(h ColliderHandle) {
	delete(w.callbacks, h)
}

// Colliders 当前碰撞体数量
func (w *World) Colliders() int { return len(w.colliders) }

// Collider 按句柄查询碰撞体
func (w *World) Collider(h ColliderHandle) (Shape, bool) {
	s, ok := w.colliders[h]
	return s, ok
}

// Hit 把一次命中交给碰撞体的回调；没有回调的碰撞体不可破坏
func (w *World) Hit(h ColliderHandle, damage float64, attacker Attacker) *HitEffect {
	fn, ok := w.callbacks[h]
	if !ok {
		return nil
	}
	return fn(damage, attacker)
}

// CastHit 线段投射结果
type CastHit struct {
	Collider ColliderHandle
	Distance float64
	Point    mgl64.Vec2
}

// CastSegment 从 from 沿 dir 投射 maxDist 距离，返回最近的静态碰撞体
func (w *World) CastSegment(from, dir mgl64.Vec2, maxDist float64) (CastHit, bool) {
	if dir.Len() == 0 || maxDist <= 0 {
		return CastHit{}, false
	}
	dir = dir.Normalize()

	// 句柄排序保证多个碰撞体同距离时结果确定
	handles := make([]ColliderHandle, 0, len(w.colliders))
	for h := range w.colliders {
		handles = append(handles, h)
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })

	best := CastHit{Distance: math.Inf(1)}
	found := false
	for _, h := range handles {
		t, ok := intersect(w.colliders[h], from, dir)
		if !ok || t > maxDist || t >= best.Distance {
			continue
		}
		best = CastHit{Collider: h, Distance: t, Point: from.Add(dir.Mul(t))}
		found = true
	}
	return best, found
}

func intersect(s Shape, from, dir mgl64.Vec2) (float64, bool) {
	switch s.Kind {
	case ShapeCircle:
		return rayCircle(s.Center, s.Radius, from, dir)
	case ShapeCapsule:
		// 胶囊体按包围盒近似
		half := mgl64.Vec2{s.HalfExtents.X() + s.Radius, s.Radius}
		return rayBox(s.Center, half, s.Angle, from, dir)
	default:
		return rayBox(s.Center, s.HalfExtents, s.Angle, from, dir)
	}
}

func rayCircle(center mgl64.Vec2, r float64, from, dir mgl64.Vec2) (float64, bool) {
	m := from.Sub(center)
	b := m.Dot(dir)
	c := m.Dot(m) - r*r
	if c <= 0 {
		return 0, true
	}
	if b > 0 {
		return 0, false
	}
	disc := b*b - c
	if disc < 0 {
		return 0, false
	}
	return -b - math.Sqrt(disc), true
}

// rayBox 先把射线转换到盒子的局部坐标系，再做 slab 测试
func rayBox(center, half mgl64.Vec2, angle float64, from, dir mgl64.Vec2) (float64, bool) {
	rot := mgl64.Rotate2D(-mgl64.DegToRad(angle))
	o := rot.Mul2x1(from.Sub(center))
	d := rot.Mul2x1(dir)

	tmin, tmax := 0.0, math.Inf(1)
	for i := 0; i < 2; i++ {
		if math.Abs(d[i]) < 1e-12 {
			if o[i] < -half[i] || o[i] > half[i] {
				return 0, false
			}
			continue
		}
		t1 := (-half[i] - o[i]) / d[i]
		t2 := (half[i] - o[i]) / d[i]
		if t1 > t2 {
			t1, t2 = t2, t1
		}
		tmin = math.Max(tmin, t1)
		tmax = math.Min(tmax, t2)
		if tmin > tmax {
			return 0, false
		}
	}
	return tmin, true
}
