package devices

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"devicearena/physics"
)

// prop 装饰物：UseColliders 时按参数表创建静态碰撞体；配置了 health 的装饰物可被击毁
type prop struct {
	Passive
	d      *Device
	health float64
}

func newProp(d *Device) Behavior { return &prop{d: d} }

func (p *prop) maxHealth() float64 { return p.d.OptNumber("health", 0) }

func (p *prop) Init() { p.ensureColliders() }

func (p *prop) Restore() {
	p.ensureColliders()
	p.d.UpdateGlobal("visible", p.d.OptBool("visible", true))
	if full := p.maxHealth(); full > 0 {
		p.health = full
		p.d.UpdateGlobal("healthPercent", 1.0)
	}
}

func (p *prop) OnRemove() { p.d.ReleaseColliders() }

func (p *prop) ensureColliders() {
	if !p.d.OptBool("UseColliders", false) || len(p.d.Colliders()) > 0 {
		return
	}
	opt, ok := p.d.registry.tables.Prop(p.d.OptString("propId"))
	if !ok {
		return
	}
	scale := p.d.OptNumber("Scale", opt.Scale)
	if scale == 0 {
		scale = 1
	}
	angle := p.d.OptNumber("Angle", 0)
	flip := p.d.OptBool("FlipX", false)
	rot := mgl64.Rotate2D(mgl64.DegToRad(angle))

	for _, c := range opt.Colliders {
		x, a := c.X, c.Angle
		if flip {
			x, a = -x, -a
		}
		shape := physics.Shape{
			Center: rot.Mul2x1(mgl64.Vec2{x * scale, c.Y * scale}),
			Angle:  angle + a,
		}
		switch c.Type {
		case "circle":
			shape.Kind = physics.ShapeCircle
			shape.Radius = c.R * scale
		case "ellipse":
			// 椭圆近似为胶囊体，长轴沿局部 X
			rx, ry := c.RX*scale, c.RY*scale
			long, short := math.Max(rx, ry), math.Min(rx, ry)
			shape.Kind = physics.ShapeCapsule
			shape.Radius = short
			shape.HalfExtents = mgl64.Vec2{(long - short) / 2, 0}
			if ry > rx {
				shape.Angle += 90
			}
		case "capsule":
			shape.Kind = physics.ShapeCapsule
			shape.Radius = c.R * scale
			shape.HalfExtents = mgl64.Vec2{c.Height * scale / 2, 0}
		default:
			shape.Kind = physics.ShapeBox
			shape.HalfExtents = mgl64.Vec2{c.Width * scale / 2, c.Height * scale / 2}
		}
		h := p.d.AddCollider(shape)
		if p.maxHealth() > 0 {
			p.d.registry.space.RegisterHitCallback(h, p.hit)
		}
	}
}

func (p *prop) hit(damage float64, _ physics.Attacker) *physics.HitEffect {
	full := p.maxHealth()
	if p.health <= 0 || full <= 0 {
		return nil
	}
	p.health = math.Max(0, p.health-damage)
	pct := p.health / full
	p.d.UpdateGlobal("healthPercent", pct)
	if p.health == 0 {
		p.d.UpdateGlobal("visible", false)
		p.d.ReleaseColliders()
	}
	return &physics.HitEffect{Target: p.d.ID, Damage: damage, HealthPercent: pct}
}
