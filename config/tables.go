package config

import (
	"fmt"

	"github.com/samber/lo"
)

// Tables 地形、物品、道具与装饰物的只读参数表
type Tables struct {
	Terrains []TerrainOption `yaml:"terrains"`
	Items    []ItemOption    `yaml:"items"`
	Gadgets  []GadgetOption  `yaml:"gadgets"`
	Props    []PropOption    `yaml:"props"`
}

// TerrainOption Health 为 0 表示不可破坏
type TerrainOption struct {
	ID     string  `yaml:"id"`
	Health float64 `yaml:"health"`
}

type ItemOption struct {
	ID       string `yaml:"id"`
	Type     string `yaml:"type"`
	MaxStack int    `yaml:"max_stack"`
}

// GadgetOption 武器参数；ReloadTimeMs 期间移动超过 CancelDistance 会打断换弹
type GadgetOption struct {
	ID             string  `yaml:"id"`
	ClipSize       int     `yaml:"clip_size"`
	ReloadTimeMs   int     `yaml:"reload_time_ms"`
	Damage         float64 `yaml:"damage"`
	Distance       float64 `yaml:"distance"`
	Speed          float64 `yaml:"speed"`
	Radius         float64 `yaml:"radius"`
	CancelDistance float64 `yaml:"cancel_distance"`
}

// PropOption 装饰物的碰撞体定义（相对装饰物原点，未缩放）
type PropOption struct {
	ID        string           `yaml:"id" json:"id"`
	Scale     float64          `yaml:"scale" json:"scale"`
	Colliders []ColliderOption `yaml:"colliders" json:"colliders"`
}

// ColliderOption Type 取 box / circle / ellipse / capsule
type ColliderOption struct {
	Type   string  `yaml:"type" json:"type"`
	X      float64 `yaml:"x" json:"x"`
	Y      float64 `yaml:"y" json:"y"`
	Width  float64 `yaml:"w" json:"w,omitempty"`
	Height float64 `yaml:"h" json:"h,omitempty"`
	R      float64 `yaml:"r" json:"r,omitempty"`
	RX     float64 `yaml:"rx" json:"rx,omitempty"`
	RY     float64 `yaml:"ry" json:"ry,omitempty"`
	Angle  float64 `yaml:"angle" json:"angle,omitempty"`
}

func DefaultTables() Tables {
	return Tables{
		Terrains: []TerrainOption{
			{ID: "grass"},
			{ID: "sand"},
			{ID: "stone", Health: 300},
			{ID: "wood", Health: 100},
		},
		Items: []ItemOption{
			{ID: "gadget-blaster", Type: "weapon", MaxStack: 1},
			{ID: "energy", Type: "resource", MaxStack: 99999},
			{ID: "medpack", Type: "consumable", MaxStack: 10},
		},
		Gadgets: []GadgetOption{
			{ID: "gadget-blaster", ClipSize: 6, ReloadTimeMs: 1200, Damage: 20, Distance: 900, Speed: 1500, Radius: 8, CancelDistance: 10},
		},
		Props: []PropOption{
			{ID: "crate", Scale: 1, Colliders: []ColliderOption{{Type: "box", Width: 64, Height: 64}}},
			{ID: "tree", Scale: 1, Colliders: []ColliderOption{{Type: "circle", Y: 40, R: 18}}},
		},
	}
}

func (t Tables) Terrain(id string) (TerrainOption, bool) {
	return lo.Find(t.Terrains, func(o TerrainOption) bool { return o.ID == id })
}

func (t Tables) Item(id string) (ItemOption, bool) {
	return lo.Find(t.Items, func(o ItemOption) bool { return o.ID == id })
}

func (t Tables) Gadget(id string) (GadgetOption, bool) {
	return lo.Find(t.Gadgets, func(o GadgetOption) bool { return o.ID == id })
}

func (t Tables) Prop(id string) (PropOption, bool) {
	return lo.Find(t.Props, func(o PropOption) bool { return o.ID == id })
}

func (t Tables) validate() error {
	for _, ids := range [][]string{
		lo.Map(t.Terrains, func(o TerrainOption, _ int) string { return o.ID }),
		lo.Map(t.Items, func(o ItemOption, _ int) string { return o.ID }),
		lo.Map(t.Gadgets, func(o GadgetOption, _ int) string { return o.ID }),
		lo.Map(t.Props, func(o PropOption, _ int) string { return o.ID }),
	} {
		if dup := lo.FindDuplicates(ids); len(dup) > 0 {
			return fmt.Errorf("duplicate table ids: %v", dup)
		}
	}
	for _, g := range t.Gadgets {
		if g.ClipSize <= 0 {
			return fmt.Errorf("gadget %s: clip_size must be positive", g.ID)
		}
	}
	return nil
}
