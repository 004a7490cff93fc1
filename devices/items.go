package devices

import "time"

// itemGranter 收到指定频道时把物品发给触发者
type itemGranter struct {
	Passive
	d *Device
}

func newItemGranter(d *Device) Behavior { return &itemGranter{d: d} }

func (g *itemGranter) OnChannel(channel string, actor Player) {
	if actor == nil || channel != g.d.OptString("grantWhenReceivingFromChannel") {
		return
	}
	item := g.d.OptString("itemId")
	if item == "" {
		return
	}
	actor.AddItem(item, int(g.d.OptNumber("itemChange", 1)), 0)
}

// collectedRemoveDelay 被完全拾取后保留的时间，留给客户端播放拾取动画
const collectedRemoveDelay = 600 * time.Millisecond

// droppedItem 玩家丢在地上的物品，拾取时放不下的部分留在地上
type droppedItem struct {
	Passive
	d *Device
}

func newDroppedItem(d *Device) Behavior { return &droppedItem{d: d} }

func (di *droppedItem) Init() {
	di.d.UpdateGlobal("amount", int(di.d.OptNumber("amount", 1)))
	di.d.UpdateGlobal("fallY", di.d.Y-30)
	di.d.UpdateGlobal("visible", true)
	di.d.UpdateGlobal("canBeCollected", true)
	di.d.UpdateGlobal("alreadyCollected", false)
}

func (di *droppedItem) Restore() { di.Init() }

func (di *droppedItem) OnMessage(p Player, key string, _ any) {
	if key != "interacted" || p == nil {
		return
	}
	if v, _ := di.d.State(ScopeGlobal, "", "canBeCollected"); v != true {
		return
	}
	v, _ := di.d.State(ScopeGlobal, "", "amount")
	amount, _ := v.(int)
	overflow := p.AddItem(di.d.OptString("itemId"), amount, int(di.d.OptNumber("currentClip", 0)))
	if overflow > 0 {
		di.d.UpdateGlobal("amount", overflow)
		return
	}
	di.d.UpdateGlobal("canBeCollected", false)
	di.d.UpdateGlobal("alreadyCollected", true)
	di.d.After(collectedRemoveDelay, func() { di.d.registry.Remove(di.d) })
}
