package devices

// button 可按下的按钮：激活状态按 scope 区分，按下时触发连线 pressed 与频道
type button struct {
	Passive
	d *Device
}

func newButton(d *Device) Behavior { return &button{d: d} }

func (b *button) scope() Scope { return b.d.OptScope("scope") }

func (b *button) activeOnStart() bool { return b.d.OptBool("activeOnStart", true) }

func (b *button) Restore() {
	b.d.UpdateForAll(b.scope(), "active", b.activeOnStart())
}

func (b *button) OnJoin(p Player) {
	switch b.scope() {
	case ScopePlayer:
		b.d.UpdatePlayer(p.ID(), "active", b.activeOnStart())
	case ScopeTeam:
		if _, ok := b.d.State(ScopeTeam, p.TeamID(), "active"); !ok {
			b.d.UpdateTeam(p.TeamID(), "active", b.activeOnStart())
		}
	}
}

func (b *button) active(p Player) bool {
	v, _ := b.d.ScopedState(b.scope(), p, "active")
	on, _ := v.(bool)
	return on
}

func (b *button) setActive(on bool, actor Player) {
	b.d.SetScoped(b.scope(), actor, "active", on)
}

func (b *button) OnChannel(channel string, actor Player) {
	switch channel {
	case b.d.OptString("activateChannel"):
		b.setActive(true, actor)
	case b.d.OptString("deactivateChannel"):
		b.setActive(false, actor)
	}
}

func (b *button) OnWire(connection string, actor Player) {
	switch connection {
	case "enable":
		b.setActive(true, actor)
	case "disable":
		b.setActive(false, actor)
	}
}

// OnMessage 只接受按钮半径（外加 20 的容差）以内的玩家
func (b *button) OnMessage(p Player, key string, _ any) {
	if key != "interacted" || p == nil || !b.active(p) {
		return
	}
	if p.Position().Sub(b.d.Position()).Len() > b.d.OptNumber("radius", 0)+20 {
		return
	}
	b.d.TriggerWire("pressed", p)
	b.d.TriggerChannel(b.d.OptString("channel"), p)
}
