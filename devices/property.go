package devices

// propertyValueKey 属性设备保存值的状态键
const propertyValueKey = "value"

// property 具名属性，供 get_property / set_property 积木读写
type property struct {
	Passive
	d *Device
}

func newProperty(d *Device) Behavior { return &property{d: d} }

func (p *property) Restore() {
	p.d.UpdateForAll(p.d.OptScope("scope"), propertyValueKey, p.d.Options["defaultValue"])
}

func (p *property) OnJoin(pl Player) {
	def := p.d.Options["defaultValue"]
	switch p.d.OptScope("scope") {
	case ScopePlayer:
		p.d.UpdatePlayer(pl.ID(), propertyValueKey, def)
	case ScopeTeam:
		if _, ok := p.d.State(ScopeTeam, pl.TeamID(), propertyValueKey); !ok {
			p.d.UpdateTeam(pl.TeamID(), propertyValueKey, def)
		}
	}
}

func (r *Registry) propertyDevice(name string) *Device {
	if name == "" {
		return nil
	}
	for _, d := range r.devices {
		if d.Type == "property" && d.OptString("propertyName") == name {
			return d
		}
	}
	return nil
}

// mapOptions 地图设置，只保存选项
func newMapOptions(*Device) Behavior { return Passive{} }
