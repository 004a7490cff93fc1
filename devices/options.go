package devices

import "devicearena/blocks"

func (d *Device) OptString(key string) string {
	s, _ := d.Options[key].(string)
	return s
}

// OptBool 缺失时返回 def
func (d *Device) OptBool(key string, def bool) bool {
	b, ok := d.Options[key].(bool)
	if !ok {
		return def
	}
	return b
}

// OptNumber 缺失或非数字时返回 def
func (d *Device) OptNumber(key string, def float64) float64 {
	v, ok := d.Options[key]
	if !ok || v == nil {
		return def
	}
	n := blocks.ToNumber(v)
	if n != n {
		return def
	}
	return n
}

func (d *Device) OptScope(key string) Scope {
	return ParseScope(d.OptString(key))
}
