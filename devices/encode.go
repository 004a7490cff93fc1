package devices

import (
	"github.com/elliotchance/orderedmap/v2"

	"devicearena/config"
	"devicearena/values"
)

// AddedDevices 新增设备；每条记录为 [id, x, y, depth, layerIdx, deviceIdIdx, [[keyIdx, valIdx], ...]]
type AddedDevices struct {
	Values  []any   `json:"values"`
	Devices [][]any `json:"devices"`
}

type WorldDevices struct {
	AddedDevices   AddedDevices `json:"addedDevices"`
	Initial        bool         `json:"initial"`
	RemovedDevices []string     `json:"removedDevices"`
}

type PropsOptions struct {
	AddedPropsOptions []config.PropOption `json:"addedPropsOptions"`
	Initial           bool                `json:"initial"`
}

// WorldChanges WORLD_CHANGES 消息
type WorldChanges struct {
	Devices      WorldDevices  `json:"devices"`
	PropsOptions *PropsOptions `json:"propsOptions,omitempty"`
}

// StateChanges DEVICES_STATES_CHANGES 消息；每条变更为 [deviceId, [keyIdx, ...], [value, ...]]
type StateChanges struct {
	Changes    [][]any  `json:"changes"`
	Initial    bool     `json:"initial"`
	RemovedIDs []string `json:"removedIds"`
	Values     []any    `json:"values"`
}

func encodeAdded(devs []*Device) AddedDevices {
	table := values.NewTable()
	records := make([][]any, 0, len(devs))
	for _, d := range devs {
		opts := make([][]int, 0, len(d.Options))
		for _, k := range d.optionKeys() {
			opts = append(opts, []int{table.Add(k), table.Add(d.Options[k])})
		}
		records = append(records, []any{
			d.ID, d.X, d.Y, d.Depth,
			table.Add(d.Layer), table.Add(d.Type), opts,
		})
	}
	return AddedDevices{Values: table.Values(), Devices: records}
}

func encodeChanges(changes *orderedmap.OrderedMap[string, *orderedmap.OrderedMap[string, any]], removedIDs []string, initial bool) StateChanges {
	table := values.NewTable()
	out := make([][]any, 0, changes.Len())
	for dev := changes.Front(); dev != nil; dev = dev.Next() {
		keys := make([]int, 0, dev.Value.Len())
		vals := make([]any, 0, dev.Value.Len())
		for kv := dev.Value.Front(); kv != nil; kv = kv.Next() {
			keys = append(keys, table.Add(kv.Key))
			vals = append(vals, kv.Value)
		}
		out = append(out, []any{dev.Key, keys, vals})
	}
	return StateChanges{
		Changes:    out,
		Initial:    initial,
		RemovedIDs: removedIDs,
		Values:     table.Values(),
	}
}

// InitialChanges 新加入玩家的完整状态快照
func (r *Registry) InitialChanges() StateChanges {
	all := orderedmap.NewOrderedMap[string, *orderedmap.OrderedMap[string, any]]()
	for _, d := range r.devices {
		kvs := d.stateChanges()
		if len(kvs) == 0 {
			continue
		}
		m := orderedmap.NewOrderedMap[string, any]()
		for _, kv := range kvs {
			m.Set(kv[0].(string), kv[1])
		}
		all.Set(d.ID, m)
	}
	return encodeChanges(all, []string{}, true)
}

// InitialWorld 新加入玩家的设备列表，附带用到的装饰物参数
func (r *Registry) InitialWorld() WorldChanges {
	props := []config.PropOption{}
	seen := map[string]bool{}
	for _, d := range r.FindByType("prop") {
		id := d.OptString("propId")
		if seen[id] {
			continue
		}
		seen[id] = true
		if p, ok := r.tables.Prop(id); ok {
			props = append(props, p)
		}
	}
	return WorldChanges{
		Devices: WorldDevices{
			AddedDevices:   encodeAdded(r.devices),
			Initial:        true,
			RemovedDevices: []string{},
		},
		PropsOptions: &PropsOptions{AddedPropsOptions: props, Initial: true},
	}
}
