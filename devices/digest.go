package devices

import (
	"encoding/json"
	"sort"

	"github.com/zeebo/xxh3"
)

// Digest 设备集合与全部状态的摘要，与插入顺序无关；用于校验恢复是否幂等
func (r *Registry) Digest() uint64 {
	h := xxh3.New()
	ids := make([]string, 0, len(r.devices))
	for _, d := range r.devices {
		ids = append(ids, d.ID)
	}
	sort.Strings(ids)
	for _, id := range ids {
		d := r.byID[id]
		_, _ = h.WriteString(d.ID)
		_, _ = h.WriteString("\x00" + d.Type + "\x00")
		kvs := d.stateChanges()
		sort.Slice(kvs, func(i, j int) bool { return kvs[i][0].(string) < kvs[j][0].(string) })
		for _, kv := range kvs {
			raw, _ := json.Marshal(kv[1])
			_, _ = h.WriteString(kv[0].(string))
			_, _ = h.Write(raw)
			_, _ = h.WriteString("\x00")
		}
	}
	return h.Sum64()
}
