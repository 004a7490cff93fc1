package values

import "encoding/json"

// Table 值去重表：把一批消息里重复出现的值收集到数组中，载荷里只引用下标
type Table struct {
	values  []any
	indexes map[any]int
}

// NewTable 创建空的去重表
func NewTable() *Table {
	return &Table{indexes: make(map[any]int)}
}

// Add 返回 v 在表中的下标，首次出现时追加
func (t *Table) Add(v any) int {
	k := key(v)
	if i, ok := t.indexes[k]; ok {
		return i
	}
	t.values = append(t.values, v)
	t.indexes[k] = len(t.values) - 1
	return len(t.values) - 1
}

// Values 返回按首次出现顺序排列的值数组（空表返回非 nil 的空切片，便于编码为 []）
func (t *Table) Values() []any {
	if t.values == nil {
		return []any{}
	}
	return t.values
}

// Len 当前去重后的值个数
func (t *Table) Len() int { return len(t.values) }

type composite string

// key 标量直接作为 map key；切片、map 等不可比较的值按 JSON 文本区分
func key(v any) any {
	switch x := v.(type) {
	case nil, string, bool, float64, float32, int, int32, int64, uint, uint32, uint64:
		return x
	}
	b, err := json.Marshal(v)
	if err != nil {
		return composite("!" + err.Error())
	}
	return composite(b)
}
