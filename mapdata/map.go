package mapdata

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"

	"devicearena/blocks"
)

// ErrInvalidMap 地图文件无法解析或不符合 schema
var ErrInvalidMap = errors.New("mapdata: invalid map")

// Map 地图作者导出的完整世界定义，加载后只读
type Map struct {
	MapStyle  string                         `json:"mapStyle,omitempty" jsonschema:"enum=platformer,enum=topDown"`
	Devices   []DeviceInfo                   `json:"devices" jsonschema:"required"`
	Tiles     []Tile                         `json:"tiles,omitempty"`
	Wires     []Wire                         `json:"wires,omitempty"`
	CodeGrids map[string]map[string]CodeGrid `json:"codeGrids,omitempty"`
	Meta      *Meta                          `json:"meta,omitempty"`
}

// DeviceInfo 设备的作者定义
type DeviceInfo struct {
	ID       string         `json:"id" jsonschema:"required,minLength=1"`
	X        float64        `json:"x"`
	Y        float64        `json:"y"`
	Depth    float64        `json:"depth"`
	Layer    string         `json:"layer"`
	DeviceID string         `json:"deviceId" jsonschema:"required"`
	Options  map[string]any `json:"options,omitempty"`
}

// Tile 地形格子的基线定义
type Tile struct {
	X        int    `json:"x"`
	Y        int    `json:"y"`
	Depth    int    `json:"depth"`
	Terrain  string `json:"terrain" jsonschema:"required"`
	Collides bool   `json:"collides"`
}

// Wire 设备间的有向连线
type Wire struct {
	ID              string `json:"id"`
	StartDevice     string `json:"startDevice" jsonschema:"required"`
	EndDevice       string `json:"endDevice" jsonschema:"required"`
	StartConnection string `json:"startConnection" jsonschema:"required"`
	EndConnection   string `json:"endConnection" jsonschema:"required"`
}

// CodeGrid 挂在设备上的一段积木脚本
type CodeGrid struct {
	JSON         blocks.Workspace `json:"json"`
	TriggerType  string           `json:"triggerType" jsonschema:"required"`
	TriggerValue string           `json:"triggerValue,omitempty"`
	CreatedAt    int64            `json:"createdAt,omitempty"`
	UpdatedAt    int64            `json:"updatedAt,omitempty"`
}

// Meta 地图展示信息
type Meta struct {
	Name     string `json:"name"`
	Tagline  string `json:"tagline,omitempty"`
	ImageURL string `json:"imageUrl,omitempty"`
	Tag      string `json:"tag,omitempty"`
	PageText string `json:"pageText,omitempty"`
}

// GridsFor 返回设备的全部代码格，按格子 id 排序保证执行顺序稳定
func (m *Map) GridsFor(deviceID string) []CodeGrid {
	grids := m.CodeGrids[deviceID]
	if len(grids) == 0 {
		return nil
	}
	ids := make([]string, 0, len(grids))
	for id := range grids {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]CodeGrid, 0, len(ids))
	for _, id := range ids {
		out = append(out, grids[id])
	}
	return out
}

// Load 从文件读取并校验地图
func Load(path string) (*Map, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read map %s: %w", path, err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("load map %s: %w", path, err)
	}
	return m, nil
}

// Parse 校验 schema 后解码；重复的设备 id 与坐标重叠的格子同样视为无效
func Parse(data []byte) (*Map, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMap, err)
	}
	schema, err := compiledSchema()
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMap, err)
	}

	var m Map
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMap, err)
	}
	if err := m.check(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Map) check() error {
	ids := make(map[string]struct{}, len(m.Devices))
	for _, d := range m.Devices {
		if _, dup := ids[d.ID]; dup {
			return fmt.Errorf("%w: duplicate device id %q", ErrInvalidMap, d.ID)
		}
		ids[d.ID] = struct{}{}
	}
	type key struct{ depth, x, y int }
	tiles := make(map[key]struct{}, len(m.Tiles))
	for _, t := range m.Tiles {
		k := key{t.Depth, t.X, t.Y}
		if _, dup := tiles[k]; dup {
			return fmt.Errorf("%w: duplicate tile %s", ErrInvalidMap,
				strconv.Itoa(t.Depth)+"_"+strconv.Itoa(t.X)+"_"+strconv.Itoa(t.Y))
		}
		tiles[k] = struct{}{}
	}
	return nil
}
