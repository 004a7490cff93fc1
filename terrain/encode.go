package terrain

import (
	"sort"

	"github.com/samber/lo"

	"devicearena/values"
)

// Added 新增地形；每条记录为 [x, y, terrainIdx, collides, depth, lengthX, lengthY]，末尾的 0 省略
type Added struct {
	Terrains []string `json:"terrains"`
	Tiles    [][]int  `json:"tiles"`
}

// Changes TERRAIN_CHANGES 消息
type Changes struct {
	Added          Added       `json:"added"`
	Initial        bool        `json:"initial"`
	RemovedTiles   []string    `json:"removedTiles"`
	ModifiedHealth [][]float64 `json:"modifiedHealth"`
	UpdateID       int         `json:"updateId"`
}

// Encode 行程编码：从锚点格出发，分别沿 +X 与 +Y 合并地形、碰撞与深度相同的连续格
//
// 锚点按 depth、y、x 顺序选取，已并入其他记录的格不再作为锚点或被重复合并。
func Encode(tiles []Tile) Added {
	byKey := make(map[Key]Tile, len(tiles))
	for _, t := range tiles {
		byKey[t.Key()] = t
	}
	sorted := make([]Tile, len(tiles))
	copy(sorted, tiles)
	sort.SliceStable(sorted, func(i, j int) bool { return less(sorted[i], sorted[j]) })

	table := values.NewTable()
	records := make([][]int, 0, len(sorted))
	visited := make(map[Key]bool, len(sorted))
	for _, t := range sorted {
		if visited[t.Key()] {
			continue
		}
		visited[t.Key()] = true
		matches := func(x, y int) bool {
			k := Key{Depth: t.Depth, X: x, Y: y}
			o, ok := byKey[k]
			return ok && !visited[k] && o.Terrain == t.Terrain && o.Collides == t.Collides && o.Depth == t.Depth
		}
		lx, ly := 0, 0
		for matches(t.X+lx+1, t.Y) {
			lx++
			visited[Key{Depth: t.Depth, X: t.X + lx, Y: t.Y}] = true
		}
		for matches(t.X, t.Y+ly+1) {
			ly++
			visited[Key{Depth: t.Depth, X: t.X, Y: t.Y + ly}] = true
		}

		rec := []int{t.X, t.Y, table.Add(t.Terrain), lo.Ternary(t.Collides, 1, 0), t.Depth}
		switch {
		case ly > 0:
			rec = append(rec, lx, ly)
		case lx > 0:
			rec = append(rec, lx)
		}
		records = append(records, rec)
	}
	terrains := lo.Map(table.Values(), func(v any, _ int) string {
		s, _ := v.(string)
		return s
	})
	return Added{Terrains: terrains, Tiles: records}
}

// Expand 把行程编码还原为逐格列表；格式错误的记录被跳过
func Expand(a Added) []Tile {
	var out []Tile
	for _, rec := range a.Tiles {
		if len(rec) < 5 || rec[2] < 0 || rec[2] >= len(a.Terrains) {
			continue
		}
		x, y, depth := rec[0], rec[1], rec[4]
		base := Tile{Depth: depth, Terrain: a.Terrains[rec[2]], Collides: rec[3] == 1}
		lx, ly := 0, 0
		if len(rec) > 5 {
			lx = rec[5]
		}
		if len(rec) > 6 {
			ly = rec[6]
		}
		for i := 0; i <= lx; i++ {
			t := base
			t.X, t.Y = x+i, y
			out = append(out, t)
		}
		for j := 1; j <= ly; j++ {
			t := base
			t.X, t.Y = x, y+j
			out = append(out, t)
		}
	}
	return out
}
