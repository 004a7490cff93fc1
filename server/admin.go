package server

import (
	"encoding/json"
	"net/http"

	"devicearena/config"
)

func lookupRoom(w http.ResponseWriter, r *http.Request) (*Room, bool) {
	roomID := r.URL.Query().Get("room")
	if roomID == "" {
		roomID = "room-1"
	}
	room, ok := GetRoomManager().Room(roomID)
	if !ok {
		http.Error(w, "room not found", http.StatusNotFound)
	}
	return room, ok
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// HandleAdminConfig 提供房间配置的读取与更新（热更新限速）
// GET /admin/config?room=room-1  返回当前配置
// POST /admin/config?room=room-1 以 JSON 载荷更新部分字段
func HandleAdminConfig(w http.ResponseWriter, r *http.Request) {
	room, ok := lookupRoom(w, r)
	if !ok {
		return
	}

	type cfg struct {
		TickRateHz int               `json:"tickRateHz"`
		Signals    config.Signals    `json:"signals"`
		RateLimit  *config.RateLimit `json:"rateLimit,omitempty"`
	}

	switch r.Method {
	case http.MethodGet:
		var cur cfg
		err := room.Do(func() {
			limit := room.limit
			cur = cfg{TickRateHz: room.tickRate(), Signals: room.cfg.Signals, RateLimit: &limit}
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, cur)
	case http.MethodPost:
		var body cfg
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if body.RateLimit == nil {
			http.Error(w, "nothing to update", http.StatusBadRequest)
			return
		}
		if body.RateLimit.PerSecond < 0 || body.RateLimit.Burst < 0 {
			http.Error(w, "rateLimit must not be negative", http.StatusBadRequest)
			return
		}
		limit := *body.RateLimit
		if err := room.Do(func() { room.setRateLimit(limit) }); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, map[string]any{"ok": true})
		Log.Infof("config updated: room=%s rateLimit=%.1f/s burst=%d", room.ID, limit.PerSecond, limit.Burst)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleMetrics 输出指定房间的运行指标与世界摘要
// GET /metrics?room=room-1
func HandleMetrics(w http.ResponseWriter, r *http.Request) {
	room, ok := lookupRoom(w, r)
	if !ok {
		return
	}
	payload := map[string]any{
		"room":    room.ID,
		"tick":    room.tickSeq.Load(),
		"metrics": room.metrics.Snapshot(),
	}
	// 摘要需要读取世界状态，放到调度器中执行
	err := room.Do(func() {
		payload["players"] = len(room.order)
		payload["devices"] = len(room.devices.Devices())
		payload["tiles"] = room.terrain.Len()
		payload["devicesDigest"] = room.devices.Digest()
		payload["terrainDigest"] = room.terrain.Digest()
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, payload)
}
