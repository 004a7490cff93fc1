package server

import (
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/multierr"

	"devicearena/config"
	"devicearena/journal"
	"devicearena/mapdata"
	"devicearena/questions"
)

// RoomManager 管理多个房间的生命周期
type RoomManager struct {
	mu    sync.RWMutex
	rooms map[string]*Room

	cfg       config.Config
	questions questions.Source
	seed      int64
}

var (
	defaultManager *RoomManager
	once           sync.Once
)

// InitRoomManager 用进程配置初始化单例房间管理器；只有第一次调用生效
func InitRoomManager(cfg config.Config, src questions.Source) *RoomManager {
	once.Do(func() {
		defaultManager = NewRoomManager(cfg, src)
	})
	return defaultManager
}

// GetRoomManager 单例房间管理器；未初始化时使用默认配置
func GetRoomManager() *RoomManager {
	return InitRoomManager(config.Defaults(), nil)
}

func NewRoomManager(cfg config.Config, src questions.Source) *RoomManager {
	return &RoomManager{
		rooms:     make(map[string]*Room),
		cfg:       cfg,
		questions: src,
		seed:      time.Now().UnixNano(),
	}
}

// Room 按 id 查找已存在的房间
func (m *RoomManager) Room(id string) (*Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[id]
	return r, ok
}

// Rooms 按 id 排序的房间列表
func (m *RoomManager) Rooms() []*Room {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetOrCreateRoom 获取或创建房间，并确保开始 Tick；mapName 为空时使用默认地图
func (m *RoomManager) GetOrCreateRoom(id, mapName string) (*Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rooms[id]; ok {
		return r, nil
	}

	gameMap, err := m.loadMap(mapName)
	if err != nil {
		return nil, err
	}
	var jw *journal.Writer
	if m.cfg.JournalDir != "" {
		if jw, err = journal.Open(m.cfg.JournalDir, id, time.Now()); err != nil {
			return nil, fmt.Errorf("room %s journal: %w", id, err)
		}
	}
	m.seed++
	r := NewRoom(id, RoomOptions{
		Config:    m.cfg,
		Map:       gameMap,
		Questions: m.questions,
		Journal:   jw,
		Logger:    Log.Desugar(),
		Seed:      m.seed,
	})
	m.rooms[id] = r
	r.Start()
	Log.Infof("room created: id=%s map=%q devices=%d tiles=%d", id, mapName, len(gameMap.Devices), len(gameMap.Tiles))
	return r, nil
}

func (m *RoomManager) loadMap(name string) (*mapdata.Map, error) {
	if name == "" {
		name = m.cfg.DefaultMap
	}
	if name == "" {
		return &mapdata.Map{}, nil
	}
	// 只取文件名，防止跳出地图目录
	path := filepath.Join(m.cfg.MapDir, filepath.Base(name)+".json")
	gameMap, err := mapdata.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load map %q: %w", name, err)
	}
	return gameMap, nil
}

// CloseRoom 关闭并移除房间
func (m *RoomManager) CloseRoom(id string) error {
	m.mu.Lock()
	r, ok := m.rooms[id]
	delete(m.rooms, id)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return r.Close()
}

// CloseAll 关闭全部房间，聚合各房间的错误
func (m *RoomManager) CloseAll() error {
	m.mu.Lock()
	rooms := m.rooms
	m.rooms = make(map[string]*Room)
	m.mu.Unlock()

	var err error
	for _, r := range rooms {
		err = multierr.Append(err, r.Close())
	}
	return err
}
