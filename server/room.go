package server

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sync"

	"github.com/samber/lo"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"devicearena/blocks"
	"devicearena/config"
	"devicearena/devices"
	"devicearena/journal"
	"devicearena/loop"
	"devicearena/mapdata"
	"devicearena/physics"
	"devicearena/questions"
	"devicearena/terrain"
)

// ErrRoomClosed 房间已关闭
var ErrRoomClosed = errors.New("room closed")

// RoomOptions 构造房间所需的依赖；Journal、Questions 可为空
type RoomOptions struct {
	Config    config.Config
	Map       *mapdata.Map
	Questions questions.Source
	Journal   *journal.Writer
	Logger    *zap.Logger
	Seed      int64
}

// Room 房间世界：权威状态维护在内存，所有修改都在房间调度器的回合中执行
type Room struct {
	ID string

	cfg  config.Config
	log  *zap.Logger
	loop *loop.Loop

	space    *physics.World
	devices  *devices.Registry
	terrain  *terrain.Store
	dispatch *Dispatcher
	metrics  *RoomMetrics
	journal  *journal.Writer

	// 以下字段只在调度器协程中读写
	players map[PlayerID]*Player
	order   []*Player
	pending []*Player
	host    PlayerID
	moved   map[PlayerID]bool
	limit   config.RateLimit

	tickSeq atomic.Int64
	started atomic.Bool

	ctx           context.Context
	cancel        context.CancelFunc
	tickerStarted bool
	closeOnce     sync.Once
}

// NewRoom 创建房间，按地图实例化设备与地形；Start 之前不会运行任何回合
func NewRoom(id string, opts RoomOptions) *Room {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Map == nil {
		opts.Map = &mapdata.Map{}
	}
	log := opts.Logger.With(zap.String("room", id))
	r := &Room{
		ID:       id,
		cfg:      opts.Config,
		log:      log,
		loop:     loop.New(1024, log), // 足够缓冲，避免网络读阻塞
		space:    physics.NewWorld(),
		dispatch: NewDispatcher(),
		metrics:  &RoomMetrics{},
		journal:  opts.Journal,
		players:  make(map[PlayerID]*Player),
		moved:    make(map[PlayerID]bool),
		limit:    opts.Config.RateLimit,
	}
	r.ctx, r.cancel = context.WithCancel(context.Background())
	r.devices = devices.New(devices.Options{
		Map:       opts.Map,
		Host:      r,
		Loop:      r.loop,
		Space:     r.space,
		Tables:    opts.Config.Tables,
		Questions: opts.Questions,
		Signals:   opts.Config.Signals,
		Observer:  r.metrics,
		Logger:    log.Named("devices"),
		Rand:      rand.New(rand.NewSource(opts.Seed)),
	})
	r.terrain = terrain.New(terrain.Options{
		Baseline: opts.Map.Tiles,
		Space:    r.space,
		Loop:     r.loop,
		Host:     r,
		Tables:   opts.Config.Tables,
		Observer: r.metrics,
		Logger:   log.Named("terrain"),
	})
	r.registerHandlers()
	return r
}

// Start 启动调度器与 Tick；设备全部就绪后才接纳等待中的玩家
func (r *Room) Start() {
	if r.started.Swap(true) {
		return
	}
	go r.loop.Run(r.ctx)
	r.loop.Post(func() { r.devices.Start(r.ctx) })
	go func() {
		select {
		case <-r.devices.Ready():
			if err := r.devices.ReadyErr(); err != nil {
				r.log.Warn("devices ready with load errors", zap.Error(err))
			}
			r.loop.Post(r.admitPending)
		case <-r.ctx.Done():
		}
	}()
	r.StartTicker()
}

// Do 在调度器中执行 fn 并等待该回合（含回合末的广播）结束
func (r *Room) Do(fn func()) error {
	done := make(chan struct{})
	if !r.loop.Post(func() {
		fn()
		r.loop.Defer(func() { close(done) })
	}) {
		return ErrRoomClosed
	}
	select {
	case <-done:
		return nil
	case <-r.loop.Stopped():
		return ErrRoomClosed
	}
}

// Close 停止调度器，断开所有连接并关闭日志
func (r *Room) Close() error {
	var err error
	r.closeOnce.Do(func() {
		if r.started.Load() {
			_ = r.Do(func() {
				for _, p := range r.order {
					if p.out != nil {
						p.out.Close()
					}
				}
			})
		}
		r.cancel()
		if r.journal != nil {
			err = multierr.Append(err, r.journal.Close())
		}
		r.log.Info("room closed")
	})
	return err
}

// AddPlayer 创建玩家并在调度器中加入房间；设备未就绪时排队等待
func (r *Room) AddPlayer(id PlayerID, name, team string, out Outbox) *Player {
	p := &Player{
		id:      id,
		name:    name,
		team:    team,
		room:    r,
		out:     out,
		inv:     NewInventory(r.cfg.Tables),
		limiter: newLimiter(r.cfg.RateLimit),
	}
	if !r.loop.Post(func() { r.admit(p) }) && out != nil {
		out.Close()
	}
	return p
}

func newLimiter(cfg config.RateLimit) *rate.Limiter {
	if cfg.PerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(cfg.PerSecond), cfg.Burst)
}

func (r *Room) admit(p *Player) {
	p.limiter.SetLimit(newLimiter(r.limit).Limit())
	p.limiter.SetBurst(r.limit.Burst)
	if !r.devices.Booted() {
		r.pending = append(r.pending, p)
		return
	}
	if old, ok := r.players[p.id]; ok {
		r.removePlayer(old)
	}
	r.players[p.id] = p
	r.order = append(r.order, p)
	if r.host == "" {
		r.host = p.id
	}
	r.devices.Join(p)
	p.sendInventory()
	r.log.Info("player joined", zap.String("player", string(p.id)), zap.String("team", p.team))
}

func (r *Room) admitPending() {
	pending := r.pending
	r.pending = nil
	for _, p := range pending {
		r.admit(p)
	}
}

// Leave 请求在调度器中移除玩家
func (r *Room) Leave(p *Player) {
	r.loop.Post(func() {
		r.pending = lo.Without(r.pending, p)
		if r.players[p.id] == p {
			r.removePlayer(p)
		}
	})
}

func (r *Room) removePlayer(p *Player) {
	p.reload.Cancel()
	p.releaseSubscriptions()
	r.devices.Leave(p)
	delete(r.players, p.id)
	delete(r.moved, p.id)
	r.order = lo.Without(r.order, p)
	if r.host == p.id {
		r.host = ""
		if len(r.order) > 0 {
			r.host = r.order[0].id
		}
	}
	if p.out != nil {
		p.out.Close()
	}
	r.log.Info("player left", zap.String("player", string(p.id)))
}

// HandleRaw 网络读协程收到的一条消息：限速后作为一个回合投递给调度器
func (r *Room) HandleRaw(p *Player, raw []byte) {
	if !p.limiter.Allow() {
		r.metrics.IncRateLimited()
		return
	}
	var in inbound
	if err := json.Unmarshal(raw, &in); err != nil || in.Type == "" {
		r.metrics.IncUnknown()
		return
	}
	// 不阻塞：队列满时丢弃，保证网络读不被房间拖慢
	if !r.loop.TryPost(func() { r.dispatchMessage(p, in) }) {
		r.metrics.IncChanFullDiscarded()
		return
	}
	r.metrics.IncAccepted()
}

func (r *Room) dispatchMessage(p *Player, in inbound) {
	if r.players[p.id] != p {
		return
	}
	if !r.dispatch.Dispatch(p, in.Type, in.Payload) {
		r.metrics.IncUnknown()
		r.log.Debug("unhandled message", zap.String("type", in.Type), zap.String("player", string(p.id)))
	}
}

// Players 按加入顺序返回在线玩家
func (r *Room) Players() []devices.Player {
	return lo.Map(r.order, func(p *Player, _ int) devices.Player { return p })
}

// Broadcast 将消息发给房间内所有玩家
func (r *Room) Broadcast(typ string, payload any) {
	b, err := json.Marshal(Envelope{Type: typ, Payload: payload})
	if err != nil {
		r.log.Error("encode broadcast", zap.String("type", typ), zap.Error(err))
		return
	}
	r.record(typ, "", payload)
	for _, p := range r.order {
		if p.out != nil {
			p.out.Enqueue(b)
		}
	}
}

func (r *Room) ActivityFeed(target blocks.FeedTarget, actor devices.Player, text string) {
	switch target {
	case blocks.FeedEveryone:
		r.Broadcast(MsgActivityFeed, map[string]string{"text": text})
	case blocks.FeedTriggeringPlayer:
		if p, ok := actor.(*Player); ok && p != nil {
			p.feed(text)
		}
	case blocks.FeedHost:
		if p := r.players[r.host]; p != nil {
			p.feed(text)
		}
	}
}

func (r *Room) TeamScore(team string) float64 {
	var total float64
	for _, p := range r.order {
		if p.team == team {
			total += p.score
		}
	}
	return total
}

// SecondsIntoGame 按 Tick 计的游戏时长
func (r *Room) SecondsIntoGame() float64 {
	return float64(r.tickSeq.Load()) / float64(r.tickRate())
}

func (r *Room) tickRate() int {
	if r.cfg.TickRateHz <= 0 {
		return TicksPerSecond
	}
	return r.cfg.TickRateHz
}

// record 写入消息日志；to 为空表示广播
func (r *Room) record(typ string, to PlayerID, payload any) {
	if r.journal == nil {
		return
	}
	if err := r.journal.Append(r.ID, typ, string(to), payload); err != nil {
		r.log.Warn("journal append failed", zap.String("type", typ), zap.Error(err))
	}
}

// setRateLimit 调整所有玩家的入站限速
func (r *Room) setRateLimit(cfg config.RateLimit) {
	r.limit = cfg
	l := newLimiter(cfg)
	for _, p := range r.order {
		p.limiter.SetLimit(l.Limit())
		p.limiter.SetBurst(cfg.Burst)
	}
}
