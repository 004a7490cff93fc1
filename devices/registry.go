package devices

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"

	"github.com/elliotchance/orderedmap/v2"
	"github.com/samber/lo"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"devicearena/config"
	"devicearena/loop"
	"devicearena/mapdata"
	"devicearena/physics"
	"devicearena/questions"
)

// ErrNotReady 设备尚未全部初始化完成
var ErrNotReady = errors.New("devices: registry not ready")

const (
	MsgStateChanges = "DEVICES_STATES_CHANGES"
	MsgWorldChanges = "WORLD_CHANGES"
)

// Observer 注册表运行指标的接收方
type Observer interface {
	DevicesFlushed(changed, added, removed int)
	HookFailed(deviceType, hook string)
	SignalDropped(reason string)
}

type nopObserver struct{}

func (nopObserver) DevicesFlushed(int, int, int) {}
func (nopObserver) HookFailed(string, string)    {}
func (nopObserver) SignalDropped(string)         {}

// Options 构造注册表所需的协作者；Map、Host、Loop、Space 必填
type Options struct {
	Map       *mapdata.Map
	Host      Host
	Loop      *loop.Loop
	Space     physics.Space
	Factory   Factory
	Tables    config.Tables
	Questions questions.Source
	Signals   config.Signals
	Observer  Observer
	Logger    *zap.Logger
	Rand      *rand.Rand
}

// Registry 房间内全部设备、它们的状态与变更缓冲
//
// 除 Start 启动的加载协程外，所有方法都必须在房间调度器协程中调用。
type Registry struct {
	baseline *mapdata.Map
	host     Host
	loop     *loop.Loop
	space    physics.Space
	factory  Factory
	tables   config.Tables
	source   questions.Source
	budget   config.Signals
	obs      Observer
	log      *zap.Logger
	rnd      *rand.Rand

	devices []*Device
	byID    map[string]*Device
	wires   map[string][]mapdata.Wire

	// 待广播的变更：设备 id → 网络键 → 最新值，均保持首次插入顺序
	changes    *orderedmap.OrderedMap[string, *orderedmap.OrderedMap[string, any]]
	removedIDs []string
	added      *orderedmap.OrderedMap[string, *Device]
	removed    []string
	flushArmed bool

	booted   bool
	ready    chan struct{}
	readyErr error

	properties map[string]any
	cascade    *cascade
}

// New 按地图实例化所有设备；此时尚未开机，状态变更只缓冲不广播
func New(opts Options) *Registry {
	if opts.Factory == nil {
		opts.Factory = DefaultFactory()
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(1))
	}
	if opts.Signals.MaxDepth <= 0 {
		opts.Signals.MaxDepth = 64
	}
	if opts.Signals.MaxDispatches <= 0 {
		opts.Signals.MaxDispatches = 4096
	}
	if opts.Map == nil {
		opts.Map = &mapdata.Map{}
	}
	r := &Registry{
		baseline:   opts.Map,
		host:       opts.Host,
		loop:       opts.Loop,
		space:      opts.Space,
		factory:    opts.Factory,
		tables:     opts.Tables,
		source:     opts.Questions,
		budget:     opts.Signals,
		obs:        opts.Observer,
		log:        opts.Logger,
		rnd:        opts.Rand,
		byID:       make(map[string]*Device),
		wires:      make(map[string][]mapdata.Wire),
		changes:    orderedmap.NewOrderedMap[string, *orderedmap.OrderedMap[string, any]](),
		added:      orderedmap.NewOrderedMap[string, *Device](),
		ready:      make(chan struct{}),
		properties: make(map[string]any),
	}
	for _, w := range opts.Map.Wires {
		r.wires[w.StartDevice] = append(r.wires[w.StartDevice], w)
	}
	for _, info := range opts.Map.Devices {
		r.Create(info, false)
	}
	return r
}

func (r *Registry) Logger() *zap.Logger { return r.log }

func (r *Registry) Tables() config.Tables { return r.tables }

func (r *Registry) Host() Host { return r.host }

// Start 同步初始化所有设备，并为 Loader 设备启动加载协程；全部完成后执行首次恢复并开机
func (r *Registry) Start(ctx context.Context) {
	var loaders []*Device
	for _, d := range r.devices {
		if in, ok := d.behavior.(Initializer); ok {
			r.safely(d, "init", in.Init)
		}
		if _, ok := d.behavior.(Loader); ok {
			loaders = append(loaders, d)
		}
	}
	if len(loaders) == 0 {
		r.finishBoot(nil)
		return
	}

	pending := len(loaders)
	var errs error
	for _, d := range loaders {
		r.load(ctx, d, func(err error) {
			errs = multierr.Append(errs, err)
			pending--
			if pending == 0 {
				r.finishBoot(errs)
			}
		})
	}
}

// load 在独立协程中运行 Loader，结果投递回调度器；done 在调度器协程中调用
func (r *Registry) load(ctx context.Context, d *Device, done func(error)) {
	l := d.behavior.(Loader)
	go func() {
		var (
			apply func()
			err   error
		)
		func() {
			defer func() {
				if p := recover(); p != nil {
					err = fmt.Errorf("device %s load panic: %v", d.ID, p)
				}
			}()
			apply, err = l.Load(ctx)
		}()
		r.loop.Post(func() {
			if err != nil {
				r.log.Warn("device load failed", zap.String("device", d.ID), zap.String("type", d.Type), zap.Error(err))
			}
			if apply != nil && !d.removed {
				r.safely(d, "load", apply)
			}
			done(err)
		})
	}()
}

func (r *Registry) finishBoot(err error) {
	for _, d := range r.devices {
		r.safely(d, "restore", d.behavior.Restore)
	}
	// 开机前的变更已包含在首包快照中
	r.changes = orderedmap.NewOrderedMap[string, *orderedmap.OrderedMap[string, any]]()
	r.added = orderedmap.NewOrderedMap[string, *Device]()
	r.removed = nil
	r.removedIDs = nil
	r.booted = true
	r.readyErr = err
	close(r.ready)
	r.log.Info("devices ready", zap.Int("devices", len(r.devices)), zap.Error(err))
}

// Ready 全部设备初始化完成后关闭
func (r *Registry) Ready() <-chan struct{} { return r.ready }

// ReadyErr 加载阶段的聚合错误（设备已退回默认数据，仅供记录）
func (r *Registry) ReadyErr() error { return r.readyErr }

func (r *Registry) Booted() bool { return r.booted }

// Create 实例化设备；开机后会把它的完整状态作为新增广播出去
func (r *Registry) Create(info mapdata.DeviceInfo, initNow bool) *Device {
	if old, ok := r.byID[info.ID]; ok {
		r.log.Warn("replacing device with duplicate id", zap.String("device", info.ID))
		r.Remove(old)
	}
	d := newDevice(r, info)
	d.grids = r.baseline.GridsFor(info.ID)
	d.behavior = r.factory.New(d)

	r.devices = append(r.devices, d)
	r.byID[d.ID] = d
	r.added.Set(d.ID, d)
	// 同一窗口内先移除后重建：只发新增，客户端按 id 整体替换
	r.removed = lo.Without(r.removed, d.ID)

	if initNow {
		if in, ok := d.behavior.(Initializer); ok {
			r.safely(d, "init", in.Init)
		}
	}
	if !r.booted {
		return d
	}
	r.stageFullState(d)
	r.scheduleFlush()
	if _, ok := d.behavior.(Loader); ok {
		r.load(context.Background(), d, func(error) {
			if !d.removed {
				r.safely(d, "restore", d.behavior.Restore)
			}
		})
	}
	return d
}

// Remove 移除设备；重复移除是无操作。同一广播窗口内先新增后移除的设备两条记录都不会发出
func (r *Registry) Remove(d *Device) {
	if d == nil || d.removed || r.byID[d.ID] != d {
		return
	}
	if rm, ok := d.behavior.(Remover); ok {
		r.safely(d, "remove", rm.OnRemove)
	}
	d.stopTimers()
	d.removed = true

	delete(r.byID, d.ID)
	r.devices = lo.Without(r.devices, d)
	r.changes.Delete(d.ID)
	if _, pending := r.added.Get(d.ID); pending {
		r.added.Delete(d.ID)
	} else {
		r.removed = append(r.removed, d.ID)
	}
	r.scheduleFlush()
}

func (r *Registry) FindByID(id string) *Device { return r.byID[id] }

// FindByType 按注册顺序返回该类型的全部设备
func (r *Registry) FindByType(tag string) []*Device {
	return lo.Filter(r.devices, func(d *Device, _ int) bool { return d.Type == tag })
}

// Devices 按注册顺序返回设备列表的副本
func (r *Registry) Devices() []*Device {
	out := make([]*Device, len(r.devices))
	copy(out, r.devices)
	return out
}

// MapSettings mapOptions 设备的选项
func (r *Registry) MapSettings() map[string]any {
	if opts := r.FindByType("mapOptions"); len(opts) > 0 {
		return opts[0].Options
	}
	return nil
}

// RestoreAll 回合重置：与地图基线对齐设备集合，并让每个设备从选项重新推导状态
//
// 所有设备 id 都进入 removedIds，随后同一次刷新中带上完整状态，客户端据此整体替换。
func (r *Registry) RestoreAll() {
	baseline := make(map[string]int, len(r.baseline.Devices))
	for i, info := range r.baseline.Devices {
		baseline[info.ID] = i
	}
	for _, d := range r.Devices() {
		if _, ok := baseline[d.ID]; !ok {
			r.Remove(d)
		}
	}
	for _, info := range r.baseline.Devices {
		if _, ok := r.byID[info.ID]; !ok {
			r.Create(info, true)
		}
	}
	sortByBaseline(r.devices, baseline)

	r.properties = make(map[string]any)
	r.removedIDs = lo.Map(r.devices, func(d *Device, _ int) string { return d.ID })
	for _, d := range r.Devices() {
		// 之前的 Restore 钩子可能已移除该设备
		if d.removed {
			continue
		}
		r.changes.Delete(d.ID)
		d.clearState()
		r.safely(d, "restore", d.behavior.Restore)
		r.stageFullState(d)
	}
	r.scheduleFlush()
}

// Join 新玩家加入：依次调用每个设备的 OnJoin
func (r *Registry) Join(p Player) {
	for _, d := range r.Devices() {
		if d.removed {
			continue
		}
		r.safely(d, "onJoin", func() { d.behavior.OnJoin(p) })
	}
}

// Leave 丢弃该玩家的私有状态（不广播，客户端随连接一起丢弃）
func (r *Registry) Leave(p Player) {
	for _, d := range r.devices {
		d.forgetPlayer(p.ID())
	}
}

// HandleMessage 客户端发给设备的消息；未知设备忽略
func (r *Registry) HandleMessage(p Player, deviceID, key string, data any) {
	d := r.byID[deviceID]
	if d == nil {
		return
	}
	r.safely(d, "onMessage", func() { d.behavior.OnMessage(p, key, data) })
}

// HandleUIPresence 玩家打开或关闭设备界面；返回设备是否存在
func (r *Registry) HandleUIPresence(p Player, action, deviceID string) bool {
	d := r.byID[deviceID]
	if d == nil {
		return false
	}
	if action == "OPEN" {
		r.safely(d, "onOpen", func() { d.behavior.OnOpen(p) })
		p.SetOpenDeviceUI(d.ID)
	} else {
		r.safely(d, "onClose", func() { d.behavior.OnClose(p) })
		p.SetOpenDeviceUI("")
	}
	return true
}

// Property 没有对应属性设备时使用的房间级属性
func (r *Registry) Property(name string) any { return r.properties[name] }

func (r *Registry) SetProperty(name string, v any) { r.properties[name] = v }

func (r *Registry) addChange(deviceID, key string, value any) {
	m, ok := r.changes.Get(deviceID)
	if !ok {
		m = orderedmap.NewOrderedMap[string, any]()
		r.changes.Set(deviceID, m)
	}
	m.Set(key, value)
	r.scheduleFlush()
}

func (r *Registry) stageFullState(d *Device) {
	for _, kv := range d.stateChanges() {
		r.addChange(d.ID, kv[0].(string), kv[1])
	}
}

// scheduleFlush 空闲窗口中的第一次变更安排一次回合结束后的刷新
func (r *Registry) scheduleFlush() {
	if !r.booted || r.flushArmed {
		return
	}
	r.flushArmed = true
	r.loop.Defer(r.flush)
}

// flush 先发 WORLD_CHANGES（新增/移除设备），再发 DEVICES_STATES_CHANGES
func (r *Registry) flush() {
	r.flushArmed = false
	added, removed := r.added.Len(), len(r.removed)
	if added > 0 || removed > 0 {
		devs := make([]*Device, 0, added)
		for el := r.added.Front(); el != nil; el = el.Next() {
			devs = append(devs, el.Value)
		}
		msg := WorldChanges{Devices: WorldDevices{
			AddedDevices:   encodeAdded(devs),
			RemovedDevices: nonNil(r.removed),
		}}
		r.added = orderedmap.NewOrderedMap[string, *Device]()
		r.removed = nil
		r.host.Broadcast(MsgWorldChanges, msg)
	}

	changed := r.changes.Len()
	if changed > 0 || len(r.removedIDs) > 0 {
		msg := encodeChanges(r.changes, nonNil(r.removedIDs), false)
		r.changes = orderedmap.NewOrderedMap[string, *orderedmap.OrderedMap[string, any]]()
		r.removedIDs = nil
		r.host.Broadcast(MsgStateChanges, msg)
	}
	r.obs.DevicesFlushed(changed, added, removed)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func sortByBaseline(devs []*Device, baseline map[string]int) {
	rank := func(d *Device) int {
		if i, ok := baseline[d.ID]; ok {
			return i
		}
		return len(baseline)
	}
	sort.SliceStable(devs, func(i, j int) bool { return rank(devs[i]) < rank(devs[j]) })
}
