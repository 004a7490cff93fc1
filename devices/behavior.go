package devices

import (
	"context"

	"github.com/go-gl/mathgl/mgl64"

	"devicearena/blocks"
)

// Player 设备层看到的玩家
type Player interface {
	blocks.Actor
	Position() mgl64.Vec2
	// AddItem 放入背包，返回放不下的数量
	AddItem(itemID string, amount, clip int) int
	// SetOpenDeviceUI 打开设备界面，空串表示关闭
	SetOpenDeviceUI(deviceID string)
	Send(msgType string, payload any)
}

// Host 设备所在的房间
type Host interface {
	Players() []Player
	Broadcast(msgType string, payload any)
	ActivityFeed(target blocks.FeedTarget, actor Player, text string)
	TeamScore(teamID string) float64
	SecondsIntoGame() float64
}

// Behavior 设备类型的行为；不关心的钩子嵌入 Passive 即可
type Behavior interface {
	Restore()
	OnJoin(p Player)
	OnMessage(p Player, key string, data any)
	OnChannel(channel string, actor Player)
	OnWire(connection string, actor Player)
	OnOpen(p Player)
	OnClose(p Player)
}

// Initializer 创建后同步初始化（开机阶段或动态创建时 initNow）
type Initializer interface {
	Init()
}

// Loader 需要异步加载外部数据的设备
//
// Load 在调度器协程之外运行，不能触碰任何设备状态；返回的 apply 回到调度器协程中执行。
type Loader interface {
	Load(ctx context.Context) (apply func(), err error)
}

// Remover 移除前释放设备自己持有的资源（碰撞体等）
type Remover interface {
	OnRemove()
}

// Passive 无行为的默认实现，未知类型的设备也使用它
type Passive struct{}

func (Passive) Restore()                      {}
func (Passive) OnJoin(Player)                 {}
func (Passive) OnMessage(Player, string, any) {}
func (Passive) OnChannel(string, Player)      {}
func (Passive) OnWire(string, Player)         {}
func (Passive) OnOpen(Player)                 {}
func (Passive) OnClose(Player)                {}

// Constructor 为设备构造行为
type Constructor func(d *Device) Behavior

// Factory 类型标签到构造函数的映射
type Factory map[string]Constructor

// New 未知类型退回 Passive
func (f Factory) New(d *Device) Behavior {
	if ctor, ok := f[d.Type]; ok && ctor != nil {
		if b := ctor(d); b != nil {
			return b
		}
	}
	return Passive{}
}

// DefaultFactory 内置设备类型
func DefaultFactory() Factory {
	return Factory{
		"passive":            func(*Device) Behavior { return Passive{} },
		"mapOptions":         newMapOptions,
		"button":             newButton,
		"prop":               newProp,
		"itemGranter":        newItemGranter,
		"droppedItem":        newDroppedItem,
		"gimkitLiveQuestion": newQuestioner,
		"property":           newProperty,
	}
}
