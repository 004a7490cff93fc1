package blocks

import "math/rand"

// Value 积木求值结果：nil 表示 undefined，数字统一为 float64
type Value = any

// Variables 单次触发内共享的变量表，不跨触发保留
type Variables map[string]Value

// Actor 触发脚本的玩家
type Actor interface {
	ID() string
	Name() string
	TeamID() string
	Score() float64
}

// FeedTarget 动态消息的接收范围
type FeedTarget int

const (
	FeedEveryone FeedTarget = iota
	FeedTriggeringPlayer
	FeedHost
)

// Env 脚本运行所在的世界：由设备层实现，解释器只通过它产生副作用
type Env interface {
	// Actor 可能为 nil（例如由计时器触发）
	Actor() Actor
	TriggerChannel(channel string)
	ActivityFeed(target FeedTarget, text string)
	Property(name string) Value
	SetProperty(name string, v Value)
	TeamScore(teamID string) float64
	SecondsIntoGame() float64
	IsLiveGame() bool
	Rand() *rand.Rand
}

// Call 自定义积木处理器的调用上下文
type Call struct {
	Block *Block
	Env   Env
	Vars  Variables

	in *interp
}

// Run 求值输入槽 slot 中的积木（可递归回到解释器）
func (c *Call) Run(slot string) Value {
	return c.in.run(c.Block.Input(slot))
}

// Handler 自定义积木：完全接管该类型积木的求值
type Handler func(c *Call) Value

// Lookup 按积木类型查找自定义处理器
type Lookup interface {
	Lookup(blockType string) (Handler, bool)
}

// Handlers 类型到处理器的简单映射
type Handlers map[string]Handler

func (h Handlers) Lookup(blockType string) (Handler, bool) {
	fn, ok := h[blockType]
	return fn, ok && fn != nil
}

// Chain 依次查找，先命中者优先（触发级处理器放在设备级前面）
type Chain []Lookup

func (c Chain) Lookup(blockType string) (Handler, bool) {
	for _, l := range c {
		if l == nil {
			continue
		}
		if fn, ok := l.Lookup(blockType); ok {
			return fn, true
		}
	}
	return nil, false
}

// NopEnv 不产生副作用的环境，可嵌入后按需覆盖方法
type NopEnv struct {
	Rnd *rand.Rand
}

func (NopEnv) Actor() Actor                    { return nil }
func (NopEnv) TriggerChannel(string)           {}
func (NopEnv) ActivityFeed(FeedTarget, string) {}
func (NopEnv) Property(string) Value           { return nil }
func (NopEnv) SetProperty(string, Value)       {}
func (NopEnv) TeamScore(string) float64        { return 0 }
func (NopEnv) SecondsIntoGame() float64        { return 0 }
func (NopEnv) IsLiveGame() bool                { return true }

func (e NopEnv) Rand() *rand.Rand {
	if e.Rnd != nil {
		return e.Rnd
	}
	return rand.New(rand.NewSource(1))
}
