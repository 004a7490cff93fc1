package loop

import (
	"context"
	"fmt"
	"sync"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
)

// Loop 房间的单线程协作式调度器：所有世界状态的修改都在 Loop 的一个个 Turn 中执行
//
// 一个 Turn 结束后、下一个 Turn 开始前，会清空本 Turn 中 Defer 的任务
// （相当于“当前同步回合结束后再执行”），合并广播正是依赖这一点。
type Loop struct {
	tasks    chan func()
	deferred []func()

	stopped  chan struct{}
	stopOnce sync.Once

	logger *zap.Logger
}

// New 创建调度器，buffer 为跨协程投递任务的通道容量
func New(buffer int, logger *zap.Logger) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	if buffer <= 0 {
		buffer = 256
	}
	return &Loop{
		tasks:   make(chan func(), buffer),
		stopped: make(chan struct{}),
		logger:  logger,
	}
}

// Post 从任意协程投递一个 Turn；调度器已停止时返回 false
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.stopped:
		return false
	default:
	}
	select {
	case l.tasks <- fn:
		return true
	case <-l.stopped:
		return false
	}
}

// TryPost 非阻塞投递：队列满时直接丢弃（与输入拥塞时的丢弃策略一致）
func (l *Loop) TryPost(fn func()) bool {
	select {
	case <-l.stopped:
		return false
	case l.tasks <- fn:
		return true
	default:
		return false
	}
}

// Defer 在当前 Turn 结束后执行 fn，只能在调度器协程内调用
func (l *Loop) Defer(fn func()) {
	l.deferred = append(l.deferred, fn)
}

// Turn 同步执行一个回合：先执行 fn，再清空延迟队列（延迟任务可以继续 Defer）
func (l *Loop) Turn(fn func()) {
	l.call(fn)
	for len(l.deferred) > 0 {
		queue := l.deferred
		l.deferred = nil
		for _, d := range queue {
			l.call(d)
		}
	}
}

// Run 在当前协程中循环处理投递的任务，直到 ctx 结束
func (l *Loop) Run(ctx context.Context) {
	defer l.stop()
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-l.tasks:
			l.Turn(fn)
		}
	}
}

// Stopped 调度器退出后关闭
func (l *Loop) Stopped() <-chan struct{} { return l.stopped }

func (l *Loop) stop() {
	l.stopOnce.Do(func() { close(l.stopped) })
}

// call 单个任务 panic 不能拖垮整个房间
func (l *Loop) call(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("loop task panic", zap.Any("panic", r), zap.Stack("stack"))
			sentry.CurrentHub().Recover(fmt.Errorf("loop task panic: %v", r))
		}
	}()
	fn()
}
