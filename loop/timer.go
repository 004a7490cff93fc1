package loop

import "time"

// Timer 一次性定时器：到期后作为一个新的 Turn 在调度器协程中执行
//
// 到期与 Stop 都只在调度器协程中判定，因此二者恰好只有一个生效。
type Timer struct {
	t    *time.Timer
	fn   func()
	done bool
}

// AfterFunc 在 d 之后于调度器中执行 fn
func (l *Loop) AfterFunc(d time.Duration, fn func()) *Timer {
	tm := &Timer{fn: fn}
	tm.t = time.AfterFunc(d, func() {
		l.Post(tm.fire)
	})
	return tm
}

func (t *Timer) fire() {
	if t.done {
		return
	}
	t.done = true
	t.fn()
}

// Stop 取消尚未执行的定时器；已执行或已取消时返回 false
func (t *Timer) Stop() bool {
	if t.done {
		return false
	}
	t.done = true
	t.t.Stop()
	return true
}

// Pending 定时器既未执行也未取消
func (t *Timer) Pending() bool { return !t.done }

// Wait 带取消令牌的等待（换弹、使用道具的读条等）
type Wait struct {
	timer    *Timer
	onCancel func()
}

// Wait 开始等待：到期执行 onDone，提前 Cancel 则执行 onCancel，两者只会发生一个
func (l *Loop) Wait(d time.Duration, onDone, onCancel func()) *Wait {
	return &Wait{
		timer:    l.AfterFunc(d, onDone),
		onCancel: onCancel,
	}
}

// Cancel 取消等待；等待已完成时返回 false 且不会调用 onCancel
func (w *Wait) Cancel() bool {
	if w == nil || !w.timer.Stop() {
		return false
	}
	if w.onCancel != nil {
		w.onCancel()
	}
	return true
}

// Pending 等待仍未结束
func (w *Wait) Pending() bool { return w != nil && w.timer.Pending() }
