package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/srec-ev/tracker/internal/channel"
)

// Loop executes posted tasks sequentially on a single goroutine.
type Loop struct {
	tasks    channel.Channel[func()]
	done     chan struct{}
	stopOnce sync.Once
	started  atomic.Bool
}

// NewLoop creates a loop whose task queue holds up to size pending tasks.
func NewLoop(size int) *Loop {
	return &Loop{
		tasks: channel.New[func()](size),
		done:  make(chan struct{}),
	}
}

// Start launches the loop goroutine. It stops when ctx is cancelled or Stop is called.
func (l *Loop) Start(ctx context.Context) {
	if !l.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				l.Stop()
				return
			case <-l.done:
				return
			case task := <-l.tasks.Receive():
				task()
			}
		}
	}()
}

// Stop halts the loop. Pending tasks are discarded.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		close(l.done)
	})
}

// Post queues f for execution and reports whether it was accepted.
func (l *Loop) Post(f func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case <-l.done:
		return false
	case l.tasks.In() <- f:
		return true
	}
}

// Do implements Scheduler. If the loop has stopped, f is not run.
func (l *Loop) Do(f func()) {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		f()
	}) {
		return
	}
	select {
	case <-finished:
	case <-l.done:
	}
}

// Now implements Scheduler.
func (l *Loop) Now() time.Time {
	return time.Now()
}

// AfterFunc implements Scheduler. The cancellation flag is re-checked on the
// loop, so a Stop issued by a task always wins over an already-expired timer.
func (l *Loop) AfterFunc(d time.Duration, f func()) Timer {
	lt := &loopTimer{}
	lt.t = time.AfterFunc(d, func() {
		l.Post(func() {
			if lt.stopped.Swap(true) {
				return
			}
			f()
		})
	})
	return lt
}

type loopTimer struct {
	t       *time.Timer
	stopped atomic.Bool
}

func (lt *loopTimer) Stop() bool {
	first := !lt.stopped.Swap(true)
	lt.t.Stop()
	return first
}
