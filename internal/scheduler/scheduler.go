// Package scheduler provides the single logical thread every state mutation of
// the tracker runs on, plus cancellable timers that fire back onto it.
package scheduler

import "time"

// Timer is a pending callback. Stop reports whether the call prevented the
// callback from running.
type Timer interface {
	Stop() bool
}

// Scheduler runs tasks and timer callbacks one at a time.
type Scheduler interface {
	// Now returns the scheduler's notion of the current time.
	Now() time.Time
	// AfterFunc runs f on the scheduler once d has elapsed.
	AfterFunc(d time.Duration, f func()) Timer
	// Do runs f on the scheduler and returns once it has completed.
	// It must not be called from inside a scheduled task.
	Do(f func())
}
