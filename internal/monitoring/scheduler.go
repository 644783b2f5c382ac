package monitoring

import "time"

// TaskHandle cancels a scheduled task. Stop reports whether the task was
// still pending.
type TaskHandle interface {
	Stop() bool
}

// Scheduler schedules one-shot callbacks. Having timers behind an
// interface makes cancellation-on-switch testable without sleeping; tests
// substitute a manual implementation.
type Scheduler interface {
	Schedule(d time.Duration, fn func()) TaskHandle
}

type realScheduler struct{}

// NewScheduler returns the wall-clock Scheduler used in production.
func NewScheduler() Scheduler {
	return realScheduler{}
}

func (realScheduler) Schedule(d time.Duration, fn func()) TaskHandle {
	return time.AfterFunc(d, fn)
}
