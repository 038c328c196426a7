// Package clock provides the microsecond stopwatch used to time every
// primitive storage operation.
package clock

import (
	"sync/atomic"
	"time"
)

// epoch anchors all readings to the monotonic clock of this process.
var epoch = time.Now()

// Now returns microseconds elapsed since process start.
func Now() int64 {
	return time.Since(epoch).Microseconds()
}

// Timer is a start/stop stopwatch. The worker calls MarkStart and MarkEnd;
// other goroutines may read ElapsedSoFar at any time.
type Timer struct {
	start   atomic.Int64
	end     atomic.Int64
	started atomic.Bool
	ended   atomic.Bool
}

// MarkStart records the start timestamp and clears the previous end.
func (t *Timer) MarkStart() {
	t.ended.Store(false)
	t.start.Store(Now())
	t.started.Store(true)
}

// MarkEnd records the end timestamp.
func (t *Timer) MarkEnd() {
	t.end.Store(Now())
	t.ended.Store(true)
}

// Elapsed returns end - start in microseconds.
func (t *Timer) Elapsed() int64 {
	return t.end.Load() - t.start.Load()
}

// ElapsedSoFar returns now - start in microseconds. It is only meaningful
// between MarkStart and MarkEnd; before MarkStart it returns 0.
func (t *Timer) ElapsedSoFar() int64 {
	if !t.started.Load() {
		return 0
	}

	return Now() - t.start.Load()
}

// Running reports whether MarkStart was called without a matching MarkEnd.
func (t *Timer) Running() bool {
	return t.started.Load() && !t.ended.Load()
}

// Measure times fn and returns the elapsed microseconds together with the
// error fn returned. The elapsed time is valid even when fn fails.
func Measure(fn func() error) (int64, error) {
	var t Timer

	t.MarkStart()
	err := fn()
	t.MarkEnd()

	return t.Elapsed(), err
}
