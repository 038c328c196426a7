package bench

import (
	"log/slog"
	"sync/atomic"
	"time"
)

// sleepSlice bounds how long Sleep goes without looking at the stop flag.
const sleepSlice = 50 * time.Millisecond

// Env is what a running benchmark sees: the device, a logger, the
// cooperative stop flag and the operation-error sink.
type Env struct {
	Device Device
	Logger *slog.Logger

	stop   *atomic.Bool
	report func(op string, err error)
}

// NewEnv creates a standalone Env. Operation errors are only logged.
func NewEnv(dev Device, logger *slog.Logger) *Env {
	if logger == nil {
		logger = slog.Default()
	}

	env := &Env{
		Device: dev,
		Logger: logger,
		stop:   new(atomic.Bool),
	}

	env.report = func(op string, err error) {
		env.Logger.Warn("operation failed",
			slog.String("op", op),
			slog.String("error", err.Error()),
		)
	}

	return env
}

// Stopped reports whether a stop was requested. Loops poll it between
// logical units, never inside a primitive.
func (e *Env) Stopped() bool {
	return e.stop.Load()
}

// Stop requests the loop to end at its next boundary.
func (e *Env) Stop() {
	e.stop.Store(true)
}

// Sleep pauses for d and returns early once a stop is requested.
func (e *Env) Sleep(d time.Duration) {
	deadline := time.Now().Add(d)

	for !e.Stopped() {
		left := time.Until(deadline)
		if left <= 0 {
			return
		}

		time.Sleep(min(left, sleepSlice))
	}
}

// Check reports a failed primitive. The loop carries on unless the error
// policy turns the failure into a stop request.
func (e *Env) Check(op string, err error) {
	if err == nil {
		return
	}

	e.report(op, err)
}

// Observer watches runners. Implementations must be safe for concurrent
// use and must not block.
type Observer interface {
	StateChanged(kind Kind, state State)
	Progress(kind Kind, percent int)
	Samples(kind Kind, samples []Sample)
	OperationError(kind Kind, op string)
}
