package bench

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/weiihann/hddtest/config"
)

// maxKeptErrors bounds the operation errors a Runner remembers per run.
const maxKeptErrors = 100

// Runner drives one Benchmark through its lifecycle on a background
// worker. At most one worker per Runner exists at a time.
type Runner struct {
	Bench    Benchmark
	Logger   *slog.Logger
	Observer Observer

	policy config.ErrorPolicy

	mu      sync.Mutex
	target  Device
	done    chan struct{}
	errs    []error
	dropped int

	state atomic.Int32
	stop  atomic.Bool
}

// NewRunner creates a Runner for b. A nil logger uses slog.Default().
func NewRunner(b Benchmark, policy config.ErrorPolicy, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}

	return &Runner{
		Bench:  b,
		Logger: logger.With(slog.String("benchmark", b.Kind().String())),
		policy: policy,
	}
}

// Attach selects the target the next Start runs against.
func (r *Runner) Attach(dev Device) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.target = dev
}

// Start validates the target, erases the primary dataset and hands the
// benchmark loop to a worker. Cancelling ctx requests a stop.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	kind := r.Bench.Kind()

	if r.target == nil || r.target.Path() == "" {
		return ErrNoTarget
	}

	if State(r.state.Load()) != Stopped {
		return fmt.Errorf("%s: %w", kind, ErrAlreadyRunning)
	}

	if kind.NeedsFilesystem() && !r.target.Mounted() {
		return fmt.Errorf("%s on %s: %w", kind, r.target.Path(), ErrNoFilesystem)
	}

	if !kind.NeedsFilesystem() && !r.target.HasHandle() {
		return fmt.Errorf("%s on %s: %w", kind, r.target.Path(), ErrNoDevice)
	}

	r.stop.Store(false)
	r.setState(Starting)
	r.errs = nil
	r.dropped = 0

	r.Bench.InitScene()

	env := &Env{
		Device: r.target,
		Logger: r.Logger,
		stop:   &r.stop,
		report: r.reportError,
	}

	done := make(chan struct{})
	r.done = done

	release := context.AfterFunc(ctx, r.Stop)

	go r.work(env, done, release)

	return nil
}

func (r *Runner) work(env *Env, done chan struct{}, release func() bool) {
	defer close(done)
	defer release()

	kind := r.Bench.Kind()
	start := time.Now()

	r.Logger.Info("benchmark starting", slog.String("target", env.Device.Path()))

	// Prime the target so the first sample does not pay the cold start.
	if err := env.Device.Warmup(); err != nil {
		r.Logger.Warn("warm-up read failed", slog.String("error", err.Error()))
	}

	env.Device.DropCaches()
	env.Device.Sync()

	if r.state.CompareAndSwap(int32(Starting), int32(Started)) {
		r.notifyState(Started)
	}

	if !env.Stopped() {
		r.Bench.Run(env)
	}

	if kind.NeedsFilesystem() {
		if err := env.Device.ClearSafeTempDirectory(); err != nil {
			r.reportError("cleanup", err)
		}
	}

	r.Logger.Info("benchmark finished",
		slog.Duration("wall_time", time.Since(start)),
		slog.Int("progress", r.Bench.Progress(Primary)),
		slog.Bool("stopped", env.Stopped()),
	)

	r.setState(Stopped)
}

// Stop requests the worker to end at its next boundary. It does not block.
func (r *Runner) Stop() {
	r.stop.Store(true)

	for {
		s := r.state.Load()
		if State(s) != Starting && State(s) != Started {
			return
		}

		if r.state.CompareAndSwap(s, int32(Stopping)) {
			r.Logger.Debug("stop requested")
			r.notifyState(Stopping)

			return
		}
	}
}

// Wait blocks until the current worker exits or ctx is done.
func (r *Runner) Wait(ctx context.Context) error {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()

	if done == nil {
		return nil
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the lifecycle state.
func (r *Runner) State() State {
	return State(r.state.Load())
}

// Progress returns the primary dataset completion in percent.
func (r *Runner) Progress() int {
	p := r.Bench.Progress(Primary)

	if r.Observer != nil {
		r.Observer.Progress(r.Bench.Kind(), p)
	}

	return p
}

// Drain returns the primary samples produced since the previous call.
func (r *Runner) Drain() []Sample {
	samples := r.Bench.Drain(Primary)

	if r.Observer != nil && len(samples) > 0 {
		r.Observer.Samples(r.Bench.Kind(), samples)
	}

	return samples
}

// Errors returns the operation errors of the current or last run.
func (r *Runner) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := append([]error(nil), r.errs...)
	if r.dropped > 0 {
		out = append(out, fmt.Errorf("%d more operation errors not kept", r.dropped))
	}

	return out
}

func (r *Runner) reportError(op string, err error) {
	r.Logger.Warn("operation failed",
		slog.String("op", op),
		slog.String("error", err.Error()),
	)

	r.mu.Lock()
	if len(r.errs) < maxKeptErrors {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", op, err))
	} else {
		r.dropped++
	}
	r.mu.Unlock()

	if r.Observer != nil {
		r.Observer.OperationError(r.Bench.Kind(), op)
	}

	if r.policy == config.StopOnError {
		r.Stop()
	}
}

func (r *Runner) setState(s State) {
	r.state.Store(int32(s))
	r.notifyState(s)
}

func (r *Runner) notifyState(s State) {
	if r.Observer != nil {
		r.Observer.StateChanged(r.Bench.Kind(), s)
	}
}
