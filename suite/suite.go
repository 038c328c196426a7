// Package suite ties one storage target to every benchmark: attaching a
// target, running benchmarks one at a time, saving the primary results and
// loading saved files as primary or reference data.
package suite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/weiihann/hddtest/bench"
	"github.com/weiihann/hddtest/config"
	"github.com/weiihann/hddtest/device"
	"github.com/weiihann/hddtest/resultfile"
)

// ErrBusy is returned when an operation needs every runner stopped.
var ErrBusy = errors.New("a benchmark is running")

// PollFunc receives the progress and the fresh samples of the running
// benchmark at every poll.
type PollFunc func(kind bench.Kind, progress int, samples []bench.Sample)

// Suite owns the target, the reference metadata and one runner per
// benchmark kind.
type Suite struct {
	Target *device.Target
	Logger *slog.Logger

	cfg     *config.Config
	runners []*bench.Runner

	mu        sync.Mutex
	reference device.Info
}

// New creates a Suite with every benchmark. A nil logger uses
// slog.Default().
func New(cfg *config.Config, logger *slog.Logger) *Suite {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Suite{
		Target:    device.NewTarget(logger),
		Logger:    logger,
		cfg:       cfg,
		reference: device.DefaultInfo(),
	}

	for _, b := range bench.All(cfg) {
		r := bench.NewRunner(b, cfg.ErrorPolicy, logger)
		r.Attach(s.Target)
		s.runners = append(s.runners, r)
	}

	return s
}

// SetObserver installs obs on every runner.
func (s *Suite) SetObserver(obs bench.Observer) {
	for _, r := range s.runners {
		r.Observer = obs
	}
}

// Runner returns the runner of kind.
func (s *Suite) Runner(kind bench.Kind) *bench.Runner {
	return s.runners[kind]
}

// Benchmark returns the benchmark of kind.
func (s *Suite) Benchmark(kind bench.Kind) bench.Benchmark {
	return s.runners[kind].Bench
}

func (s *Suite) busy() bool {
	for _, r := range s.runners {
		if r.State() != bench.Stopped {
			return true
		}
	}

	return false
}

// Attach erases the primary results and opens path as the target.
func (s *Suite) Attach(path string, opts device.OpenOptions) error {
	if s.busy() {
		return ErrBusy
	}

	s.erase(bench.Primary)

	opts.CloseExisting = true
	opts.AllowRawWrite = opts.AllowRawWrite || s.cfg.AllowRawWrite

	if err := s.Target.Open(path, opts); err != nil {
		return fmt.Errorf("attach %s: %w", path, err)
	}

	return nil
}

// Available reports whether kind can run on the attached target. Raw
// benchmarks need a live handle with a known capacity, filesystem
// benchmarks a mounted filesystem.
func (s *Suite) Available(kind bench.Kind) bool {
	if s.Target.Path() == "" {
		return false
	}

	if kind.NeedsFilesystem() {
		return s.Target.Mounted()
	}

	return s.Target.HasHandle() && s.Target.Size() > 0
}

// Run executes kind to completion or until ctx is cancelled, calling poll
// at the configured interval and once more after the worker exits.
func (s *Suite) Run(ctx context.Context, kind bench.Kind, poll PollFunc) error {
	if s.busy() {
		return ErrBusy
	}

	r := s.runners[kind]
	if err := r.Start(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	done := make(chan struct{})

	go func() {
		defer close(done)
		_ = r.Wait(context.Background())
	}()

	report := func() {
		samples := r.Drain()
		progress := r.Progress()

		if poll != nil {
			poll(kind, progress, samples)
		}
	}

	for {
		select {
		case <-ticker.C:
			report()
		case <-done:
			report()
			return nil
		}
	}
}

// Results renders the target metadata and every primary dataset.
func (s *Suite) Results() *resultfile.Element {
	root := resultfile.NewElement(resultfile.RootName).
		Append(s.Target.Info().Element())

	for _, r := range s.runners {
		root.Append(r.Bench.WriteResults())
	}

	return root
}

// SaveResults writes the primary results to path.
func (s *Suite) SaveResults(path string) error {
	if s.busy() {
		return ErrBusy
	}

	if err := resultfile.WriteFile(path, s.Results()); err != nil {
		return fmt.Errorf("save results: %w", err)
	}

	s.Logger.Info("results saved", slog.String("path", path))

	return nil
}

// OpenResultFile loads a saved document into d. Loading into the primary
// dataset detaches the target and takes its metadata from the file;
// loading a reference only replaces the reference metadata. Elements
// missing from the file leave their dataset empty.
func (s *Suite) OpenResultFile(path string, d bench.Dataset) error {
	if d == bench.Primary && s.busy() {
		return ErrBusy
	}

	root, err := resultfile.ReadFile(path)
	if err != nil {
		return fmt.Errorf("open results: %w", err)
	}

	s.erase(d)

	if d == bench.Primary {
		if err := s.Target.Open("", device.OpenOptions{CloseExisting: true}); err != nil {
			return fmt.Errorf("detach target: %w", err)
		}

		s.Target.ReadInfo(root)
	} else {
		info := device.DefaultInfo()
		info.Restore(root)

		s.mu.Lock()
		s.reference = info
		s.mu.Unlock()
	}

	for _, r := range s.runners {
		r.Bench.RestoreResults(root, d)
	}

	s.Logger.Info("results loaded",
		slog.String("path", path),
		slog.String("dataset", d.String()),
	)

	return nil
}

// ReferenceInfo returns the metadata of the loaded reference file.
func (s *Suite) ReferenceInfo() device.Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.reference
}

func (s *Suite) erase(d bench.Dataset) {
	for _, r := range s.runners {
		r.Bench.EraseResults(d)
	}

	if d == bench.Reference {
		s.mu.Lock()
		s.reference = device.DefaultInfo()
		s.mu.Unlock()
	}
}

// Close stops every runner, waits for the workers and releases the target.
func (s *Suite) Close(ctx context.Context) error {
	var result *multierror.Error

	for _, r := range s.runners {
		r.Stop()
	}

	for _, r := range s.runners {
		if err := r.Wait(ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", r.Bench.Kind(), err))
		}
	}

	if err := s.Target.ClearSafeTempDirectory(); err != nil {
		result = multierror.Append(result, err)
	}

	if err := s.Target.Close(); err != nil {
		result = multierror.Append(result, err)
	}

	return result.ErrorOrNil()
}
