// Package main provides the CLI entry point for hddtest, a storage
// benchmark that measures seek latency, raw read throughput and
// filesystem performance of a disk and compares it against saved runs.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/weiihann/hddtest/bench"
	"github.com/weiihann/hddtest/config"
	"github.com/weiihann/hddtest/device"
	"github.com/weiihann/hddtest/history"
	"github.com/weiihann/hddtest/metrics"
	"github.com/weiihann/hddtest/report"
	"github.com/weiihann/hddtest/suite"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(logger)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd(logger *slog.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:   "hddtest",
		Short: "Storage benchmark for disks and filesystems",
		Long: `hddtest measures seek latency, continuous, random and block-size read
throughput of a raw device, and file, directory tree and small-file
performance of a mounted filesystem. Results are saved as XML and can be
loaded later as a reference for comparison.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newRunCmd(logger),
		newShowCmd(logger),
		newDevicesCmd(),
		newPlanCmd(logger),
		newHistoryCmd(),
	)

	return root
}

type runConfig struct {
	target        string
	benchmarks    []string
	configPath    string
	savePath      string
	referencePath string
	outputJSON    bool
	stopOnError   bool
	allowRawWrite bool
	metricsAddr   string
	historyPath   string
	interval      time.Duration
	seed          int64
}

func newRunCmd(logger *slog.Logger) *cobra.Command {
	var cfg runConfig

	cmd := &cobra.Command{
		Use:   "run <target>",
		Short: "Run benchmarks against a device, image file or directory",
		Long: `Run the selected benchmarks one at a time against the target. Raw
benchmarks need a readable device or file; filesystem benchmarks need a
mounted filesystem or a directory. Ctrl-C stops the running benchmark and
still reports the benchmarks that finished.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.target = args[0]

			return runBenchmarks(cmd.Context(), logger, cmd.Flags().Changed("seed"), cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringSliceVar(&cfg.benchmarks, "bench", nil,
		"Benchmarks to run (default: every available one), e.g. seek,read-block")
	flags.StringVar(&cfg.configPath, "config", "",
		"YAML file overriding benchmark parameters")
	flags.StringVar(&cfg.savePath, "save", "",
		"Write the results to this XML file")
	flags.StringVar(&cfg.referencePath, "reference", "",
		"Saved XML results to compare against")
	flags.BoolVar(&cfg.outputJSON, "json", false,
		"Output the report as JSON instead of a table")
	flags.BoolVar(&cfg.stopOnError, "stop-on-error", false,
		"Stop a benchmark at its first failed operation")
	flags.BoolVar(&cfg.allowRawWrite, "allow-raw-write", false,
		"Permit destructive writes to block devices")
	flags.StringVar(&cfg.metricsAddr, "metrics-addr", "",
		"Serve prometheus metrics on this address while running")
	flags.StringVar(&cfg.historyPath, "history", "",
		"Record the run in this SQLite history database")
	flags.DurationVar(&cfg.interval, "interval", 0,
		"Progress poll interval (default from config)")
	flags.Int64Var(&cfg.seed, "seed", config.DefaultSeed,
		"Seed of the deterministic random generator")

	return cmd
}

func loadConfig(path string, cfg runConfig, seedSet bool) (*config.Config, error) {
	c, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if cfg.stopOnError {
		c.ErrorPolicy = config.StopOnError
	}

	if cfg.allowRawWrite {
		c.AllowRawWrite = true
	}

	if cfg.interval > 0 {
		c.PollInterval = cfg.interval
	}

	if seedSet {
		c.Seed = cfg.seed
	}

	return c, c.Validate()
}

func selectKinds(names []string) ([]bench.Kind, error) {
	if len(names) == 0 {
		return bench.Kinds(), nil
	}

	kinds := make([]bench.Kind, 0, len(names))

	for _, name := range names {
		k, err := bench.ParseKind(name)
		if err != nil {
			return nil, err
		}

		kinds = append(kinds, k)
	}

	return kinds, nil
}

func runBenchmarks(
	ctx context.Context,
	logger *slog.Logger,
	seedSet bool,
	cfg runConfig,
) error {
	benchCfg, err := loadConfig(cfg.configPath, cfg, seedSet)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	kinds, err := selectKinds(cfg.benchmarks)
	if err != nil {
		return err
	}

	s := suite.New(benchCfg, logger)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := s.Close(closeCtx); err != nil {
			logger.Warn("cleanup failed", slog.String("error", err.Error()))
		}
	}()

	s.Target.OnAccessWarning = func(err error) {
		fmt.Fprintf(os.Stderr,
			"warning: %v\nsome measurements need root privileges to open the device and drop caches\n",
			err)
	}

	if cfg.metricsAddr != "" {
		shutdown, err := serveMetrics(logger, s, cfg.metricsAddr)
		if err != nil {
			return err
		}
		defer shutdown()
	}

	if cfg.referencePath != "" {
		if err := s.OpenResultFile(cfg.referencePath, bench.Reference); err != nil {
			return err
		}
	}

	if err := s.Attach(cfg.target, device.OpenOptions{AllowRawWrite: cfg.allowRawWrite}); err != nil {
		return err
	}

	info := s.Target.Info()
	logger.InfoContext(ctx, "target attached",
		slog.String("path", info.Path),
		slog.String("model", info.Model),
		slog.String("serial", info.Serial),
		slog.Int64("capacity", info.Size),
		slog.Bool("mounted", info.Mounted),
		slog.String("mountpoint", info.MountPoint),
	)

	for _, kind := range kinds {
		if ctx.Err() != nil {
			break
		}

		if !s.Available(kind) {
			logger.WarnContext(ctx, "benchmark not available on this target",
				slog.String("benchmark", kind.String()),
			)

			continue
		}

		if err := s.Run(ctx, kind, progressLogger(logger)); err != nil {
			return fmt.Errorf("run %s: %w", kind, err)
		}

		for _, opErr := range s.Runner(kind).Errors() {
			logger.WarnContext(ctx, "operation error",
				slog.String("benchmark", kind.String()),
				slog.String("error", opErr.Error()),
			)
		}
	}

	if ctx.Err() != nil {
		logger.Warn("interrupted, incomplete benchmarks are left out of the report")
	}

	benchmarks := make([]bench.Benchmark, 0, len(bench.Kinds()))
	for _, k := range bench.Kinds() {
		benchmarks = append(benchmarks, s.Benchmark(k))
	}

	rep := report.Report{
		Target: s.Target.Info(),
		Rows:   report.Compare(benchmarks),
	}

	if cfg.referencePath != "" {
		ref := s.ReferenceInfo()
		rep.Reference = &ref
	}

	// Incomplete sets are still saved, marked invalid.
	if cfg.savePath != "" {
		if err := s.SaveResults(cfg.savePath); err != nil {
			return err
		}
	}

	if cfg.historyPath != "" {
		if err := recordHistory(context.WithoutCancel(ctx), cfg, rep); err != nil {
			return err
		}
	}

	if len(rep.Rows) == 0 {
		logger.Warn("no benchmark completed, nothing to report")
		return nil
	}

	if err := writeReport(rep, cfg.outputJSON); err != nil {
		return err
	}

	logger.Info("benchmark complete")

	return nil
}

// progressLogger logs each benchmark's progress in steps of ten percent.
func progressLogger(logger *slog.Logger) suite.PollFunc {
	bucket := -1

	return func(kind bench.Kind, progress int, samples []bench.Sample) {
		logger.Debug("poll",
			slog.String("benchmark", kind.String()),
			slog.Int("progress", progress),
			slog.Int("samples", len(samples)),
		)

		if progress/10 == bucket {
			return
		}

		bucket = progress / 10

		logger.Info("progress",
			slog.String("benchmark", kind.String()),
			slog.Int("percent", progress),
		)
	}
}

func writeReport(rep report.Report, outputJSON bool) error {
	if outputJSON {
		if err := report.GenerateJSON(os.Stdout, rep); err != nil {
			return fmt.Errorf("generate JSON report: %w", err)
		}

		return nil
	}

	if err := report.Generate(os.Stdout, rep); err != nil {
		return fmt.Errorf("generate report: %w", err)
	}

	return nil
}

func serveMetrics(logger *slog.Logger, s *suite.Suite, addr string) (func(), error) {
	collectors, err := metrics.New(nil)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	s.SetObserver(collectors)

	mux := http.NewServeMux()
	mux.Handle("/metrics", collectors.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", slog.String("error", err.Error()))
		}
	}()

	logger.Info("serving metrics", slog.String("addr", addr))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = srv.Shutdown(ctx)
	}, nil
}

func recordHistory(ctx context.Context, cfg runConfig, rep report.Report) error {
	store, err := history.Open(cfg.historyPath)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Initialize(); err != nil {
		return fmt.Errorf("initialize history: %w", err)
	}

	run := &history.Run{
		TargetPath: rep.Target.Path,
		Model:      rep.Target.Model,
		Serial:     rep.Target.Serial,
		ResultFile: cfg.savePath,
		Rows:       rep.Rows,
	}

	if err := store.Record(ctx, run); err != nil {
		return fmt.Errorf("record history: %w", err)
	}

	return nil
}
