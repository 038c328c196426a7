package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/weiihann/hddtest/bench"
	"github.com/weiihann/hddtest/config"
	"github.com/weiihann/hddtest/history"
	"github.com/weiihann/hddtest/report"
	"github.com/weiihann/hddtest/suite"
	"github.com/weiihann/hddtest/workload"
)

func newShowCmd(logger *slog.Logger) *cobra.Command {
	var outputJSON bool

	cmd := &cobra.Command{
		Use:   "show <results.xml> [reference.xml]",
		Short: "Report saved results without touching a device",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(_ *cobra.Command, args []string) error {
			s := suite.New(config.Default(), logger)

			if err := s.OpenResultFile(args[0], bench.Primary); err != nil {
				return err
			}

			rep := report.Report{Target: s.Target.Info()}

			if len(args) == 2 {
				if err := s.OpenResultFile(args[1], bench.Reference); err != nil {
					return err
				}

				ref := s.ReferenceInfo()
				rep.Reference = &ref
			}

			benchmarks := make([]bench.Benchmark, 0, len(bench.Kinds()))
			for _, k := range bench.Kinds() {
				benchmarks = append(benchmarks, s.Benchmark(k))
			}

			rep.Rows = report.Compare(benchmarks)

			return writeReport(rep, outputJSON)
		},
	}

	cmd.Flags().BoolVar(&outputJSON, "json", false,
		"Output the report as JSON instead of a table")

	return cmd
}

// devicesDir lists stable links to every disk and partition.
const devicesDir = "/dev/disk/by-path"

type deviceEntry struct {
	Path  string
	Label string
}

func listDevices(dir string) ([]deviceEntry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}

	var devices []deviceEntry

	for _, e := range entries {
		target, err := filepath.EvalSymlinks(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}

		devices = append(devices, deviceEntry{Path: target, Label: e.Name()})
	}

	sort.Slice(devices, func(i, j int) bool {
		return devices[i].Path < devices[j].Path
	})

	return devices, nil
}

func newDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List block devices that can be benchmarked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			devices, err := listDevices(devicesDir)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "DEVICE\tLABEL")

			for _, d := range devices {
				fmt.Fprintf(tw, "%s\t%s\n", d.Path, d.Label)
			}

			return tw.Flush()
		},
	}
}

func newPlanCmd(logger *slog.Logger) *cobra.Command {
	var (
		dirs     int
		files    int
		minSize  string
		maxSize  string
		mode     string
		seed     int64
		readBack bool
	)

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the deterministic directory tree plan as JSONL",
		Long: `Print the operations a filesystem benchmark performs, one JSON object
per line. The same parameters always give the same plan.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			minBytes, err := config.ParseSize(minSize)
			if err != nil {
				return fmt.Errorf("--min-size: %w", err)
			}

			maxBytes, err := config.ParseSize(maxSize)
			if err != nil {
				return fmt.Errorf("--max-size: %w", err)
			}

			m := workload.Mode(mode)
			if m != workload.ModeInterleaved && m != workload.ModeDirsFirst {
				return fmt.Errorf("unknown mode %q", mode)
			}

			gen := workload.NewGenerator(workload.Config{
				Dirs:        dirs,
				Files:       files,
				MinFileSize: minBytes,
				MaxFileSize: maxBytes,
				Mode:        m,
				Seed:        seed,
				ReadBack:    readBack,
			})

			summary, err := gen.Generate(cmd.OutOrStdout())
			if err != nil {
				return fmt.Errorf("generate plan: %w", err)
			}

			logger.Info("plan generated",
				slog.Int("operations", summary.TotalOperations),
				slog.Int("dirs", summary.DirsCreated),
				slog.Int("files", summary.FilesCreated),
				slog.Int("reads", summary.FilesRead),
				slog.Int64("bytes", summary.Bytes),
			)

			return nil
		},
	}

	def := config.Default().SmallFiles

	flags := cmd.Flags()
	flags.IntVar(&dirs, "dirs", def.Dirs, "Number of directories")
	flags.IntVar(&files, "files", def.Files, "Number of files")
	flags.StringVar(&minSize, "min-size", config.FormatSize(def.MinFileSize.Bytes()),
		"Smallest file size")
	flags.StringVar(&maxSize, "max-size", config.FormatSize(def.MaxFileSize.Bytes()),
		"Upper bound of file sizes (exclusive)")
	flags.StringVar(&mode, "mode", string(workload.ModeDirsFirst),
		"Tree shape: dirs-first or interleaved")
	flags.Int64Var(&seed, "seed", config.DefaultSeed, "Random seed")
	flags.BoolVar(&readBack, "read-back", true,
		"Include the random-order read of every file")

	return cmd
}

func newHistoryCmd() *cobra.Command {
	var (
		path       string
		limit      int
		outputJSON bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := history.Open(path)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Initialize(); err != nil {
				return err
			}

			runs, err := store.List(cmd.Context(), limit)
			if err != nil {
				return err
			}

			if outputJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")

				return enc.Encode(runs)
			}

			return writeHistory(cmd.OutOrStdout(), runs)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&path, "history", "hddtest-history.db",
		"SQLite history database")
	flags.IntVar(&limit, "limit", 20, "Show at most this many runs (0 = all)")
	flags.BoolVar(&outputJSON, "json", false, "Output runs as JSON")

	return cmd
}

func writeHistory(w io.Writer, runs []history.Run) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDATE\tTARGET\tMODEL\tSERIAL\tMETRICS\tFILE")

	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			r.ID,
			r.CreatedAt.Format(time.DateTime),
			r.TargetPath,
			r.Model,
			r.Serial,
			len(r.Rows),
			r.ResultFile,
		)
	}

	return tw.Flush()
}
