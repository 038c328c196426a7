// Package report formats benchmark results into comparison tables.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/weiihann/hddtest/bench"
	"github.com/weiihann/hddtest/device"
)

// Row is one summary metric of a benchmark in both datasets.
type Row struct {
	Benchmark    string  `json:"benchmark"`
	Metric       string  `json:"metric"`
	Unit         string  `json:"unit,omitempty"`
	Primary      float64 `json:"primary"`
	HasPrimary   bool    `json:"has_primary"`
	Reference    float64 `json:"reference"`
	HasReference bool    `json:"has_reference"`
}

// Ratio returns primary over reference, 0 when either side is missing.
func (r Row) Ratio() float64 {
	if !r.HasPrimary || !r.HasReference || r.Reference == 0 {
		return 0
	}

	return r.Primary / r.Reference
}

// Report is a rendered comparison.
type Report struct {
	Target    device.Info  `json:"target"`
	Reference *device.Info `json:"reference,omitempty"`
	Rows      []Row        `json:"rows"`
}

// Compare lines up the summaries of every benchmark that has complete data
// in at least one dataset. Incomplete datasets are left out.
func Compare(benchmarks []bench.Benchmark) []Row {
	var rows []Row

	for _, b := range benchmarks {
		hasPrimary := b.Progress(bench.Primary) == 100
		hasReference := b.Progress(bench.Reference) == 100

		if !hasPrimary && !hasReference {
			continue
		}

		index := make(map[string]int)

		add := func(m bench.Metric, d bench.Dataset) {
			i, ok := index[m.Name]
			if !ok {
				i = len(rows)
				index[m.Name] = i
				rows = append(rows, Row{
					Benchmark: b.Kind().String(),
					Metric:    m.Name,
					Unit:      m.Unit,
				})
			}

			if d == bench.Primary {
				rows[i].Primary, rows[i].HasPrimary = m.Value, true
			} else {
				rows[i].Reference, rows[i].HasReference = m.Value, true
			}
		}

		if hasPrimary {
			for _, m := range b.Summary(bench.Primary) {
				add(m, bench.Primary)
			}
		}

		if hasReference {
			for _, m := range b.Summary(bench.Reference) {
				add(m, bench.Reference)
			}
		}
	}

	return rows
}

// Generate writes a markdown comparison table.
func Generate(w io.Writer, rep Report) error {
	if len(rep.Rows) == 0 {
		return fmt.Errorf("no results to report")
	}

	fmt.Fprintln(w, "## Benchmark Results")
	fmt.Fprintln(w)

	writeTarget(w, "Target", rep.Target)

	if rep.Reference != nil {
		writeTarget(w, "Reference", *rep.Reference)
	}

	fmt.Fprintln(w)

	fmt.Fprintln(w, "| Benchmark | Metric | Result | Reference | Ratio |")
	fmt.Fprintln(w, "|-----------|--------|--------|-----------|-------|")

	for _, r := range rep.Rows {
		primary, reference, ratio := "-", "-", "-"

		if r.HasPrimary {
			primary = formatValue(r.Primary, r.Unit)
		}

		if r.HasReference {
			reference = formatValue(r.Reference, r.Unit)
		}

		if v := r.Ratio(); v > 0 {
			ratio = fmt.Sprintf("%.2fx", v)
		}

		fmt.Fprintf(w, "| %s | %s | %s | %s | %s |\n",
			r.Benchmark, r.Metric, primary, reference, ratio)
	}

	return nil
}

// GenerateJSON writes the report as JSON to w.
func GenerateJSON(w io.Writer, rep Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(rep)
}

func writeTarget(w io.Writer, label string, info device.Info) {
	fmt.Fprintf(w, "%s: `%s` %s (serial %s, firmware %s), %s, %s\n",
		label,
		info.Path,
		info.Model,
		info.Serial,
		info.Firmware,
		formatBytes(info.Size),
		info.Kernel,
	)

	if info.Mounted {
		fmt.Fprintf(w, "  - filesystem %s on %s (%s)\n",
			info.FSType, info.MountPoint, info.FSOptions)
	}
}

func formatValue(v float64, unit string) string {
	switch unit {
	case "s":
		return formatSeconds(v)
	case "":
		return fmt.Sprintf("%.0f", v)
	default:
		return fmt.Sprintf("%.2f %s", v, unit)
	}
}

func formatSeconds(s float64) string {
	if s < 1 {
		return fmt.Sprintf("%.0fms", s*1000)
	}

	return fmt.Sprintf("%.2fs", s)
}

func formatBytes(b int64) string {
	if b <= 0 {
		return "-"
	}

	units := []string{"B", "KB", "MB", "GB", "TB"}
	size := float64(b)
	unit := 0

	for size >= 1024 && unit < len(units)-1 {
		size /= 1024
		unit++
	}

	formatted := fmt.Sprintf("%.1f", size)
	formatted = strings.TrimRight(formatted, "0")
	formatted = strings.TrimRight(formatted, ".")

	return formatted + " " + units[unit]
}
