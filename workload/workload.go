// Package workload generates the deterministic directory trees used by the
// filesystem benchmarks. A plan is a sequence of mkdir, mkfile, read,
// unlink and rmdir operations with paths relative to the scratch
// directory; the same Config always yields the same plan.
package workload

import (
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strconv"

	"github.com/weiihann/hddtest/random"
)

// Operation kinds.
const (
	OpMkdir  = "mkdir"
	OpMkfile = "mkfile"
	OpRead   = "read"
	OpUnlink = "unlink"
	OpRmdir  = "rmdir"
)

// Operation represents a single filesystem operation in the plan.
type Operation struct {
	Op   string `json:"op"`
	Path string `json:"path"`
	Size int64  `json:"size,omitempty"`
}

// Mode selects how directories and files are interleaved.
type Mode string

const (
	// ModeInterleaved picks directory or file by coin flip at each step.
	// Once one quota is met every further node goes to the other one.
	ModeInterleaved Mode = "interleaved"
	// ModeDirsFirst creates every directory before the first file.
	ModeDirsFirst Mode = "dirs-first"
)

// Summary contains statistics about the generated plan.
type Summary struct {
	TotalOperations int
	DirsCreated     int
	FilesCreated    int
	FilesRead       int
	Removed         int
	Bytes           int64
}

// Config controls plan generation.
type Config struct {
	Dirs        int
	Files       int
	MinFileSize int64
	MaxFileSize int64
	Mode        Mode
	Seed        int64
	// ReadBack adds a random-order read of every file to Generate output.
	ReadBack bool
}

// Generator produces deterministic plans from a Config. The random
// sequence is consumed by Build and ReadOrder, so a Generator plans one
// run.
type Generator struct {
	cfg Config
	rng *random.Generator
}

// NewGenerator creates a Generator from the given Config.
func NewGenerator(cfg Config) *Generator {
	return &Generator{
		cfg: cfg,
		rng: random.NewWithSeed(cfg.Seed),
	}
}

// Build returns the creation sequence. Every node hangs under a uniformly
// chosen earlier directory, the scratch root included.
func (g *Generator) Build() []Operation {
	ops := make([]Operation, 0, g.cfg.Dirs+g.cfg.Files)

	// dirs[0] is the scratch root.
	dirs := []string{""}
	dirsMade, filesMade := 0, 0

	for dirsMade < g.cfg.Dirs || filesMade < g.cfg.Files {
		parent := dirs[g.rng.Index(len(dirs))]

		if g.nextIsDir(dirsMade, filesMade) {
			p := path.Join(parent, "d"+strconv.Itoa(len(dirs)))
			dirs = append(dirs, p)
			ops = append(ops, Operation{Op: OpMkdir, Path: p})
			dirsMade++

			continue
		}

		p := path.Join(parent, "f"+strconv.Itoa(filesMade))
		ops = append(ops, Operation{Op: OpMkfile, Path: p, Size: g.fileSize()})
		filesMade++
	}

	return ops
}

func (g *Generator) nextIsDir(dirsMade, filesMade int) bool {
	if dirsMade >= g.cfg.Dirs {
		return false
	}

	if g.cfg.Mode == ModeDirsFirst || filesMade >= g.cfg.Files {
		return true
	}

	return g.rng.Coin()
}

func (g *Generator) fileSize() int64 {
	span := g.cfg.MaxFileSize - g.cfg.MinFileSize
	if span <= 0 {
		return max(g.cfg.MinFileSize, 0)
	}

	return g.cfg.MinFileSize + g.rng.Int63n(span)
}

// ReadOrder returns a read of every file in build, in random order without
// replacement.
func (g *Generator) ReadOrder(build []Operation) []Operation {
	pending := Files(build)
	reads := make([]Operation, 0, len(pending))

	for len(pending) > 0 {
		idx := g.rng.Index(len(pending))
		reads = append(reads, Operation{Op: OpRead, Path: pending[idx].Path})
		pending = append(pending[:idx], pending[idx+1:]...)
	}

	return reads
}

// Files returns the mkfile operations of build in creation order.
func Files(build []Operation) []Operation {
	var files []Operation

	for _, op := range build {
		if op.Op == OpMkfile {
			files = append(files, op)
		}
	}

	return files
}

// Teardown returns the removal sequence for build: files in creation
// order, then directories in reverse creation order so children go first.
func Teardown(build []Operation) []Operation {
	ops := make([]Operation, 0, len(build))

	for _, op := range build {
		if op.Op == OpMkfile {
			ops = append(ops, Operation{Op: OpUnlink, Path: op.Path})
		}
	}

	for i := len(build) - 1; i >= 0; i-- {
		if build[i].Op == OpMkdir {
			ops = append(ops, Operation{Op: OpRmdir, Path: build[i].Path})
		}
	}

	return ops
}

// Generate writes the whole plan as JSONL to w and returns a Summary.
func (g *Generator) Generate(w io.Writer) (Summary, error) {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	var summary Summary

	build := g.Build()

	plan := append([]Operation(nil), build...)
	if g.cfg.ReadBack {
		plan = append(plan, g.ReadOrder(build)...)
	}

	plan = append(plan, Teardown(build)...)

	for _, op := range plan {
		if err := enc.Encode(op); err != nil {
			return summary, fmt.Errorf("encode %s: %w", op.Op, err)
		}

		summary.TotalOperations++

		switch op.Op {
		case OpMkdir:
			summary.DirsCreated++
		case OpMkfile:
			summary.FilesCreated++
			summary.Bytes += op.Size
		case OpRead:
			summary.FilesRead++
		case OpUnlink, OpRmdir:
			summary.Removed++
		}
	}

	return summary, nil
}
