// Package bench runs storage benchmarks against a device.Target. Every
// benchmark keeps a primary dataset, filled by running it, and a reference
// dataset, filled only from a saved result file.
package bench

import (
	"errors"
	"fmt"
	"strings"

	"github.com/weiihann/hddtest/config"
	"github.com/weiihann/hddtest/device"
	"github.com/weiihann/hddtest/resultfile"
)

var (
	// ErrNoTarget is returned by Start when no target is attached.
	ErrNoTarget = errors.New("no storage target attached")
	// ErrAlreadyRunning is returned by Start while a run is in flight.
	ErrAlreadyRunning = errors.New("benchmark already running")
	// ErrNoFilesystem is returned when a filesystem benchmark is started on
	// a target without a mounted filesystem.
	ErrNoFilesystem = errors.New("benchmark needs a mounted filesystem")
	// ErrNoDevice is returned when a raw benchmark is started on a target
	// without an open handle.
	ErrNoDevice = errors.New("benchmark needs an open device")
	// ErrUnknownKind is returned for benchmark names that do not exist.
	ErrUnknownKind = errors.New("unknown benchmark")
)

// Kind identifies a benchmark variant.
type Kind int

const (
	Seek Kind = iota
	ReadContinuous
	ReadRandom
	ReadBlock
	FileReadWrite
	FileStructure
	SmallFiles
)

var kinds = [...]struct {
	name    string
	element string
	fs      bool
}{
	Seek:           {"seek", "Seeker", false},
	ReadContinuous: {"read-continuous", "Read_Continuous", false},
	ReadRandom:     {"read-random", "Read_Random", false},
	ReadBlock:      {"read-block", "Read_Block", false},
	FileReadWrite:  {"file-read-write", "File_Read_Write", true},
	FileStructure:  {"file-structure", "File_Structure", true},
	SmallFiles:     {"small-files", "Small_Files", true},
}

// Kinds returns every benchmark kind in presentation order.
func Kinds() []Kind {
	out := make([]Kind, len(kinds))
	for i := range kinds {
		out[i] = Kind(i)
	}

	return out
}

func (k Kind) valid() bool { return k >= 0 && int(k) < len(kinds) }

func (k Kind) String() string {
	if !k.valid() {
		return fmt.Sprintf("Kind(%d)", int(k))
	}

	return kinds[k].name
}

// ElementName is the name of the result-file element of this kind.
func (k Kind) ElementName() string {
	if !k.valid() {
		return ""
	}

	return kinds[k].element
}

// NeedsFilesystem reports whether the benchmark works on files inside the
// scratch directory rather than on the raw handle.
func (k Kind) NeedsFilesystem() bool {
	return k.valid() && kinds[k].fs
}

// ParseKind accepts the CLI name ("read-block") or the element name
// ("Read_Block"), case-insensitively.
func ParseKind(s string) (Kind, error) {
	for i, info := range kinds {
		if strings.EqualFold(s, info.name) || strings.EqualFold(s, info.element) {
			return Kind(i), nil
		}
	}

	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Dataset selects the primary or the reference results of a benchmark.
type Dataset int

const (
	Primary Dataset = iota
	Reference
)

func (d Dataset) String() string {
	if d == Reference {
		return "reference"
	}

	return "primary"
}

// Sample is one measurement handed to the display side. Series names the
// curve or bar it belongs to.
type Sample struct {
	Series string  `json:"series"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
}

// Metric is one summary figure of a dataset.
type Metric struct {
	Name  string  `json:"name"`
	Unit  string  `json:"unit"`
	Value float64 `json:"value"`
}

// Device is the subset of device.Target the benchmarks drive.
type Device interface {
	Path() string
	Size() int64
	HasHandle() bool
	Mounted() bool

	Warmup() error
	DropCaches()
	Sync() int64

	SetPos(pos int64) error
	SeekTo(pos int64) (int64, error)
	Read(size int64) (int64, error)
	ReadAt(size, pos int64) (int64, error)

	MkDir(rel string) (int64, error)
	MkFile(rel string, size int64) (int64, error)
	DelFile(rel string) (int64, error)
	DelDir(rel string) (int64, error)
	ReadFile(rel string) (int64, error)
	OpenScratchFile(rel string) (*device.ScratchFile, error)
	ClearSafeTempDirectory() error
}

var _ Device = (*device.Target)(nil)

// Benchmark is the contract every variant implements.
type Benchmark interface {
	Kind() Kind
	// InitScene erases the primary dataset before a run.
	InitScene()
	// Run executes the measurement loop into the primary dataset. It
	// returns when the loop completes or env reports a stop.
	Run(env *Env)
	// Drain returns the samples produced since the previous call.
	Drain(d Dataset) []Sample
	// Progress returns completion in percent. It is 100 only for a
	// complete dataset.
	Progress(d Dataset) int
	Summary(d Dataset) []Metric
	// WriteResults renders the primary dataset.
	WriteResults() *resultfile.Element
	// RestoreResults replays the element found under root into d.
	RestoreResults(root *resultfile.Element, d Dataset)
	EraseResults(d Dataset)
}

// New builds the benchmark of the given kind.
func New(kind Kind, cfg *config.Config) (Benchmark, error) {
	switch kind {
	case Seek:
		return newSeeker(cfg), nil
	case ReadContinuous:
		return newReadCont(cfg), nil
	case ReadRandom:
		return newLadder(ReadRandom, cfg.ReadRandom, cfg.Seed), nil
	case ReadBlock:
		return newLadder(ReadBlock, cfg.ReadBlock, cfg.Seed), nil
	case FileReadWrite:
		return newFileRW(cfg), nil
	case FileStructure:
		return newFileStructure(cfg), nil
	case SmallFiles:
		return newSmallFiles(cfg), nil
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownKind, kind)
	}
}

// All builds one benchmark of every kind.
func All(cfg *config.Config) []Benchmark {
	out := make([]Benchmark, 0, len(kinds))

	for _, k := range Kinds() {
		b, _ := New(k, cfg)
		out = append(out, b)
	}

	return out
}
