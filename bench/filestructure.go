package bench

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/weiihann/hddtest/config"
	"github.com/weiihann/hddtest/resultfile"
	"github.com/weiihann/hddtest/workload"
)

// apply executes one plan operation on the scratch directory.
func apply(dev Device, op workload.Operation) (int64, error) {
	switch op.Op {
	case workload.OpMkdir:
		return dev.MkDir(op.Path)
	case workload.OpMkfile:
		return dev.MkFile(op.Path, op.Size)
	case workload.OpRead:
		return dev.ReadFile(op.Path)
	case workload.OpUnlink:
		return dev.DelFile(op.Path)
	case workload.OpRmdir:
		return dev.DelDir(op.Path)
	default:
		return 0, fmt.Errorf("unknown plan operation %q", op.Op)
	}
}

type structureResult struct {
	log    SampleLog
	target atomic.Int64

	dirs    atomic.Int64
	files   atomic.Int64
	build   phase
	destroy phase
}

func (r *structureResult) erase(target int64) {
	r.target.Store(target)
	r.dirs.Store(0)
	r.files.Store(0)
	r.build.reset()
	r.destroy.reset()
	r.log.Reset()
}

func (r *structureResult) percent() int {
	return percent(r.build.count.Load()+r.destroy.count.Load(), r.target.Load())
}

// fileStructure grows a random tree of empty files and directories, then
// tears it down, timing both halves.
type fileStructure struct {
	dirs   int
	files  int
	settle time.Duration
	seed   int64
	res    [2]structureResult
}

func newFileStructure(cfg *config.Config) *fileStructure {
	b := &fileStructure{
		dirs:   cfg.FileStructure.Dirs,
		files:  cfg.FileStructure.Files,
		settle: cfg.FileStructure.SettleDelay,
		seed:   cfg.Seed,
	}

	for i := range b.res {
		b.res[i].build.series = "build"
		b.res[i].destroy.series = "destroy"
		b.res[i].erase(b.target())
	}

	return b
}

func (b *fileStructure) Kind() Kind { return FileStructure }

func (b *fileStructure) InitScene() { b.EraseResults(Primary) }

func (b *fileStructure) target() int64 { return int64(2 * (b.dirs + b.files)) }

func (b *fileStructure) Run(env *Env) {
	res := &b.res[Primary]
	res.erase(b.target())

	gen := workload.NewGenerator(workload.Config{
		Dirs:  b.dirs,
		Files: b.files,
		Mode:  workload.ModeInterleaved,
		Seed:  b.seed,
	})

	build := gen.Build()

	for _, op := range build {
		elapsed, err := apply(env.Device, op)
		env.Check(op.Op, err)

		if op.Op == workload.OpMkdir {
			res.dirs.Add(1)
		} else {
			res.files.Add(1)
		}

		res.build.add(&res.log, elapsed)

		if env.Stopped() {
			return
		}
	}

	// Let the filesystem flush the new tree before timing its removal.
	env.Sleep(b.settle)

	for _, op := range workload.Teardown(build) {
		if env.Stopped() {
			return
		}

		elapsed, err := apply(env.Device, op)
		env.Check(op.Op, err)

		res.destroy.add(&res.log, elapsed)
	}
}

func (b *fileStructure) Drain(d Dataset) []Sample { return b.res[d].log.Drain() }

func (b *fileStructure) Progress(d Dataset) int { return b.res[d].percent() }

func (b *fileStructure) Summary(d Dataset) []Metric {
	res := &b.res[d]

	return []Metric{
		{Name: "build time", Unit: "s", Value: res.build.seconds()},
		{Name: "destroy time", Unit: "s", Value: res.destroy.seconds()},
		{Name: "directories", Unit: "", Value: float64(res.dirs.Load())},
		{Name: "files", Unit: "", Value: float64(res.files.Load())},
	}
}

func (b *fileStructure) WriteResults() *resultfile.Element {
	res := &b.res[Primary]
	valid := res.percent() == 100

	el := resultfile.NewElement(FileStructure.ElementName()).SetValid(valid)
	if !valid {
		return el
	}

	return el.Append(
		resultfile.NewElement("Build").
			SetInt("time", res.build.elapsed.Load()).
			SetInt("dirs", res.dirs.Load()).
			SetInt("files", res.files.Load()),
		resultfile.NewElement("Destroy").
			SetInt("time", res.destroy.elapsed.Load()).
			SetInt("count", res.destroy.count.Load()),
	)
}

func (b *fileStructure) RestoreResults(root *resultfile.Element, d Dataset) {
	el := root.FirstChild(FileStructure.ElementName())
	if !el.Valid() {
		return
	}

	build := el.FirstChild("Build")
	destroy := el.FirstChild("Destroy")

	dirs := build.Int("dirs", int64(b.dirs))
	files := build.Int("files", int64(b.files))

	res := &b.res[d]
	res.erase(2 * (dirs + files))

	res.dirs.Store(dirs)
	res.files.Store(files)
	res.build.restore(&res.log, dirs+files, build.Int("time", 0))
	res.destroy.restore(&res.log, destroy.Int("count", dirs+files), destroy.Int("time", 0))
}

func (b *fileStructure) EraseResults(d Dataset) { b.res[d].erase(b.target()) }
