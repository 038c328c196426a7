package bench

import (
	"sync/atomic"

	"github.com/weiihann/hddtest/config"
	"github.com/weiihann/hddtest/resultfile"
	"github.com/weiihann/hddtest/workload"
)

type smallFilesResult struct {
	log    SampleLog
	target atomic.Int64

	buildDirs  phase
	buildFiles phase
	read       phase
	destroy    phase
	synced     atomic.Bool
}

func (r *smallFilesResult) erase(target int64) {
	r.target.Store(target)
	r.buildDirs.reset()
	r.buildFiles.reset()
	r.read.reset()
	r.destroy.reset()
	r.synced.Store(false)
	r.log.Reset()
}

// percent counts the closing sync as one unit, so a run that destroyed
// everything but was stopped before the sync stays below 100.
func (r *smallFilesResult) percent() int {
	done := r.buildDirs.count.Load() +
		r.buildFiles.count.Load() +
		r.read.count.Load() +
		r.destroy.count.Load()

	if r.synced.Load() {
		done++
	}

	return percent(done, r.target.Load())
}

// smallFiles builds a tree of directories, fills it with small files of
// random size, reads every file back in random order and removes the tree.
type smallFiles struct {
	dirs    int
	files   int
	minSize int64
	maxSize int64
	seed    int64
	res     [2]smallFilesResult
}

func newSmallFiles(cfg *config.Config) *smallFiles {
	b := &smallFiles{
		dirs:    cfg.SmallFiles.Dirs,
		files:   cfg.SmallFiles.Files,
		minSize: cfg.SmallFiles.MinFileSize.Bytes(),
		maxSize: cfg.SmallFiles.MaxFileSize.Bytes(),
		seed:    cfg.Seed,
	}

	for i := range b.res {
		r := &b.res[i]
		r.buildDirs.series = "build dirs"
		r.buildFiles.series = "build files"
		r.read.series = "read files"
		r.destroy.series = "destroy"
		r.erase(b.target())
	}

	return b
}

func (b *smallFiles) Kind() Kind { return SmallFiles }

func (b *smallFiles) InitScene() { b.EraseResults(Primary) }

// target is every build, read and removal plus the closing sync.
func (b *smallFiles) target() int64 {
	return int64(b.dirs+b.files+b.files+b.dirs+b.files) + 1
}

func (b *smallFiles) Run(env *Env) {
	res := &b.res[Primary]
	res.erase(b.target())

	gen := workload.NewGenerator(workload.Config{
		Dirs:        b.dirs,
		Files:       b.files,
		MinFileSize: b.minSize,
		MaxFileSize: b.maxSize,
		Mode:        workload.ModeDirsFirst,
		Seed:        b.seed,
	})

	build := gen.Build()
	reads := gen.ReadOrder(build)

	run := func(ops []workload.Operation, pick func(workload.Operation) *phase) bool {
		for _, op := range ops {
			elapsed, err := apply(env.Device, op)
			env.Check(op.Op, err)

			pick(op).add(&res.log, elapsed)

			if env.Stopped() {
				return false
			}
		}

		return true
	}

	buildPhase := func(op workload.Operation) *phase {
		if op.Op == workload.OpMkdir {
			return &res.buildDirs
		}

		return &res.buildFiles
	}

	if !run(build, buildPhase) {
		return
	}

	if !run(reads, func(workload.Operation) *phase { return &res.read }) {
		return
	}

	if !run(workload.Teardown(build), func(workload.Operation) *phase { return &res.destroy }) {
		return
	}

	env.Device.Sync()
	res.synced.Store(true)
}

func (b *smallFiles) Drain(d Dataset) []Sample { return b.res[d].log.Drain() }

func (b *smallFiles) Progress(d Dataset) int { return b.res[d].percent() }

func (b *smallFiles) Summary(d Dataset) []Metric {
	res := &b.res[d]

	return []Metric{
		{Name: "build dirs time", Unit: "s", Value: res.buildDirs.seconds()},
		{Name: "build files time", Unit: "s", Value: res.buildFiles.seconds()},
		{Name: "read files time", Unit: "s", Value: res.read.seconds()},
		{Name: "destroy time", Unit: "s", Value: res.destroy.seconds()},
	}
}

var smallFilesElements = [...]string{"Build_dirs", "Build_files", "Read_files", "Destroy"}

func (r *smallFilesResult) phases() [4]*phase {
	return [4]*phase{&r.buildDirs, &r.buildFiles, &r.read, &r.destroy}
}

func (b *smallFiles) WriteResults() *resultfile.Element {
	res := &b.res[Primary]
	valid := res.percent() == 100

	el := resultfile.NewElement(SmallFiles.ElementName()).SetValid(valid)
	if !valid {
		return el
	}

	for i, p := range res.phases() {
		el.Append(resultfile.NewElement(smallFilesElements[i]).
			SetInt("time", p.elapsed.Load()).
			SetInt("count", p.count.Load()))
	}

	return el
}

func (b *smallFiles) RestoreResults(root *resultfile.Element, d Dataset) {
	el := root.FirstChild(SmallFiles.ElementName())
	if !el.Valid() {
		return
	}

	defaults := [4]int64{
		int64(b.dirs),
		int64(b.files),
		int64(b.files),
		int64(b.dirs + b.files),
	}

	var counts, times [4]int64

	var total int64
	for i, name := range smallFilesElements {
		child := el.FirstChild(name)
		counts[i] = child.Int("count", defaults[i])
		times[i] = child.Int("time", 0)
		total += counts[i]
	}

	res := &b.res[d]
	res.erase(total + 1)

	for i, p := range res.phases() {
		p.restore(&res.log, counts[i], times[i])
	}

	res.synced.Store(true)
}

func (b *smallFiles) EraseResults(d Dataset) { b.res[d].erase(b.target()) }
