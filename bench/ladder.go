package bench

import (
	"sync"
	"sync/atomic"

	"github.com/weiihann/hddtest/config"
	"github.com/weiihann/hddtest/random"
	"github.com/weiihann/hddtest/resultfile"
)

// ladderStep is the sub-result of one block size.
type ladderStep struct {
	block   int64
	budget  int64
	bytes   atomic.Int64
	elapsed atomic.Int64
}

func (s *ladderStep) speed() float64 {
	return throughput(s.bytes.Load(), s.elapsed.Load())
}

type ladderResult struct {
	log SampleLog

	mu    sync.Mutex
	steps []*ladderStep
}

func (r *ladderResult) erase(sizes []int64, budget int64) {
	steps := make([]*ladderStep, 0, len(sizes))
	for _, size := range sizes {
		steps = append(steps, &ladderStep{block: size, budget: budget})
	}

	r.replace(steps)
}

func (r *ladderResult) replace(steps []*ladderStep) {
	r.mu.Lock()
	r.steps = steps
	r.mu.Unlock()

	r.log.Reset()
}

func (r *ladderResult) snapshot() []*ladderStep {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]*ladderStep(nil), r.steps...)
}

func (r *ladderResult) add(s *ladderStep, bytes, elapsed int64) {
	total := s.bytes.Add(bytes)
	s.elapsed.Add(elapsed)

	r.log.Push(Sample{
		Series: config.FormatSize(s.block),
		X:      float64(total),
		Y:      s.speed(),
	})
}

func (r *ladderResult) percent() int {
	var done, target int64

	for _, s := range r.snapshot() {
		done += min(s.bytes.Load(), s.budget)
		target += s.budget
	}

	return percent(done, target)
}

// ladder reads a byte budget at each of a descending sequence of block
// sizes, at random offsets (Read_Random) or sequentially (Read_Block).
type ladder struct {
	kind   Kind
	sizes  []int64
	budget int64
	seed   int64
	res    [2]ladderResult
}

func newLadder(kind Kind, cfg config.LadderConfig, seed int64) *ladder {
	b := &ladder{
		kind:   kind,
		sizes:  cfg.BlockSizes(),
		budget: cfg.BudgetPerSize.Bytes(),
		seed:   seed,
	}

	for i := range b.res {
		b.res[i].erase(b.sizes, b.budget)
	}

	return b
}

func (b *ladder) Kind() Kind { return b.kind }

func (b *ladder) InitScene() { b.EraseResults(Primary) }

func (b *ladder) Run(env *Env) {
	res := &b.res[Primary]
	res.erase(b.sizes, b.budget)

	dev := env.Device
	size := dev.Size()
	gen := random.NewWithSeed(b.seed)

	var pos int64
	if b.kind == ReadBlock {
		if err := dev.SetPos(0); err != nil {
			env.Check("seek", err)
			return
		}
	}

	for _, step := range res.snapshot() {
		for step.bytes.Load() < step.budget {
			var (
				elapsed int64
				err     error
			)

			if b.kind == ReadRandom {
				var offset int64
				if span := size - step.block; span > 0 {
					offset = gen.Int63n(span)
				}

				elapsed, err = dev.ReadAt(step.block, offset)
			} else {
				// Sequential reads wrap around at the end of the target.
				if pos+step.block > size {
					pos = 0
					if err := dev.SetPos(0); err != nil {
						env.Check("seek", err)
					}
				}

				elapsed, err = dev.Read(step.block)
				pos += step.block
			}

			env.Check("read", err)
			res.add(step, step.block, elapsed)

			if env.Stopped() {
				return
			}
		}
	}
}

func (b *ladder) Drain(d Dataset) []Sample { return b.res[d].log.Drain() }

func (b *ladder) Progress(d Dataset) int { return b.res[d].percent() }

func (b *ladder) Summary(d Dataset) []Metric {
	var out []Metric

	for _, s := range b.res[d].snapshot() {
		if s.bytes.Load() == 0 {
			continue
		}

		out = append(out, Metric{
			Name:  "read " + config.FormatSize(s.block),
			Unit:  "MiB/s",
			Value: s.speed(),
		})
	}

	return out
}

func (b *ladder) WriteResults() *resultfile.Element {
	res := &b.res[Primary]
	valid := res.percent() == 100

	el := resultfile.NewElement(b.kind.ElementName()).SetValid(valid)
	if !valid {
		return el
	}

	for _, s := range res.snapshot() {
		el.Append(resultfile.NewElement("Result").
			SetInt("size", s.block).
			SetInt("bytes", s.bytes.Load()).
			SetInt("time", s.elapsed.Load()))
	}

	return el
}

func (b *ladder) RestoreResults(root *resultfile.Element, d Dataset) {
	el := root.FirstChild(b.kind.ElementName())
	if !el.Valid() {
		return
	}

	res := &b.res[d]

	children := el.ChildrenNamed("Result")
	steps := make([]*ladderStep, 0, len(children))

	for _, c := range children {
		steps = append(steps, &ladderStep{
			block:  c.Int("size", 0),
			budget: c.Int("bytes", b.budget),
		})
	}

	res.replace(steps)

	for i, s := range steps {
		res.add(s, s.budget, children[i].Int("time", 0))
	}
}

func (b *ladder) EraseResults(d Dataset) { b.res[d].erase(b.sizes, b.budget) }
