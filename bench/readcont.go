package bench

import (
	"github.com/weiihann/hddtest/config"
	"github.com/weiihann/hddtest/resultfile"
)

type speedResult struct {
	counter
	log    SampleLog
	speeds Series
	series string
}

func (r *speedResult) erase() {
	r.reset(0)
	r.log.Reset()
	r.speeds.Reset()
}

func (r *speedResult) add(speed float64) {
	idx := r.speeds.Len()
	r.speeds.Add(speed)
	r.log.Push(Sample{Series: r.series, X: float64(idx), Y: speed})
}

// readCont reads the target sequentially from offset zero in fixed blocks.
type readCont struct {
	total int64
	block int64
	res   [2]speedResult
}

func newReadCont(cfg *config.Config) *readCont {
	b := &readCont{
		total: cfg.ReadCont.TotalSize.Bytes(),
		block: cfg.ReadCont.BlockSize.Bytes(),
	}

	for i := range b.res {
		b.res[i].series = "read"
	}

	return b
}

func (b *readCont) Kind() Kind { return ReadContinuous }

func (b *readCont) InitScene() { b.res[Primary].erase() }

// blocks returns how many blocks a run reads on a target of the given
// capacity. The byte target never exceeds the capacity.
func (b *readCont) blocks(capacity int64) int64 {
	total := min(b.total, capacity)
	if total <= 0 || b.block <= 0 {
		return 0
	}

	return total / b.block
}

func (b *readCont) Run(env *Env) {
	res := &b.res[Primary]
	res.erase()

	dev := env.Device
	blocks := b.blocks(dev.Size())
	res.reset(blocks)

	if err := dev.SetPos(0); err != nil {
		env.Check("seek", err)
		return
	}

	for i := int64(0); i < blocks; i++ {
		elapsed, err := dev.Read(b.block)
		env.Check("read", err)

		res.add(throughput(b.block, elapsed))
		res.step()

		if env.Stopped() {
			return
		}
	}
}

func (b *readCont) Drain(d Dataset) []Sample { return b.res[d].log.Drain() }

func (b *readCont) Progress(d Dataset) int { return b.res[d].percent() }

func (b *readCont) Summary(d Dataset) []Metric {
	s := &b.res[d].speeds

	return []Metric{
		{Name: "average read speed", Unit: "MiB/s", Value: s.Avg()},
		{Name: "min read speed", Unit: "MiB/s", Value: s.Min()},
		{Name: "max read speed", Unit: "MiB/s", Value: s.Max()},
	}
}

func (b *readCont) WriteResults() *resultfile.Element {
	res := &b.res[Primary]
	valid := res.valid()

	el := resultfile.NewElement(ReadContinuous.ElementName()).SetValid(valid)
	if !valid {
		return el
	}

	for _, v := range res.speeds.Values() {
		el.Append(resultfile.NewElement("Speed").SetFloat("value", v))
	}

	return el
}

func (b *readCont) RestoreResults(root *resultfile.Element, d Dataset) {
	el := root.FirstChild(ReadContinuous.ElementName())
	if !el.Valid() {
		return
	}

	res := &b.res[d]
	res.erase()

	children := el.ChildrenNamed("Speed")
	for _, c := range children {
		res.add(c.Float("value", 0))
	}

	res.complete(int64(len(children)))
}

func (b *readCont) EraseResults(d Dataset) { b.res[d].erase() }
