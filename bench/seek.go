package bench

import (
	"sync"

	"github.com/weiihann/hddtest/config"
	"github.com/weiihann/hddtest/random"
	"github.com/weiihann/hddtest/resultfile"
)

// seekPoint is one seek: distance as a fraction of capacity and elapsed
// microseconds.
type seekPoint struct {
	Length float64
	Time   int64
}

type seekResult struct {
	counter
	log SampleLog

	mu    sync.Mutex
	seeks []seekPoint
	times Series
}

func (r *seekResult) erase() {
	r.reset(0)
	r.log.Reset()
	r.times.Reset()

	r.mu.Lock()
	r.seeks = nil
	r.mu.Unlock()
}

func (r *seekResult) add(p seekPoint) {
	r.mu.Lock()
	r.seeks = append(r.seeks, p)
	r.mu.Unlock()

	r.times.Add(millis(p.Time))
	r.log.Push(Sample{Series: "seek", X: p.Length, Y: millis(p.Time)})
}

func (r *seekResult) points() []seekPoint {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]seekPoint(nil), r.seeks...)
}

// seeker measures random seek latency over the whole target.
type seeker struct {
	count int
	seed  int64
	res   [2]seekResult
}

func newSeeker(cfg *config.Config) *seeker {
	return &seeker{count: cfg.Seek.Count, seed: cfg.Seed}
}

func (s *seeker) Kind() Kind { return Seek }

func (s *seeker) InitScene() { s.res[Primary].erase() }

func (s *seeker) Run(env *Env) {
	res := &s.res[Primary]
	res.erase()
	res.reset(int64(s.count))

	dev := env.Device
	size := dev.Size()

	if size <= 0 {
		env.Check("seek", ErrNoDevice)
		return
	}

	gen := random.NewWithSeed(s.seed)

	// Priming seek to the end so the first distance is well defined.
	last := size
	_, err := dev.SeekTo(last)
	env.Check("seek", err)

	for i := 0; i < s.count; i++ {
		next := gen.Int63n(size)

		elapsed, err := dev.SeekTo(next)
		env.Check("seek", err)

		dist := next - last
		if dist < 0 {
			dist = -dist
		}

		last = next

		res.add(seekPoint{
			Length: float64(dist) / float64(size),
			Time:   elapsed,
		})
		res.step()

		if env.Stopped() {
			return
		}
	}
}

func (s *seeker) Drain(d Dataset) []Sample { return s.res[d].log.Drain() }

func (s *seeker) Progress(d Dataset) int { return s.res[d].percent() }

func (s *seeker) Summary(d Dataset) []Metric {
	res := &s.res[d]

	return []Metric{
		{Name: "average seek time", Unit: "ms", Value: res.times.Avg()},
		{Name: "min seek time", Unit: "ms", Value: res.times.Min()},
		{Name: "max seek time", Unit: "ms", Value: res.times.Max()},
		{Name: "seeks", Unit: "", Value: float64(res.times.Len())},
	}
}

func (s *seeker) WriteResults() *resultfile.Element {
	res := &s.res[Primary]
	valid := res.valid()

	el := resultfile.NewElement(Seek.ElementName()).SetValid(valid)
	if !valid {
		return el
	}

	for _, p := range res.points() {
		el.Append(resultfile.NewElement("Seek").
			SetFloat("length", p.Length).
			SetInt("time", p.Time))
	}

	return el
}

func (s *seeker) RestoreResults(root *resultfile.Element, d Dataset) {
	el := root.FirstChild(Seek.ElementName())
	if !el.Valid() {
		return
	}

	res := &s.res[d]
	res.erase()

	children := el.ChildrenNamed("Seek")
	for _, c := range children {
		res.add(seekPoint{
			Length: c.Float("length", 0),
			Time:   c.Int("time", 0),
		})
	}

	res.complete(int64(len(children)))
}

func (s *seeker) EraseResults(d Dataset) { s.res[d].erase() }
