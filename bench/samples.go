package bench

import (
	"sync"
	"sync/atomic"

	"github.com/weiihann/hddtest/config"
)

// SampleLog is the append-only FIFO between the worker and the poller.
// The worker pushes, the poller drains whatever accumulated.
type SampleLog struct {
	mu      sync.Mutex
	pending []Sample
}

// Push appends samples in order.
func (l *SampleLog) Push(samples ...Sample) {
	l.mu.Lock()
	l.pending = append(l.pending, samples...)
	l.mu.Unlock()
}

// Drain returns and forgets the pending samples.
func (l *SampleLog) Drain() []Sample {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := l.pending
	l.pending = nil

	return out
}

// Reset drops pending samples.
func (l *SampleLog) Reset() {
	l.mu.Lock()
	l.pending = nil
	l.mu.Unlock()
}

// counter tracks completed units against a target.
type counter struct {
	done   atomic.Int64
	target atomic.Int64
}

func (c *counter) reset(target int64) {
	c.done.Store(0)
	c.target.Store(target)
}

func (c *counter) step() { c.done.Add(1) }

// complete marks a restored dataset as fully done.
func (c *counter) complete(target int64) {
	c.target.Store(target)
	c.done.Store(target)
}

func (c *counter) percent() int {
	return percent(c.done.Load(), c.target.Load())
}

func (c *counter) valid() bool {
	return c.percent() == 100
}

// percent maps done/target to [0, 100]. Only done >= target gives 100.
func percent(done, target int64) int {
	if target <= 0 || done <= 0 {
		return 0
	}

	if done >= target {
		return 100
	}

	return int(done * 100 / target)
}

// Series accumulates a stream of values with running aggregates.
type Series struct {
	mu     sync.Mutex
	values []float64
	sum    float64
	min    float64
	max    float64
}

// Add appends v.
func (s *Series) Add(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.values) == 0 || v < s.min {
		s.min = v
	}

	if len(s.values) == 0 || v > s.max {
		s.max = v
	}

	s.values = append(s.values, v)
	s.sum += v
}

// Reset forgets every value.
func (s *Series) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values = nil
	s.sum, s.min, s.max = 0, 0, 0
}

// Values returns a copy of the values in insertion order.
func (s *Series) Values() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]float64(nil), s.values...)
}

// Len returns the number of values.
func (s *Series) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.values)
}

// Avg returns the arithmetic mean, 0 when empty.
func (s *Series) Avg() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.values) == 0 {
		return 0
	}

	return s.sum / float64(len(s.values))
}

// Min returns the smallest value, 0 when empty.
func (s *Series) Min() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.min
}

// Max returns the largest value, 0 when empty.
func (s *Series) Max() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.max
}

// throughput converts bytes moved in elapsed microseconds to MiB/s. A
// primitive that failed before the clock advanced counts as 1µs.
func throughput(bytes, elapsed int64) float64 {
	if elapsed <= 0 {
		elapsed = 1
	}

	return float64(bytes) / float64(config.MB) / (float64(elapsed) / float64(config.Second))
}

// seconds converts microseconds to seconds.
func seconds(us int64) float64 {
	return float64(us) / float64(config.Second)
}

// millis converts microseconds to milliseconds.
func millis(us int64) float64 {
	return float64(us) / float64(config.Millisecond)
}

// phase accumulates the count and cumulative time of one stage of a
// filesystem benchmark.
type phase struct {
	series  string
	count   atomic.Int64
	elapsed atomic.Int64
}

func (p *phase) reset() {
	p.count.Store(0)
	p.elapsed.Store(0)
}

// add records one operation and pushes the cumulative time in seconds.
func (p *phase) add(log *SampleLog, elapsed int64) {
	n := p.count.Add(1)
	total := p.elapsed.Add(elapsed)

	log.Push(Sample{Series: p.series, X: float64(n), Y: seconds(total)})
}

// restore replaces the phase with saved totals.
func (p *phase) restore(log *SampleLog, count, elapsed int64) {
	p.count.Store(count)
	p.elapsed.Store(elapsed)

	log.Push(Sample{Series: p.series, X: float64(count), Y: seconds(elapsed)})
}

func (p *phase) seconds() float64 { return seconds(p.elapsed.Load()) }
