package bench

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weiihann/hddtest/config"
	"github.com/weiihann/hddtest/device"
	"github.com/weiihann/hddtest/resultfile"
)

// testConfig shrinks every benchmark so a full run takes milliseconds.
func testConfig() *config.Config {
	cfg := config.Default()

	cfg.Seek.Count = 50
	cfg.ReadCont.TotalSize = config.Size(64 * config.KB)
	cfg.ReadCont.BlockSize = config.Size(4 * config.KB)
	cfg.ReadRandom.BaseBlockSize = config.Size(8 * config.KB)
	cfg.ReadRandom.Steps = 4
	cfg.ReadRandom.BudgetPerSize = config.Size(32 * config.KB)
	cfg.ReadBlock = cfg.ReadRandom
	cfg.FileRW.TotalSize = config.Size(64 * config.KB)
	cfg.FileRW.BlockSize = config.Size(16 * config.KB)
	cfg.FileStructure.Dirs = 20
	cfg.FileStructure.Files = 20
	cfg.FileStructure.SettleDelay = 0
	cfg.SmallFiles.Dirs = 10
	cfg.SmallFiles.Files = 10
	cfg.SmallFiles.MinFileSize = config.Size(config.KB)
	cfg.SmallFiles.MaxFileSize = config.Size(2 * config.KB)

	return cfg
}

func openFile(t *testing.T, size int64) *device.Target {
	t.Helper()

	path := filepath.Join(t.TempDir(), "disk.img")

	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, f.Truncate(size))
	require.NoError(t, f.Close())

	tgt := device.NewTarget(nil)
	require.NoError(t, tgt.Open(path, device.OpenOptions{}))
	t.Cleanup(func() { tgt.Close() })

	return tgt
}

func openDir(t *testing.T) (*device.Target, string) {
	t.Helper()

	dir := t.TempDir()

	tgt := device.NewTarget(nil)
	require.NoError(t, tgt.Open(dir, device.OpenOptions{}))
	t.Cleanup(func() { tgt.Close() })

	return tgt, dir
}

func runToEnd(t *testing.T, r *Runner) {
	t.Helper()

	require.NoError(t, r.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	require.NoError(t, r.Wait(ctx))
	assert.Equal(t, Stopped, r.State())
}

// roundTrip saves b and restores the document into a fresh benchmark's
// reference dataset.
func roundTrip(t *testing.T, b Benchmark, cfg *config.Config) Benchmark {
	t.Helper()

	doc := resultfile.NewElement(resultfile.RootName).Append(b.WriteResults())

	var buf bytes.Buffer
	require.NoError(t, resultfile.Encode(&buf, doc))

	root, err := resultfile.Decode(&buf)
	require.NoError(t, err)

	restored, err := New(b.Kind(), cfg)
	require.NoError(t, err)

	restored.RestoreResults(root, Reference)

	return restored
}

func TestParseKind(t *testing.T) {
	for _, k := range Kinds() {
		got, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, got)

		got, err = ParseKind(k.ElementName())
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}

	_, err := ParseKind("defrag")
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestBlockSizeLadder(t *testing.T) {
	sizes := config.Default().ReadBlock.BlockSizes()

	require.Len(t, sizes, 12)
	assert.Equal(t, config.MB, sizes[0])
	assert.Equal(t, int64(512), sizes[11])

	for i := 1; i < len(sizes); i++ {
		assert.Equal(t, sizes[i-1]/2, sizes[i])
	}
}

func TestRawBenchmarksComplete(t *testing.T) {
	cfg := testConfig()

	for _, kind := range []Kind{Seek, ReadContinuous, ReadRandom, ReadBlock} {
		t.Run(kind.String(), func(t *testing.T) {
			tgt := openFile(t, config.MB)

			b, err := New(kind, cfg)
			require.NoError(t, err)

			r := NewRunner(b, cfg.ErrorPolicy, nil)
			r.Attach(tgt)
			runToEnd(t, r)

			assert.Empty(t, r.Errors())
			assert.Equal(t, 100, b.Progress(Primary))
			samples := r.Drain()
			assert.NotEmpty(t, samples)
			assert.Equal(t, 0, b.Progress(Reference))

			el := b.WriteResults()
			assert.True(t, el.Valid())
			assert.NotEmpty(t, el.Children)

			restored := roundTrip(t, b, cfg)
			assert.Equal(t, 100, restored.Progress(Reference))
			assert.Equal(t, 0, restored.Progress(Primary))
			assertMetricsEqual(t, b.Summary(Primary), restored.Summary(Reference))
			assertSameRecord(t, b, restored, samples)
		})
	}
}

func TestFilesystemBenchmarksComplete(t *testing.T) {
	cfg := testConfig()

	for _, kind := range []Kind{FileReadWrite, FileStructure, SmallFiles} {
		t.Run(kind.String(), func(t *testing.T) {
			tgt, dir := openDir(t)

			b, err := New(kind, cfg)
			require.NoError(t, err)

			r := NewRunner(b, cfg.ErrorPolicy, nil)
			r.Attach(tgt)
			runToEnd(t, r)

			assert.Empty(t, r.Errors())
			assert.Equal(t, 100, b.Progress(Primary))
			samples := r.Drain()

			_, err = os.Stat(filepath.Join(dir, "tmp"))
			assert.True(t, os.IsNotExist(err), "scratch tree left behind")

			restored := roundTrip(t, b, cfg)
			assert.Equal(t, 100, restored.Progress(Reference))
			assertMetricsEqual(t, b.Summary(Primary), restored.Summary(Reference))
			assertSameRecord(t, b, restored, samples)
		})
	}
}

// assertSameRecord checks that a restored reference carries the measured
// sequence of the original run. Seek, Read-Continuous and File-Read-Write
// persist every sample, so the restored log replays them exactly. The
// ladders persist one total per block size and the tree benchmarks one
// total per phase.
func assertSameRecord(t *testing.T, orig, restored Benchmark, samples []Sample) {
	t.Helper()

	switch b := orig.(type) {
	case *seeker:
		got := restored.(*seeker)
		assert.Equal(t, b.res[Primary].points(), got.res[Reference].points())
		assert.Equal(t, samples, got.Drain(Reference))
	case *readCont:
		got := restored.(*readCont)
		assert.Equal(t, b.res[Primary].speeds.Values(), got.res[Reference].speeds.Values())
		assert.Equal(t, samples, got.Drain(Reference))
	case *fileRW:
		got := restored.(*fileRW)
		assert.Equal(t, b.res[Primary].write.speeds.Values(), got.res[Reference].write.speeds.Values())
		assert.Equal(t, b.res[Primary].read.speeds.Values(), got.res[Reference].read.speeds.Values())
		assert.Equal(t, samples, got.Drain(Reference))
	case *ladder:
		want := b.res[Primary].snapshot()
		have := restored.(*ladder).res[Reference].snapshot()
		require.Len(t, have, len(want))

		for i := range want {
			assert.Equal(t, want[i].block, have[i].block)
			assert.Equal(t, want[i].bytes.Load(), have[i].bytes.Load())
			assert.Equal(t, want[i].elapsed.Load(), have[i].elapsed.Load())
		}
	case *fileStructure:
		want, have := &b.res[Primary], &restored.(*fileStructure).res[Reference]
		assertPhasesEqual(t, []*phase{&want.build, &want.destroy}, []*phase{&have.build, &have.destroy})
	case *smallFiles:
		want, have := &b.res[Primary], &restored.(*smallFiles).res[Reference]
		assertPhasesEqual(t,
			[]*phase{&want.buildDirs, &want.buildFiles, &want.read, &want.destroy},
			[]*phase{&have.buildDirs, &have.buildFiles, &have.read, &have.destroy})
	default:
		t.Fatalf("no record check for %T", orig)
	}
}

func assertPhasesEqual(t *testing.T, want, have []*phase) {
	t.Helper()

	for i := range want {
		assert.Equal(t, want[i].count.Load(), have[i].count.Load(), want[i].series)
		assert.Equal(t, want[i].elapsed.Load(), have[i].elapsed.Load(), want[i].series)
	}
}

func TestReadContinuousClampsToCapacity(t *testing.T) {
	cfg := testConfig()
	cfg.ReadCont.TotalSize = config.Size(config.GB)

	tgt := openFile(t, 64*config.KB)

	b := newReadCont(cfg)
	r := NewRunner(b, cfg.ErrorPolicy, nil)
	r.Attach(tgt)
	runToEnd(t, r)

	assert.Empty(t, r.Errors())
	assert.Equal(t, 100, b.Progress(Primary))
	assert.Equal(t, 16, b.res[Primary].speeds.Len())
}

func TestFileStructureCounts(t *testing.T) {
	cfg := testConfig()
	cfg.FileStructure.Dirs = 1000
	cfg.FileStructure.Files = 1000

	tgt, _ := openDir(t)

	b := newFileStructure(cfg)
	r := NewRunner(b, cfg.ErrorPolicy, nil)
	r.Attach(tgt)
	runToEnd(t, r)

	require.Empty(t, r.Errors())

	res := &b.res[Primary]
	assert.Equal(t, int64(1000), res.dirs.Load())
	assert.Equal(t, int64(1000), res.files.Load())
	assert.Equal(t, int64(2000), res.destroy.count.Load())

	el := b.WriteResults()
	assert.Equal(t, "yes", el.Get(resultfile.ValidAttr, ""))
	assert.Equal(t, int64(2000), el.FirstChild("Destroy").Int("count", 0))
}

func TestProgressIsMonotonic(t *testing.T) {
	cfg := testConfig()
	cfg.ReadBlock.BudgetPerSize = config.Size(256 * config.KB)

	tgt := openFile(t, config.MB)

	b := newLadder(ReadBlock, cfg.ReadBlock, cfg.Seed)
	r := NewRunner(b, cfg.ErrorPolicy, nil)
	r.Attach(tgt)

	require.NoError(t, r.Start(context.Background()))

	last := 0
	for r.State() != Stopped {
		p := r.Progress()
		assert.GreaterOrEqual(t, p, last)
		last = p

		time.Sleep(time.Millisecond)
	}

	require.NoError(t, r.Wait(context.Background()))
	assert.Equal(t, 100, r.Progress())
}

func TestCancelledRunStaysIncomplete(t *testing.T) {
	cfg := testConfig()
	cfg.FileStructure.SettleDelay = time.Minute

	tgt, dir := openDir(t)

	b := newFileStructure(cfg)
	r := NewRunner(b, cfg.ErrorPolicy, nil)
	r.Attach(tgt)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, r.Start(ctx))
	cancel()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer waitCancel()

	require.NoError(t, r.Wait(waitCtx))
	assert.Equal(t, Stopped, r.State())
	assert.Less(t, b.Progress(Primary), 100)

	el := b.WriteResults()
	assert.False(t, el.Valid())
	assert.Empty(t, el.Children)

	_, err := os.Stat(filepath.Join(dir, "tmp"))
	assert.True(t, os.IsNotExist(err), "scratch tree left behind after stop")
}

func TestStartRejections(t *testing.T) {
	cfg := testConfig()

	file := openFile(t, config.MB)
	dir, _ := openDir(t)

	empty := device.NewTarget(nil)
	require.NoError(t, empty.Open("", device.OpenOptions{}))

	tests := []struct {
		name   string
		kind   Kind
		target Device
		want   error
	}{
		{"no target", Seek, nil, ErrNoTarget},
		{"results only", Seek, empty, ErrNoTarget},
		{"filesystem on raw file", SmallFiles, file, ErrNoFilesystem},
		{"raw on directory", ReadContinuous, dir, ErrNoDevice},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := New(tt.kind, cfg)
			require.NoError(t, err)

			r := NewRunner(b, cfg.ErrorPolicy, nil)
			if tt.target != nil {
				r.Attach(tt.target)
			}

			assert.ErrorIs(t, r.Start(context.Background()), tt.want)
			assert.Equal(t, Stopped, r.State())
		})
	}
}

func TestStartWhileRunning(t *testing.T) {
	cfg := testConfig()
	cfg.FileStructure.SettleDelay = time.Minute

	tgt, _ := openDir(t)

	r := NewRunner(newFileStructure(cfg), cfg.ErrorPolicy, nil)
	r.Attach(tgt)

	require.NoError(t, r.Start(context.Background()))
	assert.ErrorIs(t, r.Start(context.Background()), ErrAlreadyRunning)

	r.Stop()
	require.NoError(t, r.Wait(context.Background()))
	assert.Equal(t, Stopped, r.State())
}

// stopOnStart requests a stop the moment the runner publishes Starting.
type stopOnStart struct {
	recordingObserver
	runner *Runner
}

func (o *stopOnStart) StateChanged(k Kind, s State) {
	o.recordingObserver.StateChanged(k, s)

	if s == Starting {
		o.runner.Stop()
	}
}

func TestStopDuringStartIsHonoured(t *testing.T) {
	cfg := testConfig()
	tgt := openFile(t, config.MB)

	b := newSeeker(cfg)
	r := NewRunner(b, cfg.ErrorPolicy, nil)
	r.Attach(tgt)

	obs := &stopOnStart{runner: r}
	r.Observer = obs

	runToEnd(t, r)

	assert.Equal(t, 0, b.Progress(Primary))
	assert.Empty(t, b.Drain(Primary))

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, []State{Starting, Stopping, Stopped}, obs.states)
}

func TestErrorPolicy(t *testing.T) {
	cfg := testConfig()

	tests := []struct {
		policy   config.ErrorPolicy
		complete bool
	}{
		{config.ContinueOnError, true},
		{config.StopOnError, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			dev := &fakeDevice{size: config.MB, readErr: errors.New("medium error")}

			b := newReadCont(cfg)
			r := NewRunner(b, tt.policy, nil)
			r.Attach(dev)
			runToEnd(t, r)

			errs := r.Errors()
			require.NotEmpty(t, errs)
			assert.ErrorIs(t, errs[0], dev.readErr)

			if tt.complete {
				assert.Equal(t, 100, b.Progress(Primary))
				assert.Len(t, errs, 16)
			} else {
				assert.Less(t, b.Progress(Primary), 100)
				assert.Len(t, errs, 1)
			}
		})
	}
}

func TestObserverSeesLifecycle(t *testing.T) {
	cfg := testConfig()
	obs := &recordingObserver{}

	r := NewRunner(newSeeker(cfg), cfg.ErrorPolicy, nil)
	r.Observer = obs
	r.Attach(&fakeDevice{size: config.MB})
	runToEnd(t, r)

	r.Progress()
	r.Drain()

	obs.mu.Lock()
	defer obs.mu.Unlock()

	assert.Equal(t, []State{Starting, Started, Stopped}, obs.states)
	assert.Equal(t, 100, obs.progress)
	assert.Equal(t, cfg.Seek.Count, obs.samples)
}

func TestRestoreIgnoresInvalidElement(t *testing.T) {
	root := resultfile.NewElement(resultfile.RootName).Append(
		resultfile.NewElement("Read_Continuous").SetValid(false).Append(
			resultfile.NewElement("Speed").SetFloat("value", 10),
		),
	)

	b := newReadCont(testConfig())
	b.RestoreResults(root, Reference)

	assert.Equal(t, 0, b.Progress(Reference))
	assert.Equal(t, 0, b.res[Reference].speeds.Len())
}

func TestRestoreRecomputesAggregates(t *testing.T) {
	root := resultfile.NewElement(resultfile.RootName).Append(
		resultfile.NewElement("Read_Continuous").SetValid(true).Append(
			resultfile.NewElement("Speed").SetFloat("value", 10),
			resultfile.NewElement("Speed").SetFloat("value", 30),
			resultfile.NewElement("Speed").SetFloat("value", 20),
		),
	)

	b := newReadCont(testConfig())
	b.RestoreResults(root, Reference)

	assert.Equal(t, 100, b.Progress(Reference))
	assertMetricsEqual(t, []Metric{
		{Name: "average read speed", Unit: "MiB/s", Value: 20},
		{Name: "min read speed", Unit: "MiB/s", Value: 10},
		{Name: "max read speed", Unit: "MiB/s", Value: 30},
	}, b.Summary(Reference))

	samples := b.Drain(Reference)
	require.Len(t, samples, 3)
	assert.Equal(t, 30.0, samples[1].Y)
}

func TestSeekSummaryExtrema(t *testing.T) {
	s := newSeeker(testConfig())
	res := &s.res[Reference]

	for _, us := range []int64{2000, 5000, 1000} {
		res.add(seekPoint{Length: 0.5, Time: us})
	}

	res.complete(3)

	assertMetricsEqual(t, []Metric{
		{Name: "average seek time", Unit: "ms", Value: 8.0 / 3},
		{Name: "min seek time", Unit: "ms", Value: 1},
		{Name: "max seek time", Unit: "ms", Value: 5},
		{Name: "seeks", Value: 3},
	}, s.Summary(Reference))
}

func TestSmallFilesWaitsForFinalSync(t *testing.T) {
	b := newSmallFiles(testConfig())
	res := &b.res[Primary]
	assert.Equal(t, b.target(), res.target.Load())

	res.destroy.count.Store(int64(b.dirs + b.files))
	res.buildDirs.count.Store(int64(b.dirs))
	res.buildFiles.count.Store(int64(b.files))
	res.read.count.Store(int64(b.files))

	assert.Less(t, b.Progress(Primary), 100)
	assert.False(t, b.WriteResults().Valid())

	res.synced.Store(true)
	assert.Equal(t, 100, b.Progress(Primary))
	assert.True(t, b.WriteResults().Valid())
}

func TestPercent(t *testing.T) {
	tests := []struct {
		done, target int64
		want         int
	}{
		{0, 0, 0},
		{5, 0, 0},
		{0, 10, 0},
		{1, 3, 33},
		{99, 100, 99},
		{100, 100, 100},
		{120, 100, 100},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, percent(tt.done, tt.target), "%d/%d", tt.done, tt.target)
	}
}

func assertMetricsEqual(t *testing.T, want, got []Metric) {
	t.Helper()

	require.Len(t, got, len(want))

	for i := range want {
		assert.Equal(t, want[i].Name, got[i].Name)
		assert.InDelta(t, want[i].Value, got[i].Value, 1e-6, want[i].Name)
	}
}

// fakeDevice serves raw primitives from memory with a fixed per-call
// latency.
type fakeDevice struct {
	size    int64
	readErr error
}

var _ Device = (*fakeDevice)(nil)

func (f *fakeDevice) Path() string    { return "/dev/fake" }
func (f *fakeDevice) Size() int64     { return f.size }
func (f *fakeDevice) HasHandle() bool { return true }
func (f *fakeDevice) Mounted() bool   { return false }
func (f *fakeDevice) Warmup() error   { return nil }
func (f *fakeDevice) DropCaches()     {}
func (f *fakeDevice) Sync() int64     { return 1 }

func (f *fakeDevice) SetPos(int64) error { return nil }

func (f *fakeDevice) SeekTo(int64) (int64, error) { return 100, nil }

func (f *fakeDevice) Read(int64) (int64, error) { return 100, f.readErr }

func (f *fakeDevice) ReadAt(int64, int64) (int64, error) { return 100, f.readErr }

func (f *fakeDevice) MkDir(string) (int64, error) { return 0, device.ErrNotMounted }

func (f *fakeDevice) MkFile(string, int64) (int64, error) { return 0, device.ErrNotMounted }

func (f *fakeDevice) DelFile(string) (int64, error) { return 0, device.ErrNotMounted }

func (f *fakeDevice) DelDir(string) (int64, error) { return 0, device.ErrNotMounted }

func (f *fakeDevice) ReadFile(string) (int64, error) { return 0, device.ErrNotMounted }

func (f *fakeDevice) OpenScratchFile(string) (*device.ScratchFile, error) {
	return nil, device.ErrNotMounted
}

func (f *fakeDevice) ClearSafeTempDirectory() error { return nil }

type recordingObserver struct {
	mu       sync.Mutex
	states   []State
	progress int
	samples  int
	errors   int
}

func (o *recordingObserver) StateChanged(_ Kind, s State) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.states = append(o.states, s)
}

func (o *recordingObserver) Progress(_ Kind, p int) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.progress = p
}

func (o *recordingObserver) Samples(_ Kind, s []Sample) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.samples += len(s)
}

func (o *recordingObserver) OperationError(Kind, string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.errors++
}
