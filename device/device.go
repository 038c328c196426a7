// Package device abstracts the storage target under test: a raw block
// device, a regular file standing in for one, or a directory on a mounted
// filesystem. Every primitive returns the elapsed time in microseconds
// together with any error, and the elapsed time is meaningful even when the
// primitive failed.
package device

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/weiihann/hddtest/clock"
	"github.com/weiihann/hddtest/config"
)

var (
	// ErrNotOpen is returned by raw primitives when no handle is open.
	ErrNotOpen = errors.New("storage target has no open handle")
	// ErrNotMounted is returned by filesystem primitives when the target
	// has no mounted filesystem.
	ErrNotMounted = errors.New("storage target has no mounted filesystem")
	// ErrOutOfRange is returned for positions outside the target capacity.
	ErrOutOfRange = errors.New("position outside storage target")
	// ErrShortRead is returned when a read transfers fewer bytes than asked.
	ErrShortRead = errors.New("short read")
	// ErrShortWrite is returned when a write transfers fewer bytes than asked.
	ErrShortWrite = errors.New("short write")
	// ErrRawWriteDisabled guards destructive writes to block devices.
	ErrRawWriteDisabled = errors.New("raw writes to block devices are disabled")
	// ErrReadOnly is returned by writes on a target opened read-only.
	ErrReadOnly = errors.New("storage target opened read-only")
	// ErrOutsideScratch is returned for paths escaping the scratch directory.
	ErrOutsideScratch = errors.New("path escapes scratch directory")
)

// OpError records a failed primitive.
type OpError struct {
	Op   string
	Path string
	Err  error
}

func (e *OpError) Error() string {
	if e.Path == "" {
		return e.Op + ": " + e.Err.Error()
	}

	return e.Op + " " + e.Path + ": " + e.Err.Error()
}

func (e *OpError) Unwrap() error { return e.Err }

// OpenOptions controls how Open acquires the target.
type OpenOptions struct {
	// CloseExisting also removes the scratch directory of the previously
	// opened target. The previous handle itself is always released.
	CloseExisting bool
	// Writable opens the handle read-write with synchronous writes.
	Writable bool
	// AllowRawWrite permits Write on block devices.
	AllowRawWrite bool
}

const (
	scratchParent = "tmp"
	scratchName   = "hddtest.temp.dir"
)

// Target is a storage device or filesystem under test. A Target is safe for
// concurrent use, but only one benchmark should drive it at a time.
type Target struct {
	// OnAccessWarning, when set, receives the first access problem of each
	// opened target. It must not call back into the Target.
	OnAccessWarning func(error)

	logger *slog.Logger

	mu          sync.Mutex
	path        string
	file        *os.File
	dir         bool
	block       bool
	opts        OpenOptions
	info        Info
	scratch     string
	tempCreated bool

	problemReported atomic.Bool
}

// NewTarget creates an empty target. A nil logger uses slog.Default().
func NewTarget(logger *slog.Logger) *Target {
	if logger == nil {
		logger = slog.Default()
	}

	info := DefaultInfo()
	info.Kernel = kernelIdentity()

	return &Target{
		logger: logger,
		info:   info,
	}
}

// Open attaches the target to path. The previous handle, if any, is closed
// first. An empty path selects results-only mode: metadata is reset and no
// handle is acquired.
func (t *Target) Open(path string, opts OpenOptions) error {
	t.mu.Lock()
	warn, err := t.openLocked(path, opts)
	t.mu.Unlock()

	if warn != nil {
		t.accessWarning(warn)
	}

	return err
}

func (t *Target) openLocked(path string, opts OpenOptions) (warn, err error) {
	if opts.CloseExisting && t.scratch != "" {
		if cerr := t.clearScratchLocked(); cerr != nil {
			t.logger.Warn("failed to clear previous scratch directory",
				slog.String("error", cerr.Error()),
			)
		}
	}

	t.closeLocked()

	t.path = path
	t.opts = opts
	t.dir = false
	t.block = false
	t.scratch = ""
	t.tempCreated = false
	t.problemReported.Store(false)
	t.info.erase()
	t.info.Path = path

	// Results-only metadata describes the machine that wrote the file.
	if path == "" {
		t.info.Kernel = Unknown
		return nil, nil
	}

	t.info.Kernel = kernelIdentity()

	st, err := os.Stat(path)
	if err != nil {
		err = &OpError{Op: "open", Path: path, Err: err}
		return err, err
	}

	if st.IsDir() {
		t.dir = true
		t.info.Size = filesystemCapacity(path)
		t.probeDirectoryMount(path)

		t.logger.Debug("opened directory target",
			slog.String("path", path),
			slog.Int64("capacity", t.info.Size),
		)

		return nil, nil
	}

	t.block = st.Mode()&os.ModeDevice != 0 && st.Mode()&os.ModeCharDevice == 0

	flags := os.O_RDONLY
	if opts.Writable {
		flags = os.O_RDWR | os.O_CREATE | os.O_SYNC
	}

	f, err := os.OpenFile(path, flags, 0o600)
	if err != nil {
		err = &OpError{Op: "open", Path: path, Err: err}
		t.probeDeviceMount(path)

		return err, err
	}

	t.file = f

	warn = t.dropCachesLocked()

	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		t.closeLocked()
		return warn, &OpError{Op: "size", Path: path, Err: err}
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		t.closeLocked()
		return warn, &OpError{Op: "seek", Path: path, Err: err}
	}

	t.info.Size = size
	t.probeIdentity(f, path)
	t.probeDeviceMount(path)

	t.logger.Debug("opened storage target",
		slog.String("path", path),
		slog.Int64("capacity", size),
		slog.Bool("block_device", t.block),
		slog.String("model", t.info.Model),
	)

	return warn, nil
}

// Close releases the handle. Metadata is kept.
func (t *Target) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.closeLocked()
}

func (t *Target) closeLocked() error {
	if t.file == nil {
		return nil
	}

	err := t.file.Close()
	t.file = nil

	if err != nil {
		return &OpError{Op: "close", Path: t.path, Err: err}
	}

	return nil
}

// Path returns the attached path, empty in results-only mode.
func (t *Target) Path() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.path
}

// Size returns the capacity in bytes, or -1 when unknown.
func (t *Target) Size() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.info.Size
}

// HasHandle reports whether raw primitives can run.
func (t *Target) HasHandle() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.file != nil
}

// Mounted reports whether filesystem primitives can run.
func (t *Target) Mounted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.info.Mounted
}

// IsBlockDevice reports whether the handle refers to a block device.
func (t *Target) IsBlockDevice() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.block
}

func (t *Target) handle() (*os.File, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.file == nil {
		return nil, ErrNotOpen
	}

	return t.file, nil
}

// accessWarning reports the first access problem of the current target.
func (t *Target) accessWarning(err error) {
	if !t.problemReported.CompareAndSwap(false, true) {
		return
	}

	t.logger.Warn("storage target access problem, check permissions",
		slog.String("path", t.Path()),
		slog.String("error", err.Error()),
	)

	if t.OnAccessWarning != nil {
		t.OnAccessWarning(err)
	}
}

// DropCaches advises the kernel to drop the cached range of the handle and
// attempts a global page cache flush. Failures degrade to a single access
// warning per target.
func (t *Target) DropCaches() {
	t.mu.Lock()
	warn := t.dropCachesLocked()
	t.mu.Unlock()

	if warn != nil {
		t.accessWarning(warn)
	}
}

func (t *Target) dropCachesLocked() error {
	var errs []error

	if t.file != nil {
		if err := adviseDontNeed(t.file); err != nil {
			errs = append(errs, &OpError{Op: "fadvise", Path: t.path, Err: err})
		}
	}

	if err := dropGlobalCaches(); err != nil {
		errs = append(errs, &OpError{Op: "drop caches", Err: err})
	}

	return errors.Join(errs...)
}

// Sync flushes filesystem write-back.
func (t *Target) Sync() int64 {
	elapsed, _ := clock.Measure(func() error {
		syncAll()
		return nil
	})

	return elapsed
}

// SetPos moves the cursor without timing.
func (t *Target) SetPos(pos int64) error {
	f, err := t.handle()
	if err != nil {
		return err
	}

	if _, err := f.Seek(pos, io.SeekStart); err != nil {
		return &OpError{Op: "seek", Path: f.Name(), Err: err}
	}

	return nil
}

// SeekTo moves the cursor to pos and reads one byte so the head actually
// travels. A probe at the very end of the target reads nothing and is not
// an error.
func (t *Target) SeekTo(pos int64) (int64, error) {
	f, err := t.handle()
	if err != nil {
		return 0, err
	}

	if size := t.Size(); pos < 0 || (size >= 0 && pos > size) {
		return 0, &OpError{
			Op:   "seek",
			Path: f.Name(),
			Err:  fmt.Errorf("%w: %d of %d", ErrOutOfRange, pos, size),
		}
	}

	var probe [1]byte

	return clock.Measure(func() error {
		if _, err := f.Seek(pos, io.SeekStart); err != nil {
			return &OpError{Op: "seek", Path: f.Name(), Err: err}
		}

		if _, err := f.Read(probe[:]); err != nil && !errors.Is(err, io.EOF) {
			return &OpError{Op: "seek probe", Path: f.Name(), Err: err}
		}

		return nil
	})
}

// Read reads size bytes at the cursor.
func (t *Target) Read(size int64) (int64, error) {
	f, err := t.handle()
	if err != nil {
		return 0, err
	}

	buf := make([]byte, size)

	return clock.Measure(func() error {
		return readFull(f, buf)
	})
}

// ReadAt positions the cursor at pos and reads size bytes. The cursor ends
// after the data read.
func (t *Target) ReadAt(size, pos int64) (int64, error) {
	f, err := t.handle()
	if err != nil {
		return 0, err
	}

	buf := make([]byte, size)

	return clock.Measure(func() error {
		if _, err := f.Seek(pos, io.SeekStart); err != nil {
			return &OpError{Op: "seek", Path: f.Name(), Err: err}
		}

		return readFull(f, buf)
	})
}

func readFull(f *os.File, buf []byte) error {
	n, err := f.Read(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return &OpError{Op: "read", Path: f.Name(), Err: err}
	}

	if n < len(buf) {
		return &OpError{
			Op:   "read",
			Path: f.Name(),
			Err:  fmt.Errorf("%w: %d of %d bytes", ErrShortRead, n, len(buf)),
		}
	}

	return nil
}

// Write writes size zero bytes at the cursor. Block devices additionally
// require AllowRawWrite.
func (t *Target) Write(size int64) (int64, error) {
	t.mu.Lock()
	f, opts, block := t.file, t.opts, t.block
	t.mu.Unlock()

	if f == nil {
		return 0, ErrNotOpen
	}

	if !opts.Writable {
		return 0, &OpError{Op: "write", Path: f.Name(), Err: ErrReadOnly}
	}

	if block && !opts.AllowRawWrite {
		return 0, &OpError{Op: "write", Path: f.Name(), Err: ErrRawWriteDisabled}
	}

	buf := make([]byte, size)

	return clock.Measure(func() error {
		n, err := f.Write(buf)
		if err != nil {
			return &OpError{Op: "write", Path: f.Name(), Err: err}
		}

		if n < len(buf) {
			return &OpError{Op: "write", Path: f.Name(), Err: ErrShortWrite}
		}

		return nil
	})
}

// Warmup reads one megabyte at offset one megabyte, clamped to the target,
// so the first measured sample does not pay the cold access penalty.
// Directory targets have nothing to warm up.
func (t *Target) Warmup() error {
	if !t.HasHandle() {
		return nil
	}

	size := t.Size()
	pos, length := config.MB, config.MB

	if size < pos+length {
		pos = 0
		length = min(config.MB, size)
	}

	if length <= 0 {
		return nil
	}

	_, err := t.ReadAt(length, pos)

	return err
}

// scratchBase returns the directory the scratch tree hangs under.
// Directory targets keep scratch space inside themselves, other targets
// under their mount point.
func (t *Target) scratchBase() string {
	if t.dir {
		return t.path
	}

	return t.info.MountPoint
}

func absPath(p string) string {
	if resolved, err := filepath.EvalSymlinks(p); err == nil {
		p = resolved
	}

	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}

	return p
}
