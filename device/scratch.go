package device

import (
	"errors"
	"io"
	"os"

	"github.com/weiihann/hddtest/clock"
)

// ScratchFile is a synchronously written file inside the scratch directory,
// opened with a drop-cache advisory so reads hit the medium.
type ScratchFile struct {
	path string
	f    *os.File
}

// OpenScratchFile creates or opens rel inside the scratch directory.
func (t *Target) OpenScratchFile(rel string) (*ScratchFile, error) {
	path, err := t.resolve(rel)
	if err != nil {
		return nil, err
	}

	sf := &ScratchFile{path: path}
	if err := sf.open(); err != nil {
		return nil, err
	}

	return sf, nil
}

func (s *ScratchFile) open() error {
	f, err := os.OpenFile(s.path, os.O_RDWR|os.O_CREATE|os.O_SYNC, 0o600)
	if err != nil {
		return &OpError{Op: "open", Path: s.path, Err: err}
	}

	// Advisory only; a filesystem that ignores it still works.
	_ = adviseDontNeed(f)

	s.f = f

	return nil
}

// Path returns the absolute file path.
func (s *ScratchFile) Path() string { return s.path }

// Reopen closes and reopens the file, discarding any per-handle caching.
func (s *ScratchFile) Reopen() error {
	if err := s.Close(); err != nil {
		return err
	}

	return s.open()
}

// Close releases the handle. Closing twice is a no-op.
func (s *ScratchFile) Close() error {
	if s.f == nil {
		return nil
	}

	err := s.f.Close()
	s.f = nil

	if err != nil {
		return &OpError{Op: "close", Path: s.path, Err: err}
	}

	return nil
}

// SetPos moves the cursor.
func (s *ScratchFile) SetPos(pos int64) error {
	if s.f == nil {
		return ErrNotOpen
	}

	if _, err := s.f.Seek(pos, io.SeekStart); err != nil {
		return &OpError{Op: "seek", Path: s.path, Err: err}
	}

	return nil
}

// Write appends size zero bytes at the cursor.
func (s *ScratchFile) Write(size int64) (int64, error) {
	if s.f == nil {
		return 0, ErrNotOpen
	}

	buf := make([]byte, size)

	return clock.Measure(func() error {
		n, err := s.f.Write(buf)
		if err != nil {
			return &OpError{Op: "write", Path: s.path, Err: err}
		}

		if n < len(buf) {
			return &OpError{Op: "write", Path: s.path, Err: ErrShortWrite}
		}

		return nil
	})
}

// Read reads size bytes at the cursor.
func (s *ScratchFile) Read(size int64) (int64, error) {
	if s.f == nil {
		return 0, ErrNotOpen
	}

	buf := make([]byte, size)

	return clock.Measure(func() error {
		n, err := io.ReadFull(s.f, buf)
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
			return &OpError{Op: "read", Path: s.path, Err: err}
		}

		if n < len(buf) {
			return &OpError{Op: "read", Path: s.path, Err: ErrShortRead}
		}

		return nil
	})
}
