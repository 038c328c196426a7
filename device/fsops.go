package device

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-multierror"
	"github.com/weiihann/hddtest/clock"
)

// SafeTempDirectory returns the scratch directory of a mounted target,
// creating it on first use. Targets without a filesystem return
// ErrNotMounted.
func (t *Target) SafeTempDirectory() (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.safeTempLocked()
}

func (t *Target) safeTempLocked() (string, error) {
	if t.scratch != "" {
		return t.scratch, nil
	}

	if !t.info.Mounted {
		return "", ErrNotMounted
	}

	parent := filepath.Join(t.scratchBase(), scratchParent)

	if _, err := os.Stat(parent); errors.Is(err, fs.ErrNotExist) {
		if err := os.Mkdir(parent, 0o755); err != nil && !errors.Is(err, fs.ErrExist) {
			return "", &OpError{Op: "mkdir", Path: parent, Err: err}
		}

		t.tempCreated = true
	}

	scratch := filepath.Join(parent, scratchName)
	if err := os.Mkdir(scratch, 0o755); err != nil && !errors.Is(err, fs.ErrExist) {
		return "", &OpError{Op: "mkdir", Path: scratch, Err: err}
	}

	t.scratch = scratch

	return scratch, nil
}

// ClearSafeTempDirectory removes the scratch directory and everything in
// it. The tmp parent goes too when this target created it and it is empty.
// A directory that is already gone is not an error.
func (t *Target) ClearSafeTempDirectory() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.clearScratchLocked()
}

func (t *Target) clearScratchLocked() error {
	scratch := t.scratch
	if scratch == "" {
		if !t.info.Mounted {
			return nil
		}

		scratch = filepath.Join(t.scratchBase(), scratchParent, scratchName)
	}

	var result *multierror.Error

	if err := os.RemoveAll(scratch); err != nil {
		result = multierror.Append(result, &OpError{Op: "remove", Path: scratch, Err: err})
	}

	if t.tempCreated {
		parent := filepath.Dir(scratch)

		entries, err := os.ReadDir(parent)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			result = multierror.Append(result, &OpError{Op: "readdir", Path: parent, Err: err})
		case len(entries) == 0:
			if err := os.Remove(parent); err != nil && !errors.Is(err, fs.ErrNotExist) {
				result = multierror.Append(result, &OpError{Op: "remove", Path: parent, Err: err})
			}
		}

		t.tempCreated = false
	}

	t.scratch = ""

	return result.ErrorOrNil()
}

// resolve maps a scratch-relative path to an absolute one.
func (t *Target) resolve(rel string) (string, error) {
	if !filepath.IsLocal(rel) {
		return "", fmt.Errorf("%w: %q", ErrOutsideScratch, rel)
	}

	dir, err := t.SafeTempDirectory()
	if err != nil {
		return "", err
	}

	return filepath.Join(dir, rel), nil
}

// MkDir creates a directory inside the scratch directory.
func (t *Target) MkDir(rel string) (int64, error) {
	path, err := t.resolve(rel)
	if err != nil {
		return 0, err
	}

	return clock.Measure(func() error {
		if err := os.Mkdir(path, 0o755); err != nil {
			return &OpError{Op: "mkdir", Path: path, Err: err}
		}

		return nil
	})
}

// MkFile creates a file inside the scratch directory filled with size zero
// bytes.
func (t *Target) MkFile(rel string, size int64) (int64, error) {
	path, err := t.resolve(rel)
	if err != nil {
		return 0, err
	}

	var data []byte
	if size > 0 {
		data = make([]byte, size)
	}

	return clock.Measure(func() error {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
		if err != nil {
			return &OpError{Op: "create", Path: path, Err: err}
		}

		if len(data) > 0 {
			if _, err := f.Write(data); err != nil {
				f.Close()
				return &OpError{Op: "write", Path: path, Err: err}
			}
		}

		if err := f.Close(); err != nil {
			return &OpError{Op: "close", Path: path, Err: err}
		}

		return nil
	})
}

// DelFile removes a file inside the scratch directory.
func (t *Target) DelFile(rel string) (int64, error) {
	path, err := t.resolve(rel)
	if err != nil {
		return 0, err
	}

	return clock.Measure(func() error {
		if err := os.Remove(path); err != nil {
			return &OpError{Op: "unlink", Path: path, Err: err}
		}

		return nil
	})
}

// DelDir removes an empty directory inside the scratch directory.
func (t *Target) DelDir(rel string) (int64, error) {
	path, err := t.resolve(rel)
	if err != nil {
		return 0, err
	}

	return clock.Measure(func() error {
		if err := os.Remove(path); err != nil {
			return &OpError{Op: "rmdir", Path: path, Err: err}
		}

		return nil
	})
}

// ReadFile reads a whole file inside the scratch directory.
func (t *Target) ReadFile(rel string) (int64, error) {
	path, err := t.resolve(rel)
	if err != nil {
		return 0, err
	}

	return clock.Measure(func() error {
		if _, err := os.ReadFile(path); err != nil {
			return &OpError{Op: "read", Path: path, Err: err}
		}

		return nil
	})
}
