//go:build !linux

package device

import (
	"errors"
	"os"
	"runtime"
)

var errUnsupported = errors.New("not supported on " + runtime.GOOS)

func kernelIdentity() string { return runtime.GOOS }

func filesystemCapacity(string) int64 { return -1 }

func adviseDontNeed(*os.File) error { return nil }

func dropGlobalCaches() error { return errUnsupported }

func syncAll() {}

func (t *Target) probeIdentity(*os.File, string) {}
