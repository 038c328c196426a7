//go:build linux

package device

import (
	"os"
	"path/filepath"
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	// hdioGetIdentity is HDIO_GET_IDENTITY from linux/hdreg.h.
	hdioGetIdentity = 0x030d

	// Field offsets inside struct hd_driveid.
	idSerialOff   = 20
	idSerialLen   = 20
	idFirmwareOff = 46
	idFirmwareLen = 8
	idModelOff    = 54
	idModelLen    = 40
	idSize        = 512
)

var (
	dropCachesPath = "/proc/sys/vm/drop_caches"
	sysBlockPath   = "/sys/class/block"
)

func kernelIdentity() string {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return Unknown
	}

	return unix.ByteSliceToString(uts.Sysname[:]) + " - " +
		unix.ByteSliceToString(uts.Release[:])
}

func filesystemCapacity(path string) int64 {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return -1
	}

	return int64(st.Blocks) * int64(st.Bsize)
}

func adviseDontNeed(f *os.File) error {
	return unix.Fadvise(int(f.Fd()), 0, 0, unix.FADV_DONTNEED)
}

func dropGlobalCaches() error {
	f, err := os.OpenFile(dropCachesPath, os.O_WRONLY, 0)
	if err != nil {
		return err
	}

	if _, err := f.WriteString("3"); err != nil {
		f.Close()
		return err
	}

	return f.Close()
}

func syncAll() {
	unix.Sync()
}

// probeIdentity fills model, serial and firmware from the ATA identity
// ioctl, falling back to sysfs for devices that do not answer it.
func (t *Target) probeIdentity(f *os.File, path string) {
	if !t.block {
		return
	}

	var id [idSize]byte

	_, _, errno := unix.Syscall(
		unix.SYS_IOCTL,
		f.Fd(),
		hdioGetIdentity,
		uintptr(unsafe.Pointer(&id[0])),
	)
	if errno == 0 {
		t.info.Model = identityString(id[idModelOff : idModelOff+idModelLen])
		t.info.Serial = identityString(id[idSerialOff : idSerialOff+idSerialLen])
		t.info.Firmware = identityString(id[idFirmwareOff : idFirmwareOff+idFirmwareLen])

		return
	}

	t.probeSysfs(path)
}

func identityString(b []byte) string {
	s := strings.Trim(string(b), " \x00")
	if s == "" {
		return Unknown
	}

	return s
}

func (t *Target) probeSysfs(path string) {
	name := filepath.Base(absPath(path))

	node, err := filepath.EvalSymlinks(filepath.Join(sysBlockPath, name))
	if err != nil {
		return
	}

	// Partitions keep the device directory one level up.
	for _, dev := range []string{
		filepath.Join(node, "device"),
		filepath.Join(filepath.Dir(node), "device"),
	} {
		model := readSysfsFile(filepath.Join(dev, "model"))
		if model == "" {
			continue
		}

		t.info.Model = model

		if serial := readSysfsFile(filepath.Join(dev, "serial")); serial != "" {
			t.info.Serial = serial
		}

		for _, rev := range []string{"rev", "firmware_rev"} {
			if fw := readSysfsFile(filepath.Join(dev, rev)); fw != "" {
				t.info.Firmware = fw
				break
			}
		}

		return
	}
}

func readSysfsFile(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}

	return strings.TrimSpace(string(data))
}
