package device

import (
	"fmt"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/prometheus/procfs"
	"github.com/weiihann/hddtest/resultfile"
)

// Sentinels shown until a probe succeeds.
const (
	Unknown    = "UNKNOWN"
	NotMounted = "NOT MOUNTED"
	NoData     = "NO DATA"
)

// InfoElement is the result-file element holding target metadata.
const InfoElement = "Info"

// Info describes a target. It is only trustworthy after a successful Open
// or after being restored from a result file.
type Info struct {
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	Model    string `json:"model"`
	Serial   string `json:"serial"`
	Firmware string `json:"firmware"`
	Kernel   string `json:"kernel"`

	Mounted    bool   `json:"mounted"`
	MountPoint string `json:"mountpoint"`
	FSType     string `json:"fstype"`
	FSVersion  string `json:"fsversion"`
	FSOptions  string `json:"fsoptions"`
}

// DefaultInfo returns metadata with every field at its sentinel.
func DefaultInfo() Info {
	info := Info{Kernel: Unknown}
	info.erase()

	return info
}

// erase resets everything except the path and the kernel identity.
func (i *Info) erase() {
	i.Size = -1
	i.Model = Unknown
	i.Serial = Unknown
	i.Firmware = Unknown
	i.Mounted = false
	i.MountPoint = NotMounted
	i.FSType = NotMounted
	i.FSVersion = NotMounted
	i.FSOptions = NotMounted
}

// Element renders the metadata as an Info element with FS, Device and
// Kernel children.
func (i Info) Element() *resultfile.Element {
	fs := resultfile.NewElement("FS").
		SetBool("fs", i.Mounted).
		Set("mountpoint", i.MountPoint).
		Set("fstype", i.FSType).
		Set("fsversion", i.FSVersion).
		Set("fsoptions", i.FSOptions)

	dev := resultfile.NewElement("Device").
		Set("path", i.Path).
		Set("model", i.Model).
		Set("serial", i.Serial).
		Set("firmware", i.Firmware).
		SetInt("size", i.Size)

	kernel := resultfile.NewElement("Kernel").Set("kernel", i.Kernel)

	return resultfile.NewElement(InfoElement).Append(fs, dev, kernel)
}

// Restore overlays the Info element found under root. Restoring stops
// silently at the first missing facet, leaving the remaining fields as
// they were.
func (i *Info) Restore(root *resultfile.Element) {
	info := root.FirstChild(InfoElement)

	fs := info.FirstChild("FS")
	if fs == nil {
		return
	}

	i.Mounted = fs.Bool("fs")
	i.MountPoint = fs.Get("mountpoint", NoData)
	i.FSType = fs.Get("fstype", NoData)
	i.FSVersion = fs.Get("fsversion", NoData)
	i.FSOptions = fs.Get("fsoptions", NoData)

	dev := info.FirstChild("Device")
	if dev == nil {
		return
	}

	i.Path = dev.Get("path", NoData)
	i.Model = dev.Get("model", NoData)
	i.Serial = dev.Get("serial", NoData)
	i.Firmware = dev.Get("firmware", NoData)
	i.Size = dev.Int("size", -1)

	kernel := info.FirstChild("Kernel")
	if kernel == nil {
		return
	}

	i.Kernel = kernel.Get("kernel", NoData)
}

// Info returns a snapshot of the target metadata.
func (t *Target) Info() Info {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.info
}

// SetInfo replaces the metadata without touching the handle.
func (t *Target) SetInfo(info Info) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.info = info
}

// EraseInfo resets metadata to the sentinels without closing the handle.
func (t *Target) EraseInfo() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.info.erase()
}

// ReadInfo restores metadata from a result document root.
func (t *Target) ReadInfo(root *resultfile.Element) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.info.Restore(root)
}

// loadMounts returns the mount table of this process; tests replace it.
var loadMounts = procfs.GetMounts

type mountEntry struct {
	Source     string
	MountPoint string
	FSType     string
	Options    string
}

func readMounts() ([]mountEntry, error) {
	infos, err := loadMounts()
	if err != nil {
		return nil, fmt.Errorf("read mount table: %w", err)
	}

	return mountEntries(infos), nil
}

// mountEntries flattens procfs mount info. procfs hands over the path
// fields exactly as the kernel escaped them.
func mountEntries(infos []*procfs.MountInfo) []mountEntry {
	entries := make([]mountEntry, 0, len(infos))

	for _, m := range infos {
		entries = append(entries, mountEntry{
			Source:     unescapeMount(m.Source),
			MountPoint: unescapeMount(m.MountPoint),
			FSType:     m.FSType,
			Options:    joinMountOptions(m.Options),
		})
	}

	return entries
}

// joinMountOptions renders an option map as the kernel lists it: the
// access mode first, the rest sorted.
func joinMountOptions(opts map[string]string) string {
	keys := make([]string, 0, len(opts))
	for k := range opts {
		if k != "" {
			keys = append(keys, k)
		}
	}

	slices.SortFunc(keys, func(a, b string) int {
		am, bm := a == "ro" || a == "rw", b == "ro" || b == "rw"
		if am != bm {
			if am {
				return -1
			}

			return 1
		}

		return strings.Compare(a, b)
	})

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		if v := opts[k]; v != "" {
			k += "=" + v
		}

		parts = append(parts, k)
	}

	return strings.Join(parts, ",")
}

// unescapeMount decodes the octal escapes (\040 for space and friends) the
// kernel uses in the mount table.
func unescapeMount(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}

	var b strings.Builder

	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+3 < len(s) {
			if v, err := strconv.ParseUint(s[i+1:i+4], 8, 8); err == nil {
				b.WriteByte(byte(v))
				i += 3

				continue
			}
		}

		b.WriteByte(s[i])
	}

	return b.String()
}

func (i *Info) applyMount(m mountEntry) {
	i.Mounted = true
	i.MountPoint = m.MountPoint
	i.FSType = m.FSType
	i.FSOptions = m.Options
}

// probeDeviceMount marks the target mounted when the mount table lists its
// path, directly or through a symlink, as a mount source.
func (t *Target) probeDeviceMount(path string) {
	entries, err := readMounts()
	if err != nil {
		t.logger.Debug("mount table unavailable")
		return
	}

	resolved := absPath(path)

	for _, m := range entries {
		if m.Source == path || m.Source == resolved ||
			(filepath.IsAbs(m.Source) && absPath(m.Source) == resolved) {
			t.info.applyMount(m)
		}
	}
}

// probeDirectoryMount records the mount holding a directory target. The
// longest mount point prefix wins. A directory always lives on some
// filesystem, so the target counts as mounted even without a match.
func (t *Target) probeDirectoryMount(dir string) {
	resolved := absPath(dir)

	t.info.Mounted = true
	t.info.MountPoint = resolved
	t.info.FSType = Unknown
	t.info.FSOptions = Unknown

	entries, err := readMounts()
	if err != nil {
		return
	}

	best := -1
	for idx, m := range entries {
		if !withinDir(resolved, m.MountPoint) {
			continue
		}

		if best < 0 || len(m.MountPoint) >= len(entries[best].MountPoint) {
			best = idx
		}
	}

	if best >= 0 {
		t.info.applyMount(entries[best])
	}
}

func withinDir(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}

	return rel == "." || filepath.IsLocal(rel)
}
