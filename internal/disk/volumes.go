package disk

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"codeberg.org/mutker/traystats/internal/errors"
	"github.com/shirou/gopsutil/v3/disk"
)

// DefaultLabelDir holds one symlink per labelled filesystem.
const DefaultLabelDir = "/dev/disk/by-label"

// Volume is a mounted, ready filesystem. Sizes are in bytes.
type Volume struct {
	Device     string
	Mountpoint string
	Label      string
	Total      uint64
	Free       uint64
}

// VolumeSource lists the fixed volumes of the machine.
type VolumeSource interface {
	Volumes() ([]Volume, error)
}

var pseudoFS = map[string]struct{}{
	"autofs": {}, "binfmt_misc": {}, "bpf": {}, "cgroup": {}, "cgroup2": {},
	"configfs": {}, "debugfs": {}, "devpts": {}, "devtmpfs": {}, "efivarfs": {},
	"fuse.gvfsd-fuse": {}, "fuse.portal": {}, "fusectl": {}, "hugetlbfs": {},
	"iso9660": {}, "mqueue": {}, "nsfs": {}, "overlay": {}, "proc": {},
	"pstore": {}, "ramfs": {}, "securityfs": {}, "squashfs": {}, "sysfs": {},
	"tmpfs": {}, "tracefs": {},
}

type osVolumes struct {
	labelDir   string
	partitions func(all bool) ([]disk.PartitionStat, error)
	usage      func(path string) (*disk.UsageStat, error)
}

// NewVolumeSource returns a VolumeSource backed by gopsutil. Labels are
// resolved through labelDir; an empty labelDir uses DefaultLabelDir.
func NewVolumeSource(labelDir string) VolumeSource {
	if labelDir == "" {
		labelDir = DefaultLabelDir
	}

	return &osVolumes{labelDir: labelDir, partitions: disk.Partitions, usage: disk.Usage}
}

// Volumes returns one volume per block device, skipping pseudo and
// read-only image filesystems. A device mounted several times is reported
// at its first mountpoint; a volume whose usage cannot be read is not
// ready and is skipped.
func (s *osVolumes) Volumes() ([]Volume, error) {
	errFactory := errors.New()

	parts, err := s.partitions(false)
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrQueryFailed, err)
	}

	labels := s.labels()
	seen := make(map[string]struct{}, len(parts))

	var volumes []Volume
	for _, p := range parts {
		if _, skip := pseudoFS[p.Fstype]; skip || p.Mountpoint == "" {
			continue
		}
		if !strings.HasPrefix(p.Device, "/dev/") || strings.HasPrefix(p.Device, "/dev/loop") {
			continue
		}
		if _, dup := seen[p.Device]; dup {
			continue
		}

		u, err := s.usage(p.Mountpoint)
		if err != nil || u == nil || u.Total == 0 {
			continue
		}
		seen[p.Device] = struct{}{}

		volumes = append(volumes, Volume{
			Device:     p.Device,
			Mountpoint: p.Mountpoint,
			Label:      labels[filepath.Base(p.Device)],
			Total:      u.Total,
			Free:       u.Free,
		})
	}

	return volumes, nil
}

// labels maps kernel device names to filesystem labels.
func (s *osVolumes) labels() map[string]string {
	labels := make(map[string]string)

	entries, err := os.ReadDir(s.labelDir)
	if err != nil {
		return labels
	}

	for _, e := range entries {
		target, err := os.Readlink(filepath.Join(s.labelDir, e.Name()))
		if err != nil {
			continue
		}
		labels[filepath.Base(target)] = unescapeLabel(e.Name())
	}

	return labels
}

// unescapeLabel decodes the \xNN escapes udev uses in label link names.
func unescapeLabel(name string) string {
	if !strings.Contains(name, `\x`) {
		return name
	}

	var b strings.Builder
	for i := 0; i < len(name); i++ {
		if name[i] == '\\' && i+3 < len(name) && name[i+1] == 'x' {
			if c, err := strconv.ParseUint(name[i+2:i+4], 16, 8); err == nil {
				b.WriteByte(byte(c))
				i += 3
				continue
			}
		}
		b.WriteByte(name[i])
	}

	return b.String()
}
