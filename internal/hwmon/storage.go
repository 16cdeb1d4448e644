package hwmon

import (
	"path/filepath"
	"strings"
	"time"

	"codeberg.org/mutker/traystats/internal/errors"
	"github.com/shirou/gopsutil/v3/disk"
)

var virtualBlockPrefixes = []string{"loop", "ram", "zram", "dm-", "md", "sr", "fd"}

// StorageBackend exposes one device per physical block device with read and
// write throughput and, when the drive reports it, temperature.
type StorageBackend struct {
	sys      SysFS
	counters func(names ...string) (map[string]disk.IOCountersStat, error)
	now      func() time.Time
}

func NewStorageBackend(sys SysFS) *StorageBackend {
	return &StorageBackend{sys: sys, counters: disk.IOCounters, now: time.Now}
}

// WithCounters replaces the gopsutil counter query and the clock.
func (b *StorageBackend) WithCounters(counters func(names ...string) (map[string]disk.IOCountersStat, error), now func() time.Time) *StorageBackend {
	b.counters = counters
	b.now = now
	return b
}

func (b *StorageBackend) Name() string { return "storage" }

func (b *StorageBackend) Open() ([]Device, error) {
	errFactory := errors.New()

	var devices []Device
	for _, p := range b.sys.Glob("block", "*") {
		name := filepath.Base(p)
		if isVirtualBlock(name) {
			continue
		}
		devices = append(devices, &storageDevice{backend: b, kname: name})
	}

	if len(devices) == 0 {
		return nil, errFactory.New(ErrNoDevices)
	}

	return devices, nil
}

func (b *StorageBackend) Close() error { return nil }

func isVirtualBlock(name string) bool {
	for _, prefix := range virtualBlockPrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}

	return false
}

type storageDevice struct {
	backend *StorageBackend
	kname   string

	prev   *disk.IOCountersStat
	prevAt time.Time

	sensors []Sensor
}

func (d *storageDevice) Identifier() string   { return "/storage/" + d.kname }
func (d *storageDevice) Type() HardwareType   { return Storage }
func (d *storageDevice) Name() string         { return d.kname }
func (d *storageDevice) SubDevices() []Device { return nil }
func (d *storageDevice) Sensors() []Sensor    { return d.sensors }

func (d *storageDevice) Update() error {
	errFactory := errors.New()

	counters, err := d.backend.counters(d.kname)
	if err != nil {
		return errFactory.Wrap(errors.ErrQueryFailed, err)
	}
	cur, ok := counters[d.kname]
	if !ok {
		return errFactory.WithData(errors.ErrResourceNotFound, d.kname)
	}

	now := d.backend.now()
	read := Sensor{Type: Throughput, Name: "Read Rate", Index: 0}
	write := Sensor{Type: Throughput, Name: "Write Rate", Index: 1}

	if d.prev != nil {
		if elapsed := now.Sub(d.prevAt).Seconds(); elapsed > 0 {
			read.Value, read.HasValue = counterRate(d.prev.ReadBytes, cur.ReadBytes, elapsed), true
			write.Value, write.HasValue = counterRate(d.prev.WriteBytes, cur.WriteBytes, elapsed), true
		}
	}
	d.prev = &cur
	d.prevAt = now

	sensors := make([]Sensor, 0, 3)
	if temp, ok := d.temperature(); ok {
		sensors = append(sensors, value(Temperature, "Temperature", 0, temp, nil))
	}
	d.sensors = append(sensors, read, write)

	return nil
}

// temperature reads the first hwmon temperature of the drive, as exposed by
// the nvme and drivetemp drivers.
func (d *storageDevice) temperature() (float64, bool) {
	sys := d.backend.sys
	patterns := [][]string{
		{"block", d.kname, "device", "hwmon", "hwmon*", "temp1_input"},
		{"block", d.kname, "device", "hwmon*", "temp1_input"},
	}

	for _, pattern := range patterns {
		for _, p := range sys.Glob(pattern...) {
			if milli, err := sys.ReadFloat(1, p); err == nil {
				return milli / 1000, true
			}
		}
	}

	return 0, false
}

// counterRate returns the per second increase, zero if the counter went
// backwards.
func counterRate(prev, cur uint64, elapsed float64) float64 {
	if cur < prev {
		return 0
	}

	return float64(cur-prev) / elapsed
}
