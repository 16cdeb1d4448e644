// Package disk reports usage of the fixed volumes joined with the
// provider's drive temperature and throughput.
package disk

import (
	"math"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"codeberg.org/mutker/traystats/internal/errors"
	"codeberg.org/mutker/traystats/internal/hwmon"
	"codeberg.org/mutker/traystats/internal/logger"
	"codeberg.org/mutker/traystats/internal/monitor"
)

// DefaultInterval is the disk poll period.
const DefaultInterval = 5 * time.Second

const bytesPerGB = 1024 * 1024 * 1024

// DriveReading sizes are in GiB rounded to one decimal, rates in bytes per
// second.
type DriveReading struct {
	Name         string  `json:"name"`
	Label        string  `json:"label"`
	Device       string  `json:"device"`
	TotalGB      float64 `json:"total_gb"`
	UsedGB       float64 `json:"used_gb"`
	FreeGB       float64 `json:"free_gb"`
	UsagePercent float64 `json:"usage_percent"`
	Temperature  float64 `json:"temperature"`
	ReadRate     float64 `json:"read_rate"`
	WriteRate    float64 `json:"write_rate"`
}

type Snapshot struct {
	TotalUsagePercent float64        `json:"total_usage_percent"`
	Drives            []DriveReading `json:"drives"`
}

func (s Snapshot) clone() Snapshot {
	s.Drives = append([]DriveReading(nil), s.Drives...)
	return s
}

// StorageSource supplies per-drive sensor readings. hwmon.Context
// implements it.
type StorageSource interface {
	StorageReadings() []hwmon.StorageReading
}

type Monitor struct {
	*monitor.Periodic

	storage StorageSource
	volumes VolumeSource

	mu   sync.RWMutex
	data Snapshot
}

func New(storage StorageSource, volumes VolumeSource, interval time.Duration, log logger.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}

	m := &Monitor{storage: storage, volumes: volumes}
	m.Periodic = monitor.NewPeriodic(interval, m.poll, log)

	return m
}

func (m *Monitor) Name() string { return "disk" }

func (m *Monitor) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.data.clone()
}

func (m *Monitor) poll() error {
	errFactory := errors.New()

	volumes, err := m.volumes.Volumes()
	if err != nil {
		return errFactory.Wrap(errors.ErrQueryFailed, err)
	}
	joined := join(volumes, m.storage.StorageReadings())

	drives := make([]DriveReading, 0, len(volumes))
	var totalGB, usedGB float64
	for i, v := range volumes {
		total := float64(v.Total) / bytesPerGB
		free := float64(v.Free) / bytesPerGB
		used := total - free

		totalGB += total
		usedGB += used

		d := DriveReading{
			Name:    v.Mountpoint,
			Label:   v.Label,
			Device:  v.Device,
			TotalGB: round1(total),
			UsedGB:  round1(used),
			FreeGB:  round1(free),
		}
		if d.Label == "" {
			d.Label = v.Mountpoint
		}
		if total > 0 {
			d.UsagePercent = round1(used / total * 100)
		}
		if r, ok := joined[i]; ok {
			d.Temperature = r.Temperature
			d.ReadRate = r.ReadRate
			d.WriteRate = r.WriteRate
		}

		drives = append(drives, d)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.data.Drives = drives
	m.data.TotalUsagePercent = 0
	if totalGB > 0 {
		m.data.TotalUsagePercent = round1(usedGB / totalGB * 100)
	}

	return nil
}

// join maps volume indexes to drive readings. Volumes are first matched by
// a case-insensitive substring relation between the volume's device name
// and the drive name, in either direction, so a partition matches its disk.
// The longest matching drive name wins, so sdaa1 joins sdaa rather than sda.
// When exactly one drive remains unmatched, every unmatched volume i takes
// drives[i] if that index exists.
func join(volumes []Volume, drives []hwmon.StorageReading) map[int]hwmon.StorageReading {
	joined := make(map[int]hwmon.StorageReading, len(volumes))
	used := make([]bool, len(drives))

	var unmatched []int
	for i, v := range volumes {
		dev := strings.ToLower(filepath.Base(v.Device))

		best := -1
		for j, d := range drives {
			name := strings.ToLower(d.Name)
			if name == "" || dev == "" {
				continue
			}
			if !strings.Contains(dev, name) && !strings.Contains(name, dev) {
				continue
			}
			if best < 0 || len(name) > len(drives[best].Name) {
				best = j
			}
		}

		if best < 0 {
			unmatched = append(unmatched, i)
			continue
		}
		joined[i] = drives[best]
		used[best] = true
	}

	free := 0
	for _, u := range used {
		if !u {
			free++
		}
	}
	if free != 1 {
		return joined
	}

	for _, i := range unmatched {
		if i < len(drives) {
			joined[i] = drives[i]
		}
	}

	return joined
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
