// Package network reports aggregate throughput and session totals of the
// machine's physical and wireless interfaces.
package network

import (
	"sync"
	"time"

	"codeberg.org/mutker/traystats/internal/errors"
	"codeberg.org/mutker/traystats/internal/logger"
	"codeberg.org/mutker/traystats/internal/monitor"
	"github.com/dustin/go-humanize"
)

// DefaultInterval is the network poll period.
const DefaultInterval = time.Second

type Adapter struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Speed       string `json:"speed"`
	IsActive    bool   `json:"is_active"`
}

// Snapshot rates are in bytes per second and never negative; totals count
// bytes since Start.
type Snapshot struct {
	DownloadBytesPerSec float64   `json:"download_bytes_per_sec"`
	UploadBytesPerSec   float64   `json:"upload_bytes_per_sec"`
	TotalDownloaded     uint64    `json:"total_downloaded"`
	TotalUploaded       uint64    `json:"total_uploaded"`
	Adapters            []Adapter `json:"adapters"`
}

func (s Snapshot) clone() Snapshot {
	s.Adapters = append([]Adapter(nil), s.Adapters...)
	return s
}

func (s Snapshot) DownloadFormatted() string { return formatRate(s.DownloadBytesPerSec) }
func (s Snapshot) UploadFormatted() string   { return formatRate(s.UploadBytesPerSec) }
func (s Snapshot) TotalDownloadedFormatted() string {
	return humanize.Bytes(s.TotalDownloaded)
}

func (s Snapshot) TotalUploadedFormatted() string {
	return humanize.Bytes(s.TotalUploaded)
}

func formatRate(bps float64) string {
	return humanize.Bytes(uint64(bps)) + "/s"
}

type Monitor struct {
	*monitor.Periodic

	src Source
	now func() time.Time
	log logger.Logger

	mu          sync.RWMutex
	data        Snapshot
	initialized bool
	startRx     uint64
	startTx     uint64
	prevRx      uint64
	prevTx      uint64
	prevAt      time.Time
}

func New(src Source, interval time.Duration, log logger.Logger) *Monitor {
	return newMonitor(src, interval, time.Now, log)
}

func newMonitor(src Source, interval time.Duration, now func() time.Time, log logger.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}

	m := &Monitor{src: src, now: now, log: log}
	m.Periodic = monitor.NewPeriodic(interval, m.poll, log).WithBaseline(m.baseline)

	return m
}

func (m *Monitor) Name() string { return "network" }

func (m *Monitor) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.data.clone()
}

// baseline records the session start counters and captures the adapter list.
func (m *Monitor) baseline() error {
	errFactory := errors.New()

	rx, tx, err := m.src.Counters()
	if err != nil {
		return errFactory.Wrap(errors.ErrQueryFailed, err)
	}

	adapters, err := m.src.Adapters()
	if err != nil {
		m.log.Debug().Err(err).Msg("Network adapters unavailable")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.startRx, m.startTx = rx, tx
	m.prevRx, m.prevTx = rx, tx
	m.prevAt = m.now()
	m.data.Adapters = adapters
	m.initialized = true

	return nil
}

func (m *Monitor) poll() error {
	m.mu.RLock()
	initialized := m.initialized
	m.mu.RUnlock()

	if !initialized {
		return m.baseline()
	}

	errFactory := errors.New()

	rx, tx, err := m.src.Counters()
	if err != nil {
		return errFactory.Wrap(errors.ErrQueryFailed, err)
	}
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	secs := now.Sub(m.prevAt).Seconds()
	if secs <= 0 {
		secs = 1
	}

	m.data.DownloadBytesPerSec = float64(delta(rx, m.prevRx)) / secs
	m.data.UploadBytesPerSec = float64(delta(tx, m.prevTx)) / secs
	m.data.TotalDownloaded = delta(rx, m.startRx)
	m.data.TotalUploaded = delta(tx, m.startTx)

	m.prevRx, m.prevTx, m.prevAt = rx, tx, now

	return nil
}

// delta is cur-prev, or 0 when a counter went backwards.
func delta(cur, prev uint64) uint64 {
	if cur < prev {
		return 0
	}
	return cur - prev
}
