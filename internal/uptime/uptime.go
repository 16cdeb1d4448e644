// Package uptime reports how long the machine has been running along with
// static host facts.
package uptime

import (
	"fmt"
	"os"
	"os/user"
	"strings"
	"sync"
	"time"

	"codeberg.org/mutker/traystats/internal/errors"
	"codeberg.org/mutker/traystats/internal/logger"
	"codeberg.org/mutker/traystats/internal/monitor"
	"github.com/shirou/gopsutil/v3/host"
)

// DefaultInterval is the uptime refresh period.
const DefaultInterval = time.Minute

type Snapshot struct {
	Uptime      string    `json:"uptime"`
	BootTime    time.Time `json:"boot_time"`
	OSVersion   string    `json:"os_version"`
	MachineName string    `json:"machine_name"`
	UserName    string    `json:"user_name"`
}

// Source supplies host information. Boot time is in seconds since the epoch.
type Source interface {
	Info() (*host.InfoStat, error)
	BootTime() (uint64, error)
}

type osSource struct{}

func NewSource() Source { return osSource{} }

func (osSource) Info() (*host.InfoStat, error) { return host.Info() }
func (osSource) BootTime() (uint64, error)     { return host.BootTime() }

type Monitor struct {
	*monitor.Periodic

	src Source
	now func() time.Time

	mu   sync.RWMutex
	data Snapshot
}

// New captures the machine name, user and OS version once.
func New(src Source, interval time.Duration, log logger.Logger) *Monitor {
	return newMonitor(src, interval, time.Now, log)
}

func newMonitor(src Source, interval time.Duration, now func() time.Time, log logger.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}

	m := &Monitor{src: src, now: now, data: Snapshot{Uptime: "--", UserName: userName()}}
	m.Periodic = monitor.NewPeriodic(interval, m.poll, log)

	if info, err := src.Info(); err == nil {
		m.data.MachineName = info.Hostname
		m.data.OSVersion = osVersion(info)
	} else {
		log.Debug().Err(err).Msg("Host information unavailable")
	}
	if m.data.MachineName == "" {
		m.data.MachineName, _ = os.Hostname()
	}

	return m
}

func (m *Monitor) Name() string { return "uptime" }

func (m *Monitor) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.data
}

func (m *Monitor) poll() error {
	errFactory := errors.New()

	secs, err := m.src.BootTime()
	if err != nil {
		return errFactory.Wrap(errors.ErrQueryFailed, err)
	}

	boot := time.Unix(int64(secs), 0)
	up := m.now().Sub(boot)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.data.BootTime = boot
	m.data.Uptime = Format(up)

	return nil
}

// Format renders d as "{d}d {h}h {m}m", dropping leading zero units.
func Format(d time.Duration) string {
	if d < 0 {
		d = 0
	}

	days := int(d / (24 * time.Hour))
	hours := int(d/time.Hour) % 24
	minutes := int(d/time.Minute) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	default:
		return fmt.Sprintf("%dm", minutes)
	}
}

func osVersion(info *host.InfoStat) string {
	var parts []string
	for _, p := range []string{info.Platform, info.PlatformVersion} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if info.KernelVersion != "" {
		parts = append(parts, "(kernel "+info.KernelVersion+")")
	}
	if len(parts) == 0 {
		return info.OS
	}

	return strings.Join(parts, " ")
}

func userName() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return os.Getenv("USER")
}
