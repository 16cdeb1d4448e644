// Package ram reports physical memory usage on the provider's tick.
package ram

import (
	"sync"

	"codeberg.org/mutker/traystats/internal/errors"
	"codeberg.org/mutker/traystats/internal/hwmon"
	"codeberg.org/mutker/traystats/internal/logger"
	"codeberg.org/mutker/traystats/internal/monitor"
	"github.com/shirou/gopsutil/v3/mem"
)

const bytesPerGB = 1024 * 1024 * 1024

// Snapshot sizes are in GiB, Load in percent.
type Snapshot struct {
	UsedGB      float64 `json:"used_gb"`
	TotalGB     float64 `json:"total_gb"`
	AvailableGB float64 `json:"available_gb"`
	Load        float64 `json:"load"`
}

// QueryFunc returns the OS memory status.
type QueryFunc func() (*mem.VirtualMemoryStat, error)

type Monitor struct {
	*monitor.Chained

	query QueryFunc

	mu   sync.RWMutex
	data Snapshot
}

// New returns a monitor querying the OS on every provider tick. A nil query
// uses gopsutil.
func New(provider hwmon.Provider, query QueryFunc, log logger.Logger) *Monitor {
	if query == nil {
		query = mem.VirtualMemory
	}

	m := &Monitor{query: query}
	m.Chained = monitor.NewChained(provider.Subscribe, provider.TickCount, m.poll, log)

	return m
}

func (m *Monitor) Name() string { return "ram" }

func (m *Monitor) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.data
}

func (m *Monitor) poll(uint64) error {
	errFactory := errors.New()

	vm, err := m.query()
	if err != nil {
		return errFactory.Wrap(errors.ErrQueryFailed, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	d := &m.data
	d.TotalGB = float64(vm.Total) / bytesPerGB
	d.AvailableGB = float64(vm.Available) / bytesPerGB
	d.UsedGB = d.TotalGB - d.AvailableGB
	d.Load = 0
	if d.TotalGB > 0 {
		d.Load = d.UsedGB / d.TotalGB * 100
	}

	return nil
}
