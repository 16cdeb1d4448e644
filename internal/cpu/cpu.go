// Package cpu fuses the provider's processor sensors into one CPU snapshot.
package cpu

import (
	"strconv"
	"strings"
	"sync"

	"codeberg.org/mutker/traystats/internal/errors"
	"codeberg.org/mutker/traystats/internal/hwmon"
	"codeberg.org/mutker/traystats/internal/logger"
	"codeberg.org/mutker/traystats/internal/monitor"
)

const (
	totalLoadSensor  = "CPU Total"
	coreSensorPrefix = "CPU Core #"
)

type Monitor struct {
	*monitor.Chained

	provider hwmon.Provider
	os       OSSource
	cfg      Config
	log      logger.Logger

	mu       sync.RWMutex
	data     Snapshot
	fallback bool
}

// New sizes the core list from the provider's per-core load sensors, or
// from the OS logical processor count when there are none, and decides once
// whether the OS fallback is needed.
func New(provider hwmon.Provider, src OSSource, cfg Config, log logger.Logger) (*Monitor, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	m := &Monitor{
		provider: provider,
		os:       src,
		cfg:      cfg,
		log:      log,
	}
	m.Chained = monitor.NewChained(provider.Subscribe, provider.TickCount, m.poll, log)

	hw, found := hwmon.Find(provider.GetHardware(), hwmon.CPU)
	m.initCores(hw, found)
	m.fallback = !hasTemperature(hw)

	if !found {
		log.Warn().Err(errFactory.New(ErrNoCPU)).Msg("No CPU hardware, reporting OS data only")
	}
	log.Debug().Msgf("CPU: %s, %d cores, %d threads, fallback: %t",
		m.data.Name, m.data.CoreCount, m.data.ThreadCount, m.fallback)

	return m, nil
}

func (m *Monitor) Name() string { return "cpu" }

// Snapshot returns a copy of the current CPU state.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.data.clone()
}

// UsesFallback reports whether the provider exposes no CPU temperature.
func (m *Monitor) UsesFallback() bool {
	return m.fallback
}

func (m *Monitor) initCores(hw hwmon.Hardware, found bool) {
	threads := m.os.LogicalCount()

	cores := 0
	if found {
		m.data.Name = hw.Name
		for _, s := range hw.Sensors {
			if s.Type == hwmon.Load && strings.HasPrefix(s.Name, coreSensorPrefix) {
				cores++
			}
		}
	}
	if cores == 0 {
		cores = threads
	}

	m.data.CoreCount = cores
	m.data.ThreadCount = threads
	m.data.Cores = make([]CoreReading, cores)
	for i := range m.data.Cores {
		m.data.Cores[i].Index = i
	}
}

func hasTemperature(hw hwmon.Hardware) bool {
	for _, s := range hw.Sensors {
		if s.Type == hwmon.Temperature && s.HasValue {
			return true
		}
	}

	return false
}

func (m *Monitor) poll(tick uint64) error {
	if hw, ok := hwmon.Find(m.provider.GetHardware(), hwmon.CPU); ok {
		m.mu.Lock()
		m.fuse(hw.Sensors)
		m.mu.Unlock()
	}

	if m.fallback && tick%uint64(m.cfg.FallbackEvery) == 0 {
		m.applyFallback()
	}

	return nil
}

// fuse maps one tick of CPU sensors onto the snapshot. Sensors are visited
// in provider order; for single-valued fields the first match wins.
func (m *Monitor) fuse(sensors []hwmon.Sensor) {
	var (
		maxClock, maxTemp, firstPower float64
		haveTemp, havePower           bool
	)

	for _, s := range sensors {
		v, ok := s.Reading()
		if !ok {
			continue
		}

		switch s.Type {
		case hwmon.Load:
			switch {
			case s.Name == totalLoadSensor:
				m.data.TotalLoad = v
			case strings.HasPrefix(s.Name, coreSensorPrefix):
				if core := m.core(s.Name); core != nil {
					core.Usage = v
				}
			}

		case hwmon.Temperature:
			switch {
			case strings.Contains(s.Name, "Package") || strings.Contains(s.Name, "Average"):
				if !haveTemp {
					m.data.Temperature = v
					haveTemp = true
				}
			case strings.HasPrefix(s.Name, coreSensorPrefix):
				if core := m.core(s.Name); core != nil {
					core.Temperature = v
				}
			}
			if v > maxTemp {
				maxTemp = v
			}

		case hwmon.Clock:
			switch {
			case strings.HasPrefix(s.Name, coreSensorPrefix):
				if core := m.core(s.Name); core != nil {
					core.Clock = v
				}
				maxClock = max(maxClock, v)
			case strings.Contains(s.Name, "Core"):
				maxClock = max(maxClock, v)
			}

		case hwmon.Power:
			switch {
			case strings.Contains(s.Name, "Package"):
				if !havePower {
					m.data.PackagePower = v
					havePower = true
				}
			case firstPower == 0 && v > 0:
				firstPower = v
			}
		}
	}

	if maxClock > 0 {
		m.data.Clock = maxClock
	}
	if !haveTemp && maxTemp > 0 {
		m.data.Temperature = maxTemp
	}
	if !havePower && firstPower > 0 {
		m.data.PackagePower = firstPower
	}
}

// core returns the core addressed by a "#n" suffix, or nil when the suffix
// is malformed or out of range.
func (m *Monitor) core(name string) *CoreReading {
	idx, ok := parseCoreIndex(name)
	if !ok || idx >= len(m.data.Cores) {
		return nil
	}

	return &m.data.Cores[idx]
}

// parseCoreIndex turns "CPU Core #3" or "CPU Core #3 Thread #1" into 2.
func parseCoreIndex(name string) (int, bool) {
	hash := strings.IndexByte(name, '#')
	if hash < 0 || hash+1 >= len(name) {
		return 0, false
	}

	num := name[hash+1:]
	if space := strings.IndexByte(num, ' '); space > 0 {
		num = num[:space]
	}

	n, err := strconv.Atoi(num)
	if err != nil || n < 1 {
		return 0, false
	}

	return n - 1, true
}

// applyFallback fills clock and temperature from the OS where the provider
// left them at zero. The queries run outside the snapshot lock.
func (m *Monitor) applyFallback() {
	m.mu.RLock()
	needClock, needTemp := m.data.Clock == 0, m.data.Temperature == 0
	m.mu.RUnlock()

	if !needClock && !needTemp {
		return
	}

	var clock, temp float64
	if needClock {
		if mhz, err := m.os.ClockMHz(); err == nil {
			clock = mhz
		} else {
			m.log.Debug().Err(err).Msg("OS clock query failed")
		}
	}
	if needTemp {
		if c, err := m.os.ThermalZoneCelsius(); err == nil {
			temp = c
		} else {
			m.log.Debug().Err(err).Msg("Thermal zone query failed")
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.data.Clock == 0 && clock > 0 {
		m.data.Clock = clock
	}
	if m.data.Temperature == 0 && temp > 0 {
		m.data.Temperature = temp
	}
}
