// Package gpu reports the one graphics adapter that currently matters. On
// machines with several adapters a Selector keeps the choice stable.
package gpu

import (
	"strings"
	"sync"

	"codeberg.org/mutker/traystats/internal/errors"
	"codeberg.org/mutker/traystats/internal/hwmon"
	"codeberg.org/mutker/traystats/internal/logger"
	"codeberg.org/mutker/traystats/internal/monitor"
)

type Monitor struct {
	*monitor.Chained

	provider hwmon.Provider
	log      logger.Logger

	mu       sync.RWMutex
	selector *Selector
	data     Snapshot
	adapter  hwmon.HardwareType
}

func New(provider hwmon.Provider, cfg Config, log logger.Logger) (*Monitor, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	m := &Monitor{
		provider: provider,
		log:      log,
		selector: NewSelector(cfg),
	}
	m.Chained = monitor.NewChained(provider.Subscribe, provider.TickCount, m.poll, log)

	return m, nil
}

func (m *Monitor) Name() string { return "gpu" }

// Snapshot returns a copy of the active adapter's state.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.data
}

// Active returns the identifier and type of the adapter being reported.
func (m *Monitor) Active() (string, hwmon.HardwareType, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.selector.Current()
	return id, m.adapter, ok
}

func (m *Monitor) poll(uint64) error {
	var adapters []hwmon.Hardware
	for _, hw := range m.provider.GetHardware() {
		if hw.Type.IsGPU() {
			adapters = append(adapters, hw)
		}
	}
	if len(adapters) == 0 {
		return nil
	}

	candidates := make([]Candidate, len(adapters))
	for i, hw := range adapters {
		candidates[i] = Candidate{ID: hw.Identifier, Type: hw.Type, Load: CandidateLoad(hw.Sensors)}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	prev, hadPrev := m.selector.Current()
	active := adapters[m.selector.Select(candidates)]
	if !hadPrev || prev != active.Identifier {
		m.log.Debug().
			Str("adapter", active.Name).
			Str("type", active.Type.String()).
			Msg("Active GPU changed")
	}

	m.adapter = active.Type
	m.fuse(active)

	return nil
}

// fuse fills the snapshot from one adapter. Sensors are visited in provider
// order: single-valued fields take the first match, fan and memory size
// fields take the first nonzero reading.
func (m *Monitor) fuse(hw hwmon.Hardware) {
	d := &m.data
	d.reset(hw.Name)

	var (
		engine                                float64
		haveLoad, haveTemp, haveCore, haveMem bool
		haveMemLoad, havePower                bool
	)

	for _, s := range hw.Sensors {
		v, ok := s.Reading()
		if !ok {
			continue
		}

		switch s.Type {
		case hwmon.Load:
			switch {
			case s.Name == coreSensor && !haveLoad:
				d.CoreLoad, haveLoad = v, true
			case s.Name == memorySensor && !haveMemLoad:
				d.MemoryLoad, haveMemLoad = v, true
			case strings.HasPrefix(s.Name, enginePrefix):
				engine = max(engine, v)
			}

		case hwmon.Temperature:
			if strings.Contains(s.Name, "GPU") && !haveTemp {
				d.Temperature, haveTemp = v, true
			}

		case hwmon.Clock:
			switch {
			case s.Name == coreSensor && !haveCore:
				d.CoreClock, haveCore = v, true
			case s.Name == memorySensor && !haveMem:
				d.MemoryClock, haveMem = v, true
			}

		case hwmon.Fan:
			firstNonzero(&d.FanSpeed, v)

		case hwmon.Control:
			firstNonzero(&d.FanPercent, v)

		case hwmon.SmallData:
			switch {
			case strings.Contains(s.Name, "Memory Used"):
				firstNonzero(&d.MemoryUsed, v)
			case strings.Contains(s.Name, "Memory Total"):
				firstNonzero(&d.MemoryTotal, v)
			}

		case hwmon.Power:
			if !havePower {
				d.Power, havePower = v, true
			}
		}
	}

	if d.CoreLoad == 0 && engine > 0 {
		d.CoreLoad = engine
	}
	if !haveMemLoad && d.MemoryTotal > 0 {
		d.MemoryLoad = d.MemoryUsed / d.MemoryTotal * 100
	}
}

func firstNonzero(field *float64, v float64) {
	if *field == 0 {
		*field = v
	}
}
