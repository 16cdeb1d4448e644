// Package battery fuses the provider's battery sensors with the OS power
// status and derives health and time remaining.
package battery

import (
	"fmt"
	"strings"
	"sync"

	"codeberg.org/mutker/traystats/internal/errors"
	"codeberg.org/mutker/traystats/internal/hwmon"
	"codeberg.org/mutker/traystats/internal/logger"
	"codeberg.org/mutker/traystats/internal/monitor"
)

// maxChargeMinutes bounds a plausible time-to-full estimate.
const maxChargeMinutes = 24 * 60

type Monitor struct {
	*monitor.Chained

	provider hwmon.Provider
	status   StatusSource
	cfg      Config
	log      logger.Logger

	mu   sync.RWMutex
	data Snapshot
}

// New looks for a battery once. Without one the monitor never polls.
func New(provider hwmon.Provider, status StatusSource, cfg Config, log logger.Logger) (*Monitor, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	_, found := hwmon.Find(provider.GetHardware(), hwmon.Battery)

	m := &Monitor{
		provider: provider,
		status:   status,
		cfg:      cfg,
		log:      log,
		data:     newSnapshot(found),
	}
	m.Chained = monitor.NewChained(provider.Subscribe, provider.TickCount, m.poll, log)

	log.Debug().Msgf("Battery present: %t", found)

	return m, nil
}

func (m *Monitor) Name() string { return "battery" }

// Start is a no-op on machines without a battery.
func (m *Monitor) Start() {
	if !m.HasBattery() {
		return
	}
	m.Chained.Start()
}

func (m *Monitor) HasBattery() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.data.HasBattery
}

func (m *Monitor) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.data
}

func (m *Monitor) poll(uint64) error {
	errFactory := errors.New()

	hw, ok := hwmon.Find(m.provider.GetHardware(), hwmon.Battery)
	if !ok {
		return errFactory.WithData(errors.ErrResourceNotFound, "battery")
	}

	// queried before taking the lock; an error only skips the status texts
	st, statusErr := m.status.PowerStatus()
	if statusErr != nil {
		m.log.Debug().Err(errFactory.Wrap(ErrStatusFailed, statusErr)).Msg("Power status unavailable")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.fuse(hw.Sensors)
	if statusErr == nil {
		m.applyStatus(st)
	}
	m.deriveHealth()

	return nil
}

// fuse reads the sensors by keyword. A sensor without a value leaves its
// field at the last reading.
func (m *Monitor) fuse(sensors []hwmon.Sensor) {
	d := &m.data

	var power, current float64
	var havePower, haveCurrent bool

	for _, s := range sensors {
		v, ok := s.Reading()
		if !ok {
			continue
		}

		switch s.Type {
		case hwmon.Level:
			if strings.Contains(s.Name, "Charge") {
				d.ChargeLevel = v
			}
		case hwmon.Voltage:
			d.Voltage = v
		case hwmon.Current:
			current, haveCurrent = v, true
		case hwmon.Power:
			power, havePower = v, true
		case hwmon.Energy:
			switch {
			case strings.Contains(s.Name, "Designed"):
				d.DesignedCapacity = v
			case strings.Contains(s.Name, "Charged"),
				strings.Contains(s.Name, "Full Charge"),
				strings.Contains(s.Name, "FullCharge"):
				d.FullChargeCapacity = v
			}
		case hwmon.Factor:
			if strings.Contains(s.Name, "Cycle") {
				d.CycleCount = int(v)
			}
		}
	}

	switch {
	case havePower:
		d.ChargeDischargeRate = power
	case haveCurrent && d.Voltage > 0:
		d.ChargeDischargeRate = current * d.Voltage
	case haveCurrent:
		d.ChargeDischargeRate = current
	}
}

// applyStatus takes the plug and charge flags from the OS and derives the
// status and time remaining texts.
func (m *Monitor) applyStatus(st PowerStatus) {
	d := &m.data

	d.IsPluggedIn = st.ACOnline
	d.IsCharging = st.Charging

	if d.ChargeLevel == 0 && st.LifePercent != UnknownPercent {
		d.ChargeLevel = float64(st.LifePercent)
	}

	switch {
	case d.IsPluggedIn && d.ChargeLevel >= m.cfg.FullThreshold:
		d.TimeRemaining = fullyCharged
		d.StatusText = "Full"

	case d.IsCharging:
		d.StatusText = "Charging"
		d.TimeRemaining = calculating
		if minutes, ok := minutesToFull(d.FullChargeCapacity, d.ChargeLevel, d.ChargeDischargeRate); ok {
			d.TimeRemaining = durationText(minutes, "to full")
		}

	case st.LifeTimeSeconds > 0:
		d.TimeRemaining = durationText(st.LifeTimeSeconds/60, "remaining")
		d.StatusText = "Discharging"

	case d.IsPluggedIn:
		d.TimeRemaining = calculating
		d.StatusText = "Plugged in"

	default:
		d.TimeRemaining = estimating
		d.StatusText = "On battery"
	}
}

func (m *Monitor) deriveHealth() {
	d := &m.data
	if d.DesignedCapacity > 0 && d.FullChargeCapacity > 0 {
		d.Health = d.FullChargeCapacity / d.DesignedCapacity * 100
	}
}

// minutesToFull estimates the charge time from the energy still missing and
// the charge rate in W. Estimates outside (0, 24h) are rejected.
func minutesToFull(fullMwh, level, rateW float64) (int, bool) {
	if rateW <= 0 || fullMwh <= 0 || level >= 100 {
		return 0, false
	}

	missingMwh := fullMwh * (100 - level) / 100
	minutes := int(missingMwh * 60 / (rateW * 1000))
	if minutes <= 0 || minutes >= maxChargeMinutes {
		return 0, false
	}

	return minutes, true
}

func durationText(minutes int, suffix string) string {
	if h := minutes / 60; h > 0 {
		return fmt.Sprintf("%dh %dm %s", h, minutes%60, suffix)
	}
	return fmt.Sprintf("%dm %s", minutes, suffix)
}
