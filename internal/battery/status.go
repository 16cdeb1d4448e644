package battery

import (
	"strings"

	"codeberg.org/mutker/traystats/internal/errors"
	"codeberg.org/mutker/traystats/internal/hwmon"
)

const (
	// UnknownPercent is the LifePercent of a status without a battery
	// charge reading.
	UnknownPercent = 255
	// UnknownLifeTime is the LifeTimeSeconds of a status without an
	// estimate.
	UnknownLifeTime = -1

	powerSupplyClass = "class/power_supply"
)

// PowerStatus is the operating system's view of the power supply.
type PowerStatus struct {
	ACOnline        bool
	Charging        bool
	LifePercent     uint8
	LifeTimeSeconds int
}

// StatusSource queries the operating system power status.
type StatusSource interface {
	PowerStatus() (PowerStatus, error)
}

type sysfsStatus struct {
	sys hwmon.SysFS
}

// NewStatusSource returns a StatusSource reading class/power_supply.
func NewStatusSource(sys hwmon.SysFS) StatusSource {
	return &sysfsStatus{sys: sys}
}

// PowerStatus reads the first system battery and every mains supply. Without
// a mains supply the AC state is inferred from the battery status.
func (s *sysfsStatus) PowerStatus() (PowerStatus, error) {
	errFactory := errors.New()

	st := PowerStatus{LifePercent: UnknownPercent, LifeTimeSeconds: UnknownLifeTime}

	supplies := s.sys.Glob(powerSupplyClass, "*")
	if len(supplies) == 0 {
		return st, errFactory.WithData(ErrStatusFailed, "no power supplies")
	}

	var mains, battery bool
	var batStatus string
	for _, dir := range supplies {
		kind, err := s.sys.ReadString(dir, "type")
		if err != nil {
			continue
		}

		switch kind {
		case "Mains":
			mains = true
			if online, err := s.sys.ReadInt(dir, "online"); err == nil && online == 1 {
				st.ACOnline = true
			}

		case "Battery":
			if battery {
				continue
			}
			if scope, err := s.sys.ReadString(dir, "scope"); err == nil && scope == "Device" {
				continue
			}
			battery = true
			batStatus, _ = s.sys.ReadString(dir, "status")
			st.Charging = strings.EqualFold(batStatus, "Charging")
			if capacity, err := s.sys.ReadInt(dir, "capacity"); err == nil && capacity >= 0 && capacity <= 100 {
				st.LifePercent = uint8(capacity)
			}
			if strings.EqualFold(batStatus, "Discharging") {
				st.LifeTimeSeconds = s.lifeTime(dir)
			}
		}
	}

	if !mains && battery {
		st.ACOnline = !strings.EqualFold(batStatus, "Discharging")
	}

	return st, nil
}

// lifeTime estimates the seconds left at the present drain.
func (s *sysfsStatus) lifeTime(dir string) int {
	for _, pair := range [][2]string{{"energy_now", "power_now"}, {"charge_now", "current_now"}} {
		left, err := s.sys.ReadFloat(1, dir, pair[0])
		if err != nil {
			continue
		}
		drain, err := s.sys.ReadFloat(1, dir, pair[1])
		if err != nil || drain == 0 {
			continue
		}
		if drain < 0 {
			drain = -drain
		}

		return int(left / drain * 3600)
	}

	return UnknownLifeTime
}
