package cpu

import (
	"runtime"

	"codeberg.org/mutker/traystats/internal/errors"
	"codeberg.org/mutker/traystats/internal/hwmon"
	"github.com/shirou/gopsutil/v3/cpu"
)

// maxThermalZone discards implausible thermal zone readings.
const maxThermalZone = 150.0

// OSSource supplies OS-level processor information used when the provider
// cannot.
type OSSource interface {
	LogicalCount() int
	ClockMHz() (float64, error)
	ThermalZoneCelsius() (float64, error)
}

type osSource struct {
	sys hwmon.SysFS
}

// NewOSSource returns an OSSource backed by gopsutil and the thermal zones
// in sysfs.
func NewOSSource(sys hwmon.SysFS) OSSource {
	return &osSource{sys: sys}
}

func (s *osSource) LogicalCount() int {
	if n, err := cpu.Counts(true); err == nil && n > 0 {
		return n
	}
	return runtime.NumCPU()
}

// ClockMHz returns the highest current clock reported by the OS.
func (s *osSource) ClockMHz() (float64, error) {
	errFactory := errors.New()

	infos, err := cpu.Info()
	if err != nil {
		return 0, errFactory.Wrap(ErrFallbackFailed, err)
	}

	var maxMHz float64
	for _, info := range infos {
		if info.Mhz > maxMHz {
			maxMHz = info.Mhz
		}
	}

	return maxMHz, nil
}

// ThermalZoneCelsius returns the hottest plausible thermal zone.
func (s *osSource) ThermalZoneCelsius() (float64, error) {
	errFactory := errors.New()

	zones := s.sys.Glob("class/thermal/thermal_zone*", "temp")
	if len(zones) == 0 {
		return 0, errFactory.WithData(ErrFallbackFailed, "no thermal zones")
	}

	var hottest float64
	for _, zone := range zones {
		milli, err := s.sys.ReadFloat(1, zone)
		if err != nil {
			continue
		}
		if c := milli / 1000; c > hottest && c < maxThermalZone {
			hottest = c
		}
	}

	return hottest, nil
}
