package hwmon

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"codeberg.org/mutker/traystats/internal/errors"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
)

const (
	cpuTotalSensor   = "CPU Total"
	cpuPackageSensor = "CPU Package"
	cpuCoreSensor    = "CPU Core #%d"
	raplEnergyPath   = "class/powercap/intel-rapl:0/energy_uj"
)

var coretempCore = regexp.MustCompile(`core_?(\d+)`)

// CPUSource is the subset of gopsutil used by the CPU backend.
type CPUSource struct {
	Times        func(perCPU bool) ([]cpu.TimesStat, error)
	Info         func() ([]cpu.InfoStat, error)
	Counts       func(logical bool) (int, error)
	Temperatures func() ([]host.TemperatureStat, error)
}

func defaultCPUSource() CPUSource {
	return CPUSource{
		Times:        cpu.Times,
		Info:         cpu.Info,
		Counts:       cpu.Counts,
		Temperatures: host.SensorsTemperatures,
	}
}

// CPUBackend exposes the processor package: total and per logical CPU load,
// per CPU clock, package and core temperatures, and RAPL package power.
type CPUBackend struct {
	sys SysFS
	src CPUSource
	now func() time.Time
}

func NewCPUBackend(sys SysFS) *CPUBackend {
	return &CPUBackend{sys: sys, src: defaultCPUSource(), now: time.Now}
}

// WithSource replaces the gopsutil calls and the clock.
func (b *CPUBackend) WithSource(src CPUSource, now func() time.Time) *CPUBackend {
	b.src = src
	b.now = now
	return b
}

func (b *CPUBackend) Name() string { return "cpu" }

func (b *CPUBackend) Open() ([]Device, error) {
	errFactory := errors.New()

	logical, err := b.src.Counts(true)
	if err != nil || logical < 1 {
		return nil, errFactory.Wrap(ErrNoDevices, err)
	}

	name := "Generic CPU"
	if infos, err := b.src.Info(); err == nil && len(infos) > 0 && infos[0].ModelName != "" {
		name = strings.TrimSpace(infos[0].ModelName)
	}

	return []Device{&cpuDevice{
		backend: b,
		name:    name,
		logical: logical,
	}}, nil
}

func (b *CPUBackend) Close() error { return nil }

type cpuDevice struct {
	backend *CPUBackend
	name    string
	logical int

	prevTotal  *cpu.TimesStat
	prevPerCPU []cpu.TimesStat

	prevEnergy   float64
	prevEnergyAt time.Time

	sensors []Sensor
}

func (d *cpuDevice) Identifier() string   { return "/cpu/0" }
func (d *cpuDevice) Type() HardwareType   { return CPU }
func (d *cpuDevice) Name() string         { return d.name }
func (d *cpuDevice) SubDevices() []Device { return nil }
func (d *cpuDevice) Sensors() []Sensor    { return d.sensors }

func (d *cpuDevice) Update() error {
	errFactory := errors.New()
	src := d.backend.src

	total, err := src.Times(false)
	if err != nil || len(total) == 0 {
		return errFactory.Wrap(errors.ErrQueryFailed, err)
	}
	perCPU, err := src.Times(true)
	if err != nil {
		return errFactory.Wrap(errors.ErrQueryFailed, err)
	}

	sensors := make([]Sensor, 0, 3*d.logical+2)

	load := Sensor{Type: Load, Name: cpuTotalSensor}
	if d.prevTotal != nil {
		load.Value, load.HasValue = busyPercent(*d.prevTotal, total[0]), true
	}
	d.prevTotal = &total[0]
	sensors = append(sensors, load)

	for i := 0; i < d.logical; i++ {
		s := Sensor{Type: Load, Name: fmt.Sprintf(cpuCoreSensor, i+1), Index: i + 1}
		if i < len(perCPU) && i < len(d.prevPerCPU) {
			s.Value, s.HasValue = busyPercent(d.prevPerCPU[i], perCPU[i]), true
		}
		sensors = append(sensors, s)
	}
	d.prevPerCPU = perCPU

	for i := 0; i < d.logical; i++ {
		khz, err := d.backend.sys.ReadFloat(1, "devices/system/cpu", fmt.Sprintf("cpu%d", i), "cpufreq/scaling_cur_freq")
		if err != nil {
			continue
		}
		sensors = append(sensors, value(Clock, fmt.Sprintf(cpuCoreSensor, i+1), i+1, khz/1000, nil))
	}

	sensors = append(sensors, d.temperatures()...)
	sensors = append(sensors, d.packagePower())

	d.sensors = sensors

	return nil
}

func (d *cpuDevice) temperatures() []Sensor {
	// gopsutil returns partial results together with warnings
	temps, _ := d.backend.src.Temperatures()

	var sensors []Sensor
	for _, t := range temps {
		key := strings.ToLower(t.SensorKey)
		if !isCPUTemperatureKey(key) || t.Temperature <= 0 {
			continue
		}

		switch {
		case strings.Contains(key, "package"), strings.Contains(key, "tdie"), strings.Contains(key, "tctl"):
			sensors = append(sensors, value(Temperature, cpuPackageSensor, 0, t.Temperature, nil))
		default:
			m := coretempCore.FindStringSubmatch(key)
			if m == nil {
				continue
			}
			id, err := strconv.Atoi(m[1])
			if err != nil {
				continue
			}
			sensors = append(sensors, value(Temperature, fmt.Sprintf(cpuCoreSensor, id+1), id+1, t.Temperature, nil))
		}
	}

	return sensors
}

func isCPUTemperatureKey(key string) bool {
	return strings.HasPrefix(key, "coretemp") || strings.HasPrefix(key, "k10temp") ||
		strings.HasPrefix(key, "zenpower") || strings.HasPrefix(key, "cpu_thermal")
}

// packagePower derives watts from the RAPL package energy counter.
func (d *cpuDevice) packagePower() Sensor {
	s := Sensor{Type: Power, Name: cpuPackageSensor}

	uj, err := d.backend.sys.ReadFloat(1, raplEnergyPath)
	if err != nil {
		return s
	}

	now := d.backend.now()
	if !d.prevEnergyAt.IsZero() && uj >= d.prevEnergy {
		if elapsed := now.Sub(d.prevEnergyAt).Seconds(); elapsed > 0 {
			s.Value = (uj - d.prevEnergy) / 1e6 / elapsed
			s.HasValue = true
		}
	}
	d.prevEnergy = uj
	d.prevEnergyAt = now

	return s
}

func busyPercent(prev, cur cpu.TimesStat) float64 {
	prevIdle := prev.Idle + prev.Iowait
	curIdle := cur.Idle + cur.Iowait

	dt := totalTime(cur) - totalTime(prev)
	if dt <= 0 {
		return 0
	}

	busy := 100 * (1 - (curIdle-prevIdle)/dt)
	switch {
	case busy < 0:
		return 0
	case busy > 100:
		return 100
	}

	return busy
}

func totalTime(t cpu.TimesStat) float64 {
	return t.User + t.System + t.Idle + t.Nice + t.Iowait + t.Irq +
		t.Softirq + t.Steal
}
