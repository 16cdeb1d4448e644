package hwmon

import (
	"path/filepath"
	"strings"

	"codeberg.org/mutker/traystats/internal/errors"
)

const powerSupplyClass = "class/power_supply"

// BatteryBackend exposes every power supply of type Battery. Units are
// converted from the kernel's micro units to V, A, W and mWh.
type BatteryBackend struct {
	sys SysFS
}

func NewBatteryBackend(sys SysFS) *BatteryBackend {
	return &BatteryBackend{sys: sys}
}

func (b *BatteryBackend) Name() string { return "battery" }

func (b *BatteryBackend) Open() ([]Device, error) {
	errFactory := errors.New()

	var devices []Device
	for _, p := range b.sys.Glob(powerSupplyClass, "*") {
		kind, err := b.sys.ReadString(p, "type")
		if err != nil || kind != "Battery" {
			continue
		}
		if scope, err := b.sys.ReadString(p, "scope"); err == nil && scope == "Device" {
			// peripheral batteries (mice, headsets) report scope Device
			continue
		}

		devices = append(devices, &batteryDevice{sys: b.sys, dir: p, name: batteryName(b.sys, p)})
	}

	if len(devices) == 0 {
		return nil, errFactory.New(ErrNoDevices)
	}

	return devices, nil
}

func (b *BatteryBackend) Close() error { return nil }

func batteryName(sys SysFS, dir string) string {
	model, _ := sys.ReadString(dir, "model_name")
	if model == "" {
		return filepath.Base(dir)
	}

	return model
}

type batteryDevice struct {
	sys     SysFS
	dir     string
	name    string
	sensors []Sensor
}

func (d *batteryDevice) Identifier() string   { return "/battery/" + filepath.Base(d.dir) }
func (d *batteryDevice) Type() HardwareType   { return Battery }
func (d *batteryDevice) Name() string         { return d.name }
func (d *batteryDevice) SubDevices() []Device { return nil }
func (d *batteryDevice) Sensors() []Sensor    { return d.sensors }

func (d *batteryDevice) Update() error {
	errFactory := errors.New()

	if !d.sys.Exists(d.dir, "present") && !d.sys.Exists(d.dir, "capacity") {
		return errFactory.WithData(errors.ErrResourceNotFound, d.dir)
	}

	status, _ := d.sys.ReadString(d.dir, "status")
	charging := strings.EqualFold(status, "Charging")

	var sensors []Sensor

	capacity, err := d.sys.ReadFloat(1, d.dir, "capacity")
	sensors = append(sensors, value(Level, "Charge Level", 0, capacity, err))

	voltage, voltErr := d.sys.ReadFloat(1e-6, d.dir, "voltage_now")
	sensors = append(sensors, value(Voltage, "Voltage", 0, voltage, voltErr))

	if current, err := d.sys.ReadFloat(1e-6, d.dir, "current_now"); err == nil {
		name := "Discharge Current"
		if charging {
			name = "Charge Current"
		}
		sensors = append(sensors, value(Current, name, 0, abs(current), nil))
	}

	if power, err := d.sys.ReadFloat(1e-6, d.dir, "power_now"); err == nil {
		name := "Discharge Rate"
		if charging {
			name = "Charge Rate"
		}
		sensors = append(sensors, value(Power, name, 0, abs(power), nil))
	}

	sensors = append(sensors,
		d.energy("Designed Capacity", 0, "energy_full_design", "charge_full_design"),
		d.energy("Full Charged Capacity", 1, "energy_full", "charge_full"),
		d.energy("Remaining Capacity", 2, "energy_now", "charge_now"),
	)

	if cycles, err := d.sys.ReadFloat(1, d.dir, "cycle_count"); err == nil && cycles > 0 {
		sensors = append(sensors, value(Factor, "Cycle Count", 0, cycles, nil))
	}

	d.sensors = sensors

	return nil
}

// energy returns an energy sensor in mWh, converting from charge when the
// battery reports µAh instead of µWh.
func (d *batteryDevice) energy(name string, index int, energyAttr, chargeAttr string) Sensor {
	if uwh, err := d.sys.ReadFloat(1, d.dir, energyAttr); err == nil {
		return value(Energy, name, index, uwh/1000, nil)
	}

	uah, err := d.sys.ReadFloat(1, d.dir, chargeAttr)
	if err != nil {
		return value(Energy, name, index, 0, err)
	}

	uv, err := d.sys.ReadFloat(1, d.dir, "voltage_min_design")
	if err != nil {
		return value(Energy, name, index, 0, err)
	}

	return value(Energy, name, index, uah*uv/1e9, nil)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}

	return v
}
