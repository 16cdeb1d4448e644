// Package hwmon owns the hardware sensor tree. Backends enumerate devices,
// a Context refreshes them on a fixed tick and notifies subscribers once per
// refresh. Monitors only ever read copies of the tree.
package hwmon

import "fmt"

// HardwareType classifies a device node.
type HardwareType int

const (
	Unknown HardwareType = iota
	CPU
	GPUNvidia
	GPUAmd
	GPUIntel
	Memory
	Storage
	Battery
)

var hardwareTypeNames = map[HardwareType]string{
	Unknown:   "Unknown",
	CPU:       "Cpu",
	GPUNvidia: "GpuNvidia",
	GPUAmd:    "GpuAmd",
	GPUIntel:  "GpuIntel",
	Memory:    "Memory",
	Storage:   "Storage",
	Battery:   "Battery",
}

func (t HardwareType) String() string {
	if name, ok := hardwareTypeNames[t]; ok {
		return name
	}

	return fmt.Sprintf("HardwareType(%d)", int(t))
}

// IsGPU reports whether t is one of the graphics adapter types.
func (t HardwareType) IsGPU() bool {
	return t == GPUNvidia || t == GPUAmd || t == GPUIntel
}

// SensorType classifies a reading. Units follow the usual hardware monitor
// conventions: Load/Level/Control in percent, Temperature in Celsius, Clock
// in MHz, Power in W, Voltage in V, Current in A, Energy in mWh, Fan in RPM,
// SmallData in MB, Throughput in bytes per second.
type SensorType int

const (
	Load SensorType = iota
	Temperature
	Clock
	Power
	Voltage
	Current
	Energy
	Level
	Fan
	Control
	SmallData
	Data
	Throughput
	Factor
)

var sensorTypeNames = [...]string{
	Load:        "Load",
	Temperature: "Temperature",
	Clock:       "Clock",
	Power:       "Power",
	Voltage:     "Voltage",
	Current:     "Current",
	Energy:      "Energy",
	Level:       "Level",
	Fan:         "Fan",
	Control:     "Control",
	SmallData:   "SmallData",
	Data:        "Data",
	Throughput:  "Throughput",
	Factor:      "Factor",
}

func (t SensorType) String() string {
	if t >= 0 && int(t) < len(sensorTypeNames) {
		return sensorTypeNames[t]
	}

	return fmt.Sprintf("SensorType(%d)", int(t))
}

// Sensor is one reading of a device. A sensor without a value is still
// listed, so consumers can tell "not reported this tick" from zero.
type Sensor struct {
	Type     SensorType
	Name     string
	Index    int
	Value    float64
	HasValue bool
}

// Reading returns the value and whether one is present.
func (s Sensor) Reading() (float64, bool) {
	return s.Value, s.HasValue
}

// Device is a node in the sensor tree as exposed by a backend.
type Device interface {
	// Identifier is stable for the lifetime of the device.
	Identifier() string
	Type() HardwareType
	Name() string
	// Update refreshes the device's readings. Sensors keeps returning the
	// previous readings if Update fails.
	Update() error
	Sensors() []Sensor
	SubDevices() []Device
}

// Backend enumerates one family of devices.
type Backend interface {
	Name() string
	Open() ([]Device, error)
	Close() error
}

// Hardware is a read-only copy of a device node and its sensors.
type Hardware struct {
	Identifier  string
	Type        HardwareType
	Name        string
	Sensors     []Sensor
	SubHardware []Hardware
}

// StorageReading is the per-device view used by the disk monitor.
type StorageReading struct {
	Name        string
	Temperature float64
	ReadRate    float64
	WriteRate   float64
}

// Provider is the read side of a Context used by provider-driven monitors.
type Provider interface {
	GetHardware() []Hardware
	TickCount() uint64
	Subscribe(fn func(tick uint64)) (unsubscribe func())
}

// Find returns the first top-level device of type t.
func Find(hardware []Hardware, t HardwareType) (Hardware, bool) {
	for _, hw := range hardware {
		if hw.Type == t {
			return hw, true
		}
	}

	return Hardware{}, false
}
