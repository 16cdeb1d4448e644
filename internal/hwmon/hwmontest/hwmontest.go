// Package hwmontest provides in-memory devices and backends for tests of
// code built on hwmon.
package hwmontest

import (
	"fmt"
	"sync"

	"codeberg.org/mutker/traystats/internal/hwmon"
)

// Value returns a sensor carrying v.
func Value(t hwmon.SensorType, name string, index int, v float64) hwmon.Sensor {
	return hwmon.Sensor{Type: t, Name: name, Index: index, Value: v, HasValue: true}
}

// Missing returns a listed sensor without a value.
func Missing(t hwmon.SensorType, name string, index int) hwmon.Sensor {
	return hwmon.Sensor{Type: t, Name: name, Index: index}
}

// Device is a device whose readings are set by the test. New readings become
// visible to consumers after the next refresh.
type Device struct {
	mu      sync.Mutex
	id      string
	kind    hwmon.HardwareType
	name    string
	pending []hwmon.Sensor
	current []hwmon.Sensor
	subs    []hwmon.Device
	fail    error
	panics  bool
	updates int
}

func NewDevice(id string, kind hwmon.HardwareType, name string, sensors ...hwmon.Sensor) *Device {
	return &Device{id: id, kind: kind, name: name, pending: sensors}
}

// WithSubDevices attaches children and returns d.
func (d *Device) WithSubDevices(subs ...hwmon.Device) *Device {
	d.subs = append(d.subs, subs...)
	return d
}

// SetSensors replaces the readings published on the next update.
func (d *Device) SetSensors(sensors ...hwmon.Sensor) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pending = sensors
}

// Fail makes subsequent updates return err. A nil err restores updates.
func (d *Device) Fail(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.fail = err
}

// Panic makes subsequent updates panic.
func (d *Device) Panic(on bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.panics = on
}

// Updates returns how many times Update was called.
func (d *Device) Updates() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.updates
}

func (d *Device) Identifier() string         { return d.id }
func (d *Device) Type() hwmon.HardwareType   { return d.kind }
func (d *Device) Name() string               { return d.name }
func (d *Device) SubDevices() []hwmon.Device { return d.subs }

func (d *Device) Update() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.updates++
	if d.panics {
		panic(fmt.Sprintf("device %s removed", d.id))
	}
	if d.fail != nil {
		return d.fail
	}

	d.current = append([]hwmon.Sensor(nil), d.pending...)

	return nil
}

func (d *Device) Sensors() []hwmon.Sensor {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]hwmon.Sensor(nil), d.current...)
}

// Backend serves a fixed device list.
type Backend struct {
	Label    string
	Devices  []hwmon.Device
	OpenErr  error
	CloseErr error

	mu     sync.Mutex
	closed int
}

func NewBackend(label string, devices ...hwmon.Device) *Backend {
	return &Backend{Label: label, Devices: devices}
}

func (b *Backend) Name() string { return b.Label }

func (b *Backend) Open() ([]hwmon.Device, error) {
	if b.OpenErr != nil {
		return nil, b.OpenErr
	}

	return b.Devices, nil
}

func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed++

	return b.CloseErr
}

// Closed returns how many times Close was called.
func (b *Backend) Closed() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.closed
}
