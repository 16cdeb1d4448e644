package hwmon

import (
	"codeberg.org/mutker/traystats/internal/errors"
	"github.com/shirou/gopsutil/v3/mem"
)

const bytesPerGB = 1024 * 1024 * 1024

// MemoryBackend exposes physical and swap memory usage.
type MemoryBackend struct {
	virtual func() (*mem.VirtualMemoryStat, error)
	swap    func() (*mem.SwapMemoryStat, error)
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{virtual: mem.VirtualMemory, swap: mem.SwapMemory}
}

func (b *MemoryBackend) Name() string { return "memory" }

func (b *MemoryBackend) Open() ([]Device, error) {
	errFactory := errors.New()

	if _, err := b.virtual(); err != nil {
		return nil, errFactory.Wrap(ErrNoDevices, err)
	}

	return []Device{&memoryDevice{backend: b}}, nil
}

func (b *MemoryBackend) Close() error { return nil }

type memoryDevice struct {
	backend *MemoryBackend
	sensors []Sensor
}

func (d *memoryDevice) Identifier() string   { return "/ram" }
func (d *memoryDevice) Type() HardwareType   { return Memory }
func (d *memoryDevice) Name() string         { return "Generic Memory" }
func (d *memoryDevice) SubDevices() []Device { return nil }
func (d *memoryDevice) Sensors() []Sensor    { return d.sensors }

func (d *memoryDevice) Update() error {
	errFactory := errors.New()

	vm, err := d.backend.virtual()
	if err != nil {
		return errFactory.Wrap(errors.ErrQueryFailed, err)
	}

	sensors := []Sensor{
		value(Load, "Memory", 0, vm.UsedPercent, nil),
		value(Data, "Memory Used", 0, float64(vm.Used)/bytesPerGB, nil),
		value(Data, "Memory Available", 1, float64(vm.Available)/bytesPerGB, nil),
	}

	if sw, err := d.backend.swap(); err == nil && sw.Total > 0 {
		sensors = append(sensors,
			value(Load, "Virtual Memory", 1, sw.UsedPercent, nil),
			value(Data, "Virtual Memory Used", 2, float64(sw.Used)/bytesPerGB, nil),
		)
	}

	d.sensors = sensors

	return nil
}
