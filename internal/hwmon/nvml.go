package hwmon

import (
	"fmt"

	"codeberg.org/mutker/traystats/internal/errors"
	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

const bytesPerMB = 1024 * 1024

// nvmlDevice is the part of nvml.Device read by the backend.
type nvmlDevice interface {
	GetName() (string, nvml.Return)
	GetUUID() (string, nvml.Return)
	GetUtilizationRates() (nvml.Utilization, nvml.Return)
	GetTemperature(nvml.TemperatureSensors) (uint32, nvml.Return)
	GetClockInfo(nvml.ClockType) (uint32, nvml.Return)
	GetNumFans() (int, nvml.Return)
	GetFanSpeed_v2(int) (uint32, nvml.Return)
	GetMemoryInfo() (nvml.Memory, nvml.Return)
	GetPowerUsage() (uint32, nvml.Return)
}

// nvmlController abstracts NVML operations for testing
type nvmlController interface {
	Initialize() error
	Shutdown() error
	GetDeviceCount() (int, error)
	GetDevice(index int) (nvmlDevice, error)
}

type nvmlWrapper struct {
	initialized bool
}

func (w *nvmlWrapper) Initialize() error {
	errFactory := errors.New()
	if w.initialized {
		return nil
	}

	ret := nvml.Init()
	if !isNVMLSuccess(ret) {
		return errFactory.Wrap(ErrNVMLInitFailed, newNVMLError(ret))
	}

	w.initialized = true

	return nil
}

func (w *nvmlWrapper) Shutdown() error {
	errFactory := errors.New()
	if !w.initialized {
		return nil
	}

	ret := nvml.Shutdown()
	if !isNVMLSuccess(ret) {
		return errFactory.Wrap(ErrNVMLShutdownFailed, newNVMLError(ret))
	}

	w.initialized = false

	return nil
}

func (w *nvmlWrapper) GetDeviceCount() (int, error) {
	errFactory := errors.New()
	if !w.initialized {
		return 0, errFactory.New(ErrNotInitialized)
	}

	count, ret := nvml.DeviceGetCount()
	if !isNVMLSuccess(ret) {
		return 0, errFactory.Wrap(ErrNVMLDeviceCountFailed, newNVMLError(ret))
	}

	return count, nil
}

func (w *nvmlWrapper) GetDevice(index int) (nvmlDevice, error) {
	errFactory := errors.New()
	if !w.initialized {
		return nil, errFactory.New(ErrNotInitialized)
	}

	device, ret := nvml.DeviceGetHandleByIndex(index)
	if !isNVMLSuccess(ret) {
		return nil, errFactory.Wrap(ErrNVMLDeviceNotFound, newNVMLError(ret))
	}

	return device, nil
}

// NVMLBackend exposes NVIDIA adapters through the NVIDIA management library.
type NVMLBackend struct {
	ctrl   nvmlController
	active bool
}

func NewNVMLBackend() *NVMLBackend {
	return &NVMLBackend{ctrl: &nvmlWrapper{}}
}

func (b *NVMLBackend) Name() string { return "nvml" }

// Active reports whether Open found at least one adapter.
func (b *NVMLBackend) Active() bool { return b.active }

func (b *NVMLBackend) Open() ([]Device, error) {
	errFactory := errors.New()

	if err := b.ctrl.Initialize(); err != nil {
		// no driver or no library: nothing to monitor here
		return nil, errFactory.Wrap(ErrNoDevices, err)
	}

	count, err := b.ctrl.GetDeviceCount()
	if err != nil {
		_ = b.ctrl.Shutdown()
		return nil, err
	}

	var devices []Device
	for i := 0; i < count; i++ {
		dev, err := b.ctrl.GetDevice(i)
		if err != nil {
			continue
		}
		devices = append(devices, newNVMLGPU(i, dev))
	}

	if len(devices) == 0 {
		_ = b.ctrl.Shutdown()
		return nil, errFactory.New(ErrNoDevices)
	}

	b.active = true

	return devices, nil
}

func (b *NVMLBackend) Close() error {
	b.active = false
	return b.ctrl.Shutdown()
}

type nvmlGPU struct {
	index   int
	device  nvmlDevice
	id      string
	name    string
	fans    int
	sensors []Sensor
}

func newNVMLGPU(index int, dev nvmlDevice) *nvmlGPU {
	g := &nvmlGPU{index: index, device: dev, name: "NVIDIA GPU"}

	if name, ret := dev.GetName(); isNVMLSuccess(ret) {
		g.name = name
	}

	g.id = fmt.Sprintf("/gpu-nvidia/%d", index)
	if uuid, ret := dev.GetUUID(); isNVMLSuccess(ret) {
		g.id = "/gpu-nvidia/" + uuid
	}

	if fans, ret := dev.GetNumFans(); isNVMLSuccess(ret) {
		g.fans = fans
	}

	return g
}

func (g *nvmlGPU) Identifier() string   { return g.id }
func (g *nvmlGPU) Type() HardwareType   { return GPUNvidia }
func (g *nvmlGPU) Name() string         { return g.name }
func (g *nvmlGPU) SubDevices() []Device { return nil }
func (g *nvmlGPU) Sensors() []Sensor    { return g.sensors }

func (g *nvmlGPU) Update() error {
	errFactory := errors.New()

	util, ret := g.device.GetUtilizationRates()
	if !isNVMLSuccess(ret) {
		// the adapter is gone or the driver is wedged
		return errFactory.Wrap(errors.ErrQueryFailed, newNVMLError(ret))
	}

	sensors := []Sensor{
		value(Load, "GPU Core", 0, float64(util.Gpu), nil),
		value(Load, "GPU Memory Controller", 1, float64(util.Memory), nil),
	}

	if temp, ret := g.device.GetTemperature(nvml.TEMPERATURE_GPU); isNVMLSuccess(ret) {
		sensors = append(sensors, value(Temperature, "GPU Core", 0, float64(temp), nil))
	}

	if clock, ret := g.device.GetClockInfo(nvml.CLOCK_GRAPHICS); isNVMLSuccess(ret) {
		sensors = append(sensors, value(Clock, "GPU Core", 0, float64(clock), nil))
	}
	if clock, ret := g.device.GetClockInfo(nvml.CLOCK_MEM); isNVMLSuccess(ret) {
		sensors = append(sensors, value(Clock, "GPU Memory", 1, float64(clock), nil))
	}

	for i := 0; i < g.fans; i++ {
		if speed, ret := g.device.GetFanSpeed_v2(i); isNVMLSuccess(ret) {
			sensors = append(sensors, value(Control, fmt.Sprintf("GPU Fan %d", i+1), i, float64(speed), nil))
		}
	}

	if memory, ret := g.device.GetMemoryInfo(); isNVMLSuccess(ret) && memory.Total > 0 {
		sensors = append(sensors,
			value(Load, "GPU Memory", 2, float64(memory.Used)/float64(memory.Total)*100, nil),
			value(SmallData, "GPU Memory Used", 0, float64(memory.Used)/bytesPerMB, nil),
			value(SmallData, "GPU Memory Free", 1, float64(memory.Free)/bytesPerMB, nil),
			value(SmallData, "GPU Memory Total", 2, float64(memory.Total)/bytesPerMB, nil),
		)
	}

	if milliwatts, ret := g.device.GetPowerUsage(); isNVMLSuccess(ret) {
		sensors = append(sensors, value(Power, "GPU Package", 0, float64(milliwatts)/1000, nil))
	}

	g.sensors = sensors

	return nil
}
