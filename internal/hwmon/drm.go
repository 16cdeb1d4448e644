package hwmon

import (
	"fmt"
	"strings"

	"codeberg.org/mutker/traystats/internal/errors"
	"github.com/jaypipes/ghw"
)

const (
	vendorNvidia = "10de"
	vendorAMD    = "1002"
	vendorIntel  = "8086"
)

// GraphicsCard is an adapter found on the PCI bus.
type GraphicsCard struct {
	Address  string
	VendorID string
	Vendor   string
	Product  string
	Driver   string
}

// ghwCards enumerates graphics cards with ghw.
func ghwCards() ([]GraphicsCard, error) {
	info, err := ghw.GPU()
	if err != nil {
		return nil, err
	}

	cards := make([]GraphicsCard, 0, len(info.GraphicsCards))
	for _, card := range info.GraphicsCards {
		c := GraphicsCard{Address: card.Address}
		if card.DeviceInfo != nil {
			c.Driver = strings.TrimSpace(card.DeviceInfo.Driver)
			if card.DeviceInfo.Vendor != nil {
				c.VendorID = strings.ToLower(card.DeviceInfo.Vendor.ID)
				c.Vendor = strings.TrimSpace(card.DeviceInfo.Vendor.Name)
			}
			if card.DeviceInfo.Product != nil {
				c.Product = strings.TrimSpace(card.DeviceInfo.Product.Name)
			}
		}
		cards = append(cards, c)
	}

	return cards, nil
}

// DRMBackend exposes AMD and Intel adapters, and NVIDIA adapters when NVML
// is not in use, from the kernel DRM sysfs attributes.
type DRMBackend struct {
	sys   SysFS
	cards func() ([]GraphicsCard, error)
	nvml  *NVMLBackend
}

// NewDRMBackend returns a DRM backend. When nvml is not nil and active at
// Open time, NVIDIA cards are left to it.
func NewDRMBackend(sys SysFS, nvml *NVMLBackend) *DRMBackend {
	return &DRMBackend{sys: sys, cards: ghwCards, nvml: nvml}
}

// WithCards replaces PCI enumeration.
func (b *DRMBackend) WithCards(cards func() ([]GraphicsCard, error)) *DRMBackend {
	b.cards = cards
	return b
}

func (b *DRMBackend) Name() string { return "drm" }

func (b *DRMBackend) Open() ([]Device, error) {
	errFactory := errors.New()

	cards, err := b.cards()
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrQueryFailed, err)
	}

	var devices []Device
	for i, card := range cards {
		kind := drmHardwareType(card.VendorID)
		if kind == GPUNvidia && b.nvml != nil && b.nvml.Active() {
			continue
		}
		if card.Address == "" {
			continue
		}

		devices = append(devices, &drmGPU{
			sys:   b.sys,
			index: i,
			card:  card,
			kind:  kind,
			dir:   b.sys.Path("bus/pci/devices", card.Address),
		})
	}

	if len(devices) == 0 {
		return nil, errFactory.New(ErrNoDevices)
	}

	return devices, nil
}

func (b *DRMBackend) Close() error { return nil }

func drmHardwareType(vendorID string) HardwareType {
	switch strings.ToLower(vendorID) {
	case vendorNvidia:
		return GPUNvidia
	case vendorAMD:
		return GPUAmd
	case vendorIntel:
		return GPUIntel
	default:
		return Unknown
	}
}

type drmGPU struct {
	sys     SysFS
	index   int
	card    GraphicsCard
	kind    HardwareType
	dir     string
	sensors []Sensor
}

func (g *drmGPU) Identifier() string   { return "/gpu-drm/" + g.card.Address }
func (g *drmGPU) Type() HardwareType   { return g.kind }
func (g *drmGPU) SubDevices() []Device { return nil }
func (g *drmGPU) Sensors() []Sensor    { return g.sensors }

func (g *drmGPU) Name() string {
	if g.card.Product == "" {
		return fmt.Sprintf("GPU %d", g.index)
	}
	if g.card.Vendor == "" {
		return g.card.Product
	}

	return g.card.Vendor + " " + g.card.Product
}

func (g *drmGPU) Update() error {
	errFactory := errors.New()

	if !g.sys.Exists(g.dir) {
		return errFactory.WithData(errors.ErrResourceNotFound, g.card.Address)
	}

	var sensors []Sensor

	if busy, err := g.sys.ReadFloat(1, g.dir, "gpu_busy_percent"); err == nil {
		sensors = append(sensors, value(Load, "GPU Core", 0, busy, nil))
	}

	used, usedErr := g.sys.ReadFloat(1.0/bytesPerMB, g.dir, "mem_info_vram_used")
	total, totalErr := g.sys.ReadFloat(1.0/bytesPerMB, g.dir, "mem_info_vram_total")
	if usedErr == nil && totalErr == nil && total > 0 {
		sensors = append(sensors,
			value(Load, "GPU Memory", 1, used/total*100, nil),
			value(SmallData, "GPU Memory Used", 0, used, nil),
			value(SmallData, "GPU Memory Total", 2, total, nil),
		)
	}

	if clock, ok := g.coreClock(); ok {
		sensors = append(sensors, value(Clock, "GPU Core", 0, clock, nil))
	}

	sensors = append(sensors, g.hwmonSensors()...)

	g.sensors = sensors

	return nil
}

// coreClock reads the current shader clock in MHz.
func (g *drmGPU) coreClock() (float64, bool) {
	for _, p := range g.sys.Glob(g.dir, "drm", "card*", "gt_act_freq_mhz") {
		if mhz, err := g.sys.ReadFloat(1, p); err == nil {
			return mhz, true
		}
	}
	for _, p := range g.sys.Glob(g.dir, "hwmon", "hwmon*", "freq1_input") {
		if hz, err := g.sys.ReadFloat(1e-6, p); err == nil {
			return hz, true
		}
	}

	return 0, false
}

func (g *drmGPU) hwmonSensors() []Sensor {
	var sensors []Sensor

	for _, dir := range g.sys.Glob(g.dir, "hwmon", "hwmon*") {
		if milli, err := g.sys.ReadFloat(1, dir, "temp1_input"); err == nil {
			sensors = append(sensors, value(Temperature, "GPU Core", 0, milli/1000, nil))
		}
		if milli, err := g.sys.ReadFloat(1, dir, "temp2_input"); err == nil {
			sensors = append(sensors, value(Temperature, "GPU Hot Spot", 1, milli/1000, nil))
		}
		if rpm, err := g.sys.ReadFloat(1, dir, "fan1_input"); err == nil {
			sensors = append(sensors, value(Fan, "GPU Fan", 0, rpm, nil))
		}
		if pwm, err := g.sys.ReadFloat(1, dir, "pwm1"); err == nil {
			sensors = append(sensors, value(Control, "GPU Fan", 0, pwm/255*100, nil))
		}
		if uw, err := g.sys.ReadFloat(1e-6, dir, "power1_average"); err == nil {
			sensors = append(sensors, value(Power, "GPU Package", 0, uw, nil))
		} else if uw, err := g.sys.ReadFloat(1e-6, dir, "power1_input"); err == nil {
			sensors = append(sensors, value(Power, "GPU Package", 0, uw, nil))
		}
		if mhz, err := g.sys.ReadFloat(1e-6, dir, "freq2_input"); err == nil {
			sensors = append(sensors, value(Clock, "GPU Memory", 1, mhz, nil))
		}
	}

	return sensors
}
