package hwmon

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSysFS(t *testing.T, files map[string]string) SysFS {
	t.Helper()

	root := t.TempDir()
	for name, content := range files {
		path := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content+"\n"), 0o600))
	}

	return SysFS{Root: root}
}

func find(t *testing.T, sensors []Sensor, st SensorType, name string) Sensor {
	t.Helper()

	for _, s := range sensors {
		if s.Type == st && s.Name == name {
			return s
		}
	}
	t.Fatalf("sensor [%s] %s not found in %v", st, name, sensors)

	return Sensor{}
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestBatteryBackend(t *testing.T) {
	sys := writeSysFS(t, map[string]string{
		"class/power_supply/AC/type":                  "Mains",
		"class/power_supply/AC/online":                "1",
		"class/power_supply/BAT0/type":                "Battery",
		"class/power_supply/BAT0/present":             "1",
		"class/power_supply/BAT0/model_name":          "5B10W13930",
		"class/power_supply/BAT0/status":              "Charging",
		"class/power_supply/BAT0/capacity":            "80",
		"class/power_supply/BAT0/voltage_now":         "12500000",
		"class/power_supply/BAT0/power_now":           "-15000000",
		"class/power_supply/BAT0/energy_full_design":  "57000000",
		"class/power_supply/BAT0/energy_full":         "50000000",
		"class/power_supply/BAT0/energy_now":          "40000000",
		"class/power_supply/BAT0/cycle_count":         "312",
		"class/power_supply/hidpp_battery_0/type":     "Battery",
		"class/power_supply/hidpp_battery_0/scope":    "Device",
		"class/power_supply/hidpp_battery_0/capacity": "50",
	})

	devices, err := NewBatteryBackend(sys).Open()
	require.NoError(t, err)
	require.Len(t, devices, 1)

	bat := devices[0]
	assert.Equal(t, Battery, bat.Type())
	assert.Equal(t, "5B10W13930", bat.Name())
	require.NoError(t, bat.Update())

	sensors := bat.Sensors()
	assert.InDelta(t, 80.0, find(t, sensors, Level, "Charge Level").Value, 1e-9)
	assert.InDelta(t, 12.5, find(t, sensors, Voltage, "Voltage").Value, 1e-9)
	assert.InDelta(t, 15.0, find(t, sensors, Power, "Charge Rate").Value, 1e-9)
	assert.InDelta(t, 57000.0, find(t, sensors, Energy, "Designed Capacity").Value, 1e-9)
	assert.InDelta(t, 50000.0, find(t, sensors, Energy, "Full Charged Capacity").Value, 1e-9)
	assert.InDelta(t, 312.0, find(t, sensors, Factor, "Cycle Count").Value, 1e-9)
}

func TestBatteryBackendChargeUnits(t *testing.T) {
	sys := writeSysFS(t, map[string]string{
		"class/power_supply/BAT1/type":               "Battery",
		"class/power_supply/BAT1/status":             "Discharging",
		"class/power_supply/BAT1/capacity":           "42",
		"class/power_supply/BAT1/current_now":        "1500000",
		"class/power_supply/BAT1/voltage_min_design": "11100000",
		"class/power_supply/BAT1/charge_full_design": "4000000",
		"class/power_supply/BAT1/charge_full":        "3600000",
	})

	devices, err := NewBatteryBackend(sys).Open()
	require.NoError(t, err)
	require.NoError(t, devices[0].Update())

	sensors := devices[0].Sensors()
	assert.Equal(t, "BAT1", devices[0].Name())
	assert.InDelta(t, 1.5, find(t, sensors, Current, "Discharge Current").Value, 1e-9)
	assert.InDelta(t, 44400.0, find(t, sensors, Energy, "Designed Capacity").Value, 1e-6)
	assert.InDelta(t, 39960.0, find(t, sensors, Energy, "Full Charged Capacity").Value, 1e-6)
	assert.False(t, find(t, sensors, Voltage, "Voltage").HasValue)
}

func TestBatteryBackendNoBattery(t *testing.T) {
	sys := writeSysFS(t, map[string]string{
		"class/power_supply/AC/type": "Mains",
	})

	_, err := NewBatteryBackend(sys).Open()
	require.Error(t, err)
}

func TestStorageBackend(t *testing.T) {
	sys := writeSysFS(t, map[string]string{
		"block/nvme0n1/device/hwmon1/temp1_input": "38850",
		"block/sda/size":   "1",
		"block/loop0/size": "1",
	})

	clock := &fakeClock{t: time.Unix(1000, 0)}
	counters := map[string]disk.IOCountersStat{
		"nvme0n1": {Name: "nvme0n1", ReadBytes: 1000, WriteBytes: 5000},
		"sda":     {Name: "sda", ReadBytes: 0, WriteBytes: 0},
	}
	backend := NewStorageBackend(sys).WithCounters(func(names ...string) (map[string]disk.IOCountersStat, error) {
		out := map[string]disk.IOCountersStat{}
		for _, n := range names {
			if c, ok := counters[n]; ok {
				out[n] = c
			}
		}
		return out, nil
	}, clock.now)

	devices, err := backend.Open()
	require.NoError(t, err)
	require.Len(t, devices, 2, "loop devices are skipped")

	nvme := devices[0]
	assert.Equal(t, "nvme0n1", nvme.Name())
	require.NoError(t, nvme.Update())
	assert.False(t, find(t, nvme.Sensors(), Throughput, "Read Rate").HasValue, "rate needs two samples")

	clock.advance(2 * time.Second)
	counters["nvme0n1"] = disk.IOCountersStat{Name: "nvme0n1", ReadBytes: 3000, WriteBytes: 4000}
	require.NoError(t, nvme.Update())

	sensors := nvme.Sensors()
	temp := find(t, sensors, Temperature, "Temperature")
	assert.Equal(t, 0, temp.Index)
	assert.InDelta(t, 38.85, temp.Value, 1e-9)
	assert.InDelta(t, 1000.0, find(t, sensors, Throughput, "Read Rate").Value, 1e-9)
	assert.InDelta(t, 0.0, find(t, sensors, Throughput, "Write Rate").Value, 1e-9, "counter regression reads as zero")

	delete(counters, "sda")
	assert.Error(t, devices[1].Update())
}

func TestCPUBackend(t *testing.T) {
	sys := writeSysFS(t, map[string]string{
		"devices/system/cpu/cpu0/cpufreq/scaling_cur_freq": "3400000",
		"devices/system/cpu/cpu1/cpufreq/scaling_cur_freq": "4100000",
		"class/powercap/intel-rapl:0/energy_uj":            "1000000",
	})

	clock := &fakeClock{t: time.Unix(1000, 0)}
	user, idle := 0.0, 100.0
	src := CPUSource{
		Times: func(perCPU bool) ([]cpu.TimesStat, error) {
			stat := cpu.TimesStat{User: user, Idle: idle}
			if perCPU {
				return []cpu.TimesStat{stat, stat}, nil
			}
			return []cpu.TimesStat{stat}, nil
		},
		Info: func() ([]cpu.InfoStat, error) {
			return []cpu.InfoStat{{ModelName: " Test CPU 8000 "}}, nil
		},
		Counts: func(bool) (int, error) { return 2, nil },
		Temperatures: func() ([]host.TemperatureStat, error) {
			return []host.TemperatureStat{
				{SensorKey: "coretemp_package_id_0", Temperature: 51},
				{SensorKey: "coretemp_core_0", Temperature: 48},
				{SensorKey: "coretemp_core_1", Temperature: 50},
				{SensorKey: "nvme_composite", Temperature: 39},
			}, fmt.Errorf("some sensors unreadable")
		},
	}

	devices, err := NewCPUBackend(sys).WithSource(src, clock.now).Open()
	require.NoError(t, err)
	require.Len(t, devices, 1)

	dev := devices[0]
	assert.Equal(t, "Test CPU 8000", dev.Name())
	require.NoError(t, dev.Update())
	assert.False(t, find(t, dev.Sensors(), Load, "CPU Total").HasValue)

	user, idle = 50, 150
	clock.advance(time.Second)
	energyPath := filepath.Join(sys.Root, "class/powercap/intel-rapl:0/energy_uj")
	require.NoError(t, os.WriteFile(energyPath, []byte("13000000\n"), 0o600))
	require.NoError(t, dev.Update())

	sensors := dev.Sensors()
	// 50 of 100 additional time units were busy
	assert.InDelta(t, 50.0, find(t, sensors, Load, "CPU Total").Value, 1e-9)
	assert.InDelta(t, 50.0, find(t, sensors, Load, "CPU Core #2").Value, 1e-9)
	assert.InDelta(t, 3400.0, find(t, sensors, Clock, "CPU Core #1").Value, 1e-9)
	assert.InDelta(t, 4100.0, find(t, sensors, Clock, "CPU Core #2").Value, 1e-9)
	assert.InDelta(t, 51.0, find(t, sensors, Temperature, "CPU Package").Value, 1e-9)
	assert.InDelta(t, 50.0, find(t, sensors, Temperature, "CPU Core #2").Value, 1e-9)
	assert.InDelta(t, 12.0, find(t, sensors, Power, "CPU Package").Value, 1e-9)

	for _, s := range sensors {
		assert.NotEqual(t, 39.0, s.Value, "non-CPU temperatures are ignored")
	}
}

func TestDRMBackend(t *testing.T) {
	sys := writeSysFS(t, map[string]string{
		"bus/pci/devices/0000:03:00.0/gpu_busy_percent":            "37",
		"bus/pci/devices/0000:03:00.0/mem_info_vram_used":          "1073741824",
		"bus/pci/devices/0000:03:00.0/mem_info_vram_total":         "8589934592",
		"bus/pci/devices/0000:03:00.0/hwmon/hwmon3/temp1_input":    "61000",
		"bus/pci/devices/0000:03:00.0/hwmon/hwmon3/fan1_input":     "1450",
		"bus/pci/devices/0000:03:00.0/hwmon/hwmon3/pwm1":           "102",
		"bus/pci/devices/0000:03:00.0/hwmon/hwmon3/power1_average": "95000000",
		"bus/pci/devices/0000:03:00.0/hwmon/hwmon3/freq1_input":    "2100000000",
		"bus/pci/devices/0000:00:02.0/drm/card1/gt_act_freq_mhz":   "1300",
		"bus/pci/devices/0000:01:00.0/drm/card2/gt_act_freq_mhz":   "0",
	})

	cards := []GraphicsCard{
		{Address: "0000:03:00.0", VendorID: "1002", Vendor: "AMD", Product: "Navi 23"},
		{Address: "0000:00:02.0", VendorID: "8086", Vendor: "Intel Corporation", Product: "Alder Lake-P GT2"},
		{Address: "0000:01:00.0", VendorID: "10de", Vendor: "NVIDIA Corporation", Product: "GA107M"},
	}

	nv := &NVMLBackend{ctrl: &fakeNVML{}, active: true}
	backend := NewDRMBackend(sys, nv).WithCards(func() ([]GraphicsCard, error) { return cards, nil })

	devices, err := backend.Open()
	require.NoError(t, err)
	require.Len(t, devices, 2, "NVIDIA card is left to NVML")

	amd := devices[0]
	assert.Equal(t, GPUAmd, amd.Type())
	assert.Equal(t, "AMD Navi 23", amd.Name())
	require.NoError(t, amd.Update())

	sensors := amd.Sensors()
	assert.InDelta(t, 37.0, find(t, sensors, Load, "GPU Core").Value, 1e-9)
	assert.InDelta(t, 12.5, find(t, sensors, Load, "GPU Memory").Value, 1e-9)
	assert.InDelta(t, 1024.0, find(t, sensors, SmallData, "GPU Memory Used").Value, 1e-9)
	assert.InDelta(t, 8192.0, find(t, sensors, SmallData, "GPU Memory Total").Value, 1e-9)
	assert.InDelta(t, 61.0, find(t, sensors, Temperature, "GPU Core").Value, 1e-9)
	assert.InDelta(t, 1450.0, find(t, sensors, Fan, "GPU Fan").Value, 1e-9)
	assert.InDelta(t, 40.0, find(t, sensors, Control, "GPU Fan").Value, 1e-9)
	assert.InDelta(t, 95.0, find(t, sensors, Power, "GPU Package").Value, 1e-9)
	assert.InDelta(t, 2100.0, find(t, sensors, Clock, "GPU Core").Value, 1e-9)

	intel := devices[1]
	assert.Equal(t, GPUIntel, intel.Type())
	require.NoError(t, intel.Update())
	assert.InDelta(t, 1300.0, find(t, intel.Sensors(), Clock, "GPU Core").Value, 1e-9)

	nv.active = false
	devices, err = backend.Open()
	require.NoError(t, err)
	assert.Len(t, devices, 3)
	assert.Equal(t, GPUNvidia, devices[2].Type())
}

type fakeNVMLDevice struct {
	name string
	util nvml.Utilization
	ret  nvml.Return
}

func (d *fakeNVMLDevice) GetName() (string, nvml.Return) { return d.name, nvml.SUCCESS }
func (d *fakeNVMLDevice) GetUUID() (string, nvml.Return) { return "GPU-" + d.name, nvml.SUCCESS }
func (d *fakeNVMLDevice) GetUtilizationRates() (nvml.Utilization, nvml.Return) {
	return d.util, d.ret
}
func (d *fakeNVMLDevice) GetTemperature(nvml.TemperatureSensors) (uint32, nvml.Return) {
	return 66, nvml.SUCCESS
}
func (d *fakeNVMLDevice) GetClockInfo(ct nvml.ClockType) (uint32, nvml.Return) {
	if ct == nvml.CLOCK_MEM {
		return 7000, nvml.SUCCESS
	}
	return 1800, nvml.SUCCESS
}
func (d *fakeNVMLDevice) GetNumFans() (int, nvml.Return) { return 2, nvml.SUCCESS }
func (d *fakeNVMLDevice) GetFanSpeed_v2(i int) (uint32, nvml.Return) {
	return uint32(30 + i*10), nvml.SUCCESS
}
func (d *fakeNVMLDevice) GetMemoryInfo() (nvml.Memory, nvml.Return) {
	return nvml.Memory{Total: 8 * bytesPerMB * 1024, Used: 2 * bytesPerMB * 1024, Free: 6 * bytesPerMB * 1024}, nvml.SUCCESS
}
func (d *fakeNVMLDevice) GetPowerUsage() (uint32, nvml.Return) { return 125500, nvml.SUCCESS }

type fakeNVML struct {
	devices  []nvmlDevice
	initErr  error
	shutdown int
}

func (f *fakeNVML) Initialize() error            { return f.initErr }
func (f *fakeNVML) Shutdown() error              { f.shutdown++; return nil }
func (f *fakeNVML) GetDeviceCount() (int, error) { return len(f.devices), nil }
func (f *fakeNVML) GetDevice(i int) (nvmlDevice, error) {
	if i >= len(f.devices) {
		return nil, fmt.Errorf("no device %d", i)
	}
	return f.devices[i], nil
}

func TestNVMLBackend(t *testing.T) {
	dev := &fakeNVMLDevice{name: "NVIDIA GeForce RTX 3060", util: nvml.Utilization{Gpu: 73, Memory: 20}}
	ctrl := &fakeNVML{devices: []nvmlDevice{dev}}
	backend := &NVMLBackend{ctrl: ctrl}

	devices, err := backend.Open()
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.True(t, backend.Active())

	gpu := devices[0]
	assert.Equal(t, "/gpu-nvidia/GPU-NVIDIA GeForce RTX 3060", gpu.Identifier())
	assert.Equal(t, GPUNvidia, gpu.Type())
	require.NoError(t, gpu.Update())

	sensors := gpu.Sensors()
	assert.InDelta(t, 73.0, find(t, sensors, Load, "GPU Core").Value, 1e-9)
	assert.InDelta(t, 66.0, find(t, sensors, Temperature, "GPU Core").Value, 1e-9)
	assert.InDelta(t, 1800.0, find(t, sensors, Clock, "GPU Core").Value, 1e-9)
	assert.InDelta(t, 7000.0, find(t, sensors, Clock, "GPU Memory").Value, 1e-9)
	assert.InDelta(t, 40.0, find(t, sensors, Control, "GPU Fan 2").Value, 1e-9)
	assert.InDelta(t, 25.0, find(t, sensors, Load, "GPU Memory").Value, 1e-9)
	assert.InDelta(t, 2048.0, find(t, sensors, SmallData, "GPU Memory Used").Value, 1e-9)
	assert.InDelta(t, 8192.0, find(t, sensors, SmallData, "GPU Memory Total").Value, 1e-9)
	assert.InDelta(t, 125.5, find(t, sensors, Power, "GPU Package").Value, 1e-9)

	dev.ret = nvml.ERROR_GPU_IS_LOST
	assert.Error(t, gpu.Update())
	assert.Len(t, gpu.Sensors(), len(sensors), "failed update keeps previous readings")

	require.NoError(t, backend.Close())
	assert.False(t, backend.Active())
	assert.Equal(t, 1, ctrl.shutdown)
}

func TestNVMLBackendUnavailable(t *testing.T) {
	backend := &NVMLBackend{ctrl: &fakeNVML{initErr: fmt.Errorf("library not found")}}

	_, err := backend.Open()
	require.Error(t, err)
	assert.False(t, backend.Active())

	empty := &fakeNVML{}
	backend = &NVMLBackend{ctrl: empty}
	_, err = backend.Open()
	require.Error(t, err)
	assert.Equal(t, 1, empty.shutdown)
}

func TestSysFSPath(t *testing.T) {
	sys := SysFS{Root: "/tmp/fake"}
	assert.Equal(t, "/tmp/fake/class/thermal", sys.Path("class", "thermal"))
	assert.Equal(t, "/tmp/fake/class/thermal", sys.Path("/tmp/fake/class/thermal"))
	assert.Equal(t, "/sys/block", SysFS{}.Path("block"))
}
