package engine

import (
	"codeberg.org/mutker/traystats/internal/battery"
	"codeberg.org/mutker/traystats/internal/config"
	"codeberg.org/mutker/traystats/internal/cpu"
	"codeberg.org/mutker/traystats/internal/disk"
	"codeberg.org/mutker/traystats/internal/hwmon"
	"codeberg.org/mutker/traystats/internal/network"
	"codeberg.org/mutker/traystats/internal/process"
	"codeberg.org/mutker/traystats/internal/ram"
	"codeberg.org/mutker/traystats/internal/uptime"
)

// Sources are the data sources behind the provider and the monitors. Tests
// replace them with fakes.
type Sources struct {
	Backends []hwmon.Backend
	CPU      cpu.OSSource
	Memory   ram.QueryFunc
	Power    battery.StatusSource
	Volumes  disk.VolumeSource
	Network  network.Source
	Process  process.Source
	Uptime   uptime.Source
}

// DefaultSources returns the sources of the running machine.
func DefaultSources(cfg *config.Config) Sources {
	sys := hwmon.SysFS{Root: hwmon.DefaultSysFSRoot}

	return Sources{
		Backends: hwmon.DefaultBackends(hwmon.BackendOptions{SysFS: sys, NVML: cfg.NVML}),
		CPU:      cpu.NewOSSource(sys),
		Power:    battery.NewStatusSource(sys),
		Volumes:  disk.NewVolumeSource(""),
		Network:  network.NewSource(sys),
		Process:  process.NewSource(),
		Uptime:   uptime.NewSource(),
	}
}
