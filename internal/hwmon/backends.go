package hwmon

// BackendOptions selects and configures the platform backends.
type BackendOptions struct {
	SysFS SysFS
	NVML  bool
}

// DefaultBackends returns the platform backends in enumeration order. NVML
// comes before DRM so the DRM backend can leave NVIDIA cards to it.
func DefaultBackends(opts BackendOptions) []Backend {
	backends := []Backend{
		NewCPUBackend(opts.SysFS),
	}

	var nvml *NVMLBackend
	if opts.NVML {
		nvml = NewNVMLBackend()
		backends = append(backends, nvml)
	}

	backends = append(backends,
		NewDRMBackend(opts.SysFS, nvml),
		NewMemoryBackend(),
		NewStorageBackend(opts.SysFS),
		NewBatteryBackend(opts.SysFS),
	)

	return backends
}
