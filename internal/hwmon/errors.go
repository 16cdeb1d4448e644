package hwmon

import (
	"codeberg.org/mutker/traystats/internal/errors"
	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

const (
	// Provider errors
	ErrBackendOpen    = errors.ErrorCode("hwmon_backend_open_failed")
	ErrBackendClose   = errors.ErrorCode("hwmon_backend_close_failed")
	ErrDeviceUpdate   = errors.ErrorCode("hwmon_device_update_failed")
	ErrSensorRead     = errors.ErrorCode("hwmon_sensor_read_failed")
	ErrNoDevices      = errors.ErrorCode("hwmon_no_devices")
	ErrNotInitialized = errors.ErrorCode("hwmon_not_initialized")

	// NVML errors
	ErrNVMLInitFailed        = errors.ErrorCode("nvml_init_failed")
	ErrNVMLShutdownFailed    = errors.ErrorCode("nvml_shutdown_failed")
	ErrNVMLDeviceCountFailed = errors.ErrorCode("nvml_device_count_failed")
	ErrNVMLDeviceNotFound    = errors.ErrorCode("nvml_device_not_found")
)

// nvmlError represents an NVML-specific error
type nvmlError struct {
	ret nvml.Return
}

func (e nvmlError) Error() string {
	return nvml.ErrorString(e.ret)
}

// newNVMLError creates an error from an NVML return code
func newNVMLError(ret nvml.Return) error {
	if ret == nvml.SUCCESS {
		return nil
	}
	return &nvmlError{ret: ret}
}

func isNVMLSuccess(ret nvml.Return) bool {
	return ret == nvml.SUCCESS
}
