package cpu

import "codeberg.org/mutker/traystats/internal/errors"

const (
	ErrInvalidConfig  = errors.ErrorCode("cpu_invalid_config")
	ErrNoCPU          = errors.ErrorCode("cpu_not_found")
	ErrFallbackFailed = errors.ErrorCode("cpu_fallback_failed")
)
