package battery

import "codeberg.org/mutker/traystats/internal/errors"

const (
	ErrInvalidConfig = errors.ErrorCode("battery_invalid_config")
	ErrStatusFailed  = errors.ErrorCode("battery_status_failed")
)
