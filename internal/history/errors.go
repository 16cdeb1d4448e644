package history

import "codeberg.org/mutker/traystats/internal/errors"

const (
	ErrInvalidConfig = errors.ErrInvalidConfig
	ErrUnknownSeries = errors.ErrorCode("history_unknown_series")
	ErrInvalidSample = errors.ErrorCode("history_invalid_sample")
)
