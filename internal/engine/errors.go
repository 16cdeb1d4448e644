package engine

import "codeberg.org/mutker/traystats/internal/errors"

const (
	ErrInvalidConfig = errors.ErrInvalidConfig
	ErrInitMonitor   = errors.ErrorCode("engine_init_monitor_failed")
	ErrShutdown      = errors.ErrShutdownFailed
)
