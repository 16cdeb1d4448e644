package gpu

import "codeberg.org/mutker/traystats/internal/errors"

const (
	// DefaultSwitchMargin is how many load points a challenger must lead the
	// active adapter by before it takes over.
	DefaultSwitchMargin = 10.0
	// DefaultIdleThreshold is the load below which an adapter counts as idle.
	DefaultIdleThreshold = 15.0
)

type Config struct {
	SwitchMargin  float64
	IdleThreshold float64
}

func DefaultConfig() Config {
	return Config{
		SwitchMargin:  DefaultSwitchMargin,
		IdleThreshold: DefaultIdleThreshold,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()
	if c.SwitchMargin < 0 {
		return errFactory.WithData(ErrInvalidConfig, "switch margin must not be negative")
	}
	if c.IdleThreshold < 0 || c.IdleThreshold > 100 {
		return errFactory.WithData(ErrInvalidConfig, "idle threshold must be within [0, 100]")
	}
	return nil
}
