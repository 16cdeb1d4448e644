package battery

import "codeberg.org/mutker/traystats/internal/errors"

// DefaultFullThreshold is the charge level at or above which a plugged-in
// battery reports "Fully charged".
const DefaultFullThreshold = 99.5

type Config struct {
	FullThreshold float64
}

func DefaultConfig() Config {
	return Config{FullThreshold: DefaultFullThreshold}
}

func (c Config) Validate() error {
	errFactory := errors.New()
	if c.FullThreshold <= 0 || c.FullThreshold > 100 {
		return errFactory.WithData(ErrInvalidConfig, "full threshold must be within (0, 100]")
	}
	return nil
}
