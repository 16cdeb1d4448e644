package cpu

import "codeberg.org/mutker/traystats/internal/errors"

const DefaultFallbackEvery = 5

type Config struct {
	// FallbackEvery is the number of provider ticks between OS fallback
	// queries.
	FallbackEvery int
}

func DefaultConfig() Config {
	return Config{FallbackEvery: DefaultFallbackEvery}
}

func (c Config) Validate() error {
	errFactory := errors.New()
	if c.FallbackEvery < 1 {
		return errFactory.WithData(ErrInvalidConfig, "fallback interval must be at least one tick")
	}
	return nil
}
