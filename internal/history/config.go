package history

import "codeberg.org/mutker/traystats/internal/errors"

// DefaultSize is how many points each series keeps.
const DefaultSize = 60

type Config struct {
	Size int
}

func DefaultConfig() Config {
	return Config{Size: DefaultSize}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	if c.Size <= 0 {
		return errFactory.WithData(ErrInvalidConfig, "size must be positive")
	}
	return nil
}
