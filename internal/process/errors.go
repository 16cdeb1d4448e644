package process

import "codeberg.org/mutker/traystats/internal/errors"

const ErrInvalidConfig = errors.ErrorCode("process_invalid_config")
