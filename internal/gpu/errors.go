package gpu

import "codeberg.org/mutker/traystats/internal/errors"

const ErrInvalidConfig = errors.ErrorCode("gpu_invalid_config")
