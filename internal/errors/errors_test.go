package errors_test

import (
	"fmt"
	"testing"

	"codeberg.org/mutker/traystats/internal/errors"
	"github.com/stretchr/testify/assert"
)

func TestErrorMessage(t *testing.T) {
	errFactory := errors.New()

	err := errFactory.New(errors.ErrInvalidInterval)
	assert.Equal(t, "Invalid interval value", err.Error())
	assert.Equal(t, errors.ErrInvalidInterval, err.Code())

	wrapped := errFactory.Wrap(errors.ErrQueryFailed, fmt.Errorf("permission denied"))
	assert.Equal(t, "Operating system query failed: permission denied", wrapped.Error())

	withData := errFactory.WithData(errors.ErrInvalidThreshold, "gpu_idle_threshold")
	assert.Equal(t, "Invalid threshold value: gpu_idle_threshold", withData.Error())
	assert.Equal(t, "gpu_idle_threshold", withData.GetData())

	custom := err.WithMessage("interval must be positive")
	assert.Equal(t, "interval must be positive", custom.Error())
	assert.Equal(t, errors.ErrInvalidInterval, custom.Code())
}

func TestHasCode(t *testing.T) {
	errFactory := errors.New()

	inner := errFactory.New(errors.ErrInvalidLogLevel)
	outer := errFactory.Wrap(errors.ErrInvalidConfig, inner)
	plain := fmt.Errorf("context: %w", outer)

	assert.True(t, errors.HasCode(plain, errors.ErrInvalidConfig))
	assert.True(t, errors.HasCode(plain, errors.ErrInvalidLogLevel))
	assert.False(t, errors.HasCode(plain, errors.ErrReadConfig))
	assert.False(t, errors.HasCode(fmt.Errorf("plain"), errors.ErrInternal))
	assert.False(t, errors.HasCode(nil, errors.ErrInternal))
}

func TestUnknownCodeMessage(t *testing.T) {
	assert.Equal(t, "custom_code", errors.GetErrorMessage(errors.ErrorCode("custom_code")))
}

func TestIsMatchesByCode(t *testing.T) {
	errFactory := errors.New()

	sentinel := errFactory.New(errors.ErrQueryFailed)
	err := fmt.Errorf("poll: %w", errFactory.Wrap(errors.ErrQueryFailed, fmt.Errorf("timeout")).WithData("mem"))

	assert.ErrorIs(t, err, sentinel)
	assert.NotErrorIs(t, err, errFactory.New(errors.ErrInvalidConfig))
	assert.Equal(t, "Operating system query failed: mem: timeout", errors.Unwrap(err).Error())
}
