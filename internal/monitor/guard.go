package monitor

import (
	"sync/atomic"

	"codeberg.org/mutker/traystats/internal/errors"
	"codeberg.org/mutker/traystats/internal/logger"
)

// Guard runs poll functions one at a time. A call arriving while another is
// still running is dropped, not queued.
type Guard struct {
	busy atomic.Bool
	log  logger.Logger
}

func NewGuard(log logger.Logger) *Guard {
	return &Guard{log: log}
}

// Run executes fn unless a previous call is still in progress. It reports
// whether fn ran to completion without error. Errors and panics are logged at
// debug level and never escape.
func (g *Guard) Run(fn func() error) (ok bool) {
	if !g.busy.CompareAndSwap(false, true) {
		return false
	}
	defer g.busy.Store(false)

	defer func() {
		if r := recover(); r != nil {
			errFactory := errors.New()
			g.debug(errFactory.WithData(errors.ErrPollPanic, r))
			ok = false
		}
	}()

	if err := fn(); err != nil {
		errFactory := errors.New()
		g.debug(errFactory.Wrap(errors.ErrOperationFailed, err))
		return false
	}

	return true
}

// Busy reports whether a call is in progress.
func (g *Guard) Busy() bool {
	return g.busy.Load()
}

func (g *Guard) debug(err errors.Error) {
	if g.log == nil {
		return
	}
	g.log.Debug().Str("error_code", string(err.Code())).Msg(err.Error())
}
