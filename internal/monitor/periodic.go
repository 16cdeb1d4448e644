package monitor

import (
	"sync"
	"time"

	"codeberg.org/mutker/traystats/internal/logger"
)

// Periodic drives a monitor from its own ticker.
type Periodic struct {
	ticker   *Ticker
	notifier Notifier
	baseline func() error

	mu     sync.Mutex
	closed bool
}

// NewPeriodic returns a stopped Periodic calling poll every interval.
func NewPeriodic(interval time.Duration, poll func() error, log logger.Logger) *Periodic {
	p := &Periodic{}
	p.ticker = NewTicker(interval, poll, p.notifier.Notify, log)

	return p
}

// WithBaseline makes Start run fn instead of an initial poll. Monitors that
// derive rates from two samples use it to take the first one.
func (p *Periodic) WithBaseline(fn func() error) *Periodic {
	p.baseline = fn
	return p
}

// Start runs the initial poll (or baseline) and arms the ticker.
func (p *Periodic) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || p.ticker.Running() {
		return
	}

	if p.baseline != nil {
		p.ticker.guard.Run(p.baseline)
	} else {
		p.ticker.Fire()
	}

	p.ticker.Start()
}

func (p *Periodic) Stop() {
	p.ticker.Stop()
}

func (p *Periodic) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.ticker.Stop()
	if !p.closed {
		p.closed = true
		p.notifier.Close()
	}

	return nil
}

func (p *Periodic) Subscribe() (<-chan struct{}, func()) {
	return p.notifier.Subscribe()
}

// Fire runs one guarded poll immediately, notifying on success.
func (p *Periodic) Fire() bool {
	return p.ticker.Fire()
}
