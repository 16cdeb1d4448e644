package monitor

import (
	"sync"

	"codeberg.org/mutker/traystats/internal/logger"
)

// Chained drives a monitor from the hardware provider's tick instead of a
// timer of its own. The poll runs synchronously in the provider's refresh,
// after the sensor tree was updated.
type Chained struct {
	subscribe func(fn func(tick uint64)) func()
	current   func() uint64
	poll      func(tick uint64) error
	guard     *Guard
	notifier  Notifier

	mu          sync.Mutex
	unsubscribe func()
	closed      bool
}

// NewChained returns a stopped Chained. subscribe and current are usually
// the provider's Subscribe and TickCount methods.
func NewChained(subscribe func(fn func(tick uint64)) func(), current func() uint64,
	poll func(tick uint64) error, log logger.Logger,
) *Chained {
	return &Chained{
		subscribe: subscribe,
		current:   current,
		poll:      poll,
		guard:     NewGuard(log),
	}
}

// Start polls once against the current tree, then follows provider ticks.
func (c *Chained) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.unsubscribe != nil {
		return
	}

	c.Fire(c.current())
	c.unsubscribe = c.subscribe(func(tick uint64) { c.Fire(tick) })
}

func (c *Chained) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
}

func (c *Chained) Close() error {
	c.Stop()

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		c.notifier.Close()
	}

	return nil
}

func (c *Chained) Subscribe() (<-chan struct{}, func()) {
	return c.notifier.Subscribe()
}

// Fire runs one guarded poll for tick and notifies subscribers when it
// succeeds.
func (c *Chained) Fire(tick uint64) bool {
	if !c.guard.Run(func() error { return c.poll(tick) }) {
		return false
	}
	c.notifier.Notify()

	return true
}
