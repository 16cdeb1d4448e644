package monitor

import (
	"sync"
	"time"

	"codeberg.org/mutker/traystats/internal/logger"
)

// Ticker calls a poll function on a fixed interval through a Guard, so a slow
// poll causes the following ticks to be dropped.
type Ticker struct {
	interval time.Duration
	poll     func() error
	after    func()
	guard    *Guard

	mu   sync.Mutex
	stop chan struct{}
}

// NewTicker returns a stopped ticker. after, if not nil, runs after every
// successful poll.
func NewTicker(interval time.Duration, poll func() error, after func(), log logger.Logger) *Ticker {
	return &Ticker{
		interval: interval,
		poll:     poll,
		after:    after,
		guard:    NewGuard(log),
	}
}

// Start arms the ticker. It returns false if the ticker was already running.
func (t *Ticker) Start() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stop != nil {
		return false
	}

	stop := make(chan struct{})
	t.stop = stop

	go t.loop(stop)

	return true
}

// Stop disarms the ticker without waiting for an in-flight poll.
func (t *Ticker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stop == nil {
		return
	}

	close(t.stop)
	t.stop = nil
}

// Running reports whether the ticker is armed.
func (t *Ticker) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.stop != nil
}

// Fire runs one guarded poll immediately and reports whether it succeeded.
func (t *Ticker) Fire() bool {
	if !t.guard.Run(t.poll) {
		return false
	}
	if t.after != nil {
		t.after()
	}

	return true
}

func (t *Ticker) loop(stop <-chan struct{}) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			t.Fire()
		}
	}
}
