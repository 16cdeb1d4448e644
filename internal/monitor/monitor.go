// Package monitor holds the lifecycle pieces shared by every telemetry
// monitor: the Monitor contract, an overlap-dropping poll guard, a periodic
// ticker built on it, and a coalescing change notifier.
package monitor

// Monitor is implemented by every telemetry monitor.
type Monitor interface {
	Name() string
	// Start polls once and then begins periodic polling. Calling Start on a
	// running monitor is a no-op.
	Start()
	// Stop halts periodic polling. An in-flight poll is allowed to finish.
	Stop()
	// Close stops the monitor and releases its resources. Safe to call more
	// than once.
	Close() error
	// Subscribe returns a channel receiving a signal after each successful
	// poll, and a function that cancels the subscription.
	Subscribe() (<-chan struct{}, func())
}
