package hwmon

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/traystats/internal/errors"
	"codeberg.org/mutker/traystats/internal/logger"
	"codeberg.org/mutker/traystats/internal/monitor"
	"go.uber.org/multierr"
)

const DefaultInterval = time.Second

type subscriber struct {
	id uint64
	fn func(tick uint64)
}

// Context owns the sensor tree and refreshes it on a fixed tick. Subscribers
// run synchronously after each refresh, in subscription order, so every
// subscriber of a tick sees the same readings.
type Context struct {
	log      logger.Logger
	backends []Backend
	ticker   *monitor.Ticker

	mu   sync.RWMutex
	tree tree

	updating atomic.Bool
	ticks    atomic.Uint64

	subMu  sync.Mutex
	subs   []subscriber
	nextID uint64

	closeOnce sync.Once
	closeErr  error
}

// New opens every backend and performs an initial refresh. A backend that
// fails to open is logged and skipped; with no usable backend the context
// serves an empty tree.
func New(log logger.Logger, interval time.Duration, backends ...Backend) *Context {
	if interval <= 0 {
		interval = DefaultInterval
	}

	c := &Context{log: log}
	c.ticker = monitor.NewTicker(interval, func() error {
		c.Refresh()
		return nil
	}, nil, log)

	errFactory := errors.New()
	for _, b := range backends {
		devices, err := b.Open()
		if err != nil {
			event := log.Warn()
			if errors.HasCode(err, ErrNoDevices) {
				event = log.Debug()
			}
			event.Str("backend", b.Name()).
				Err(errFactory.Wrap(ErrBackendOpen, err)).
				Msg("Hardware backend unavailable")
			continue
		}

		c.backends = append(c.backends, b)
		for _, dev := range devices {
			c.tree.add(dev, noParent)
		}

		log.Debug().Msgf("Backend %s: %d device(s)", b.Name(), len(devices))
	}

	if c.tree.len() == 0 {
		log.Warn().Msg("No hardware found")
	}

	c.refreshNodes()

	return c
}

// Start begins periodic refreshing.
func (c *Context) Start() {
	c.ticker.Start()
}

// Stop halts periodic refreshing. A refresh in progress completes.
func (c *Context) Stop() {
	c.ticker.Stop()
}

// Close stops the context and closes every opened backend.
func (c *Context) Close() error {
	c.closeOnce.Do(func() {
		c.Stop()

		errFactory := errors.New()
		for _, b := range c.backends {
			if err := b.Close(); err != nil {
				c.closeErr = multierr.Append(c.closeErr,
					errFactory.Wrap(ErrBackendClose, err).WithMessage("close "+b.Name()))
			}
		}
	})

	return c.closeErr
}

// Refresh performs one tick: every node is updated, the tick counter is
// incremented and subscribers are notified. It returns false without doing
// anything if another refresh is still running.
func (c *Context) Refresh() bool {
	if !c.updating.CompareAndSwap(false, true) {
		return false
	}
	defer c.updating.Store(false)

	c.refreshNodes()
	tick := c.ticks.Add(1)
	c.notify(tick)

	return true
}

// TickCount returns the number of completed refreshes.
func (c *Context) TickCount() uint64 {
	return c.ticks.Load()
}

// Subscribe registers fn to run after every refresh. The returned function
// unregisters it.
func (c *Context) Subscribe(fn func(tick uint64)) func() {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	id := c.nextID
	c.nextID++
	c.subs = append(c.subs, subscriber{id: id, fn: fn})

	return func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()

		for i, s := range c.subs {
			if s.id == id {
				c.subs = append(c.subs[:i:i], c.subs[i+1:]...)
				return
			}
		}
	}
}

// GetHardware returns copies of the top-level devices with their
// sub-devices.
func (c *Context) GetHardware() []Hardware {
	c.mu.RLock()
	defer c.mu.RUnlock()

	hardware := make([]Hardware, 0, len(c.tree.roots))
	for _, idx := range c.tree.roots {
		hardware = append(hardware, c.tree.hardware(idx))
	}

	return hardware
}

// StorageReadings extracts temperature and throughput for every storage
// device. The temperature is the sensor with index 0; throughput sensors are
// matched by "Read" and "Write" in their names.
func (c *Context) StorageReadings() []StorageReading {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var readings []StorageReading

	it := c.tree.iter()
	for idx, ok := it.next(); ok; idx, ok = it.next() {
		n := &c.tree.nodes[idx]
		if n.device.Type() != Storage {
			continue
		}

		r := StorageReading{Name: n.device.Name()}
		for _, s := range n.sensors {
			v, ok := s.Reading()
			if !ok {
				continue
			}

			switch {
			case s.Type == Temperature && s.Index == 0:
				r.Temperature = v
			case s.Type == Throughput && strings.Contains(s.Name, "Read"):
				r.ReadRate = v
			case s.Type == Throughput && strings.Contains(s.Name, "Write"):
				r.WriteRate = v
			}
		}
		readings = append(readings, r)
	}

	return readings
}

// DumpSensors renders the whole tree, one line per device and sensor.
func (c *Context) DumpSensors() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.tree.len() == 0 {
		return "No hardware found\n"
	}

	var sb strings.Builder

	it := c.tree.iter()
	for idx, ok := it.next(); ok; idx, ok = it.next() {
		n := &c.tree.nodes[idx]
		indent := strings.Repeat("  ", c.tree.depth(idx))

		fmt.Fprintf(&sb, "%s[%s] %s\n", indent, n.device.Type(), n.device.Name())
		for _, s := range n.sensors {
			value := "-"
			if v, ok := s.Reading(); ok {
				value = fmt.Sprintf("%.2f", v)
			}
			fmt.Fprintf(&sb, "%s  [%s] %s (idx:%d) = %s\n", indent, s.Type, s.Name, s.Index, value)
		}
	}

	return sb.String()
}

// refreshNodes updates every node outside the lock, then publishes the new
// readings. A node whose update fails keeps its previous readings.
func (c *Context) refreshNodes() {
	fresh := make([][]Sensor, c.tree.len())
	updated := make([]bool, c.tree.len())

	it := c.tree.iter()
	for idx, ok := it.next(); ok; idx, ok = it.next() {
		sensors, err := c.updateNode(idx)
		if err != nil {
			c.log.Debug().
				Str("device", c.tree.nodes[idx].device.Name()).
				Err(err).
				Msg("Device update failed, keeping previous readings")
			continue
		}

		fresh[idx] = sensors
		updated[idx] = true
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for idx := range fresh {
		if updated[idx] {
			c.tree.nodes[idx].sensors = fresh[idx]
		}
	}
}

func (c *Context) updateNode(idx int) (sensors []Sensor, err error) {
	errFactory := errors.New()
	dev := c.tree.nodes[idx].device

	defer func() {
		if r := recover(); r != nil {
			sensors = nil
			err = errFactory.WithData(ErrDeviceUpdate, r)
		}
	}()

	if err := dev.Update(); err != nil {
		return nil, errFactory.Wrap(ErrDeviceUpdate, err)
	}

	return append([]Sensor(nil), dev.Sensors()...), nil
}

func (c *Context) notify(tick uint64) {
	c.subMu.Lock()
	subs := append([]subscriber(nil), c.subs...)
	c.subMu.Unlock()

	for _, s := range subs {
		c.call(s, tick)
	}
}

func (c *Context) call(s subscriber, tick uint64) {
	defer func() {
		if r := recover(); r != nil {
			errFactory := errors.New()
			c.log.Debug().
				Err(errFactory.WithData(errors.ErrPollPanic, r)).
				Msg("Hardware subscriber panicked")
		}
	}()

	s.fn(tick)
}
