// Package engine wires the hardware provider, every monitor and the rolling
// history together.
package engine

import (
	"sync"
	"time"

	"codeberg.org/mutker/traystats/internal/battery"
	"codeberg.org/mutker/traystats/internal/config"
	"codeberg.org/mutker/traystats/internal/cpu"
	"codeberg.org/mutker/traystats/internal/disk"
	"codeberg.org/mutker/traystats/internal/errors"
	"codeberg.org/mutker/traystats/internal/gpu"
	"codeberg.org/mutker/traystats/internal/history"
	"codeberg.org/mutker/traystats/internal/hwmon"
	"codeberg.org/mutker/traystats/internal/logger"
	"codeberg.org/mutker/traystats/internal/monitor"
	"codeberg.org/mutker/traystats/internal/network"
	"codeberg.org/mutker/traystats/internal/process"
	"codeberg.org/mutker/traystats/internal/ram"
	"codeberg.org/mutker/traystats/internal/uptime"
	"go.uber.org/multierr"
)

// State is a copy of every snapshot taken at one instant.
type State struct {
	Timestamp time.Time                    `json:"timestamp"`
	CPU       cpu.Snapshot                 `json:"cpu"`
	GPU       gpu.Snapshot                 `json:"gpu"`
	RAM       ram.Snapshot                 `json:"ram"`
	Battery   battery.Snapshot             `json:"battery"`
	Disk      disk.Snapshot                `json:"disk"`
	Network   network.Snapshot             `json:"network"`
	Process   process.Snapshot             `json:"process"`
	Uptime    uptime.Snapshot              `json:"uptime"`
	History   map[history.Series][]float64 `json:"history,omitempty"`
}

type Engine struct {
	log      logger.Logger
	provider *hwmon.Context
	history  *history.History

	CPU     *cpu.Monitor
	GPU     *gpu.Monitor
	RAM     *ram.Monitor
	Battery *battery.Monitor
	Disk    *disk.Monitor
	Network *network.Monitor
	Process *process.Monitor
	Uptime  *uptime.Monitor

	monitors []monitor.Monitor
	cancels  []func()
	wg       sync.WaitGroup

	mu      sync.Mutex
	started bool
	closed  bool
}

// New opens the provider and builds every monitor. Nothing polls until
// Start.
func New(cfg *config.Config, src Sources) (*Engine, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	hist, err := history.New(history.Config{Size: cfg.HistorySize})
	if err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	e := &Engine{
		log:      logger.New("engine"),
		provider: hwmon.New(logger.New("hwmon"), cfg.ProviderInterval, src.Backends...),
		history:  hist,
	}

	if err := e.build(cfg, src); err != nil {
		_ = e.provider.Close()
		return nil, errFactory.Wrap(ErrInitMonitor, err)
	}

	return e, nil
}

func (e *Engine) build(cfg *config.Config, src Sources) error {
	var err error

	e.CPU, err = cpu.New(e.provider, src.CPU, cpu.Config{FallbackEvery: cfg.CPUFallbackEvery}, logger.New("cpu"))
	if err != nil {
		return err
	}

	e.GPU, err = gpu.New(e.provider, gpu.Config{
		SwitchMargin:  cfg.GPUSwitchMargin,
		IdleThreshold: cfg.GPUIdleThreshold,
	}, logger.New("gpu"))
	if err != nil {
		return err
	}

	e.RAM = ram.New(e.provider, src.Memory, logger.New("ram"))

	e.Battery, err = battery.New(e.provider, src.Power,
		battery.Config{FullThreshold: cfg.BatteryFullThreshold}, logger.New("battery"))
	if err != nil {
		return err
	}

	e.Disk = disk.New(e.provider, src.Volumes, cfg.DiskInterval, logger.New("disk"))
	e.Network = network.New(src.Network, cfg.NetworkInterval, logger.New("network"))

	e.Process, err = process.New(src.Process, process.Config{
		Interval: cfg.ProcessInterval,
		Top:      cfg.ProcessTop,
	}, logger.New("process"))
	if err != nil {
		return err
	}

	e.Uptime = uptime.New(src.Uptime, cfg.UptimeInterval, logger.New("uptime"))

	e.monitors = []monitor.Monitor{e.CPU, e.GPU, e.RAM, e.Battery, e.Disk, e.Network, e.Process, e.Uptime}

	return nil
}

// Provider returns the hardware provider shared by the monitors.
func (e *Engine) Provider() *hwmon.Context { return e.provider }

// History returns the rolling windows fed by the monitors.
func (e *Engine) History() *history.History { return e.history }

// Monitors returns every monitor in start order.
func (e *Engine) Monitors() []monitor.Monitor {
	return append([]monitor.Monitor(nil), e.monitors...)
}

// Start connects the history, starts every monitor (each polls once) and
// then the provider ticker.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started || e.closed {
		return
	}
	e.started = true

	e.follow(e.CPU, func() { e.record(history.CPULoad, e.CPU.Snapshot().TotalLoad) })
	e.follow(e.GPU, func() { e.record(history.GPULoad, e.GPU.Snapshot().CoreLoad) })
	e.follow(e.RAM, func() { e.record(history.RAMLoad, e.RAM.Snapshot().Load) })
	e.follow(e.Battery, func() { e.record(history.BatteryCharge, e.Battery.Snapshot().ChargeLevel) })
	e.follow(e.Network, func() {
		s := e.Network.Snapshot()
		e.record(history.NetDown, s.DownloadBytesPerSec)
		e.record(history.NetUp, s.UploadBytesPerSec)
	})

	for _, m := range e.monitors {
		m.Start()
		e.log.Debug().Msgf("Monitor %s started", m.Name())
	}

	e.provider.Start()
}

// Stop halts the provider and every monitor. In-flight polls complete.
func (e *Engine) Stop() {
	e.provider.Stop()
	for _, m := range e.monitors {
		m.Stop()
	}
}

// Close stops everything, releases the provider's backends and waits for the
// history followers to drain. It is safe to call more than once.
func (e *Engine) Close() error {
	errFactory := errors.New()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.Stop()

	var err error
	for _, m := range e.monitors {
		err = multierr.Append(err, m.Close())
	}
	err = multierr.Append(err, e.provider.Close())

	for _, cancel := range e.cancels {
		cancel()
	}
	e.wg.Wait()

	if err != nil {
		return errFactory.Wrap(ErrShutdown, err)
	}

	return nil
}

// State returns copies of every snapshot and the history.
func (e *Engine) State() State {
	return State{
		Timestamp: time.Now(),
		CPU:       e.CPU.Snapshot(),
		GPU:       e.GPU.Snapshot(),
		RAM:       e.RAM.Snapshot(),
		Battery:   e.Battery.Snapshot(),
		Disk:      e.Disk.Snapshot(),
		Network:   e.Network.Snapshot(),
		Process:   e.Process.Snapshot(),
		Uptime:    e.Uptime.Snapshot(),
		History:   e.history.All(),
	}
}

// DumpSensors renders the provider's raw sensor tree.
func (e *Engine) DumpSensors() string {
	return e.provider.DumpSensors()
}

// follow runs fn after every update of m until m is closed.
func (e *Engine) follow(m monitor.Monitor, fn func()) {
	ch, cancel := m.Subscribe()
	e.cancels = append(e.cancels, cancel)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for range ch {
			fn()
		}
	}()
}

func (e *Engine) record(series history.Series, v float64) {
	if err := e.history.Record(series, v); err != nil {
		e.log.Debug().Err(err).Msg("History sample dropped")
	}
}
