// Package history keeps short rolling windows of headline metrics for
// sparkline charts and tray icons.
package history

import (
	"math"
	"sync"

	"codeberg.org/mutker/traystats/internal/errors"
)

// Series names one recorded metric.
type Series string

const (
	CPULoad       Series = "cpu_load"
	GPULoad       Series = "gpu_load"
	RAMLoad       Series = "ram_load"
	NetDown       Series = "net_down"
	NetUp         Series = "net_up"
	BatteryCharge Series = "battery_charge"
)

// AllSeries lists every series in display order.
var AllSeries = []Series{CPULoad, GPULoad, RAMLoad, NetDown, NetUp, BatteryCharge}

// Recorder accepts samples for a fixed set of series.
type Recorder interface {
	Record(series Series, value float64) error
	Values(series Series) []float64
}

type History struct {
	mu     sync.RWMutex
	series map[Series]*Ring
}

// New returns a history with one ring of cfg.Size points per series. With no
// series given, AllSeries are kept.
func New(cfg Config, series ...Series) (*History, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}
	if len(series) == 0 {
		series = AllSeries
	}

	h := &History{series: make(map[Series]*Ring, len(series))}
	for _, s := range series {
		h.series[s] = NewRing(cfg.Size)
	}

	return h, nil
}

func (h *History) Record(series Series, value float64) error {
	errFactory := errors.New()

	if math.IsNaN(value) || math.IsInf(value, 0) {
		return errFactory.WithData(ErrInvalidSample, string(series))
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.series[series]
	if !ok {
		return errFactory.WithData(ErrUnknownSeries, string(series))
	}
	r.Push(value)

	return nil
}

// Values returns the series oldest to newest, or nil for an unknown series.
func (h *History) Values(series Series) []float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	r, ok := h.series[series]
	if !ok {
		return nil
	}
	return r.Values()
}

// All returns a copy of every series.
func (h *History) All() map[Series][]float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make(map[Series][]float64, len(h.series))
	for s, r := range h.series {
		out[s] = r.Values()
	}
	return out
}
