// Package process ranks process groups by CPU use between two samples of
// the process table.
package process

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"codeberg.org/mutker/traystats/internal/errors"
	"codeberg.org/mutker/traystats/internal/logger"
	"codeberg.org/mutker/traystats/internal/monitor"
)

const (
	// DefaultInterval is the process table sampling period.
	DefaultInterval = 3 * time.Second
	// DefaultTop is how many process groups are kept.
	DefaultTop = 5

	// minElapsed guards against dividing by a near-zero interval.
	minElapsed = 100 * time.Millisecond

	bytesPerMB = 1024 * 1024
)

// pseudoProcesses never appear in the ranking.
var pseudoProcesses = []string{"idle", "system"}

type Config struct {
	Interval time.Duration
	Top      int
	// OwnName is excluded from the ranking. Empty means the running
	// executable's name.
	OwnName string
}

func DefaultConfig() Config {
	return Config{Interval: DefaultInterval, Top: DefaultTop}
}

func (c Config) Validate() error {
	errFactory := errors.New()
	if c.Interval <= 0 {
		return errFactory.WithData(ErrInvalidConfig, "interval must be positive")
	}
	if c.Top <= 0 {
		return errFactory.WithData(ErrInvalidConfig, "top must be positive")
	}
	return nil
}

// Reading is one group of same-named processes. CPUPercent is rounded to one
// decimal, MemoryMB to a whole number.
type Reading struct {
	Name          string  `json:"name"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryMB      float64 `json:"memory_mb"`
	MemoryPercent float64 `json:"memory_percent"`
	InstanceCount int     `json:"instance_count"`
}

type Snapshot struct {
	Top             []Reading `json:"top"`
	TopConsumerName string    `json:"top_consumer_name"`
	TopConsumerCPU  float64   `json:"top_consumer_cpu"`
}

func (s Snapshot) clone() Snapshot {
	s.Top = append([]Reading(nil), s.Top...)
	return s
}

type Monitor struct {
	*monitor.Periodic

	src     Source
	cfg     Config
	now     func() time.Time
	cores   int
	exclude map[string]struct{}

	sampleMu sync.Mutex
	prev     map[int32]Sample
	prevAt   time.Time

	mu   sync.RWMutex
	data Snapshot
}

func New(src Source, cfg Config, log logger.Logger) (*Monitor, error) {
	return newMonitor(src, cfg, time.Now, log)
}

func newMonitor(src Source, cfg Config, now func() time.Time, log logger.Logger) (*Monitor, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	own := cfg.OwnName
	if own == "" {
		own = filepath.Base(os.Args[0])
	}

	exclude := map[string]struct{}{strings.ToLower(own): {}}
	for _, name := range pseudoProcesses {
		exclude[name] = struct{}{}
	}

	m := &Monitor{
		src:     src,
		cfg:     cfg,
		now:     now,
		cores:   max(src.LogicalCount(), 1),
		exclude: exclude,
	}
	m.Periodic = monitor.NewPeriodic(cfg.Interval, m.poll, log).WithBaseline(m.baseline)

	return m, nil
}

func (m *Monitor) Name() string { return "process" }

func (m *Monitor) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.data.clone()
}

func (m *Monitor) baseline() error {
	samples, err := m.src.Processes(context.Background())
	if err != nil {
		return err
	}

	m.sampleMu.Lock()
	defer m.sampleMu.Unlock()

	m.prev = index(samples)
	m.prevAt = m.now()

	return nil
}

func (m *Monitor) poll() error {
	errFactory := errors.New()

	m.sampleMu.Lock()
	defer m.sampleMu.Unlock()

	now := m.now()
	elapsed := now.Sub(m.prevAt)
	if elapsed < minElapsed {
		return nil
	}

	samples, err := m.src.Processes(context.Background())
	if err != nil {
		return errFactory.Wrap(errors.ErrQueryFailed, err)
	}
	// zero leaves memory percentages out
	totalMem, _ := m.src.TotalMemory()

	top := m.rank(samples, elapsed, float64(totalMem)/bytesPerMB)

	m.prev = index(samples)
	m.prevAt = now

	m.mu.Lock()
	defer m.mu.Unlock()

	m.data.Top = top
	if len(top) > 0 {
		m.data.TopConsumerName = top[0].Name
		if top[0].InstanceCount > 1 {
			m.data.TopConsumerName = fmt.Sprintf("%s (%d)", top[0].Name, top[0].InstanceCount)
		}
		m.data.TopConsumerCPU = top[0].CPUPercent
	}

	return nil
}

type group struct {
	name  string
	cpu   float64
	memMB float64
	count int
}

// rank groups samples by case-insensitive name, keeping the first seen
// spelling, and returns the busiest groups.
func (m *Monitor) rank(samples []Sample, elapsed time.Duration, totalMB float64) []Reading {
	groups := make(map[string]*group)
	var order []*group

	for _, s := range samples {
		key := strings.ToLower(s.Name)
		if _, skip := m.exclude[key]; skip {
			continue
		}

		g, ok := groups[key]
		if !ok {
			g = &group{name: s.Name}
			groups[key] = g
			order = append(order, g)
		}

		g.cpu += m.cpuPercent(s, elapsed)
		g.memMB += float64(s.MemBytes) / bytesPerMB
		g.count++
	}

	sort.SliceStable(order, func(i, j int) bool { return order[i].cpu > order[j].cpu })
	if len(order) > m.cfg.Top {
		order = order[:m.cfg.Top]
	}

	top := make([]Reading, len(order))
	for i, g := range order {
		top[i] = Reading{
			Name:          g.name,
			CPUPercent:    round(g.cpu, 1),
			MemoryMB:      round(g.memMB, 0),
			InstanceCount: g.count,
		}
		if totalMB > 0 {
			top[i].MemoryPercent = round(g.memMB/totalMB*100, 1)
		}
	}

	return top
}

// cpuPercent is the share of all logical cores the process used since the
// previous sample, clamped to [0, 100]. A process without a previous sample
// reports 0.
func (m *Monitor) cpuPercent(s Sample, elapsed time.Duration) float64 {
	prev, ok := m.prev[s.PID]
	if !ok || !strings.EqualFold(prev.Name, s.Name) {
		return 0
	}

	pct := float64(s.CPUTime-prev.CPUTime) / float64(elapsed) / float64(m.cores) * 100

	return math.Min(math.Max(pct, 0), 100)
}

func index(samples []Sample) map[int32]Sample {
	byPID := make(map[int32]Sample, len(samples))
	for _, s := range samples {
		byPID[s.PID] = s
	}
	return byPID
}

func round(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}
