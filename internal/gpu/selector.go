package gpu

import (
	"strings"

	"codeberg.org/mutker/traystats/internal/hwmon"
)

const (
	coreSensor   = "GPU Core"
	memorySensor = "GPU Memory"
	enginePrefix = "D3D"
)

// Candidate is one adapter competing for the active slot.
type Candidate struct {
	ID   string
	Type hwmon.HardwareType
	Load float64
}

// Priority ranks adapter vendors: NVIDIA, then AMD, then Intel, then
// anything else.
func Priority(t hwmon.HardwareType) int {
	switch t {
	case hwmon.GPUNvidia:
		return 3
	case hwmon.GPUAmd:
		return 2
	case hwmon.GPUIntel:
		return 1
	default:
		return 0
	}
}

// CandidateLoad is the adapter's "GPU Core" load, or the busiest 3D engine
// when the core load is missing or zero.
func CandidateLoad(sensors []hwmon.Sensor) float64 {
	var core, engine float64
	haveCore := false

	for _, s := range sensors {
		v, ok := s.Reading()
		if !ok || s.Type != hwmon.Load {
			continue
		}

		switch {
		case s.Name == coreSensor:
			if !haveCore {
				core, haveCore = v, true
			}
		case strings.HasPrefix(s.Name, enginePrefix):
			engine = max(engine, v)
		}
	}

	if core > 0 {
		return core
	}

	return engine
}

// Selector picks the active adapter with hysteresis. It is not safe for
// concurrent use.
type Selector struct {
	SwitchMargin  float64
	IdleThreshold float64

	current string
	active  bool
}

func NewSelector(cfg Config) *Selector {
	return &Selector{SwitchMargin: cfg.SwitchMargin, IdleThreshold: cfg.IdleThreshold}
}

// Current returns the identifier of the active adapter, if any.
func (s *Selector) Current() (string, bool) {
	return s.current, s.active
}

// Select returns the index of the adapter to report and remembers it. It
// returns -1 when there are no candidates.
//
// Without an active adapter, or when the active one disappeared, the busiest
// adapter wins, ties going to the higher vendor priority. Otherwise the
// active adapter is only replaced by the busiest challenger when the
// challenger leads by more than SwitchMargin, or, while both are below
// IdleThreshold, when the challenger has the higher vendor priority.
func (s *Selector) Select(candidates []Candidate) int {
	if len(candidates) == 0 {
		return -1
	}

	cur := -1
	if s.active {
		for i, c := range candidates {
			if c.ID == s.current {
				cur = i
				break
			}
		}
	}

	chosen := cur
	switch {
	case cur < 0:
		chosen = busiest(candidates, -1, true)
	case len(candidates) > 1:
		challenger := busiest(candidates, cur, false)
		if s.shouldSwitch(candidates[cur], candidates[challenger]) {
			chosen = challenger
		}
	}

	s.current = candidates[chosen].ID
	s.active = true

	return chosen
}

func (s *Selector) shouldSwitch(current, challenger Candidate) bool {
	if current.Load < s.IdleThreshold && challenger.Load < s.IdleThreshold {
		return Priority(challenger.Type) > Priority(current.Type)
	}

	return challenger.Load-current.Load > s.SwitchMargin
}

// busiest returns the index of the highest load candidate other than skip.
// Equal loads keep the earlier candidate unless byPriority is set and the
// later one has a higher vendor priority.
func busiest(candidates []Candidate, skip int, byPriority bool) int {
	best := -1
	for i, c := range candidates {
		if i == skip {
			continue
		}

		switch {
		case best < 0, c.Load > candidates[best].Load:
			best = i
		case byPriority && c.Load == candidates[best].Load &&
			Priority(c.Type) > Priority(candidates[best].Type):
			best = i
		}
	}

	return best
}
