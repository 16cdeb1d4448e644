package gpu

// Snapshot is the fused state of the active adapter. Clocks are in MHz,
// memory in MB, power in W.
type Snapshot struct {
	Name        string  `json:"name"`
	CoreLoad    float64 `json:"core_load"`
	Temperature float64 `json:"temperature"`
	CoreClock   float64 `json:"core_clock"`
	MemoryClock float64 `json:"memory_clock"`
	FanSpeed    float64 `json:"fan_speed"`
	FanPercent  float64 `json:"fan_percent"`
	MemoryUsed  float64 `json:"memory_used"`
	MemoryTotal float64 `json:"memory_total"`
	MemoryLoad  float64 `json:"memory_load"`
	Power       float64 `json:"power"`
}

// reset zeroes every reading so a field the new adapter lacks cannot keep a
// value from the previous one.
func (s *Snapshot) reset(name string) {
	*s = Snapshot{Name: name}
}
