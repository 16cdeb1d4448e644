package cpu

type CoreReading struct {
	Index       int     `json:"index"`
	Usage       float64 `json:"usage"`
	Temperature float64 `json:"temperature"`
	Clock       float64 `json:"clock"`
}

// Snapshot is the fused CPU state. Cores has CoreCount entries for the
// lifetime of the monitor.
type Snapshot struct {
	Name         string        `json:"name"`
	TotalLoad    float64       `json:"total_load"`
	Temperature  float64       `json:"temperature"`
	PackagePower float64       `json:"package_power"`
	Clock        float64       `json:"clock"`
	CoreCount    int           `json:"core_count"`
	ThreadCount  int           `json:"thread_count"`
	Cores        []CoreReading `json:"cores"`
}

func (s *Snapshot) clone() Snapshot {
	c := *s
	c.Cores = append([]CoreReading(nil), s.Cores...)
	return c
}
