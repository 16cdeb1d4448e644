package battery

const (
	fullyCharged = "Fully charged"
	calculating  = "Calculating..."
	estimating   = "Estimating..."
)

// Snapshot is the fused battery state. Rate is in W, voltage in V and
// capacities in mWh. Health and TimeRemaining are derived on every poll.
type Snapshot struct {
	HasBattery          bool    `json:"has_battery"`
	ChargeLevel         float64 `json:"charge_level"`
	IsCharging          bool    `json:"is_charging"`
	IsPluggedIn         bool    `json:"is_plugged_in"`
	ChargeDischargeRate float64 `json:"charge_discharge_rate"`
	Voltage             float64 `json:"voltage"`
	DesignedCapacity    float64 `json:"designed_capacity"`
	FullChargeCapacity  float64 `json:"full_charge_capacity"`
	Health              float64 `json:"health"`
	CycleCount          int     `json:"cycle_count"`
	TimeRemaining       string  `json:"time_remaining"`
	StatusText          string  `json:"status_text"`
}

func newSnapshot(hasBattery bool) Snapshot {
	return Snapshot{HasBattery: hasBattery, TimeRemaining: "--", StatusText: "Unknown"}
}
