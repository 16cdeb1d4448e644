package battery

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/mutker/traystats/internal/hwmon"
	"codeberg.org/mutker/traystats/internal/hwmon/hwmontest"
	"codeberg.org/mutker/traystats/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStatus struct {
	st  PowerStatus
	err error
}

func (f *fakeStatus) PowerStatus() (PowerStatus, error) { return f.st, f.err }

func v(t hwmon.SensorType, name string, value float64) hwmon.Sensor {
	return hwmontest.Value(t, name, 0, value)
}

func setup(t *testing.T, status StatusSource, sensors ...hwmon.Sensor) (*hwmon.Context, *hwmontest.Device, *Monitor) {
	t.Helper()

	dev := hwmontest.NewDevice("/battery/BAT0", hwmon.Battery, "BAT0", sensors...)
	ctx := hwmon.New(logger.New("test"), time.Hour, hwmontest.NewBackend("battery", dev))
	t.Cleanup(func() { _ = ctx.Close() })

	m, err := New(ctx, status, DefaultConfig(), logger.New("battery"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	return ctx, dev, m
}

func TestChargingTimeToFull(t *testing.T) {
	status := &fakeStatus{st: PowerStatus{ACOnline: true, Charging: true, LifePercent: 80, LifeTimeSeconds: -1}}
	_, _, m := setup(t, status,
		v(hwmon.Level, "Charge Level", 80),
		v(hwmon.Power, "Charge Rate", 15),
		v(hwmon.Energy, "Full Charged Capacity", 50000),
		v(hwmon.Energy, "Designed Capacity", 62500),
		v(hwmon.Factor, "Cycle Count", 312),
	)
	m.Start()

	s := m.Snapshot()
	assert.True(t, s.HasBattery)
	assert.True(t, s.IsCharging)
	assert.True(t, s.IsPluggedIn)
	assert.Equal(t, "40m to full", s.TimeRemaining)
	assert.Equal(t, "Charging", s.StatusText)
	assert.InDelta(t, 15.0, s.ChargeDischargeRate, 1e-9)
	assert.InDelta(t, 80.0, s.Health, 1e-9)
	assert.Equal(t, 312, s.CycleCount)
}

func TestFullyChargedThreshold(t *testing.T) {
	tests := []struct {
		level   float64
		plugged bool
		want    bool
	}{
		{99.5, true, true},
		{100, true, true},
		{99.4, true, false},
		{100, false, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%v/%t", tt.level, tt.plugged), func(t *testing.T) {
			status := &fakeStatus{st: PowerStatus{ACOnline: tt.plugged, LifePercent: 255, LifeTimeSeconds: -1}}
			_, _, m := setup(t, status, v(hwmon.Level, "Charge Level", tt.level))
			m.Start()

			s := m.Snapshot()
			assert.Equal(t, tt.want, s.TimeRemaining == "Fully charged", s.TimeRemaining)
			assert.Equal(t, tt.want, s.StatusText == "Full")
		})
	}
}

func TestRateFallbacks(t *testing.T) {
	status := &fakeStatus{st: PowerStatus{LifePercent: 255, LifeTimeSeconds: -1}}

	_, _, m := setup(t, status, v(hwmon.Current, "Discharge Current", 1.5), v(hwmon.Voltage, "Voltage", 12))
	m.Start()
	assert.InDelta(t, 18.0, m.Snapshot().ChargeDischargeRate, 1e-9)

	_, _, m = setup(t, status, v(hwmon.Current, "Discharge Current", 1.5))
	m.Start()
	assert.InDelta(t, 1.5, m.Snapshot().ChargeDischargeRate, 1e-9)

	_, _, m = setup(t, status,
		v(hwmon.Current, "Discharge Current", 1.5), v(hwmon.Voltage, "Voltage", 12), v(hwmon.Power, "Discharge Rate", 9))
	m.Start()
	assert.InDelta(t, 9.0, m.Snapshot().ChargeDischargeRate, 1e-9)
}

func TestDischargingUsesOSLifeTime(t *testing.T) {
	status := &fakeStatus{st: PowerStatus{LifePercent: 55, LifeTimeSeconds: 2*3600 + 15*60 + 30}}
	_, _, m := setup(t, status, v(hwmon.Level, "Charge Level", 55))
	m.Start()

	s := m.Snapshot()
	assert.Equal(t, "2h 15m remaining", s.TimeRemaining)
	assert.Equal(t, "Discharging", s.StatusText)
	assert.False(t, s.IsPluggedIn)
}

func TestEstimatingTexts(t *testing.T) {
	status := &fakeStatus{st: PowerStatus{LifePercent: 255, LifeTimeSeconds: -1}}
	ctx, _, m := setup(t, status, v(hwmon.Level, "Charge Level", 60))
	m.Start()
	assert.Equal(t, "Estimating...", m.Snapshot().TimeRemaining)
	assert.Equal(t, "On battery", m.Snapshot().StatusText)

	status.st.ACOnline = true
	ctx.Refresh()
	assert.Equal(t, "Calculating...", m.Snapshot().TimeRemaining)
	assert.Equal(t, "Plugged in", m.Snapshot().StatusText)

	// charging without a usable rate
	status.st.Charging = true
	ctx.Refresh()
	assert.Equal(t, "Calculating...", m.Snapshot().TimeRemaining)
	assert.Equal(t, "Charging", m.Snapshot().StatusText)
}

func TestChargeLevelFromOS(t *testing.T) {
	status := &fakeStatus{st: PowerStatus{LifePercent: 42, LifeTimeSeconds: -1}}
	ctx, dev, m := setup(t, status, v(hwmon.Level, "Charge Level", 0))
	m.Start()
	assert.InDelta(t, 42.0, m.Snapshot().ChargeLevel, 1e-9)

	// unknown OS level with a missing sensor keeps the last value
	status.st.LifePercent = UnknownPercent
	dev.SetSensors(hwmontest.Missing(hwmon.Level, "Charge Level", 0))
	ctx.Refresh()
	assert.InDelta(t, 42.0, m.Snapshot().ChargeLevel, 1e-9)
}

func TestStatusFailureStillFusesSensors(t *testing.T) {
	status := &fakeStatus{err: fmt.Errorf("no power supplies")}
	_, _, m := setup(t, status,
		v(hwmon.Level, "Charge Level", 70),
		v(hwmon.Energy, "Designed Capacity", 50000),
		v(hwmon.Energy, "Full Charged Capacity", 45000),
	)

	ch, cancel := m.Subscribe()
	defer cancel()
	m.Start()

	s := m.Snapshot()
	assert.InDelta(t, 70.0, s.ChargeLevel, 1e-9)
	assert.InDelta(t, 90.0, s.Health, 1e-9)
	assert.Equal(t, "--", s.TimeRemaining)
	assert.Equal(t, "Unknown", s.StatusText)
	<-ch
}

func TestHealthNotExtrapolated(t *testing.T) {
	status := &fakeStatus{st: PowerStatus{LifePercent: 255, LifeTimeSeconds: -1}}
	_, _, m := setup(t, status, v(hwmon.Energy, "Full Charged Capacity", 45000))
	m.Start()
	assert.Zero(t, m.Snapshot().Health)
}

func TestNoBatteryIsInert(t *testing.T) {
	cpu := hwmontest.NewDevice("/cpu/0", hwmon.CPU, "CPU")
	ctx := hwmon.New(logger.New("test"), time.Hour, hwmontest.NewBackend("cpu", cpu))
	defer ctx.Close()

	status := &fakeStatus{st: PowerStatus{ACOnline: true, LifePercent: 50}}
	m, err := New(ctx, status, DefaultConfig(), logger.New("battery"))
	require.NoError(t, err)
	defer m.Close()

	ch, cancel := m.Subscribe()
	defer cancel()

	m.Start()
	ctx.Refresh()

	assert.False(t, m.HasBattery())
	assert.Equal(t, newSnapshot(false), m.Snapshot())
	select {
	case <-ch:
		t.Fatal("inert monitor must not notify")
	default:
	}
}

func TestMinutesToFull(t *testing.T) {
	tests := []struct {
		name        string
		full, level float64
		rate        float64
		want        int
		ok          bool
	}{
		{"fifty Wh at fifteen W", 50000, 80, 15, 40, true},
		{"hours", 60000, 10, 20, 162, true},
		{"no rate", 50000, 80, 0, 0, false},
		{"no capacity", 0, 80, 15, 0, false},
		{"full", 50000, 100, 15, 0, false},
		{"under a minute", 50000, 99.9, 50, 0, false},
		{"over a day", 100000, 0, 0.05, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := minutesToFull(tt.full, tt.level, tt.rate)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDurationText(t *testing.T) {
	assert.Equal(t, "40m to full", durationText(40, "to full"))
	assert.Equal(t, "1h 0m remaining", durationText(60, "remaining"))
	assert.Equal(t, "2h 42m to full", durationText(162, "to full"))
}

func TestInvalidConfig(t *testing.T) {
	ctx := hwmon.New(logger.New("test"), time.Hour)
	defer ctx.Close()

	_, err := New(ctx, &fakeStatus{}, Config{FullThreshold: 0}, logger.New("battery"))
	require.Error(t, err)
	_, err = New(ctx, &fakeStatus{}, Config{FullThreshold: 101}, logger.New("battery"))
	require.Error(t, err)
}

func writeSupply(t *testing.T, root string, files map[string]string) {
	t.Helper()

	for name, content := range files {
		path := filepath.Join(root, "class/power_supply", name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content+"\n"), 0o600))
	}
}

func TestSysFSStatusDischarging(t *testing.T) {
	root := t.TempDir()
	writeSupply(t, root, map[string]string{
		"AC/type":          "Mains",
		"AC/online":        "0",
		"BAT0/type":        "Battery",
		"BAT0/status":      "Discharging",
		"BAT0/capacity":    "64",
		"BAT0/energy_now":  "30000000",
		"BAT0/power_now":   "12000000",
		"hidpp_0/type":     "Battery",
		"hidpp_0/scope":    "Device",
		"hidpp_0/capacity": "5",
	})

	st, err := NewStatusSource(hwmon.SysFS{Root: root}).PowerStatus()
	require.NoError(t, err)
	assert.False(t, st.ACOnline)
	assert.False(t, st.Charging)
	assert.Equal(t, uint8(64), st.LifePercent)
	assert.Equal(t, 9000, st.LifeTimeSeconds)
}

func TestSysFSStatusCharging(t *testing.T) {
	root := t.TempDir()
	writeSupply(t, root, map[string]string{
		"ADP1/type":     "Mains",
		"ADP1/online":   "1",
		"BAT1/type":     "Battery",
		"BAT1/status":   "Charging",
		"BAT1/capacity": "80",
	})

	st, err := NewStatusSource(hwmon.SysFS{Root: root}).PowerStatus()
	require.NoError(t, err)
	assert.True(t, st.ACOnline)
	assert.True(t, st.Charging)
	assert.Equal(t, uint8(80), st.LifePercent)
	assert.Equal(t, UnknownLifeTime, st.LifeTimeSeconds)
}

func TestSysFSStatusWithoutSupplies(t *testing.T) {
	st, err := NewStatusSource(hwmon.SysFS{Root: t.TempDir()}).PowerStatus()
	require.Error(t, err)
	assert.Equal(t, uint8(UnknownPercent), st.LifePercent)
}
