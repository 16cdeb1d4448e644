package process

import (
	"context"
	"fmt"
	"testing"
	"time"

	"codeberg.org/mutker/traystats/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	samples []Sample
	total   uint64
	cores   int
	err     error
}

func (f *fakeSource) Processes(context.Context) ([]Sample, error) {
	return append([]Sample(nil), f.samples...), f.err
}

func (f *fakeSource) TotalMemory() (uint64, error) { return f.total, nil }
func (f *fakeSource) LogicalCount() int            { return f.cores }

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func setup(t *testing.T, src *fakeSource, cfg Config) (*fakeClock, *Monitor) {
	t.Helper()

	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	cfg.Interval = time.Hour
	cfg.OwnName = "traystats"
	m, err := newMonitor(src, cfg, clock.now, logger.New("process"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	return clock, m
}

func TestRankingAndGrouping(t *testing.T) {
	src := &fakeSource{cores: 2, total: 1000 * bytesPerMB, samples: []Sample{
		{PID: 1, Name: "firefox", CPUTime: ms(0), MemBytes: 100 * bytesPerMB},
		{PID: 2, Name: "Firefox", CPUTime: ms(0), MemBytes: 50 * bytesPerMB},
		{PID: 3, Name: "make", CPUTime: ms(1000)},
		{PID: 4, Name: "traystats", CPUTime: ms(0)},
		{PID: 5, Name: "System", CPUTime: ms(0)},
	}}
	clock, m := setup(t, src, DefaultConfig())
	m.Start()

	src.samples = []Sample{
		{PID: 1, Name: "firefox", CPUTime: ms(600), MemBytes: 100 * bytesPerMB},
		{PID: 2, Name: "Firefox", CPUTime: ms(300), MemBytes: 50 * bytesPerMB},
		{PID: 3, Name: "make", CPUTime: ms(1300)},
		{PID: 4, Name: "traystats", CPUTime: ms(3000)},
		{PID: 5, Name: "System", CPUTime: ms(3000)},
		{PID: 6, Name: "new", CPUTime: ms(5000)},
	}
	clock.advance(3 * time.Second)
	require.True(t, m.Fire())

	s := m.Snapshot()
	require.Len(t, s.Top, 3)

	// (900 ms / 3000 ms / 2 cores) * 100
	assert.Equal(t, Reading{Name: "firefox", CPUPercent: 15, MemoryMB: 150, MemoryPercent: 15, InstanceCount: 2}, s.Top[0])
	assert.Equal(t, "make", s.Top[1].Name)
	assert.InDelta(t, 5.0, s.Top[1].CPUPercent, 1e-9)
	assert.Equal(t, "new", s.Top[2].Name)
	assert.Zero(t, s.Top[2].CPUPercent, "first observation reports 0")

	assert.Equal(t, "firefox (2)", s.TopConsumerName)
	assert.InDelta(t, 15.0, s.TopConsumerCPU, 1e-9)
}

func TestCPUClamped(t *testing.T) {
	src := &fakeSource{cores: 1, samples: []Sample{
		{PID: 1, Name: "spin", CPUTime: ms(0)},
		{PID: 2, Name: "odd", CPUTime: ms(5000)},
	}}
	clock, m := setup(t, src, DefaultConfig())
	m.Start()

	src.samples = []Sample{
		{PID: 1, Name: "spin", CPUTime: ms(9000)},
		{PID: 2, Name: "odd", CPUTime: ms(1000)},
	}
	clock.advance(3 * time.Second)
	require.True(t, m.Fire())

	s := m.Snapshot()
	require.Len(t, s.Top, 2)
	assert.InDelta(t, 100.0, s.Top[0].CPUPercent, 1e-9)
	assert.Zero(t, s.Top[1].CPUPercent)
	assert.Equal(t, "spin", s.TopConsumerName)
}

func TestPIDReuseReportsZero(t *testing.T) {
	src := &fakeSource{cores: 1, samples: []Sample{{PID: 7, Name: "old", CPUTime: ms(100)}}}
	clock, m := setup(t, src, DefaultConfig())
	m.Start()

	src.samples = []Sample{{PID: 7, Name: "other", CPUTime: ms(2000)}}
	clock.advance(3 * time.Second)
	require.True(t, m.Fire())
	assert.Zero(t, m.Snapshot().Top[0].CPUPercent)
}

func TestTopLimit(t *testing.T) {
	src := &fakeSource{cores: 1}
	for i := 0; i < 8; i++ {
		src.samples = append(src.samples, Sample{PID: int32(i), Name: fmt.Sprintf("p%d", i)})
	}
	cfg := DefaultConfig()
	cfg.Top = 3
	clock, m := setup(t, src, cfg)
	m.Start()

	for i := range src.samples {
		src.samples[i].CPUTime = ms(i * 100)
	}
	clock.advance(3 * time.Second)
	require.True(t, m.Fire())

	s := m.Snapshot()
	require.Len(t, s.Top, 3)
	assert.Equal(t, []string{"p7", "p6", "p5"}, []string{s.Top[0].Name, s.Top[1].Name, s.Top[2].Name})
	assert.Zero(t, s.Top[0].MemoryPercent, "no total memory")
}

func TestMinimumElapsedGuard(t *testing.T) {
	src := &fakeSource{cores: 1, samples: []Sample{{PID: 1, Name: "a"}}}
	clock, m := setup(t, src, DefaultConfig())
	m.Start()

	src.samples = []Sample{{PID: 1, Name: "a", CPUTime: ms(50)}}
	clock.advance(50 * time.Millisecond)
	m.Fire()
	assert.Empty(t, m.Snapshot().Top, "too soon after the previous sample")

	clock.advance(50 * time.Millisecond)
	require.True(t, m.Fire())
	require.Len(t, m.Snapshot().Top, 1)
	assert.InDelta(t, 50.0, m.Snapshot().Top[0].CPUPercent, 1e-9)
}

func TestQueryFailureKeepsSnapshot(t *testing.T) {
	src := &fakeSource{cores: 1, samples: []Sample{{PID: 1, Name: "a"}}}
	clock, m := setup(t, src, DefaultConfig())
	m.Start()

	clock.advance(time.Second)
	require.True(t, m.Fire())
	before := m.Snapshot()

	src.err = fmt.Errorf("proc unreadable")
	clock.advance(time.Second)
	assert.False(t, m.Fire())
	assert.Equal(t, before, m.Snapshot())
}

func TestInvalidConfig(t *testing.T) {
	_, err := New(&fakeSource{}, Config{Interval: time.Second}, logger.New("process"))
	require.Error(t, err)
	_, err = New(&fakeSource{}, Config{Top: 5}, logger.New("process"))
	require.Error(t, err)
}
