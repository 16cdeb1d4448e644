package process

import (
	"context"
	"runtime"
	"time"

	"codeberg.org/mutker/traystats/internal/errors"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// Sample is one process as seen at one instant. CPUTime is cumulative user
// plus system time.
type Sample struct {
	PID      int32
	Name     string
	CPUTime  time.Duration
	MemBytes uint64
}

// Source enumerates processes and system facts needed to rank them.
type Source interface {
	Processes(ctx context.Context) ([]Sample, error)
	TotalMemory() (uint64, error)
	LogicalCount() int
}

type osSource struct{}

// NewSource returns a Source backed by gopsutil.
func NewSource() Source {
	return osSource{}
}

// Processes skips processes that exit or deny access while being read.
func (osSource) Processes(ctx context.Context) ([]Sample, error) {
	errFactory := errors.New()

	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrQueryFailed, err)
	}

	samples := make([]Sample, 0, len(procs))
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		times, err := p.TimesWithContext(ctx)
		if err != nil {
			continue
		}

		s := Sample{
			PID:     p.Pid,
			Name:    name,
			CPUTime: time.Duration((times.User + times.System) * float64(time.Second)),
		}
		if info, err := p.MemoryInfoWithContext(ctx); err == nil {
			s.MemBytes = info.RSS
		}

		samples = append(samples, s)
	}

	return samples, nil
}

func (osSource) TotalMemory() (uint64, error) {
	errFactory := errors.New()

	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, errFactory.Wrap(errors.ErrQueryFailed, err)
	}

	return vm.Total, nil
}

func (osSource) LogicalCount() int {
	if n, err := cpu.Counts(true); err == nil && n > 0 {
		return n
	}
	return runtime.NumCPU()
}
