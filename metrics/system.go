package metrics

import (
	"runtime"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/teranos/marketpulse/errors"
)

// SystemSample is a point-in-time view of host resources
type SystemSample struct {
	MemoryTotal     uint64
	MemoryUsed      uint64
	MemoryAvailable uint64
	Goroutines      int
}

// SampleSystem reads host memory and this process's goroutine count
func SampleSystem() (SystemSample, error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return SystemSample{}, errors.Wrap(err, "failed to get memory stats")
	}
	return SystemSample{
		MemoryTotal:     v.Total,
		MemoryUsed:      v.Used,
		MemoryAvailable: v.Available,
		Goroutines:      runtime.NumGoroutine(),
	}, nil
}

// Fields renders s as structured log fields
func (s SystemSample) Fields() []any {
	return []any{
		"memory_used_mb", s.MemoryUsed / (1024 * 1024),
		"memory_available_mb", s.MemoryAvailable / (1024 * 1024),
		"goroutines", s.Goroutines,
	}
}
