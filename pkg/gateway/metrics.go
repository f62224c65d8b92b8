package gateway

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
)

// HostMetrics reads CPU usage and load average from the host the
// control process runs on (the robot's onboard computer).
type HostMetrics struct{}

// ReadSystemMetrics samples CPU percentage and the 1-minute load
// average. A zero sample interval reuses the kernel's counters instead
// of blocking the telemetry tick.
func (HostMetrics) ReadSystemMetrics() (SystemMetrics, error) {
	percents, err := cpu.Percent(0, false)
	if err != nil {
		return SystemMetrics{}, fmt.Errorf("read cpu percent: %w", err)
	}
	if len(percents) == 0 {
		return SystemMetrics{}, fmt.Errorf("read cpu percent: no samples")
	}

	avg, err := load.Avg()
	if err != nil {
		return SystemMetrics{}, fmt.Errorf("read load average: %w", err)
	}

	return SystemMetrics{
		CPUPercent:  percents[0],
		CPULoad1Min: avg.Load1,
	}, nil
}

// Ensure HostMetrics implements MetricsReader
var _ MetricsReader = HostMetrics{}
