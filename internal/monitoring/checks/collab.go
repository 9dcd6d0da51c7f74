package checks

import (
	"context"
	"fmt"
	"time"

	"github.com/charlesng35/sectionlock/internal/monitoring"
)

// ChannelProber is implemented by collab.Manager.
type ChannelProber interface {
	Probe(ctx context.Context) error
	ActiveChannels() int
}

// Collab reports whether every live document channel still processes operations.
// A channel that misses the deadline degrades the report.
func Collab(prober ChannelProber, timeout time.Duration) monitoring.Check {
	return monitoring.NewCheck("collab", func(ctx context.Context) monitoring.ProbeResult {
		start := time.Now()
		if prober == nil {
			return monitoring.ProbeResult{
				Status:   monitoring.StatusDown,
				Details:  "collaboration manager not configured",
				Duration: time.Since(start),
			}
		}

		probeCtx, cancel := context.WithTimeout(ctx, chooseTimeout(timeout, time.Second))
		defer cancel()

		if err := prober.Probe(probeCtx); err != nil {
			return monitoring.ProbeResult{
				Status:   monitoring.StatusDegraded,
				Details:  err.Error(),
				Duration: time.Since(start),
			}
		}

		return monitoring.ProbeResult{
			Status:   monitoring.StatusUp,
			Details:  fmt.Sprintf("%d active documents", prober.ActiveChannels()),
			Duration: time.Since(start),
		}
	})
}
