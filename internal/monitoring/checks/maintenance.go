package checks

import (
	"context"
	"strings"
	"time"

	"github.com/charlesng35/sectionlock/internal/monitoring"
)

const defaultMaintenanceMaxAge = 6 * time.Hour

// JobWindow overrides the staleness window for a single job, for jobs that run
// far more often than the default allows for.
type JobWindow struct {
	Job    string
	MaxAge time.Duration
}

// Maintenance reports down when a job keeps failing and degraded when a job has
// not run within its window. maxAge applies to jobs without a JobWindow; zero
// selects 6h. Jobs that have not run yet are listed but do not fail the check.
func Maintenance(tracker *monitoring.MaintenanceTracker, maxAge time.Duration, windows ...JobWindow) monitoring.Check {
	if maxAge <= 0 {
		maxAge = defaultMaintenanceMaxAge
	}
	perJob := make(map[string]time.Duration, len(windows))
	for _, w := range windows {
		if w.Job != "" && w.MaxAge > 0 {
			perJob[w.Job] = w.MaxAge
		}
	}

	return monitoring.NewCheck("maintenance", func(ctx context.Context) monitoring.ProbeResult {
		start := time.Now()
		jobs := tracker.Jobs()
		if len(jobs) == 0 {
			return monitoring.ProbeResult{
				Status:   monitoring.StatusUp,
				Details:  "no maintenance jobs registered",
				Duration: time.Since(start),
			}
		}

		status := monitoring.StatusUp
		var notes []string
		for _, job := range jobs {
			window, ok := perJob[job.Job]
			if !ok {
				window = maxAge
			}

			switch {
			case job.TotalRuns == 0:
				notes = append(notes, job.Job+": pending first run")
			case job.ConsecutiveFailures > 0:
				status = worstStatus(status, monitoring.StatusDown)
				notes = append(notes, job.Job+": "+failureNote(job))
			case start.Sub(job.LastRunAt) > window:
				status = worstStatus(status, monitoring.StatusDegraded)
				notes = append(notes, job.Job+": last run "+job.LastRunAt.UTC().Format(time.RFC3339))
			}
		}

		return monitoring.ProbeResult{
			Status:   status,
			Details:  strings.Join(notes, "; "),
			Duration: time.Since(start),
		}
	})
}

func failureNote(job monitoring.MaintenanceJobSummary) string {
	if job.LastMessage == "" {
		return "failing"
	}
	return "failing: " + job.LastMessage
}

func worstStatus(current, candidate monitoring.ProbeStatus) monitoring.ProbeStatus {
	if current == monitoring.StatusDown || candidate == monitoring.StatusDown {
		return monitoring.StatusDown
	}
	if current == monitoring.StatusDegraded || candidate == monitoring.StatusDegraded {
		return monitoring.StatusDegraded
	}
	return monitoring.StatusUp
}
