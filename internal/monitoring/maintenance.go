package monitoring

import (
	"sort"
	"sync"
	"time"

	"github.com/charlesng35/sectionlock/pkg/metrics"
)

// MaintenanceJobSummary describes the run history of one background job.
type MaintenanceJobSummary struct {
	Job                 string        `json:"job"`
	TotalRuns           uint64        `json:"total_runs"`
	Failures            uint64        `json:"failures"`
	ConsecutiveFailures uint64        `json:"consecutive_failures"`
	LastResult          string        `json:"last_result"`
	LastMessage         string        `json:"last_message,omitempty"`
	LastRunAt           time.Time     `json:"last_run_at"`
	LastDuration        time.Duration `json:"last_duration"`
}

// MaintenanceTracker records background job outcomes for health evaluation.
type MaintenanceTracker struct {
	mu   sync.Mutex
	jobs map[string]*MaintenanceJobSummary
	now  func() time.Time
}

// NewMaintenanceTracker constructs an empty tracker.
func NewMaintenanceTracker() *MaintenanceTracker {
	return &MaintenanceTracker{
		jobs: make(map[string]*MaintenanceJobSummary),
		now:  time.Now,
	}
}

// Record stores the outcome of one job run. result is "success" or "failure".
func (t *MaintenanceTracker) Record(job, result, message string, duration time.Duration) {
	if t == nil || job == "" {
		return
	}
	metrics.MaintenanceRuns.WithLabelValues(job, result).Inc()

	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.jobs[job]
	if !ok {
		entry = &MaintenanceJobSummary{Job: job}
		t.jobs[job] = entry
	}

	entry.TotalRuns++
	entry.LastResult = result
	entry.LastMessage = message
	entry.LastRunAt = t.now()
	entry.LastDuration = duration
	if result == "success" {
		entry.ConsecutiveFailures = 0
		return
	}
	entry.Failures++
	entry.ConsecutiveFailures++
}

// Jobs returns a copy of every job summary, sorted by job name.
func (t *MaintenanceTracker) Jobs() []MaintenanceJobSummary {
	if t == nil {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]MaintenanceJobSummary, 0, len(t.jobs))
	for _, entry := range t.jobs {
		out = append(out, *entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Job < out[j].Job })
	return out
}
