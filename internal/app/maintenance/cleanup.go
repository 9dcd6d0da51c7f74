package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/sectionlock/internal/monitoring"
	"github.com/charlesng35/sectionlock/pkg/logger"
)

const (
	JobIdleLockSweep    = "idle_lock_sweep"
	JobHistoryRetention = "history_retention"

	defaultRetentionDays = 30
	defaultSweepSpec     = "@every 30s"
	defaultRetentionSpec = "@daily"
)

// LockExpirer releases section locks that have been idle longer than maxIdle.
type LockExpirer interface {
	ExpireIdle(ctx context.Context, maxIdle time.Duration) (int, error)
}

// HistoryPruner deletes lock history recorded before cutoff.
type HistoryPruner interface {
	CleanupOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Cleaner coordinates background maintenance: sweeping idle section locks and
// pruning old lock history.
type Cleaner struct {
	locks   LockExpirer
	history HistoryPruner
	tracker *monitoring.MaintenanceTracker
	cron    *cron.Cron
	now     func() time.Time
	log     *zap.Logger

	idleTimeout   time.Duration
	retentionDays int

	sweepSchedule     string
	retentionSchedule string
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithNow overrides the clock used for retention cutoffs.
func WithNow(now func() time.Time) Option {
	return func(cleaner *Cleaner) {
		if now != nil {
			cleaner.now = now
		}
	}
}

// WithIdleLockTimeout enables the idle lock sweep. Zero leaves it disabled.
func WithIdleLockTimeout(d time.Duration) Option {
	return func(cleaner *Cleaner) {
		if d > 0 {
			cleaner.idleTimeout = d
		}
	}
}

// WithHistoryRetentionDays adjusts how long lock history is kept.
func WithHistoryRetentionDays(days int) Option {
	return func(cleaner *Cleaner) {
		if days > 0 {
			cleaner.retentionDays = days
		}
	}
}

// WithSweepSchedule overrides the cron specification for the idle lock sweep.
func WithSweepSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.sweepSchedule = spec
		}
	}
}

// WithRetentionSchedule overrides the cron specification for history pruning.
func WithRetentionSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.retentionSchedule = spec
		}
	}
}

// WithTracker records job outcomes for the maintenance health check.
func WithTracker(t *monitoring.MaintenanceTracker) Option {
	return func(cleaner *Cleaner) {
		cleaner.tracker = t
	}
}

// NewCleaner constructs a Cleaner. A nil dependency skips the corresponding job.
func NewCleaner(locks LockExpirer, history HistoryPruner, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		locks:             locks,
		history:           history,
		now:               time.Now,
		retentionDays:     defaultRetentionDays,
		sweepSchedule:     defaultSweepSpec,
		retentionSchedule: defaultRetentionSpec,
		log:               logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return cleaner
}

func (c *Cleaner) sweepEnabled() bool {
	return c.locks != nil && c.idleTimeout > 0
}

func (c *Cleaner) retentionEnabled() bool {
	return c.history != nil && c.retentionDays > 0
}

// Start registers the enabled jobs with the cron scheduler and launches it.
func (c *Cleaner) Start() error {
	if !c.sweepEnabled() && !c.retentionEnabled() {
		return nil
	}

	if c.sweepEnabled() {
		if _, err := c.cron.AddFunc(c.sweepSchedule, func() {
			_ = c.run(context.Background(), JobIdleLockSweep, c.sweepIdleLocks)
		}); err != nil {
			return fmt.Errorf("maintenance: schedule %s: %w", JobIdleLockSweep, err)
		}
	}

	if c.retentionEnabled() {
		if _, err := c.cron.AddFunc(c.retentionSchedule, func() {
			_ = c.run(context.Background(), JobHistoryRetention, c.pruneHistory)
		}); err != nil {
			return fmt.Errorf("maintenance: schedule %s: %w", JobHistoryRetention, err)
		}
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes every enabled job sequentially and aggregates their errors.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error
	if c.sweepEnabled() {
		errs = multierr.Append(errs, c.run(ctx, JobIdleLockSweep, c.sweepIdleLocks))
	}
	if c.retentionEnabled() {
		errs = multierr.Append(errs, c.run(ctx, JobHistoryRetention, c.pruneHistory))
	}
	return errs
}

func (c *Cleaner) run(ctx context.Context, job string, fn func(context.Context) error) error {
	start := time.Now()
	err := fn(ctx)
	duration := time.Since(start)

	if err != nil {
		c.log.Warn("maintenance job failed", zap.String("job", job), zap.Error(err))
		c.tracker.Record(job, "failure", err.Error(), duration)
		return err
	}
	c.tracker.Record(job, "success", "", duration)
	return nil
}

func (c *Cleaner) sweepIdleLocks(ctx context.Context) error {
	released, err := c.locks.ExpireIdle(ctx, c.idleTimeout)
	if err != nil {
		return fmt.Errorf("expire idle locks: %w", err)
	}
	if released > 0 {
		c.log.Info("released idle section locks", zap.Int("count", released))
	}
	return nil
}

func (c *Cleaner) pruneHistory(ctx context.Context) error {
	cutoff := c.now().AddDate(0, 0, -c.retentionDays)
	removed, err := c.history.CleanupOlderThan(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("prune lock history: %w", err)
	}
	if removed > 0 {
		c.log.Info("pruned lock history", zap.Int64("rows", removed), zap.Time("cutoff", cutoff))
	}
	return nil
}
