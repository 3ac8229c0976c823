package maintenance

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/platinummonkey/webcompile/pkg/compilation/cache"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Task is one housekeeping step; it returns how many items it removed
type Task func(ctx context.Context) (int, error)

// Reporter receives job outcomes, typically observability.Metrics
type Reporter interface {
	SweepFinished(job string, removed int)
}

type noopReporter struct{}

func (noopReporter) SweepFinished(string, int) {}

// Scheduler runs housekeeping jobs over the codegen directory on cron
// schedules. A job still running when its next tick fires is skipped.
type Scheduler struct {
	cron     *cron.Cron
	logger   *logrus.Logger
	reporter Reporter

	mu    sync.Mutex
	tasks map[string]Task
}

// New creates a scheduler. A nil reporter discards outcomes.
func New(logger *logrus.Logger, reporter Reporter) *Scheduler {
	if logger == nil {
		logger = logrus.New()
	}
	if reporter == nil {
		reporter = noopReporter{}
	}
	cronLogger := cron.PrintfLogger(logger)
	return &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.Recover(cronLogger),
			cron.SkipIfStillRunning(cronLogger),
		)),
		logger:   logger,
		reporter: reporter,
		tasks:    make(map[string]Task),
	}
}

// Add schedules a named task. schedule uses the standard five field cron
// syntax or a descriptor such as "@every 5m".
func (s *Scheduler) Add(name, schedule string, task Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[name]; exists {
		return fmt.Errorf("job %s already scheduled", name)
	}
	if _, err := s.cron.AddFunc(schedule, func() {
		_, _ = s.run(context.Background(), name, task)
	}); err != nil {
		return fmt.Errorf("failed to schedule %s: %w", name, err)
	}
	s.tasks[name] = task

	s.logger.WithFields(logrus.Fields{
		"job":      name,
		"schedule": schedule,
	}).Info("Scheduled maintenance job")
	return nil
}

// RunNow runs a scheduled task immediately
func (s *Scheduler) RunNow(ctx context.Context, name string) (int, error) {
	s.mu.Lock()
	task, ok := s.tasks[name]
	s.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("unknown job %s", name)
	}
	return s.run(ctx, name, task)
}

// Jobs returns the scheduled job names
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Scheduler) run(ctx context.Context, name string, task Task) (int, error) {
	start := time.Now()
	removed, err := task(ctx)
	log := s.logger.WithFields(logrus.Fields{
		"job":      name,
		"removed":  removed,
		"duration": time.Since(start),
	})
	if err != nil {
		log.WithError(err).Warn("Maintenance job failed")
	} else if removed > 0 {
		log.Info("Maintenance job completed")
	}
	s.reporter.SweepFinished(name, removed)
	return removed, err
}

// Start starts the cron scheduler in the background
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops scheduling; the returned context is done once running jobs finish
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// SweepDeleteMarkers retries deletions the disk tier could not complete
// because a file was locked
func SweepDeleteMarkers(tier *cache.DiskTier) Task {
	return func(context.Context) (int, error) {
		return tier.SweepDeleteMarkers()
	}
}

// RemoveTempFiles removes abandoned temporary files older than maxAge
func RemoveTempFiles(tier *cache.DiskTier, maxAge time.Duration) Task {
	return func(context.Context) (int, error) {
		return tier.RemoveOldTempFiles(maxAge)
	}
}

// Cleaner removes records older than a cutoff, such as history.Store
type Cleaner interface {
	Cleanup(ctx context.Context, cutoff time.Time) (int64, error)
}

// PruneHistory removes build records older than retention
func PruneHistory(c Cleaner, retention time.Duration) Task {
	return func(ctx context.Context) (int, error) {
		n, err := c.Cleanup(ctx, time.Now().Add(-retention))
		return int(n), err
	}
}
