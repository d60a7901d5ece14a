// Package scheduler runs the periodic maintenance jobs: expiring cache
// entries, idempotency records, idle client buckets and old audit events.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/sirupsen/logrus"
)

// Job is one periodic maintenance task. Run returns the number of items it removed.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) (int, error)
}

// Sweeper schedules maintenance jobs on a gocron scheduler
type Sweeper struct {
	scheduler *gocron.Scheduler
	logger    *logrus.Logger
	timeout   time.Duration
	jobs      []Job

	mu      sync.Mutex
	removed map[string]int64
}

// NewSweeper creates a sweeper. Each job run is bounded by timeout.
func NewSweeper(timeout time.Duration, logger *logrus.Logger) *Sweeper {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	scheduler := gocron.NewScheduler(time.UTC)
	scheduler.WaitForScheduleAll()
	scheduler.SingletonModeAll()

	return &Sweeper{
		scheduler: scheduler,
		logger:    logger,
		timeout:   timeout,
		removed:   make(map[string]int64),
	}
}

// Add registers a job. Jobs with a non-positive interval are skipped.
func (s *Sweeper) Add(job Job) error {
	if job.Interval <= 0 {
		s.logger.WithField("job", job.Name).Debug("Sweep job disabled")
		return nil
	}
	if _, err := s.scheduler.Every(job.Interval).Tag(job.Name).Do(s.runJob, job); err != nil {
		return fmt.Errorf("failed to schedule %s: %w", job.Name, err)
	}
	s.jobs = append(s.jobs, job)
	return nil
}

// Start runs the scheduler in the background
func (s *Sweeper) Start() {
	s.logger.WithField("jobs", len(s.jobs)).Info("Starting maintenance scheduler")
	s.scheduler.StartAsync()
}

// Stop stops the scheduler
func (s *Sweeper) Stop() {
	s.scheduler.Stop()
}

// RunAll runs every registered job once, synchronously
func (s *Sweeper) RunAll() {
	for _, job := range s.jobs {
		s.runJob(job)
	}
}

// Removed returns the number of items each job has removed so far
func (s *Sweeper) Removed() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64, len(s.removed))
	for name, n := range s.removed {
		out[name] = n
	}
	return out
}

func (s *Sweeper) runJob(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	start := time.Now()
	n, err := job.Run(ctx)
	if err != nil {
		s.logger.WithError(err).WithField("job", job.Name).Warn("Sweep job failed")
		return
	}

	s.mu.Lock()
	s.removed[job.Name] += int64(n)
	s.mu.Unlock()

	if n > 0 {
		s.logger.WithFields(logrus.Fields{
			"job":      job.Name,
			"removed":  n,
			"duration": time.Since(start).String(),
		}).Debug("Sweep job completed")
	}
}

// SweepJob expires entries from a cache
func SweepJob(name string, interval time.Duration, cache interface{ Sweep() int }) Job {
	return Job{
		Name:     name,
		Interval: interval,
		Run: func(context.Context) (int, error) {
			return cache.Sweep(), nil
		},
	}
}

// CleanupJob drops expired records from a store with a Cleanup method
func CleanupJob(name string, interval time.Duration, store interface{ Cleanup() int }) Job {
	return Job{
		Name:     name,
		Interval: interval,
		Run: func(context.Context) (int, error) {
			return store.Cleanup(), nil
		},
	}
}

// Pruner deletes persisted records older than a cutoff
type Pruner interface {
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// RetentionJob deletes records older than retention. A zero retention disables it.
func RetentionJob(name string, interval, retention time.Duration, store Pruner) Job {
	if retention <= 0 {
		interval = 0
	}
	return Job{
		Name:     name,
		Interval: interval,
		Run: func(ctx context.Context) (int, error) {
			n, err := store.DeleteBefore(ctx, time.Now().UTC().Add(-retention))
			return int(n), err
		},
	}
}
