// Package scheduler re-runs dataset harvests on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job is one scheduled unit of work.
type Job func(ctx context.Context) error

// Scheduler runs a job on a six-field (seconds first) cron spec. A run that is
// still going when the next one is due causes that next run to be skipped.
type Scheduler struct {
	cron    *cron.Cron
	spec    string
	job     Job
	logger  *zap.Logger
	timeout time.Duration

	mu      sync.Mutex
	running bool
	runs    int
	lastRun time.Time
	lastErr error
}

// New validates spec and creates a stopped scheduler. timeout bounds a single
// run; zero means no bound.
func New(spec string, job Job, timeout time.Duration, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(spec); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	s := &Scheduler{
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithChain(cron.Recover(cron.DiscardLogger), cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		spec:    spec,
		job:     job,
		logger:  logger,
		timeout: timeout,
	}
	if _, err := s.cron.AddFunc(spec, s.run); err != nil {
		return nil, fmt.Errorf("schedule job: %w", err)
	}
	return s, nil
}

func (s *Scheduler) run() {
	ctx := context.Background()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	runID := uuid.New().String()
	start := time.Now()
	s.logger.Info("scheduled harvest started", zap.String("run_id", runID))
	err := s.job(ctx)

	s.mu.Lock()
	s.runs++
	s.lastRun = start
	s.lastErr = err
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("scheduled harvest failed", zap.String("run_id", runID), zap.Error(err))
		return
	}
	s.logger.Info("scheduled harvest finished", zap.String("run_id", runID), zap.Duration("elapsed", time.Since(start)))
}

// Start begins running the job on schedule.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.cron.Start()
	s.running = true
	s.logger.Info("scheduler started", zap.String("schedule", s.spec))
}

// Stop halts the schedule and waits up to wait for a running job to finish.
func (s *Scheduler) Stop(wait time.Duration) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	ctx := s.cron.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(wait):
		s.logger.Warn("scheduler stop timed out")
	}
}

// Next is the next scheduled run, zero when stopped.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// Runs reports how many runs finished and the error of the last one.
func (s *Scheduler) Runs() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs, s.lastErr
}
