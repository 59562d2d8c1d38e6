package task

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"component-deployer/internal/config"
)

// Cleaner prunes old run history.
type Cleaner interface {
	CleanupRuns(ctx context.Context, retentionDays int, now time.Time) (int64, error)
}

const cleanupInterval = time.Hour

// Scheduler triggers every task on its own interval and prunes run history
// once per hour.
type Scheduler struct {
	runner        *Runner
	tasks         []config.TaskConfig
	cleaner       Cleaner
	retentionDays int
	log           zerolog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler. Tasks with no interval only run on
// demand. A nil cleaner or non-positive retention disables pruning.
func NewScheduler(r *Runner, tasks []config.TaskConfig, cleaner Cleaner, retentionDays int, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		runner:        r,
		tasks:         tasks,
		cleaner:       cleaner,
		retentionDays: retentionDays,
		log:           log,
	}
}

// Start begins the background tickers.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	for _, t := range s.tasks {
		if t.IntervalSeconds <= 0 {
			continue
		}
		interval := time.Duration(t.IntervalSeconds) * time.Second
		s.wg.Add(1)
		go s.loop(ctx, interval, func() { s.runTask(ctx, t.Name) })
		s.log.Info().Str("task", t.Name).Dur("interval", interval).Msg("Task scheduled")
	}

	if s.cleaner != nil && s.retentionDays > 0 {
		s.wg.Add(1)
		go s.loop(ctx, cleanupInterval, func() { s.cleanup(ctx) })
	}
}

// Stop halts the tickers and waits for in-flight runs, which see a
// cancelled context.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration, fn func()) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

func (s *Scheduler) runTask(ctx context.Context, name string) {
	_, err := s.runner.Run(ctx, name)
	switch {
	case err == nil:
	case errors.Is(err, ErrTaskRunning):
		s.log.Debug().Str("task", name).Msg("Previous run still in progress, skipping tick")
	case ctx.Err() != nil:
		s.log.Info().Str("task", name).Msg("Run interrupted by shutdown")
	default:
		s.log.Error().Err(err).Str("task", name).Msg("Scheduled run failed")
	}
}

func (s *Scheduler) cleanup(ctx context.Context) {
	n, err := s.cleaner.CleanupRuns(ctx, s.retentionDays, time.Now())
	if err != nil {
		s.log.Error().Err(err).Msg("Run history cleanup failed")
		return
	}
	if n > 0 {
		s.log.Info().Int64("deleted", n).Msg("Pruned run history")
	}
}
