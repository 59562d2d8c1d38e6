// Package task runs configured deployment tasks: it feeds the task's run
// state into the browser, records the outcome, publishes a summary and moves
// the watermark forward.
package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"component-deployer/internal/browser"
	"component-deployer/internal/check"
	"component-deployer/internal/config"
	"component-deployer/internal/metrics"
	"component-deployer/internal/notify"
	"component-deployer/internal/runstate"
	"component-deployer/internal/store"
)

var (
	// ErrUnknownTask is returned for a task name that is not configured.
	ErrUnknownTask = errors.New("unknown task")
	// ErrTaskRunning is returned when a run of the same task is in progress.
	ErrTaskRunning = errors.New("task is already running")
)

// History records finished runs.
type History interface {
	RecordRun(ctx context.Context, r store.Run) error
}

// StateStore keeps the per-task watermark.
type StateStore interface {
	Get(task string) (runstate.State, error)
	Advance(task string, watermark int64, runID string, at time.Time) (runstate.State, error)
}

// Publisher delivers run summaries.
type Publisher interface {
	Publish(ctx context.Context, s *notify.RunSummary) error
}

// Deps wires a Runner to its collaborators. Selectors, Assets, Publisher and
// Metrics are optional.
type Deps struct {
	Pager     browser.Pager
	Selectors browser.SelectorResolver
	Assets    check.AssetOpener
	History   History
	States    StateStore
	Publisher Publisher
	Metrics   *metrics.Metrics
	Clock     browser.Clock
	PageSize  int
	Logger    zerolog.Logger
}

// Outcome is what one run produced.
type Outcome struct {
	RunID   string
	Result  *browser.Result // sorted; nil when the run failed
	Summary *notify.RunSummary
	State   runstate.State
}

type entry struct {
	cfg     config.TaskConfig
	browser *browser.Browser
}

// Runner executes configured tasks. Runs of one task never overlap.
type Runner struct {
	deps  Deps
	tasks map[string]*entry
	names []string

	mu      sync.Mutex
	running map[string]bool
}

// NewRunner builds the browser of every task. Invalid check configuration
// fails here rather than at run time.
func NewRunner(tasks []config.TaskConfig, deps Deps) (*Runner, error) {
	if deps.Clock == nil {
		deps.Clock = browser.ClockFunc(time.Now)
	}
	r := &Runner{
		deps:    deps,
		tasks:   make(map[string]*entry, len(tasks)),
		running: make(map[string]bool),
	}
	for _, t := range tasks {
		b, err := r.newBrowser(t.Checks)
		if err != nil {
			return nil, fmt.Errorf("task %s: %w", t.Name, err)
		}
		r.tasks[t.Name] = &entry{cfg: t, browser: b}
		r.names = append(r.names, t.Name)
	}
	return r, nil
}

func (r *Runner) newBrowser(specs []config.CheckConfig) (*browser.Browser, error) {
	checks, err := check.Build(specs, check.Deps{Assets: r.deps.Assets})
	if err != nil {
		return nil, err
	}
	opts := []browser.Option{
		browser.WithClock(r.deps.Clock),
		browser.WithPageSize(r.deps.PageSize),
		browser.WithMetrics(r.deps.Metrics),
	}
	if r.deps.Selectors != nil {
		opts = append(opts, browser.WithSelectorResolver(r.deps.Selectors))
	}
	return browser.New(r.deps.Pager, checks, opts...), nil
}

// Tasks lists configured task names in configuration order.
func (r *Runner) Tasks() []string {
	return append([]string(nil), r.names...)
}

// Task returns the configuration of a task.
func (r *Runner) Task(name string) (config.TaskConfig, bool) {
	e, ok := r.tasks[name]
	if !ok {
		return config.TaskConfig{}, false
	}
	return e.cfg, true
}

func (r *Runner) acquire(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running[name] {
		return false
	}
	r.running[name] = true
	return true
}

func (r *Runner) release(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.running, name)
}

// Run executes task name once. The watermark only advances when the
// selection completed; history and summary failures are logged.
func (r *Runner) Run(ctx context.Context, name string) (*Outcome, error) {
	e, ok := r.tasks[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	if !r.acquire(name) {
		return nil, fmt.Errorf("%w: %s", ErrTaskRunning, name)
	}
	defer r.release(name)

	cfg := e.cfg
	runID := uuid.New().String()
	started := r.deps.Clock.Now()
	log := r.deps.Logger.With().
		Str("task", cfg.Name).
		Str("repository", cfg.Repository).
		Str("run_id", runID).
		Logger()
	ctx = log.WithContext(ctx)

	out := &Outcome{RunID: runID}
	state, err := r.deps.States.Get(cfg.Name)
	if err != nil {
		return nil, fmt.Errorf("load run state: %w", err)
	}
	out.State = state

	res, runErr := e.browser.Prepare(ctx, cfg.Repository, cfg.Filter, browserTask(cfg), browser.RunState{
		Watermark:              state.Watermark,
		FreshnessOffsetMinutes: cfg.FreshnessOffsetMinutes,
	})
	finished := r.deps.Clock.Now()

	summary := &notify.RunSummary{
		RunID:      runID,
		Task:       cfg.Name,
		Repository: cfg.Repository,
		Filter:     cfg.Filter,
		Selector:   cfg.Selector,
		Status:     store.RunSucceeded,
		StartedAt:  started.Unix(),
		FinishedAt: finished.Unix(),
		Watermark:  state.Watermark,
		ToDeploy:   []notify.ComponentRef{},
		Failures:   []notify.Failure{},
	}
	if runErr != nil {
		summary.Status = store.RunFailed
		summary.Error = runErr.Error()
		log.Error().Err(runErr).Msg("Deployment run failed")
	} else {
		res = res.Sorted()
		out.Result = res
		stats := res.Stats()
		summary.Watermark = stats.HighWatermark
		summary.Pages = stats.Pages
		summary.Seen = stats.Seen
		summary.ToDeploy = notify.Refs(res.ToDeploy())
		summary.Failures = notify.Failures(res.Failures())
	}
	out.Summary = summary

	if err := r.deps.History.RecordRun(ctx, runRecord(summary, started, finished)); err != nil {
		log.Error().Err(err).Msg("Failed to record run history")
	}
	if r.deps.Publisher != nil {
		if err := r.deps.Publisher.Publish(ctx, summary); err != nil {
			log.Warn().Err(err).Msg("Run summary was not delivered to every sink")
		}
	}

	r.deps.Metrics.ObserveRun(cfg.Name, summary.Status, finished.Sub(started))
	if runErr != nil {
		return out, runErr
	}

	state, err = r.deps.States.Advance(cfg.Name, summary.Watermark, runID, finished)
	if err != nil {
		return out, fmt.Errorf("advance watermark: %w", err)
	}
	out.State = state
	r.deps.Metrics.SetWatermark(cfg.Name, state.Watermark)

	log.Info().
		Int("to_deploy", len(summary.ToDeploy)).
		Int("failures", len(summary.Failures)).
		Int64("watermark", state.Watermark).
		Dur("duration", finished.Sub(started)).
		Msg("Deployment run finished")
	return out, nil
}

// DryRun selects and validates with an ad hoc task configuration. No state
// is read or written.
func (r *Runner) DryRun(ctx context.Context, cfg config.TaskConfig, watermark int64) (*browser.Result, error) {
	b, err := r.newBrowser(cfg.Checks)
	if err != nil {
		return nil, err
	}
	res, err := b.Prepare(ctx, cfg.Repository, cfg.Filter, browserTask(cfg), browser.RunState{
		Watermark:              watermark,
		FreshnessOffsetMinutes: cfg.FreshnessOffsetMinutes,
	})
	if err != nil {
		return nil, err
	}
	return res.Sorted(), nil
}

func browserTask(cfg config.TaskConfig) browser.TaskConfig {
	return browser.TaskConfig{
		Name:       cfg.Name,
		Repository: cfg.Repository,
		Filter:     cfg.Filter,
		Selector:   cfg.Selector,
		Settings:   cfg.Settings,
	}
}

func runRecord(s *notify.RunSummary, started, finished time.Time) store.Run {
	return store.Run{
		ID:         s.RunID,
		Task:       s.Task,
		Repository: s.Repository,
		Filter:     s.Filter,
		Selector:   s.Selector,
		Status:     s.Status,
		Error:      s.Error,
		Pages:      s.Pages,
		Seen:       s.Seen,
		ToDeploy:   len(s.ToDeploy),
		Failures:   len(s.Failures),
		Watermark:  s.Watermark,
		StartedAt:  started,
		FinishedAt: finished,
	}
}
