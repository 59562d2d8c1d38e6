// Package browser walks the component listing of a repository page by page,
// drops components already handled or still too fresh, applies the filter
// predicates the store cannot evaluate, and runs every validation check on
// what survives.
package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"component-deployer/internal/component"
	"component-deployer/internal/filter"
	"component-deployer/internal/metrics"
)

// DefaultPageSize is the number of components requested per page.
const DefaultPageSize = 100

// ErrSelectorNotFound is returned when the task names a content selector
// that does not resolve.
var ErrSelectorNotFound = errors.New("content selector not found")

// QueryError wraps a listing failure. It aborts the run.
type QueryError struct {
	Page int
	Err  error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("fetch page %d: %v", e.Page, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// Query describes one listing. Where is either a compiled filter fragment
// with named ":param" placeholders, a content selector expression, or empty
// for the full listing.
type Query struct {
	Repository string
	Where      string
	Params     map[string]any
	Selector   string // name of the selector that produced Where, if any
}

// Page is one listing result. An empty Next means the listing is exhausted.
type Page struct {
	Items []*component.Component
	Next  string
}

// Pager lists components in stable key order. cursor is empty on the first
// call and otherwise the Next value of the previous page.
type Pager interface {
	FetchPage(ctx context.Context, q Query, pageSize int, cursor string) (Page, error)
}

// SelectorExpression is a resolved content selector.
type SelectorExpression struct {
	Name       string
	Expression string
}

// SelectorResolver looks up content selectors by name.
type SelectorResolver interface {
	Resolve(ctx context.Context, name string) (*SelectorExpression, bool, error)
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// TaskConfig is the configuration of the task a run belongs to. Settings is
// passed through to checks untouched.
type TaskConfig struct {
	Name       string
	Repository string
	Filter     string
	Selector   string
	Settings   map[string]any
}

// RunState is the caller-owned temporal state of a task.
type RunState struct {
	Watermark              int64 // epoch seconds, 0 when nothing was handled yet
	FreshnessOffsetMinutes int
}

// FailureSink receives the problems a check finds.
type FailureSink interface {
	Fail(c *component.Component, problem string)
}

// ValidationCheck inspects one component and reports problems to the sink.
// A check must not panic; if it does, the panic is recorded as a failure.
type ValidationCheck interface {
	Name() string
	Validate(ctx context.Context, task TaskConfig, c *component.Component, sink FailureSink)
}

// Browser runs the selection pipeline. It is safe for concurrent use; every
// Prepare call keeps its own state.
type Browser struct {
	pager     Pager
	checks    []ValidationCheck
	selectors SelectorResolver
	clock     Clock
	pageSize  int
	metrics   *metrics.Metrics
}

// Option configures a Browser.
type Option func(*Browser)

func WithSelectorResolver(r SelectorResolver) Option {
	return func(b *Browser) { b.selectors = r }
}

func WithClock(c Clock) Option {
	return func(b *Browser) { b.clock = c }
}

// WithPageSize sets the page size. Values below 1 are ignored.
func WithPageSize(n int) Option {
	return func(b *Browser) {
		if n > 0 {
			b.pageSize = n
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Browser) { b.metrics = m }
}

// New creates a Browser over pager with a fixed set of checks.
func New(pager Pager, checks []ValidationCheck, opts ...Option) *Browser {
	b := &Browser{
		pager:    pager,
		checks:   append([]ValidationCheck(nil), checks...),
		clock:    ClockFunc(time.Now),
		pageSize: DefaultPageSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Prepare selects the components of repository matching filterText and
// validates them. Components with at least one failed check end up in
// Failures, the rest in ToDeploy. Parse, selector and listing errors abort
// the run; check problems never do.
//
// The logger is taken from ctx (zerolog.Ctx).
func (b *Browser) Prepare(ctx context.Context, repository, filterText string, task TaskConfig, state RunState) (*Result, error) {
	log := zerolog.Ctx(ctx).With().
		Str("task", task.Name).
		Str("repository", repository).
		Logger()

	var opts []filter.Option
	if state.Watermark > 0 {
		opts = append(opts, filter.WithWatermark(state.Watermark))
	}
	expr, err := filter.Parse(filterText, opts...)
	if err != nil {
		return nil, err
	}

	q, selectorMode, err := b.selectQuery(ctx, repository, expr, task)
	if err != nil {
		return nil, err
	}

	run := &run{
		browser:      b,
		task:         task,
		expr:         expr,
		selectorMode: selectorMode,
		watermark:    state.Watermark,
		cutoff:       b.clock.Now().Add(-time.Duration(state.FreshnessOffsetMinutes) * time.Minute).Unix(),
		log:          log,
		result:       &Result{},
	}
	run.result.stats.HighWatermark = state.Watermark

	log.Info().
		Str("filter", filterText).
		Str("where", q.Where).
		Bool("selector_mode", selectorMode).
		Int64("watermark", state.Watermark).
		Int("freshness_offset_minutes", state.FreshnessOffsetMinutes).
		Msg("Selecting components")

	cursor := ""
	for page := 1; ; page++ {
		// cancellation is only honoured between pages
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		p, err := b.pager.FetchPage(ctx, q, b.pageSize, cursor)
		if err != nil {
			return nil, &QueryError{Page: page, Err: err}
		}
		run.result.stats.Pages++
		b.metrics.ObservePage(task.Name)
		log.Debug().Int("page", page).Int("items", len(p.Items)).Str("next", p.Next).Msg("Fetched page")

		for _, c := range p.Items {
			if err := run.process(ctx, c); err != nil {
				return nil, err
			}
		}

		if p.Next == "" {
			break
		}
		if p.Next == cursor {
			return nil, &QueryError{Page: page, Err: fmt.Errorf("cursor %q did not advance", cursor)}
		}
		cursor = p.Next
	}

	s := run.result.stats
	log.Info().
		Int("pages", s.Pages).
		Int("seen", s.Seen).
		Int("to_deploy", len(run.result.toDeploy)).
		Int("failures", len(run.result.failures)).
		Msg("Selection finished")

	return run.result, nil
}

// selectQuery decides how the listing is narrowed at the source. With a
// content selector the coordinate predicates are evaluated client-side.
func (b *Browser) selectQuery(ctx context.Context, repository string, expr *filter.Expression, task TaskConfig) (Query, bool, error) {
	q := Query{Repository: repository}

	if task.Selector != "" {
		if b.selectors == nil {
			return q, false, fmt.Errorf("%w: %s", ErrSelectorNotFound, task.Selector)
		}
		sel, ok, err := b.selectors.Resolve(ctx, task.Selector)
		if err != nil {
			return q, false, fmt.Errorf("resolve selector %s: %w", task.Selector, err)
		}
		if !ok {
			return q, false, fmt.Errorf("%w: %s", ErrSelectorNotFound, task.Selector)
		}
		q.Where = sel.Expression
		q.Selector = sel.Name
		return q, true, nil
	}

	if expr.HasCoordinateFilters() {
		frag := filter.Compile(expr)
		q.Where = frag.SQL
		q.Params = frag.Params
	}
	return q, false, nil
}
