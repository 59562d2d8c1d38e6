package browser

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"component-deployer/internal/component"
	"component-deployer/internal/filter"
	"component-deployer/internal/metrics"
)

// run is the mutable state of one Prepare call.
type run struct {
	browser      *Browser
	task         TaskConfig
	expr         *filter.Expression
	selectorMode bool
	watermark    int64
	cutoff       int64 // components created after this are too fresh
	log          zerolog.Logger
	result       *Result
}

// process admits c through the temporal and predicate filters and validates
// it. Only filter evaluation errors are returned.
func (r *run) process(ctx context.Context, c *component.Component) error {
	r.result.stats.Seen++

	reason, err := r.admit(c)
	if err != nil {
		return err
	}
	if reason != "" {
		r.result.stats.drop(reason)
		r.browser.metrics.ObserveComponent(r.task.Name, reason)
		r.log.Debug().
			Str("component", c.Coordinates()).
			Int64("created", c.CreatedAt).
			Str("reason", reason).
			Msg("Dropped component")
		return nil
	}

	failures := r.validate(ctx, c)
	r.result.stats.Validated++
	if c.CreatedAt > r.result.stats.HighWatermark {
		r.result.stats.HighWatermark = c.CreatedAt
	}

	if len(failures) > 0 {
		r.result.failures = append(r.result.failures, failures...)
		r.browser.metrics.ObserveComponent(r.task.Name, metrics.OutcomeFailed)
		return nil
	}
	r.result.toDeploy = append(r.result.toDeploy, c)
	r.browser.metrics.ObserveComponent(r.task.Name, metrics.OutcomeSelected)
	return nil
}

// admit returns the reason c is dropped, or "" when it should be validated.
// Conditions are checked in order and the first unmet one wins.
func (r *run) admit(c *component.Component) (string, error) {
	if c.CreatedAt <= r.watermark {
		return metrics.OutcomeWatermark, nil
	}
	if c.CreatedAt > r.cutoff {
		return metrics.OutcomeFresh, nil
	}
	if r.selectorMode && !r.expr.MatchCoordinates(c) {
		return metrics.OutcomeFiltered, nil
	}
	ok, err := r.expr.MatchTags(c.Tags)
	if err != nil {
		return "", err
	}
	if !ok {
		return metrics.OutcomeFiltered, nil
	}
	return "", nil
}

// validate runs every check on c and returns the failures they recorded.
func (r *run) validate(ctx context.Context, c *component.Component) []component.FailedCheck {
	var failures []component.FailedCheck
	for _, check := range r.browser.checks {
		sink := &checkSink{check: check.Name(), failures: &failures}
		r.runCheck(ctx, check, c, sink)
	}
	for _, f := range failures {
		r.browser.metrics.ObserveCheckFailure(r.task.Name, f.Check)
		r.log.Info().
			Str("component", f.Component.Coordinates()).
			Str("check", f.Check).
			Str("problem", f.Problem).
			Msg("Check failed")
	}
	return failures
}

func (r *run) runCheck(ctx context.Context, check ValidationCheck, c *component.Component, sink *checkSink) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error().
				Str("component", c.Coordinates()).
				Str("check", check.Name()).
				Interface("panic", rec).
				Msg("Check panicked")
			sink.Fail(c, fmt.Sprintf("program error in check %s: %v", check.Name(), rec))
		}
	}()
	check.Validate(ctx, r.task, c, sink)
}

type checkSink struct {
	check    string
	failures *[]component.FailedCheck
}

func (s *checkSink) Fail(c *component.Component, problem string) {
	*s.failures = append(*s.failures, component.FailedCheck{
		Component: c,
		Check:     s.check,
		Problem:   problem,
	})
}
