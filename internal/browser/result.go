package browser

import (
	"component-deployer/internal/component"
	"component-deployer/internal/metrics"
)

// Stats summarises one run.
type Stats struct {
	Pages            int
	Seen             int
	Validated        int
	DroppedWatermark int
	DroppedFresh     int
	DroppedFiltered  int
	// HighWatermark is the largest CreatedAt among validated components, or
	// the incoming watermark when nothing newer was validated.
	HighWatermark int64
}

func (s *Stats) drop(reason string) {
	switch reason {
	case metrics.OutcomeWatermark:
		s.DroppedWatermark++
	case metrics.OutcomeFresh:
		s.DroppedFresh++
	default:
		s.DroppedFiltered++
	}
}

// Result is the partition produced by one run. It is not modified after
// Prepare returns; accessors hand out copies.
type Result struct {
	failures []component.FailedCheck
	toDeploy []*component.Component
	stats    Stats
}

// Failures returns every failed check in page-arrival order.
func (r *Result) Failures() []component.FailedCheck {
	return append([]component.FailedCheck(nil), r.failures...)
}

// ToDeploy returns the components that passed every check, in page-arrival
// order.
func (r *Result) ToDeploy() []*component.Component {
	return append([]*component.Component(nil), r.toDeploy...)
}

// FailedComponents returns each failing component once, in arrival order.
func (r *Result) FailedComponents() []*component.Component {
	seen := make(map[*component.Component]bool, len(r.failures))
	var out []*component.Component
	for _, f := range r.failures {
		if !seen[f.Component] {
			seen[f.Component] = true
			out = append(out, f.Component)
		}
	}
	return out
}

func (r *Result) Stats() Stats { return r.stats }

// Sorted returns a copy of r with both collections ordered by group, name
// and version.
func (r *Result) Sorted() *Result {
	out := &Result{
		failures: r.Failures(),
		toDeploy: r.ToDeploy(),
		stats:    r.stats,
	}
	component.SortFailures(out.failures)
	component.SortComponents(out.toDeploy)
	return out
}
