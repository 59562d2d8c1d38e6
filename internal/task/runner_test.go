package task

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"component-deployer/internal/browser"
	"component-deployer/internal/component"
	"component-deployer/internal/config"
	"component-deployer/internal/notify"
	"component-deployer/internal/notify/sink"
	"component-deployer/internal/runstate"
	"component-deployer/internal/store"
)

type staticPager struct {
	mu    sync.Mutex
	items []*component.Component
	err   error
	calls int
}

func (p *staticPager) FetchPage(_ context.Context, _ browser.Query, _ int, _ string) (browser.Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return browser.Page{}, p.err
	}
	return browser.Page{Items: p.items}, nil
}

type memHistory struct {
	mu   sync.Mutex
	runs []store.Run
}

func (h *memHistory) RecordRun(_ context.Context, r store.Run) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.runs = append(h.runs, r)
	return nil
}

func (h *memHistory) snapshot() []store.Run {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]store.Run(nil), h.runs...)
}

type fixture struct {
	pager   *staticPager
	history *memHistory
	states  *runstate.Store
	sink    *sink.MockSink
	deps    Deps
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	states, err := runstate.Open(filepath.Join(t.TempDir(), "runstate"))
	require.NoError(t, err)
	t.Cleanup(func() { states.Close() })

	mock := &sink.MockSink{}
	n, err := notify.New(nil, zerolog.Nop(), nil)
	require.NoError(t, err)
	n.Add("mock", "", notify.FormatMsgpack, mock)

	f := &fixture{
		pager: &staticPager{items: []*component.Component{
			{Group: "g", Name: "web", Version: "1", CreatedAt: 300, Repository: "main"},
			{Group: "g", Name: "api", Version: "1", CreatedAt: 100, Repository: "main", Tags: []component.Tag{{Name: "release"}}},
			{Group: "g", Name: "bad", Version: "1", CreatedAt: 200, Repository: "main"},
		}},
		history: &memHistory{},
		states:  states,
		sink:    mock,
	}
	f.deps = Deps{
		Pager:     f.pager,
		History:   f.history,
		States:    states,
		Publisher: n,
		Clock:     browser.ClockFunc(func() time.Time { return time.Unix(10_000, 0) }),
		Logger:    zerolog.Nop(),
	}
	return f
}

func nightly(checks ...config.CheckConfig) config.TaskConfig {
	return config.TaskConfig{Name: "nightly", Repository: "main", Checks: checks}
}

func TestRunAdvancesWatermark(t *testing.T) {
	f := newFixture(t)
	r, err := NewRunner([]config.TaskConfig{nightly()}, f.deps)
	require.NoError(t, err)

	out, err := r.Run(context.Background(), "nightly")
	require.NoError(t, err)
	require.NotNil(t, out.Result)
	assert.Equal(t, int64(300), out.State.Watermark)
	assert.Equal(t, out.RunID, out.State.LastRunID)

	names := []string{}
	for _, c := range out.Result.ToDeploy() {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"api", "bad", "web"}, names)

	runs := f.history.snapshot()
	require.Len(t, runs, 1)
	assert.Equal(t, store.RunSucceeded, runs[0].Status)
	assert.Equal(t, 3, runs[0].ToDeploy)
	assert.Equal(t, int64(300), runs[0].Watermark)

	msgs := f.sink.Snapshot()
	require.Len(t, msgs, 1)
	assert.Equal(t, "nightly", msgs[0].Key)
	summary, err := notify.DecodeSummary(notify.FormatMsgpack, msgs[0].Value)
	require.NoError(t, err)
	assert.Equal(t, out.RunID, summary.RunID)
	assert.Len(t, summary.ToDeploy, 3)

	// everything is at or below the watermark now
	out, err = r.Run(context.Background(), "nightly")
	require.NoError(t, err)
	assert.Empty(t, out.Result.ToDeploy())
	assert.Equal(t, int64(300), out.State.Watermark)
	assert.Equal(t, 3, out.Result.Stats().DroppedWatermark)
}

func TestRunWithFailedChecks(t *testing.T) {
	f := newFixture(t)
	r, err := NewRunner([]config.TaskConfig{nightly(config.CheckConfig{
		Name:     "no-bad",
		Type:     "expression",
		Settings: map[string]any{"violation": `name == "bad"`, "message": "bad component"},
	})}, f.deps)
	require.NoError(t, err)

	out, err := r.Run(context.Background(), "nightly")
	require.NoError(t, err)
	assert.Len(t, out.Result.ToDeploy(), 2)
	failures := out.Result.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, "no-bad", failures[0].Check)
	assert.Equal(t, "bad component", failures[0].Problem)
	assert.Equal(t, int64(300), out.State.Watermark)
	assert.Len(t, out.Summary.Failures, 1)
}

func TestRunQueryFailureKeepsWatermark(t *testing.T) {
	f := newFixture(t)
	_, err := f.states.Advance("nightly", 50, "earlier", time.Unix(1, 0))
	require.NoError(t, err)
	f.pager.err = errors.New("connection refused")

	r, err := NewRunner([]config.TaskConfig{nightly()}, f.deps)
	require.NoError(t, err)

	out, err := r.Run(context.Background(), "nightly")
	var qe *browser.QueryError
	require.ErrorAs(t, err, &qe)
	require.NotNil(t, out)
	assert.Nil(t, out.Result)
	assert.Equal(t, store.RunFailed, out.Summary.Status)

	st, err := f.states.Get("nightly")
	require.NoError(t, err)
	assert.Equal(t, int64(50), st.Watermark)

	runs := f.history.snapshot()
	require.Len(t, runs, 1)
	assert.Equal(t, store.RunFailed, runs[0].Status)
	assert.Contains(t, runs[0].Error, "connection refused")
	assert.Len(t, f.sink.Snapshot(), 1)
}

func TestRunUnknownAndOverlapping(t *testing.T) {
	f := newFixture(t)
	r, err := NewRunner([]config.TaskConfig{nightly()}, f.deps)
	require.NoError(t, err)

	_, err = r.Run(context.Background(), "weekly")
	assert.ErrorIs(t, err, ErrUnknownTask)

	require.True(t, r.acquire("nightly"))
	_, err = r.Run(context.Background(), "nightly")
	assert.ErrorIs(t, err, ErrTaskRunning)
	r.release("nightly")

	_, err = r.Run(context.Background(), "nightly")
	assert.NoError(t, err)
}

func TestNewRunnerRejectsBadChecks(t *testing.T) {
	f := newFixture(t)
	_, err := NewRunner([]config.TaskConfig{nightly(config.CheckConfig{Type: "missing"})}, f.deps)
	assert.ErrorContains(t, err, "task nightly")
}

func TestDryRunLeavesStateAlone(t *testing.T) {
	f := newFixture(t)
	r, err := NewRunner(nil, f.deps)
	require.NoError(t, err)

	res, err := r.DryRun(context.Background(), config.TaskConfig{Repository: "main", Filter: "tag=release"}, 0)
	require.NoError(t, err)
	require.Len(t, res.ToDeploy(), 1)
	assert.Equal(t, "api", res.ToDeploy()[0].Name)

	res, err = r.DryRun(context.Background(), config.TaskConfig{Repository: "main"}, 150)
	require.NoError(t, err)
	assert.Len(t, res.ToDeploy(), 2)

	st, err := f.states.Get("")
	require.NoError(t, err)
	assert.Zero(t, st.Watermark)
	assert.Empty(t, f.history.snapshot())
}

func TestSchedulerRunsTasks(t *testing.T) {
	f := newFixture(t)
	task := nightly()
	task.IntervalSeconds = 1
	r, err := NewRunner([]config.TaskConfig{task}, f.deps)
	require.NoError(t, err)

	s := NewScheduler(r, []config.TaskConfig{task, {Name: "manual"}}, nil, 0, zerolog.Nop())
	s.Start()
	require.Eventually(t, func() bool { return len(f.history.snapshot()) > 0 }, 5*time.Second, 50*time.Millisecond)
	s.Stop()

	st, err := f.states.Get("nightly")
	require.NoError(t, err)
	assert.Equal(t, int64(300), st.Watermark)
}

type countingCleaner struct {
	mu    sync.Mutex
	calls int
	days  int
}

func (c *countingCleaner) CleanupRuns(_ context.Context, days int, _ time.Time) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.days = days
	return 2, nil
}

func TestSchedulerCleanup(t *testing.T) {
	c := &countingCleaner{}
	s := NewScheduler(nil, nil, c, 30, zerolog.Nop())
	s.cleanup(context.Background())
	assert.Equal(t, 1, c.calls)
	assert.Equal(t, 30, c.days)

	s.Start()
	s.Stop()
}
