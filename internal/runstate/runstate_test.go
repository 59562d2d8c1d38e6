package runstate

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var at = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func openTemp(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "runstate")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func TestGetUnknownTask(t *testing.T) {
	s, _ := openTemp(t)
	st, err := s.Get("nightly")
	require.NoError(t, err)
	assert.Equal(t, State{}, st)
}

func TestAdvanceNeverMovesBackwards(t *testing.T) {
	s, _ := openTemp(t)

	st, err := s.Advance("nightly", 100, "run-1", at)
	require.NoError(t, err)
	assert.Equal(t, State{Watermark: 100, LastRunID: "run-1", UpdatedAt: at.Unix()}, st)

	st, err = s.Advance("nightly", 50, "run-2", at.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(100), st.Watermark)
	assert.Equal(t, "run-1", st.LastRunID)

	st, err = s.Advance("nightly", 100, "run-3", at.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "run-1", st.LastRunID)

	st, err = s.Advance("nightly", 200, "run-4", at.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(200), st.Watermark)

	got, err := s.Get("nightly")
	require.NoError(t, err)
	assert.Equal(t, st, got)
}

func TestStatePersistsAcrossReopen(t *testing.T) {
	s, path := openTemp(t)
	_, err := s.Advance("nightly", 100, "run-1", at)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	st, err := reopened.Get("nightly")
	require.NoError(t, err)
	assert.Equal(t, int64(100), st.Watermark)
}

func TestResetAndList(t *testing.T) {
	s, _ := openTemp(t)
	_, err := s.Advance("b-task", 300, "r", at)
	require.NoError(t, err)
	_, err = s.Advance("a-task", 100, "r", at)
	require.NoError(t, err)

	require.NoError(t, s.Reset("b-task", 10, at))
	st, err := s.Get("b-task")
	require.NoError(t, err)
	assert.Equal(t, int64(10), st.Watermark)

	list, err := s.List()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a-task", list[0].Task)
	assert.Equal(t, "b-task", list[1].Task)

	require.NoError(t, s.Reset("a-task", 0, at))
	list, err = s.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "b-task", list[0].Task)
}

func TestClosedStore(t *testing.T) {
	s, _ := openTemp(t)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err := s.Get("x")
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.Advance("x", 1, "r", at)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestPrefixUpperBound(t *testing.T) {
	assert.Equal(t, []byte("/runstate0"), prefixUpperBound([]byte("/runstate/")))
	assert.Nil(t, prefixUpperBound([]byte{0xff, 0xff}))
}
