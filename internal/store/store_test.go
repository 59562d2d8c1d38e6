package store

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"component-deployer/internal/browser"
	"component-deployer/internal/component"
	"component-deployer/internal/config"
	"component-deployer/internal/filter"
)

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(context.Background(), config.DatabaseConfig{Driver: "sqlite", Path: t.TempDir(), Name: "test"})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	require.NoError(t, s.Bootstrap(context.Background()))
	return s
}

func put(t *testing.T, s *Store, c *component.Component) *component.Component {
	t.Helper()
	require.NoError(t, s.PutComponent(context.Background(), c))
	return c
}

func mk(repo, group, name, version string, created time.Time) *component.Component {
	return &component.Component{Repository: repo, Group: group, Name: name, Version: version, CreatedAt: created.Unix()}
}

func TestBootstrapIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Bootstrap(context.Background()))

	for _, table := range []string{"components", "component_tags", "component_assets", "content_selectors", "deploy_runs"} {
		ok, err := s.Dialect.TableExists(context.Background(), s.DB, table)
		require.NoError(t, err)
		assert.True(t, ok, table)
	}
}

func TestPutAndGetComponent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := mk("releases", "org.example", "core", "1.0", base)
	c.Tags = []component.Tag{
		component.NewTag("DEPLOYED", map[string]any{"OS": "macOS", "count": float64(3)}),
		component.NewTag("BUILD", nil),
	}
	c.Assets = []component.Asset{
		{Path: "core-1.0.pom", ContentType: "application/xml", Size: 120, BlobRef: "b/1"},
		{Path: "core-1.0.jar", ContentType: "application/java-archive", Size: 4096, BlobRef: "b/2"},
	}
	put(t, s, c)

	got, err := s.GetComponent(ctx, c.Key())
	require.NoError(t, err)
	assert.Equal(t, "org.example", got.Group)
	assert.Equal(t, "core", got.Name)
	assert.Equal(t, "1.0", got.Version)
	assert.Equal(t, "releases", got.Repository)
	assert.Equal(t, base.Unix(), got.CreatedAt)
	assert.Equal(t, []string{"BUILD", "DEPLOYED"}, got.TagNames())
	assert.Equal(t, []string{"core-1.0.pom", "core-1.0.jar"}, got.AssetPaths())
	assert.Equal(t, int64(4096), got.Assets[1].Size)

	osName, ok := got.Tags[1].StringAttr("OS")
	assert.True(t, ok)
	assert.Equal(t, "macOS", osName)
	_, ok = got.Tags[1].StringAttr("count")
	assert.False(t, ok, "non-string attributes keep their type")

	// re-ingesting replaces tags and assets
	c.Tags = nil
	c.Assets = c.Assets[:1]
	c.CreatedAt = base.Add(time.Hour).Unix()
	put(t, s, c)

	got, err = s.GetComponent(ctx, c.Key())
	require.NoError(t, err)
	assert.Empty(t, got.Tags)
	assert.Len(t, got.Assets, 1)
	assert.Equal(t, base.Add(time.Hour).Unix(), got.CreatedAt)

	require.NoError(t, s.DeleteComponent(ctx, c.Key()))
	_, err = s.GetComponent(ctx, c.Key())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeleteComponent(ctx, c.Key()), ErrNotFound)
}

func TestPutComponentRequiresIdentity(t *testing.T) {
	s := newTestStore(t)
	err := s.PutComponent(context.Background(), &component.Component{Repository: "r", Name: "n"})
	assert.Error(t, err)
}

func TestPagerWalksKeysetPages(t *testing.T) {
	s := newTestStore(t)
	var keys []string
	for i := 0; i < 17; i++ {
		c := put(t, s, mk("releases", "org.example", fmt.Sprintf("lib%02d", i), "1.0", base))
		keys = append(keys, c.Key())
	}
	put(t, s, mk("other", "org.example", "lib00", "1.0", base))
	sort.Strings(keys)

	pager := NewPager(s)
	q := browser.Query{Repository: "releases"}

	var sizes []int
	var seen []string
	cursor := ""
	for page := 1; ; page++ {
		p, err := pager.FetchPage(context.Background(), q, 5, cursor)
		require.NoError(t, err)
		sizes = append(sizes, len(p.Items))
		for _, c := range p.Items {
			seen = append(seen, c.Key())
		}
		if p.Next == "" {
			break
		}
		assert.Equal(t, keys[page*5], p.Next, "cursor after page %d", page)
		cursor = p.Next
	}

	assert.Equal(t, []int{5, 5, 5, 2}, sizes)
	assert.Equal(t, keys, seen)
}

func TestPagerStaleCursorResumesAtNextKey(t *testing.T) {
	s := newTestStore(t)
	var keys []string
	for i := 0; i < 4; i++ {
		keys = append(keys, put(t, s, mk("releases", "g", fmt.Sprintf("n%d", i), "1", base)).Key())
	}
	sort.Strings(keys)

	pager := NewPager(s)
	q := browser.Query{Repository: "releases"}
	p, err := pager.FetchPage(context.Background(), q, 2, "")
	require.NoError(t, err)
	require.Equal(t, keys[2], p.Next)

	require.NoError(t, s.DeleteComponent(context.Background(), keys[2]))

	p, err = pager.FetchPage(context.Background(), q, 2, p.Next)
	require.NoError(t, err)
	require.Len(t, p.Items, 1)
	assert.Equal(t, keys[3], p.Items[0].Key())
	assert.Empty(t, p.Next)
}

func TestPagerAppliesCompiledFragment(t *testing.T) {
	s := newTestStore(t)
	wm := base.Add(-time.Hour)
	keep := put(t, s, mk("releases", "A", "x", "1.0", base))
	// dropped by watermark, group, artifact and repository respectively
	put(t, s, mk("releases", "A", "x", "0.9", wm))
	put(t, s, mk("releases", "B", "x", "1.0", base))
	put(t, s, mk("releases", "A", "y", "1.0", base))
	put(t, s, mk("snapshots", "A", "x", "1.0", base))

	e, err := filter.Parse("group=A&group!=B&name=x", filter.WithWatermark(wm.Unix()))
	require.NoError(t, err)
	frag := filter.Compile(e)

	p, err := NewPager(s).FetchPage(context.Background(),
		browser.Query{Repository: "releases", Where: frag.SQL, Params: frag.Params}, 10, "")
	require.NoError(t, err)
	require.Len(t, p.Items, 1)
	assert.Equal(t, keep.Key(), p.Items[0].Key())
}

func TestPagerFreeTextBindsOnce(t *testing.T) {
	s := newTestStore(t)
	put(t, s, mk("releases", "g", "core", "1.0", base))
	put(t, s, mk("releases", "core", "x", "2.0", base))
	put(t, s, mk("releases", "g", "other", "core", base))
	put(t, s, mk("releases", "g", "unrelated", "3.0", base))

	e, err := filter.Parse("core")
	require.NoError(t, err)
	frag := filter.Compile(e)

	p, err := NewPager(s).FetchPage(context.Background(),
		browser.Query{Repository: "releases", Where: frag.SQL, Params: frag.Params}, 10, "")
	require.NoError(t, err)
	assert.Len(t, p.Items, 3)
}

func TestBindNamed(t *testing.T) {
	pb := (&SQLiteDialect{}).NewParamBuilder()
	out, err := bindNamed("a = :x OR b = :x AND c > :y", map[string]any{"x": 1, "y": 2}, pb)
	require.NoError(t, err)
	assert.Equal(t, "a = ?1 OR b = ?1 AND c > ?2", out)
	assert.Equal(t, []any{1, 2}, pb.Params())

	pb = (&PostgresDialect{}).NewParamBuilder()
	out, err = bindNamed("a = :x", map[string]any{"x": 1}, pb)
	require.NoError(t, err)
	assert.Equal(t, "a = $1", out)

	_, err = bindNamed("a = :missing", map[string]any{}, (&SQLiteDialect{}).NewParamBuilder())
	assert.ErrorContains(t, err, `"missing"`)
}

func TestPagerRejectsBadPageSize(t *testing.T) {
	s := newTestStore(t)
	_, err := NewPager(s).FetchPage(context.Background(), browser.Query{Repository: "r"}, 0, "")
	assert.Error(t, err)
}

func TestPagerLoadsTagsForBrowser(t *testing.T) {
	s := newTestStore(t)
	c := mk("releases", "g", "n", "1", base)
	c.Tags = []component.Tag{component.NewTag("DEPLOYED", map[string]any{"OS": "linux"})}
	put(t, s, c)
	put(t, s, mk("releases", "g", "m", "1", base))

	b := browser.New(NewPager(s), nil, browser.WithClock(browser.ClockFunc(func() time.Time { return base.Add(time.Hour) })))
	res, err := b.Prepare(context.Background(), "releases", "tagAttr=OS=linux", browser.TaskConfig{}, browser.RunState{})
	require.NoError(t, err)
	require.Len(t, res.ToDeploy(), 1)
	assert.Equal(t, "n", res.ToDeploy()[0].Name)
}
