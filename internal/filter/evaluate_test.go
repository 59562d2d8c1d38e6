package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"component-deployer/internal/component"
)

func TestEvaluate(t *testing.T) {
	assert.True(t, Evaluate(OpEQ, "a", "a"))
	assert.False(t, Evaluate(OpEQ, "a", "b"))
	assert.True(t, Evaluate(OpNE, "a", "b"))
	assert.True(t, Evaluate(OpLT, "1.0", "1.1"))
	assert.False(t, Evaluate(OpGT, "1.0", "1.1"))
	assert.True(t, Evaluate(OpLE, "b", "b"))
	assert.True(t, Evaluate(OpGE, "b", "a"))
	// lexicographic, not numeric
	assert.True(t, Evaluate(OpLT, "10", "9"))

	assert.Panics(t, func() { Evaluate(OpNoop, "a", "a") })
}

func tagsOf(names ...string) []component.Tag {
	tags := make([]component.Tag, 0, len(names))
	for _, n := range names {
		tags = append(tags, component.NewTag(n, nil))
	}
	return tags
}

func TestMatchTagPresence(t *testing.T) {
	tags := tagsOf("DEPLOYED")

	cases := map[string]bool{
		"tag=DEPLOYED":  true,
		"tag!=DEPLOYED": false,
		"tag=OTHER":     false,
		"tag!=OTHER":    true,
	}
	for text, want := range cases {
		e, err := Parse(text)
		require.NoError(t, err)
		got, err := e.MatchTags(tags)
		require.NoError(t, err, text)
		assert.Equal(t, want, got, text)
	}
}

func TestMatchTagPresenceRejectsOrdering(t *testing.T) {
	e, err := Parse("tag>=DEPLOYED")
	require.NoError(t, err)

	_, err = e.MatchTags(tagsOf("DEPLOYED"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEvaluation)
	assert.Contains(t, err.Error(), "unexpected operator for tag")
}

func TestMatchTagsConjunctive(t *testing.T) {
	e, err := Parse("tag=A&tag=B")
	require.NoError(t, err)

	ok, err := e.MatchTags(tagsOf("A", "B", "C"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.MatchTags(tagsOf("A"))
	require.NoError(t, err)
	assert.False(t, ok)

	e, err = Parse("tag!=A&tag!=B")
	require.NoError(t, err)
	ok, err = e.MatchTags(tagsOf("C"))
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = e.MatchTags(tagsOf("C", "B"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMatchTagAttributes(t *testing.T) {
	tags := []component.Tag{component.NewTag("DEPLOYED", map[string]any{"OS": "macOS"})}

	cases := map[string]bool{
		"tagAttr=OS=macOS":  true,
		"tagAttr=OS<macOS":  false,
		"tagAttr=OS>=macOS": true,
		"tagAttr=OS!=linux": true,
		"tagAttr=ARCH=x86":  false,
	}
	for text, want := range cases {
		e, err := Parse(text)
		require.NoError(t, err)
		got, err := e.MatchTags(tags)
		require.NoError(t, err)
		assert.Equal(t, want, got, text)
	}
}

func TestMatchTagAttributesAcrossTags(t *testing.T) {
	tags := []component.Tag{
		component.NewTag("BUILD", map[string]any{"OS": "linux", "count": float64(3)}),
		component.NewTag("TEST", map[string]any{"OS": "macOS"}),
	}

	e, err := Parse("tagAttr=OS=macOS&tagAttr=OS=linux")
	require.NoError(t, err)
	ok, err := e.MatchTags(tags)
	require.NoError(t, err)
	assert.True(t, ok, "each predicate may be satisfied by a different tag")

	// non-string values never match
	e, err = Parse("tagAttr=count=3")
	require.NoError(t, err)
	ok, err = e.MatchTags(tags)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMatchTagAttributesWithoutTags(t *testing.T) {
	e, err := Parse("tagAttr=OS!=macOS")
	require.NoError(t, err)
	ok, err := e.MatchTags(nil)
	require.NoError(t, err)
	assert.False(t, ok)

	// an expression with no tag predicates accepts untagged components
	e, err = Parse("group=a")
	require.NoError(t, err)
	ok, err = e.MatchTags(nil)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMatchCoordinates(t *testing.T) {
	c := &component.Component{Group: "org.example", Name: "core", Version: "1.5"}

	cases := map[string]bool{
		"":                                true,
		"group=org.example":               true,
		"group!=org.example":              false,
		"name=core&version>=1.0":          true,
		"version>=1.0&version<1.5":        false,
		"core":                            true,
		"1.5":                             true,
		"org.example":                     true,
		"other":                           false,
		"artifact=core&group=org.example": true,
	}
	for text, want := range cases {
		e, err := Parse(text)
		require.NoError(t, err)
		assert.Equal(t, want, e.MatchCoordinates(c), text)
	}
}
