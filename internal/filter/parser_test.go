package filter

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitTermOperators(t *testing.T) {
	cases := []struct {
		op   string
		want Operator
	}{
		{"=", OpEQ},
		{"!=", OpNE},
		{"<>", OpNE},
		{"<", OpLT},
		{">", OpGT},
		{"<=", OpLE},
		{">=", OpGE},
	}

	for _, tc := range cases {
		for _, token := range []string{"xy" + tc.op + "ZYX", "xy " + tc.op + " ZYX", "  xy\t" + tc.op + "  ZYX "} {
			term, err := ParseTerm(token)
			require.NoError(t, err, token)
			assert.Equal(t, "xy", term.Attribute, token)
			assert.Equal(t, "ZYX", term.Value, token)
			assert.Equal(t, tc.want, term.Operator, token)
		}
	}
}

func TestSplitTermFreeText(t *testing.T) {
	term := SplitTerm("  just-text ")
	assert.Equal(t, OpNoop, term.Operator)
	assert.Equal(t, "just-text", term.Value)
	assert.Empty(t, term.Attribute)
}

func TestSplitTermLeadingNotEqualIsNotSplitThere(t *testing.T) {
	// "!=" at position 0 is skipped; the "=" inside it is still found
	term := SplitTerm("!=x")
	assert.Equal(t, OpEQ, term.Operator)
	assert.Equal(t, "!", term.Attribute)
}

func TestParseTermRejectsIncompleteTokens(t *testing.T) {
	for _, token := range []string{"", "   ", "=value", "group="} {
		_, err := ParseTerm(token)
		assert.ErrorIs(t, err, ErrParse, token)
	}
}

func TestParseEmpty(t *testing.T) {
	for _, text := range []string{"", "   "} {
		e, err := Parse(text)
		require.NoError(t, err)
		assert.True(t, e.IsEmpty())
		assert.Empty(t, e.Group())
		assert.Empty(t, e.Artifact())
		assert.Empty(t, e.Version())
		assert.Empty(t, e.Tag())
		assert.Empty(t, e.TagAttribute())
		_, ok := e.FreeText()
		assert.False(t, ok)
		_, ok = e.Watermark()
		assert.False(t, ok)
	}
}

func TestParseBuckets(t *testing.T) {
	e, err := Parse("group=org.example & NAME!=core&artifact=api & version>=1.0&version<2.0&tag=DEPLOYED&tagAttr=OS=macOS&release")
	require.NoError(t, err)

	assert.Equal(t, []Predicate{{Bucket: BucketGroup, Operator: OpEQ, Value: "org.example"}}, e.Group())
	assert.Equal(t, []Predicate{
		{Bucket: BucketArtifact, Operator: OpNE, Value: "core"},
		{Bucket: BucketArtifact, Operator: OpEQ, Value: "api"},
	}, e.Artifact())
	assert.Equal(t, []Predicate{
		{Bucket: BucketVersion, Operator: OpGE, Value: "1.0"},
		{Bucket: BucketVersion, Operator: OpLT, Value: "2.0"},
	}, e.Version())
	assert.Equal(t, []Predicate{{Bucket: BucketTag, Operator: OpEQ, Value: "DEPLOYED"}}, e.Tag())
	assert.Equal(t, []Predicate{{Bucket: BucketTagAttribute, Operator: OpEQ, Value: "macOS", AttrName: "OS"}}, e.TagAttribute())

	ft, ok := e.FreeText()
	assert.True(t, ok)
	assert.Equal(t, "release", ft)
}

func TestParseTwoGroups(t *testing.T) {
	e, err := Parse("group=A&group!=B")
	require.NoError(t, err)
	assert.Equal(t, []Predicate{
		{Bucket: BucketGroup, Operator: OpEQ, Value: "A"},
		{Bucket: BucketGroup, Operator: OpNE, Value: "B"},
	}, e.Group())
}

func TestParseTagAttributeOperators(t *testing.T) {
	cases := map[string]Operator{
		"tagAttr=OS=macOS":     OpEQ,
		"tagAttr=OS!=macOS":    OpNE,
		"tagAttr=OS<macOS":     OpLT,
		"tagAttr=OS>=macOS":    OpGE,
		"tagAttr = OS <= macOS": OpLE,
		"TAGATTR=OS>macOS":     OpGT,
	}
	for text, want := range cases {
		e, err := Parse(text)
		require.NoError(t, err, text)
		preds := e.TagAttribute()
		require.Len(t, preds, 1, text)
		assert.Equal(t, "OS", preds[0].AttrName, text)
		assert.Equal(t, "macOS", preds[0].Value, text)
		assert.Equal(t, want, preds[0].Operator, text)
	}
}

func TestParseErrors(t *testing.T) {
	cases := []struct {
		text   string
		reason string
	}{
		{"a&b", "only one free text search is allowed"},
		{"tagAttr = novalue", "missing operator in tagAttr clause"},
		{"tagAttr==x", "missing attribute in tagAttr clause"},
		{"tagAttr=OS=", "missing value in tagAttr clause"},
		{"group=a&&group=b", "blank token"},
		{"group<a", "operator < not supported for group"},
		{"name>=a", "operator >= not supported for name"},
		{"artifact<>a", ""},
		{"color=red", "unknown attribute"},
		{"=red", "missing attribute"},
		{"version=", "missing value"},
	}

	for _, tc := range cases {
		_, err := Parse(tc.text)
		if tc.reason == "" {
			assert.NoError(t, err, tc.text)
			continue
		}
		require.Error(t, err, tc.text)
		assert.ErrorIs(t, err, ErrParse, tc.text)

		var pe *ParseError
		require.True(t, errors.As(err, &pe), tc.text)
		assert.Contains(t, pe.Reason, tc.reason, tc.text)
		assert.Equal(t, tc.text, pe.Filter)
		assert.Contains(t, err.Error(), tc.text)
	}
}

func TestParseDuplicateFreeTextMessage(t *testing.T) {
	_, err := Parse("a&b")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "only one free text search is allowed")
	assert.Contains(t, err.Error(), `"a&b"`)
}

func TestParseWatermarkOption(t *testing.T) {
	e, err := Parse("", WithWatermark(1700000000))
	require.NoError(t, err)
	wm, ok := e.Watermark()
	assert.True(t, ok)
	assert.Equal(t, int64(1700000000), wm)
	assert.True(t, e.IsEmpty())
}

func TestExpressionAccessorsReturnCopies(t *testing.T) {
	e, err := Parse("group=A")
	require.NoError(t, err)

	g := e.Group()
	g[0].Value = "mutated"
	assert.Equal(t, "A", e.Group()[0].Value)
}
