package component

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyIsStableAndDistinct(t *testing.T) {
	a := &Component{Repository: "releases", Group: "org.example", Name: "lib", Version: "1.0"}
	b := &Component{Repository: "releases", Group: "org.example", Name: "lib", Version: "1.0", CreatedAt: 42}
	c := &Component{Repository: "releases", Group: "org.example", Name: "lib", Version: "1.1"}

	assert.Equal(t, a.Key(), b.Key())
	assert.NotEqual(t, a.Key(), c.Key())
	assert.Len(t, a.Key(), 16)

	// field boundaries must not collide
	x := Key("r", "ab", "c", "1")
	y := Key("r", "a", "bc", "1")
	assert.NotEqual(t, x, y)
}

func TestSortComponents(t *testing.T) {
	cs := []*Component{
		{Group: "b", Name: "x", Version: "1"},
		{Group: "a", Name: "y", Version: "2"},
		{Group: "a", Name: "y", Version: "1"},
		{Group: "a", Name: "x", Version: "9"},
	}
	SortComponents(cs)

	var got []string
	for _, c := range cs {
		got = append(got, c.Coordinates())
	}
	assert.Equal(t, []string{"a:x:9", "a:y:1", "a:y:2", "b:x:1"}, got)
}

func TestSortFailures(t *testing.T) {
	a := &Component{Group: "a", Name: "n", Version: "1"}
	b := &Component{Group: "b", Name: "n", Version: "1"}
	fs := []FailedCheck{
		{Component: b, Check: "pom"},
		{Component: a, Check: "sig"},
		{Component: a, Check: "checksum"},
	}
	SortFailures(fs)

	assert.Equal(t, a, fs[0].Component)
	assert.Equal(t, "checksum", fs[0].Check)
	assert.Equal(t, "sig", fs[1].Check)
	assert.Equal(t, b, fs[2].Component)
}

func TestAttrValueVariants(t *testing.T) {
	s, ok := String("macOS").AsString()
	assert.True(t, ok)
	assert.Equal(t, "macOS", s)

	_, ok = FromAny(float64(3)).AsString()
	assert.False(t, ok)

	_, ok = FromAny(true).AsString()
	assert.False(t, ok)

	// strings always land in the string variant
	s, ok = FromAny("x").AsString()
	assert.True(t, ok)
	assert.Equal(t, "x", s)
}

func TestAttributesRoundTripKeepsVariants(t *testing.T) {
	tag := NewTag("DEPLOYED", map[string]any{"OS": "macOS", "count": float64(2), "ok": true})

	encoded, err := EncodeAttributes(tag.Attributes)
	require.NoError(t, err)

	decoded, err := DecodeAttributes(encoded)
	require.NoError(t, err)
	require.Len(t, decoded, 3)

	os, ok := decoded["OS"].AsString()
	assert.True(t, ok)
	assert.Equal(t, "macOS", os)

	_, ok = decoded["count"].AsString()
	assert.False(t, ok)
	assert.Equal(t, float64(2), decoded["count"].Interface())
}

func TestTagHelpers(t *testing.T) {
	c := &Component{
		Tags: []Tag{
			NewTag("DEPLOYED", map[string]any{"OS": "linux"}),
			NewTag("SIGNED", nil),
		},
		Assets: []Asset{{Path: "a.jar"}, {Path: "a.pom"}},
	}

	assert.True(t, c.HasTag("SIGNED"))
	assert.False(t, c.HasTag("OTHER"))
	assert.Equal(t, []string{"DEPLOYED", "SIGNED"}, c.TagNames())
	assert.Equal(t, []string{"a.jar", "a.pom"}, c.AssetPaths())

	v, ok := c.Tags[0].StringAttr("OS")
	assert.True(t, ok)
	assert.Equal(t, "linux", v)
	_, ok = c.Tags[1].StringAttr("OS")
	assert.False(t, ok)
}
