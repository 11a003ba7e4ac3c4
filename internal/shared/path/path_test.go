package path

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		spec     string
		valid    bool
		root     string
		elements []string
	}{
		{"root only", "fs:", true, "fs", []string{}},
		{"root slash", "fs:/", true, "fs", []string{}},
		{"simple", "fs:/a/b", true, "fs", []string{"a", "b"}},
		{"no leading slash", "fs:a/b", true, "fs", []string{"a", "b"}},
		{"dot dropped", "fs:/a/./b", true, "fs", []string{"a", "b"}},
		{"dotdot pops", "fs:/a/b/../c", true, "fs", []string{"a", "c"}},
		{"dotdot past root", "fs:/../../a", true, "fs", []string{"a"}},
		{"empty segments", "fs:/a//b/", true, "fs", []string{"a", "b"}},
		{"allowed punctuation", "fs:/my file,v1+old~.txt", true, "fs", []string{"my file,v1+old~.txt"}},
		{"missing colon", "a/b", false, "", []string{}},
		{"empty", "", false, "", []string{}},
		{"bad segment", "fs:/a/b*c", false, "fs", []string{}},
		{"bad segment folded away", "fs:/bad$/..", true, "fs", []string{}},
		{"bad segment folded mid path", "fs:/a/bad*/../b", true, "fs", []string{"a", "b"}},
		{"bad segment survives", "fs:/bad$/../c$", false, "fs", []string{}},
		{"empty root", ":/a", false, "", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Parse(tt.spec)
			assert.Equal(t, tt.valid, p.IsValid())
			assert.Equal(t, tt.root, p.Root())
			assert.Equal(t, tt.elements, p.Elements())
		})
	}
}

func TestSpecRoundTrip(t *testing.T) {
	specs := []string{"fs:", "fs:/a", "fs:a/./b/../c", "home:/docs/notes.txt", "x:/../y/z/.."}

	for _, spec := range specs {
		first := Parse(spec)
		require.True(t, first.IsValid(), spec)

		second := Parse(first.Spec())
		assert.True(t, first.Equal(second), "reparse of %q", spec)
		assert.Equal(t, first.Spec(), second.Spec())
	}
}

func TestAbs(t *testing.T) {
	pwd := Parse("fs:bar")

	assert.Equal(t, "fs:/foo", Abs(pwd, "/foo").Spec())
	assert.True(t, Abs(pwd, "/foo").Equal(Parse("fs:/foo")))
	assert.Equal(t, "fs:/bar/baz", Abs(pwd, "baz").Spec())
	assert.Equal(t, "fs:/bar/baz", Abs(pwd, "./baz").Spec())
	assert.Equal(t, "fs:/", Abs(pwd, "..").Spec())
	assert.Equal(t, "other:/x", Abs(pwd, "other:/x").Spec())
}

func TestCombineParentBaseName(t *testing.T) {
	p := Parse("fs:/a/b")

	assert.Equal(t, "fs:/a/b/c/d", p.Combine("c/d").Spec())
	assert.Equal(t, "fs:/a", p.Combine("..").Spec())
	assert.Equal(t, "b", p.BaseName())

	parent, ok := p.Parent()
	require.True(t, ok)
	assert.Equal(t, "fs:/a", parent.Spec())

	root := Parse("fs:/")
	_, ok = root.Parent()
	assert.False(t, ok)
	assert.Equal(t, "", root.BaseName())
	assert.True(t, root.IsRoot())

	// p is unchanged by derived paths
	assert.Equal(t, "fs:/a/b", p.Spec())
}

func TestHasPrefix(t *testing.T) {
	p := Parse("fs:/a/b/c")
	assert.True(t, p.HasPrefix(Parse("fs:/a")))
	assert.True(t, p.HasPrefix(Parse("fs:/")))
	assert.True(t, p.HasPrefix(p))
	assert.False(t, p.HasPrefix(Parse("fs:/a/x")))
	assert.False(t, p.HasPrefix(Parse("other:/a")))
}

func TestTextMarshaling(t *testing.T) {
	p := Parse("fs:/a/b")
	text, err := p.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "fs:/a/b", string(text))

	var back Path
	require.NoError(t, back.UnmarshalText(text))
	assert.True(t, p.Equal(back))
}
