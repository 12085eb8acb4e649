package revision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBase(t *testing.T) {
	r, err := Parse("base")
	require.NoError(t, err)
	assert.True(t, r.IsBase())
	assert.Equal(t, "base", r.String())
}

func TestParseSelected(t *testing.T) {
	r, err := Parse("3")
	require.NoError(t, err)
	assert.True(t, r.IsSelected())
	assert.Equal(t, 3, r.Number())
	assert.Equal(t, "3", r.String())
}

func TestParseHash(t *testing.T) {
	const sha = "abcdef0123456789abcdef0123456789abcdef01"
	r, err := Parse(sha)
	require.NoError(t, err)
	assert.True(t, r.IsHash())
	assert.Equal(t, sha, r.CommitHash())
	assert.Equal(t, sha, r.String())
}

func TestParseRejectsGarbage(t *testing.T) {
	cases := []string{
		"",
		"Base",
		"0",
		"-1",
		"abc",
		// 40 chars but not hex
		"zzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzz",
		// 39 hex chars
		"abcdef0123456789abcdef0123456789abcdef0",
	}
	for _, s := range cases {
		_, err := Parse(s)
		assert.ErrorIs(t, err, ErrFormat, "input %q", s)
	}
}

func TestEquality(t *testing.T) {
	assert.Equal(t, Base(), Base())
	assert.Equal(t, Selected(2), Selected(2))
	assert.NotEqual(t, Selected(2), Selected(3))
	assert.NotEqual(t, Base(), Selected(1))

	// a hash is never equal to the selected revision it was saved as
	assert.NotEqual(t, Hash("abcdef0123456789abcdef0123456789abcdef01"), Selected(3))
}

func TestOrdering(t *testing.T) {
	h := Hash("abcdef0123456789abcdef0123456789abcdef01")

	assert.True(t, Base().Less(Selected(1)))
	assert.True(t, Selected(1).Less(Selected(2)))
	assert.True(t, Selected(99).Less(h))
	assert.False(t, h.Less(Selected(1)))
	assert.False(t, Selected(2).Less(Selected(2)))
}

func TestResolveIsTotal(t *testing.T) {
	describe := func(r RevisionId) string {
		return Resolve(r,
			func() string { return "base" },
			func(n int) string { return "selected" },
			func(h string) string { return "hash" },
		)
	}

	assert.Equal(t, "base", describe(Base()))
	assert.Equal(t, "selected", describe(Selected(7)))
	assert.Equal(t, "hash", describe(Hash("abcdef0123456789abcdef0123456789abcdef01")))
}
