package challenge

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate_ShapeAndAlphabet(t *testing.T) {
	g := NewGenerator()
	for i := 0; i < 200; i++ {
		p := g.Generate()
		require.Len(t, p, Length)
		assert.True(t, Valid(p), "puzzle %q", p)
		assert.False(t, strings.ContainsAny(p, "0O1I"), "ambiguous character in %q", p)
		assert.Equal(t, strings.ToUpper(p), p)
	}
}

func TestGenerate_DeterministicSource(t *testing.T) {
	a := NewGeneratorFrom(bytes.NewReader(bytes.Repeat([]byte{7}, 64))).Generate()
	b := NewGeneratorFrom(bytes.NewReader(bytes.Repeat([]byte{7}, 64))).Generate()
	assert.Equal(t, a, b)
}

func TestVerify_CaseInsensitive(t *testing.T) {
	assert.True(t, Verify("AB3CD", "ab3cd"))
	assert.True(t, Verify("AB3CD", " Ab3Cd "))
	assert.False(t, Verify("AB3CD", "AB3CE"))
	assert.False(t, Verify("", ""))
}

func TestValid(t *testing.T) {
	assert.True(t, Valid("abcde"))
	assert.False(t, Valid("ABCD"))
	assert.False(t, Valid("ABCD0"))
	assert.False(t, Valid("ABCDI"))
}

func TestCheck_FailureRegenerates(t *testing.T) {
	c := New(NewGenerator())
	first := c.Puzzle()

	wrong := "22222"
	if first == wrong {
		wrong = "33333"
	}
	assert.False(t, c.Check(wrong))
	// the stale puzzle must not be accepted after a failed guess
	for c.Puzzle() == first {
		c.Refresh()
	}
	assert.False(t, c.Check(first))

	current := c.Puzzle()
	assert.True(t, c.Check(strings.ToLower(current)))
	assert.Equal(t, current, c.Puzzle(), "success keeps the puzzle until the caller refreshes")
}

func TestRestore(t *testing.T) {
	c := Restore(NewGenerator(), "XYZ23")
	assert.Equal(t, "XYZ23", c.Puzzle())
	assert.Len(t, Restore(NewGenerator(), "").Puzzle(), Length)
}
