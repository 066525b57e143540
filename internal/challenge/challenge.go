// Package challenge implements the visual human challenge that gates verification code issuance.
package challenge

import (
	"crypto/rand"
	"io"
	"math/big"
	"strings"
)

// Length is the number of characters in a puzzle.
const Length = 5

// Alphabet excludes the visually ambiguous 0, O, 1 and I.
const Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// Generator produces puzzles from a random source.
type Generator struct {
	rand io.Reader
}

// NewGenerator returns a Generator backed by crypto/rand.
func NewGenerator() *Generator {
	return &Generator{rand: rand.Reader}
}

// NewGeneratorFrom returns a Generator reading randomness from r.
func NewGeneratorFrom(r io.Reader) *Generator {
	return &Generator{rand: r}
}

// Generate returns a new puzzle. A failing random source falls back to crypto/rand.
func (g *Generator) Generate() string {
	var b strings.Builder
	b.Grow(Length)
	max := big.NewInt(int64(len(Alphabet)))
	for i := 0; i < Length; i++ {
		n, err := rand.Int(g.rand, max)
		if err != nil {
			n, _ = rand.Int(rand.Reader, max)
		}
		b.WriteByte(Alphabet[n.Int64()])
	}
	return b.String()
}

// Verify reports whether input matches puzzle, ignoring case and surrounding whitespace.
func Verify(puzzle, input string) bool {
	if puzzle == "" {
		return false
	}
	return strings.EqualFold(puzzle, strings.TrimSpace(input))
}

// Valid reports whether s is shaped like a puzzle answer.
func Valid(s string) bool {
	if len(s) != Length {
		return false
	}
	return strings.IndexFunc(strings.ToUpper(s), func(r rune) bool {
		return !strings.ContainsRune(Alphabet, r)
	}) < 0
}

// Challenge holds the live puzzle for one session. A failed guess always
// replaces the puzzle so a stale one can never be replayed.
type Challenge struct {
	gen    *Generator
	puzzle string
}

// New returns a Challenge with a freshly generated puzzle.
func New(gen *Generator) *Challenge {
	c := &Challenge{gen: gen}
	c.Refresh()
	return c
}

// Restore returns a Challenge holding an existing puzzle, or a fresh one if puzzle is empty.
func Restore(gen *Generator, puzzle string) *Challenge {
	if puzzle == "" {
		return New(gen)
	}
	return &Challenge{gen: gen, puzzle: puzzle}
}

// Puzzle returns the current puzzle text.
func (c *Challenge) Puzzle() string { return c.puzzle }

// Refresh regenerates the puzzle and returns it.
func (c *Challenge) Refresh() string {
	c.puzzle = c.gen.Generate()
	return c.puzzle
}

// Check verifies input against the current puzzle and regenerates it on failure.
func (c *Challenge) Check(input string) bool {
	if Verify(c.puzzle, input) {
		return true
	}
	c.Refresh()
	return false
}
