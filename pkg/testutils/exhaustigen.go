package testutils

import "github.com/argus-labs/beacon/pkg/assert"

// Gen enumerates every combination of bounded choices, one combination per loop iteration:
//
//	for g := testutils.NewGen(); !g.Done(); {
//		a, b := g.Intn(2), g.Bool()
//		...
//	}
//
// Each call to a choice method during an iteration consumes one position of an odometer. Done
// advances the rightmost position that is still below its bound and resets the positions after
// it, so the loop visits all combinations exactly once. Bounds may depend on earlier choices.
//
// Technique from https://matklad.github.io/2021/11/07/generate-all-the-things.html
type Gen struct {
	started bool
	v       [32]struct{ value, bound uint32 }
	p       int
	pMax    int
}

// NewGen creates a new exhaustive generator.
func NewGen() *Gen {
	return &Gen{}
}

// Done advances to the next combination and reports whether all have been visited.
func (g *Gen) Done() bool {
	if !g.started {
		g.started = true
		return false
	}
	for i := g.pMax; i > 0; {
		i--
		if g.v[i].value < g.v[i].bound {
			g.v[i].value++
			g.pMax = i + 1
			g.p = 0
			return false
		}
	}
	return true
}

func (g *Gen) gen(bound uint32) uint32 {
	assert.That(g.p < len(g.v), "exhaustigen: more than %d choices per iteration", len(g.v))
	if g.p == g.pMax {
		g.v[g.p].value, g.v[g.p].bound = 0, 0
		g.pMax++
	}
	g.p++
	g.v[g.p-1].bound = bound
	return g.v[g.p-1].value
}

// Intn returns an int in [0, bound], inclusive.
func (g *Gen) Intn(bound int) int {
	return int(g.gen(uint32(bound))) //nolint:gosec // bounds are small in tests
}

// Bool returns both false and true across iterations.
func (g *Gen) Bool() bool {
	return g.Intn(1) == 1
}

// Pick returns each element of a non-empty slice across iterations.
func Pick[T any](g *Gen, items []T) T {
	assert.That(len(items) > 0, "exhaustigen: empty slice")
	return items[g.Intn(len(items)-1)]
}
