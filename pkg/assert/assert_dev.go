//go:build !release

// Package assert checks internal invariants of the beacon runtime. Violations panic in
// development builds and compile to nothing when built with the release tag.
package assert

import "fmt"

// That panics with the formatted message when cond is false.
func That(cond bool, format string, args ...any) { //nolint:goprintffuncname // it's ok
	if !cond {
		panic(fmt.Sprintf("invariant violated: "+format, args...))
	}
}
