//go:build btf_debug_assertions

package btf

import "fmt"

// debugAssert panics when cond is false. Building with -tags
// btf_debug_assertions turns a latched ErrBug (programmer misuse — an
// unbalanced compound close, a wrong close kind) into an immediate panic,
// the idiomatic analogue of the C source's debug-break on "bug" errors
// (spec.md §7).
func debugAssert(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Sprintf("btf: assertion failed: "+format, args...))
	}
}
