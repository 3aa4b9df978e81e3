// Package sortutil provides common sorting utilities for the fixtures tooling.
//
// These helpers use Go 1.21+ slices.SortFunc and cmp packages for cleaner,
// more efficient sorting of common types.
package sortutil

import (
	"cmp"
	"slices"
)

// ByName sorts a slice of elements using a function that extracts the name.
func ByName[S ~[]E, E any](s S, getName func(E) string) {
	slices.SortFunc(s, func(a, b E) int {
		return cmp.Compare(getName(a), getName(b))
	})
}

// ByFileLineName sorts elements by file, then line, then name.
func ByFileLineName[S ~[]E, E any](s S, getFile func(E) string, getLine func(E) int, getName func(E) string) {
	slices.SortFunc(s, func(a, b E) int {
		return cmp.Or(
			cmp.Compare(getFile(a), getFile(b)),
			cmp.Compare(getLine(a), getLine(b)),
			cmp.Compare(getName(a), getName(b)),
		)
	})
}

// ByFileLine sorts elements by file, then line.
func ByFileLine[S ~[]E, E any](s S, getFile func(E) string, getLine func(E) int) {
	slices.SortFunc(s, func(a, b E) int {
		return cmp.Or(
			cmp.Compare(getFile(a), getFile(b)),
			cmp.Compare(getLine(a), getLine(b)),
		)
	})
}
