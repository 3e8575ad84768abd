//
//  Copyright © Manetu Inc. All rights reserved.
//

package common

import (
	"slices"
)

// Intersects reports whether a and b share at least one element.
func Intersects[T comparable](a, b []T) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	seen := make(map[T]struct{}, len(a))
	for _, x := range a {
		seen[x] = struct{}{}
	}
	for _, y := range b {
		if _, ok := seen[y]; ok {
			return true
		}
	}
	return false
}

// SortedUnion returns the deduplicated, sorted union of the given string sets.
// Empty strings are dropped.
func SortedUnion(sets ...[]string) []string {
	out := []string{}
	for _, s := range sets {
		for _, x := range s {
			if x != "" {
				out = append(out, x)
			}
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// Sorted returns a sorted copy of s.
func Sorted(s []string) []string {
	out := slices.Clone(s)
	slices.Sort(out)
	return out
}
