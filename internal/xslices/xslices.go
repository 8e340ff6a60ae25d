// Package xslices has slice helpers that the standard slices package
// lacks.
package xslices

// Filter returns a new slice holding the elements of s for which keep
// returns true, in their original order. s is not modified.
func Filter[T any, S ~[]T](s S, keep func(T) bool) S {
	r := make(S, 0, len(s))
	for _, v := range s {
		if keep(v) {
			r = append(r, v)
		}
	}
	return r
}
