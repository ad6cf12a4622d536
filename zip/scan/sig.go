package scan

import (
	"iter"
)

// Index returns the position of the first match of sig in b, scanning forward from the start, or -1 if there is none.
//
// Only positions whose byte equals the first signature byte are considered as candidates; a candidate matches only if
// all four bytes are equal.
func Index(b []byte, sig Signature) int {
	return indexFrom(b, sig, 0)
}

// LastIndex returns the position of the last match of sig in b, scanning backward from the end, or -1 if there is
// none.
func LastIndex(b []byte, sig Signature) int {
	return lastIndexBefore(b, sig, len(b))
}

// All returns every position where sig matches b, in increasing order.
//
// Matches may overlap; All knows nothing about record extents. The central directory decoder does not use All for
// that reason, it resumes its search past the end of each decoded record instead.
func All(b []byte, sig Signature) iter.Seq[int] {
	return func(yield func(int) bool) {
		for i := indexFrom(b, sig, 0); i != -1; i = indexFrom(b, sig, i+1) {
			if !yield(i) {
				return
			}
		}
	}
}

// indexFrom is Index starting at from.
func indexFrom(b []byte, sig Signature, from int) int {
	for i := max(from, 0); i+len(sig) <= len(b); i++ {
		if b[i] != sig[0] {
			continue
		}

		if b[i+1] == sig[1] && b[i+2] == sig[2] && b[i+3] == sig[3] {
			return i
		}
	}

	return -1
}

// lastIndexBefore is LastIndex for matches that start before end.
func lastIndexBefore(b []byte, sig Signature, end int) int {
	for i := min(end, len(b)-len(sig)+1) - 1; i >= 0; i-- {
		if b[i] != sig[0] {
			continue
		}

		if b[i+1] == sig[1] && b[i+2] == sig[2] && b[i+3] == sig[3] {
			return i
		}
	}

	return -1
}
