// Package strutil provides the sequence-ratio string similarity used by
// duplicate detection and PO matching.
package strutil

import "strings"

// Ratio returns a similarity score in [0, 1] for two strings using the
// Ratcliff-Obershelp algorithm: twice the number of matching characters
// divided by the total number of characters. Comparison is case sensitive;
// callers normalize case where needed.
func Ratio(a, b string) float64 {
	if a == b {
		if a == "" {
			return 1.0
		}
		return 1.0
	}
	if a == "" || b == "" {
		return 0.0
	}

	matched := matchCount([]rune(a), []rune(b))
	return 2.0 * float64(matched) / float64(len([]rune(a))+len([]rune(b)))
}

// FoldRatio returns Ratio over the lowercased inputs
func FoldRatio(a, b string) float64 {
	return Ratio(strings.ToLower(a), strings.ToLower(b))
}

// matchCount totals matching characters: the longest common substring,
// then recursively the pieces to its left and right.
func matchCount(a, b []rune) int {
	ai, bi, size := longestCommonSubstring(a, b)
	if size == 0 {
		return 0
	}

	total := size
	total += matchCount(a[:ai], b[:bi])
	total += matchCount(a[ai+size:], b[bi+size:])
	return total
}

func longestCommonSubstring(a, b []rune) (ai, bi, size int) {
	// One row of the classic DP table is enough
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1] + 1
				if curr[j] > size {
					size = curr[j]
					ai = i - size
					bi = j - size
				}
			} else {
				curr[j] = 0
			}
		}
		prev, curr = curr, prev
	}
	return ai, bi, size
}
