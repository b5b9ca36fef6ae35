// Package textsim compares book titles and author names.
package textsim

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// SubstringScore is returned when one normalized string contains the other.
const SubstringScore = 0.85

// Normalize folds width variants, lowercases, and drops every rune that is
// neither a word character nor kana/kanji.
func Normalize(s string) string {
	s = strings.ToLower(norm.NFKC.String(s))

	var sb strings.Builder
	sb.Grow(len(s))
	for _, r := range s {
		if keepRune(r) {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func keepRune(r rune) bool {
	switch {
	case r == '_':
		return true
	case r < unicode.MaxASCII:
		return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
	case r >= 0x3040 && r <= 0x309F: // hiragana
		return true
	case r >= 0x30A0 && r <= 0x30FF: // katakana
		return true
	case r >= 0x4E00 && r <= 0x9FFF: // CJK unified ideographs
		return true
	}
	return false
}

// Similarity returns a score in [0,1] for two strings after normalization.
func Similarity(a, b string) float64 {
	return NormalizedSimilarity(Normalize(a), Normalize(b))
}

// NormalizedSimilarity is Similarity for inputs already passed through Normalize.
func NormalizedSimilarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	if a == "" || b == "" {
		return 0.0
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return SubstringScore
	}

	ra, rb := []rune(a), []rune(b)
	longest := max(len(ra), len(rb))
	return 1.0 - float64(levenshtein(ra, rb))/float64(longest)
}

// Levenshtein returns the edit distance between a and b, counted in runes.
func Levenshtein(a, b string) int {
	return levenshtein([]rune(a), []rune(b))
}

func levenshtein(a, b []rune) int {
	rows, cols := len(a)+1, len(b)+1
	dp := make([][]int, rows)
	for i := range dp {
		dp[i] = make([]int, cols)
		dp[i][0] = i
	}
	for j := 0; j < cols; j++ {
		dp[0][j] = j
	}

	for i := 1; i < rows; i++ {
		for j := 1; j < cols; j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			dp[i][j] = min(
				dp[i-1][j]+1,
				dp[i][j-1]+1,
				dp[i-1][j-1]+cost,
			)
		}
	}
	return dp[rows-1][cols-1]
}
