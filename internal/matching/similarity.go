package matching

import (
	"sort"
	"strings"
)

const (
	// containmentScore is awarded when one title is a whole-token run inside
	// the other, e.g. a title cited without its subtitle.
	containmentScore = 0.95

	// minContainedTokens keeps very short titles from matching anything
	// that happens to contain them.
	minContainedTokens = 3
)

// Similarity returns a score in [0,1] for two free-text strings.
// It is symmetric, and Similarity(a, a) == 1 for every a.
func Similarity(a, b string) float64 {
	return scoreNormalized(Normalize(a), Normalize(b))
}

// TitleSimilarity is Similarity over NormalizeTitle forms.
func TitleSimilarity(a, b string) float64 {
	return scoreNormalized(NormalizeTitle(a), NormalizeTitle(b))
}

func scoreNormalized(na, nb string) float64 {
	if na == nb {
		return 1.0
	}
	if na == "" || nb == "" {
		return 0.0
	}

	score := tokenSortRatio(na, nb)

	short, long := na, nb
	if len(short) > len(long) || (len(short) == len(long) && short > long) {
		short, long = long, short
	}
	if len(strings.Fields(short)) >= minContainedTokens && containsTokens(long, short) {
		score = max(score, containmentScore)
	}
	return score
}

// TokenSortRatio sorts the normalized tokens of both inputs and compares
// the resulting strings, so word order does not matter.
func TokenSortRatio(a, b string) float64 {
	return tokenSortRatio(Normalize(a), Normalize(b))
}

func tokenSortRatio(na, nb string) float64 {
	return Ratio(sortTokens(na), sortTokens(nb))
}

// PartialRatio slides the shorter normalized string across the longer one
// and returns the best window ratio. Useful for page titles that wrap the
// cited title with site names or section labels.
func PartialRatio(a, b string) float64 {
	ra, rb := []rune(Normalize(a)), []rune(Normalize(b))
	if string(ra) == string(rb) {
		return 1.0
	}
	if len(ra) == 0 || len(rb) == 0 {
		return 0.0
	}

	short, long := ra, rb
	if len(short) > len(long) || (len(short) == len(long) && string(short) > string(long)) {
		short, long = long, short
	}

	best := 0.0
	for i := 0; i+len(short) <= len(long); i++ {
		s := runeRatio(short, long[i:i+len(short)])
		if s > best {
			best = s
			if best == 1.0 {
				break
			}
		}
	}
	return best
}

// Ratio is the indel similarity of two strings: 2*LCS / (len(a)+len(b)),
// measured in runes. Two empty strings have ratio 1.
func Ratio(a, b string) float64 {
	return runeRatio([]rune(a), []rune(b))
}

func runeRatio(a, b []rune) float64 {
	total := len(a) + len(b)
	if total == 0 {
		return 1.0
	}
	return float64(2*lcsLength(a, b)) / float64(total)
}

// lcsLength computes the longest common subsequence length with two rows.
func lcsLength(a, b []rune) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	if len(a) < len(b) {
		a, b = b, a
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			switch {
			case a[i-1] == b[j-1]:
				curr[j] = prev[j-1] + 1
			case prev[j] >= curr[j-1]:
				curr[j] = prev[j]
			default:
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func sortTokens(s string) string {
	tokens := strings.Fields(s)
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}

// containsTokens reports whether needle occurs in haystack on token boundaries.
func containsTokens(haystack, needle string) bool {
	return strings.Contains(" "+haystack+" ", " "+needle+" ")
}
