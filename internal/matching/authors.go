package matching

import (
	"strings"
)

// placeholderAuthors are author-list fillers that never identify a person.
var placeholderAuthors = map[string]struct{}{
	"et al":  {},
	"al":     {},
	"others": {},
	"anon":   {},
}

// AuthorScore aligns each reference author with its closest candidate author
// and averages the per-author scores.
//
// Returns 0.0 if either list is empty after normalization, 1.0 when every
// reference author has an exact counterpart.
func AuthorScore(refAuthors, candAuthors []string) float64 {
	ref := normalizeAuthors(refAuthors)
	cand := normalizeAuthors(candAuthors)
	if len(ref) == 0 || len(cand) == 0 {
		return 0.0
	}

	total := 0.0
	for _, r := range ref {
		best := 0.0
		for _, c := range cand {
			if s := nameSimilarity(r, c); s > best {
				best = s
				if best == 1.0 {
					break
				}
			}
		}
		total += best
	}
	return total / float64(len(ref))
}

// VisibleAuthorScore is AuthorScore for a candidate whose author list was
// cut short by the source. Each visible candidate author is aligned with its
// closest reference author, so reference authors the source never showed do
// not count against the match.
func VisibleAuthorScore(refAuthors, candAuthors []string) float64 {
	return AuthorScore(candAuthors, refAuthors)
}

// NormalizeName normalizes an author name for comparison:
//   - Detects and reorders "Last, First" format to "First Last"
//   - Applies Normalize (diacritics, case, punctuation; hyphens are kept)
//   - Drops periods so "J. K. Rowling" becomes "j k rowling"
func NormalizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}

	// Handle "Last, First" format: split on the first comma, swap parts.
	if idx := strings.Index(name, ","); idx >= 0 {
		last := strings.TrimSpace(name[:idx])
		first := strings.TrimSpace(name[idx+1:])
		if first != "" {
			name = first + " " + last
		} else {
			name = last
		}
	}

	return Normalize(name)
}

// nameSimilarity compares two normalized author names and returns a similarity
// score between 0.0 and 1.0.
//
// Scoring rules:
//   - Exact match: 1.0
//   - Same family name, same given names: 1.0
//   - Same family name, one given name is an initial that matches: 0.9
//   - Same family name, one or both have only a family name: 0.8
//   - Same family name, different given names: 0.3
//   - Family name of one appears among the given names of the other
//     (family-first ordering): 0.6
//   - Otherwise: 0.0
func nameSimilarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0.0
	}
	if a == b {
		return 1.0
	}

	partsA := strings.Fields(a)
	partsB := strings.Fields(b)

	lastA := partsA[len(partsA)-1]
	lastB := partsB[len(partsB)-1]

	if lastA != lastB {
		if familyNameFallback(partsA, lastB) || familyNameFallback(partsB, lastA) {
			return 0.6
		}
		return 0.0
	}

	firstA := partsA[:len(partsA)-1]
	firstB := partsB[:len(partsB)-1]

	if len(firstA) == 0 || len(firstB) == 0 {
		return 0.8
	}

	if strings.Join(firstA, " ") == strings.Join(firstB, " ") {
		return 1.0
	}

	if isInitialMatch(firstA[0], firstB[0]) {
		return 0.9
	}

	return 0.3
}

// familyNameFallback reports whether family appears as a leading (non-final)
// token of parts, as in "Vaswani Ashish" against "Ashish Vaswani".
func familyNameFallback(parts []string, family string) bool {
	if len([]rune(family)) < 2 {
		return false
	}
	for _, p := range parts[:len(parts)-1] {
		if p == family {
			return true
		}
	}
	return false
}

// isInitialMatch returns true if one token is an initial (or a run of
// initials such as "jk") whose first letter matches the other token.
func isInitialMatch(a, b string) bool {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 || len(rb) == 0 || ra[0] != rb[0] {
		return false
	}
	return len(ra) <= 2 || len(rb) <= 2
}

func normalizeAuthors(authors []string) []string {
	result := make([]string, 0, len(authors))
	for _, a := range authors {
		n := NormalizeName(a)
		if n == "" {
			continue
		}
		if _, skip := placeholderAuthors[n]; skip {
			continue
		}
		result = append(result, n)
	}
	return result
}
