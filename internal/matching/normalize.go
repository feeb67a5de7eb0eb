// Package matching compares reference entries against candidate records
// returned by bibliographic sources.
//
// All comparisons run on normalized text: diacritics stripped, lower-cased,
// punctuation removed (hyphens inside words are kept) and whitespace collapsed.
package matching

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// foldReplacer handles letters that do not decompose into base + combining mark.
var foldReplacer = strings.NewReplacer(
	"ß", "ss",
	"æ", "ae",
	"œ", "oe",
	"ø", "o",
	"ł", "l",
	"đ", "d",
	"ð", "d",
	"þ", "th",
	"ı", "i",
)

// titleStopwords are dropped from titles before scoring so that "&" and "and"
// or a leading article do not count against a match.
var titleStopwords = map[string]struct{}{
	"and": {},
	"the": {},
}

// Normalize canonicalizes text for comparison. It is deterministic and
// idempotent: Normalize(Normalize(x)) == Normalize(x).
func Normalize(text string) string {
	if text == "" {
		return ""
	}

	// Folding runs after stripping so letters such as "ǽ" reach "ae" in one pass.
	text = foldReplacer.Replace(stripDiacritics(strings.ToLower(text)))

	var sb strings.Builder
	sb.Grow(len(text))
	for _, r := range text {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			sb.WriteRune(r)
		case r == '-' || unicode.Is(unicode.Pd, r):
			sb.WriteRune('-')
		default:
			sb.WriteRune(' ')
		}
	}

	fields := strings.Fields(sb.String())
	out := fields[:0]
	for _, f := range fields {
		f = collapseHyphens(strings.Trim(f, "-"))
		if f != "" {
			out = append(out, f)
		}
	}
	return strings.Join(out, " ")
}

// NormalizeTitle is Normalize with title stopwords removed.
func NormalizeTitle(title string) string {
	tokens := strings.Fields(Normalize(title))
	out := tokens[:0]
	for _, tok := range tokens {
		if _, stop := titleStopwords[tok]; !stop {
			out = append(out, tok)
		}
	}
	return strings.Join(out, " ")
}

// NormalizeDOI lower-cases a DOI and strips resolver prefixes such as
// "https://doi.org/" or "doi:".
func NormalizeDOI(doi string) string {
	d := strings.ToLower(strings.TrimSpace(doi))
	for _, prefix := range []string{
		"https://doi.org/",
		"http://doi.org/",
		"https://dx.doi.org/",
		"http://dx.doi.org/",
		"doi.org/",
		"doi:",
	} {
		if strings.HasPrefix(d, prefix) {
			d = strings.TrimSpace(d[len(prefix):])
			break
		}
	}
	return strings.TrimRight(d, ".,;")
}

// NormalizeURL reduces a URL to host and path for equality checks.
// Scheme, a leading "www.", query, fragment and trailing slashes are dropped.
func NormalizeURL(raw string) string {
	u := strings.ToLower(strings.TrimSpace(raw))
	if i := strings.Index(u, "://"); i >= 0 {
		u = u[i+3:]
	}
	u = strings.TrimPrefix(u, "www.")
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	return strings.TrimRight(u, "/")
}

func stripDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

func collapseHyphens(s string) string {
	for strings.Contains(s, "--") {
		s = strings.ReplaceAll(s, "--", "-")
	}
	return s
}
