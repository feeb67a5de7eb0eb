package matching

import (
	"fmt"
	"strings"

	"github.com/helixir/citation-verification-service/internal/domain"
)

// Default acceptance thresholds.
const (
	DefaultTitleThreshold   = 0.85
	DefaultAuthorThreshold  = 0.5
	DefaultWebsiteThreshold = 0.70
	DefaultTitleWeight      = 0.7
)

// Config holds the acceptance thresholds used by a Matcher.
type Config struct {
	// TitleThreshold is the minimum title similarity for a bibliographic match.
	TitleThreshold float64
	// AuthorThreshold is the minimum author alignment score.
	AuthorThreshold float64
	// WebsiteThreshold is the looser title threshold for web pages.
	WebsiteThreshold float64
	// TitleWeight is the weight of the title score in the combined ranking
	// score; the author score gets the remainder.
	TitleWeight float64
	// SourceTitleThresholds overrides TitleThreshold per source.
	SourceTitleThresholds map[domain.SourceType]float64
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		TitleThreshold:   DefaultTitleThreshold,
		AuthorThreshold:  DefaultAuthorThreshold,
		WebsiteThreshold: DefaultWebsiteThreshold,
		TitleWeight:      DefaultTitleWeight,
	}
}

// Validate checks that thresholds are in range.
func (c Config) Validate() error {
	check := func(name string, v float64) error {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be in [0,1], got %v", name, v)
		}
		return nil
	}
	for name, v := range map[string]float64{
		"title threshold":   c.TitleThreshold,
		"author threshold":  c.AuthorThreshold,
		"website threshold": c.WebsiteThreshold,
		"title weight":      c.TitleWeight,
	} {
		if err := check(name, v); err != nil {
			return err
		}
	}
	for src, v := range c.SourceTitleThresholds {
		if err := check(string(src)+" title threshold", v); err != nil {
			return err
		}
	}
	if c.TitleThreshold < c.AuthorThreshold {
		return fmt.Errorf("title threshold (%v) must not be lower than author threshold (%v)",
			c.TitleThreshold, c.AuthorThreshold)
	}
	return nil
}

// TitleThresholdFor returns the title threshold that applies to source.
func (c Config) TitleThresholdFor(source domain.SourceType) float64 {
	if v, ok := c.SourceTitleThresholds[source]; ok {
		return v
	}
	return c.TitleThreshold
}

// CandidateIterator yields candidates one at a time until exhausted.
type CandidateIterator interface {
	Next() (domain.CandidateRecord, bool)
}

// Match is an accepted candidate with its scores.
type Match struct {
	Candidate   domain.CandidateRecord
	Index       int
	TitleScore  float64
	AuthorScore float64
	// Combined ranks accepted candidates against each other.
	Combined float64
}

// Score is the score reported for the match. It is the title score, the
// quantity compared against the acceptance threshold.
func (m Match) Score() float64 {
	return m.TitleScore
}

// Matcher decides whether candidates are acceptable matches for a reference.
type Matcher struct {
	cfg Config
}

// NewMatcher creates a Matcher. Zero thresholds are replaced with defaults.
func NewMatcher(cfg Config) *Matcher {
	def := DefaultConfig()
	if cfg.TitleThreshold == 0 {
		cfg.TitleThreshold = def.TitleThreshold
	}
	if cfg.AuthorThreshold == 0 {
		cfg.AuthorThreshold = def.AuthorThreshold
	}
	if cfg.WebsiteThreshold == 0 {
		cfg.WebsiteThreshold = def.WebsiteThreshold
	}
	if cfg.TitleWeight == 0 {
		cfg.TitleWeight = def.TitleWeight
	}
	return &Matcher{cfg: cfg}
}

// Config returns the effective configuration.
func (m *Matcher) Config() Config {
	return m.cfg
}

// Evaluate scores a single candidate. The bool result is true when the
// candidate passes the title threshold for its source and either the author
// threshold, or the reference or candidate carries no usable author list.
// Title-only acceptance applies when the reference has no authors.
func (m *Matcher) Evaluate(ref domain.ReferenceEntry, cand domain.CandidateRecord) (Match, bool) {
	match := Match{Candidate: cand}
	match.TitleScore = TitleSimilarity(ref.Title, cand.Title)
	if match.TitleScore < m.cfg.TitleThresholdFor(cand.Source) {
		return match, false
	}

	refAuthors := normalizeAuthors(ref.Authors)
	if len(refAuthors) == 0 {
		match.Combined = match.TitleScore
		return match, true
	}
	// A candidate without authors can neither confirm nor refute the
	// reference's authors; rank it as if it just met the author threshold.
	if len(normalizeAuthors(cand.Authors)) == 0 {
		match.Combined = m.cfg.TitleWeight*match.TitleScore + (1-m.cfg.TitleWeight)*m.cfg.AuthorThreshold
		return match, true
	}

	if cand.AuthorsTruncated && len(normalizeAuthors(cand.Authors)) < len(refAuthors) {
		match.AuthorScore = VisibleAuthorScore(ref.Authors, cand.Authors)
	} else {
		match.AuthorScore = AuthorScore(ref.Authors, cand.Authors)
	}
	if match.AuthorScore < m.cfg.AuthorThreshold {
		return match, false
	}
	match.Combined = m.cfg.TitleWeight*match.TitleScore + (1-m.cfg.TitleWeight)*match.AuthorScore
	return match, true
}

// MatchBest consumes candidates and returns the best accepted one.
// Ranking: combined score, then DOI present, then title score, then
// earlier position. Returns false when nothing is accepted.
func (m *Matcher) MatchBest(ref domain.ReferenceEntry, candidates CandidateIterator) (Match, bool) {
	var (
		best  Match
		found bool
	)
	if candidates == nil {
		return best, false
	}

	for i := 0; ; i++ {
		cand, ok := candidates.Next()
		if !ok {
			break
		}
		match, accepted := m.Evaluate(ref, cand)
		if !accepted {
			continue
		}
		match.Index = i
		if !found || better(match, best) {
			best = match
			found = true
		}
	}
	return best, found
}

// MatchWebsite scores a web search candidate against a website reference.
// A URL equal to the reference URL scores 1.0; otherwise the best of title
// similarity and partial ratio is compared against the website threshold.
func (m *Matcher) MatchWebsite(ref domain.ReferenceEntry, cand domain.CandidateRecord) (Match, bool) {
	match := Match{Candidate: cand}
	if ref.URL != "" && cand.URL != "" && NormalizeURL(ref.URL) == NormalizeURL(cand.URL) {
		match.TitleScore = 1.0
		match.Combined = 1.0
		return match, true
	}
	if !ref.HasTitle() {
		return match, false
	}

	score := TitleSimilarity(ref.Title, cand.Title)
	if len(strings.Fields(NormalizeTitle(ref.Title))) >= minContainedTokens {
		score = max(score, PartialRatio(ref.Title, cand.Title))
	}
	match.TitleScore = score
	match.Combined = score
	return match, score >= m.cfg.WebsiteThreshold
}

// MatchBestWebsite is MatchBest with website scoring.
func (m *Matcher) MatchBestWebsite(ref domain.ReferenceEntry, candidates CandidateIterator) (Match, bool) {
	var (
		best  Match
		found bool
	)
	if candidates == nil {
		return best, false
	}

	for i := 0; ; i++ {
		cand, ok := candidates.Next()
		if !ok {
			break
		}
		match, accepted := m.MatchWebsite(ref, cand)
		if !accepted {
			continue
		}
		match.Index = i
		if !found || better(match, best) {
			best = match
			found = true
		}
	}
	return best, found
}

// better reports whether a outranks b. Index breaks the final tie, so the
// result never depends on anything but the candidate order.
func better(a, b Match) bool {
	if a.Combined != b.Combined {
		return a.Combined > b.Combined
	}
	if a.Candidate.HasDOI() != b.Candidate.HasDOI() {
		return a.Candidate.HasDOI()
	}
	if a.TitleScore != b.TitleScore {
		return a.TitleScore > b.TitleScore
	}
	return a.Index < b.Index
}
