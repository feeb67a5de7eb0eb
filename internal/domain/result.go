package domain

import (
	"time"

	"github.com/google/uuid"
)

// VerificationResult is the final outcome for one reference entry.
// Exactly one result is produced per input entry.
type VerificationResult struct {
	Status        VerificationStatus `json:"status"`
	Explanation   string             `json:"explanation"`
	MatchedSource *SourceType        `json:"matched_source,omitempty"`
	Score         *float64           `json:"score,omitempty"`
	MatchedTitle  string             `json:"matched_title,omitempty"`
	MatchedURL    string             `json:"matched_url,omitempty"`
	SourcesTried  []SourceType       `json:"sources_tried,omitempty"`
}

// Validated builds a validated result. Score and source are always present.
func Validated(source SourceType, score float64, explanation string) VerificationResult {
	src := source
	sc := score
	return VerificationResult{
		Status:        StatusValidated,
		Explanation:   explanation,
		MatchedSource: &src,
		Score:         &sc,
	}
}

// Invalid builds an invalid result. The explanation must name the inconsistency.
func Invalid(explanation string) VerificationResult {
	return VerificationResult{Status: StatusInvalid, Explanation: explanation}
}

// NotFound builds a not-found result.
func NotFound(explanation string) VerificationResult {
	return VerificationResult{Status: StatusNotFound, Explanation: explanation}
}

// Skipped builds a skipped result.
func Skipped(explanation string) VerificationResult {
	return VerificationResult{Status: StatusSkipped, Explanation: explanation}
}

// SourceName returns the display name of the matched source, or "".
func (r VerificationResult) SourceName() string {
	if r.MatchedSource == nil {
		return ""
	}
	return r.MatchedSource.DisplayName()
}

// ScoreValue returns the score, or 0 when absent.
func (r VerificationResult) ScoreValue() float64 {
	if r.Score == nil {
		return 0
	}
	return *r.Score
}

// Summary aggregates a batch of verification results.
type Summary struct {
	CountValidated int      `json:"count_validated" yaml:"count_validated"`
	CountInvalid   int      `json:"count_invalid" yaml:"count_invalid"`
	CountNotFound  int      `json:"count_not_found" yaml:"count_not_found"`
	CountSkipped   int      `json:"count_skipped" yaml:"count_skipped"`
	Warnings       []string `json:"warnings" yaml:"warnings"`
}

// Total returns the number of results folded into the summary.
func (s Summary) Total() int {
	return s.CountValidated + s.CountInvalid + s.CountNotFound + s.CountSkipped
}

// CountWarnings returns the number of results that need manual review.
func (s Summary) CountWarnings() int {
	return s.CountInvalid + s.CountNotFound
}

// VerificationRun is a persisted batch verification.
type VerificationRun struct {
	ID             uuid.UUID
	Label          string
	Status         RunStatus
	ReferenceCount int
	Summary        Summary
	CreatedAt      time.Time
	CompletedAt    *time.Time
}

// StoredResult pairs a reference with its verification result for persistence.
type StoredResult struct {
	RunID     uuid.UUID
	Index     int
	Reference ReferenceEntry
	Result    VerificationResult
	CreatedAt time.Time
}
