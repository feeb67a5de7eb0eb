// Package domain provides domain models and business logic for the Citation Verification Service.
package domain

// SourceType identifies the external bibliographic source that produced a candidate record.
// These values must match the database enum source_type.
type SourceType string

const (
	SourceTypeCrossref      SourceType = "crossref"
	SourceTypeGoogleScholar SourceType = "google_scholar"
	SourceTypeArXiv         SourceType = "arxiv"
	SourceTypeGoogleSearch  SourceType = "google_search"
)

// DisplayName returns the human-readable source name used in explanations.
func (s SourceType) DisplayName() string {
	switch s {
	case SourceTypeCrossref:
		return "Crossref"
	case SourceTypeGoogleScholar:
		return "Google Scholar"
	case SourceTypeArXiv:
		return "arXiv"
	case SourceTypeGoogleSearch:
		return "Google Search"
	default:
		return string(s)
	}
}

// IsValid reports whether s is a known source type.
func (s SourceType) IsValid() bool {
	switch s {
	case SourceTypeCrossref, SourceTypeGoogleScholar, SourceTypeArXiv, SourceTypeGoogleSearch:
		return true
	default:
		return false
	}
}

// VerificationStatus is the final classification of a reference.
// These values must match the database enum verification_status.
type VerificationStatus string

const (
	StatusValidated VerificationStatus = "validated"
	StatusInvalid   VerificationStatus = "invalid"
	StatusNotFound  VerificationStatus = "not_found"
	StatusSkipped   VerificationStatus = "skipped"
)

// IsWarning returns true for statuses that require manual review.
func (s VerificationStatus) IsWarning() bool {
	return s == StatusInvalid || s == StatusNotFound
}

// IsValid reports whether s is a known status.
func (s VerificationStatus) IsValid() bool {
	switch s {
	case StatusValidated, StatusInvalid, StatusNotFound, StatusSkipped:
		return true
	default:
		return false
	}
}

// RunStatus represents the lifecycle of a persisted verification run.
// These values must match the database enum run_status.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusCancelled RunStatus = "cancelled"
)

// IsTerminal returns true if the status represents a final state that will not change.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusCancelled
}
