package httpserver

import (
	"time"

	"github.com/helixir/citation-verification-service/internal/domain"
	"github.com/helixir/citation-verification-service/internal/verification"
)

// Verification response types for JSON serialization.

type startVerificationResponse struct {
	RunID     string    `json:"run_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	Message   string    `json:"message"`
}

type summaryResponse struct {
	CountValidated int      `json:"count_validated"`
	CountInvalid   int      `json:"count_invalid"`
	CountNotFound  int      `json:"count_not_found"`
	CountSkipped   int      `json:"count_skipped"`
	CountWarnings  int      `json:"count_warnings"`
	Warnings       []string `json:"warnings"`
}

type resultResponse struct {
	Index         int      `json:"index"`
	RawText       string   `json:"raw_text,omitempty"`
	Title         string   `json:"title,omitempty"`
	Status        string   `json:"status"`
	Explanation   string   `json:"explanation"`
	MatchedSource string   `json:"matched_source,omitempty"`
	Score         *float64 `json:"score,omitempty"`
	MatchedTitle  string   `json:"matched_title,omitempty"`
	MatchedURL    string   `json:"matched_url,omitempty"`
	SourcesTried  []string `json:"sources_tried"`
}

type verificationResponse struct {
	RunID          string           `json:"run_id"`
	Label          string           `json:"label,omitempty"`
	Status         string           `json:"status"`
	ReferenceCount int              `json:"reference_count"`
	Summary        summaryResponse  `json:"summary"`
	Results        []resultResponse `json:"results"`
	StartedAt      time.Time        `json:"started_at"`
	CompletedAt    time.Time        `json:"completed_at"`
	Duration       string           `json:"duration"`
}

type runResponse struct {
	RunID          string          `json:"run_id"`
	Label          string          `json:"label,omitempty"`
	Status         string          `json:"status"`
	ReferenceCount int             `json:"reference_count"`
	Summary        summaryResponse `json:"summary"`
	CreatedAt      time.Time       `json:"created_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	Duration       string          `json:"duration,omitempty"`
}

type listRunsResponse struct {
	Runs          []runResponse `json:"runs"`
	NextPageToken string        `json:"next_page_token,omitempty"`
	TotalCount    int           `json:"total_count"`
}

type listResultsResponse struct {
	RunID   string           `json:"run_id"`
	Results []resultResponse `json:"results"`
}

type cancelVerificationResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Converter functions

func domainSummaryToResponse(s domain.Summary) summaryResponse {
	warnings := s.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	return summaryResponse{
		CountValidated: s.CountValidated,
		CountInvalid:   s.CountInvalid,
		CountNotFound:  s.CountNotFound,
		CountSkipped:   s.CountSkipped,
		CountWarnings:  s.CountWarnings(),
		Warnings:       warnings,
	}
}

func domainResultToResponse(index int, ref domain.ReferenceEntry, r domain.VerificationResult) resultResponse {
	resp := resultResponse{
		Index:        index,
		RawText:      ref.RawText,
		Title:        ref.Title,
		Status:       string(r.Status),
		Explanation:  r.Explanation,
		Score:        r.Score,
		MatchedTitle: r.MatchedTitle,
		MatchedURL:   r.MatchedURL,
		SourcesTried: make([]string, len(r.SourcesTried)),
	}
	if r.MatchedSource != nil {
		resp.MatchedSource = string(*r.MatchedSource)
	}
	for i, s := range r.SourcesTried {
		resp.SourcesTried[i] = string(s)
	}
	return resp
}

func batchToResponse(label string, refs []domain.ReferenceEntry, b verification.BatchResult) verificationResponse {
	status := domain.RunStatusCompleted
	if b.Cancelled {
		status = domain.RunStatusCancelled
	}
	results := make([]resultResponse, len(b.Results))
	for i, r := range b.Results {
		results[i] = domainResultToResponse(i, refs[i], r)
	}
	return verificationResponse{
		RunID:          b.RunID.String(),
		Label:          label,
		Status:         string(status),
		ReferenceCount: len(refs),
		Summary:        domainSummaryToResponse(b.Summary),
		Results:        results,
		StartedAt:      b.StartedAt,
		CompletedAt:    b.FinishedAt,
		Duration:       b.Duration().String(),
	}
}

func domainRunToResponse(r *domain.VerificationRun) runResponse {
	resp := runResponse{
		RunID:          r.ID.String(),
		Label:          r.Label,
		Status:         string(r.Status),
		ReferenceCount: r.ReferenceCount,
		Summary:        domainSummaryToResponse(r.Summary),
		CreatedAt:      r.CreatedAt,
		CompletedAt:    r.CompletedAt,
	}
	if r.CompletedAt != nil {
		resp.Duration = r.CompletedAt.Sub(r.CreatedAt).String()
	}
	return resp
}

func storedResultsToResponse(stored []domain.StoredResult) []resultResponse {
	out := make([]resultResponse, len(stored))
	for i, s := range stored {
		out[i] = domainResultToResponse(s.Index, s.Reference, s.Result)
	}
	return out
}
