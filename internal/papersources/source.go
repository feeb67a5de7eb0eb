// Package papersources provides interfaces and types for bibliographic source clients.
//
// This package defines the foundational abstractions that all source
// implementations must follow. Each external source (Crossref, Google Scholar,
// arXiv, Google Search) implements the Source interface, allowing the
// verification engine to look up candidate records through a unified API
// without branching on the source name.
//
// Example usage:
//
//	client := crossref.New(cfg)
//	source := papersources.Retrying(client, papersources.DefaultRetryPolicy())
//	candidates, err := source.Query(ctx, ref)
//	for c, ok := candidates.Next(); ok; c, ok = candidates.Next() {
//		// ...
//	}
package papersources

import (
	"context"

	"github.com/helixir/citation-verification-service/internal/domain"
)

// Operation names used in logs, metrics and errors.
const (
	OpQuery      = "query"
	OpQueryByDOI = "query_by_doi"
)

// Source defines the interface that all bibliographic source clients must implement.
type Source interface {
	// Query looks up candidate records for a reference.
	// The returned Candidates is finite and may be empty.
	//
	// Implementations should:
	//   - Respect context cancellation
	//   - Apply rate limiting as needed
	//   - Return domain.TransientSourceError (or domain.RateLimitError) for
	//     network, timeout, rate-limit and 5xx failures
	//   - Return domain.PermanentSourceError for malformed queries and
	//     unparseable responses
	Query(ctx context.Context, ref domain.ReferenceEntry) (Candidates, error)

	// SourceType returns the type identifier for this source.
	SourceType() domain.SourceType

	// Name returns a human-readable name for this source.
	// Used for logging, metrics, and explanations.
	Name() string

	// IsEnabled returns whether this source is enabled. A source may be
	// disabled by configuration or missing credentials.
	IsEnabled() bool
}

// DOIResolver is implemented by sources that can resolve a DOI directly.
type DOIResolver interface {
	// QueryByDOI returns the record the DOI is registered to.
	// Returns domain.ErrNotFound if the DOI does not resolve.
	QueryByDOI(ctx context.Context, doi string) (*domain.CandidateRecord, error)
}

// Candidates is a finite, lazily produced sequence of candidate records.
// It is not restartable: once Next returns false it keeps returning false.
type Candidates interface {
	Next() (domain.CandidateRecord, bool)
}

// lazyCandidates converts source-specific results on demand.
type lazyCandidates struct {
	n   int
	pos int
	at  func(i int) (domain.CandidateRecord, bool)
}

// Lazy returns Candidates over n raw results. at converts result i and
// reports false for results that carry nothing usable, which are skipped.
func Lazy(n int, at func(i int) (domain.CandidateRecord, bool)) Candidates {
	return &lazyCandidates{n: n, at: at}
}

func (l *lazyCandidates) Next() (domain.CandidateRecord, bool) {
	for l.pos < l.n {
		i := l.pos
		l.pos++
		if rec, ok := l.at(i); ok {
			return rec, true
		}
	}
	return domain.CandidateRecord{}, false
}

// FromSlice returns Candidates over already converted records.
func FromSlice(records []domain.CandidateRecord) Candidates {
	return Lazy(len(records), func(i int) (domain.CandidateRecord, bool) {
		return records[i], true
	})
}

// NoCandidates returns an empty sequence.
func NoCandidates() Candidates {
	return Lazy(0, nil)
}

// failedCandidates is the empty answer Retrying gives for a permanent failure.
type failedCandidates struct {
	err error
}

func (failedCandidates) Next() (domain.CandidateRecord, bool) {
	return domain.CandidateRecord{}, false
}

// FailedCandidates returns an empty sequence that remembers the permanent
// failure behind it, so decorators can tell it from a genuine "no results".
func FailedCandidates(err error) Candidates {
	return failedCandidates{err: err}
}

// FailureOf returns the failure recorded by FailedCandidates, or nil.
func FailureOf(c Candidates) error {
	if f, ok := c.(failedCandidates); ok {
		return f.err
	}
	return nil
}

// Collect drains c into a slice.
func Collect(c Candidates) []domain.CandidateRecord {
	if c == nil {
		return nil
	}
	var out []domain.CandidateRecord
	for rec, ok := c.Next(); ok; rec, ok = c.Next() {
		out = append(out, rec)
	}
	return out
}
