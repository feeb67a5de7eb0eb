package verification

import (
	"sort"
	"strings"
	"sync"

	"github.com/helixir/citation-verification-service/internal/domain"
)

// Fold reduces results into a summary. entries supplies the warning text
// and must be index-aligned with results; a missing entry falls back to the
// result explanation.
func Fold(results []domain.VerificationResult, entries []domain.ReferenceEntry) domain.Summary {
	agg := NewAggregator()
	for i, result := range results {
		var entry domain.ReferenceEntry
		if i < len(entries) {
			entry = entries[i]
		}
		agg.Add(i, entry, result)
	}
	return agg.Summary()
}

// Aggregator folds results incrementally as they complete. It is safe for
// concurrent use. Counts do not depend on the order of Add calls; warnings
// are reported in index order.
type Aggregator struct {
	mu       sync.Mutex
	summary  domain.Summary
	warnings map[int]string
}

// NewAggregator creates an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{warnings: make(map[int]string)}
}

// Add folds the result of the reference at index.
func (a *Aggregator) Add(index int, entry domain.ReferenceEntry, result domain.VerificationResult) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch result.Status {
	case domain.StatusValidated:
		a.summary.CountValidated++
	case domain.StatusInvalid:
		a.summary.CountInvalid++
	case domain.StatusNotFound:
		a.summary.CountNotFound++
	case domain.StatusSkipped:
		a.summary.CountSkipped++
	}

	if result.Status.IsWarning() {
		a.warnings[index] = warningText(entry, result)
	}
}

// Summary returns the summary of everything added so far.
func (a *Aggregator) Summary() domain.Summary {
	a.mu.Lock()
	defer a.mu.Unlock()

	indexes := make([]int, 0, len(a.warnings))
	for i := range a.warnings {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)

	out := a.summary
	out.Warnings = make([]string, 0, len(indexes))
	for _, i := range indexes {
		out.Warnings = append(out.Warnings, a.warnings[i])
	}
	return out
}

// warningText is the bibliography line a reviewer should look up.
func warningText(entry domain.ReferenceEntry, result domain.VerificationResult) string {
	for _, s := range []string{entry.RawText, entry.Title, result.Explanation} {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}
