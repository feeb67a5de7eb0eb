package verification

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/helixir/citation-verification-service/internal/domain"
)

func sampleBatch() ([]domain.ReferenceEntry, []domain.VerificationResult) {
	entries := []domain.ReferenceEntry{
		{Title: "A", RawText: "[1] A."},
		{Title: "B", RawText: "[2] B."},
		{Title: "C", RawText: "[3] C."},
		{RawText: "[4] ???"},
		{Title: "E", RawText: "[5] E."},
		{Title: "F", RawText: "[6] F."},
	}
	results := []domain.VerificationResult{
		domain.Validated(domain.SourceTypeCrossref, 0.97, "ok"),
		domain.Invalid("DOI resolves to a different work"),
		domain.NotFound("No matching record"),
		domain.Skipped(ExplanationSkipped),
		domain.Validated(domain.SourceTypeArXiv, 0.9, "ok"),
		domain.NotFound("No matching record"),
	}
	return entries, results
}

func TestFold(t *testing.T) {
	entries, results := sampleBatch()

	got := Fold(results, entries)

	assert.Equal(t, 2, got.CountValidated)
	assert.Equal(t, 1, got.CountInvalid)
	assert.Equal(t, 2, got.CountNotFound)
	assert.Equal(t, 1, got.CountSkipped)
	assert.Equal(t, len(results), got.Total())
	assert.Equal(t, 3, got.CountWarnings())
	assert.Equal(t, []string{"[2] B.", "[3] C.", "[6] F."}, got.Warnings)
}

func TestFold_Empty(t *testing.T) {
	got := Fold(nil, nil)

	assert.Zero(t, got.Total())
	assert.NotNil(t, got.Warnings)
	assert.Empty(t, got.Warnings)
}

func TestFold_WarningFallsBackToExplanation(t *testing.T) {
	got := Fold([]domain.VerificationResult{domain.NotFound("nothing matched")}, nil)

	assert.Equal(t, []string{"nothing matched"}, got.Warnings)
}

func TestFold_CountsAreOrderIndependent(t *testing.T) {
	entries, results := sampleBatch()
	want := Fold(results, entries)

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 20; i++ {
		perm := rng.Perm(len(results))
		shuffled := make([]domain.VerificationResult, len(results))
		for j, p := range perm {
			shuffled[j] = results[p]
		}

		got := Fold(shuffled, nil)
		assert.Equal(t, want.CountValidated, got.CountValidated)
		assert.Equal(t, want.CountInvalid, got.CountInvalid)
		assert.Equal(t, want.CountNotFound, got.CountNotFound)
		assert.Equal(t, want.CountSkipped, got.CountSkipped)
	}
}

func TestAggregator_ConcurrentAddKeepsIndexOrder(t *testing.T) {
	entries, results := sampleBatch()
	agg := NewAggregator()

	var wg sync.WaitGroup
	for i := len(results) - 1; i >= 0; i-- {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			agg.Add(i, entries[i], results[i])
		}(i)
	}
	wg.Wait()

	assert.Equal(t, Fold(results, entries), agg.Summary())
}
