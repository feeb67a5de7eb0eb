package verification

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/helixir/citation-verification-service/internal/domain"
	"github.com/helixir/citation-verification-service/internal/observability"
)

// DefaultWorkers is the default number of references verified concurrently.
const DefaultWorkers = 4

// Verifier classifies a single reference. *Engine implements it.
type Verifier interface {
	Verify(ctx context.Context, ref domain.ReferenceEntry) (domain.VerificationResult, error)
}

// Recorder receives run and reference metrics.
// *observability.Metrics satisfies it.
type Recorder interface {
	RecordVerificationStarted()
	RecordVerificationCompleted(durationSeconds float64)
	RecordVerificationCancelled(durationSeconds float64)
	RecordReference(status string, durationSeconds float64)
}

type nopRecorder struct{}

func (nopRecorder) RecordVerificationStarted()          {}
func (nopRecorder) RecordVerificationCompleted(float64) {}
func (nopRecorder) RecordVerificationCancelled(float64) {}
func (nopRecorder) RecordReference(string, float64)     {}

// ResultFunc is called once per reference as soon as its result is known.
// Calls may come from several goroutines.
type ResultFunc func(index int, result domain.VerificationResult)

// BatchResult is the outcome of verifying a batch of references.
type BatchResult struct {
	RunID uuid.UUID

	// Results is index-aligned with the input entries.
	Results []domain.VerificationResult

	Summary domain.Summary

	// Cancelled is true when the batch was cancelled before every
	// reference was checked.
	Cancelled bool

	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration returns the wall time of the run.
func (b BatchResult) Duration() time.Duration {
	return b.FinishedAt.Sub(b.StartedAt)
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithWorkers sets the number of references verified concurrently.
func WithWorkers(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.workers = n
		}
	}
}

// WithLogger sets the runner logger.
func WithLogger(logger zerolog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(rec Recorder) RunnerOption {
	return func(r *Runner) {
		if rec != nil {
			r.recorder = rec
		}
	}
}

// WithOnResult registers a progress callback.
func WithOnResult(fn ResultFunc) RunnerOption {
	return func(r *Runner) {
		r.onResult = fn
	}
}

// Runner verifies batches of references on a bounded worker pool.
type Runner struct {
	verifier Verifier
	workers  int
	logger   zerolog.Logger
	recorder Recorder
	onResult ResultFunc
}

// NewRunner creates a runner over verifier.
func NewRunner(verifier Verifier, opts ...RunnerOption) *Runner {
	r := &Runner{
		verifier: verifier,
		workers:  DefaultWorkers,
		logger:   zerolog.Nop(),
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run verifies entries and returns exactly one result per entry.
//
// Cancelling ctx stops new references from starting and interrupts
// in-flight source calls. References that did not complete are reported as
// skipped with ExplanationCancelled; results already computed are kept and
// the summary covers every entry.
func (r *Runner) Run(ctx context.Context, entries []domain.ReferenceEntry) BatchResult {
	return r.RunWithID(ctx, uuid.New(), entries)
}

// RunWithID is Run with a caller-chosen run ID.
func (r *Runner) RunWithID(ctx context.Context, runID uuid.UUID, entries []domain.ReferenceEntry) BatchResult {
	batch := BatchResult{
		RunID:     runID,
		Results:   make([]domain.VerificationResult, len(entries)),
		StartedAt: time.Now(),
	}
	logger := observability.WithRunContext(r.logger, runID.String())
	ctx = observability.WithRunID(ctx, runID.String())

	r.recorder.RecordVerificationStarted()
	logger.Info().Int("references", len(entries)).Int("workers", r.workers).Msg("verification run started")

	agg := NewAggregator()
	done := make([]bool, len(entries))

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < min(r.workers, max(len(entries), 1)); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				result, ok := r.verifyOne(ctx, i, entries[i], logger)
				if !ok {
					continue
				}
				batch.Results[i] = result
				done[i] = true
				agg.Add(i, entries[i], result)
				if r.onResult != nil {
					r.onResult(i, result)
				}
			}
		}()
	}

feed:
	for i := range entries {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	for i := range entries {
		if done[i] {
			continue
		}
		batch.Cancelled = true
		result := domain.Skipped(ExplanationCancelled)
		batch.Results[i] = result
		agg.Add(i, entries[i], result)
	}

	batch.Summary = agg.Summary()
	batch.FinishedAt = time.Now()
	duration := batch.Duration().Seconds()

	event := logger.Info().
		Int("validated", batch.Summary.CountValidated).
		Int("invalid", batch.Summary.CountInvalid).
		Int("not_found", batch.Summary.CountNotFound).
		Int("skipped", batch.Summary.CountSkipped).
		Dur("duration", batch.Duration())
	if batch.Cancelled {
		r.recorder.RecordVerificationCancelled(duration)
		event.Msg("verification run cancelled")
	} else {
		r.recorder.RecordVerificationCompleted(duration)
		event.Msg("verification run completed")
	}
	return batch
}

// verifyOne runs the verifier for one entry. ok is false when the entry was
// interrupted by cancellation and has no conclusive result.
func (r *Runner) verifyOne(ctx context.Context, index int, entry domain.ReferenceEntry, logger zerolog.Logger) (domain.VerificationResult, bool) {
	if ctx.Err() != nil {
		return domain.VerificationResult{}, false
	}

	start := time.Now()
	result, err := r.verifier.Verify(observability.WithReferenceIndex(ctx, index), entry)
	if err != nil {
		if errors.Is(err, domain.ErrCancelled) || ctx.Err() != nil {
			return domain.VerificationResult{}, false
		}
		// Every entry still gets a result.
		logger.Error().Err(err).Int("ref_index", index).Msg("verification failed")
		result = domain.NotFound("Verification failed; reference could not be checked.")
	}

	r.recorder.RecordReference(string(result.Status), time.Since(start).Seconds())
	return result, true
}
