package papersources

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/helixir/citation-verification-service/internal/domain"
)

// Default retry policy values.
const (
	DefaultMaxAttempts     = 3
	DefaultInitialInterval = 1 * time.Second
	DefaultMultiplier      = 2.0
	DefaultMaxInterval     = 10 * time.Second
	DefaultMaxElapsed      = 30 * time.Second
	DefaultJitter          = 0.2
)

// Error type labels for failed source requests.
const (
	errTypeTransient   = "transient"
	errTypeRateLimited = "rate_limited"
	errTypeNotFound    = "not_found"
	errTypePermanent   = "permanent"
	errTypeCancelled   = "cancelled"
)

// RetryPolicy bounds how a source call is retried after transient failures.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// InitialInterval is the wait before the second attempt.
	InitialInterval time.Duration

	// Multiplier grows the wait between consecutive attempts.
	Multiplier float64

	// MaxInterval caps a single wait, including waits requested by Retry-After.
	MaxInterval time.Duration

	// MaxElapsed bounds the total time spent retrying one call.
	MaxElapsed time.Duration

	// Jitter is the randomization factor applied to each wait, in [0,1).
	Jitter float64
}

// DefaultRetryPolicy returns the default retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     DefaultMaxAttempts,
		InitialInterval: DefaultInitialInterval,
		Multiplier:      DefaultMultiplier,
		MaxInterval:     DefaultMaxInterval,
		MaxElapsed:      DefaultMaxElapsed,
		Jitter:          DefaultJitter,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = d.InitialInterval
	}
	if p.Multiplier < 1 {
		p.Multiplier = d.Multiplier
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = d.MaxInterval
	}
	if p.MaxElapsed <= 0 {
		p.MaxElapsed = d.MaxElapsed
	}
	if p.Jitter < 0 || p.Jitter >= 1 {
		p.Jitter = d.Jitter
	}
	return p
}

// Recorder receives per-request source metrics.
// *observability.Metrics satisfies it.
type Recorder interface {
	RecordSourceRequest(source, operation string, durationSeconds float64)
	RecordSourceRequestFailed(source, operation, errorType string)
	RecordSourceRetry(source string)
	RecordSourceUnavailable(source string)
	RecordSourceRateLimited(source string)
}

type nopRecorder struct{}

func (nopRecorder) RecordSourceRequest(string, string, float64)     {}
func (nopRecorder) RecordSourceRequestFailed(string, string, string) {}
func (nopRecorder) RecordSourceRetry(string)                         {}
func (nopRecorder) RecordSourceUnavailable(string)                   {}
func (nopRecorder) RecordSourceRateLimited(string)                   {}

// RetryOption configures a retrying source.
type RetryOption func(*retryingSource)

// WithRetryLogger sets the logger used for retry and demotion messages.
func WithRetryLogger(logger zerolog.Logger) RetryOption {
	return func(r *retryingSource) {
		r.logger = logger
	}
}

// WithRetryMetrics sets the metrics recorder.
func WithRetryMetrics(rec Recorder) RetryOption {
	return func(r *retryingSource) {
		if rec != nil {
			r.recorder = rec
		}
	}
}

// Retrying wraps a source with the retry policy.
//
// Transient failures are retried with exponential backoff. When the attempts
// or the elapsed-time bound run out the call fails with an error matching
// domain.ErrServiceUnavailable. Permanent failures and "not found" answers
// from Query become an empty candidate set; for permanent failures FailureOf
// reports the cause. Context cancellation stops the loop immediately and the
// context error is returned.
//
// When inner also implements DOIResolver, so does the returned Source.
func Retrying(inner Source, policy RetryPolicy, opts ...RetryOption) Source {
	r := &retryingSource{
		inner:    inner,
		policy:   policy.withDefaults(),
		logger:   zerolog.Nop(),
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(r)
	}
	if resolver, ok := inner.(DOIResolver); ok {
		return &retryingResolver{retryingSource: r, resolver: resolver}
	}
	return r
}

type retryingSource struct {
	inner    Source
	policy   RetryPolicy
	logger   zerolog.Logger
	recorder Recorder
}

var _ Source = (*retryingSource)(nil)

func (r *retryingSource) SourceType() domain.SourceType { return r.inner.SourceType() }
func (r *retryingSource) Name() string                  { return r.inner.Name() }
func (r *retryingSource) IsEnabled() bool               { return r.inner.IsEnabled() }

// Unwrap returns the wrapped source.
func (r *retryingSource) Unwrap() Source { return r.inner }

// Query runs the inner Query under the retry policy.
func (r *retryingSource) Query(ctx context.Context, ref domain.ReferenceEntry) (Candidates, error) {
	var out Candidates
	err := r.call(ctx, OpQuery, func(ctx context.Context) error {
		c, err := r.inner.Query(ctx, ref)
		if err != nil {
			return err
		}
		out = c
		return nil
	})
	switch {
	case err == nil:
		if out == nil {
			out = NoCandidates()
		}
		return out, nil
	case errors.Is(err, domain.ErrNotFound):
		return NoCandidates(), nil
	case errors.Is(err, domain.ErrPermanent):
		return FailedCandidates(err), nil
	default:
		return nil, err
	}
}

type retryingResolver struct {
	*retryingSource
	resolver DOIResolver
}

var _ DOIResolver = (*retryingResolver)(nil)

// QueryByDOI runs the inner QueryByDOI under the retry policy.
// A permanent failure is reported as domain.ErrNotFound.
func (r *retryingResolver) QueryByDOI(ctx context.Context, doi string) (*domain.CandidateRecord, error) {
	var out *domain.CandidateRecord
	err := r.call(ctx, OpQueryByDOI, func(ctx context.Context) error {
		rec, err := r.resolver.QueryByDOI(ctx, doi)
		if err != nil {
			return err
		}
		out = rec
		return nil
	})
	switch {
	case err == nil:
		if out == nil {
			return nil, domain.NewNotFoundError("doi", doi)
		}
		return out, nil
	case errors.Is(err, domain.ErrNotFound):
		return nil, err
	case errors.Is(err, domain.ErrPermanent):
		return nil, fmt.Errorf("%w: %w", domain.ErrNotFound, err)
	default:
		return nil, err
	}
}

// call runs fn until it succeeds, fails non-transiently, or the policy is exhausted.
func (r *retryingSource) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	source := string(r.inner.SourceType())
	logger := r.logger.With().Str("source", source).Str("operation", op).Logger()

	hint := &retryHint{}
	b := r.newBackOff(ctx, hint)

	attempts := 0
	var lastErr error
	operation := func() error {
		attempts++
		start := time.Now()
		err := fn(ctx)
		r.recorder.RecordSourceRequest(source, op, time.Since(start).Seconds())
		if err == nil {
			return nil
		}
		lastErr = err

		if ctxErr := ctx.Err(); ctxErr != nil {
			r.recorder.RecordSourceRequestFailed(source, op, errTypeCancelled)
			return backoff.Permanent(ctxErr)
		}

		var rl *domain.RateLimitError
		if errors.As(err, &rl) {
			r.recorder.RecordSourceRateLimited(source)
			r.recorder.RecordSourceRequestFailed(source, op, errTypeRateLimited)
			hint.set(rl.RetryAfter)
			return err
		}
		if domain.IsTransient(err) {
			r.recorder.RecordSourceRequestFailed(source, op, errTypeTransient)
			return err
		}
		if errors.Is(err, domain.ErrNotFound) {
			r.recorder.RecordSourceRequestFailed(source, op, errTypeNotFound)
		} else {
			r.recorder.RecordSourceRequestFailed(source, op, errTypePermanent)
			logger.Debug().Err(err).Msg("permanent source failure")
		}
		return backoff.Permanent(err)
	}

	notify := func(err error, wait time.Duration) {
		r.recorder.RecordSourceRetry(source)
		logger.Warn().
			Err(err).
			Int("attempt", attempts).
			Dur("backoff", wait).
			Msg("transient source failure, retrying")
	}

	err := backoff.RetryNotify(operation, b, notify)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if !domain.IsTransient(err) {
		return err
	}

	r.recorder.RecordSourceUnavailable(source)
	logger.Warn().
		Err(lastErr).
		Int("attempts", attempts).
		Msg("source unavailable after retries")
	return fmt.Errorf("%w: %s %s failed after %d attempts: %w",
		domain.ErrServiceUnavailable, r.inner.Name(), op, attempts, lastErr)
}

func (r *retryingSource) newBackOff(ctx context.Context, hint *retryHint) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = r.policy.InitialInterval
	eb.Multiplier = r.policy.Multiplier
	eb.MaxInterval = r.policy.MaxInterval
	eb.MaxElapsedTime = r.policy.MaxElapsed
	eb.RandomizationFactor = r.policy.Jitter

	hinted := &hintedBackOff{BackOff: eb, hint: hint, max: r.policy.MaxInterval}
	limited := backoff.WithMaxRetries(hinted, uint64(r.policy.MaxAttempts-1))
	return backoff.WithContext(limited, ctx)
}

// retryHint carries a server-requested wait into the next backoff.
type retryHint struct {
	wait time.Duration
}

func (h *retryHint) set(d time.Duration) { h.wait = d }

func (h *retryHint) take() time.Duration {
	d := h.wait
	h.wait = 0
	return d
}

// hintedBackOff lengthens a wait to honour Retry-After, capped at max.
type hintedBackOff struct {
	backoff.BackOff
	hint *retryHint
	max  time.Duration
}

func (h *hintedBackOff) NextBackOff() time.Duration {
	next := h.BackOff.NextBackOff()
	if next == backoff.Stop {
		return next
	}
	if want := h.hint.take(); want > next {
		next = min(want, h.max)
	}
	return next
}
