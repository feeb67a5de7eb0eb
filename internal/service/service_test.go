package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/citation-verification-service/internal/domain"
	"github.com/helixir/citation-verification-service/internal/events"
	"github.com/helixir/citation-verification-service/internal/repository"
	"github.com/helixir/citation-verification-service/internal/verification"
)

// verifierFunc adapts a function to verification.Verifier.
type verifierFunc func(ctx context.Context, ref domain.ReferenceEntry) (domain.VerificationResult, error)

func (f verifierFunc) Verify(ctx context.Context, ref domain.ReferenceEntry) (domain.VerificationResult, error) {
	return f(ctx, ref)
}

// titleVerifier validates every reference whose title starts with "Real".
var titleVerifier = verifierFunc(func(_ context.Context, ref domain.ReferenceEntry) (domain.VerificationResult, error) {
	if len(ref.Title) >= 4 && ref.Title[:4] == "Real" {
		return domain.Validated(domain.SourceTypeCrossref, 0.95, "Title and authors match Crossref record (score 0.95)."), nil
	}
	return domain.NotFound("No matching record above threshold in Crossref."), nil
})

// blockingVerifier waits until release is closed or ctx is cancelled.
func blockingVerifier(started chan<- struct{}, release <-chan struct{}) verifierFunc {
	var once sync.Once
	return func(ctx context.Context, _ domain.ReferenceEntry) (domain.VerificationResult, error) {
		once.Do(func() { close(started) })
		select {
		case <-release:
			return domain.Skipped("released"), nil
		case <-ctx.Done():
			return domain.VerificationResult{}, ctx.Err()
		}
	}
}

// recordingPublisher keeps published events.
type recordingPublisher struct {
	mu     sync.Mutex
	events []*domain.Event
}

func (p *recordingPublisher) Publish(_ context.Context, evts ...*domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evts...)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.EventType
	}
	return out
}

func refs(titles ...string) []domain.ReferenceEntry {
	out := make([]domain.ReferenceEntry, len(titles))
	for i, title := range titles {
		out[i] = domain.ReferenceEntry{Title: title, RawText: fmt.Sprintf("[%d] %s.", i+1, title)}
	}
	return out
}

func TestService_Verify(t *testing.T) {
	ctx := context.Background()

	t.Run("without persistence", func(t *testing.T) {
		pub := &recordingPublisher{}
		svc := New(titleVerifier, WithEmitter(events.NewEmitter(pub, "")), WithLogger(zerolog.Nop()))

		var mu sync.Mutex
		seen := map[int]domain.VerificationStatus{}
		batch, err := svc.Verify(ctx, Request{
			Label:      "refs.json",
			References: refs("Real Paper", "Fake Paper"),
			OnResult: func(index int, result domain.VerificationResult) {
				mu.Lock()
				defer mu.Unlock()
				seen[index] = result.Status
			},
		})
		require.NoError(t, err)

		require.Len(t, batch.Results, 2)
		assert.Equal(t, domain.StatusValidated, batch.Results[0].Status)
		assert.Equal(t, domain.StatusNotFound, batch.Results[1].Status)
		assert.Equal(t, 1, batch.Summary.CountValidated)
		assert.Equal(t, 1, batch.Summary.CountNotFound)
		assert.Equal(t, []string{"[2] Fake Paper."}, batch.Summary.Warnings)
		assert.False(t, batch.Cancelled)
		assert.Len(t, seen, 2)

		assert.Equal(t, []string{
			domain.EventTypeVerificationStarted,
			domain.EventTypeVerificationCompleted,
		}, pub.types())
		assert.False(t, svc.PersistenceEnabled())
	})

	t.Run("with persistence", func(t *testing.T) {
		repo := repository.NewMemoryRunRepository()
		svc := New(titleVerifier, WithRepository(repo), WithRunnerOptions(verification.WithWorkers(2)))

		batch, err := svc.Verify(ctx, Request{Label: "paper.pdf", References: refs("Real A", "Fake B", "Real C")})
		require.NoError(t, err)

		run, err := svc.GetRun(ctx, batch.RunID)
		require.NoError(t, err)
		assert.Equal(t, domain.RunStatusCompleted, run.Status)
		assert.Equal(t, "paper.pdf", run.Label)
		assert.Equal(t, 3, run.ReferenceCount)
		assert.Equal(t, 2, run.Summary.CountValidated)
		require.NotNil(t, run.CompletedAt)

		stored, err := svc.ListResults(ctx, batch.RunID)
		require.NoError(t, err)
		require.Len(t, stored, 3)
		assert.Equal(t, "Fake B", stored[1].Reference.Title)
		assert.Equal(t, domain.StatusNotFound, stored[1].Result.Status)

		runs, total, err := svc.ListRuns(ctx, repository.RunFilter{})
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		assert.Len(t, runs, 1)
	})

	t.Run("cancelled context marks the run cancelled", func(t *testing.T) {
		repo := repository.NewMemoryRunRepository()
		pub := &recordingPublisher{}
		svc := New(titleVerifier, WithRepository(repo), WithEmitter(events.NewEmitter(pub, "")))

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		batch, err := svc.Verify(cctx, Request{References: refs("Real A", "Real B")})
		require.NoError(t, err)
		assert.True(t, batch.Cancelled)
		assert.Equal(t, 2, batch.Summary.CountSkipped)

		run, err := repo.Get(ctx, batch.RunID)
		require.NoError(t, err)
		assert.Equal(t, domain.RunStatusCancelled, run.Status)
		assert.Contains(t, pub.types(), domain.EventTypeVerificationCancelled)
	})

	t.Run("validation", func(t *testing.T) {
		svc := New(titleVerifier)

		_, err := svc.Verify(ctx, Request{})
		assert.ErrorIs(t, err, domain.ErrInvalidInput)

		_, err = svc.Verify(ctx, Request{References: []domain.ReferenceEntry{{Title: "No raw text"}}})
		var ve *domain.ValidationError
		require.True(t, errors.As(err, &ve))
		assert.Equal(t, "references[0].raw_text", ve.Field)
	})
}

func TestService_StartAndCancel(t *testing.T) {
	repo := repository.NewMemoryRunRepository()
	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)

	svc := New(blockingVerifier(started, release), WithRepository(repo), WithRunnerOptions(verification.WithWorkers(1)))

	runID, err := svc.Start(context.Background(), Request{Label: "async", References: refs("Real A", "Real B", "Real C")})
	require.NoError(t, err)

	progress, unsubscribe, ok := svc.Subscribe(runID)
	require.True(t, ok)
	defer unsubscribe()

	<-started
	assert.True(t, svc.IsActive(runID))

	run, err := svc.GetRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusRunning, run.Status)

	require.NoError(t, svc.Cancel(runID))

	var last Progress
	timeout := time.After(5 * time.Second)
	for done := false; !done; {
		select {
		case p, open := <-progress:
			if !open {
				done = true
				break
			}
			last = p
		case <-timeout:
			t.Fatal("timed out waiting for terminal progress event")
		}
	}
	assert.Equal(t, ProgressCancelled, last.Type)
	require.NotNil(t, last.Summary)
	assert.Equal(t, 3, last.Summary.CountSkipped)

	require.NoError(t, svc.Wait(context.Background()))
	assert.False(t, svc.IsActive(runID))

	run, err = svc.GetRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCancelled, run.Status)

	stored, err := svc.ListResults(context.Background(), runID)
	require.NoError(t, err)
	assert.Len(t, stored, 3)

	assert.ErrorIs(t, svc.Cancel(runID), domain.ErrNotFound)
	_, _, ok = svc.Subscribe(runID)
	assert.False(t, ok)
}

func TestService_StartCompletes(t *testing.T) {
	repo := repository.NewMemoryRunRepository()
	svc := New(titleVerifier, WithRepository(repo))

	runID, err := svc.Start(context.Background(), Request{References: refs("Real A", "Fake B")})
	require.NoError(t, err)
	require.NoError(t, svc.Wait(context.Background()))

	run, err := svc.GetRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, run.Status)
	assert.Equal(t, 1, run.Summary.CountNotFound)
}

func TestService_Shutdown(t *testing.T) {
	repo := repository.NewMemoryRunRepository()
	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)

	svc := New(blockingVerifier(started, release), WithRepository(repo))
	runID, err := svc.Start(context.Background(), Request{References: refs("Real A")})
	require.NoError(t, err)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, svc.Shutdown(ctx))

	run, err := repo.Get(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCancelled, run.Status)
}

func TestService_WithoutPersistence(t *testing.T) {
	ctx := context.Background()
	svc := New(titleVerifier)

	_, err := svc.Start(ctx, Request{References: refs("Real A")})
	assert.ErrorIs(t, err, ErrPersistenceDisabled)
	assert.ErrorIs(t, err, domain.ErrServiceUnavailable)

	_, err = svc.GetRun(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrPersistenceDisabled)
	_, err = svc.ListResults(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrPersistenceDisabled)
	_, _, err = svc.ListRuns(ctx, repository.RunFilter{})
	assert.ErrorIs(t, err, ErrPersistenceDisabled)
}

func TestProgressHub(t *testing.T) {
	hub := newProgressHub()
	runID := uuid.New()

	ch, unsubscribe := hub.subscribe(runID)
	other, unsubscribeOther := hub.subscribe(runID)
	unsubscribeOther()
	unsubscribeOther()
	_, open := <-other
	assert.False(t, open, "unsubscribed channel is closed")

	for i := 0; i < subscriberBuffer+10; i++ {
		hub.publish(runID, Progress{Type: ProgressResult, Index: i})
	}
	hub.finish(runID, Progress{Type: ProgressCompleted})

	var got []Progress
	for p := range ch {
		got = append(got, p)
	}
	require.NotEmpty(t, got)
	assert.Equal(t, ProgressCompleted, got[len(got)-1].Type, "terminal event survives a full buffer")
	assert.LessOrEqual(t, len(got), subscriberBuffer)

	unsubscribe()
	assert.True(t, ProgressCancelled.IsTerminal())
	assert.False(t, ProgressResult.IsTerminal())
}
