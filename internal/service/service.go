// Package service coordinates verification runs: it drives the batch runner,
// persists runs and results when a repository is configured, publishes
// lifecycle events and fans out per-reference progress to subscribers.
//
// Both the HTTP API and the CLI go through a Service so a run behaves the same
// way regardless of how it was started.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/helixir/citation-verification-service/internal/domain"
	"github.com/helixir/citation-verification-service/internal/events"
	"github.com/helixir/citation-verification-service/internal/repository"
	"github.com/helixir/citation-verification-service/internal/verification"
)

// ErrPersistenceDisabled is returned by operations that need a run
// repository when none is configured.
var ErrPersistenceDisabled = fmt.Errorf("run persistence is disabled: %w", domain.ErrServiceUnavailable)

// persistTimeout bounds the writes made after a run finishes. They use a
// fresh context so a cancelled run is still recorded.
const persistTimeout = 30 * time.Second

// Request describes one batch of references to verify.
type Request struct {
	// Label is a free-form name for the run, e.g. the source file name.
	Label string

	References []domain.ReferenceEntry

	// OnResult, when set, is called for every reference as soon as its
	// result is known. It may be called from several goroutines.
	OnResult verification.ResultFunc
}

// Option configures a Service.
type Option func(*Service)

// WithRepository enables run persistence.
func WithRepository(repo repository.RunRepository) Option {
	return func(s *Service) {
		s.repo = repo
	}
}

// WithEmitter publishes run lifecycle events through emitter.
func WithEmitter(emitter *events.Emitter) Option {
	return func(s *Service) {
		if emitter != nil {
			s.emitter = emitter
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) {
		s.logger = logger.With().Str("component", "verification_service").Logger()
	}
}

// WithRunnerOptions sets options applied to every batch runner the service
// creates, e.g. worker count and metrics.
func WithRunnerOptions(opts ...verification.RunnerOption) Option {
	return func(s *Service) {
		s.runnerOpts = append(s.runnerOpts, opts...)
	}
}

// Service runs verifications. It is safe for concurrent use.
type Service struct {
	verifier   verification.Verifier
	runnerOpts []verification.RunnerOption
	repo       repository.RunRepository
	emitter    *events.Emitter
	logger     zerolog.Logger
	hub        *progressHub

	mu     sync.Mutex
	active map[uuid.UUID]context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a service verifying references with verifier.
func New(verifier verification.Verifier, opts ...Option) *Service {
	s := &Service{
		verifier: verifier,
		emitter:  events.NewEmitter(nil, ""),
		logger:   zerolog.Nop(),
		hub:      newProgressHub(),
		active:   make(map[uuid.UUID]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PersistenceEnabled reports whether runs are stored.
func (s *Service) PersistenceEnabled() bool {
	return s.repo != nil
}

// Verify runs req to completion and returns its results. Cancelling ctx
// ends the run early; the returned batch is then marked cancelled and still
// holds one result per reference.
func (s *Service) Verify(ctx context.Context, req Request) (verification.BatchResult, error) {
	if err := validateRequest(req); err != nil {
		return verification.BatchResult{}, err
	}

	run := newRun(req)
	if err := s.begin(ctx, run); err != nil {
		return verification.BatchResult{}, err
	}
	return s.execute(ctx, run, req), nil
}

// Start begins req in the background and returns its run ID immediately.
// The run outlives the caller's request; it stops when Cancel is called or
// base is cancelled. Start requires persistence so the outcome can be read
// back later.
func (s *Service) Start(base context.Context, req Request) (uuid.UUID, error) {
	if s.repo == nil {
		return uuid.Nil, ErrPersistenceDisabled
	}
	if err := validateRequest(req); err != nil {
		return uuid.Nil, err
	}

	run := newRun(req)
	if err := s.begin(base, run); err != nil {
		return uuid.Nil, err
	}

	ctx, cancel := context.WithCancel(base)
	s.mu.Lock()
	s.active[run.ID] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.active, run.ID)
			s.mu.Unlock()
			cancel()
		}()
		s.execute(ctx, run, req)
	}()

	return run.ID, nil
}

// Cancel stops a background run started by this service.
func (s *Service) Cancel(runID uuid.UUID) error {
	s.mu.Lock()
	cancel, ok := s.active[runID]
	s.mu.Unlock()
	if !ok {
		return domain.NewNotFoundError("active verification run", runID.String())
	}
	s.logger.Info().Str("run_id", runID.String()).Msg("cancelling verification run")
	cancel()
	return nil
}

// IsActive reports whether runID is running in this process.
func (s *Service) IsActive(runID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[runID]
	return ok
}

// Subscribe streams progress of an active run. The channel is closed after
// the terminal event or when unsubscribe is called. ok is false when the run
// is not active in this process.
func (s *Service) Subscribe(runID uuid.UUID) (ch <-chan Progress, unsubscribe func(), ok bool) {
	if !s.IsActive(runID) {
		return nil, func() {}, false
	}
	ch, unsubscribe = s.hub.subscribe(runID)
	return ch, unsubscribe, true
}

// Wait blocks until every background run has finished or ctx is done.
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown cancels every background run and waits for them to be recorded.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for _, cancel := range s.active {
		cancel()
	}
	s.mu.Unlock()
	return s.Wait(ctx)
}

// GetRun returns a stored run.
func (s *Service) GetRun(ctx context.Context, runID uuid.UUID) (*domain.VerificationRun, error) {
	if s.repo == nil {
		return nil, ErrPersistenceDisabled
	}
	return s.repo.Get(ctx, runID)
}

// ListResults returns the stored results of a run.
func (s *Service) ListResults(ctx context.Context, runID uuid.UUID) ([]domain.StoredResult, error) {
	if s.repo == nil {
		return nil, ErrPersistenceDisabled
	}
	if _, err := s.repo.Get(ctx, runID); err != nil {
		return nil, err
	}
	return s.repo.ListResults(ctx, runID)
}

// ListRuns returns stored runs matching filter.
func (s *Service) ListRuns(ctx context.Context, filter repository.RunFilter) ([]*domain.VerificationRun, int64, error) {
	if s.repo == nil {
		return nil, 0, ErrPersistenceDisabled
	}
	return s.repo.List(ctx, filter)
}

func validateRequest(req Request) error {
	if len(req.References) == 0 {
		return domain.NewValidationError("references", "at least one reference is required")
	}
	for i, ref := range req.References {
		if err := ref.Validate(); err != nil {
			var ve *domain.ValidationError
			if errors.As(err, &ve) {
				return domain.NewValidationError(fmt.Sprintf("references[%d].%s", i, ve.Field), ve.Message)
			}
			return err
		}
	}
	return nil
}

func newRun(req Request) *domain.VerificationRun {
	return &domain.VerificationRun{
		ID:             uuid.New(),
		Label:          req.Label,
		Status:         domain.RunStatusRunning,
		ReferenceCount: len(req.References),
		CreatedAt:      time.Now().UTC(),
	}
}

// begin stores the new run and announces it.
func (s *Service) begin(ctx context.Context, run *domain.VerificationRun) error {
	if s.repo != nil {
		if err := s.repo.Create(ctx, run); err != nil {
			return fmt.Errorf("create run: %w", err)
		}
	}
	if err := s.emitter.RunStarted(ctx, run); err != nil {
		s.logger.Warn().Err(err).Str("run_id", run.ID.String()).Msg("failed to publish run started event")
	}
	return nil
}

// execute runs the batch, then records and announces the outcome.
// Failures to record are logged; the batch result is always returned.
func (s *Service) execute(ctx context.Context, run *domain.VerificationRun, req Request) verification.BatchResult {
	onResult := func(index int, result domain.VerificationResult) {
		s.hub.publish(run.ID, Progress{
			Type:   ProgressResult,
			RunID:  run.ID,
			Index:  index,
			Total:  run.ReferenceCount,
			Result: &result,
		})
		if req.OnResult != nil {
			req.OnResult(index, result)
		}
	}

	opts := append(append([]verification.RunnerOption{}, s.runnerOpts...), verification.WithOnResult(onResult))
	batch := verification.NewRunner(s.verifier, opts...).RunWithID(ctx, run.ID, req.References)

	run.Summary = batch.Summary
	run.Status = domain.RunStatusCompleted
	if batch.Cancelled {
		run.Status = domain.RunStatusCancelled
	}
	completedAt := batch.FinishedAt.UTC()
	run.CompletedAt = &completedAt

	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	s.record(persistCtx, run, req.References, batch)

	if err := s.emitter.RunFinished(persistCtx, run, batch.Duration()); err != nil {
		s.logger.Warn().Err(err).Str("run_id", run.ID.String()).Msg("failed to publish run finished event")
	}

	s.hub.finish(run.ID, Progress{
		Type:    progressTypeFor(run.Status),
		RunID:   run.ID,
		Total:   run.ReferenceCount,
		Summary: &run.Summary,
	})
	return batch
}

func (s *Service) record(ctx context.Context, run *domain.VerificationRun, refs []domain.ReferenceEntry, batch verification.BatchResult) {
	if s.repo == nil {
		return
	}
	logger := s.logger.With().Str("run_id", run.ID.String()).Logger()

	stored := make([]domain.StoredResult, len(batch.Results))
	for i, result := range batch.Results {
		stored[i] = domain.StoredResult{
			RunID:     run.ID,
			Index:     i,
			Reference: refs[i],
			Result:    result,
		}
	}
	if err := s.repo.SaveResults(ctx, stored); err != nil {
		logger.Error().Err(err).Msg("failed to save verification results")
	}
	if err := s.repo.Complete(ctx, run.ID, run.Status, run.Summary, *run.CompletedAt); err != nil {
		logger.Error().Err(err).Msg("failed to complete verification run")
	}
}
