package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/helixir/citation-verification-service/internal/domain"
)

var _ RunRepository = (*MemoryRunRepository)(nil)

// MemoryRunRepository keeps runs in process memory. It follows the same
// rules as PgRunRepository and is used when no database is configured.
type MemoryRunRepository struct {
	mu      sync.RWMutex
	runs    map[uuid.UUID]*domain.VerificationRun
	results map[uuid.UUID]map[int]domain.StoredResult
}

// NewMemoryRunRepository creates an empty repository.
func NewMemoryRunRepository() *MemoryRunRepository {
	return &MemoryRunRepository{
		runs:    make(map[uuid.UUID]*domain.VerificationRun),
		results: make(map[uuid.UUID]map[int]domain.StoredResult),
	}
}

// Create stores a new run in the running state.
func (r *MemoryRunRepository) Create(_ context.Context, run *domain.VerificationRun) error {
	if run == nil {
		return domain.NewValidationError("run", "run cannot be nil")
	}
	if run.ID == uuid.Nil {
		return domain.NewValidationError("id", "run ID is required")
	}
	if run.ReferenceCount < 0 {
		return domain.NewValidationError("reference_count", "must not be negative")
	}
	if run.Status == "" {
		run.Status = domain.RunStatusRunning
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.runs[run.ID]; ok {
		return domain.NewAlreadyExistsError("verification run", run.ID.String())
	}
	r.runs[run.ID] = cloneRun(run)
	return nil
}

// SaveResults stores or replaces per-reference results.
func (r *MemoryRunRepository) SaveResults(_ context.Context, results []domain.StoredResult) error {
	for i, res := range results {
		if res.RunID == uuid.Nil {
			return domain.NewValidationError("run_id", fmt.Sprintf("result at index %d has no run ID", i))
		}
		if res.Index < 0 {
			return domain.NewValidationError("index", fmt.Sprintf("result at index %d has a negative reference index", i))
		}
		if !res.Result.Status.IsValid() {
			return domain.NewValidationError("status", fmt.Sprintf("result at index %d has unknown status %q", i, res.Result.Status))
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, res := range results {
		if _, ok := r.runs[res.RunID]; !ok {
			return domain.NewNotFoundError("verification run", res.RunID.String())
		}
	}

	now := time.Now().UTC()
	for i := range results {
		byIndex := r.results[results[i].RunID]
		if byIndex == nil {
			byIndex = make(map[int]domain.StoredResult)
			r.results[results[i].RunID] = byIndex
		}
		if prev, ok := byIndex[results[i].Index]; ok {
			results[i].CreatedAt = prev.CreatedAt
		} else {
			results[i].CreatedAt = now
		}
		byIndex[results[i].Index] = results[i]
	}
	return nil
}

// Complete moves a running run to a terminal status.
func (r *MemoryRunRepository) Complete(_ context.Context, id uuid.UUID, status domain.RunStatus, summary domain.Summary, completedAt time.Time) error {
	if !status.IsTerminal() {
		return domain.NewValidationError("status", fmt.Sprintf("%q is not a terminal status", status))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[id]
	if !ok || run.Status != domain.RunStatusRunning {
		return domain.NewNotFoundError("running verification run", id.String())
	}
	run.Status = status
	run.Summary = summary
	if run.Summary.Warnings == nil {
		run.Summary.Warnings = []string{}
	}
	run.CompletedAt = &completedAt
	return nil
}

// Get retrieves a run by ID.
func (r *MemoryRunRepository) Get(_ context.Context, id uuid.UUID) (*domain.VerificationRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[id]
	if !ok {
		return nil, domain.NewNotFoundError("verification run", id.String())
	}
	return cloneRun(run), nil
}

// ListResults returns the results of a run ordered by reference index.
func (r *MemoryRunRepository) ListResults(_ context.Context, runID uuid.UUID) ([]domain.StoredResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.StoredResult, 0, len(r.results[runID]))
	for _, res := range r.results[runID] {
		out = append(out, res)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

// List returns runs matching the filter, newest first.
func (r *MemoryRunRepository) List(_ context.Context, filter RunFilter) ([]*domain.VerificationRun, int64, error) {
	filter = filter.Normalize()

	r.mu.RLock()
	matched := make([]*domain.VerificationRun, 0, len(r.runs))
	for _, run := range r.runs {
		if filter.Status == "" || run.Status == filter.Status {
			matched = append(matched, cloneRun(run))
		}
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))
	if filter.Offset >= len(matched) {
		return []*domain.VerificationRun{}, total, nil
	}
	end := min(filter.Offset+filter.Limit, len(matched))
	return matched[filter.Offset:end], total, nil
}

func cloneRun(run *domain.VerificationRun) *domain.VerificationRun {
	c := *run
	c.Summary.Warnings = append([]string(nil), run.Summary.Warnings...)
	if c.Summary.Warnings == nil {
		c.Summary.Warnings = []string{}
	}
	if run.CompletedAt != nil {
		t := *run.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}
