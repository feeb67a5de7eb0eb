package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/helixir/citation-verification-service/internal/domain"
)

// PostgreSQL error codes used for constraint violation detection.
const (
	pgUniqueViolation     = "23505" // unique_violation
	pgForeignKeyViolation = "23503" // foreign_key_violation
)

// Compile-time interface verification.
var _ RunRepository = (*PgRunRepository)(nil)

// PgRunRepository is a PostgreSQL implementation of RunRepository.
type PgRunRepository struct {
	db DBTX
}

// NewPgRunRepository creates a new PostgreSQL run repository.
func NewPgRunRepository(db DBTX) *PgRunRepository {
	return &PgRunRepository{db: db}
}

const runColumns = `id, label, status, reference_count,
	count_validated, count_invalid, count_not_found, count_skipped,
	warnings, created_at, completed_at`

// Create inserts a new run in the running state.
func (r *PgRunRepository) Create(ctx context.Context, run *domain.VerificationRun) error {
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

	query := `
		INSERT INTO verification_runs (id, label, status, reference_count, created_at)
		VALUES ($1, $2, $3::run_status, $4, $5)`

	_, err := r.db.Exec(ctx, query,
		run.ID, run.Label, string(run.Status), run.ReferenceCount, run.CreatedAt,
	)
	if err != nil {
		if isPgError(err, pgUniqueViolation) {
			return domain.NewAlreadyExistsError("verification run", run.ID.String())
		}
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// SaveResults stores per-reference results in a single batch.
func (r *PgRunRepository) SaveResults(ctx context.Context, results []domain.StoredResult) error {
	if len(results) == 0 {
		return nil
	}

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

	query := `
		INSERT INTO verification_results (
			run_id, ref_index, reference, status, explanation,
			matched_source, score, matched_title, matched_url, sources_tried
		) VALUES (
			$1, $2, $3, $4::verification_status, $5, $6, $7, $8, $9, $10
		)
		ON CONFLICT (run_id, ref_index) DO UPDATE SET
			reference = EXCLUDED.reference,
			status = EXCLUDED.status,
			explanation = EXCLUDED.explanation,
			matched_source = EXCLUDED.matched_source,
			score = EXCLUDED.score,
			matched_title = EXCLUDED.matched_title,
			matched_url = EXCLUDED.matched_url,
			sources_tried = EXCLUDED.sources_tried
		RETURNING created_at`

	batch := &pgx.Batch{}
	for _, res := range results {
		refJSON, err := json.Marshal(res.Reference)
		if err != nil {
			return fmt.Errorf("failed to marshal reference: %w", err)
		}

		batch.Queue(query,
			res.RunID,
			res.Index,
			refJSON,
			string(res.Result.Status),
			res.Result.Explanation,
			sourcePtr(res.Result.MatchedSource),
			res.Result.Score,
			res.Result.MatchedTitle,
			res.Result.MatchedURL,
			sourceStrings(res.Result.SourcesTried),
		)
	}

	br := r.db.SendBatch(ctx, batch)
	defer br.Close()

	for i := range results {
		if err := br.QueryRow().Scan(&results[i].CreatedAt); err != nil {
			if isPgError(err, pgForeignKeyViolation) {
				return domain.NewNotFoundError("verification run", results[i].RunID.String())
			}
			return fmt.Errorf("failed to save result %d: %w", results[i].Index, err)
		}
	}
	return nil
}

// Complete moves a running run to a terminal status and stores its summary.
func (r *PgRunRepository) Complete(ctx context.Context, id uuid.UUID, status domain.RunStatus, summary domain.Summary, completedAt time.Time) error {
	if !status.IsTerminal() {
		return domain.NewValidationError("status", fmt.Sprintf("%q is not a terminal status", status))
	}

	warnings := summary.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	warningsJSON, err := json.Marshal(warnings)
	if err != nil {
		return fmt.Errorf("failed to marshal warnings: %w", err)
	}

	query := `
		UPDATE verification_runs SET
			status = $1::run_status,
			count_validated = $2,
			count_invalid = $3,
			count_not_found = $4,
			count_skipped = $5,
			warnings = $6,
			completed_at = $7
		WHERE id = $8 AND status = 'running'`

	tag, err := r.db.Exec(ctx, query,
		string(status),
		summary.CountValidated,
		summary.CountInvalid,
		summary.CountNotFound,
		summary.CountSkipped,
		warningsJSON,
		completedAt,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewNotFoundError("running verification run", id.String())
	}
	return nil
}

// Get retrieves a run by ID.
func (r *PgRunRepository) Get(ctx context.Context, id uuid.UUID) (*domain.VerificationRun, error) {
	query := `SELECT ` + runColumns + ` FROM verification_runs WHERE id = $1`

	run, err := scanRun(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("verification run", id.String())
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListResults returns the results of a run ordered by reference index.
func (r *PgRunRepository) ListResults(ctx context.Context, runID uuid.UUID) ([]domain.StoredResult, error) {
	query := `
		SELECT run_id, ref_index, reference, status, explanation,
			matched_source, score, matched_title, matched_url, sources_tried, created_at
		FROM verification_results
		WHERE run_id = $1
		ORDER BY ref_index`

	rows, err := r.db.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}
	defer rows.Close()

	results := []domain.StoredResult{}
	for rows.Next() {
		var (
			res           domain.StoredResult
			refJSON       []byte
			status        string
			matchedSource *string
			sourcesTried  []string
		)
		if err := rows.Scan(
			&res.RunID, &res.Index, &refJSON, &status, &res.Result.Explanation,
			&matchedSource, &res.Result.Score, &res.Result.MatchedTitle, &res.Result.MatchedURL,
			&sourcesTried, &res.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		if err := json.Unmarshal(refJSON, &res.Reference); err != nil {
			return nil, fmt.Errorf("failed to unmarshal reference: %w", err)
		}
		res.Result.Status = domain.VerificationStatus(status)
		if matchedSource != nil {
			src := domain.SourceType(*matchedSource)
			res.Result.MatchedSource = &src
		}
		for _, s := range sourcesTried {
			res.Result.SourcesTried = append(res.Result.SourcesTried, domain.SourceType(s))
		}
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate results: %w", err)
	}
	return results, nil
}

// List returns runs matching the filter, newest first.
func (r *PgRunRepository) List(ctx context.Context, filter RunFilter) ([]*domain.VerificationRun, int64, error) {
	filter = filter.Normalize()

	var status *string
	if filter.Status != "" {
		s := string(filter.Status)
		status = &s
	}

	var total int64
	countQuery := `SELECT count(*) FROM verification_runs WHERE ($1::text IS NULL OR status::text = $1)`
	if err := r.db.QueryRow(ctx, countQuery, status).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count runs: %w", err)
	}

	query := `SELECT ` + runColumns + `
		FROM verification_runs
		WHERE ($1::text IS NULL OR status::text = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.db.Query(ctx, query, status, filter.Limit, filter.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*domain.VerificationRun{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return runs, total, nil
}

// scanRun scans one verification_runs row selected with runColumns.
// pgx.Rows satisfies pgx.Row, so it serves both Get and List.
func scanRun(row pgx.Row) (*domain.VerificationRun, error) {
	var (
		run          domain.VerificationRun
		status       string
		warningsJSON []byte
	)
	if err := row.Scan(
		&run.ID, &run.Label, &status, &run.ReferenceCount,
		&run.Summary.CountValidated, &run.Summary.CountInvalid,
		&run.Summary.CountNotFound, &run.Summary.CountSkipped,
		&warningsJSON, &run.CreatedAt, &run.CompletedAt,
	); err != nil {
		return nil, err
	}
	run.Status = domain.RunStatus(status)

	run.Summary.Warnings = []string{}
	if len(warningsJSON) > 0 {
		if err := json.Unmarshal(warningsJSON, &run.Summary.Warnings); err != nil {
			return nil, fmt.Errorf("failed to unmarshal warnings: %w", err)
		}
	}
	return &run, nil
}

func isPgError(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}

func sourcePtr(s *domain.SourceType) *string {
	if s == nil {
		return nil
	}
	v := string(*s)
	return &v
}

func sourceStrings(sources []domain.SourceType) []string {
	out := make([]string, len(sources))
	for i, s := range sources {
		out[i] = string(s)
	}
	return out
}
