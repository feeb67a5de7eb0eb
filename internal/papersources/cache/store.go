// Package cache memoizes source lookups in a local SQLite database so repeated
// verification of the same bibliography does not hit external services again.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/helixir/citation-verification-service/internal/domain"
)

// DefaultTTL is how long a cached lookup stays valid.
const DefaultTTL = 7 * 24 * time.Hour

// Store is a TTL-bounded key/value store of candidate lists.
type Store struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

// Open opens or creates the cache database at path.
// ":memory:" gives a private in-memory cache.
func Open(path string, ttl time.Duration) (*Store, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening cache database: %w", err)
	}
	// SQLite doesn't support concurrent writes
	db.SetMaxOpenConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating cache schema: %w", err)
	}

	return &Store{db: db, ttl: ttl, now: time.Now}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func createSchema(db *sql.DB) error {
	schema := `
		CREATE TABLE IF NOT EXISTS lookups (
			source TEXT NOT NULL,
			operation TEXT NOT NULL,
			query_key TEXT NOT NULL,
			records_json TEXT NOT NULL,
			expires_at INTEGER NOT NULL,
			PRIMARY KEY (source, operation, query_key)
		);

		CREATE INDEX IF NOT EXISTS idx_lookups_expires ON lookups(expires_at);
	`
	_, err := db.Exec(schema)
	return err
}

// Get returns the cached records for a key. The boolean is false on a miss
// or when the entry has expired. A hit may carry zero records.
func (s *Store) Get(ctx context.Context, source domain.SourceType, op, key string) ([]domain.CandidateRecord, bool, error) {
	var (
		raw       string
		expiresAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT records_json, expires_at FROM lookups WHERE source = ? AND operation = ? AND query_key = ?`,
		string(source), op, key,
	).Scan(&raw, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading cache entry: %w", err)
	}
	if s.now().Unix() >= expiresAt {
		return nil, false, nil
	}

	var records []domain.CandidateRecord
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		return nil, false, fmt.Errorf("decoding cache entry: %w", err)
	}
	return records, true, nil
}

// Put stores records for a key, replacing any previous entry.
func (s *Store) Put(ctx context.Context, source domain.SourceType, op, key string, records []domain.CandidateRecord) error {
	if records == nil {
		records = []domain.CandidateRecord{}
	}
	raw, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encoding cache entry: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO lookups (source, operation, query_key, records_json, expires_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (source, operation, query_key)
		 DO UPDATE SET records_json = excluded.records_json, expires_at = excluded.expires_at`,
		string(source), op, key, string(raw), s.now().Add(s.ttl).Unix(),
	)
	if err != nil {
		return fmt.Errorf("writing cache entry: %w", err)
	}
	return nil
}

// Purge deletes expired entries and returns how many were removed.
func (s *Store) Purge(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM lookups WHERE expires_at <= ?`, s.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("purging cache: %w", err)
	}
	return res.RowsAffected()
}
