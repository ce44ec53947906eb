// SQLite implementation of the Store interface.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hubmind/crmcache/internal/models"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates a SQLite database at dbPath and initializes
// the schema. Parent directories are created if they do not exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		id TEXT PRIMARY KEY,
		source_type TEXT NOT NULL,
		raw_payload TEXT NOT NULL,
		normalized_text TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		inserted_at TIMESTAMP NOT NULL,
		last_access TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_records_type_inserted ON records(source_type, inserted_at);
	CREATE INDEX IF NOT EXISTS idx_records_inserted_at ON records(inserted_at);
	CREATE INDEX IF NOT EXISTS idx_records_last_access ON records(last_access);
	`
	_, err := db.Exec(schema)
	return err
}

const recordColumns = `id, source_type, raw_payload, normalized_text, content_hash, inserted_at, last_access`

// Put inserts or replaces a record.
func (s *SQLiteStore) Put(ctx context.Context, rec *models.Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO records (`+recordColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			source_type = excluded.source_type,
			raw_payload = excluded.raw_payload,
			normalized_text = excluded.normalized_text,
			content_hash = excluded.content_hash,
			inserted_at = excluded.inserted_at,
			last_access = excluded.last_access`,
		rec.ID, rec.SourceType, string(rec.RawPayload), rec.NormalizedText,
		rec.ContentHash, rec.InsertedAt, rec.LastAccess,
	)
	return err
}

func scanRecord(row interface{ Scan(...interface{}) error }) (*models.Record, error) {
	var rec models.Record
	var payload string
	if err := row.Scan(&rec.ID, &rec.SourceType, &payload, &rec.NormalizedText,
		&rec.ContentHash, &rec.InsertedAt, &rec.LastAccess); err != nil {
		return nil, err
	}
	rec.RawPayload = []byte(payload)
	return &rec, nil
}

// Get returns a record by id, or ErrNotFound.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*models.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM records WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Delete removes a record by id.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE id = ?`, id)
	return err
}

func (s *SQLiteStore) queryRecords(ctx context.Context, query string, args ...interface{}) ([]*models.Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*models.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// ListBySourceType returns up to limit records of the given type, newest first.
func (s *SQLiteStore) ListBySourceType(ctx context.Context, sourceType models.SourceType, limit int) ([]*models.Record, error) {
	return s.queryRecords(ctx,
		`SELECT `+recordColumns+` FROM records
		 WHERE source_type = ? ORDER BY inserted_at DESC, id LIMIT ?`,
		sourceType, limit)
}

// ListRecent returns up to limit records newest first. sourceType and since
// are optional filters (zero values mean unrestricted).
func (s *SQLiteStore) ListRecent(ctx context.Context, sourceType models.SourceType, since time.Time, limit int) ([]*models.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records WHERE 1=1`
	args := make([]interface{}, 0, 3)
	if sourceType != "" {
		query += ` AND source_type = ?`
		args = append(args, sourceType)
	}
	if !since.IsZero() {
		query += ` AND inserted_at >= ?`
		args = append(args, since)
	}
	query += ` ORDER BY inserted_at DESC, id LIMIT ?`
	args = append(args, limit)
	return s.queryRecords(ctx, query, args...)
}

// All returns every record, oldest first.
func (s *SQLiteStore) All(ctx context.Context) ([]*models.Record, error) {
	return s.queryRecords(ctx,
		`SELECT `+recordColumns+` FROM records ORDER BY inserted_at, id`)
}

// Touch updates a record's last-access time.
func (s *SQLiteStore) Touch(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE records SET last_access = ? WHERE id = ?`, at, id)
	return err
}

// Oldest returns up to n records least recently accessed first, used to pick
// eviction candidates.
func (s *SQLiteStore) Oldest(ctx context.Context, n int) ([]*models.Record, error) {
	return s.queryRecords(ctx,
		`SELECT `+recordColumns+` FROM records ORDER BY last_access, id LIMIT ?`, n)
}

// Count returns the total number of records.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
