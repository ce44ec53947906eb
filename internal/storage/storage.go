// Package storage defines the durable record store for cached CRM records.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/hubmind/crmcache/internal/models"
)

// ErrNotFound is returned when a record id is not present in the store.
var ErrNotFound = errors.New("record not found")

// Store defines record persistence. The persisted form carries the raw
// payload and normalized text so records can be hydrated and re-embedded
// without re-fetching upstream.
type Store interface {
	// Put inserts or replaces a record.
	Put(ctx context.Context, rec *models.Record) error
	// Get returns a record by id, or ErrNotFound.
	Get(ctx context.Context, id string) (*models.Record, error)
	// Delete removes a record by id. Deleting an absent id is a no-op.
	Delete(ctx context.Context, id string) error
	// ListBySourceType returns up to limit records of the given type,
	// newest first.
	ListBySourceType(ctx context.Context, sourceType models.SourceType, limit int) ([]*models.Record, error)
	// ListRecent returns up to limit records newest first, optionally
	// restricted by source type and/or insertion cutoff.
	ListRecent(ctx context.Context, sourceType models.SourceType, since time.Time, limit int) ([]*models.Record, error)
	// All returns every record. Used for startup reconciliation and
	// model-change rebuilds; the working set is bounded by design.
	All(ctx context.Context) ([]*models.Record, error)
	// Touch updates a record's last-access time.
	Touch(ctx context.Context, id string, at time.Time) error
	// Oldest returns up to n eviction candidates, least recently
	// accessed first.
	Oldest(ctx context.Context, n int) ([]*models.Record, error)
	// Count returns the total number of records.
	Count(ctx context.Context) (int64, error)

	Close() error
}
