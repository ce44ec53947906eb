// Package cache orchestrates ingestion and search over the record store,
// embedding provider, and vector index, keeping the three consistent.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hubmind/crmcache/internal/embedding"
	"github.com/hubmind/crmcache/internal/models"
	"github.com/hubmind/crmcache/internal/normalize"
	"github.com/hubmind/crmcache/internal/storage"
	"github.com/hubmind/crmcache/internal/vector"
)

// ErrRetryable marks failures the caller may retry (timeouts, cancelled
// embedding calls). Test with errors.Is.
var ErrRetryable = errors.New("retryable")

// Embedder is the embedding provider the coordinator drives.
// *embedding.CachingEmbedder satisfies it.
type Embedder interface {
	embedding.Embedder
	// Invalidate discards all cached vectors (model change).
	Invalidate() error
}

// Coordinator owns the ingest and search paths. The record store is written
// before the vector index, so after a crash the store is the source of truth
// and the index is repaired on the next Recover.
type Coordinator struct {
	store     storage.Store
	embedder  Embedder
	index     vector.VectorIndex
	indexPath string
	metaPath  string

	locks      idLocks
	logger     *zap.Logger
	now        func() time.Time
	maxRecords int64
	candidates int
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets a logger for ingest/eviction/recovery events.
func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithMaxRecords bounds the working set; beyond it the least recently
// accessed records are evicted. Zero means unbounded.
func WithMaxRecords(n int64) Option {
	return func(c *Coordinator) { c.maxRecords = n }
}

// WithCandidateMultiplier sets how much wider than k the vector search pool
// is before post-filtering (default 3).
func WithCandidateMultiplier(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.candidates = n
		}
	}
}

// New creates a coordinator. indexPath and metaPath locate the persisted
// vector index and version tag inside the storage directory.
func New(store storage.Store, embedder Embedder, index vector.VectorIndex, indexPath, metaPath string, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:      store,
		embedder:   embedder,
		index:      index,
		indexPath:  indexPath,
		metaPath:   metaPath,
		logger:     zap.NewNop(),
		now:        time.Now,
		candidates: 3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RecoverReport summarizes what Recover had to do.
type RecoverReport struct {
	VersionMismatch bool
	IndexCorrupt    bool
	Restored        int
	Reindexed       int
	Pruned          int
}

// Recover brings the in-memory index in line with persisted state. It refuses
// to reuse vectors from a different embedding space (version tag mismatch
// discards the index and the embedding cache), falls back to an empty index
// when the snapshot is corrupt, and re-indexes any stored record missing from
// the index (crash repair). Neither condition is fatal.
func (c *Coordinator) Recover(ctx context.Context) (*RecoverReport, error) {
	report := &RecoverReport{}

	meta, err := LoadMeta(c.metaPath)
	if err != nil {
		return nil, err
	}
	if meta != nil {
		if err := meta.Check(c.embedder.ModelID(), c.embedder.Dimensions()); err != nil {
			c.logger.Warn("embedding model changed, discarding persisted cache", zap.Error(err))
			report.VersionMismatch = true
			if err := c.embedder.Invalidate(); err != nil {
				return nil, fmt.Errorf("invalidate embedding cache: %w", err)
			}
		}
	}

	if !report.VersionMismatch {
		if err := c.index.Restore(c.indexPath); err != nil {
			if !errors.Is(err, vector.ErrCorrupt) {
				return nil, err
			}
			c.logger.Warn("vector index snapshot unreadable, rebuilding from store", zap.Error(err))
			report.IndexCorrupt = true
		}
		report.Restored = c.index.Size()
	}

	recs, err := c.store.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan store: %w", err)
	}
	stored := make(map[string]bool, len(recs))
	for _, rec := range recs {
		stored[rec.ID] = true
		if c.index.Contains(rec.ID) {
			continue
		}
		vec, err := c.embedder.Embed(ctx, rec.NormalizedText)
		if err != nil {
			c.logger.Warn("re-index failed, record skipped",
				zap.String("id", rec.ID), zap.Error(err))
			continue
		}
		if err := c.index.Insert(ctx, rec.ID, vec); err != nil {
			return nil, fmt.Errorf("re-index %s: %w", rec.ID, err)
		}
		report.Reindexed++
	}

	// Index entries without a stored record (a crash mid-eviction leaves
	// these) would otherwise survive every restart and waste candidate
	// slots on hits that can never hydrate.
	for _, id := range c.index.IDs() {
		if stored[id] {
			continue
		}
		if err := c.index.Delete(ctx, id); err != nil {
			return nil, fmt.Errorf("prune %s: %w", id, err)
		}
		c.logger.Warn("pruned index entry without stored record", zap.String("id", id))
		report.Pruned++
	}

	// A rebuilt index must reach disk before the tag names the new model:
	// otherwise a crash before the next snapshot leaves meta claiming this
	// model over a file of old-space vectors, and when dimensions happen to
	// match, the next startup would restore them without complaint.
	if report.VersionMismatch || report.IndexCorrupt {
		if err := c.index.Persist(c.indexPath); err != nil {
			return nil, fmt.Errorf("persist rebuilt index: %w", err)
		}
	}
	if err := c.writeMeta(); err != nil {
		return nil, err
	}
	c.logger.Info("cache recovered",
		zap.Bool("version_mismatch", report.VersionMismatch),
		zap.Bool("index_corrupt", report.IndexCorrupt),
		zap.Int("restored", report.Restored),
		zap.Int("reindexed", report.Reindexed),
		zap.Int("pruned", report.Pruned),
	)
	return report, nil
}

func (c *Coordinator) writeMeta() error {
	m := &Meta{ModelID: c.embedder.ModelID(), Dimensions: c.embedder.Dimensions()}
	return m.Write(c.metaPath)
}

// Ingest caches one upstream record. An unchanged record (same id, same
// content hash) is a no-op returning the existing id without re-embedding or
// re-indexing. A changed record is re-normalized, re-embedded, and replaces
// both the store and index entries. Concurrent ingests of the same id are
// serialized; independent ids proceed concurrently.
func (c *Coordinator) Ingest(ctx context.Context, raw json.RawMessage, sourceType models.SourceType) (string, error) {
	id, err := normalize.RecordID(raw, sourceType)
	if err != nil {
		return "", err
	}
	text, err := normalize.Normalize(raw, sourceType)
	if err != nil {
		return "", fmt.Errorf("normalize %s: %w", id, err)
	}
	hash := normalize.ContentHash(text)

	mu := c.locks.lock(id)
	defer mu.Unlock()

	now := c.now()
	existing, err := c.store.Get(ctx, id)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return "", retryable(err)
	}
	if existing != nil && existing.ContentHash == hash {
		_ = c.store.Touch(ctx, id, now)
		if !c.index.Contains(id) {
			// Store was written but the index entry was lost (crash
			// between the two writes). The embedding cache makes this
			// repair cheap.
			vec, err := c.embedder.Embed(ctx, text)
			if err != nil {
				return "", c.embedError(id, err)
			}
			if err := c.index.Insert(ctx, id, vec); err != nil {
				return "", err
			}
			c.logger.Info("repaired missing index entry", zap.String("id", id))
		}
		return id, nil
	}

	vec, err := c.embedder.Embed(ctx, text)
	if err != nil {
		return "", c.embedError(id, err)
	}

	rec := &models.Record{
		ID:             id,
		SourceType:     sourceType,
		RawPayload:     raw,
		NormalizedText: text,
		ContentHash:    hash,
		InsertedAt:     now,
		LastAccess:     now,
	}
	if existing != nil {
		rec.InsertedAt = existing.InsertedAt
	}
	// Store first: a crash after this point leaves a record the next
	// Recover (or the unchanged-hash path above) re-indexes.
	if err := c.store.Put(ctx, rec); err != nil {
		return "", fmt.Errorf("store %s: %w", id, err)
	}
	if err := c.index.Insert(ctx, id, vec); err != nil {
		return "", fmt.Errorf("index %s: %w", id, err)
	}

	if err := c.evictOverCapacity(ctx); err != nil {
		c.logger.Warn("eviction failed", zap.Error(err))
	}
	return id, nil
}

// retryable marks context-cancellation failures so callers can tell transient
// timeouts apart from permanent errors.
func retryable(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %s", ErrRetryable, err)
	}
	return err
}

func (c *Coordinator) embedError(id string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: embed %s: %s", ErrRetryable, id, err)
	}
	return fmt.Errorf("embed %s: %w", id, err)
}

// evictOverCapacity removes the least recently accessed records once the
// working set exceeds the configured bound. Evictions are explicit and
// logged, never silent.
func (c *Coordinator) evictOverCapacity(ctx context.Context) error {
	if c.maxRecords <= 0 {
		return nil
	}
	count, err := c.store.Count(ctx)
	if err != nil {
		return err
	}
	excess := count - c.maxRecords
	if excess <= 0 {
		return nil
	}
	victims, err := c.store.Oldest(ctx, int(excess))
	if err != nil {
		return err
	}
	for _, rec := range victims {
		if err := c.store.Delete(ctx, rec.ID); err != nil {
			return err
		}
		if err := c.index.Delete(ctx, rec.ID); err != nil {
			return err
		}
		c.logger.Info("evicted record over capacity",
			zap.String("id", rec.ID),
			zap.Time("last_access", rec.LastAccess),
		)
	}
	return nil
}

// IngestBatch ingests each payload, collecting per-record failures instead of
// aborting: the report carries succeeded ids and failure reasons.
func (c *Coordinator) IngestBatch(ctx context.Context, payloads []json.RawMessage, sourceType models.SourceType) (*models.IngestReport, error) {
	report := &models.IngestReport{BatchID: uuid.New().String()}
	for i, raw := range payloads {
		id, err := c.Ingest(ctx, raw, sourceType)
		if err != nil {
			c.logger.Warn("batch ingest: record failed",
				zap.String("batch_id", report.BatchID),
				zap.Int("index", i),
				zap.Error(err),
			)
			report.Failed = append(report.Failed, models.IngestFailure{
				Index:    i,
				RecordID: id,
				Reason:   err.Error(),
			})
			continue
		}
		report.Succeeded = append(report.Succeeded, id)
	}
	c.logger.Info("batch ingest done",
		zap.String("batch_id", report.BatchID),
		zap.String("source_type", string(sourceType)),
		zap.Int("succeeded", len(report.Succeeded)),
		zap.Int("failed", len(report.Failed)),
	)
	return report, nil
}

// Search embeds the query, searches a candidate pool wider than k (the index
// has no native filter predicate, so filtering happens after the vector
// lookup), hydrates hits from the store, applies the filter, and truncates
// to k.
func (c *Coordinator) Search(ctx context.Context, query *models.SearchQuery) (*models.SearchResponse, error) {
	start := c.now()
	if err := query.Validate(); err != nil {
		return nil, err
	}

	qvec, err := c.embedder.Embed(ctx, query.Query)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("%w: embed query: %s", ErrRetryable, err)
		}
		return nil, fmt.Errorf("embed query: %w", err)
	}

	pool := query.Limit * c.candidates
	if query.Filter == nil {
		pool = query.Limit
	}
	raw, err := c.index.Search(ctx, qvec, pool)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	resp := &models.SearchResponse{Query: query.Query}
	now := c.now()
	for _, hit := range raw {
		if len(resp.Hits) >= query.Limit {
			break
		}
		rec, err := c.store.Get(ctx, hit.ID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				c.logger.Warn("index entry without stored record, skipping",
					zap.String("id", hit.ID))
				continue
			}
			return nil, fmt.Errorf("hydrate %s: %w", hit.ID, err)
		}
		if !query.Filter.Matches(rec) {
			continue
		}
		_ = c.store.Touch(ctx, rec.ID, now)
		resp.Hits = append(resp.Hits, &models.SearchHit{
			Record: rec,
			Score:  hit.Score,
			Rank:   len(resp.Hits) + 1,
		})
	}
	resp.Total = len(resp.Hits)
	resp.QueryTime = c.now().Sub(start).Milliseconds()
	return resp, nil
}

// ListRecent reads records newest first straight from the store. This is the
// cheap cache-read path: no embedding, no vector search.
func (c *Coordinator) ListRecent(ctx context.Context, query *models.RecentQuery) ([]*models.Record, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}
	return c.store.ListRecent(ctx, query.SourceType, query.Since, query.Limit)
}

// Snapshot persists the vector index and version tag. Called on shutdown and
// periodically; the index copies its state under a short read lock, so
// searches are not blocked for the duration of the disk write.
func (c *Coordinator) Snapshot() error {
	if err := c.index.Persist(c.indexPath); err != nil {
		return fmt.Errorf("persist index: %w", err)
	}
	return c.writeMeta()
}

// RunSnapshots persists the index every interval until ctx is done.
func (c *Coordinator) RunSnapshots(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Snapshot(); err != nil {
				c.logger.Warn("periodic snapshot failed", zap.Error(err))
			}
		}
	}
}

// IndexSize returns the number of vectors currently indexed.
func (c *Coordinator) IndexSize() int {
	return c.index.Size()
}
