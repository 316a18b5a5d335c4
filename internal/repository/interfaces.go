package repository

import (
	"context"

	"github.com/rpattn/clickstream/internal/domain"
)

// Table names inside the analytical store.
const (
	TableEventsRaw = "events_raw"
	TableEvents    = "events"
	TableManifest  = "processed_files"
	TableDimension = "hr_history"
	TableContent   = "story_titles"
)

// UpsertStats summarizes one merge of a batch into the event store.
type UpsertStats struct {
	Created  bool
	Deleted  int64
	Inserted int64
}

// EventStore merges normalized batches into the durable event store using
// the natural key (timestamp, user_id, session_id, name) with
// last-writer-wins semantics.
type EventStore interface {
	Exists(ctx context.Context) (bool, error)
	Columns(ctx context.Context) ([]string, error)
	Count(ctx context.Context) (int64, error)
	UpsertBatch(ctx context.Context, batch *domain.Table) (UpsertStats, error)
}

// ManifestRepository tracks which source files have been merged, keyed by
// filename with a content hash for change detection.
type ManifestRepository interface {
	Ensure(ctx context.Context) error
	Status(ctx context.Context, filename, hash string) (domain.FileStatus, error)
	Record(ctx context.Context, entry domain.ManifestEntry) error
	List(ctx context.Context) ([]domain.ManifestEntry, error)
}

// LookupRepository loads the read-only dimension and content-metadata
// parquet inputs into per-run tables and drops them again afterwards.
type LookupRepository interface {
	LoadDimension(ctx context.Context, path string) (bool, error)
	LoadContent(ctx context.Context, path string) (bool, error)
	TableColumns(ctx context.Context, table string) ([]string, error)
	DropLookups(ctx context.Context) error
}
