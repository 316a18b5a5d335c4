package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rpattn/clickstream/internal/db"
	"github.com/rpattn/clickstream/internal/domain"
)

// DuckDBManifestRepository persists the ingestion manifest.
type DuckDBManifestRepository struct {
	conn *db.Connection
}

// NewManifestRepository creates the manifest repository.
func NewManifestRepository(conn *db.Connection) *DuckDBManifestRepository {
	return &DuckDBManifestRepository{conn: conn}
}

// Ensure creates the manifest table when absent.
func (r *DuckDBManifestRepository) Ensure(ctx context.Context) error {
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			filename     TEXT PRIMARY KEY,
			file_hash    TEXT,
			row_count    BIGINT,
			processed_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			date_suffix  DATE
		)`, TableManifest)
	if _, err := r.conn.DB.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to ensure manifest table: %w", err)
	}
	return nil
}

// Status classifies a candidate file: new when the filename is unknown,
// changed when its hash differs from the recorded one, unchanged otherwise.
func (r *DuckDBManifestRepository) Status(ctx context.Context, filename, hash string) (domain.FileStatus, error) {
	var recorded string
	err := r.conn.DB.QueryRowContext(ctx,
		fmt.Sprintf("SELECT file_hash FROM %s WHERE filename = ?", TableManifest), filename).Scan(&recorded)
	switch {
	case err == sql.ErrNoRows:
		return domain.FileStatusNew, nil
	case err != nil:
		return "", fmt.Errorf("failed to look up manifest entry for %q: %w", filename, err)
	case recorded != hash:
		return domain.FileStatusChanged, nil
	default:
		return domain.FileStatusUnchanged, nil
	}
}

// Record overwrites the manifest row for a filename: the prior entry is
// deleted and the new one inserted within one transaction, so the manifest
// only ever reflects the most recently merged version of each file.
func (r *DuckDBManifestRepository) Record(ctx context.Context, entry domain.ManifestEntry) error {
	return r.conn.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE filename = ?", TableManifest), entry.Filename); err != nil {
			return fmt.Errorf("failed to delete prior manifest entry: %w", err)
		}

		var dateSuffix any
		if entry.DateSuffix != nil {
			dateSuffix = *entry.DateSuffix
		}
		insert := fmt.Sprintf(`
			INSERT INTO %s (filename, file_hash, row_count, processed_at, date_suffix)
			VALUES (?, ?, ?, CURRENT_TIMESTAMP, ?)`, TableManifest)
		if _, err := tx.ExecContext(ctx, insert, entry.Filename, entry.FileHash, entry.RowCount, dateSuffix); err != nil {
			return fmt.Errorf("failed to record manifest entry: %w", err)
		}
		return nil
	})
}

// List returns all manifest entries ordered by date suffix then filename.
func (r *DuckDBManifestRepository) List(ctx context.Context) ([]domain.ManifestEntry, error) {
	rows, err := r.conn.DB.QueryContext(ctx, fmt.Sprintf(`
		SELECT filename, file_hash, row_count, processed_at, date_suffix
		FROM %s
		ORDER BY date_suffix, filename`, TableManifest))
	if err != nil {
		return nil, fmt.Errorf("failed to list manifest: %w", err)
	}
	defer rows.Close()

	var entries []domain.ManifestEntry
	for rows.Next() {
		var entry domain.ManifestEntry
		var dateSuffix sql.NullTime
		if err := rows.Scan(&entry.Filename, &entry.FileHash, &entry.RowCount, &entry.ProcessedAt, &dateSuffix); err != nil {
			return nil, err
		}
		if dateSuffix.Valid {
			suffix := dateSuffix.Time
			entry.DateSuffix = &suffix
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
