package repository

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/rpattn/clickstream/internal/db"
)

// DuckDBLookupRepository loads the read-only parquet inputs (organizational
// dimension snapshots and story metadata) into tables for the duration of
// one run. Both are treated as immutable once loaded.
type DuckDBLookupRepository struct {
	conn   *db.Connection
	logger *zap.Logger
}

// NewLookupRepository creates the lookup repository.
func NewLookupRepository(conn *db.Connection, logger *zap.Logger) *DuckDBLookupRepository {
	return &DuckDBLookupRepository{conn: conn, logger: logger}
}

// LoadDimension replaces the dimension table from a parquet file. A missing
// file is not an error; enrichment simply proceeds without attributes.
func (r *DuckDBLookupRepository) LoadDimension(ctx context.Context, path string) (bool, error) {
	loaded, err := r.loadParquet(ctx, TableDimension, path)
	if err != nil || !loaded {
		if !loaded && err == nil {
			r.logger.Warn("dimension snapshot file not found; events will carry null attributes",
				zap.String("path", path))
		}
		return loaded, err
	}

	var rows, snapshots int64
	stats := fmt.Sprintf(`
		SELECT COUNT(*),
		       COUNT(DISTINCT (snapshot_year, snapshot_month))
		FROM %s`, TableDimension)
	if err := r.conn.DB.QueryRowContext(ctx, stats).Scan(&rows, &snapshots); err == nil {
		r.logger.Info("loaded dimension snapshots",
			zap.Int64("rows", rows),
			zap.Int64("snapshots", snapshots))
	}
	return true, nil
}

// LoadContent replaces the story metadata table from a parquet file.
func (r *DuckDBLookupRepository) LoadContent(ctx context.Context, path string) (bool, error) {
	loaded, err := r.loadParquet(ctx, TableContent, path)
	if err != nil || !loaded {
		if !loaded && err == nil {
			r.logger.Info("story metadata file not found; titles will be absent",
				zap.String("path", path))
		}
		return loaded, err
	}

	var rows int64
	if err := r.conn.DB.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", TableContent)).Scan(&rows); err == nil {
		r.logger.Info("loaded story metadata", zap.Int64("rows", rows))
	}
	return true, nil
}

// TableColumns exposes the columns of a lookup table so the enrichment
// stage can bind only the fields that actually exist.
func (r *DuckDBLookupRepository) TableColumns(ctx context.Context, table string) ([]string, error) {
	return tableColumns(ctx, r.conn.DB, table)
}

// DropLookups removes the per-run lookup tables; they are reloaded from
// parquet on the next run.
func (r *DuckDBLookupRepository) DropLookups(ctx context.Context) error {
	for _, table := range []string{TableDimension, TableContent} {
		if _, err := r.conn.DB.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", table)); err != nil {
			return fmt.Errorf("failed to drop %s: %w", table, err)
		}
	}
	return nil
}

func (r *DuckDBLookupRepository) loadParquet(ctx context.Context, table, path string) (bool, error) {
	if path == "" {
		return false, nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	load := fmt.Sprintf("CREATE OR REPLACE TABLE %s AS SELECT * FROM read_parquet(%s)", table, quoteLiteral(path))
	if _, err := r.conn.DB.ExecContext(ctx, load); err != nil {
		return false, fmt.Errorf("failed to load %s from %s: %w", table, path, err)
	}
	return true, nil
}
