package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rpattn/clickstream/internal/db"
	"github.com/rpattn/clickstream/internal/domain"
)

// DuckDBEventStore implements EventStore against the embedded store. Each
// merge runs inside one transaction: staging table creation, row loading,
// key deletion and insertion either all commit or all roll back.
type DuckDBEventStore struct {
	conn   *db.Connection
	logger *zap.Logger
}

// NewEventStore creates the event store repository.
func NewEventStore(conn *db.Connection, logger *zap.Logger) *DuckDBEventStore {
	return &DuckDBEventStore{conn: conn, logger: logger}
}

// Exists reports whether the event store table has been created yet.
func (s *DuckDBEventStore) Exists(ctx context.Context) (bool, error) {
	return tableExists(ctx, s.conn.DB, TableEventsRaw)
}

// Columns returns the store's column names in table order.
func (s *DuckDBEventStore) Columns(ctx context.Context) ([]string, error) {
	return tableColumns(ctx, s.conn.DB, TableEventsRaw)
}

// Count returns the number of events currently stored.
func (s *DuckDBEventStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.conn.DB.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", TableEventsRaw)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return count, nil
}

// UpsertBatch merges a normalized batch. On first use the batch becomes the
// store verbatim; afterwards store rows sharing a natural key with the
// batch are deleted and the entire batch appended, so batch rows always win.
func (s *DuckDBEventStore) UpsertBatch(ctx context.Context, batch *domain.Table) (UpsertStats, error) {
	var stats UpsertStats

	if len(batch.Columns) == 0 {
		return stats, fmt.Errorf("batch has no columns")
	}
	for _, key := range domain.NaturalKeyColumns() {
		if !batch.HasColumn(key) {
			return stats, fmt.Errorf("batch is missing natural key column %q", key)
		}
	}

	staging := "staging_" + strings.ReplaceAll(uuid.New().String(), "-", "")

	err := s.conn.WithTx(ctx, func(tx *sql.Tx) error {
		if err := createStagingTable(ctx, tx, staging, batch); err != nil {
			return err
		}
		if err := loadStagingRows(ctx, tx, staging, batch); err != nil {
			return err
		}

		exists, err := tableExistsTx(ctx, tx, TableEventsRaw)
		if err != nil {
			return err
		}

		if !exists {
			if _, err := tx.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s RENAME TO %s", quoteIdent(staging), TableEventsRaw)); err != nil {
				return fmt.Errorf("failed to promote staging table: %w", err)
			}
			stats.Created = true
			stats.Inserted = int64(batch.RowCount())
			return nil
		}

		storeCols, err := tableColumnsTx(ctx, tx, TableEventsRaw)
		if err != nil {
			return err
		}
		have := make(map[string]bool, len(storeCols))
		for _, col := range storeCols {
			have[col] = true
		}
		for _, col := range batch.Columns {
			if have[col.Name] {
				continue
			}
			ddl := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", TableEventsRaw, quoteIdent(col.Name), col.Type)
			if _, err := tx.ExecContext(ctx, ddl); err != nil {
				return fmt.Errorf("failed to add column %q to event store: %w", col.Name, err)
			}
		}

		var keyMatches []string
		for _, key := range domain.NaturalKeyColumns() {
			keyMatches = append(keyMatches, fmt.Sprintf("%s.%s = t.%s", TableEventsRaw, quoteIdent(key), quoteIdent(key)))
		}
		deleteSQL := fmt.Sprintf(
			"DELETE FROM %s WHERE EXISTS (SELECT 1 FROM %s t WHERE %s)",
			TableEventsRaw, quoteIdent(staging), strings.Join(keyMatches, " AND "),
		)
		res, err := tx.ExecContext(ctx, deleteSQL)
		if err != nil {
			return fmt.Errorf("failed to delete superseded rows: %w", err)
		}
		if deleted, err := res.RowsAffected(); err == nil {
			stats.Deleted = deleted
		}

		insertSQL := fmt.Sprintf("INSERT INTO %s BY NAME (SELECT * FROM %s)", TableEventsRaw, quoteIdent(staging))
		if _, err := tx.ExecContext(ctx, insertSQL); err != nil {
			return fmt.Errorf("failed to append batch: %w", err)
		}
		stats.Inserted = int64(batch.RowCount())

		if _, err := tx.ExecContext(ctx, fmt.Sprintf("DROP TABLE %s", quoteIdent(staging))); err != nil {
			return fmt.Errorf("failed to drop staging table: %w", err)
		}
		return nil
	})
	if err != nil {
		return UpsertStats{}, err
	}

	if stats.Created {
		s.logger.Info("created event store", zap.Int64("rows", stats.Inserted))
	} else {
		s.logger.Info("merged batch into event store",
			zap.Int64("updated", stats.Deleted),
			zap.Int64("added", stats.Inserted-stats.Deleted))
	}
	return stats, nil
}

func createStagingTable(ctx context.Context, tx *sql.Tx, name string, batch *domain.Table) error {
	defs := make([]string, len(batch.Columns))
	for i, col := range batch.Columns {
		defs[i] = fmt.Sprintf("%s %s", quoteIdent(col.Name), col.Type)
	}
	ddl := fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(name), strings.Join(defs, ", "))
	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create staging table: %w", err)
	}
	return nil
}

func loadStagingRows(ctx context.Context, tx *sql.Tx, name string, batch *domain.Table) error {
	if batch.RowCount() == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(batch.Columns)), ", ")
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s VALUES (%s)", quoteIdent(name), placeholders))
	if err != nil {
		return fmt.Errorf("failed to prepare staging insert: %w", err)
	}
	defer stmt.Close()

	args := make([]any, len(batch.Columns))
	for _, row := range batch.Rows {
		for i := range args {
			if i < len(row) {
				args[i] = row[i]
			} else {
				args[i] = nil
			}
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("failed to load batch row: %w", err)
		}
	}
	return nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteLiteral(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func tableExists(ctx context.Context, q queryer, table string) (bool, error) {
	var count int
	err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM information_schema.tables WHERE table_name = ?", table).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check table %q: %w", table, err)
	}
	return count > 0, nil
}

func tableExistsTx(ctx context.Context, tx *sql.Tx, table string) (bool, error) {
	return tableExists(ctx, tx, table)
}

func tableColumns(ctx context.Context, q queryer, table string) ([]string, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT column_name FROM information_schema.columns WHERE table_name = ? ORDER BY ordinal_position", table)
	if err != nil {
		return nil, fmt.Errorf("failed to list columns of %q: %w", table, err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		cols = append(cols, name)
	}
	return cols, rows.Err()
}

func tableColumnsTx(ctx context.Context, tx *sql.Tx, table string) ([]string, error) {
	return tableColumns(ctx, tx, table)
}
