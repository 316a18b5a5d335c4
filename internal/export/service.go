package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/rpattn/clickstream/internal/db"
	"github.com/rpattn/clickstream/internal/domain"
	"github.com/rpattn/clickstream/internal/repository"
	"github.com/rpattn/clickstream/internal/transformations"
)

const (
	rawFileName        = "events.parquet"
	anonymizedFileName = "events_anonymized.parquet"
	rollupFileName     = "events_daily_rollup.parquet"
)

// Output describes one written extract.
type Output struct {
	Name string
	Path string
	Rows int64
}

// Summary collects the extracts written by a run.
type Summary struct {
	Outputs []Output
}

// Service writes parquet extracts of the enriched events table: the full
// table, an anonymized variant with hashed identifiers and no email
// addresses, and a daily rollup aggregated per action category.
type Service struct {
	conn        *db.Connection
	logger      *zap.Logger
	outputDir   string
	compression string
}

type Option func(*Service)

func WithOutputDirectory(dir string) Option {
	return func(s *Service) {
		if strings.TrimSpace(dir) != "" {
			s.outputDir = filepath.Clean(dir)
		}
	}
}

func WithCompression(codec string) Option {
	return func(s *Service) {
		if strings.TrimSpace(codec) != "" {
			s.compression = codec
		}
	}
}

func NewService(conn *db.Connection, logger *zap.Logger, opts ...Option) *Service {
	service := &Service{
		conn:        conn,
		logger:      logger,
		outputDir:   "output",
		compression: "SNAPPY",
	}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

// ExportAll writes the three extracts. A failed extract does not abort the
// others; all failures are reported together and already-written files are
// left in place.
func (s *Service) ExportAll(ctx context.Context, caps transformations.Capabilities) (Summary, error) {
	if err := os.MkdirAll(s.outputDir, 0o755); err != nil {
		return Summary{}, fmt.Errorf("ensure output directory: %w", err)
	}

	columns, err := s.tableColumns(ctx, repository.TableEvents)
	if err != nil {
		return Summary{}, fmt.Errorf("introspect events columns: %w", err)
	}

	var summary Summary
	var errs []error
	exports := []struct {
		name  string
		file  string
		query string
	}{
		{"raw", rawFileName, fmt.Sprintf("SELECT * FROM %s", repository.TableEvents)},
		{"anonymized", anonymizedFileName, s.anonymizedQuery(columns, caps)},
		{"rollup", rollupFileName, s.rollupQuery(columns, caps)},
	}
	for _, export := range exports {
		path := filepath.Join(s.outputDir, export.file)
		rows, err := s.writeParquet(ctx, export.query, path)
		if err != nil {
			s.logger.Error("extract failed",
				zap.String("extract", export.name),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("write %s extract: %w", export.name, err))
			continue
		}
		s.logger.Info("wrote extract",
			zap.String("extract", export.name),
			zap.String("path", path),
			zap.Int64("rows", rows))
		summary.Outputs = append(summary.Outputs, Output{Name: export.name, Path: path, Rows: rows})
	}
	return summary, errors.Join(errs...)
}

func (s *Service) writeParquet(ctx context.Context, query, path string) (int64, error) {
	copyStmt := fmt.Sprintf("COPY (%s) TO %s (FORMAT PARQUET, COMPRESSION %s)",
		query, quoteLiteral(path), s.compression)
	if _, err := s.conn.DB.ExecContext(ctx, copyStmt); err != nil {
		return 0, err
	}
	var rows int64
	countStmt := fmt.Sprintf("SELECT COUNT(*) FROM read_parquet(%s)", quoteLiteral(path))
	if err := s.conn.DB.QueryRowContext(ctx, countStmt).Scan(&rows); err != nil {
		return 0, err
	}
	return rows, nil
}

// anonymizedQuery hashes every identifier-bearing column and drops email
// columns entirely. The column treatment is decided from the table's actual
// columns so schema drift in the raw files cannot leak identifiers through.
func (s *Service) anonymizedQuery(columns []string, caps transformations.Capabilities) string {
	hashed := map[string]bool{"gpn": true, domain.ColumnUserID: true}
	for _, col := range caps.IdentifierColumns {
		hashed[col] = true
	}
	dropped := map[string]bool{"email": true}
	for _, col := range caps.EmailColumns {
		dropped[col] = true
	}

	selects := make([]string, 0, len(columns))
	for _, col := range columns {
		switch {
		case dropped[col]:
			continue
		case hashed[col]:
			selects = append(selects, fmt.Sprintf(
				"CASE WHEN %s IS NULL THEN NULL ELSE sha256(CAST(%s AS VARCHAR)) END AS %s",
				quoteIdent(col), quoteIdent(col), quoteIdent(col)))
		default:
			selects = append(selects, quoteIdent(col))
		}
	}
	return fmt.Sprintf("SELECT %s FROM %s", strings.Join(selects, ", "), repository.TableEvents)
}

// rollupQuery aggregates events per content id and local day, restricted to
// rows that carry a content id. The category columns come from the configured
// rule vocabulary so a changed rule set changes the extract shape accordingly.
func (s *Service) rollupQuery(columns []string, caps transformations.Capabilities) string {
	present := make(map[string]bool, len(columns))
	for _, col := range columns {
		present[col] = true
	}

	groupCols := []string{"session_date"}
	if present["story_id"] {
		groupCols = append(groupCols, "story_id")
	}
	for _, col := range []string{"hr_division", "hr_region"} {
		if present[col] {
			groupCols = append(groupCols, col)
		}
	}

	selects := append([]string(nil), groupCols...)
	if present["story_title"] {
		selects = append(selects, "MAX(story_title) AS story_title")
	}
	selects = append(selects,
		"COUNT(*) AS total_events",
		"COUNT(DISTINCT session_key) AS unique_sessions",
		fmt.Sprintf("COUNT(DISTINCT %s) AS unique_users", domain.ColumnUserID),
	)
	for _, category := range domain.Categories(caps.Rules) {
		selects = append(selects, fmt.Sprintf(
			"COUNT(*) FILTER (WHERE action_type = %s) AS %s",
			quoteLiteral(category), quoteIdent(categorySlug(category)+"_count")))
	}
	selects = append(selects,
		"COUNT(*) FILTER (WHERE action_type IS NULL) AS unlabeled_count")

	where := ""
	if present["story_id"] {
		where = " WHERE story_id IS NOT NULL AND story_id != ''"
	}
	return fmt.Sprintf("SELECT %s FROM %s%s GROUP BY %s ORDER BY %s",
		strings.Join(selects, ", "), repository.TableEvents, where,
		strings.Join(groupCols, ", "), strings.Join(groupCols, ", "))
}

func (s *Service) tableColumns(ctx context.Context, table string) ([]string, error) {
	rows, err := s.conn.DB.QueryContext(ctx,
		`SELECT column_name FROM information_schema.columns
		 WHERE table_name = ? ORDER BY ordinal_position`, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		columns = append(columns, name)
	}
	return columns, rows.Err()
}

// categorySlug lowercases a category name into a column-safe identifier.
func categorySlug(category string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(category)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return strings.Trim(b.String(), "_")
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteLiteral(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}
