package transformations

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rpattn/clickstream/internal/db"
	"github.com/rpattn/clickstream/internal/repository"
)

const (
	stageBaseTable   = "events_stage_base"
	stageWindowTable = "events_stage"
)

// Executor rebuilds the enriched events table from the raw store. The
// rebuild is staged: failures leave the previous events table untouched
// because the swap into place happens last, inside a transaction.
type Executor struct {
	conn   *db.Connection
	logger *zap.Logger
}

func NewExecutor(conn *db.Connection, logger *zap.Logger) *Executor {
	return &Executor{conn: conn, logger: logger}
}

// Rebuild derives the events table from events_raw using the resolved
// capabilities: identifier and email normalization, action classification,
// local-time session keys, the dimension as-of join, session window
// metrics and content metadata.
func (e *Executor) Rebuild(ctx context.Context, caps Capabilities) error {
	started := time.Now()

	if _, err := e.conn.DB.ExecContext(ctx,
		fmt.Sprintf("SET TimeZone = %s", quoteLiteral(caps.SourceTimezone))); err != nil {
		return fmt.Errorf("setting session timezone: %w", err)
	}

	if err := e.buildBase(ctx, caps); err != nil {
		return fmt.Errorf("building enriched base: %w", err)
	}
	if err := e.buildWindows(ctx); err != nil {
		return fmt.Errorf("building session windows: %w", err)
	}
	if caps.HasContent {
		if err := e.joinContent(ctx, caps); err != nil {
			return fmt.Errorf("joining content metadata: %w", err)
		}
	}
	if err := e.swap(ctx); err != nil {
		return fmt.Errorf("swapping events table: %w", err)
	}

	var rows int64
	if err := e.conn.DB.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM %s", repository.TableEvents)).Scan(&rows); err != nil {
		return fmt.Errorf("counting events: %w", err)
	}
	e.logger.Info("rebuilt events table",
		zap.Int64("rows", rows),
		zap.Bool("dimension_joined", caps.HasDimension),
		zap.Bool("content_joined", caps.HasContent),
		zap.Duration("elapsed", time.Since(started)))
	return nil
}

func (e *Executor) buildBase(ctx context.Context, caps Capabilities) error {
	local := caps.LocalTimestampExpr("r")

	cols := []string{
		"r.*",
		fmt.Sprintf("%s AS gpn", caps.IdentifierExpr("r")),
		fmt.Sprintf("%s AS email", caps.EmailExpr("r")),
		fmt.Sprintf("%s AS story_id", caps.StoryIDExpr("r")),
		fmt.Sprintf("%s AS action_type", caps.ActionCaseExpr("r")),
		"STRFTIME(r.timestamp, '%Y-%m-%d %H:%M:%S.%g') AS timestamp_str",
		fmt.Sprintf("%s AS timestamp_local", local),
		fmt.Sprintf("STRFTIME(%s, '%%Y-%%m-%%d %%H:%%M:%%S.%%g') AS timestamp_local_str", local),
		fmt.Sprintf("DATE_TRUNC('day', %s)::DATE AS session_date", local),
		fmt.Sprintf("%s AS session_key", caps.SessionKeyExpr("r")),
		fmt.Sprintf("HOUR(%s) AS event_hour", local),
		fmt.Sprintf("DAYNAME(%s) AS event_weekday", local),
		fmt.Sprintf("ISODOW(%s) AS event_weekday_num", local),
	}

	join, dimCols := caps.DimensionJoin("r")
	cols = append(cols, dimCols...)

	query := fmt.Sprintf("CREATE OR REPLACE TABLE %s AS\nSELECT\n    %s\nFROM %s r",
		stageBaseTable, strings.Join(cols, ",\n    "), repository.TableEventsRaw)
	if join != "" {
		query += "\n" + join
	}
	_, err := e.conn.DB.ExecContext(ctx, query)
	return err
}

func (e *Executor) buildWindows(ctx context.Context) error {
	lag := "LAG(b.timestamp) OVER w"
	gap := fmt.Sprintf("DATE_DIFF('millisecond', %s, b.timestamp)", lag)

	query := fmt.Sprintf(`CREATE OR REPLACE TABLE %s AS
SELECT
    b.*,
    ROW_NUMBER() OVER w AS event_order,
    LAG(b.name) OVER w AS prev_event,
    %s AS prev_timestamp,
    %s AS ms_since_prev_event,
    ROUND(%s / 1000.0, 3) AS sec_since_prev_event,
    %s AS time_since_prev_bucket
FROM %s b
WINDOW w AS (PARTITION BY b.session_key ORDER BY b.timestamp)`,
		stageWindowTable, lag, gap, gap, GapBucketCaseExpr(lag, gap), stageBaseTable)
	_, err := e.conn.DB.ExecContext(ctx, query)
	return err
}

func (e *Executor) joinContent(ctx context.Context, caps Capabilities) error {
	alters := []string{
		fmt.Sprintf("ALTER TABLE %s ADD COLUMN story_title VARCHAR", stageWindowTable),
	}
	sets := []string{"story_title = s.story_title"}
	if caps.ContentHasKeys {
		alters = append(alters,
			fmt.Sprintf("ALTER TABLE %s ADD COLUMN story_keys VARCHAR", stageWindowTable))
		sets = append(sets, `story_keys = CAST(s."keys" AS VARCHAR)`)
	}
	for _, stmt := range alters {
		if _, err := e.conn.DB.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	query := fmt.Sprintf(
		"UPDATE %s SET %s FROM %s s WHERE %s.story_id = CAST(s.story_id AS VARCHAR)",
		stageWindowTable, strings.Join(sets, ", "), repository.TableContent, stageWindowTable)
	_, err := e.conn.DB.ExecContext(ctx, query)
	return err
}

func (e *Executor) swap(ctx context.Context) error {
	err := e.conn.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf("DROP TABLE IF EXISTS %s", repository.TableEvents)); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			fmt.Sprintf("ALTER TABLE %s RENAME TO %s", stageWindowTable, repository.TableEvents))
		return err
	})
	if err != nil {
		return err
	}
	_, err = e.conn.DB.ExecContext(ctx,
		fmt.Sprintf("DROP TABLE IF EXISTS %s", stageBaseTable))
	return err
}
