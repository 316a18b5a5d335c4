package db

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
)

func TestNewConnectionCreatesDirectory(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "dir", "events.duckdb")

	conn, err := NewConnection(ctx, Config{Path: path})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer conn.Close()

	if err := conn.Checkpoint(ctx); err != nil {
		t.Errorf("checkpoint: %v", err)
	}
}

func TestWithTxCommits(t *testing.T) {
	ctx := context.Background()
	conn, err := NewConnection(ctx, Config{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()

	err = conn.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "CREATE TABLE t (v INTEGER)"); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, "INSERT INTO t VALUES (1)")
		return err
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var count int
	if err := conn.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM t").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("expected committed row, got %d", count)
	}
}

func TestWithTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	conn, err := NewConnection(ctx, Config{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()

	boom := errors.New("boom")
	err = conn.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "CREATE TABLE t (v INTEGER)"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}

	var count int
	err = conn.DB.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM information_schema.tables WHERE table_name = 't'").Scan(&count)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if count != 0 {
		t.Errorf("table creation should have rolled back")
	}
}
