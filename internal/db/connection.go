package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/duckdb/duckdb-go/v2"
)

// Config holds database configuration. Path is the location of the DuckDB
// file; an empty path opens an in-memory database (used by tests).
type Config struct {
	Path string
}

// Connection wraps the embedded DuckDB database. The pipeline is
// single-writer: one connection is held for the duration of a run and the
// pool is capped accordingly.
type Connection struct {
	DB *sql.DB
}

// NewConnection opens (creating if necessary) the DuckDB database.
func NewConnection(ctx context.Context, config Config) (*Connection, error) {
	if config.Path != "" {
		if err := os.MkdirAll(filepath.Dir(config.Path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	database, err := sql.Open("duckdb", config.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One process at a time; multiple pooled connections would only add
	// write contention inside the same file.
	database.SetMaxOpenConns(1)

	if err := database.PingContext(ctx); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Connection{DB: database}, nil
}

// Close closes the database.
func (c *Connection) Close() error {
	if c.DB != nil {
		return c.DB.Close()
	}
	return nil
}

// WithTx executes a function within a database transaction. The transaction
// is rolled back on error or panic, so a failed merge never leaves the
// store in a mixed state.
func (c *Connection) WithTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction error: %v, rollback error: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Checkpoint flushes the write-ahead log and compacts the database file.
func (c *Connection) Checkpoint(ctx context.Context) error {
	if _, err := c.DB.ExecContext(ctx, "CHECKPOINT"); err != nil {
		return fmt.Errorf("failed to checkpoint database: %w", err)
	}
	return nil
}
