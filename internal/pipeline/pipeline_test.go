package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/rpattn/clickstream/internal/config"
	"github.com/rpattn/clickstream/internal/db"
	"github.com/rpattn/clickstream/internal/domain"
	"github.com/rpattn/clickstream/internal/ingestion"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	base := t.TempDir()
	inputDir := filepath.Join(base, "input")
	if err := os.MkdirAll(inputDir, 0o755); err != nil {
		t.Fatalf("mkdir input: %v", err)
	}
	return config.Config{
		Environment:    "development",
		InputDir:       inputDir,
		OutputDir:      filepath.Join(base, "output"),
		DimensionPath:  filepath.Join(base, "lookups", "hr_history.parquet"),
		ContentPath:    filepath.Join(base, "lookups", "story_titles.parquet"),
		SourceTimezone: "UTC",
		TargetTimezone: "Europe/Berlin",
	}
}

func writeInput(t *testing.T, cfg config.Config, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(cfg.InputDir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}
}

func newTestPipeline(t *testing.T, cfg config.Config) *Pipeline {
	t.Helper()
	conn, err := db.NewConnection(context.Background(), db.Config{})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return New(cfg, domain.DefaultEnrichmentConfig(), conn, zap.NewNop())
}

const sampleCSV = "timestamp [UTC],user_Id,session_Id,name,CP_Link_label\n" +
	"2024-06-15 08:00:00.100,u1,s1,click,Read the story\n" +
	"2024-06-15 08:00:01.200,u1,s1,click,Submit\n" +
	"2024-06-15 09:00:00.000,u2,s2,pageview,\n"

func TestRunEndToEnd(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	writeInput(t, cfg, "export_2024_06_15.csv", sampleCSV)
	p := newTestPipeline(t, cfg)

	summary, err := p.Run(ctx, RunOptions{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.FilesProcessed != 1 || !summary.Rebuilt {
		t.Errorf("unexpected summary: %+v", summary)
	}
	if summary.RowsInserted != 3 {
		t.Errorf("expected 3 rows inserted, got %d", summary.RowsInserted)
	}
	if len(summary.Extracts) != 3 {
		t.Fatalf("expected 3 extracts, got %d", len(summary.Extracts))
	}
	for _, extract := range summary.Extracts {
		if _, err := os.Stat(extract.Path); err != nil {
			t.Errorf("extract %s not written: %v", extract.Name, err)
		}
	}
}

func TestRunSkipsUnchangedFiles(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	writeInput(t, cfg, "export_2024_06_15.csv", sampleCSV)
	p := newTestPipeline(t, cfg)

	if _, err := p.Run(ctx, RunOptions{}); err != nil {
		t.Fatalf("first run: %v", err)
	}

	summary, err := p.Run(ctx, RunOptions{})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if summary.FilesProcessed != 0 || summary.FilesSkipped != 1 {
		t.Errorf("unchanged file should be skipped: %+v", summary)
	}
	if summary.Rebuilt {
		t.Errorf("nothing changed, rebuild should be skipped")
	}
}

func TestRunMergesChangedFile(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	writeInput(t, cfg, "export_2024_06_15.csv", sampleCSV)
	p := newTestPipeline(t, cfg)

	if _, err := p.Run(ctx, RunOptions{}); err != nil {
		t.Fatalf("first run: %v", err)
	}

	// The re-exported file carries a corrected label for an existing event
	// plus one new event.
	changed := sampleCSV +
		"2024-06-15 10:00:00.000,u3,s3,click,Cancel\n"
	writeInput(t, cfg, "export_2024_06_15.csv", changed)

	summary, err := p.Run(ctx, RunOptions{})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if summary.FilesProcessed != 1 {
		t.Errorf("changed file should be reprocessed: %+v", summary)
	}
	if summary.RowsInserted != 4 || summary.RowsReplaced != 3 {
		t.Errorf("expected 4 inserted and 3 replaced, got %+v", summary)
	}
	if !summary.Rebuilt {
		t.Errorf("changed input must trigger a rebuild")
	}
}

func TestRunEmptyInputDirectoryFails(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	p := newTestPipeline(t, cfg)

	_, err := p.Run(ctx, RunOptions{})
	if !errors.Is(err, ingestion.ErrNoInputFiles) {
		t.Fatalf("expected ErrNoInputFiles, got %v", err)
	}

	// Still fatal when an earlier run already built the store.
	writeInput(t, cfg, "export_2024_06_15.csv", sampleCSV)
	if _, err := p.Run(ctx, RunOptions{}); err != nil {
		t.Fatalf("seed run: %v", err)
	}
	if err := os.Remove(filepath.Join(cfg.InputDir, "export_2024_06_15.csv")); err != nil {
		t.Fatalf("remove input: %v", err)
	}
	_, err = p.Run(ctx, RunOptions{})
	if !errors.Is(err, ingestion.ErrNoInputFiles) {
		t.Fatalf("expected ErrNoInputFiles with existing store, got %v", err)
	}
}

func TestRunExplicitFile(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	p := newTestPipeline(t, cfg)

	path := filepath.Join(cfg.InputDir, "adhoc.csv")
	if err := os.WriteFile(path, []byte(sampleCSV), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}

	summary, err := p.Run(ctx, RunOptions{File: path})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.FilesProcessed != 1 {
		t.Errorf("explicit file not processed: %+v", summary)
	}

	if _, err := p.Run(ctx, RunOptions{File: filepath.Join(cfg.InputDir, "missing.csv")}); err == nil {
		t.Errorf("missing explicit file must fail")
	}
}

func TestRunExplicitFileBypassesDeltaCheck(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	p := newTestPipeline(t, cfg)

	path := filepath.Join(cfg.InputDir, "adhoc.csv")
	if err := os.WriteFile(path, []byte(sampleCSV), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}

	if _, err := p.Run(ctx, RunOptions{File: path}); err != nil {
		t.Fatalf("first run: %v", err)
	}

	// The file is unchanged, but naming it explicitly reprocesses it anyway.
	summary, err := p.Run(ctx, RunOptions{File: path})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if summary.FilesProcessed != 1 || summary.FilesSkipped != 0 {
		t.Errorf("explicit file should bypass the manifest check: %+v", summary)
	}
	if !summary.Rebuilt {
		t.Errorf("explicit file run must rebuild the enriched table")
	}
}

func TestResetDatabase(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.duckdb")
	for _, name := range []string{path, path + ".wal"} {
		if err := os.WriteFile(name, []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	if err := ResetDatabase(path); err != nil {
		t.Fatalf("reset: %v", err)
	}
	for _, name := range []string{path, path + ".wal"} {
		if _, err := os.Stat(name); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("%s should be gone", name)
		}
	}

	// Resetting an absent database is fine.
	if err := ResetDatabase(path); err != nil {
		t.Errorf("reset of missing file: %v", err)
	}
}
