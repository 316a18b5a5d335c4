package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/rpattn/clickstream/internal/config"
	"github.com/rpattn/clickstream/internal/db"
	"github.com/rpattn/clickstream/internal/domain"
	"github.com/rpattn/clickstream/internal/export"
	"github.com/rpattn/clickstream/internal/ingestion"
	"github.com/rpattn/clickstream/internal/normalize"
	"github.com/rpattn/clickstream/internal/repository"
	"github.com/rpattn/clickstream/internal/transformations"
)

// ErrNoData is returned when a run merged nothing and no event store
// exists from earlier runs.
var ErrNoData = errors.New("no merged data and no existing event store")

// RunOptions select what a run processes. File, when set, names a single
// input file instead of scanning the input directory.
type RunOptions struct {
	FullRefresh bool
	File        string
}

// Summary reports what a run did.
type Summary struct {
	FilesProcessed int
	FilesSkipped   int
	RowsInserted   int64
	RowsReplaced   int64
	Rebuilt        bool
	Extracts       []export.Output
	Elapsed        time.Duration
}

// Pipeline wires the ingestion, merge, enrichment and export stages into
// one incremental run over the input directory.
type Pipeline struct {
	cfg        config.Config
	enrichment domain.EnrichmentConfig
	logger     *zap.Logger

	conn       *db.Connection
	loader     *ingestion.Loader
	normalizer *normalize.Normalizer
	events     repository.EventStore
	manifest   repository.ManifestRepository
	lookups    repository.LookupRepository
	executor   *transformations.Executor
	exporter   *export.Service
}

// New assembles a pipeline over an open database connection.
func New(cfg config.Config, enrichment domain.EnrichmentConfig, conn *db.Connection, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		cfg:        cfg,
		enrichment: enrichment,
		logger:     logger,
		conn:       conn,
		loader:     ingestion.NewLoader(logger, enrichment.Aliases),
		normalizer: normalize.NewNormalizer(logger, enrichment.Aliases),
		events:     repository.NewEventStore(conn, logger),
		manifest:   repository.NewManifestRepository(conn),
		lookups:    repository.NewLookupRepository(conn, logger),
		executor:   transformations.NewExecutor(conn, logger),
		exporter:   export.NewService(conn, logger, export.WithOutputDirectory(cfg.OutputDir)),
	}
}

// ResetDatabase removes the database file so a full refresh starts from an
// empty store. Call before opening the connection.
func ResetDatabase(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove database file: %w", err)
	}
	// DuckDB leaves a write-ahead log next to the file.
	if err := os.Remove(path + ".wal"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove database WAL: %w", err)
	}
	return nil
}

// Run executes one end-to-end pass: merge changed input files, rebuild the
// enriched events table and write the extracts. When nothing changed and
// an enriched table already exists, the rebuild and extracts are skipped.
func (p *Pipeline) Run(ctx context.Context, opts RunOptions) (Summary, error) {
	started := time.Now()
	var summary Summary

	if err := p.manifest.Ensure(ctx); err != nil {
		return summary, fmt.Errorf("ensure manifest: %w", err)
	}

	files, err := p.selectInputs(opts)
	if err != nil {
		return summary, err
	}

	// An explicitly named file is always reprocessed, current manifest
	// hash or not.
	force := opts.FullRefresh || opts.File != ""
	for _, file := range files {
		processed, stats, err := p.processFile(ctx, file, force)
		if err != nil {
			return summary, fmt.Errorf("process %s: %w", filepath.Base(file), err)
		}
		if !processed {
			summary.FilesSkipped++
			continue
		}
		summary.FilesProcessed++
		summary.RowsInserted += stats.Inserted
		summary.RowsReplaced += stats.Deleted
	}

	exists, err := p.events.Exists(ctx)
	if err != nil {
		return summary, fmt.Errorf("check event store: %w", err)
	}
	if !exists {
		return summary, ErrNoData
	}
	if summary.FilesProcessed == 0 && !opts.FullRefresh {
		p.logger.Info("no new or changed input files, skipping rebuild",
			zap.Int("files_skipped", summary.FilesSkipped))
		summary.Elapsed = time.Since(started)
		return summary, nil
	}

	caps, err := p.resolveCapabilities(ctx)
	if err != nil {
		return summary, err
	}

	if err := p.executor.Rebuild(ctx, caps); err != nil {
		return summary, err
	}
	summary.Rebuilt = true

	exportSummary, err := p.exporter.ExportAll(ctx, caps)
	if err != nil {
		return summary, err
	}
	summary.Extracts = exportSummary.Outputs

	if err := p.lookups.DropLookups(ctx); err != nil {
		return summary, fmt.Errorf("drop lookup tables: %w", err)
	}
	if err := p.conn.Checkpoint(ctx); err != nil {
		return summary, err
	}

	summary.Elapsed = time.Since(started)
	p.logger.Info("run complete",
		zap.Int("files_processed", summary.FilesProcessed),
		zap.Int("files_skipped", summary.FilesSkipped),
		zap.Int64("rows_inserted", summary.RowsInserted),
		zap.Int64("rows_replaced", summary.RowsReplaced),
		zap.Duration("elapsed", summary.Elapsed))
	return summary, nil
}

func (p *Pipeline) selectInputs(opts RunOptions) ([]string, error) {
	if opts.File != "" {
		if _, err := os.Stat(opts.File); err != nil {
			return nil, fmt.Errorf("input file: %w", err)
		}
		return []string{opts.File}, nil
	}
	// All discovered files are offered in date order; the manifest hash
	// check skips the ones already merged. An input directory with no
	// processable files at all is fatal before the store is touched.
	files, err := ingestion.DiscoverInputs(p.cfg.InputDir)
	if err != nil {
		return nil, fmt.Errorf("scan input directory %s: %w", p.cfg.InputDir, err)
	}
	return files, nil
}

func (p *Pipeline) processFile(ctx context.Context, path string, force bool) (bool, repository.UpsertStats, error) {
	name := filepath.Base(path)

	hash, err := ingestion.FileHash(path)
	if err != nil {
		return false, repository.UpsertStats{}, fmt.Errorf("hash file: %w", err)
	}
	status, err := p.manifest.Status(ctx, name, hash)
	if err != nil {
		return false, repository.UpsertStats{}, fmt.Errorf("manifest status: %w", err)
	}
	if status == domain.FileStatusUnchanged && !force {
		p.logger.Info("file unchanged, skipping", zap.String("file", name))
		return false, repository.UpsertStats{}, nil
	}

	table, err := p.loader.LoadFile(path)
	if err != nil {
		return false, repository.UpsertStats{}, err
	}
	if err := p.normalizer.Normalize(table); err != nil {
		return false, repository.UpsertStats{}, err
	}

	stats, err := p.events.UpsertBatch(ctx, table)
	if err != nil {
		return false, repository.UpsertStats{}, err
	}

	entry := domain.ManifestEntry{
		Filename: name,
		FileHash: hash,
		RowCount: int64(table.RowCount()),
	}
	if date, ok := ingestion.ExtractFilenameDate(path); ok {
		entry.DateSuffix = &date
	}
	if err := p.manifest.Record(ctx, entry); err != nil {
		return false, repository.UpsertStats{}, fmt.Errorf("record manifest entry: %w", err)
	}

	p.logger.Info("merged input file",
		zap.String("file", name),
		zap.String("status", string(status)),
		zap.Int("rows", table.RowCount()),
		zap.Int64("inserted", stats.Inserted),
		zap.Int64("replaced", stats.Deleted))
	return true, stats, nil
}

func (p *Pipeline) resolveCapabilities(ctx context.Context) (transformations.Capabilities, error) {
	storeCols, err := p.events.Columns(ctx)
	if err != nil {
		return transformations.Capabilities{}, fmt.Errorf("introspect event store: %w", err)
	}

	var dimCols, contentCols []string
	loaded, err := p.lookups.LoadDimension(ctx, p.cfg.DimensionPath)
	if err != nil {
		return transformations.Capabilities{}, fmt.Errorf("load dimension: %w", err)
	}
	if loaded {
		if dimCols, err = p.lookups.TableColumns(ctx, repository.TableDimension); err != nil {
			return transformations.Capabilities{}, err
		}
	}
	loaded, err = p.lookups.LoadContent(ctx, p.cfg.ContentPath)
	if err != nil {
		return transformations.Capabilities{}, fmt.Errorf("load content metadata: %w", err)
	}
	if loaded {
		if contentCols, err = p.lookups.TableColumns(ctx, repository.TableContent); err != nil {
			return transformations.Capabilities{}, err
		}
	}

	return transformations.ResolveCapabilities(storeCols, dimCols, contentCols, p.enrichment), nil
}
