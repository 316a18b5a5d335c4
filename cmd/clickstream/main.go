package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rpattn/clickstream/internal/config"
	"github.com/rpattn/clickstream/internal/db"
	"github.com/rpattn/clickstream/internal/ingestion"
	"github.com/rpattn/clickstream/internal/logger"
	"github.com/rpattn/clickstream/internal/pipeline"
	"github.com/rpattn/clickstream/pkg/validator"
)

func main() {
	var (
		configPath  string
		fullRefresh bool
		latest      bool
	)

	root := &cobra.Command{
		Use:   "clickstream [file]",
		Short: "Incremental click-event enrichment pipeline",
		Long: "Merges exported click-event files into an embedded event store,\n" +
			"rebuilds the enriched events table and writes parquet extracts.\n" +
			"With a file argument only that file is offered for merging;\n" +
			"otherwise the input directory is scanned.",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var file string
			if len(args) == 1 {
				file = args[0]
			}
			if latest && file != "" {
				return errors.New("--latest cannot be combined with a file argument")
			}
			return run(cmd.Context(), configPath, latest, pipeline.RunOptions{
				FullRefresh: fullRefresh,
				File:        file,
			})
		},
	}
	root.Flags().StringVarP(&configPath, "config", "c", ".", "directory containing config.yaml")
	root.Flags().BoolVar(&fullRefresh, "full-refresh", false, "discard the event store and reprocess every input file")
	root.Flags().BoolVar(&latest, "latest", false, "process only the most recent input file")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string, latest bool, opts pipeline.RunOptions) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if latest {
		file, err := ingestion.LatestInput(cfg.InputDir)
		if err != nil {
			return fmt.Errorf("find latest input file: %w", err)
		}
		opts.File = file
	}

	log, err := logger.New(cfg.Environment)
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer log.Sync()

	enrichment, err := cfg.Enrichment()
	if err != nil {
		return err
	}
	result := validator.NewConfigValidator().Validate(enrichment)
	for _, warning := range result.Warnings {
		log.Warn("configuration warning",
			zap.String("field", warning.Field),
			zap.String("message", warning.Message))
	}
	if !result.IsValid {
		for _, verr := range result.Errors {
			log.Error("configuration error",
				zap.String("field", verr.Field),
				zap.String("message", verr.Message))
		}
		return errors.New("invalid configuration")
	}

	if opts.FullRefresh {
		log.Info("full refresh requested, resetting event store",
			zap.String("path", cfg.DatabasePath))
		if err := pipeline.ResetDatabase(cfg.DatabasePath); err != nil {
			return err
		}
	}

	conn, err := db.NewConnection(ctx, db.Config{Path: cfg.DatabasePath})
	if err != nil {
		return err
	}
	defer conn.Close()

	summary, err := pipeline.New(cfg, enrichment, conn, log).Run(ctx, opts)
	if err != nil {
		return err
	}

	for _, extract := range summary.Extracts {
		log.Info("extract available",
			zap.String("name", extract.Name),
			zap.String("path", extract.Path),
			zap.Int64("rows", extract.Rows))
	}
	return nil
}
