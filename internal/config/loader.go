package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/rpattn/clickstream/internal/domain"
)

// Config is the full pipeline configuration: directories, the database
// file, lookup inputs, timezones and optional external enrichment files.
type Config struct {
	Environment string

	InputDir  string
	OutputDir string

	DatabasePath string

	DimensionPath string
	ContentPath   string

	SourceTimezone string
	TargetTimezone string

	AliasesFile   string
	RulesFile     string
	DimensionFile string
}

// Load reads config.yaml from the given directory, with environment
// variable overrides under the CLICKSTREAM prefix. Missing files fall back
// to defaults so the pipeline runs out of the box.
func Load(configPath string) (Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AutomaticEnv()
	v.SetEnvPrefix("CLICKSTREAM")

	v.SetDefault("environment", "production")
	v.SetDefault("input.dir", "input")
	v.SetDefault("output.dir", "output")
	v.SetDefault("database.path", "data/clickstream.duckdb")
	v.SetDefault("lookups.dimension", "lookups/hr_history.parquet")
	v.SetDefault("lookups.content", "lookups/story_titles.parquet")
	v.SetDefault("timezones.source", "UTC")
	v.SetDefault("timezones.target", "Europe/Berlin")

	v.BindEnv("environment")
	v.BindEnv("input.dir")
	v.BindEnv("output.dir")
	v.BindEnv("database.path")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	return Config{
		Environment:    v.GetString("environment"),
		InputDir:       v.GetString("input.dir"),
		OutputDir:      v.GetString("output.dir"),
		DatabasePath:   v.GetString("database.path"),
		DimensionPath:  v.GetString("lookups.dimension"),
		ContentPath:    v.GetString("lookups.content"),
		SourceTimezone: v.GetString("timezones.source"),
		TargetTimezone: v.GetString("timezones.target"),
		AliasesFile:    v.GetString("enrichment.aliases_file"),
		RulesFile:      v.GetString("enrichment.rules_file"),
		DimensionFile:  v.GetString("enrichment.dimension_file"),
	}, nil
}

// Enrichment builds the enrichment configuration: built-in defaults,
// overridden per section by the external YAML files when configured.
func (c Config) Enrichment() (domain.EnrichmentConfig, error) {
	cfg := domain.DefaultEnrichmentConfig()
	cfg.SourceTimezone = c.SourceTimezone
	cfg.TargetTimezone = c.TargetTimezone

	if c.AliasesFile != "" {
		var aliases domain.AliasConfig
		if err := readYAML(c.AliasesFile, &aliases); err != nil {
			return domain.EnrichmentConfig{}, fmt.Errorf("load aliases file: %w", err)
		}
		cfg.Aliases = aliases
	}
	if c.RulesFile != "" {
		var rules []domain.ActionRule
		if err := readYAML(c.RulesFile, &rules); err != nil {
			return domain.EnrichmentConfig{}, fmt.Errorf("load rules file: %w", err)
		}
		cfg.Rules = rules
	}
	if c.DimensionFile != "" {
		var mapping domain.DimensionMapping
		if err := readYAML(c.DimensionFile, &mapping); err != nil {
			return domain.EnrichmentConfig{}, fmt.Errorf("load dimension file: %w", err)
		}
		cfg.Dimension = mapping
	}
	return cfg, nil
}

func readYAML(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}
