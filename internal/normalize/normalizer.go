// Package normalize renames known source-column variants to canonical
// names and converts heterogeneous timestamp text into typed timestamps.
package normalize

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/rpattn/clickstream/internal/domain"
)

// Normalizer applies the configured alias renames and the timestamp format
// heuristics to a freshly loaded batch.
type Normalizer struct {
	logger  *zap.Logger
	aliases domain.AliasConfig
}

// NewNormalizer creates a normalizer for the given alias configuration.
func NewNormalizer(logger *zap.Logger, aliases domain.AliasConfig) *Normalizer {
	return &Normalizer{logger: logger, aliases: aliases}
}

// Normalize rewrites the table in place. It fails only when the natural-key
// timestamp column exists but cannot be converted; every other unconverted
// column is left as text with a warning.
func (n *Normalizer) Normalize(table *domain.Table) error {
	n.applyRenames(table)

	for col := range table.Columns {
		if table.Columns[col].Type != domain.FieldTypeVarchar {
			continue
		}
		sample, ok := table.FirstNonNull(col)
		if !ok {
			continue
		}
		text, ok := sample.(string)
		if !ok {
			continue
		}
		pattern, ok := MatchTimestampPattern(text)
		if !ok {
			continue
		}
		n.convertColumn(table, col, func(value string) (any, bool) {
			ts, err := pattern.Parse(value)
			if err != nil {
				return nil, false
			}
			return ts, true
		})
	}

	// Best-effort cast for a timestamp column no explicit pattern claimed.
	if col := table.ColumnIndex(domain.ColumnTimestamp); col >= 0 && table.Columns[col].Type == domain.FieldTypeVarchar {
		n.logger.Info("converting timestamp column with best-effort cast")
		n.convertColumn(table, col, func(value string) (any, bool) {
			ts, err := ParseAny(value)
			if err != nil {
				return nil, false
			}
			return ts, true
		})
	}

	if col := table.ColumnIndex(domain.ColumnTimestamp); col >= 0 {
		if table.Columns[col].Type != domain.FieldTypeTimestamp {
			return fmt.Errorf("column %q could not be converted to a timestamp", domain.ColumnTimestamp)
		}
	}

	n.checkPrecision(table)
	return nil
}

func (n *Normalizer) applyRenames(table *domain.Table) {
	sources := make([]string, 0, len(n.aliases.Renames))
	for src := range n.aliases.Renames {
		sources = append(sources, src)
	}
	sort.Strings(sources)

	for _, src := range sources {
		dst := n.aliases.Renames[src]
		if !table.HasColumn(src) {
			continue
		}
		if table.HasColumn(dst) {
			n.logger.Warn("skipping column rename, canonical name already present",
				zap.String("from", src), zap.String("to", dst))
			continue
		}
		if err := table.RenameColumn(src, dst); err != nil {
			n.logger.Warn("column rename failed", zap.String("from", src), zap.Error(err))
		}
	}
}

// convertColumn parses every value of a text column. Individual failures
// become nulls so one bad cell cannot block a batch, but the column type
// flips to TIMESTAMP only when at least one value parsed; a column where
// every value failed stays VARCHAR so the caller can treat it as
// unconverted.
func (n *Normalizer) convertColumn(table *domain.Table, col int, parse func(string) (any, bool)) {
	converted := 0
	failures := 0
	for _, row := range table.Rows {
		if col >= len(row) || row[col] == nil {
			continue
		}
		text, ok := row[col].(string)
		if !ok {
			continue
		}
		value, ok := parse(text)
		if !ok {
			row[col] = nil
			failures++
			continue
		}
		row[col] = value
		converted++
	}
	if converted > 0 {
		table.Columns[col].Type = domain.FieldTypeTimestamp
	}

	if failures > 0 {
		n.logger.Warn("some values could not be parsed as timestamps and were nulled",
			zap.String("column", table.Columns[col].Name),
			zap.Int("failures", failures))
	}
}

// checkPrecision warns when a timestamp column carries no sub-second
// precision. Spreadsheet exports truncate it; ordering of events within
// the same second is then ambiguous. Processing continues either way.
func (n *Normalizer) checkPrecision(table *domain.Table) {
	for col := range table.Columns {
		if table.Columns[col].Type != domain.FieldTypeTimestamp {
			continue
		}
		if !strings.Contains(strings.ToLower(table.Columns[col].Name), "timestamp") {
			continue
		}
		if table.RowCount() == 0 || table.TimestampPrecision(col) {
			continue
		}
		n.logger.Warn("timestamp column has no sub-second precision; export as CSV to preserve it",
			zap.String("column", table.Columns[col].Name))
	}
}
