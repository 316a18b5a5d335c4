package transformations

import (
	"fmt"
	"strings"

	"github.com/rpattn/clickstream/internal/domain"
)

// Capabilities captures which optional inputs the enrichment query can use,
// resolved once per run against the columns actually present in the store
// and the lookup tables. Each capability contributes a well-typed SQL
// fragment; the conditional logic lives here where it can be tested without
// a database.
type Capabilities struct {
	IdentifierColumns []string
	EmailColumns      []string
	LabelColumn       string

	HasDimension        bool
	DimensionIdentifier string
	DimensionFields     []domain.DimensionField

	HasContent     bool
	ContentHasKeys bool

	Rules          []domain.ActionRule
	SourceTimezone string
	TargetTimezone string
}

// ResolveCapabilities matches the configured candidate columns and mappings
// against the store, dimension and content tables.
func ResolveCapabilities(storeCols, dimCols, contentCols []string, cfg domain.EnrichmentConfig) Capabilities {
	caps := Capabilities{
		Rules:          cfg.Rules,
		SourceTimezone: cfg.SourceTimezone,
		TargetTimezone: cfg.TargetTimezone,
	}

	present := make(map[string]bool, len(storeCols))
	for _, col := range storeCols {
		present[col] = true
	}
	for _, candidate := range cfg.Aliases.Identifier {
		if present[candidate] {
			caps.IdentifierColumns = append(caps.IdentifierColumns, candidate)
		}
	}
	for _, candidate := range cfg.Aliases.Email {
		if present[candidate] {
			caps.EmailColumns = append(caps.EmailColumns, candidate)
		}
	}
	for _, candidate := range cfg.Aliases.Label {
		if present[candidate] {
			caps.LabelColumn = candidate
			break
		}
	}

	dim := make(map[string]bool, len(dimCols))
	for _, col := range dimCols {
		dim[col] = true
	}
	if len(dimCols) > 0 && len(caps.IdentifierColumns) > 0 &&
		dim[cfg.Dimension.Identifier] && dim["snapshot_year"] && dim["snapshot_month"] {
		for _, field := range cfg.Dimension.Fields {
			if dim[field.Source] {
				caps.DimensionFields = append(caps.DimensionFields, field)
			}
		}
		if len(caps.DimensionFields) > 0 {
			caps.HasDimension = true
			caps.DimensionIdentifier = cfg.Dimension.Identifier
		}
	}

	content := make(map[string]bool, len(contentCols))
	for _, col := range contentCols {
		content[col] = true
	}
	caps.HasContent = content["story_id"] && content["story_title"]
	caps.ContentHasKeys = caps.HasContent && content["keys"]

	return caps
}

// IdentifierExpr yields the normalized person identifier: the first
// non-null candidate cast to text, a trailing ".0" spreadsheet artifact
// stripped, then zero-padded to eight digits. NULL when no candidate
// column exists.
func (c Capabilities) IdentifierExpr(alias string) string {
	if len(c.IdentifierColumns) == 0 {
		return "NULL::VARCHAR"
	}
	cols := make([]string, len(c.IdentifierColumns))
	for i, col := range c.IdentifierColumns {
		cols[i] = alias + "." + quoteIdent(col)
	}
	coalesce := cols[0]
	if len(cols) > 1 {
		coalesce = "COALESCE(" + strings.Join(cols, ", ") + ")"
	}
	return fmt.Sprintf("LPAD(REGEXP_REPLACE(CAST(%s AS VARCHAR), '\\.0$', ''), 8, '0')", coalesce)
}

// EmailExpr yields the first non-null email candidate, or NULL.
func (c Capabilities) EmailExpr(alias string) string {
	if len(c.EmailColumns) == 0 {
		return "NULL::VARCHAR"
	}
	cols := make([]string, len(c.EmailColumns))
	for i, col := range c.EmailColumns {
		cols[i] = fmt.Sprintf("CAST(%s.%s AS VARCHAR)", alias, quoteIdent(col))
	}
	if len(cols) == 1 {
		return cols[0]
	}
	return "COALESCE(" + strings.Join(cols, ", ") + ")"
}

// StoryIDExpr extracts the leading digits of the link label as the content
// identifier, NULL when absent or when no label column exists.
func (c Capabilities) StoryIDExpr(alias string) string {
	if c.LabelColumn == "" {
		return "NULL::VARCHAR"
	}
	label := alias + "." + quoteIdent(c.LabelColumn)
	return fmt.Sprintf("NULLIF(regexp_extract(%s, '^(\\d+)', 1), '')", label)
}

// ActionCaseExpr classifies the label against the configured rules in
// order. A null or blank label yields NULL so unlabeled events stay
// distinguishable from the residual Other category.
func (c Capabilities) ActionCaseExpr(alias string) string {
	if c.LabelColumn == "" {
		return "NULL::VARCHAR"
	}
	label := alias + "." + quoteIdent(c.LabelColumn)

	var b strings.Builder
	b.WriteString("CASE\n")
	fmt.Fprintf(&b, "    WHEN %s IS NULL OR TRIM(CAST(%s AS VARCHAR)) = '' THEN NULL\n", label, label)
	for _, rule := range c.Rules {
		fmt.Fprintf(&b, "    WHEN %s ILIKE %s THEN %s\n",
			label, quoteLiteral("%"+rule.Contains+"%"), quoteLiteral(rule.Category))
	}
	fmt.Fprintf(&b, "    ELSE %s\nEND", quoteLiteral(domain.ActionCategoryOther))
	return b.String()
}

// LocalTimestampExpr converts the stored timestamp from the source zone to
// the target zone, honoring that zone's daylight-saving rules.
func (c Capabilities) LocalTimestampExpr(alias string) string {
	return fmt.Sprintf("((%s.timestamp AT TIME ZONE %s) AT TIME ZONE %s)::TIMESTAMP",
		alias, quoteLiteral(c.SourceTimezone), quoteLiteral(c.TargetTimezone))
}

// SessionKeyExpr derives the session grouping key from the local date, the
// user identifier and the session identifier, with empty strings for nulls.
func (c Capabilities) SessionKeyExpr(alias string) string {
	local := c.LocalTimestampExpr(alias)
	return fmt.Sprintf(
		"COALESCE(CAST(DATE_TRUNC('day', %s)::DATE AS VARCHAR), '') || '_' || "+
			"COALESCE(CAST(%s.user_id AS VARCHAR), '') || '_' || "+
			"COALESCE(CAST(%s.session_id AS VARCHAR), '')",
		local, alias, alias)
}

// DimensionJoin builds the lateral join picking the single winning
// snapshot per event: the latest snapshot at or before the event's
// calendar month, else the earliest one after it. Every projected field
// comes from that one row, so attributes are never mixed across versions.
func (c Capabilities) DimensionJoin(alias string) (join string, selectCols []string) {
	if !c.HasDimension {
		return "", nil
	}

	fields := make([]string, len(c.DimensionFields))
	for i, field := range c.DimensionFields {
		fields[i] = fmt.Sprintf("h.%s AS %s", quoteIdent(field.Source), quoteIdent(field.Target))
		selectCols = append(selectCols, "hr."+quoteIdent(field.Target))
	}

	snapshotKey := "(h.snapshot_year * 100 + h.snapshot_month)"
	eventKey := fmt.Sprintf("(YEAR(%s.timestamp) * 100 + MONTH(%s.timestamp))", alias, alias)

	join = fmt.Sprintf(`LEFT JOIN LATERAL (
    SELECT %s
    FROM %s h
    WHERE CAST(h.%s AS VARCHAR) = %s
    ORDER BY (%s <= %s) DESC,
             CASE WHEN %s <= %s THEN -%s ELSE %s END
    LIMIT 1
) hr ON true`,
		strings.Join(fields, ", "),
		c.dimensionTable(),
		quoteIdent(c.DimensionIdentifier), c.IdentifierExpr(alias),
		snapshotKey, eventKey,
		snapshotKey, eventKey, snapshotKey, snapshotKey)
	return join, selectCols
}

// gapBuckets labels the time elapsed since the previous session event.
// Order matters: the first boundary the gap falls under wins.
var gapBuckets = []struct {
	limitMs int
	label   string
}{
	{500, "< 0.5s"},
	{1000, "0.5-1s"},
	{2000, "1-2s"},
	{5000, "2-5s"},
	{10000, "5-10s"},
	{30000, "10-30s"},
	{60000, "30-60s"},
}

// GapBucketLabels returns the full bucket vocabulary in order, including
// the first-event and overflow labels.
func GapBucketLabels() []string {
	labels := []string{"First Event"}
	for _, bucket := range gapBuckets {
		labels = append(labels, bucket.label)
	}
	return append(labels, "> 60s")
}

// GapBucketCaseExpr buckets the millisecond gap computed over the session
// window into the labeled ranges.
func GapBucketCaseExpr(lagExpr, gapExpr string) string {
	var b strings.Builder
	b.WriteString("CASE\n")
	fmt.Fprintf(&b, "    WHEN %s IS NULL THEN 'First Event'\n", lagExpr)
	for _, bucket := range gapBuckets {
		fmt.Fprintf(&b, "    WHEN %s < %d THEN %s\n", gapExpr, bucket.limitMs, quoteLiteral(bucket.label))
	}
	b.WriteString("    ELSE '> 60s'\nEND")
	return b.String()
}

func (c Capabilities) dimensionTable() string {
	return "hr_history"
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteLiteral(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}
