package domain

// Canonical column names that make up the natural key of an event. A batch
// missing any of these cannot be merged.
const (
	ColumnTimestamp = "timestamp"
	ColumnUserID    = "user_id"
	ColumnSessionID = "session_id"
	ColumnName      = "name"
)

// NaturalKeyColumns returns the composite key identifying one logical event
// across re-exports.
func NaturalKeyColumns() []string {
	return []string{ColumnTimestamp, ColumnUserID, ColumnSessionID, ColumnName}
}

// AliasConfig declares how source columns map onto canonical fields. The
// rename map is applied to batch columns before merging; the candidate lists
// are resolved in priority order against whatever columns a batch actually
// carries.
type AliasConfig struct {
	Renames    map[string]string `yaml:"renames"`
	Identifier []string          `yaml:"identifier"`
	Email      []string          `yaml:"email"`
	Label      []string          `yaml:"label"`
}

// DefaultAliasConfig matches the export variants seen in Application
// Insights extracts.
func DefaultAliasConfig() AliasConfig {
	return AliasConfig{
		Renames: map[string]string{
			"user_Id":         ColumnUserID,
			"session_Id":      ColumnSessionID,
			"timestamp [UTC]": ColumnTimestamp,
		},
		Identifier: []string{"CP_GPN", "CP_gpn", "GPN", "gpn"},
		Email:      []string{"Email", "email", "CP_Email", "CP_email"},
		Label:      []string{"CP_Link_label", "CP_link_label", "Link_label"},
	}
}

// ActionRule maps a case-insensitive substring of the link label to an
// action category. Rules are evaluated in declaration order; the first
// match wins.
type ActionRule struct {
	Category string `yaml:"category"`
	Contains string `yaml:"contains"`
}

// ActionCategoryOther is assigned when a non-empty label matches no rule.
// A null or empty label yields a null category instead, so unlabeled
// events stay distinguishable from classified noise.
const ActionCategoryOther = "Other"

// DefaultActionRules mirrors the campaign link-label taxonomy.
func DefaultActionRules() []ActionRule {
	return []ActionRule{
		{Category: "Open Form", Contains: "Share your story"},
		{Category: "Submit", Contains: "Submit"},
		{Category: "Cancel", Contains: "Cancel"},
		{Category: "Read", Contains: "Read"},
		{Category: "Like", Contains: "like"},
	}
}

// Categories returns the distinct category vocabulary of the rule set in
// declaration order, with the residual Other category appended.
func Categories(rules []ActionRule) []string {
	seen := make(map[string]bool, len(rules)+1)
	out := make([]string, 0, len(rules)+1)
	for _, rule := range rules {
		if rule.Category == "" || seen[rule.Category] {
			continue
		}
		seen[rule.Category] = true
		out = append(out, rule.Category)
	}
	if !seen[ActionCategoryOther] {
		out = append(out, ActionCategoryOther)
	}
	return out
}

// DimensionField maps one column of the dimension snapshot onto its name in
// the enriched output. Fields absent from the snapshot source are omitted,
// never synthesized.
type DimensionField struct {
	Source string `yaml:"source"`
	Target string `yaml:"target"`
}

// DimensionMapping describes the organizational dimension table: the
// identifier column it is keyed by and the fields carried onto events.
// Snapshots are versioned by (snapshot_year, snapshot_month).
type DimensionMapping struct {
	Identifier string           `yaml:"identifier"`
	Fields     []DimensionField `yaml:"fields"`
}

// DefaultDimensionMapping covers the HR history attributes used for
// reporting.
func DefaultDimensionMapping() DimensionMapping {
	return DimensionMapping{
		Identifier: "gpn",
		Fields: []DimensionField{
			{Source: "gcrs_division_desc", Target: "hr_division"},
			{Source: "gcrs_unit_desc", Target: "hr_unit"},
			{Source: "gcrs_area_desc", Target: "hr_area"},
			{Source: "gcrs_sector_desc", Target: "hr_sector"},
			{Source: "gcrs_segment_desc", Target: "hr_segment"},
			{Source: "gcrs_function_desc", Target: "hr_function"},
			{Source: "ou_code", Target: "hr_ou_code"},
			{Source: "work_location_country", Target: "hr_country"},
			{Source: "work_location_region", Target: "hr_region"},
			{Source: "job_title", Target: "hr_job_title"},
			{Source: "job_family", Target: "hr_job_family"},
			{Source: "management_level", Target: "hr_management_level"},
			{Source: "cost_center", Target: "hr_cost_center"},
		},
	}
}

// EnrichmentConfig bundles the externally configurable data that drives the
// enrichment stage. Timezones are explicit values threaded through the
// pipeline rather than process-wide state.
type EnrichmentConfig struct {
	Aliases        AliasConfig
	Rules          []ActionRule
	Dimension      DimensionMapping
	SourceTimezone string
	TargetTimezone string
}

// DefaultEnrichmentConfig returns the built-in configuration, used when no
// external files override it.
func DefaultEnrichmentConfig() EnrichmentConfig {
	return EnrichmentConfig{
		Aliases:        DefaultAliasConfig(),
		Rules:          DefaultActionRules(),
		Dimension:      DefaultDimensionMapping(),
		SourceTimezone: "UTC",
		TargetTimezone: "Europe/Berlin",
	}
}
