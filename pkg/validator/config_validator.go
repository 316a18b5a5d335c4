package validator

import (
	"fmt"
	"strings"
	"time"

	"github.com/rpattn/clickstream/internal/domain"
)

// ConfigValidator checks externally supplied enrichment configuration
// before a run starts, so a malformed rules or mapping file fails fast
// instead of surfacing as a SQL error mid-pipeline.
type ConfigValidator struct{}

func NewConfigValidator() *ConfigValidator {
	return &ConfigValidator{}
}

// ValidationError describes one problem found in the configuration.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationResult represents the result of validation. Warnings do not
// block a run; errors do.
type ValidationResult struct {
	IsValid  bool              `json:"is_valid"`
	Errors   []ValidationError `json:"errors"`
	Warnings []ValidationError `json:"warnings"`
}

func (r *ValidationResult) addError(field, format string, args ...any) {
	r.IsValid = false
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (r *ValidationResult) addWarning(field, format string, args ...any) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// Validate checks the whole enrichment configuration.
func (v *ConfigValidator) Validate(cfg domain.EnrichmentConfig) ValidationResult {
	result := ValidationResult{
		IsValid:  true,
		Errors:   []ValidationError{},
		Warnings: []ValidationError{},
	}

	v.validateAliases(cfg.Aliases, &result)
	v.validateRules(cfg.Rules, &result)
	v.validateDimension(cfg.Dimension, &result)
	v.validateTimezone("timezones.source", cfg.SourceTimezone, &result)
	v.validateTimezone("timezones.target", cfg.TargetTimezone, &result)

	return result
}

func (v *ConfigValidator) validateAliases(aliases domain.AliasConfig, result *ValidationResult) {
	for source, target := range aliases.Renames {
		if strings.TrimSpace(source) == "" {
			result.addError("aliases.renames", "rename has an empty source column")
			continue
		}
		if strings.TrimSpace(target) == "" {
			result.addError("aliases.renames", "rename of %q has an empty target column", source)
		}
		if source == target {
			result.addWarning("aliases.renames", "rename of %q maps to itself", source)
		}
	}

	targets := make(map[string][]string)
	for source, target := range aliases.Renames {
		targets[target] = append(targets[target], source)
	}
	for target, sources := range targets {
		if len(sources) > 1 {
			result.addError("aliases.renames", "columns %v all rename to %q", sources, target)
		}
	}

	if len(aliases.Identifier) == 0 {
		result.addWarning("aliases.identifier", "no identifier candidates configured; identifier enrichment and the dimension join are disabled")
	}
	v.validateCandidates("aliases.identifier", aliases.Identifier, result)
	v.validateCandidates("aliases.email", aliases.Email, result)
	v.validateCandidates("aliases.label", aliases.Label, result)
}

func (v *ConfigValidator) validateCandidates(field string, candidates []string, result *ValidationResult) {
	seen := make(map[string]bool, len(candidates))
	for _, candidate := range candidates {
		if strings.TrimSpace(candidate) == "" {
			result.addError(field, "candidate list contains an empty column name")
			continue
		}
		if seen[candidate] {
			result.addWarning(field, "candidate %q appears more than once", candidate)
		}
		seen[candidate] = true
	}
}

func (v *ConfigValidator) validateRules(rules []domain.ActionRule, result *ValidationResult) {
	if len(rules) == 0 {
		result.addWarning("rules", "no classification rules configured; every labeled event falls into %q", domain.ActionCategoryOther)
	}
	seen := make(map[string]bool, len(rules))
	for i, rule := range rules {
		if strings.TrimSpace(rule.Category) == "" {
			result.addError("rules", "rule %d has an empty category", i)
		}
		if strings.TrimSpace(rule.Contains) == "" {
			result.addError("rules", "rule %d (%s) has an empty match substring", i, rule.Category)
			continue
		}
		key := strings.ToLower(rule.Contains)
		if seen[key] {
			result.addWarning("rules", "substring %q matched by an earlier rule; rule %d is unreachable", rule.Contains, i)
		}
		seen[key] = true
	}
}

func (v *ConfigValidator) validateDimension(mapping domain.DimensionMapping, result *ValidationResult) {
	if len(mapping.Fields) == 0 {
		return
	}
	if strings.TrimSpace(mapping.Identifier) == "" {
		result.addError("dimension.identifier", "dimension fields are configured but no identifier column is set")
	}
	targets := make(map[string]bool, len(mapping.Fields))
	for i, field := range mapping.Fields {
		if strings.TrimSpace(field.Source) == "" {
			result.addError("dimension.fields", "field %d has an empty source column", i)
		}
		if strings.TrimSpace(field.Target) == "" {
			result.addError("dimension.fields", "field %d has an empty target column", i)
			continue
		}
		if targets[field.Target] {
			result.addError("dimension.fields", "target column %q is mapped twice", field.Target)
		}
		targets[field.Target] = true
	}
}

func (v *ConfigValidator) validateTimezone(field, name string, result *ValidationResult) {
	if strings.TrimSpace(name) == "" {
		result.addError(field, "timezone is empty")
		return
	}
	if _, err := time.LoadLocation(name); err != nil {
		result.addError(field, "unknown timezone %q", name)
	}
}
