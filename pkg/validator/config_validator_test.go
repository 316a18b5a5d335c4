package validator

import (
	"testing"

	"github.com/rpattn/clickstream/internal/domain"
)

func TestValidateDefaultConfig(t *testing.T) {
	result := NewConfigValidator().Validate(domain.DefaultEnrichmentConfig())
	if !result.IsValid {
		t.Fatalf("default configuration must validate, errors: %+v", result.Errors)
	}
}

func TestValidateRejectsEmptyRuleSubstring(t *testing.T) {
	cfg := domain.DefaultEnrichmentConfig()
	cfg.Rules = []domain.ActionRule{{Category: "Read", Contains: ""}}

	result := NewConfigValidator().Validate(cfg)
	if result.IsValid {
		t.Fatalf("empty match substring must be an error")
	}
}

func TestValidateWarnsOnDuplicateRuleSubstring(t *testing.T) {
	cfg := domain.DefaultEnrichmentConfig()
	cfg.Rules = []domain.ActionRule{
		{Category: "Read", Contains: "read"},
		{Category: "Other Read", Contains: "Read"},
	}

	result := NewConfigValidator().Validate(cfg)
	if !result.IsValid {
		t.Fatalf("duplicate substrings should warn, not fail: %+v", result.Errors)
	}
	if len(result.Warnings) == 0 {
		t.Errorf("expected a warning for the unreachable rule")
	}
}

func TestValidateRejectsConflictingRenames(t *testing.T) {
	cfg := domain.DefaultEnrichmentConfig()
	cfg.Aliases.Renames = map[string]string{
		"user_Id": "user_id",
		"UserId":  "user_id",
	}

	result := NewConfigValidator().Validate(cfg)
	if result.IsValid {
		t.Fatalf("two sources renaming to the same target must be an error")
	}
}

func TestValidateRejectsDuplicateDimensionTargets(t *testing.T) {
	cfg := domain.DefaultEnrichmentConfig()
	cfg.Dimension.Fields = []domain.DimensionField{
		{Source: "a", Target: "hr_division"},
		{Source: "b", Target: "hr_division"},
	}

	result := NewConfigValidator().Validate(cfg)
	if result.IsValid {
		t.Fatalf("duplicate dimension targets must be an error")
	}
}

func TestValidateRejectsDimensionWithoutIdentifier(t *testing.T) {
	cfg := domain.DefaultEnrichmentConfig()
	cfg.Dimension.Identifier = ""

	result := NewConfigValidator().Validate(cfg)
	if result.IsValid {
		t.Fatalf("dimension fields without an identifier must be an error")
	}
}

func TestValidateRejectsUnknownTimezone(t *testing.T) {
	cfg := domain.DefaultEnrichmentConfig()
	cfg.TargetTimezone = "Mars/Olympus_Mons"

	result := NewConfigValidator().Validate(cfg)
	if result.IsValid {
		t.Fatalf("unknown timezone must be an error")
	}
}

func TestValidateWarnsWhenNoIdentifierCandidates(t *testing.T) {
	cfg := domain.DefaultEnrichmentConfig()
	cfg.Aliases.Identifier = nil

	result := NewConfigValidator().Validate(cfg)
	if !result.IsValid {
		t.Fatalf("missing identifier candidates should only warn: %+v", result.Errors)
	}
	found := false
	for _, warning := range result.Warnings {
		if warning.Field == "aliases.identifier" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected identifier warning, got %+v", result.Warnings)
	}
}
