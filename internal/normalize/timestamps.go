package normalize

import (
	"errors"
	"regexp"
	"strings"
	"time"
)

// maxFractionDigits caps fractional seconds at microsecond precision.
// Application Insights emits seven-digit fractions which neither the Go
// parser at this layout nor a TIMESTAMP column can represent, so longer
// fractions are truncated before parsing.
const maxFractionDigits = 6

// TimestampPattern pairs a recognizer for a literal timestamp format with
// the layout used to parse every value of a column whose sample matched.
type TimestampPattern struct {
	regex      *regexp.Regexp
	layout     string
	fractional bool
	iso        bool
}

// Layout returns the parse layout backing this pattern.
func (p *TimestampPattern) Layout() string {
	return p.layout
}

// timestampPatterns is evaluated in order; the first pattern matching a
// column's sample value governs parsing of the whole column. Day-first
// slash and dot formats come before ISO so ambiguous samples resolve the
// way the exports actually mean them.
var timestampPatterns = []TimestampPattern{
	{regex: regexp.MustCompile(`^\d{2}/\d{2}/\d{4} \d{2}:\d{2}:\d{2}\.\d+$`), layout: "02/01/2006 15:04:05.999999", fractional: true},
	{regex: regexp.MustCompile(`^\d{2}/\d{2}/\d{4} \d{2}:\d{2}:\d{2}$`), layout: "02/01/2006 15:04:05"},
	{regex: regexp.MustCompile(`^\d{2}/\d{2}/\d{4} \d{2}:\d{2}$`), layout: "02/01/2006 15:04"},
	{regex: regexp.MustCompile(`^\d{2}/\d{2}/\d{4}$`), layout: "02/01/2006"},
	{regex: regexp.MustCompile(`^\d{2}\.\d{2}\.\d{4} \d{2}:\d{2}:\d{2}$`), layout: "02.01.2006 15:04:05"},
	{regex: regexp.MustCompile(`^\d{2}\.\d{2}\.\d{4} \d{2}:\d{2}$`), layout: "02.01.2006 15:04"},
	{regex: regexp.MustCompile(`^\d{2}\.\d{2}\.\d{4}$`), layout: "02.01.2006"},
	{regex: regexp.MustCompile(`^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}\.\d+$`), layout: "2006-01-02 15:04:05.999999", fractional: true},
	{regex: regexp.MustCompile(`^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}$`), layout: "2006-01-02 15:04:05"},
	{regex: regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}`), iso: true},
}

var isoLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
}

// MatchTimestampPattern finds the first pattern matching the sample value.
func MatchTimestampPattern(sample string) (*TimestampPattern, bool) {
	sample = strings.TrimSpace(sample)
	for i := range timestampPatterns {
		if timestampPatterns[i].regex.MatchString(sample) {
			return &timestampPatterns[i], true
		}
	}
	return nil, false
}

// Parse converts one value according to the pattern. Timestamps carry no
// zone information; they are interpreted in the ingestion timezone later.
func (p *TimestampPattern) Parse(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if p.iso {
		for _, layout := range isoLayouts {
			if ts, err := time.Parse(layout, value); err == nil {
				return ts, nil
			}
		}
		return time.Time{}, errors.New("value does not match any ISO 8601 layout")
	}
	if p.fractional {
		value = truncateFraction(value, maxFractionDigits)
	}
	return time.Parse(p.layout, value)
}

// ParseAny is the best-effort fallback for a timestamp column whose sample
// matched no explicit pattern: every known layout is tried in order.
func ParseAny(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for i := range timestampPatterns {
		if !timestampPatterns[i].regex.MatchString(value) {
			continue
		}
		if ts, err := timestampPatterns[i].Parse(value); err == nil {
			return ts, nil
		}
	}
	for _, layout := range isoLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, errors.New("unrecognized timestamp format")
}

func truncateFraction(value string, digits int) string {
	dot := strings.LastIndexByte(value, '.')
	if dot < 0 {
		return value
	}
	frac := value[dot+1:]
	if len(frac) <= digits {
		return value
	}
	return value[:dot+1+digits]
}
