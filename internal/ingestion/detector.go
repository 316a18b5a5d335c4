package ingestion

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/rpattn/clickstream/internal/domain"
)

var (
	// ErrUnsupportedFormat is returned when an input file is not supported.
	ErrUnsupportedFormat = errors.New("unsupported file format")

	// ErrEmptyFile is returned when a file holds no header or data rows.
	ErrEmptyFile = errors.New("file is empty")

	byteOrderMark = []byte{0xEF, 0xBB, 0xBF}

	delimiterCandidates = []rune{',', ';', '\t', '|'}
)

// sniffWindow bounds how much of a delimited file is sampled when
// resolving its delimiter.
const sniffWindow = 8 * 1024

// Loader classifies input files by extension and loads them into typed
// in-memory tables. Columns whose header names a timestamp or a
// person-identifier alias are kept as raw text so spreadsheet typing cannot
// drop leading zeros or sub-second precision.
type Loader struct {
	logger  *zap.Logger
	aliases domain.AliasConfig
}

// NewLoader creates a loader using the configured column aliases.
func NewLoader(logger *zap.Logger, aliases domain.AliasConfig) *Loader {
	return &Loader{logger: logger, aliases: aliases}
}

// LoadFile reads a spreadsheet or delimited file into a table. An
// unreadable or empty file surfaces an error; a partially loaded table is
// never returned.
func (l *Loader) LoadFile(path string) (*domain.Table, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xls":
		return l.loadSpreadsheet(path)
	case ".csv", ".txt", ".tsv":
		return l.loadDelimited(path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

func (l *Loader) loadSpreadsheet(path string) (*domain.Table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open spreadsheet %s: %w", filepath.Base(path), err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: spreadsheet has no sheets", ErrEmptyFile)
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read rows from %s: %w", filepath.Base(path), err)
	}

	return l.buildTable(rows)
}

func (l *Loader) loadDelimited(path string) (*domain.Table, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}
	payload = bytes.TrimPrefix(payload, byteOrderMark)

	delimiter := sniffDelimiter(payload)

	reader := csv.NewReader(bufio.NewReader(bytes.NewReader(payload)))
	reader.Comma = delimiter
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}

	return l.buildTable(records)
}

// sniffDelimiter samples the first 8 KiB and picks the candidate delimiter
// appearing a consistent, non-zero number of times per line. Comma wins
// when nothing else qualifies.
func sniffDelimiter(payload []byte) rune {
	sample := payload
	if len(sample) > sniffWindow {
		sample = sample[:sniffWindow]
	}

	lines := strings.Split(string(sample), "\n")
	if len(sample) == sniffWindow && len(lines) > 1 {
		// The final line was likely cut mid-row.
		lines = lines[:len(lines)-1]
	}

	var cleaned []string
	for _, line := range lines {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) != "" {
			cleaned = append(cleaned, line)
		}
		if len(cleaned) == 10 {
			break
		}
	}
	if len(cleaned) == 0 {
		return ','
	}

	best := ','
	bestScore := 0
	for _, candidate := range delimiterCandidates {
		count := strings.Count(cleaned[0], string(candidate))
		if count == 0 {
			continue
		}
		consistent := true
		for _, line := range cleaned[1:] {
			if strings.Count(line, string(candidate)) != count {
				consistent = false
				break
			}
		}
		if consistent && count > bestScore {
			best = candidate
			bestScore = count
		}
	}
	return best
}

func (l *Loader) buildTable(records [][]string) (*domain.Table, error) {
	var header []string
	var dataRows [][]string
	for _, record := range records {
		if rowBlank(record) {
			continue
		}
		if header == nil {
			header = record
			continue
		}
		dataRows = append(dataRows, record)
	}
	if header == nil {
		return nil, fmt.Errorf("%w: no header row detected", ErrEmptyFile)
	}

	names := dedupeHeaders(header)
	table := &domain.Table{Columns: make([]domain.Column, len(names))}
	for i, name := range names {
		table.Columns[i] = domain.Column{Name: name, Type: domain.FieldTypeVarchar}
	}

	for col := range table.Columns {
		if l.forceText(table.Columns[col].Name) {
			continue
		}
		table.Columns[col].Type = profileColumn(col, dataRows)
	}

	table.Rows = make([][]any, len(dataRows))
	for i, record := range dataRows {
		row := make([]any, len(table.Columns))
		for col := range table.Columns {
			var raw string
			if col < len(record) {
				raw = strings.TrimSpace(record[col])
			}
			if raw == "" {
				continue
			}
			value, err := coerceValue(table.Columns[col].Type, raw)
			if err != nil {
				// Mixed content in a profiled column; keep the raw text
				// rather than losing the cell.
				table.Columns[col].Type = domain.FieldTypeVarchar
				value = raw
			}
			row[col] = value
		}
		table.Rows[i] = row
	}

	return table, nil
}

// forceText reports whether a column must bypass type profiling. Timestamp
// columns stay text until the normalizer picks a format; identifier columns
// stay text to preserve leading zeros.
func (l *Loader) forceText(name string) bool {
	if strings.Contains(strings.ToLower(name), "timestamp") {
		return true
	}
	for _, candidate := range l.aliases.Identifier {
		if strings.EqualFold(name, candidate) {
			return true
		}
	}
	return false
}

func rowBlank(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func dedupeHeaders(raw []string) []string {
	names := make([]string, len(raw))
	seen := make(map[string]int)
	for i, value := range raw {
		name := strings.TrimSpace(value)
		if name == "" {
			name = fmt.Sprintf("column_%d", i+1)
		}
		base := name
		if count := seen[base]; count > 0 {
			name = fmt.Sprintf("%s_%d", base, count+1)
		}
		seen[base]++
		names[i] = name
	}
	return names
}

func profileColumn(col int, rows [][]string) domain.FieldType {
	isBool := true
	isInt := true
	isFloat := true
	hasValue := false

	for _, row := range rows {
		if col >= len(row) {
			continue
		}
		value := strings.TrimSpace(row[col])
		if value == "" {
			continue
		}
		hasValue = true

		if !looksLikeBool(value) {
			isBool = false
		}
		if !looksLikeInt(value) {
			isInt = false
		}
		if !looksLikeFloat(value) {
			isFloat = false
		}
	}

	switch {
	case !hasValue:
		return domain.FieldTypeVarchar
	case isBool:
		return domain.FieldTypeBoolean
	case isInt:
		return domain.FieldTypeBigint
	case isFloat:
		return domain.FieldTypeDouble
	default:
		return domain.FieldTypeVarchar
	}
}

func looksLikeBool(value string) bool {
	switch strings.ToLower(value) {
	case "true", "false", "yes", "no":
		return true
	}
	return false
}

func looksLikeInt(value string) bool {
	_, err := strconv.ParseInt(value, 10, 64)
	return err == nil
}

func looksLikeFloat(value string) bool {
	_, err := strconv.ParseFloat(value, 64)
	return err == nil
}

func coerceValue(fieldType domain.FieldType, raw string) (any, error) {
	switch fieldType {
	case domain.FieldTypeBigint:
		if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return i, nil
		}
		if f, err := strconv.ParseFloat(raw, 64); err == nil && math.Mod(f, 1) == 0 {
			return int64(f), nil
		}
		return nil, fmt.Errorf("unable to coerce %q to bigint", raw)
	case domain.FieldTypeDouble:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("unable to coerce %q to double", raw)
		}
		return f, nil
	case domain.FieldTypeBoolean:
		switch strings.ToLower(raw) {
		case "true", "yes":
			return true, nil
		case "false", "no":
			return false, nil
		}
		return nil, fmt.Errorf("unable to coerce %q to boolean", raw)
	default:
		return raw, nil
	}
}
