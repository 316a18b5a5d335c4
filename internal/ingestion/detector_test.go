package ingestion

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/rpattn/clickstream/internal/domain"
)

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func newTestLoader() *Loader {
	return NewLoader(zap.NewNop(), domain.DefaultAliasConfig())
}

func TestLoadFileUnsupportedExtension(t *testing.T) {
	_, err := newTestLoader().LoadFile("events.parquet")
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestLoadDelimitedCommaWithBOM(t *testing.T) {
	content := "\xEF\xBB\xBFtimestamp,user_Id,session_Id,name\n" +
		"2024-06-15 08:00:00.123,u1,s1,click\n" +
		"2024-06-15 08:00:01.456,u2,s2,click\n"
	path := writeTempFile(t, "events.csv", content)

	table, err := newTestLoader().LoadFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := table.ColumnNames()[0]; got != "timestamp" {
		t.Errorf("BOM not stripped from first header, got %q", got)
	}
	if table.RowCount() != 2 {
		t.Errorf("expected 2 rows, got %d", table.RowCount())
	}
}

func TestLoadDelimitedSniffsSemicolon(t *testing.T) {
	content := "timestamp;name;count\n" +
		"2024-06-15 08:00:00;click;1\n" +
		"2024-06-15 08:00:01;click;2\n"
	path := writeTempFile(t, "events.csv", content)

	table, err := newTestLoader().LoadFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(table.Columns) != 3 {
		t.Fatalf("semicolon not detected, got columns %v", table.ColumnNames())
	}
}

func TestLoadDelimitedSniffsTab(t *testing.T) {
	content := "timestamp\tname\n2024-06-15 08:00:00\tclick\n"
	path := writeTempFile(t, "events.tsv", content)

	table, err := newTestLoader().LoadFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(table.Columns) != 2 {
		t.Fatalf("tab not detected, got columns %v", table.ColumnNames())
	}
}

func TestLoadDelimitedEmptyFile(t *testing.T) {
	path := writeTempFile(t, "empty.csv", "\n\n")
	_, err := newTestLoader().LoadFile(path)
	if !errors.Is(err, ErrEmptyFile) {
		t.Fatalf("expected ErrEmptyFile, got %v", err)
	}
}

func TestBuildTableSkipsBlankRowsBeforeHeader(t *testing.T) {
	content := ",,\ntimestamp,name\n2024-06-15 08:00:00,click\n"
	path := writeTempFile(t, "padded.csv", content)

	table, err := newTestLoader().LoadFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if table.ColumnNames()[0] != "timestamp" {
		t.Errorf("blank leading row treated as header: %v", table.ColumnNames())
	}
}

func TestBuildTableDedupesHeaders(t *testing.T) {
	content := "name,name,,name\na,b,c,d\n"
	path := writeTempFile(t, "dupes.csv", content)

	table, err := newTestLoader().LoadFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"name", "name_2", "column_3", "name_3"}
	got := table.ColumnNames()
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("header %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestColumnProfiling(t *testing.T) {
	content := "count,ratio,flag,mixed\n" +
		"1,0.5,true,1\n" +
		"2,1.25,no,x\n"
	path := writeTempFile(t, "typed.csv", content)

	table, err := newTestLoader().LoadFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantTypes := map[string]domain.FieldType{
		"count": domain.FieldTypeBigint,
		"ratio": domain.FieldTypeDouble,
		"flag":  domain.FieldTypeBoolean,
		"mixed": domain.FieldTypeVarchar,
	}
	for name, want := range wantTypes {
		col := table.ColumnIndex(name)
		if col < 0 {
			t.Fatalf("missing column %q", name)
		}
		if table.Columns[col].Type != want {
			t.Errorf("column %q: got type %s, want %s", name, table.Columns[col].Type, want)
		}
	}

	if v, ok := table.Rows[0][table.ColumnIndex("count")].(int64); !ok || v != 1 {
		t.Errorf("count cell not coerced to int64: %v", table.Rows[0][0])
	}
	if v, ok := table.Rows[1][table.ColumnIndex("flag")].(bool); !ok || v {
		t.Errorf("flag cell not coerced to bool false: %v", v)
	}
}

func TestIdentifierAndTimestampColumnsStayText(t *testing.T) {
	content := "timestamp [UTC],CP_GPN,user_Id\n" +
		"2024-06-15 08:00:00,00123456,42\n"
	path := writeTempFile(t, "ids.csv", content)

	table, err := newTestLoader().LoadFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, name := range []string{"timestamp [UTC]", "CP_GPN"} {
		col := table.ColumnIndex(name)
		if table.Columns[col].Type != domain.FieldTypeVarchar {
			t.Errorf("column %q should stay text, got %s", name, table.Columns[col].Type)
		}
	}
	if got := table.Rows[0][table.ColumnIndex("CP_GPN")]; got != "00123456" {
		t.Errorf("leading zeros lost: %v", got)
	}
}

func TestSniffDelimiterInconsistentCountsFallBackToComma(t *testing.T) {
	payload := []byte("a;b\nc;d;e\nf,g\n")
	if got := sniffDelimiter(payload); got != ',' {
		t.Errorf("expected comma fallback, got %q", got)
	}
}
