package ingestion

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestExtractFilenameDate(t *testing.T) {
	cases := []struct {
		path string
		want string
		ok   bool
	}{
		{"campaign_events_2024_06_15.csv", "2024-06-15", true},
		{"/data/in/export_2023_01_02.xlsx", "2023-01-02", true},
		{"campaign_events.csv", "", false},
		{"events_2024_13_40.csv", "", false},
		{"events_2024_06_15_extra.csv", "", false},
	}
	for _, tc := range cases {
		date, ok := ExtractFilenameDate(tc.path)
		if ok != tc.ok {
			t.Errorf("%s: got ok=%v, want %v", tc.path, ok, tc.ok)
			continue
		}
		if ok && date.Format("2006-01-02") != tc.want {
			t.Errorf("%s: got date %s, want %s", tc.path, date.Format("2006-01-02"), tc.want)
		}
	}
}

func TestDiscoverInputsOrdering(t *testing.T) {
	dir := t.TempDir()
	names := []string{
		"export_2024_06_16.csv",
		"export_2024_06_15.csv",
		"undated.csv",
		"notes.txt",
		"~$export_2024_06_17.xlsx",
	}
	for i, name := range names {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		mt := time.Now().Add(time.Duration(i) * time.Minute)
		if err := os.Chtimes(path, mt, mt); err != nil {
			t.Fatalf("chtimes %s: %v", name, err)
		}
	}

	paths, err := DiscoverInputs(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"export_2024_06_15.csv", "export_2024_06_16.csv", "undated.csv"}
	if len(paths) != len(want) {
		t.Fatalf("got %d files %v, want %d", len(paths), paths, len(want))
	}
	for i := range want {
		if filepath.Base(paths[i]) != want[i] {
			t.Errorf("position %d: got %s, want %s", i, filepath.Base(paths[i]), want[i])
		}
	}
}

func TestDiscoverInputsEmpty(t *testing.T) {
	_, err := DiscoverInputs(t.TempDir())
	if !errors.Is(err, ErrNoInputFiles) {
		t.Fatalf("expected ErrNoInputFiles, got %v", err)
	}
}

func TestLatestInput(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"export_2024_06_15.csv", "export_2024_06_20.csv"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	latest, err := LatestInput(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if filepath.Base(latest) != "export_2024_06_20.csv" {
		t.Errorf("got %s, want export_2024_06_20.csv", filepath.Base(latest))
	}
}

func TestLatestInputPrefersDatedOverNewerUndated(t *testing.T) {
	dir := t.TempDir()
	dated := filepath.Join(dir, "export_2024_06_15.csv")
	undated := filepath.Join(dir, "undated.csv")
	for _, path := range []string{dated, undated} {
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
	}
	// Make the undated file the newest by modification time.
	mt := time.Now().Add(time.Hour)
	if err := os.Chtimes(undated, mt, mt); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	latest, err := LatestInput(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if filepath.Base(latest) != "export_2024_06_15.csv" {
		t.Errorf("dated file should win over newer undated file, got %s", filepath.Base(latest))
	}
}
