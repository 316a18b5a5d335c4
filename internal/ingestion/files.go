package ingestion

import (
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

// ErrNoInputFiles is returned when the input directory has nothing to
// process.
var ErrNoInputFiles = errors.New("no input files found")

var filenameDatePattern = regexp.MustCompile(`_(\d{4})_(\d{2})_(\d{2})$`)

var inputExtensions = map[string]bool{
	".xlsx": true,
	".xls":  true,
	".csv":  true,
}

// ExtractFilenameDate parses the trailing _YYYY_MM_DD suffix from a file
// name. The second return is false when no valid date suffix exists.
func ExtractFilenameDate(path string) (time.Time, bool) {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	match := filenameDatePattern.FindStringSubmatch(stem)
	if match == nil {
		return time.Time{}, false
	}
	parsed, err := time.Parse("2006_01_02", match[1]+"_"+match[2]+"_"+match[3])
	if err != nil {
		return time.Time{}, false
	}
	return parsed, true
}

// DiscoverInputs lists the processable files in dir in merge order: dated
// files ascending by their filename date, then undated files ascending by
// modification time.
func DiscoverInputs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	type candidate struct {
		path    string
		date    time.Time
		dated   bool
		modTime time.Time
	}

	var candidates []candidate
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), "~$") {
			continue
		}
		if !inputExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, err
		}
		path := filepath.Join(dir, entry.Name())
		date, ok := ExtractFilenameDate(path)
		candidates = append(candidates, candidate{
			path:    path,
			date:    date,
			dated:   ok,
			modTime: info.ModTime(),
		})
	}

	if len(candidates) == 0 {
		return nil, ErrNoInputFiles
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		switch {
		case a.dated && b.dated:
			return a.date.Before(b.date)
		case a.dated != b.dated:
			return a.dated
		default:
			return a.modTime.Before(b.modTime)
		}
	})

	paths := make([]string, len(candidates))
	for i, c := range candidates {
		paths[i] = c.path
	}
	return paths, nil
}

// LatestInput returns the most recent input file. A dated file wins over any
// undated one; modification time only breaks ties between undated files.
func LatestInput(dir string) (string, error) {
	paths, err := DiscoverInputs(dir)
	if err != nil {
		return "", err
	}
	latest := paths[len(paths)-1]
	for i := len(paths) - 1; i >= 0; i-- {
		if _, ok := ExtractFilenameDate(paths[i]); ok {
			latest = paths[i]
			break
		}
	}
	return latest, nil
}
