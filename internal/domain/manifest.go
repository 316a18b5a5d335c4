package domain

import "time"

// ManifestEntry records one source file merged into the event store. The
// manifest always reflects the most recently merged version of each
// filename; recording overwrites any prior entry.
type ManifestEntry struct {
	Filename    string
	FileHash    string
	RowCount    int64
	ProcessedAt time.Time
	DateSuffix  *time.Time
}

// FileStatus classifies a candidate input file against the manifest.
type FileStatus string

const (
	FileStatusNew       FileStatus = "new"
	FileStatusChanged   FileStatus = "changed"
	FileStatusUnchanged FileStatus = "unchanged"
)
