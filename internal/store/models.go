package store

import "time"

type User struct {
	ID           string
	DisplayName  string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// Collection groups notes for listing and batch retention sweeps.
type Collection struct {
	ID        string
	Name      string
	Slug      string
	CreatedAt time.Time
}

// Note is the current state of a document. The versioning engine reads it
// and advances Version/LastVersionAt/LastVersionBy; Title and Content are
// written only by the editing surface.
type Note struct {
	ID                string
	CollectionID      string
	Title             string
	Content           string
	VersioningEnabled bool
	Version           int
	LastVersionAt     *time.Time
	LastVersionBy     string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// NoteVersion is one immutable snapshot of a note. Rows are inserted once
// and only ever removed by retention sweeps.
type NoteVersion struct {
	ID          string
	NoteID      string
	Version     int
	Title       string
	Content     string
	AuthorID    string
	Comment     string
	ChangeType  string
	ContentHash string
	CreatedAt   time.Time
}

// VersionStats is the aggregate shape behind GET .../versions/stats.
type VersionStats struct {
	NoteID         string
	CurrentVersion int
	TotalVersions  int
	OldestAt       time.Time
	NewestAt       time.Time
	ByChangeType   map[string]int
}

// StorageEstimate sums the UTF-8 byte weight of stored snapshots.
type StorageEstimate struct {
	NoteID            string
	TotalVersions     int
	TotalBytes        int64
	AvgBytesPerRecord int64
}
