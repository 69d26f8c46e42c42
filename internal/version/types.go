// Package version records and inspects the edit history of notes. It owns
// snapshot creation, change classification, line diffs between snapshots and
// restore-as-new-version. Pruning lives in the retention package.
package version

import (
	"errors"
	"fmt"

	"noteledger/internal/store"
)

// ChangeType labels why a snapshot was recorded.
type ChangeType string

const (
	ChangeCreated ChangeType = "CREATED"
	ChangeEdit    ChangeType = "EDIT"
	ChangeTitle   ChangeType = "TITLE"
	ChangeRestore ChangeType = "RESTORE"
	ChangeMerge   ChangeType = "MERGE"
)

func ParseChangeType(raw string) (ChangeType, error) {
	switch ChangeType(raw) {
	case ChangeCreated, ChangeEdit, ChangeTitle, ChangeRestore, ChangeMerge:
		return ChangeType(raw), nil
	}
	return "", fmt.Errorf("unknown change type %q", raw)
}

var (
	ErrNoteNotFound       = errors.New("note not found")
	ErrVersioningDisabled = errors.New("versioning disabled for note")
	ErrVersionNotFound    = errors.New("version not found")
)

// CreateResult is what a write attempt yields. A zero ID with a non-zero
// Version means the save was skipped as insignificant and Version is the
// note's current counter.
type CreateResult struct {
	ID      string `json:"id"`
	Version int    `json:"version"`
}

// History is one page of a note's snapshots, newest first.
type History struct {
	Versions []store.NoteVersion `json:"versions"`
	Total    int                 `json:"total"`
	HasMore  bool                `json:"hasMore"`
}
