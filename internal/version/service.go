package version

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"noteledger/internal/store"
	"noteledger/internal/util"
)

const defaultHistoryLimit = 50

// Store is the persistence the engine needs. *store.Postgres satisfies it.
type Store interface {
	GetNote(ctx context.Context, id string) (store.Note, error)
	InsertVersionAndAdvance(ctx context.Context, v store.NoteVersion) error
	GetVersion(ctx context.Context, noteID string, version int) (store.NoteVersion, error)
	ListVersions(ctx context.Context, noteID string, limit, offset int) ([]store.NoteVersion, int, error)
}

// Versioner is the transactional core of the history engine.
type Versioner struct {
	store        Store
	maxDiffLines int

	now   func() time.Time
	newID func(prefix string) string
}

func NewVersioner(s Store, maxDiffLines int) *Versioner {
	return &Versioner{
		store:        s,
		maxDiffLines: maxDiffLines,
		now:          time.Now,
		newID:        util.NewID,
	}
}

// CreateVersion records a snapshot of the note's proposed state. For the
// generic EDIT label it first checks significance against the note's current
// state; an insignificant save returns the current counter with an empty ID
// and writes nothing. RESTORE, MERGE and CREATED are always recorded.
//
// The snapshot insert and the note counter update commit together. If a
// concurrent writer took the same version number first, the unique index on
// (note_id, version) fails this call; re-read and retry.
func (v *Versioner) CreateVersion(ctx context.Context, noteID, title, content, authorID, comment string, changeType ChangeType) (CreateResult, error) {
	note, err := v.store.GetNote(ctx, noteID)
	if errors.Is(err, sql.ErrNoRows) {
		return CreateResult{}, ErrNoteNotFound
	}
	if err != nil {
		return CreateResult{}, fmt.Errorf("load note: %w", err)
	}
	if !note.VersioningEnabled {
		return CreateResult{}, ErrVersioningDisabled
	}

	if changeType == ChangeEdit {
		if !HasSignificantChange(note.Content, content, note.Title, title) {
			return CreateResult{Version: note.Version}, nil
		}
		changeType = DetectChangeType(note.Title, title, note.Content, content)
	}

	row := store.NoteVersion{
		ID:          v.newID("ver"),
		NoteID:      noteID,
		Version:     note.Version + 1,
		Title:       title,
		Content:     content,
		AuthorID:    authorID,
		Comment:     comment,
		ChangeType:  string(changeType),
		ContentHash: ContentHash(content),
		CreatedAt:   v.now().UTC(),
	}
	if err := v.store.InsertVersionAndAdvance(ctx, row); err != nil {
		return CreateResult{}, fmt.Errorf("record version: %w", err)
	}
	return CreateResult{ID: row.ID, Version: row.Version}, nil
}

// CreateInitialVersion writes the version 1 CREATED snapshot at note
// creation. It silently skips missing notes and notes with versioning off so
// note creation itself can never fail here.
func (v *Versioner) CreateInitialVersion(ctx context.Context, noteID, title, content, authorID string) error {
	note, err := v.store.GetNote(ctx, noteID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load note: %w", err)
	}
	if !note.VersioningEnabled {
		return nil
	}

	row := store.NoteVersion{
		ID:          v.newID("ver"),
		NoteID:      noteID,
		Version:     1,
		Title:       title,
		Content:     content,
		AuthorID:    authorID,
		Comment:     "Initial version",
		ChangeType:  string(ChangeCreated),
		ContentHash: ContentHash(content),
		CreatedAt:   v.now().UTC(),
	}
	if err := v.store.InsertVersionAndAdvance(ctx, row); err != nil {
		return fmt.Errorf("record initial version: %w", err)
	}
	return nil
}

// GetVersionHistory pages through a note's snapshots, newest first.
func (v *Versioner) GetVersionHistory(ctx context.Context, noteID string, limit, offset int) (History, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}

	if _, err := v.store.GetNote(ctx, noteID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return History{}, ErrNoteNotFound
		}
		return History{}, fmt.Errorf("load note: %w", err)
	}

	versions, total, err := v.store.ListVersions(ctx, noteID, limit, offset)
	if err != nil {
		return History{}, fmt.Errorf("list versions: %w", err)
	}
	return History{
		Versions: versions,
		Total:    total,
		HasMore:  offset+limit < total,
	}, nil
}

// GetVersion looks up one snapshot by its (note, number) key.
func (v *Versioner) GetVersion(ctx context.Context, noteID string, number int) (store.NoteVersion, error) {
	row, err := v.store.GetVersion(ctx, noteID, number)
	if errors.Is(err, sql.ErrNoRows) {
		return store.NoteVersion{}, ErrVersionNotFound
	}
	if err != nil {
		return store.NoteVersion{}, fmt.Errorf("load version: %w", err)
	}
	return row, nil
}

// RestoreVersion records the target snapshot's state as a new RESTORE
// version. Restoring to a state identical to the current one is deliberate
// and still recorded.
func (v *Versioner) RestoreVersion(ctx context.Context, noteID string, target int, authorID, comment string) (CreateResult, error) {
	row, err := v.GetVersion(ctx, noteID, target)
	if err != nil {
		return CreateResult{}, err
	}
	if comment == "" {
		comment = fmt.Sprintf("Restored from version %d", target)
	}
	return v.CreateVersion(ctx, noteID, row.Title, row.Content, authorID, comment, ChangeRestore)
}

// CompareVersions diffs two stored snapshots of the same note.
func (v *Versioner) CompareVersions(ctx context.Context, noteID string, from, to int) (Diff, error) {
	older, err := v.GetVersion(ctx, noteID, from)
	if err != nil {
		return Diff{}, err
	}
	newer, err := v.GetVersion(ctx, noteID, to)
	if err != nil {
		return Diff{}, err
	}
	return Compare(older.Content, newer.Content, v.maxDiffLines), nil
}

// CompareVersionsUnified renders the same comparison as a unified diff.
func (v *Versioner) CompareVersionsUnified(ctx context.Context, noteID string, from, to int) (string, error) {
	older, err := v.GetVersion(ctx, noteID, from)
	if err != nil {
		return "", err
	}
	newer, err := v.GetVersion(ctx, noteID, to)
	if err != nil {
		return "", err
	}
	return Unified(older.Content, newer.Content,
		fmt.Sprintf("%s@v%d", noteID, from),
		fmt.Sprintf("%s@v%d", noteID, to))
}
