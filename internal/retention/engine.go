package retention

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"noteledger/internal/store"
	"noteledger/internal/version"
)

// Store is the persistence a sweep needs. *store.Postgres satisfies it.
type Store interface {
	GetNote(ctx context.Context, id string) (store.Note, error)
	ListAllVersions(ctx context.Context, noteID string) ([]store.NoteVersion, error)
	DeleteVersions(ctx context.Context, ids []string) (int, error)
	ListVersionedNotesByCollection(ctx context.Context, collectionID string) ([]store.Note, error)
	VersionStats(ctx context.Context, noteID string) (store.VersionStats, error)
	EstimateStorage(ctx context.Context, noteID string) (store.StorageEstimate, error)
}

// SweepResult reports one per-note sweep. DeletedIDs lets callers purge
// downstream copies of the pruned rows.
type SweepResult struct {
	Deleted    int      `json:"deleted"`
	DeletedIDs []string `json:"-"`
}

// CollectionSweepResult sums per-note sweeps across a collection.
type CollectionSweepResult struct {
	NotesProcessed  int      `json:"notesProcessed"`
	VersionsDeleted int      `json:"versionsDeleted"`
	DeletedIDs      []string `json:"-"`
}

// Engine applies retention policies. It runs on demand or from a scheduled
// job; it never touches the diff or classification code.
type Engine struct {
	store Store
	now   func() time.Time
}

func NewEngine(s Store) *Engine {
	return &Engine{store: s, now: time.Now}
}

// ApplyPolicy prunes one note's history and reports how many rows went.
func (e *Engine) ApplyPolicy(ctx context.Context, noteID string, p Policy) (SweepResult, error) {
	if err := p.Validate(); err != nil {
		return SweepResult{}, fmt.Errorf("validate policy: %w", err)
	}

	if _, err := e.store.GetNote(ctx, noteID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SweepResult{}, version.ErrNoteNotFound
		}
		return SweepResult{}, fmt.Errorf("load note: %w", err)
	}

	versions, err := e.store.ListAllVersions(ctx, noteID)
	if err != nil {
		return SweepResult{}, fmt.Errorf("load versions: %w", err)
	}

	doomed := Plan(versions, p, e.now().UTC())
	if len(doomed) == 0 {
		return SweepResult{}, nil
	}

	deleted, err := e.store.DeleteVersions(ctx, doomed)
	if err != nil {
		return SweepResult{}, fmt.Errorf("delete versions: %w", err)
	}
	return SweepResult{Deleted: deleted, DeletedIDs: doomed}, nil
}

// ApplyCollectionPolicy sweeps every versioning-enabled note in a
// collection. Notes are independent; a per-note failure aborts the sweep so
// the scheduler can retry it whole.
func (e *Engine) ApplyCollectionPolicy(ctx context.Context, collectionID string, p Policy) (CollectionSweepResult, error) {
	if err := p.Validate(); err != nil {
		return CollectionSweepResult{}, fmt.Errorf("validate policy: %w", err)
	}

	notes, err := e.store.ListVersionedNotesByCollection(ctx, collectionID)
	if err != nil {
		return CollectionSweepResult{}, fmt.Errorf("list notes: %w", err)
	}

	var result CollectionSweepResult
	for _, note := range notes {
		swept, err := e.ApplyPolicy(ctx, note.ID, p)
		if err != nil {
			return result, fmt.Errorf("sweep note %s: %w", note.ID, err)
		}
		result.NotesProcessed++
		result.VersionsDeleted += swept.Deleted
		result.DeletedIDs = append(result.DeletedIDs, swept.DeletedIDs...)
	}
	return result, nil
}

// Stats aggregates a note's history counts and timestamps.
func (e *Engine) Stats(ctx context.Context, noteID string) (store.VersionStats, error) {
	stats, err := e.store.VersionStats(ctx, noteID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.VersionStats{}, version.ErrNoteNotFound
	}
	if err != nil {
		return store.VersionStats{}, fmt.Errorf("version stats: %w", err)
	}
	return stats, nil
}

// EstimateStorage sums the byte weight of a note's stored snapshots.
func (e *Engine) EstimateStorage(ctx context.Context, noteID string) (store.StorageEstimate, error) {
	if _, err := e.store.GetNote(ctx, noteID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.StorageEstimate{}, version.ErrNoteNotFound
		}
		return store.StorageEstimate{}, fmt.Errorf("load note: %w", err)
	}

	est, err := e.store.EstimateStorage(ctx, noteID)
	if err != nil {
		return store.StorageEstimate{}, fmt.Errorf("estimate storage: %w", err)
	}
	return est, nil
}
