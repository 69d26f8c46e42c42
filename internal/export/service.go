package export

import (
	"context"
	"fmt"
	"html/template"
	"time"
)

// DataStore is the data access the exporter needs.
type DataStore interface {
	GetNoteInfo(ctx context.Context, id string) (NoteInfo, error)
	GetSnapshot(ctx context.Context, noteID string, version int) (SnapshotInfo, error)
}

// NoteInfo holds the note's current state for export.
type NoteInfo struct {
	ID        string
	Title     string
	Content   string
	Version   int
	UpdatedBy string
	UpdatedAt time.Time
}

// SnapshotInfo holds one stored version for export.
type SnapshotInfo struct {
	Title      string
	Content    string
	Version    int
	Author     string
	Comment    string
	ChangeType string
	CreatedAt  time.Time
}

// Service renders note snapshots as HTML or PDF.
type Service struct {
	store DataStore
}

func NewService(store DataStore) *Service {
	return &Service{store: store}
}

// Export generates an export in the requested format.
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	snap, err := s.loadSnapshot(ctx, req)
	if err != nil {
		return nil, err
	}

	data := TemplateData{
		Title:       snap.Title,
		ContentHTML: template.HTML(ContentToHTML(snap.Content)),
		Author:      snap.Author,
		Version:     snap.Version,
		ChangeType:  snap.ChangeType,
		Comment:     snap.Comment,
		CreatedAt:   snap.CreatedAt,
	}

	html, err := RenderNoteHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	switch req.Format {
	case FormatPDF:
		return exportPDF(html, snap.Title)
	case FormatHTML:
		return &Result{
			Data:     []byte(html),
			Filename: sanitizeFilename(snap.Title) + ".html",
			MimeType: "text/html; charset=utf-8",
		}, nil
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}
}

func (s *Service) loadSnapshot(ctx context.Context, req Request) (SnapshotInfo, error) {
	if req.Version > 0 {
		snap, err := s.store.GetSnapshot(ctx, req.NoteID, req.Version)
		if err != nil {
			return SnapshotInfo{}, fmt.Errorf("%w: %v", ErrContentUnavailable, err)
		}
		return snap, nil
	}

	note, err := s.store.GetNoteInfo(ctx, req.NoteID)
	if err != nil {
		return SnapshotInfo{}, fmt.Errorf("%w: %v", ErrContentUnavailable, err)
	}
	return SnapshotInfo{
		Title:      note.Title,
		Content:    note.Content,
		Version:    note.Version,
		Author:     note.UpdatedBy,
		ChangeType: "EDIT",
		CreatedAt:  note.UpdatedAt,
	}, nil
}
