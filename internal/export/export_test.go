package export

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type fakeDataStore struct {
	note      NoteInfo
	snapshots map[int]SnapshotInfo
}

func (f *fakeDataStore) GetNoteInfo(_ context.Context, id string) (NoteInfo, error) {
	if f.note.ID != id {
		return NoteInfo{}, errors.New("note not found")
	}
	return f.note, nil
}

func (f *fakeDataStore) GetSnapshot(_ context.Context, _ string, version int) (SnapshotInfo, error) {
	snap, ok := f.snapshots[version]
	if !ok {
		return SnapshotInfo{}, errors.New("version not found")
	}
	return snap, nil
}

func TestContentToHTML(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"empty", "", ""},
		{"single paragraph", "hello world", "<p>hello world</p>"},
		{"line break inside paragraph", "line1\nline2", "<p>line1<br>line2</p>"},
		{"two paragraphs", "para1\n\npara2", "<p>para1</p>\n<p>para2</p>"},
		{"escapes markup", "<script>alert(1)</script>", "&lt;script&gt;"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := strings.TrimSpace(ContentToHTML(tt.input))
			if !strings.Contains(result, strings.TrimSpace(tt.expected)) {
				t.Errorf("ContentToHTML(%q) = %q, want it to contain %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestExportHTMLOfStoredVersion(t *testing.T) {
	svc := NewService(&fakeDataStore{
		snapshots: map[int]SnapshotInfo{
			3: {
				Title:      "Spec",
				Content:    "line1\nline2",
				Version:    3,
				Author:     "Avery",
				Comment:    "Restored from version 1",
				ChangeType: "RESTORE",
				CreatedAt:  time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC),
			},
		},
	})

	result, err := svc.Export(context.Background(), Request{
		NoteID:  "note-1",
		Version: 3,
		Format:  FormatHTML,
	})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	html := string(result.Data)
	for _, want := range []string{"Spec", "v3", "restore", "Restored from version 1", "line1<br>line2"} {
		if !strings.Contains(html, want) {
			t.Errorf("export HTML missing %q", want)
		}
	}
	if result.Filename != "Spec.html" {
		t.Errorf("unexpected filename %q", result.Filename)
	}
	if !strings.HasPrefix(result.MimeType, "text/html") {
		t.Errorf("unexpected mime type %q", result.MimeType)
	}
}

func TestExportCurrentStateWhenVersionZero(t *testing.T) {
	svc := NewService(&fakeDataStore{
		note: NoteInfo{
			ID:        "note-1",
			Title:     "Spec",
			Content:   "current body",
			Version:   5,
			UpdatedBy: "Avery",
			UpdatedAt: time.Now(),
		},
	})

	result, err := svc.Export(context.Background(), Request{
		NoteID: "note-1",
		Format: FormatHTML,
	})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if !strings.Contains(string(result.Data), "current body") {
		t.Error("export should use the note's current content")
	}
	if !strings.Contains(string(result.Data), "v5") {
		t.Error("export should show the current version number")
	}
}

func TestExportMissingVersion(t *testing.T) {
	svc := NewService(&fakeDataStore{snapshots: map[int]SnapshotInfo{}})

	_, err := svc.Export(context.Background(), Request{NoteID: "note-1", Version: 9, Format: FormatHTML})
	if !errors.Is(err, ErrContentUnavailable) {
		t.Fatalf("expected ErrContentUnavailable, got %v", err)
	}
}

func TestExportUnsupportedFormat(t *testing.T) {
	svc := NewService(&fakeDataStore{
		note: NoteInfo{ID: "note-1", Title: "Spec"},
	})

	if _, err := svc.Export(context.Background(), Request{NoteID: "note-1", Format: "docx"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Hello World", "Hello-World"},
		{"My Note v1.2", "My-Note-v12"},
		{"Special!@#$%Chars", "SpecialChars"},
		{"", "document"},
		{"Very Long Title That Exceeds Fifty Characters Limit", "Very-Long-Title-That-Exceeds-Fifty-Characters-Limi"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := sanitizeFilename(tt.input)
			if result != tt.expected {
				t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestPercentEncodeForDataURL(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"hello world", "hello%20world"},
		{"test+sign", "test%2Bsign"},
		{"special<>", "special%3C%3E"},
		{"normal-text.txt", "normal-text.txt"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := percentEncodeForDataURL(tt.input)
			if result != tt.expected {
				t.Errorf("percentEncodeForDataURL(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}
