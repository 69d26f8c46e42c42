package mirror

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestNoteRepoLifecycle(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	initial := Snapshot{
		Title:      "Spec",
		Content:    "line1\nline2",
		Version:    1,
		ChangeType: "CREATED",
		Author:     "Avery",
		Comment:    "Initial version",
	}

	if err := svc.EnsureNoteRepo("note-1", initial); err != nil {
		t.Fatalf("EnsureNoteRepo() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(tempDir, "note-1")); err != nil {
		t.Fatalf("repo directory missing: %v", err)
	}

	// Idempotent.
	if err := svc.EnsureNoteRepo("note-1", initial); err != nil {
		t.Fatalf("EnsureNoteRepo() second call error = %v", err)
	}

	commit, err := svc.CommitVersion("note-1", Snapshot{
		Title:      "Spec",
		Content:    "line1\nline2\nline3",
		Version:    2,
		ChangeType: "EDIT",
		Author:     "Avery",
	})
	if err != nil {
		t.Fatalf("CommitVersion() error = %v", err)
	}
	if commit.Hash == "" {
		t.Fatal("expected commit hash")
	}
	if !strings.HasPrefix(commit.Message, "v2 EDIT") {
		t.Fatalf("unexpected commit message %q", commit.Message)
	}

	history, err := svc.History("note-1", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(history))
	}
	if history[0].Hash != commit.Hash {
		t.Fatal("expected newest commit first")
	}
}

func TestCommitVersionTagsMilestones(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	if err := svc.EnsureNoteRepo("note-1", Snapshot{
		Title: "Spec", Content: "v1", Version: 1, ChangeType: "CREATED", Author: "Avery",
	}); err != nil {
		t.Fatalf("EnsureNoteRepo() error = %v", err)
	}

	for n := 2; n <= 10; n++ {
		if _, err := svc.CommitVersion("note-1", Snapshot{
			Title:      "Spec",
			Content:    fmt.Sprintf("draft %d", n),
			Version:    n,
			ChangeType: "EDIT",
			Author:     "Avery",
		}); err != nil {
			t.Fatalf("CommitVersion(%d) error = %v", n, err)
		}
	}

	snap, err := svc.GetSnapshotByTag("note-1", "v10")
	if err != nil {
		t.Fatalf("GetSnapshotByTag() error = %v", err)
	}
	if snap.Version != 10 || snap.Content != "draft 10" {
		t.Fatalf("unexpected tagged snapshot: %+v", snap)
	}

	if _, err := svc.GetSnapshotByTag("note-1", "v5"); err == nil {
		t.Fatal("expected missing tag for non-milestone version")
	}
}

func TestCommitVersionConcurrentNotes(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	var wg sync.WaitGroup
	errCh := make(chan error, 4)
	for i := 0; i < 4; i++ {
		noteID := fmt.Sprintf("note-%d", i)
		if err := svc.EnsureNoteRepo(noteID, Snapshot{
			Title: "Spec", Content: "v1", Version: 1, ChangeType: "CREATED", Author: "Avery",
		}); err != nil {
			t.Fatalf("EnsureNoteRepo(%s) error = %v", noteID, err)
		}

		wg.Add(1)
		go func(noteID string) {
			defer wg.Done()
			for n := 2; n <= 5; n++ {
				if _, err := svc.CommitVersion(noteID, Snapshot{
					Title:      "Spec",
					Content:    fmt.Sprintf("draft %d", n),
					Version:    n,
					ChangeType: "EDIT",
					Author:     "Avery",
				}); err != nil {
					errCh <- fmt.Errorf("%s v%d: %w", noteID, n, err)
					return
				}
			}
		}(noteID)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatalf("concurrent commit failed: %v", err)
	}

	for i := 0; i < 4; i++ {
		history, err := svc.History(fmt.Sprintf("note-%d", i), 0)
		if err != nil {
			t.Fatalf("History() error = %v", err)
		}
		if len(history) != 5 {
			t.Fatalf("expected 5 commits, got %d", len(history))
		}
	}
}

func TestRemove(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	if err := svc.EnsureNoteRepo("note-1", Snapshot{
		Title: "Spec", Content: "v1", Version: 1, ChangeType: "CREATED", Author: "Avery",
	}); err != nil {
		t.Fatalf("EnsureNoteRepo() error = %v", err)
	}

	if err := svc.Remove("note-1"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(tempDir, "note-1")); !os.IsNotExist(err) {
		t.Fatal("repo directory still present after Remove")
	}
}
