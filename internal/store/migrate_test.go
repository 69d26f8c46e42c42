package store

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
)

func migrationFiles(t *testing.T) []string {
	t.Helper()

	dir := filepath.Join("..", "..", "db", "migrations")
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read migrations dir: %v", err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".up.sql") {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	if len(files) == 0 {
		t.Fatal("no migration files found")
	}
	return files
}

func TestMigrationFilesAreOrderedAndNonEmpty(t *testing.T) {
	files := migrationFiles(t)

	if !sort.StringsAreSorted(files) {
		t.Fatalf("migration files are not lexically ordered: %v", files)
	}

	for _, file := range files {
		contents, err := os.ReadFile(file)
		if err != nil {
			t.Fatalf("read %s: %v", file, err)
		}
		if len(strings.TrimSpace(string(contents))) == 0 {
			t.Errorf("%s is empty", file)
		}
	}
}

func TestInitialMigrationGuardsVersionUniqueness(t *testing.T) {
	files := migrationFiles(t)

	contents, err := os.ReadFile(files[0])
	if err != nil {
		t.Fatalf("read %s: %v", files[0], err)
	}

	if !strings.Contains(string(contents), "UNIQUE (note_id, version)") {
		t.Fatal("initial migration does not declare UNIQUE (note_id, version) on note_versions")
	}
}
