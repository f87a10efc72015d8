package history

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/halvorsen/termpilot/internal/command"
)

func TestManager_SaveCommandDualWritesJSONLAndSQLite(t *testing.T) {
	dir := t.TempDir()
	m, err := New(filepath.Join(dir, "history.db"), filepath.Join(dir, "history.jsonl"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer m.Close()

	rec := command.NewRecord("git status", "/repo", time.Now(), time.Millisecond, 0, "On branch main", "")
	if err := m.SaveCommand(rec); err != nil {
		t.Fatalf("SaveCommand: %v", err)
	}

	var count int
	if err := m.db.QueryRow("SELECT count(*) FROM commands WHERE id = ?", rec.ID).Scan(&count); err != nil {
		t.Fatalf("query: %v", err)
	}
	if count != 1 {
		t.Errorf("expected one row indexed, got %d", count)
	}
}

func TestManager_EnsureMigratedRebuildsIndexFromJSONL(t *testing.T) {
	dir := t.TempDir()
	jsonlPath := filepath.Join(dir, "history.jsonl")
	dbPath := filepath.Join(dir, "history.db")

	seed, err := New(dbPath, jsonlPath)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rec := command.NewRecord("ls", "/tmp", time.Now(), time.Millisecond, 0, "a.txt", "")
	if err := seed.SaveCommand(rec); err != nil {
		t.Fatalf("SaveCommand: %v", err)
	}
	seed.Close()

	// Drop the index and rebuild it from the JSONL log alone.
	rebuilt, err := New(filepath.Join(dir, "history2.db"), jsonlPath)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer rebuilt.Close()
	rebuilt.EnsureMigrated()

	var count int
	if err := rebuilt.db.QueryRow("SELECT count(*) FROM commands WHERE id = ?", rec.ID).Scan(&count); err != nil {
		t.Fatalf("query: %v", err)
	}
	if count != 1 {
		t.Errorf("expected migration to recover the row, got count=%d", count)
	}
}
