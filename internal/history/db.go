package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

const schemaCore = `
CREATE TABLE IF NOT EXISTS commands (
    id TEXT PRIMARY KEY,
    created_at INTEGER,
    command TEXT,
    directory TEXT,
    exit_code INTEGER,
    type TEXT,
    relevance REAL,
    stdout TEXT,
    stderr TEXT
);

CREATE TABLE IF NOT EXISTS analyses (
    id TEXT PRIMARY KEY,
    command_id TEXT,
    created_at INTEGER,
    trigger_name TEXT,
    prompt TEXT,
    response TEXT,
    state TEXT,
    FOREIGN KEY(command_id) REFERENCES commands(id)
);
`

const schemaFTS = `
CREATE VIRTUAL TABLE IF NOT EXISTS commands_fts USING fts5(
    command,
    stdout,
    stderr,
    type,
    command_id UNINDEXED,
    tokenize = 'porter'
);

CREATE TRIGGER IF NOT EXISTS commands_ai AFTER INSERT ON commands BEGIN
  INSERT INTO commands_fts(command, stdout, stderr, type, command_id) VALUES (new.command, new.stdout, new.stderr, new.type, new.id);
END;
`

func initDB(dbPath string) (*sql.DB, bool, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, false, fmt.Errorf("failed to create history dir: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, false, err
	}

	if _, err := db.Exec(schemaCore); err != nil {
		db.Close()
		return nil, false, fmt.Errorf("failed to init core schema: %w", err)
	}

	ftsEnabled := true
	if _, err := db.Exec(schemaFTS); err != nil {
		ftsEnabled = false
	}

	return db, ftsEnabled, nil
}

// CheckFTS verifies the FTS5 extension is loaded and working.
func CheckFTS() bool {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return false
	}
	defer db.Close()

	_, err = db.Exec("CREATE VIRTUAL TABLE test USING fts5(content)")
	return err == nil
}
