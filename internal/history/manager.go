package history

import (
	"bufio"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/halvorsen/termpilot/internal/command"
)

// Manager is the dual-write history export: every completed
// CommandRecord and AnalysisRequest is appended to a JSONL file (the
// durable, replayable log) and inserted into SQLite (the queryable
// index, rebuildable from the JSONL by EnsureMigrated).
type Manager struct {
	db          *sql.DB
	jsonlPath   string
	searchAvail bool
	mu          sync.Mutex
}

// New opens (creating if necessary) the SQLite index at dbPath and
// prepares to append events to jsonlPath.
func New(dbPath, jsonlPath string) (*Manager, error) {
	db, ftsEnabled, err := initDB(dbPath)
	if err != nil {
		return nil, err
	}

	m := &Manager{db: db, jsonlPath: jsonlPath, searchAvail: ftsEnabled}
	go m.EnsureMigrated()

	return m, nil
}

// Close releases the underlying SQLite connection.
func (m *Manager) Close() error {
	if m.db == nil {
		return nil
	}
	return m.db.Close()
}

// EnsureMigrated replays the JSONL log into SQLite if the commands
// table is still empty, so a deleted or corrupted index can always be
// rebuilt from the append-only log.
func (m *Manager) EnsureMigrated() {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int
	if err := m.db.QueryRow("SELECT count(*) FROM commands").Scan(&count); err == nil && count > 0 {
		return
	}
	if _, err := os.Stat(m.jsonlPath); os.IsNotExist(err) {
		return
	}
	m.migrate()
}

func (m *Manager) migrate() {
	f, err := os.Open(m.jsonlPath)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	tx, err := m.db.Begin()
	if err != nil {
		return
	}
	defer tx.Rollback()

	stmtCmd, err := tx.Prepare("INSERT OR IGNORE INTO commands(id, created_at, command, directory, exit_code, type, relevance, stdout, stderr) VALUES(?,?,?,?,?,?,?,?,?)")
	if err != nil {
		return
	}
	defer stmtCmd.Close()

	stmtAnalysis, err := tx.Prepare("INSERT OR IGNORE INTO analyses(id, command_id, created_at, trigger_name, prompt, response, state) VALUES(?,?,?,?,?,?,?)")
	if err != nil {
		return
	}
	defer stmtAnalysis.Close()

	for scanner.Scan() {
		line := scanner.Bytes()
		var base map[string]interface{}
		if err := json.Unmarshal(line, &base); err != nil {
			continue
		}
		if _, ok := base["exit_code"]; ok {
			var ev CommandEvent
			if json.Unmarshal(line, &ev) == nil {
				stmtCmd.Exec(ev.ID, ev.TS, ev.Command, ev.Directory, ev.ExitCode, ev.Type, ev.Relevance, ev.Stdout, ev.Stderr)
			}
			continue
		}
		if _, ok := base["trigger_name"]; ok {
			var ev AnalysisEvent
			if json.Unmarshal(line, &ev) == nil {
				stmtAnalysis.Exec(ev.ID, ev.CommandID, ev.TS, ev.TriggerName, ev.Prompt, ev.Response, ev.State)
			}
		}
	}

	tx.Commit()
}

// SaveCommand dual-writes a completed CommandRecord: appended to the
// JSONL log, then inserted into the SQLite index.
func (m *Manager) SaveCommand(rec command.Record) error {
	ev := CommandEvent{
		ID:        rec.ID,
		TS:        rec.StartedAt.Unix(),
		Command:   rec.Command,
		Directory: rec.Directory,
		ExitCode:  rec.ExitCode,
		Type:      string(rec.Type),
		Relevance: rec.Relevance,
		Stdout:    rec.Stdout,
		Stderr:    rec.Stderr,
	}
	if err := m.appendJSONL(ev); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := m.db.Exec(
		"INSERT OR IGNORE INTO commands(id, created_at, command, directory, exit_code, type, relevance, stdout, stderr) VALUES(?,?,?,?,?,?,?,?,?)",
		ev.ID, ev.TS, ev.Command, ev.Directory, ev.ExitCode, ev.Type, ev.Relevance, ev.Stdout, ev.Stderr)
	return err
}

// SaveAnalysis dual-writes one completed orchestrator request.
func (m *Manager) SaveAnalysis(id, commandID, triggerName, prompt, response, state string) error {
	ev := AnalysisEvent{
		ID:          id,
		TS:          time.Now().Unix(),
		CommandID:   commandID,
		TriggerName: triggerName,
		Prompt:      prompt,
		Response:    response,
		State:       state,
	}
	if err := m.appendJSONL(ev); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := m.db.Exec(
		"INSERT OR IGNORE INTO analyses(id, command_id, created_at, trigger_name, prompt, response, state) VALUES(?,?,?,?,?,?,?)",
		ev.ID, ev.CommandID, ev.TS, ev.TriggerName, ev.Prompt, ev.Response, ev.State)
	return err
}

func (m *Manager) appendJSONL(data interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, err := os.OpenFile(m.jsonlPath, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	encoded, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = f.Write(append(encoded, '\n'))
	return err
}

// Search runs a full-text query (see ParseQuery) over indexed command
// text and output, most recent first.
func (m *Manager) Search(query string) ([]SearchResult, error) {
	if !m.searchAvail {
		return nil, fmt.Errorf("search is unavailable (binary compiled without FTS5 support)")
	}
	m.EnsureMigrated()

	ftsQuery := ParseQuery(query)
	if ftsQuery == "" {
		return nil, fmt.Errorf("empty query")
	}

	rows, err := m.db.Query(`
		SELECT c.id, c.created_at, c.command,
		       snippet(commands_fts, -1, '[', ']', '...', 8)
		FROM commands_fts
		JOIN commands c ON c.id = commands_fts.command_id
		WHERE commands_fts MATCH ?
		ORDER BY rank
		LIMIT 50`, ftsQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		var ts int64
		if err := rows.Scan(&r.CommandID, &ts, &r.Command, &r.Preview); err != nil {
			continue
		}
		r.Timestamp = time.Unix(ts, 0)
		results = append(results, r)
	}
	return results, nil
}
