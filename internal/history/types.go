package history

import "time"

// CommandEvent is the JSONL record written for every completed
// CommandRecord, mirroring the shape persisted to SQLite.
type CommandEvent struct {
	ID        string  `json:"id"`
	TS        int64   `json:"ts"`
	Command   string  `json:"command"`
	Directory string  `json:"directory"`
	ExitCode  int     `json:"exit_code"`
	Type      string  `json:"type"`
	Relevance float64 `json:"relevance"`
	Stdout    string  `json:"stdout"`
	Stderr    string  `json:"stderr"`
}

// AnalysisEvent is the JSONL record written for every completed
// orchestrator request (the model's analysis of a command).
type AnalysisEvent struct {
	ID          string `json:"id"`
	TS          int64  `json:"ts"`
	CommandID   string `json:"command_id"`
	TriggerName string `json:"trigger_name"`
	Prompt      string `json:"prompt"`
	Response    string `json:"response"`
	State       string `json:"state"`
}

// SearchResult is a hit from the FTS index over command text/output.
type SearchResult struct {
	CommandID string
	Timestamp time.Time
	Command   string
	Preview   string
}
