// Package contextwindow holds the bounded, in-memory window of recent
// CommandRecords that the orchestrator draws on when building prompts.
package contextwindow

import (
	"sort"
	"sync"
	"time"

	"github.com/halvorsen/termpilot/internal/classifier"
	"github.com/halvorsen/termpilot/internal/command"
)

const (
	defaultCapacity         = 20
	defaultImportantCapacity = 10
	importantThreshold       = 0.8
)

// Statistics is a point-in-time summary of the window's contents.
type Statistics struct {
	Total       int
	ByType      map[classifier.CommandType]int
	ErrorCount  int
	ImportantN  int
	OldestAt    time.Time
	NewestAt    time.Time
}

// Window is the ContextWindow: a bounded ring of recent CommandRecords
// plus a side-list of "important" records (relevance >= 0.8) that
// survive eviction from the main ring until their own capacity is
// exceeded. Safe for concurrent use; the PTY pipeline goroutine adds
// records while the orchestrator queries from worker goroutines.
type Window struct {
	mu sync.Mutex

	capacity          int
	importantCapacity int

	records   []command.Record // oldest first
	important []command.Record // oldest first

	session command.SessionContext
}

// New creates a Window. capacity and importantCapacity fall back to
// their spec defaults (20 and 10) when <= 0.
func New(capacity, importantCapacity int) *Window {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	if importantCapacity <= 0 {
		importantCapacity = defaultImportantCapacity
	}
	return &Window{capacity: capacity, importantCapacity: importantCapacity}
}

// Add inserts a record, evicting the oldest when the main ring is at
// capacity. A record scoring >= 0.8 is additionally retained in the
// important side-list (itself bounded and oldest-evicted).
func (w *Window) Add(rec command.Record) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.records = append(w.records, rec)
	if len(w.records) > w.capacity {
		w.records = w.records[len(w.records)-w.capacity:]
	}

	if rec.Relevance >= importantThreshold {
		w.important = append(w.important, rec)
		if len(w.important) > w.importantCapacity {
			w.important = w.important[len(w.important)-w.importantCapacity:]
		}
	}
}

// UpdateSession replaces the tracked SessionContext snapshot.
func (w *Window) UpdateSession(sc command.SessionContext) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.session = sc
}

// Session returns the last SessionContext snapshot given to UpdateSession.
func (w *Window) Session() command.SessionContext {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.session
}

// Relevant returns records for prompt inclusion: the main ring and the
// important side-list merged and deduplicated by ID, sorted by
// relevance descending, greedily packed under maxTokens, then
// re-sorted chronologically (oldest first) so prompts read like a
// session transcript rather than a relevance-shuffled list.
func (w *Window) Relevant(maxTokens int) []command.Record {
	w.mu.Lock()
	merged := make(map[string]command.Record, len(w.records)+len(w.important))
	for _, r := range w.records {
		merged[r.ID] = r
	}
	for _, r := range w.important {
		merged[r.ID] = r
	}
	w.mu.Unlock()

	all := make([]command.Record, 0, len(merged))
	for _, r := range merged {
		all = append(all, r)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Relevance > all[j].Relevance })

	budget := maxTokens
	picked := make([]command.Record, 0, len(all))
	for _, r := range all {
		cost := r.TokenCost()
		if budget > 0 && cost > budget {
			continue
		}
		picked = append(picked, r)
		budget -= cost
		if budget <= 0 && len(picked) > 0 {
			break
		}
	}

	sort.Slice(picked, func(i, j int) bool { return picked[i].StartedAt.Before(picked[j].StartedAt) })
	return picked
}

// Errors returns up to limit records with a non-zero exit code, most
// recent first.
func (w *Window) Errors(limit int) []command.Record {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]command.Record, 0, limit)
	for i := len(w.records) - 1; i >= 0 && len(out) < limit; i-- {
		if w.records[i].ExitCode != 0 {
			out = append(out, w.records[i])
		}
	}
	return out
}

// ByType returns up to limit records of the given CommandType, most
// recent first.
func (w *Window) ByType(typ classifier.CommandType, limit int) []command.Record {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]command.Record, 0, limit)
	for i := len(w.records) - 1; i >= 0 && len(out) < limit; i-- {
		if w.records[i].Type == typ {
			out = append(out, w.records[i])
		}
	}
	return out
}

// Statistics summarizes the window's current contents.
func (w *Window) Statistics() Statistics {
	w.mu.Lock()
	defer w.mu.Unlock()

	stats := Statistics{
		Total:      len(w.records),
		ByType:     make(map[classifier.CommandType]int),
		ImportantN: len(w.important),
	}
	for i, r := range w.records {
		stats.ByType[r.Type]++
		if r.ExitCode != 0 {
			stats.ErrorCount++
		}
		if i == 0 {
			stats.OldestAt = r.StartedAt
		}
		stats.NewestAt = r.StartedAt
	}
	return stats
}
