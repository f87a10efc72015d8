package contextwindow

import (
	"testing"
	"time"

	"github.com/halvorsen/termpilot/internal/classifier"
	"github.com/halvorsen/termpilot/internal/command"
)

func rec(cmd string, exitCode int, relevance float64, age time.Duration) command.Record {
	r := command.NewRecord(cmd, "/tmp", time.Now().Add(-age), time.Millisecond, exitCode, "out", "")
	r.Relevance = relevance
	return r
}

func TestWindow_AddEvictsOldestPastCapacity(t *testing.T) {
	w := New(3, 10)
	for i := 0; i < 5; i++ {
		w.Add(rec("echo x", 0, 0.3, 0))
	}
	if got := w.Statistics().Total; got != 3 {
		t.Errorf("Total = %d, want 3", got)
	}
}

func TestWindow_ImportantSurvivesMainEviction(t *testing.T) {
	w := New(2, 10)
	important := rec("rm -rf /tmp/x", 1, 0.95, time.Hour)
	w.Add(important)
	w.Add(rec("echo a", 0, 0.3, 0))
	w.Add(rec("echo b", 0, 0.3, 0))
	w.Add(rec("echo c", 0, 0.3, 0))

	found := false
	for _, r := range w.Relevant(100000) {
		if r.ID == important.ID {
			found = true
		}
	}
	if !found {
		t.Errorf("expected important record to survive main-ring eviction")
	}
}

func TestWindow_RelevantRespectsTokenBudget(t *testing.T) {
	w := New(10, 10)
	big := rec("cat hugefile.txt", 0, 0.9, time.Minute)
	small := rec("ls", 0, 0.8, time.Minute)
	w.Add(big)
	w.Add(small)

	budget := small.TokenCost()
	out := w.Relevant(budget)
	if len(out) != 1 || out[0].ID != small.ID {
		t.Errorf("expected only the cheaper record to fit budget %d, got %+v", budget, out)
	}
}

func TestWindow_RelevantReturnsChronologicalOrder(t *testing.T) {
	w := New(10, 10)
	older := rec("echo first", 0, 0.9, 2*time.Minute)
	newer := rec("echo second", 0, 0.95, time.Minute)
	w.Add(older)
	w.Add(newer)

	out := w.Relevant(1_000_000)
	if len(out) != 2 {
		t.Fatalf("got %d records, want 2", len(out))
	}
	if out[0].ID != older.ID || out[1].ID != newer.ID {
		t.Errorf("expected chronological order, got %+v", out)
	}
}

func TestWindow_ErrorsFiltersNonZeroExit(t *testing.T) {
	w := New(10, 10)
	w.Add(rec("echo ok", 0, 0.3, 0))
	failed := rec("false", 1, 0.9, 0)
	w.Add(failed)

	errs := w.Errors(5)
	if len(errs) != 1 || errs[0].ID != failed.ID {
		t.Errorf("Errors() = %+v", errs)
	}
}

func TestWindow_ByTypeFilters(t *testing.T) {
	w := New(10, 10)
	w.Add(rec("cd /tmp", 0, 0.3, 0))
	gitRec := rec("git status", 0, 0.5, 0)
	w.Add(gitRec)

	got := w.ByType(classifier.VersionControl, 5)
	if len(got) != 1 || got[0].ID != gitRec.ID {
		t.Errorf("ByType(version_control) = %+v", got)
	}
}

func TestWindow_StatisticsCountsErrorsAndTypes(t *testing.T) {
	w := New(10, 10)
	w.Add(rec("ls", 0, 0.3, 0))
	w.Add(rec("false", 1, 0.9, 0))

	stats := w.Statistics()
	if stats.Total != 2 {
		t.Errorf("Total = %d, want 2", stats.Total)
	}
	if stats.ErrorCount != 1 {
		t.Errorf("ErrorCount = %d, want 1", stats.ErrorCount)
	}
}

func TestWindow_DefaultsApplyWhenNonPositive(t *testing.T) {
	w := New(0, -1)
	if w.capacity != defaultCapacity || w.importantCapacity != defaultImportantCapacity {
		t.Errorf("defaults not applied: capacity=%d importantCapacity=%d", w.capacity, w.importantCapacity)
	}
}
