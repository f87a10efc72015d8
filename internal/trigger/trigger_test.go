package trigger

import (
	"testing"
	"time"

	"github.com/halvorsen/termpilot/internal/command"
)

func TestEngine_ErrorExitFiresCommandError(t *testing.T) {
	e := New()
	rec := command.NewRecord("ls /nonexistent", "/tmp", time.Now(), time.Millisecond, 2, "", "no such file or directory")

	fired := e.Evaluate(rec, time.Now())
	names := make(map[string]bool)
	for _, f := range fired {
		names[f.Rule.Name] = true
	}
	if !names["command_error"] {
		t.Errorf("expected command_error to fire, got %+v", fired)
	}
	if !names["error_pattern_file_not_found_errors"] {
		t.Errorf("expected error_pattern_file_not_found_errors to fire, got %+v", fired)
	}
}

func TestEngine_DangerousCommandFiresOnlyMatchingPattern(t *testing.T) {
	e := New()
	rec := command.NewRecord("sudo rm -rf /var/log", "/tmp", time.Now(), time.Millisecond, 0, "", "")

	fired := e.Evaluate(rec, time.Now())
	names := make(map[string]bool)
	for _, f := range fired {
		names[f.Rule.Name] = true
	}
	if !names["dangerous_sudo_recursive_delete"] {
		t.Errorf("expected dangerous_sudo_recursive_delete to fire, got %+v", fired)
	}
}

func TestEngine_CooldownSuppressesRepeatedFiring(t *testing.T) {
	e := New()
	base := time.Now()
	rec := command.NewRecord("ls /nonexistent", "/tmp", base, time.Millisecond, 2, "", "no such file or directory")

	first := e.Evaluate(rec, base)
	second := e.Evaluate(rec, base.Add(100*time.Millisecond))

	if len(first) == 0 {
		t.Fatal("expected first evaluation to fire")
	}
	// command_error's cooldown is 1s; within 100ms it must not refire.
	for _, f := range second {
		if f.Rule.Name == "command_error" {
			t.Errorf("command_error refired within cooldown window")
		}
	}
}

func TestEngine_CooldownExpiresAllowsRefire(t *testing.T) {
	e := New()
	base := time.Now()
	rec := command.NewRecord("ls /nonexistent", "/tmp", base, time.Millisecond, 2, "", "no such file or directory")

	e.Evaluate(rec, base)
	later := e.Evaluate(rec, base.Add(2*time.Second))

	found := false
	for _, f := range later {
		if f.Rule.Name == "command_error" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected command_error to refire after cooldown expired")
	}
}

func TestEngine_FiringsSortedByPriorityDescending(t *testing.T) {
	e := New()
	rec := command.NewRecord("sudo rm -rf /", "/tmp", time.Now(), time.Millisecond, 1, "", "permission denied")

	fired := e.Evaluate(rec, time.Now())
	for i := 1; i < len(fired); i++ {
		if fired[i].Rule.Priority > fired[i-1].Rule.Priority {
			t.Errorf("firings not sorted by priority: %+v", fired)
		}
	}
}

func TestEngine_EvaluateManualAlwaysFires(t *testing.T) {
	e := New()
	f := e.EvaluateManual("what does this error mean", time.Now())
	if f.Rule.TriggerType != Manual {
		t.Errorf("TriggerType = %q, want manual", f.Rule.TriggerType)
	}
	if f.Rule.Priority != 10 {
		t.Errorf("Priority = %d, want 10", f.Rule.Priority)
	}
}

func TestEngine_DisabledRuleNeverFires(t *testing.T) {
	e := New()
	e.SetEnabled("command_error", false)
	rec := command.NewRecord("false", "/tmp", time.Now(), time.Millisecond, 1, "", "")

	fired := e.Evaluate(rec, time.Now())
	for _, f := range fired {
		if f.Rule.Name == "command_error" {
			t.Errorf("disabled rule fired")
		}
	}
}

func TestEngine_SetCooldownOverridesDefault(t *testing.T) {
	e := New()
	if !e.SetCooldown("command_error", 10*time.Second) {
		t.Fatal("SetCooldown reported rule not found")
	}

	now := time.Now()
	rec := command.NewRecord("false", "/tmp", now, time.Millisecond, 1, "", "")
	e.Evaluate(rec, now)
	fired := e.Evaluate(rec, now.Add(2*time.Second))

	for _, f := range fired {
		if f.Rule.Name == "command_error" {
			t.Errorf("command_error fired again within the overridden 10s cooldown")
		}
	}

	if e.SetCooldown("no_such_rule", time.Second) {
		t.Error("SetCooldown reported success for a nonexistent rule")
	}
}

func TestEngine_HistoryBoundedAt100(t *testing.T) {
	e := New()
	base := time.Now()
	for i := 0; i < 150; i++ {
		e.EvaluateManual("x", base.Add(time.Duration(i)*time.Millisecond))
	}
	if len(e.History()) != 100 {
		t.Errorf("History() len = %d, want 100", len(e.History()))
	}
}

func TestEngine_StatsCountsByType(t *testing.T) {
	e := New()
	e.EvaluateManual("x", time.Now())
	stats := e.Stats()
	if stats.Total != 1 {
		t.Errorf("Total = %d, want 1", stats.Total)
	}
	if stats.ByType[Manual] != 1 {
		t.Errorf("ByType[Manual] = %d, want 1", stats.ByType[Manual])
	}
}
