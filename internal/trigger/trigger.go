// Package trigger implements the TriggerEngine: a priority-ordered set
// of rules that decide when a completed command should be handed to
// the orchestrator for AI analysis.
package trigger

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/halvorsen/termpilot/internal/classifier"
	"github.com/halvorsen/termpilot/internal/command"
)

// Type is the category of a Trigger.
type Type string

const (
	Error     Type = "error"
	Dangerous Type = "dangerous"
	Pattern   Type = "pattern"
	Manual    Type = "manual"
)

// Rule is one trigger definition: a name, category, priority (1-10,
// higher fires first), an optional regex pattern, and a cooldown that
// throttles repeated firing.
type Rule struct {
	Name        string
	TriggerType Type
	Priority    int
	Pattern     string
	Description string
	Enabled     bool
	Cooldown    time.Duration

	compiled *regexp.Regexp
}

func newRule(name string, typ Type, priority int, pattern, desc string, cooldown time.Duration) Rule {
	r := Rule{Name: name, TriggerType: typ, Priority: priority, Pattern: pattern, Description: desc, Enabled: true, Cooldown: cooldown}
	if pattern != "" {
		r.compiled = regexp.MustCompile(`(?im)` + pattern)
	}
	return r
}

func (r *Rule) matches(text string) bool {
	if !r.Enabled || r.compiled == nil {
		return false
	}
	return r.compiled.MatchString(text)
}

// Firing is a rule that activated, along with when.
type Firing struct {
	Rule      Rule
	FiredAt   time.Time
	Command   *command.Record
}

// Engine is the TriggerEngine. Safe for concurrent use: a single mutex
// guards the rule set and firing history, since config-reload overrides
// (SetEnabled/SetCooldown) land on a different goroutine than Evaluate.
type Engine struct {
	mu sync.Mutex

	rules   []*trackedRule
	history []Firing
	maxHist int
}

type trackedRule struct {
	rule        Rule
	lastFired   time.Time
}

// New builds an Engine preloaded with the default rule set: a
// command_error rule, six dangerous-command patterns, eight generic
// error-output patterns, and the git/package/dev pattern families.
func New() *Engine {
	e := &Engine{maxHist: 100}

	e.AddRule(newRule("command_error", Error, 10, "", "Any command that exits with non-zero code", time.Second))

	dangerous := []struct{ pattern, desc string }{
		{`rm\s+-rf\s+/`, "Recursive delete from root"},
		{`sudo\s+rm\s+-rf`, "Sudo recursive delete"},
		{`mkfs\.`, "Format filesystem"},
		{`dd\s+if=.*of=/dev/`, "Direct disk write"},
		{`>\s*/dev/sd[a-z]`, "Write to disk device"},
		{`chmod\s+777\s+/`, "Dangerous permissions on root"},
	}
	for _, d := range dangerous {
		e.AddRule(newRule("dangerous_"+slug(d.desc), Dangerous, 9, d.pattern, d.desc, 5*time.Second))
	}

	errorPatterns := []struct{ pattern, desc string }{
		{`permission denied`, "Permission denied errors"},
		{`no such file or directory`, "File not found errors"},
		{`command not found`, "Command not found errors"},
		{`connection refused`, "Network connection errors"},
		{`out of space`, "Disk space errors"},
		{`cannot allocate memory`, "Memory allocation errors"},
		{`segmentation fault`, "Segmentation fault errors"},
		{`killed`, "Process killed"},
	}
	for _, p := range errorPatterns {
		e.AddRule(newRule("error_pattern_"+slug(p.desc), Pattern, 8, p.pattern, p.desc, 2*time.Second))
	}

	gitPatterns := []struct{ pattern, desc string }{
		{`merge conflict`, "Git merge conflicts"},
		{`fatal: not a git repository`, "Not in git repository"},
		{`nothing to commit`, "Git status - clean"},
		{`untracked files`, "Git untracked files"},
		{`changes not staged`, "Git unstaged changes"},
	}
	for _, p := range gitPatterns {
		e.AddRule(newRule("git_"+slug(p.desc), Pattern, 6, p.pattern, p.desc, 10*time.Second))
	}

	packagePatterns := []struct{ pattern, desc string }{
		{`package not found`, "Package not found"},
		{`dependency.*not satisfied`, "Dependency issues"},
		{`npm ERR!`, "NPM errors"},
		{`pip.*error`, "Pip errors"},
		{`E: Unable to locate package`, "APT package not found"},
	}
	for _, p := range packagePatterns {
		e.AddRule(newRule("package_"+slug(p.desc), Pattern, 7, p.pattern, p.desc, 5*time.Second))
	}

	devPatterns := []struct{ pattern, desc string }{
		{`compilation terminated`, "Compilation errors"},
		{`build failed`, "Build failures"},
		{`test.*failed`, "Test failures"},
		{`syntax error`, "Syntax errors"},
		{`import.*error`, "Import errors"},
		{`module not found`, "Module not found"},
	}
	for _, p := range devPatterns {
		e.AddRule(newRule("dev_"+slug(p.desc), Pattern, 7, p.pattern, p.desc, 3*time.Second))
	}

	return e
}

func slug(desc string) string {
	return strings.ReplaceAll(strings.ToLower(desc), " ", "_")
}

// AddRule registers a rule, re-sorting by priority descending.
func (e *Engine) AddRule(r Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = append(e.rules, &trackedRule{rule: r})
	sort.SliceStable(e.rules, func(i, j int) bool { return e.rules[i].rule.Priority > e.rules[j].rule.Priority })
}

// RemoveRule removes a rule by name, reporting whether it existed.
func (e *Engine) RemoveRule(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, tr := range e.rules {
		if tr.rule.Name == name {
			e.rules = append(e.rules[:i], e.rules[i+1:]...)
			return true
		}
	}
	return false
}

// SetEnabled enables or disables a rule by name, reporting whether it
// existed.
func (e *Engine) SetEnabled(name string, enabled bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, tr := range e.rules {
		if tr.rule.Name == name {
			tr.rule.Enabled = enabled
			return true
		}
	}
	return false
}

// SetCooldown patches the cooldown of an existing rule by name,
// reporting whether it existed. Used to apply user config overrides
// without rebuilding the default rule set.
func (e *Engine) SetCooldown(name string, cooldown time.Duration) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, tr := range e.rules {
		if tr.rule.Name == name {
			tr.rule.Cooldown = cooldown
			return true
		}
	}
	return false
}

func (e *Engine) canFire(tr *trackedRule, now time.Time) bool {
	if !tr.rule.Enabled {
		return false
	}
	if tr.rule.Cooldown <= 0 {
		return true
	}
	return now.Sub(tr.lastFired) >= tr.rule.Cooldown
}

// Evaluate checks a completed CommandRecord against every rule and
// returns those that fired, highest priority first. Firing rules are
// stamped into the cooldown tracker and appended to the bounded
// history ring.
func (e *Engine) Evaluate(rec command.Record, now time.Time) []Firing {
	e.mu.Lock()
	defer e.mu.Unlock()

	var fired []Firing

	if rec.ExitCode != 0 {
		for _, tr := range e.rules {
			if tr.rule.TriggerType == Error && e.canFire(tr, now) {
				tr.lastFired = now
				f := Firing{Rule: tr.rule, FiredAt: now, Command: &rec}
				fired = append(fired, f)
				e.record(f)
			}
		}
	}

	if rec.Type == classifier.Dangerous {
		for _, tr := range e.rules {
			if tr.rule.TriggerType == Dangerous && e.canFire(tr, now) && tr.rule.matches(rec.Command) {
				tr.lastFired = now
				f := Firing{Rule: tr.rule, FiredAt: now, Command: &rec}
				fired = append(fired, f)
				e.record(f)
			}
		}
	}

	text := rec.Command + "\n" + rec.Stdout + "\n" + rec.Stderr
	for _, tr := range e.rules {
		if tr.rule.TriggerType == Pattern && e.canFire(tr, now) && tr.rule.matches(text) {
			tr.lastFired = now
			f := Firing{Rule: tr.rule, FiredAt: now, Command: &rec}
			fired = append(fired, f)
			e.record(f)
		}
	}

	sort.SliceStable(fired, func(i, j int) bool { return fired[i].Rule.Priority > fired[j].Rule.Priority })
	return fired
}

// EvaluateManual builds a synthetic, always-firing manual trigger for a
// user-issued analysis request (e.g. the assistant keybinding).
func (e *Engine) EvaluateManual(requestText string, now time.Time) Firing {
	preview := requestText
	if len(preview) > 50 {
		preview = preview[:50]
	}
	r := Rule{
		Name:        "manual_request",
		TriggerType: Manual,
		Priority:    10,
		Description: fmt.Sprintf("Manual request: %s...", preview),
		Enabled:     true,
	}
	f := Firing{Rule: r, FiredAt: now}

	e.mu.Lock()
	e.record(f)
	e.mu.Unlock()
	return f
}

// record appends to the firing history. Callers must hold e.mu.
func (e *Engine) record(f Firing) {
	e.history = append(e.history, f)
	if len(e.history) > e.maxHist {
		e.history = e.history[len(e.history)-e.maxHist:]
	}
}

// History returns a copy of the bounded firing history, oldest first.
func (e *Engine) History() []Firing {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Firing, len(e.history))
	copy(out, e.history)
	return out
}

// Statistics summarizes the firing history.
type Statistics struct {
	Total            int
	ByType           map[Type]int
	MostCommonName   string
}

// Stats computes Statistics over the current history.
func (e *Engine) Stats() Statistics {
	e.mu.Lock()
	defer e.mu.Unlock()

	stats := Statistics{ByType: make(map[Type]int)}
	counts := make(map[string]int)
	for _, f := range e.history {
		stats.Total++
		stats.ByType[f.Rule.TriggerType]++
		counts[f.Rule.Name]++
	}
	best := 0
	for name, n := range counts {
		if n > best {
			best = n
			stats.MostCommonName = name
		}
	}
	return stats
}

// ClearHistory empties the firing history.
func (e *Engine) ClearHistory() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.history = nil
}
