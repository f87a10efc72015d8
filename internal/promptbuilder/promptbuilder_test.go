package promptbuilder

import (
	"strings"
	"testing"
	"time"

	"github.com/halvorsen/termpilot/internal/command"
)

func TestErrorAnalysis_IncludesCommandAndErrorOutput(t *testing.T) {
	rec := command.NewRecord("ls /nonexistent", "/tmp", time.Now(), time.Millisecond, 2, "", "No such file or directory")
	prompt := ErrorAnalysis(rec, nil)

	if !strings.Contains(prompt, "ls /nonexistent") {
		t.Errorf("missing command in prompt")
	}
	if !strings.Contains(prompt, "No such file or directory") {
		t.Errorf("missing error output in prompt")
	}
	if !strings.Contains(prompt, "SUGGESTION:") {
		t.Errorf("missing suggestion format instructions")
	}
}

func TestErrorAnalysis_IncludesRecentHistoryCappedAtThree(t *testing.T) {
	var recent []command.Record
	for i := 0; i < 5; i++ {
		recent = append(recent, command.NewRecord("cmd", "/tmp", time.Now(), time.Millisecond, 0, "", ""))
	}
	prompt := ErrorAnalysis(command.NewRecord("x", "/tmp", time.Now(), time.Millisecond, 1, "", "err"), recent)
	if strings.Count(prompt, "✓ cmd") != 3 {
		t.Errorf("expected 3 history lines, got %d", strings.Count(prompt, "✓ cmd"))
	}
}

func TestCommandSuggestion_IncludesGitStateWhenPresent(t *testing.T) {
	sc := command.SessionContext{WorkingDirectory: "/repo", Shell: "bash", VCSBranch: "main", VCSDirty: true}
	prompt := CommandSuggestion("undo last commit", sc, nil)
	if !strings.Contains(prompt, "main branch (has changes)") {
		t.Errorf("missing git state, got: %s", prompt)
	}
}

func TestDangerousWarning_NamesTheCommand(t *testing.T) {
	sc := command.SessionContext{WorkingDirectory: "/", Shell: "bash"}
	prompt := DangerousWarning("rm -rf /", sc)
	if !strings.Contains(prompt, "rm -rf /") {
		t.Errorf("missing command in dangerous warning prompt")
	}
}

func TestParse_BucketsSuggestionsWarningsAndErrors(t *testing.T) {
	response := `The command failed because the path does not exist.
SUGGESTION: mkdir -p /nonexistent
WARNING: double-check the path before retrying
ERROR: path component may be a broken symlink`

	p := Parse(response)
	if len(p.Suggestions) != 1 || p.Suggestions[0] != "mkdir -p /nonexistent" {
		t.Errorf("Suggestions = %v", p.Suggestions)
	}
	if len(p.Warnings) != 1 {
		t.Errorf("Warnings = %v", p.Warnings)
	}
	if len(p.Errors) != 1 {
		t.Errorf("Errors = %v", p.Errors)
	}
	if !strings.Contains(p.Summary, "The command failed") {
		t.Errorf("Summary = %q", p.Summary)
	}
	if p.Confidence <= 0.6 {
		t.Errorf("Confidence = %v, want > 0.6 for structured response", p.Confidence)
	}
}

func TestParse_EmojiPrefixesRecognized(t *testing.T) {
	p := Parse("\U0001F4A1 try running with sudo")
	if len(p.Suggestions) != 1 {
		t.Errorf("expected emoji suggestion to be parsed, got %+v", p)
	}
}

func TestParse_UnstructuredResponseKeepsDefaultConfidence(t *testing.T) {
	p := Parse("This is just plain prose with no structured lines.")
	if p.Confidence != 0.8 {
		t.Errorf("Confidence = %v, want 0.8 (no buckets to adjust it)", p.Confidence)
	}
}

func TestParse_EmptyResponseKeepsDefaultConfidence(t *testing.T) {
	p := Parse("")
	if p.Confidence != 0.8 {
		t.Errorf("Confidence = %v, want 0.8", p.Confidence)
	}
}

func TestParse_ConfidenceFloorsAndCapApplyInOrder(t *testing.T) {
	// 3 errors drop 0.8 by 0.3 to 0.5, floored at 0.6; 1 warning would
	// drop that by 0.05 to 0.55, but the warning floor is 0.7, so it
	// snaps back up; 2 suggestions then add 0.1, landing at 0.8.
	response := strings.Join([]string{
		"ERROR: one", "ERROR: two", "ERROR: three",
		"WARNING: careful",
		"SUGGESTION: a", "SUGGESTION: b",
	}, "\n")
	p := Parse(response)
	if p.Confidence != 0.8 {
		t.Errorf("Confidence = %v, want 0.8", p.Confidence)
	}
}
