package command

import (
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// State is CommandTracker's lifecycle state.
type State int

const (
	Idle State = iota
	Running
)

// promptTail is the default, heuristic prompt-end detector described in
// the system spec. It cannot distinguish an interactive sub-prompt
// (an `ssh` password prompt, for instance) from the shell's own prompt;
// any matching tail is treated pessimistically as "command completed".
// Shells that want a precise detector instead should source the
// OSC 133 integration script from internal/shellinfo and drive Tracker
// through FeedOSC133 (see ScanOSC133) rather than FeedOutputLine.
var promptTail = regexp.MustCompile(`.*[$#>%]\s*$`)

var errorMarker = regexp.MustCompile(`(?i)(error|exception|traceback|fatal:|no such file|cannot|command not found|permission denied|failed)`)

// Tracker is the CommandTracker state machine: it watches submitted
// input lines and completed output lines and emits CommandRecords when
// a command finishes.
type Tracker struct {
	state State

	pendingCommand string
	startedAt      time.Time
	startDir       string
	outputLines    []string

	session SessionContext

	records chan Record
}

// New creates a Tracker seeded with the given initial working directory
// and shell name.
func New(initialDir, shellName string) *Tracker {
	return &Tracker{
		state:   Idle,
		session: SessionContext{WorkingDirectory: initialDir, Shell: shellName},
		records: make(chan Record, 32),
	}
}

// Records is the channel of CommandRecords emitted as commands complete.
func (t *Tracker) Records() <-chan Record { return t.records }

// Session returns the current SessionContext snapshot.
func (t *Tracker) Session() SessionContext { return t.session }

// FeedInputLine is called with each line the user submits to the shell
// (terminated by Enter). In Idle state, a non-blank line starts a new
// command.
func (t *Tracker) FeedInputLine(line string) {
	if t.state != Idle {
		return
	}
	if strings.TrimSpace(line) == "" {
		return
	}
	t.pendingCommand = line
	t.startedAt = time.Now()
	t.startDir = t.session.WorkingDirectory
	t.outputLines = nil
	t.state = Running
}

// FeedOutputLine is called with each completed terminal output line. In
// Running state it accumulates output and watches for the prompt to
// reappear, at which point it finalizes and emits a CommandRecord.
func (t *Tracker) FeedOutputLine(line string) {
	if t.state != Running {
		return
	}
	if promptTail.MatchString(line) {
		t.finish(0, false)
		return
	}
	t.outputLines = append(t.outputLines, line)
}

// osc133 matches the OSC 133 shell-integration markers emitted by the
// scripts in internal/shellinfo: A (prompt start), C (command start),
// D[;code] (command done, optionally carrying an exit code).
var osc133 = regexp.MustCompile(`\x1B\]133;([ACD])(?:;(-?\d+))?\x07`)

// OSC133Event is one parsed shell-integration marker.
type OSC133Event struct {
	Kind        byte
	ExitCode    int
	HasExitCode bool
}

// ScanOSC133 extracts every OSC 133 marker found in a raw PTY byte
// chunk, in order. Callers feed the results to FeedOSC133 instead of
// relying on FeedOutputLine's prompt-regex heuristic.
func ScanOSC133(chunk []byte) []OSC133Event {
	matches := osc133.FindAllSubmatch(chunk, -1)
	if len(matches) == 0 {
		return nil
	}
	events := make([]OSC133Event, 0, len(matches))
	for _, m := range matches {
		ev := OSC133Event{Kind: m[1][0]}
		if len(m[2]) > 0 {
			if code, err := strconv.Atoi(string(m[2])); err == nil {
				ev.ExitCode = code
				ev.HasExitCode = true
			}
		}
		events = append(events, ev)
	}
	return events
}

// FeedOSC133 drives the tracker from a precise shell-integration marker
// rather than the regex prompt heuristic. Only 'D' (command done)
// finalizes a record, using its carried exit code when present; 'A'
// and 'C' are observational only, since FeedInputLine already captures
// the pending command text when the user submits a line.
func (t *Tracker) FeedOSC133(ev OSC133Event) {
	if ev.Kind != 'D' || t.state != Running {
		return
	}
	exitCode := 0
	if ev.HasExitCode {
		exitCode = ev.ExitCode
	}
	t.finish(exitCode, true)
}

// FeedExit is called when the shell process itself exits mid-command
// (PtyHost's Closed event), yielding a record with the child's exit
// code instead of the heuristic.
func (t *Tracker) FeedExit(exitCode int) {
	if t.state != Running {
		return
	}
	t.finish(exitCode, true)
}

func (t *Tracker) finish(explicitExit int, haveExplicitExit bool) {
	output := strings.Join(t.outputLines, "\n")

	exitCode := explicitExit
	var stderr string
	if !haveExplicitExit {
		if errorMarker.MatchString(output) {
			exitCode = 1
			stderr = tailLines(t.outputLines, 5)
		}
	}

	rec := NewRecord(t.pendingCommand, t.startDir, t.startedAt, time.Since(t.startedAt), exitCode, output, stderr)

	t.applySideEffects(rec)

	select {
	case t.records <- rec:
	default:
		// Consumer fell behind; drop rather than block the pipeline
		// goroutine (the spec's "producers never block" rule).
	}

	t.state = Idle
	t.pendingCommand = ""
	t.outputLines = nil
}

func tailLines(lines []string, n int) string {
	if len(lines) <= n {
		return strings.Join(lines, "\n")
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}

var gitBranchLine = regexp.MustCompile(`^On branch (\S+)`)
var gitDirtyMarker = regexp.MustCompile(`(?i)(modified:|new file:|deleted:)`)

func (t *Tracker) applySideEffects(rec Record) {
	if rec.ExitCode != 0 {
		return
	}
	fields := strings.Fields(rec.Command)
	if len(fields) == 0 {
		return
	}

	switch {
	case fields[0] == "cd":
		path := "."
		if len(fields) > 1 {
			path = fields[1]
		}
		t.session.WorkingDirectory = resolveCdPath(t.session.WorkingDirectory, path)

	case rec.Command == "git status" || strings.HasPrefix(rec.Command, "git status "):
		for _, line := range strings.Split(rec.Stdout, "\n") {
			if m := gitBranchLine.FindStringSubmatch(line); m != nil {
				t.session.VCSBranch = m[1]
				break
			}
		}
		t.session.VCSDirty = gitDirtyMarker.MatchString(rec.Stdout)
	}
}

// resolveCdPath applies `cd`'s path semantics: absolute paths replace
// the directory outright, "~" expands to $HOME, and everything else
// (including "..") is resolved relative to cwd.
func resolveCdPath(cwd, target string) string {
	if target == "" || target == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			return home
		}
		return cwd
	}
	if strings.HasPrefix(target, "/") {
		return filepath.Clean(target)
	}
	return filepath.Clean(filepath.Join(cwd, target))
}
