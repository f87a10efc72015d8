// Package command holds the CommandRecord value type, the session-wide
// SessionContext, and the CommandTracker state machine that turns
// terminal lines into completed CommandRecords.
package command

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/halvorsen/termpilot/internal/classifier"
)

// recordNamespace roots the v5 UUIDs minted for CommandRecord.ID, so
// identical (command, timestamp) pairs across processes still collide
// the way a v5 UUID is supposed to.
var recordNamespace = uuid.MustParse("b7e4a4f0-2f0b-4b8a-9c1a-6d1b6b0b6b0b")

// Record is one completed command execution. It is immutable after
// construction; NewRecord computes every derived field (type, score) so
// no caller can observe a partially-built record.
type Record struct {
	ID string // derived identity: uuid v5 of (command + start timestamp)

	Command    string
	Directory  string
	StartedAt  time.Time
	Duration   time.Duration
	ExitCode   int
	Stdout     string
	Stderr     string
	Type       classifier.CommandType
	Relevance  float64
}

// NewRecord builds a Record, computing its identity, classification,
// and relevance score. duration must be >= 0.
func NewRecord(cmd, dir string, startedAt time.Time, duration time.Duration, exitCode int, stdout, stderr string) Record {
	if duration < 0 {
		duration = 0
	}
	typ := classifier.Classify(cmd)
	age := time.Since(startedAt).Minutes()
	if age < 0 {
		age = 0
	}
	score := classifier.Score(classifier.ScoreInput{
		Type:       typ,
		ExitCode:   exitCode,
		AgeMinutes: age,
		OutputLen:  len(stdout) + len(stderr),
	})

	return Record{
		ID:        identityHash(cmd, startedAt),
		Command:   cmd,
		Directory: dir,
		StartedAt: startedAt,
		Duration:  duration,
		ExitCode:  exitCode,
		Stdout:    stdout,
		Stderr:    stderr,
		Type:      typ,
		Relevance: score,
	}
}

func identityHash(cmd string, startedAt time.Time) string {
	return uuid.NewSHA1(recordNamespace, []byte(fmt.Sprintf("%s\x00%d", cmd, startedAt.UnixNano()))).String()
}

// TokenCost approximates the cost of including this record in a
// token-budgeted prompt: (|command| + |output| + |error|) / 4.
func (r Record) TokenCost() int {
	return (len(r.Command) + len(r.Stdout) + len(r.Stderr)) / 4
}

// SessionContext is mutable, process-wide-for-the-session state updated
// by CommandTracker whenever a `cd` or VCS status command succeeds.
type SessionContext struct {
	WorkingDirectory string
	Shell            string
	VCSBranch        string
	VCSDirty         bool
	EnvFacts         map[string]string
}

// Patch applies a field-wise update; zero-value fields in the patch are
// ignored (they mean "no change"), except EnvFacts entries which are
// merged key by key.
func (sc *SessionContext) Patch(patch SessionContext) {
	if patch.WorkingDirectory != "" {
		sc.WorkingDirectory = patch.WorkingDirectory
	}
	if patch.Shell != "" {
		sc.Shell = patch.Shell
	}
	if patch.VCSBranch != "" {
		sc.VCSBranch = patch.VCSBranch
	}
	sc.VCSDirty = patch.VCSDirty
	if len(patch.EnvFacts) > 0 {
		if sc.EnvFacts == nil {
			sc.EnvFacts = make(map[string]string)
		}
		for k, v := range patch.EnvFacts {
			sc.EnvFacts[k] = v
		}
	}
}
