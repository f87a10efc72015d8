// Package sanitizer implements the two-stage redaction pipeline applied
// to command text and output before either reaches the model gateway or
// any persisted history: a universal pattern pass, then a per-command
// pass keyed on the base command.
package sanitizer

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// ErrBadPattern is returned by AddPattern when the supplied regex fails
// to compile.
var ErrBadPattern = errors.New("sanitizer: invalid pattern")

const outputTruncateLimit = 2000

type patternRule struct {
	re          *regexp.Regexp
	replacement string
}

// Sanitizer holds the compiled universal redaction patterns and applies
// both stages of filtering. The zero value is not usable; use New.
// Safe for concurrent use: a mutex guards the pattern table, since
// config-reload overrides (AddPattern) land on a different goroutine
// than FilterText/FilterOutput.
type Sanitizer struct {
	mu       sync.Mutex
	patterns []patternRule
}

// New builds a Sanitizer preloaded with the default universal
// redaction patterns: API keys, cloud credentials, database DSNs,
// emails, IPs, home directories, PEM blocks, and common PII, plus noise
// collapsing for long repeated runs and oversized single lines.
func New() *Sanitizer {
	return &Sanitizer{patterns: append([]patternRule{}, defaultPatterns...)}
}

var defaultPatterns = compileDefaults([]struct{ pattern, replacement string }{
	{`sk-[A-Za-z0-9]{48}`, "[OPENAI_KEY]"},
	{`ghp_[A-Za-z0-9]{36}`, "[GITHUB_TOKEN]"},
	{`gho_[A-Za-z0-9]{36}`, "[GITHUB_OAUTH]"},
	{`ghu_[A-Za-z0-9]{36}`, "[GITHUB_USER_TOKEN]"},
	{`ghs_[A-Za-z0-9]{36}`, "[GITHUB_SERVER_TOKEN]"},
	{`AKIA[0-9A-Z]{16}`, "[AWS_ACCESS_KEY]"},
	{`postgresql://[^:]+:[^@]+@[^/]+/\S+`, "postgresql://[USER]:[PASS]@[HOST]/[DB]"},
	{`mysql://[^:]+:[^@]+@[^/]+/\S+`, "mysql://[USER]:[PASS]@[HOST]/[DB]"},
	{`mongodb://[^:]+:[^@]+@[^/]+/\S+`, "mongodb://[USER]:[PASS]@[HOST]/[DB]"},
	{`([a-zA-Z0-9._%+-]+)@([a-zA-Z0-9.-]+\.[a-zA-Z]{2,})`, "[EMAIL]@$2"},
	{`(\d{1,3}\.\d{1,3}\.\d{1,3}\.)\d{1,3}`, "$1[IP]"},
	{`/home/[^/\s]+`, "/home/[USER]"},
	{`/Users/[^/\s]+`, "/Users/[USER]"},
	{`(?s)-----BEGIN [A-Z ]+-----.*?-----END [A-Z ]+-----`, "[SSH_KEY]"},
	{`\b\d{4}[\s-]?\d{4}[\s-]?\d{4}[\s-]?\d{4}\b`, "[CREDIT_CARD]"},
	{`\b\d{3}-\d{2}-\d{4}\b`, "[SSN]"},
	// AWS secret keys and bare API-key-shaped tokens are intentionally
	// broad (any 20+ char alnum run, any 40-char base64-ish run) and so
	// are applied last, after the narrower patterns above have already
	// claimed their matches.
	{`[A-Za-z0-9/+=]{40}`, "[AWS_SECRET_KEY]"},
	{`[A-Za-z0-9]{20,}`, "[API_KEY]"},
})

func compileDefaults(specs []struct{ pattern, replacement string }) []patternRule {
	rules := make([]patternRule, 0, len(specs))
	for _, s := range specs {
		rules = append(rules, patternRule{re: regexp.MustCompile(`(?i)` + s.pattern), replacement: s.replacement})
	}
	return rules
}

var repeatRun = regexp.MustCompile(`(.)\1{50,}`)
var oversizedLine = regexp.MustCompile(`(?m)^.{500,}$`)

// FilterText applies only the universal (stage 1) patterns, with no
// knowledge of which command produced the text. Used for command
// strings themselves, which have no command-specific stage.
func (s *Sanitizer) FilterText(text string) string {
	if text == "" {
		return text
	}

	s.mu.Lock()
	patterns := append([]patternRule{}, s.patterns...)
	s.mu.Unlock()

	out := text
	for _, p := range patterns {
		out = p.re.ReplaceAllString(out, p.replacement)
	}
	out = repeatRun.ReplaceAllStringFunc(out, func(m string) string {
		return strings.Repeat(string(m[0]), 10) + "[...]"
	})
	out = oversizedLine.ReplaceAllStringFunc(out, func(m string) string {
		if len(m) <= 500 {
			return m
		}
		return m[:500] + "[TRUNCATED]"
	})
	return out
}

// FilterOutput applies stage 1 then the command-scoped stage 2 pass for
// the given base command, and finally the 2000-byte truncation cap.
func (s *Sanitizer) FilterOutput(command, output string) string {
	if output == "" {
		return output
	}
	filtered := s.FilterText(output)

	fields := strings.Fields(command)
	if len(fields) == 0 {
		return truncateOutput(filtered)
	}
	base := fields[0]

	switch base {
	case "env", "printenv", "set":
		filtered = filterEnvOutput(filtered)
	case "cat", "less", "more", "head", "tail":
		if len(fields) > 1 && isSensitiveFile(fields[1]) {
			filtered = "[SENSITIVE_FILE_CONTENT]"
		}
	case "ps", "top":
		filtered = filterProcessOutput(filtered)
	case "history":
		filtered = filterHistoryOutput(filtered)
	}

	return truncateOutput(filtered)
}

func truncateOutput(s string) string {
	if len(s) > outputTruncateLimit {
		return s[:outputTruncateLimit] + "\n[OUTPUT_TRUNCATED]"
	}
	return s
}

var envSensitiveMarkers = []string{"PASSWORD", "SECRET", "KEY", "TOKEN", "API", "AUTH", "CREDENTIAL", "PRIVATE", "PASS"}

func filterEnvOutput(output string) string {
	lines := strings.Split(output, "\n")
	for i, line := range lines {
		name, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		upper := strings.ToUpper(name)
		sensitive := false
		for _, marker := range envSensitiveMarkers {
			if strings.Contains(upper, marker) {
				sensitive = true
				break
			}
		}
		if sensitive {
			lines[i] = name + "=[FILTERED]"
		} else {
			lines[i] = name + "=" + value
		}
	}
	return strings.Join(lines, "\n")
}

var processSensitiveMarkers = []string{"password=", "secret=", "key=", "token=", "auth="}

func filterProcessOutput(output string) string {
	lines := strings.Split(output, "\n")
	for i, line := range lines {
		lower := strings.ToLower(line)
		for _, marker := range processSensitiveMarkers {
			if !strings.Contains(lower, marker) {
				continue
			}
			fields := strings.Fields(line)
			if len(fields) == 0 {
				break
			}
			// Keep only the fields before the one carrying the secret,
			// so a short line where the secret itself is the first
			// field (e.g. "token=secret") is fully redacted rather than
			// echoed back as "kept" context.
			cut := len(fields)
			for j, field := range fields {
				if strings.Contains(strings.ToLower(field), marker) {
					cut = j
					break
				}
			}
			if cut > 2 {
				cut = 2
			}
			if cut == 0 {
				lines[i] = "[FILTERED_ARGS]"
			} else {
				lines[i] = strings.Join(fields[:cut], " ") + " [FILTERED_ARGS]"
			}
			break
		}
	}
	return strings.Join(lines, "\n")
}

var historyLineNumber = regexp.MustCompile(`^\s*\d+\s+`)
var historySensitiveMarkers = []string{"password", "secret", "key", "token", "auth", "login"}

func filterHistoryOutput(output string) string {
	lines := strings.Split(output, "\n")
	for i, line := range lines {
		lower := strings.ToLower(line)
		sensitive := false
		for _, marker := range historySensitiveMarkers {
			if strings.Contains(lower, marker) {
				sensitive = true
				break
			}
		}
		if sensitive {
			lines[i] = "[SENSITIVE_COMMAND]"
		} else {
			lines[i] = historyLineNumber.ReplaceAllString(line, "")
		}
	}
	return strings.Join(lines, "\n")
}

var sensitiveExtensions = []string{
	".key", ".pem", ".p12", ".pfx", ".crt", ".cer",
	".env", ".config", ".conf",
	".sql", ".db", ".sqlite",
	".log",
}

var sensitiveDirectories = []string{
	".ssh", ".gnupg", ".aws", ".config", "secrets", "private", "confidential", ".env", "credentials",
}

var sensitiveNameMarkers = []string{
	"password", "secret", "key", "token", "credential", "private", "confidential", "auth", "login",
}

func isSensitiveFile(filename string) bool {
	lower := strings.ToLower(filename)
	for _, ext := range sensitiveExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	for _, dir := range sensitiveDirectories {
		if strings.Contains(lower, dir) {
			return true
		}
	}
	for _, marker := range sensitiveNameMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// AddPattern registers a custom redaction pattern evaluated after the
// built-in set.
func (s *Sanitizer) AddPattern(pattern, replacement string) error {
	re, err := regexp.Compile(`(?i)` + pattern)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadPattern, err)
	}

	s.mu.Lock()
	s.patterns = append(s.patterns, patternRule{re: re, replacement: replacement})
	s.mu.Unlock()
	return nil
}

// RemovePattern removes a previously added (or default) pattern by its
// exact source text, reporting whether anything was removed.
func (s *Sanitizer) RemovePattern(pattern string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	target := `(?i)` + pattern
	for i, p := range s.patterns {
		if p.re.String() == target {
			s.patterns = append(s.patterns[:i], s.patterns[i+1:]...)
			return true
		}
	}
	return false
}

// Statistics reports the sizes of the sanitizer's rule tables, mirroring
// the diagnostics the system exposes for its filter engine.
type Statistics struct {
	PatternCount          int
	SensitiveExtensions   int
	SensitiveDirectories  int
}

// Stats returns the current rule-table sizes.
func (s *Sanitizer) Stats() Statistics {
	s.mu.Lock()
	n := len(s.patterns)
	s.mu.Unlock()

	return Statistics{
		PatternCount:         n,
		SensitiveExtensions:  len(sensitiveExtensions),
		SensitiveDirectories: len(sensitiveDirectories),
	}
}
