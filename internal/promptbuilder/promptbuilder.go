// Package promptbuilder assembles the text prompts sent to the model
// gateway and parses the structured SUGGESTION:/WARNING: lines back
// out of the model's response.
package promptbuilder

import (
	"fmt"
	"math"
	"strings"

	"github.com/halvorsen/termpilot/internal/command"
)

const systemPrompt = `You are a helpful terminal AI assistant. Your role is to:

- Analyze terminal commands and their output
- Provide practical solutions to problems
- Suggest useful commands and workflows
- Warn about potential risks or issues
- Help users learn and improve their terminal skills

Guidelines:
- Be concise and actionable
- Use specific commands and examples
- Format suggestions as "SUGGESTION: [command/action] - [explanation]"
- Format warnings as "WARNING: [concern or caution]"
- Focus on commonly-used, safe approaches
- Explain technical concepts in simple terms
- Prioritize user safety and data protection

Always aim to be helpful, accurate, and educational.`

// SystemPrompt returns the fixed system prompt prefacing every request.
func SystemPrompt() string { return systemPrompt }

func historyBlock(heading string, recent []command.Record, limit int) string {
	if len(recent) == 0 {
		return ""
	}
	if len(recent) > limit {
		recent = recent[len(recent)-limit:]
	}
	var b strings.Builder
	b.WriteString("\n" + heading + ":\n")
	for _, r := range recent {
		status := "✓"
		if r.ExitCode != 0 {
			status = "✗"
		}
		fmt.Fprintf(&b, "%s %s\n", status, r.Command)
	}
	return b.String()
}

func gitLine(sc command.SessionContext) string {
	if sc.VCSBranch == "" {
		return ""
	}
	state := "clean"
	if sc.VCSDirty {
		state = "has changes"
	}
	return fmt.Sprintf("- Git: %s branch (%s)\n", sc.VCSBranch, state)
}

// ErrorAnalysis builds the prompt for a failed command, including its
// error output and up to 3 recent commands for situational context.
func ErrorAnalysis(rec command.Record, recent []command.Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are an expert terminal AI assistant. A user executed a command that failed with an error.\n\nCOMMAND: %s\nERROR OUTPUT:\n%s\n", rec.Command, rec.Stderr)
	b.WriteString(historyBlock("RECENT COMMAND HISTORY", recent, 3))
	b.WriteString(`
Please provide a helpful analysis with:

1. **Root Cause**: What exactly went wrong and why?

2. **Solutions**: Specific commands or steps to fix this issue
   - Format each solution as: SUGGESTION: [specific command or action]
   - Prioritize the most likely solutions first

3. **Prevention**: How to avoid this error in the future
   - Format as: WARNING: [preventive advice]

4. **Context**: Any additional information that might be relevant

Keep your response concise, practical, and focused on actionable solutions. Use clear, simple language.
`)
	return b.String()
}

// CommandSuggestion builds the prompt for a user-stated intent ("how do I...").
func CommandSuggestion(intent string, sc command.SessionContext, recent []command.Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are an expert terminal AI assistant. A user wants to accomplish something in their terminal.\n\nUSER INTENT: %s\n\nCURRENT CONTEXT:\n- Directory: %s\n- Shell: %s\n", intent, sc.WorkingDirectory, sc.Shell)
	b.WriteString(gitLine(sc))
	b.WriteString(historyBlock("RECENT COMMANDS", recent, 5))
	b.WriteString(`
Please suggest appropriate terminal commands to accomplish this goal:

1. **Primary Solutions**: Most direct ways to achieve the intent
   - Format as: SUGGESTION: [command] - [brief explanation]

2. **Alternative Approaches**: Other ways to accomplish the same goal
   - Format as: SUGGESTION: [command] - [brief explanation]

3. **Prerequisites**: Any setup or dependencies needed
   - Format as: WARNING: [requirement or consideration]

4. **Safety Notes**: Important warnings or considerations
   - Format as: WARNING: [safety advice]

Focus on commonly-used, safe commands. Provide specific examples rather than generic advice.
`)
	return b.String()
}

// OutputAnalysis builds the prompt for a successful command whose output
// may still hold useful insight (e.g. build warnings, test summaries).
func OutputAnalysis(rec command.Record, sc command.SessionContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are an expert terminal AI assistant. A user executed a command successfully and you should provide insights about the results.\n\nCOMMAND: %s\nOUTPUT:\n%s\n\nCONTEXT:\n- Directory: %s\n- Shell: %s\n", rec.Command, rec.Stdout, sc.WorkingDirectory, sc.Shell)
	b.WriteString(gitLine(sc))
	b.WriteString(`
Please provide helpful insights about this command and its output:

1. **Summary**: Brief explanation of what the command accomplished

2. **Key Insights**: Important information from the output
   - Highlight any notable results, patterns, or findings

3. **Next Steps**: Useful follow-up commands or actions
   - Format as: SUGGESTION: [command] - [why it's useful]

4. **Observations**: Any potential issues or things to note
   - Format as: WARNING: [observation or concern]

Keep your response concise and focus on actionable insights. Don't repeat obvious information.
`)
	return b.String()
}

// DangerousWarning builds the prompt issued before a dangerous command
// is allowed to run.
func DangerousWarning(cmd string, sc command.SessionContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a terminal safety AI assistant. A user is about to execute a potentially dangerous command.\n\nDANGEROUS COMMAND: %s\n\nCONTEXT:\n- Directory: %s\n- Shell: %s\n", cmd, sc.WorkingDirectory, sc.Shell)
	b.WriteString(`
Please provide a safety analysis:

1. **Risk Assessment**: What could go wrong with this command?
   - Format as: WARNING: [specific risk]

2. **Impact**: What would happen if something goes wrong?
   - Be specific about potential consequences

3. **Safer Alternatives**: Less risky ways to accomplish the same goal
   - Format as: SUGGESTION: [safer command] - [explanation]

4. **Safety Measures**: If the user must run this command, how to do it safely
   - Format as: SUGGESTION: [safety precaution]

Be clear and direct about the risks, but also provide constructive alternatives.
`)
	return b.String()
}

// GeneralHelp builds the prompt for a free-form user question.
func GeneralHelp(query string, sc command.SessionContext, recent []command.Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a helpful terminal AI assistant. A user has a question or needs help.\n\nUSER QUERY: %s\n\nCONTEXT:\n- Directory: %s\n- Shell: %s\n", query, sc.WorkingDirectory, sc.Shell)
	b.WriteString(gitLine(sc))
	b.WriteString(historyBlock("RECENT ACTIVITY", recent, 3))
	b.WriteString(`
Please provide helpful assistance:

1. **Direct Answer**: Address the user's question clearly

2. **Practical Examples**: Show specific commands or examples when relevant
   - Format as: SUGGESTION: [command] - [explanation]

3. **Additional Tips**: Related advice or best practices
   - Format as: SUGGESTION: [tip or command]

4. **Cautions**: Any warnings or things to be careful about
   - Format as: WARNING: [caution]

Be conversational, helpful, and practical. Focus on what the user can actually do.
`)
	return b.String()
}

// SessionSummary builds the prompt for a session-wide recap.
func SessionSummary(sc command.SessionContext, recent, errors []command.Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a terminal AI assistant. Please provide a brief summary of the current terminal session.\n\nCURRENT STATE:\n- Directory: %s\n- Shell: %s\n", sc.WorkingDirectory, sc.Shell)
	b.WriteString(gitLine(sc))
	b.WriteString(historyBlock("RECENT COMMANDS", recent, 5))
	if len(errors) > 0 {
		lim := errors
		if len(lim) > 3 {
			lim = lim[:3]
		}
		b.WriteString("\nRECENT ERRORS:\n")
		for _, r := range lim {
			fmt.Fprintf(&b, "✗ %s (exit %d)\n", r.Command, r.ExitCode)
		}
	}
	b.WriteString(`
Please provide:

1. **Session Summary**: What has the user been working on?

2. **Current Status**: What's the current state of their work?

3. **Potential Issues**: Any problems or concerns to address
   - Format as: WARNING: [issue or concern]

4. **Suggested Actions**: What might be useful to do next
   - Format as: SUGGESTION: [action or command]

Keep it concise and focus on the most relevant information.
`)
	return b.String()
}

// Parsed is the structured result of scanning a model response for
// SUGGESTION:/WARNING:/ERROR: prefixed lines (plain or emoji form).
type Parsed struct {
	Summary     string
	Suggestions []string
	Warnings    []string
	Errors      []string
	Confidence  float64
}

var linePrefixes = []struct {
	prefixes []string
	bucket   func(*Parsed) *[]string
}{
	{[]string{"SUGGESTION:", "\U0001F4A1"}, func(p *Parsed) *[]string { return &p.Suggestions }},
	{[]string{"WARNING:", "⚠️"}, func(p *Parsed) *[]string { return &p.Warnings }},
	{[]string{"ERROR:", "❌"}, func(p *Parsed) *[]string { return &p.Errors }},
}

// Parse scans a raw model response line by line, bucketing
// SUGGESTION:/WARNING:/ERROR: lines (or their emoji equivalents
// \U0001F4A1/⚠/❌) and treating everything else as summary
// prose. Confidence is derived from how structured the response is: a
// response with at least one bucketed line scores higher than bare prose.
func Parse(response string) Parsed {
	var p Parsed
	var summaryLines []string

	for _, rawLine := range strings.Split(response, "\n") {
		line := strings.TrimSpace(rawLine)
		if line == "" {
			continue
		}
		matched := false
		for _, lp := range linePrefixes {
			for _, prefix := range lp.prefixes {
				if strings.HasPrefix(line, prefix) {
					content := strings.TrimSpace(strings.TrimPrefix(line, prefix))
					bucket := lp.bucket(&p)
					*bucket = append(*bucket, content)
					matched = true
					break
				}
			}
			if matched {
				break
			}
		}
		if !matched {
			summaryLines = append(summaryLines, line)
		}
	}

	p.Summary = strings.Join(summaryLines, "\n")
	p.Confidence = confidence(p)
	return p
}

// confidence starts at 0.8 and is nudged by how many lines landed in
// each bucket: errors pull it down (floored at 0.6), warnings pull it
// down less (floored at 0.7), suggestions push it up (capped at 0.95).
// Applied in that order, matching the source parser.
func confidence(p Parsed) float64 {
	c := 0.8
	if n := len(p.Errors); n > 0 {
		c = math.Max(0.6, c-0.1*float64(n))
	}
	if n := len(p.Warnings); n > 0 {
		c = math.Max(0.7, c-0.05*float64(n))
	}
	if n := len(p.Suggestions); n > 0 {
		c = math.Min(0.95, c+0.05*float64(n))
	}
	return c
}
