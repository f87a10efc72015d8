// Package shellinfo detects the user's shell and produces the
// environment context used by PromptBuilder, plus the OSC 133
// integration scripts that give CommandTracker precise prompt
// boundaries instead of relying on its regex heuristic.
package shellinfo

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// Info describes the detected shell and how to drive it.
type Info struct {
	Name string // bash, zsh, fish, sh, powershell
	Path string // full path to the shell executable
	Arg  string // flag used to run an inline command (-c, -Command)
}

// Detect resolves the shell to spawn: an explicit override (e.g. from
// TERMINAL_SHELL), then $SHELL, then the parent process, then an
// OS-specific fallback.
func Detect(override string) Info {
	shellPath := override
	if shellPath == "" {
		shellPath = os.Getenv("SHELL")
	}
	if shellPath == "" {
		shellPath = detectParentShell()
	}
	if shellPath == "" {
		if runtime.GOOS == "windows" {
			shellPath = "powershell"
		} else {
			shellPath = "/bin/sh"
		}
	}

	name := strings.TrimSuffix(filepath.Base(shellPath), ".exe")
	info := Info{Name: name, Path: shellPath, Arg: "-c"}

	switch {
	case strings.Contains(name, "zsh"):
		info.Name = "zsh"
	case strings.Contains(name, "bash"):
		info.Name = "bash"
	case strings.Contains(name, "fish"):
		info.Name = "fish"
	case strings.Contains(name, "pwsh"), strings.Contains(name, "powershell"):
		info.Name = "powershell"
		info.Arg = "-Command"
	default:
		if info.Name == "" {
			info.Name = "sh"
		}
	}
	return info
}

func detectParentShell() string {
	if runtime.GOOS == "windows" {
		return ""
	}
	out, err := exec.Command("ps", "-p", fmt.Sprintf("%d", os.Getppid()), "-o", "comm=").Output()
	if err != nil {
		return ""
	}
	name := strings.TrimSpace(string(out))
	if name == "" {
		return ""
	}
	if full, err := exec.LookPath(name); err == nil {
		return full
	}
	return name
}

// EnvironmentContext renders the system facts used by PromptBuilder's
// templates: shell, OS, user, working directory, local time.
func EnvironmentContext(info Info) string {
	user := os.Getenv("USER")
	if user == "" {
		user = os.Getenv("USERNAME")
	}
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "unknown"
	}
	return fmt.Sprintf("Shell: %s\nOS: %s\nUser: %s\nDirectory: %s\nTime: %s",
		info.Name, runtime.GOOS, user, cwd, time.Now().Format(time.RFC1123))
}

// IntegrationScript returns the OSC 133 precmd/preexec hook script for
// the given shell name, or "" if none is available — the caller should
// fall back to CommandTracker's regex prompt detector in that case.
func IntegrationScript(shellName string) string {
	return integrationScripts[shellName]
}

var integrationScripts = map[string]string{
	"zsh": `# termpilot shell integration for zsh — emits OSC 133 prompt/command markers
__termpilot_precmd() {
    local ret=$?
    printf "\033]133;D;%d\007" "$ret"
    printf "\033]133;A\007"
}
__termpilot_preexec() {
    printf "\033]133;C\007"
}
autoload -Uz add-zsh-hook
add-zsh-hook precmd __termpilot_precmd
add-zsh-hook preexec __termpilot_preexec
`,
	"bash": `# termpilot shell integration for bash — emits OSC 133 prompt/command markers
__termpilot_precmd() {
    local ret=$?
    printf "\033]133;D;%d\007" "$ret"
    printf "\033]133;A\007"
}
PROMPT_COMMAND="__termpilot_precmd${PROMPT_COMMAND:+;$PROMPT_COMMAND}"
if [[ -n "$PS0" ]]; then
    PS0="\[\033]133;C\007\]$PS0"
else
    PS0="\[\033]133;C\007\]"
fi
`,
	"fish": `# termpilot shell integration for fish — emits OSC 133 prompt/command markers
function __termpilot_precmd --on-event fish_prompt
    printf "\033]133;D;%d\007" $status
    printf "\033]133;A\007"
end
function __termpilot_preexec --on-event fish_preexec
    printf "\033]133;C\007"
end
`,
}
