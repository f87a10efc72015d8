// Package classifier maps a command string to a CommandType and scores
// its relevance for inclusion in the context window, using the fixed
// prefix/substring rule set from the system spec.
package classifier

import "strings"

// CommandType is a closed enumeration of command categories.
type CommandType string

const (
	Navigation        CommandType = "navigation"
	FileOp            CommandType = "file_op"
	TextProcessing    CommandType = "text_processing"
	SystemInfo        CommandType = "system_info"
	Network           CommandType = "network"
	VersionControl    CommandType = "version_control"
	PackageManagement CommandType = "package_management"
	Development       CommandType = "development"
	Dangerous         CommandType = "dangerous"
	Other             CommandType = "other"
)

// typeWeight is the relevance floor per CommandType used by Score.
var typeWeight = map[CommandType]float64{
	Dangerous:         0.95,
	VersionControl:    0.8,
	Development:       0.8,
	PackageManagement: 0.7,
	FileOp:            0.6,
	Network:           0.6,
	TextProcessing:    0.5,
	SystemInfo:        0.4,
	Other:             0.4,
	Navigation:        0.3,
}

var dangerousSubstrings = []string{
	"rm -rf", "sudo rm", "mkfs", "dd if=", "> /dev/",
}

var packagePrefixes = []string{
	"npm ", "yarn ", "pnpm ", "pip ", "pip3 ", "apt ", "apt-get ", "brew ",
	"cargo ", "go get", "go install", "gem ", "composer ", "conda ",
}

var developmentPrefixes = []string{
	"make", "cmake", "go build", "go run", "go test", "go vet", "cargo build",
	"cargo run", "cargo test", "python", "python3", "node ", "ruby ", "javac",
	"java ", "gcc ", "g++ ", "docker ", "docker-compose", "kubectl ",
}

var networkPrefixes = []string{
	"curl ", "wget ", "ssh ", "scp ", "rsync ", "ping ", "nc ", "netcat ",
	"telnet ", "nslookup", "dig ", "traceroute",
}

var fileOpPrefixes = []string{
	"ls ", "cp ", "mv ", "mkdir", "rmdir", "rm ", "touch ", "chmod ",
	"chown ", "find ", "ln ", "tar ", "zip ", "unzip ",
}

var textProcessingPrefixes = []string{
	"cat ", "less ", "more ", "head ", "tail ", "grep ", "sed ", "awk ",
	"sort ", "uniq ", "wc ", "cut ", "tr ",
}

var systemInfoPrefixes = []string{
	"ps ", "top", "htop", "df ", "du ", "free", "uname", "whoami", "uptime",
	"env", "printenv", "set",
}

var navigationPrefixes = []string{"cd", "pwd", "pushd", "popd"}

// Classify determines the CommandType of a command string using the
// longest-matching, priority-ordered rule set: dangerous, then version
// control, package management, development, network, file operations,
// text processing, system info, navigation, and finally "other".
func Classify(command string) CommandType {
	trimmed := strings.ToLower(strings.TrimSpace(command))
	if trimmed == "" {
		return Other
	}

	for _, substr := range dangerousSubstrings {
		if strings.Contains(trimmed, substr) {
			return Dangerous
		}
	}

	if strings.HasPrefix(trimmed, "git ") || trimmed == "git" {
		return VersionControl
	}

	if hasAnyPrefix(trimmed, packagePrefixes) {
		return PackageManagement
	}
	if hasAnyPrefix(trimmed, developmentPrefixes) {
		return Development
	}
	if hasAnyPrefix(trimmed, networkPrefixes) {
		return Network
	}
	if hasAnyPrefix(trimmed, fileOpPrefixes) {
		return FileOp
	}
	if hasAnyPrefix(trimmed, textProcessingPrefixes) {
		return TextProcessing
	}
	if hasAnyPrefix(trimmed, systemInfoPrefixes) {
		return SystemInfo
	}
	if hasAnyPrefix(trimmed, navigationPrefixes) {
		return Navigation
	}

	return Other
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		trimmedPrefix := strings.TrimRight(p, " ")
		if s == trimmedPrefix || strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// ScoreInput carries the fields Score needs without depending on the
// command package (which would create an import cycle, since command
// records are classified before they're fully assembled).
type ScoreInput struct {
	Type       CommandType
	ExitCode   int
	AgeMinutes float64
	OutputLen  int
}

// Score computes the construction-time relevance score in [0, 0.99]
// per the formula in the system spec. It never decays: relevance is a
// property of the moment the record was built, not a live value.
func Score(in ScoreInput) float64 {
	base := 0.5
	if in.ExitCode != 0 {
		base = 0.9
	}
	if w := typeWeight[in.Type]; w > base {
		base = w
	}
	if in.AgeMinutes < 5 {
		base += 0.1 * (5 - in.AgeMinutes) / 5
	}
	switch {
	case in.OutputLen > 1000:
		base += 0.05
	case in.OutputLen > 100:
		base += 0.02
	}
	if base > 0.99 {
		base = 0.99
	}
	return base
}
