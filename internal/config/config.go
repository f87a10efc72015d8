// Package config resolves runtime configuration from environment
// variables, an optional .env file, and an optional YAML overrides file,
// following the precedence and variable table in the system spec.
package config

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the resolved, process-wide configuration.
type Config struct {
	OllamaHost    string
	OllamaModel   string
	OllamaTimeout time.Duration

	LogLevel string

	MaxContextLength int
	ResponseMaxTokens int
	Temperature       float64
	CacheEnabled      bool
	CacheTTL          time.Duration

	TerminalShell      string
	TerminalCols       int
	TerminalRows       int
	TerminalBufferSize int

	// Overrides loaded from ~/.termpilot/config.yaml, applied on top of
	// the env-derived defaults above when present.
	Overrides Overrides
}

// Overrides is the shape of the optional YAML configuration file. Every
// field is a pointer so "unset" is distinguishable from "zero value".
type Overrides struct {
	OllamaHost  *string  `yaml:"ollama_host,omitempty"`
	OllamaModel *string  `yaml:"ollama_model,omitempty"`
	Temperature *float64 `yaml:"temperature,omitempty"`
	CacheTTL    *int     `yaml:"cache_ttl_seconds,omitempty"`

	// Trigger cooldown/enablement overrides keyed by rule name.
	Triggers map[string]TriggerOverride `yaml:"triggers,omitempty"`

	// Additional sanitizer redaction patterns, appended after the
	// built-in defaults.
	SanitizerPatterns []PatternOverride `yaml:"sanitizer_patterns,omitempty"`
}

// TriggerOverride patches a single named trigger rule.
type TriggerOverride struct {
	Enabled  *bool `yaml:"enabled,omitempty"`
	Cooldown *int  `yaml:"cooldown_seconds,omitempty"`
}

// PatternOverride is a user-supplied redaction rule.
type PatternOverride struct {
	Regex       string `yaml:"regex"`
	Replacement string `yaml:"replacement"`
}

// Default returns the zero-value-safe defaults used when no environment
// variable or config file entry applies.
func Default() Config {
	return Config{
		OllamaHost:         "http://localhost:11434",
		OllamaModel:        "llama3",
		OllamaTimeout:      30 * time.Second,
		LogLevel:           "info",
		MaxContextLength:   20,
		ResponseMaxTokens:  512,
		Temperature:        0.3,
		CacheEnabled:       true,
		CacheTTL:           300 * time.Second,
		TerminalShell:      "",
		TerminalCols:       80,
		TerminalRows:       24,
		TerminalBufferSize: 1000,
	}
}

// Load resolves configuration from, in increasing precedence: built-in
// defaults, a .env file in the working directory, the process
// environment, and finally (for fields it supports) the YAML overrides
// file at configPath.
func Load(configPath string) (Config, error) {
	cfg := Default()

	dotenv, _ := readDotEnv(".env")
	lookup := func(name string) (string, bool) {
		if v, ok := lookupEnvCI(name); ok {
			return v, true
		}
		if v, ok := dotenv[strings.ToUpper(name)]; ok {
			return v, true
		}
		return "", false
	}

	if v, ok := lookup("OLLAMA_HOST"); ok {
		cfg.OllamaHost = v
	}
	if v, ok := lookup("OLLAMA_MODEL"); ok {
		cfg.OllamaModel = v
	}
	if v, ok := lookup("OLLAMA_TIMEOUT"); ok {
		if secs, err := strconv.Atoi(v); err == nil {
			cfg.OllamaTimeout = time.Duration(secs) * time.Second
		}
	}
	if v, ok := lookup("APP_LOG_LEVEL"); ok {
		cfg.LogLevel = v
	}
	if v, ok := lookup("AI_MAX_CONTEXT_LENGTH"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxContextLength = n
		}
	}
	if v, ok := lookup("AI_RESPONSE_MAX_TOKENS"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ResponseMaxTokens = n
		}
	}
	if v, ok := lookup("AI_TEMPERATURE"); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Temperature = f
		}
	}
	if v, ok := lookup("AI_CACHE_ENABLED"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.CacheEnabled = b
		}
	}
	if v, ok := lookup("AI_CACHE_TTL"); ok {
		if secs, err := strconv.Atoi(v); err == nil {
			cfg.CacheTTL = time.Duration(secs) * time.Second
		}
	}
	if v, ok := lookup("TERMINAL_SHELL"); ok {
		cfg.TerminalShell = v
	}
	if v, ok := lookup("TERMINAL_COLS"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.TerminalCols = n
		}
	}
	if v, ok := lookup("TERMINAL_ROWS"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.TerminalRows = n
		}
	}
	if v, ok := lookup("TERMINAL_BUFFER_SIZE"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.TerminalBufferSize = n
		}
	}

	if configPath != "" {
		overrides, err := loadOverrides(configPath)
		if err == nil {
			cfg.Overrides = overrides
			if overrides.OllamaHost != nil {
				cfg.OllamaHost = *overrides.OllamaHost
			}
			if overrides.OllamaModel != nil {
				cfg.OllamaModel = *overrides.OllamaModel
			}
			if overrides.Temperature != nil {
				cfg.Temperature = *overrides.Temperature
			}
			if overrides.CacheTTL != nil {
				cfg.CacheTTL = time.Duration(*overrides.CacheTTL) * time.Second
			}
		}
	}

	return cfg, nil
}

// DefaultConfigPath returns ~/.termpilot/config.yaml, creating the
// containing directory if necessary. Failures to create the directory
// are non-fatal: callers should fall back to an in-memory default config.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	dir := filepath.Join(home, ".termpilot")
	_ = os.MkdirAll(dir, 0o755)
	return filepath.Join(dir, "config.yaml")
}

func loadOverrides(path string) (Overrides, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Overrides{}, err
	}
	var o Overrides
	if err := yaml.Unmarshal(data, &o); err != nil {
		return Overrides{}, err
	}
	return o, nil
}

// readDotEnv parses a simple KEY=VALUE .env file, one assignment per
// line; blank lines and lines starting with '#' are ignored. Quoted
// values have their surrounding quotes stripped.
func readDotEnv(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	out := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.Index(line, "=")
		if idx < 0 {
			continue
		}
		key := strings.ToUpper(strings.TrimSpace(line[:idx]))
		val := strings.TrimSpace(line[idx+1:])
		val = strings.Trim(val, `"'`)
		out[key] = val
	}
	return out, scanner.Err()
}

// lookupEnvCI looks up an environment variable case-insensitively,
// preferring an exact-case match when one exists.
func lookupEnvCI(name string) (string, bool) {
	if v, ok := os.LookupEnv(name); ok {
		return v, true
	}
	upper := strings.ToUpper(name)
	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			continue
		}
		if strings.ToUpper(parts[0]) == upper {
			return parts[1], true
		}
	}
	return "", false
}
