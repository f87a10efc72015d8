package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_EnvOverridesDefaults(t *testing.T) {
	t.Setenv("OLLAMA_HOST", "http://example.internal:11434")
	t.Setenv("AI_TEMPERATURE", "0.9")
	t.Setenv("AI_CACHE_ENABLED", "false")
	t.Setenv("TERMINAL_COLS", "120")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.OllamaHost != "http://example.internal:11434" {
		t.Errorf("OllamaHost = %q", cfg.OllamaHost)
	}
	if cfg.Temperature != 0.9 {
		t.Errorf("Temperature = %v", cfg.Temperature)
	}
	if cfg.CacheEnabled {
		t.Errorf("CacheEnabled should be false")
	}
	if cfg.TerminalCols != 120 {
		t.Errorf("TerminalCols = %d", cfg.TerminalCols)
	}
}

func TestLoad_ProcessEnvWinsOverDotEnv(t *testing.T) {
	dir := t.TempDir()
	wd, _ := os.Getwd()
	defer os.Chdir(wd)
	os.Chdir(dir)

	os.WriteFile(".env", []byte("OLLAMA_MODEL=from-dotenv\nOLLAMA_HOST=from-dotenv-host\n"), 0o644)
	t.Setenv("OLLAMA_MODEL", "from-process-env")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.OllamaModel != "from-process-env" {
		t.Errorf("expected process env to win, got %q", cfg.OllamaModel)
	}
	if cfg.OllamaHost != "from-dotenv-host" {
		t.Errorf("expected .env value for unset-in-process var, got %q", cfg.OllamaHost)
	}
}

func TestLoad_YAMLOverrides(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/config.yaml"
	os.WriteFile(path, []byte("temperature: 0.1\ncache_ttl_seconds: 42\n"), 0o644)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Temperature != 0.1 {
		t.Errorf("Temperature = %v", cfg.Temperature)
	}
	if cfg.CacheTTL != 42*time.Second {
		t.Errorf("CacheTTL = %v", cfg.CacheTTL)
	}
}

func TestDefault_SaneValues(t *testing.T) {
	cfg := Default()
	if cfg.MaxContextLength != 20 {
		t.Errorf("MaxContextLength default = %d", cfg.MaxContextLength)
	}
	if cfg.TerminalBufferSize != 1000 {
		t.Errorf("TerminalBufferSize default = %d", cfg.TerminalBufferSize)
	}
}
