package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "arbor.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "database:\n  path: /tmp/test.db\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want /tmp/test.db", cfg.Database.Path)
	}
	if cfg.Assistant.MaxIterations != 10 {
		t.Errorf("Assistant.MaxIterations = %d, want 10", cfg.Assistant.MaxIterations)
	}
	if cfg.Assistant.MaxTokens != 4096 {
		t.Errorf("Assistant.MaxTokens = %d, want 4096", cfg.Assistant.MaxTokens)
	}
	if cfg.LLM.DefaultProvider != "anthropic" {
		t.Errorf("LLM.DefaultProvider = %q, want anthropic", cfg.LLM.DefaultProvider)
	}
	if cfg.Assistant.ToolStrategy != "granular" {
		t.Errorf("Assistant.ToolStrategy = %q, want granular", cfg.Assistant.ToolStrategy)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want info", cfg.Logging.Level)
	}
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("ARBOR_TEST_API_KEY", "sk-test-123")

	path := writeConfig(t, `
llm:
  default_provider: anthropic
  providers:
    anthropic:
      api_key: ${ARBOR_TEST_API_KEY}
      default_model: claude-sonnet-4-20250514
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	provider, ok := cfg.LLM.Providers["anthropic"]
	if !ok {
		t.Fatal("anthropic provider missing")
	}
	if provider.APIKey != "sk-test-123" {
		t.Errorf("APIKey = %q, want expanded env value", provider.APIKey)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Assistant.MaxIterations != 10 {
		t.Errorf("MaxIterations = %d, want 10", cfg.Assistant.MaxIterations)
	}
	if cfg.Database.Path != "arbor.db" {
		t.Errorf("Database.Path = %q, want arbor.db", cfg.Database.Path)
	}
}
