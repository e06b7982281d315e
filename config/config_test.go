package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalConfig = `{
  "llm": {
    "providers": {"google": {"type": "gemini", "api_key": "k"}},
    "routing": {"fallback": "gemini-2.5-flash"}
  },
  "sources": {"web_search": {"provider": "tavily", "tavily_api_key": "tk"}}
}`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.Address != ":10001" {
		t.Fatalf("expected default address, got %q", cfg.Server.Address)
	}
	if cfg.Research.MaxClarifications != 3 {
		t.Fatalf("expected 3 clarifications, got %d", cfg.Research.MaxClarifications)
	}
	if cfg.Research.PlanDisplayDelay != 500*time.Millisecond {
		t.Fatalf("unexpected plan display delay %v", cfg.Research.PlanDisplayDelay)
	}
	if cfg.LLM.Routing.Planning != "gemini-2.5-flash" || cfg.LLM.Routing.Synthesis != "gemini-2.5-flash" {
		t.Fatalf("fallback routing not applied: %+v", cfg.LLM.Routing)
	}
	if cfg.Sources.WebSearch.TavilyTool != "tavily-search" {
		t.Fatalf("unexpected tavily tool %q", cfg.Sources.WebSearch.TavilyTool)
	}
	if cfg.Storage.Postgres.Enabled() || cfg.Storage.Redis.Enabled() {
		t.Fatalf("storage should be disabled by default")
	}
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("DEEPRESEARCH_SESSION_ANSWER_TIMEOUT", "2m")
	t.Setenv("DEEPRESEARCH_SERVER_ADDRESS", ":9999")
	cfg, err := LoadConfig(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.Address != ":9999" {
		t.Fatalf("env override ignored: %q", cfg.Server.Address)
	}
	if cfg.Session.AnswerTimeout != 2*time.Minute {
		t.Fatalf("expected 2m answer timeout, got %v", cfg.Session.AnswerTimeout)
	}
}

func TestLoadConfigFillsKeysFromEnvironment(t *testing.T) {
	t.Setenv("GOOGLE_API_KEY", "from-env")
	t.Setenv("TAVILY_API_KEY", "tavily-env")
	body := `{
  "llm": {"providers": {"google": {"type": "gemini"}}, "routing": {"fallback": "m"}},
  "sources": {"web_search": {"provider": "tavily"}}
}`
	cfg, err := LoadConfig(writeConfig(t, body))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if got := cfg.LLM.Providers["google"].APIKey; got != "from-env" {
		t.Fatalf("expected key from env, got %q", got)
	}
	if cfg.Sources.WebSearch.TavilyAPIKey != "tavily-env" {
		t.Fatalf("expected tavily key from env")
	}
}

func TestLoadConfigRejectsUnknownProvider(t *testing.T) {
	body := strings.Replace(minimalConfig, `"gemini"`, `"cohere"`, 1)
	if _, err := LoadConfig(writeConfig(t, body)); err == nil {
		t.Fatalf("expected unsupported provider error")
	}
}

func TestPostgresDSN(t *testing.T) {
	p := PostgresConfig{Host: "db", User: "u", Password: "p", DBName: "research"}
	if got := p.DSN(); got != "postgres://u:p@db:5432/research?sslmode=disable" {
		t.Fatalf("unexpected dsn %q", got)
	}
	if err := (PostgresConfig{Host: "db"}).Validate(); err == nil {
		t.Fatalf("expected dbname validation error")
	}
}
