package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadParsesYAMLAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
server:
  port: "9090"
redis:
  addr: localhost:6379
quiz:
  commitTimeout: 2s
rateLimit:
  maxRequests: 10
  window: 30s
ai:
  model: gpt-4o-mini
log:
  mode: prod
  redact: true
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("LOG_MODE", "")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("DATABASE_URL", "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != "9090" || cfg.Redis.Addr != "localhost:6379" {
		t.Fatalf("unexpected server/redis config: %+v", cfg)
	}
	if cfg.RateLimit.MaxRequests != 10 || TTLDuration(cfg.RateLimit.Window, time.Minute) != 30*time.Second {
		t.Fatalf("unexpected rate limit config: %+v", cfg.RateLimit)
	}
	if TTLDuration(cfg.Quiz.CommitTimeout, 5*time.Second) != 2*time.Second {
		t.Fatalf("unexpected commit timeout %q", cfg.Quiz.CommitTimeout)
	}
	if cfg.AI.APIKey != "sk-test" || cfg.AI.Model != "gpt-4o-mini" {
		t.Fatalf("unexpected ai config: %+v", cfg.AI)
	}
	if cfg.Log.Mode != "prod" || !cfg.Log.Redact {
		t.Fatalf("unexpected log config: %+v", cfg.Log)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("LOG_MODE", "dev")
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Log.Mode != "dev" || cfg.Server.Port != "" {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestLoadRejectsInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("server: [unterminated"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestTTLDuration(t *testing.T) {
	if got := TTLDuration("", time.Minute); got != time.Minute {
		t.Fatalf("empty: got %v", got)
	}
	if got := TTLDuration("garbage", time.Minute); got != time.Minute {
		t.Fatalf("invalid: got %v", got)
	}
	if got := TTLDuration("90s", time.Minute); got != 90*time.Second {
		t.Fatalf("valid: got %v", got)
	}
}
