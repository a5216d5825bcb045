package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadReadsYAMLAndEnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, `
server:
  port: "9090"
postgres:
  url: postgres://file
content:
  model: file-model
  timeout: 5s
retry:
  max_attempts: 5
  backoff: 20ms
progression:
  deactivate_policy: incorrect-only
`)
	t.Setenv("DATABASE_URL", "postgres://env")
	t.Setenv("OPENROUTER_API_KEY", "env-key")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != "9090" || cfg.Content.Model != "file-model" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Postgres.URL != "postgres://env" || cfg.Content.APIKey != "env-key" {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
	if cfg.Retry.MaxAttempts != 5 || TTLDuration(cfg.Retry.Backoff, time.Second) != 20*time.Millisecond {
		t.Fatalf("unexpected retry config %+v", cfg.Retry)
	}
	if cfg.Progression.DeactivatePolicy != "incorrect-only" || cfg.Progression.Threshold != 50 {
		t.Fatalf("unexpected progression config %+v", cfg.Progression)
	}
}

func TestLoadUsesDotEnvWithoutOverridingProcessEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	writeFile(t, filepath.Join(dir, ".env"), "REDIS_ADDR=dotenv:6379\nOPENROUTER_API_KEY=dotenv-key\n")
	t.Setenv("OPENROUTER_API_KEY", "process-key")
	// REDIS_ADDR must be unset so .env can provide it; t.Setenv restores it afterwards.
	t.Setenv("REDIS_ADDR", "")
	os.Unsetenv("REDIS_ADDR")

	cfg, err := Load(filepath.Join(dir, "missing.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Redis.Addr != "dotenv:6379" {
		t.Fatalf("expected redis addr from .env, got %q", cfg.Redis.Addr)
	}
	if cfg.Content.APIKey != "process-key" {
		t.Fatalf("process env must win over .env, got %q", cfg.Content.APIKey)
	}
	if cfg.Server.Port != "8080" || cfg.Retry.MaxAttempts != 3 || cfg.Telemetry.ServiceName != "mat-gwiazda" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestTTLDuration(t *testing.T) {
	if got := TTLDuration("", time.Minute); got != time.Minute {
		t.Fatalf("expected fallback, got %v", got)
	}
	if got := TTLDuration("bogus", time.Minute); got != time.Minute {
		t.Fatalf("expected fallback for invalid value, got %v", got)
	}
	if got := TTLDuration("90s", time.Minute); got != 90*time.Second {
		t.Fatalf("expected 90s, got %v", got)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
