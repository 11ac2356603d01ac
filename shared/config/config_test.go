package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseCSV(t *testing.T) {
	got := parseCSV("a, b, ,c,,")
	if len(got) != 3 {
		t.Fatalf("expected 3 items, got %d", len(got))
	}
	if got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("unexpected values: %#v", got)
	}
}

func TestParseAnyCSV(t *testing.T) {
	raw := []any{"x", " ", "y"}
	got := parseAnyCSV(raw)
	if len(got) != 2 {
		t.Fatalf("expected 2 items, got %d", len(got))
	}
	if got[0] != "x" || got[1] != "y" {
		t.Fatalf("unexpected values: %#v", got)
	}
}

func hasProblem(problems []Problem, field string) bool {
	for _, p := range problems {
		if p.Field == field {
			return true
		}
	}
	return false
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENV", "unit")
	t.Setenv("DOTENV_PATH", filepath.Join(t.TempDir(), "absent.env"))
	cfg, problems := Load("notifier", 8080)
	if len(problems) != 0 {
		t.Fatalf("unexpected problems: %#v", problems)
	}
	if cfg.MaxIssuesPerLink != 40 || cfg.AuthorizationConcurrency != 8 {
		t.Fatalf("unexpected notification defaults: %+v", cfg)
	}
	if !cfg.EmailEnabled || cfg.ProductName != "SonarQube" || cfg.PermissionBackend != PermissionBackendDB {
		t.Fatalf("unexpected email defaults: %+v", cfg)
	}
	if cfg.TopicDeadLetter != "notifications.dead-letter" {
		t.Fatalf("unexpected dead letter topic %q", cfg.TopicDeadLetter)
	}
	if cfg.RequestTimeout.Milliseconds() != 30000 {
		t.Fatalf("request timeout not derived: %v", cfg.RequestTimeout)
	}
}

func TestLoadMissingEnvIsAProblem(t *testing.T) {
	t.Setenv("ENV", "")
	t.Setenv("DOTENV_PATH", filepath.Join(t.TempDir(), "absent.env"))
	cfg, problems := Load("notifier", 8080)
	if !hasProblem(problems, "ENV") {
		t.Fatalf("expected ENV problem, got %#v", problems)
	}
	if cfg.Env != "dev" {
		t.Fatalf("expected dev fallback, got %q", cfg.Env)
	}
}

func TestLoadFileThenEnvOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.json")
	body := `{"ENV":"file","MAX_ISSUES_PER_LINK":25,"EMAIL_ENABLED":false,"KAFKA_BROKERS":["a:9092","b:9092"],"PERMISSION_RPS":"12.5"}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("ENV", "")
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("DOTENV_PATH", filepath.Join(dir, "absent.env"))
	t.Setenv("MAX_ISSUES_PER_LINK", "10")

	cfg, problems := Load("notifier", 8080)
	if len(problems) != 0 {
		t.Fatalf("unexpected problems: %#v", problems)
	}
	if cfg.Env != "file" {
		t.Fatalf("expected env from file, got %q", cfg.Env)
	}
	if cfg.MaxIssuesPerLink != 10 {
		t.Fatalf("environment should win over file, got %d", cfg.MaxIssuesPerLink)
	}
	if cfg.EmailEnabled {
		t.Fatalf("expected email disabled from file")
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.PermissionRPS != 12.5 {
		t.Fatalf("unexpected file values: %+v", cfg)
	}
}

func TestLoadInvalidValuesResetToDefaults(t *testing.T) {
	t.Setenv("ENV", "unit")
	t.Setenv("DOTENV_PATH", filepath.Join(t.TempDir(), "absent.env"))
	t.Setenv("AUTHORIZATION_CONCURRENCY", "0")
	t.Setenv("PERMISSION_BACKEND", "ldap")
	t.Setenv("EMAIL_ENABLED", "maybe")

	cfg, problems := Load("notifier", 8080)
	for _, field := range []string{"AUTHORIZATION_CONCURRENCY", "PERMISSION_BACKEND", "EMAIL_ENABLED"} {
		if !hasProblem(problems, field) {
			t.Fatalf("expected %s problem, got %#v", field, problems)
		}
	}
	if cfg.AuthorizationConcurrency != 8 || cfg.PermissionBackend != PermissionBackendDB || !cfg.EmailEnabled {
		t.Fatalf("invalid values were not reset: %+v", cfg)
	}
}

func TestLoadDotEnvDoesNotOverrideEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("PRODUCT_NAME=FromDotEnv\nSERVER_BASE_URL=https://dotenv.example\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("ENV", "unit")
	t.Setenv("DOTENV_PATH", path)
	t.Setenv("PRODUCT_NAME", "FromEnv")
	t.Setenv("SERVER_BASE_URL", "")
	os.Unsetenv("SERVER_BASE_URL")

	cfg, _ := Load("notifier", 8080)
	if cfg.ProductName != "FromEnv" {
		t.Fatalf("expected environment to win, got %q", cfg.ProductName)
	}
	if cfg.ServerBaseURL != "https://dotenv.example" {
		t.Fatalf("expected value from .env, got %q", cfg.ServerBaseURL)
	}
}

func TestPortFallback(t *testing.T) {
	t.Setenv("ENV", "unit")
	t.Setenv("DOTENV_PATH", filepath.Join(t.TempDir(), "absent.env"))
	t.Setenv("HTTP_PORT", "")
	t.Setenv("PORT", "9099")
	cfg, _ := Load("notifier", 8080)
	if cfg.HTTPPort != 9099 {
		t.Fatalf("expected PORT fallback, got %d", cfg.HTTPPort)
	}
}
