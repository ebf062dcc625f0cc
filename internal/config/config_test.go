package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	if cfg.Server.Port != 8000 {
		t.Fatalf("unexpected default port %d", cfg.Server.Port)
	}
	if cfg.Store.Backend != "postgres" {
		t.Fatalf("unexpected default backend %q", cfg.Store.Backend)
	}
	if cfg.Chain.Enabled || cfg.Relay.Enabled || cfg.Archive.Enabled {
		t.Fatal("optional components should default to disabled")
	}
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := writeConfig(t, `
log_level = "debug"

[server]
port = 9090
api_key = "secret"

[store]
backend = "memory"

[relay]
enabled = true
url = "wss://relay.example/ws"
request_timeout = "2s"
queue_size = 64
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9090 || cfg.Server.APIKey != "secret" {
		t.Fatalf("file values not applied: %+v", cfg.Server)
	}
	if cfg.Store.Backend != "memory" {
		t.Fatalf("expected memory backend, got %q", cfg.Store.Backend)
	}
	if !cfg.Relay.Enabled || cfg.Relay.RequestTimeout.Duration != 2*time.Second {
		t.Fatalf("relay config not applied: %+v", cfg.Relay)
	}
	// Untouched sections keep their defaults.
	if cfg.Oracle.BaseURL != "https://api.manifold.markets/v0" {
		t.Fatalf("default oracle URL lost: %q", cfg.Oracle.BaseURL)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("loaded config should validate: %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
[server]
port = 9090
`)
	t.Setenv("BETCHANNEL_SERVER_PORT", "7070")
	t.Setenv("BETCHANNEL_STORE_BACKEND", "memory")
	t.Setenv("BETCHANNEL_CHAIN_ENABLED", "true")
	t.Setenv("BETCHANNEL_CHAIN_ORACLE_KEY", "deadbeef")
	t.Setenv("BETCHANNEL_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Fatalf("env override lost, port = %d", cfg.Server.Port)
	}
	if cfg.Store.Backend != "memory" {
		t.Fatalf("env override lost, backend = %q", cfg.Store.Backend)
	}
	if !cfg.Chain.Enabled || cfg.Chain.OracleKey != "deadbeef" {
		t.Fatalf("chain env overrides lost: %+v", cfg.Chain)
	}
	if len(cfg.Server.CORSOrigins) != 2 || cfg.Server.CORSOrigins[1] != "https://b.example" {
		t.Fatalf("cors origins not split: %v", cfg.Server.CORSOrigins)
	}
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Server.Port = 0
	cfg.Store.Backend = "sqlite"
	cfg.Oracle.BaseURL = ""
	cfg.LogLevel = "verbose"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"port", "backend", "base_url", "log_level"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected error to mention %q, got: %v", want, err)
		}
	}
}

func TestValidateChainRequiresKey(t *testing.T) {
	cfg := Defaults()
	cfg.Chain.Enabled = true
	cfg.Chain.CustodyAddress = "0x0000000000000000000000000000000000000001"

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "oracle_key") {
		t.Fatalf("expected missing key error, got: %v", err)
	}

	cfg.Chain.OracleKey = "deadbeef"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid chain config, got: %v", err)
	}

	// Encrypted key file requires a password.
	cfg.Chain.OracleKey = ""
	cfg.Chain.EncryptedKeyPath = "/tmp/key.json"
	err = cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "key_password") {
		t.Fatalf("expected missing password error, got: %v", err)
	}
}

func TestValidateArchiveRequiresS3(t *testing.T) {
	cfg := Defaults()
	cfg.Archive.Enabled = true
	cfg.S3.Bucket = ""

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "bucket") {
		t.Fatalf("expected bucket error, got: %v", err)
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Server.APIKey = "secret"
	cfg.Postgres.Password = "hunter2"
	cfg.Chain.OracleKey = "deadbeef"
	cfg.Notify.TelegramToken = "tg-token"

	red := RedactedConfig(&cfg)
	if red.Server.APIKey != "***" || red.Postgres.Password != "***" ||
		red.Chain.OracleKey != "***" || red.Notify.TelegramToken != "***" {
		t.Fatalf("secrets not redacted: %+v", red)
	}
	// The original must be untouched.
	if cfg.Server.APIKey != "secret" || cfg.Postgres.Password != "hunter2" {
		t.Fatal("redaction mutated the original config")
	}
	// Empty secrets stay empty rather than becoming placeholders.
	if red.S3.SecretKey != "" {
		t.Fatalf("empty secret gained placeholder: %q", red.S3.SecretKey)
	}
}
