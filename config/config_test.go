package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// clearEnv blanks every variable the Config reads so host settings cannot
// leak into assertions. Empty values decode as unset, so defaults apply.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"CCAGENT_LOG_LEVEL", "CCAGENT_LOG_FORMAT",
		"CCAGENT_REPLAY_LIMIT", "CCAGENT_METRICS", "CCAGENT_DRAIN_TIMEOUT",
		"CCAGENT_BACKEND", "CCAGENT_MODEL", "CCAGENT_SYSTEM_PROMPT",
		"CCAGENT_MAX_TOKENS", "CCAGENT_MAX_TOOL_ROUNDS", "CCAGENT_CREDENTIALS_FILE",
		"CCAGENT_SESSION_STORE", "REDIS_ADDR", "SESSIONS_KEY_PREFIX", "SESSIONS_SNAPSHOT_TTL",
		"CCAGENT_MIRROR", "MIRROR_KEY_PREFIX", "MIRROR_MAX_STREAM_LEN",
		"CCAGENT_HTTP_ADDR", "CCAGENT_PUBLIC_ENDPOINT", "CCAGENT_BROKER",
		"BROKER_KEY_PREFIX", "CCAGENT_CONNECTION_TTL", "CCAGENT_AUTH_REALM",
		"CCAGENT_SERVER_NAME", "CCAGENT_METRICS_ADDR",
		"CCAGENT_OIDC_ISSUER", "CCAGENT_OIDC_AUDIENCE", "CCAGENT_REQUIRED_SCOPES",
		"CCAGENT_JWKS_URL",
	} {
		t.Setenv(name, "")
	}
}

func TestFromEnvDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}

	if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Errorf("log defaults = %+v", cfg.Log)
	}
	if cfg.Backend.Provider != "anthropic" || cfg.Backend.MaxTokens != 4096 || cfg.Backend.MaxToolRounds != 8 {
		t.Errorf("backend defaults = %+v", cfg.Backend)
	}
	if cfg.Sessions.Store != "memory" || cfg.Sessions.SnapshotTTL != 720*time.Hour {
		t.Errorf("session defaults = %+v", cfg.Sessions)
	}
	if cfg.Mirror.Sink != "none" {
		t.Errorf("mirror default = %+v", cfg.Mirror)
	}
	if cfg.HTTP.ListenAddr != ":8410" || cfg.HTTP.Broker != "memory" || cfg.HTTP.ConnectionTTL != 30*time.Minute {
		t.Errorf("http defaults = %+v", cfg.HTTP)
	}
	if !cfg.Agent.Metrics || cfg.Agent.ReplayLimit != 20 {
		t.Errorf("agent defaults = %+v", cfg.Agent)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestFromEnvReadsValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("CCAGENT_LOG_LEVEL", "debug")
	t.Setenv("CCAGENT_LOG_FORMAT", "json")
	t.Setenv("CCAGENT_BACKEND", "openai")
	t.Setenv("CCAGENT_MODEL", "gpt-4o-mini")
	t.Setenv("CCAGENT_SESSION_STORE", "redis")
	t.Setenv("REDIS_ADDR", "redis.internal:6380")
	t.Setenv("CCAGENT_CONNECTION_TTL", "5m")
	t.Setenv("CCAGENT_REQUIRED_SCOPES", "agent:read;agent:write")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}

	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("log = %+v", cfg.Log)
	}
	if cfg.Backend.Provider != "openai" || cfg.Backend.Model != "gpt-4o-mini" {
		t.Errorf("backend = %+v", cfg.Backend)
	}
	if cfg.Sessions.Store != "redis" || cfg.Sessions.RedisAddr != "redis.internal:6380" {
		t.Errorf("sessions = %+v", cfg.Sessions)
	}
	if cfg.HTTP.ConnectionTTL != 5*time.Minute {
		t.Errorf("connection ttl = %v", cfg.HTTP.ConnectionTTL)
	}
	want := []string{"agent:read", "agent:write"}
	if len(cfg.Auth.RequiredScopes) != len(want) {
		t.Fatalf("scopes = %v, want %v", cfg.Auth.RequiredScopes, want)
	}
	for i, s := range want {
		if cfg.Auth.RequiredScopes[i] != s {
			t.Errorf("scope[%d] = %q, want %q", i, cfg.Auth.RequiredScopes[i], s)
		}
	}
}

func TestLoadFileOverlaysEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("CCAGENT_LOG_LEVEL", "warn")
	t.Setenv("CCAGENT_MODEL", "from-env")

	path := filepath.Join(t.TempDir(), "ccagent.yaml")
	doc := strings.Join([]string{
		"log:",
		"  level: error",
		"backend:",
		"  provider: openai",
		"http:",
		"  listenAddr: \":9000\"",
	}, "\n")
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if cfg.Log.Level != "error" {
		t.Errorf("file should win over env, level = %q", cfg.Log.Level)
	}
	if cfg.Backend.Provider != "openai" {
		t.Errorf("provider = %q", cfg.Backend.Provider)
	}
	if cfg.Backend.Model != "from-env" {
		t.Errorf("env value absent from the file should survive, model = %q", cfg.Backend.Model)
	}
	if cfg.HTTP.ListenAddr != ":9000" {
		t.Errorf("listen addr = %q", cfg.HTTP.ListenAddr)
	}
	if cfg.HTTP.Broker != "memory" {
		t.Errorf("untouched default changed, broker = %q", cfg.HTTP.Broker)
	}
}

func TestLoadFileMissing(t *testing.T) {
	clearEnv(t)
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestLoadFileRejectsBadYAML(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("log: [unclosed"), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected a parse error")
	}
}

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"info", slog.LevelInfo, false},
		{"warn", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"INFO", slog.LevelInfo, false},
		{"verbose", 0, true},
	}
	for _, tc := range cases {
		got, err := Log{Level: tc.in}.ParseLevel()
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseLevel(%q) should fail", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseLevel(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestValidateRejections(t *testing.T) {
	base := func() *Config {
		clearEnv(t)
		cfg, err := FromEnv()
		if err != nil {
			t.Fatalf("FromEnv: %v", err)
		}
		return cfg
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad level", func(c *Config) { c.Log.Level = "loud" }},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }},
		{"bad provider", func(c *Config) { c.Backend.Provider = "bard" }},
		{"bad store", func(c *Config) { c.Sessions.Store = "postgres" }},
		{"bad mirror", func(c *Config) { c.Mirror.Sink = "kafka" }},
		{"bad broker", func(c *Config) { c.HTTP.Broker = "nats" }},
		{"issuer without audience", func(c *Config) { c.Auth.Issuer = "https://issuer.example" }},
		{"jwks without issuer", func(c *Config) { c.Auth.JWKSURL = "https://issuer.example/jwks" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected a validation error")
			}
		})
	}
}
