// Package config resolves runtime configuration for the ccagent binary.
// Environment variables are the primary source, decoded through struct tags;
// an optional YAML file overlays on top for deployments that prefer files.
// Values present in the file win over the environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration.
type Config struct {
	Log      Log      `yaml:"log"`
	Agent    Agent    `yaml:"agent"`
	Backend  Backend  `yaml:"backend"`
	Sessions Sessions `yaml:"sessions"`
	Mirror   Mirror   `yaml:"mirror"`
	HTTP     HTTP     `yaml:"http"`
	Auth     Auth     `yaml:"auth"`
}

// Log controls the process logger.
type Log struct {
	// Level is one of debug, info, warn, error. ENV: CCAGENT_LOG_LEVEL
	Level string `env:"CCAGENT_LOG_LEVEL,default=info" yaml:"level"`
	// Format is text or json. ENV: CCAGENT_LOG_FORMAT
	Format string `env:"CCAGENT_LOG_FORMAT,default=text" yaml:"format"`
}

// Agent tunes agent-level behavior independent of the transport.
type Agent struct {
	// ReplayLimit bounds how many history turns session/load replays.
	// ENV: CCAGENT_REPLAY_LIMIT
	ReplayLimit int `env:"CCAGENT_REPLAY_LIMIT,default=20" yaml:"replayLimit"`
	// Metrics enables the Prometheus registry. ENV: CCAGENT_METRICS
	Metrics bool `env:"CCAGENT_METRICS,default=true" yaml:"metrics"`
	// DrainTimeout bounds how long stdio serving waits for in-flight
	// handlers after stdin closes. ENV: CCAGENT_DRAIN_TIMEOUT
	DrainTimeout time.Duration `env:"CCAGENT_DRAIN_TIMEOUT,default=10s" yaml:"drainTimeout"`
}

// Backend selects and tunes the completion backend.
type Backend struct {
	// Provider is anthropic or openai. ENV: CCAGENT_BACKEND
	Provider string `env:"CCAGENT_BACKEND,default=anthropic" yaml:"provider"`
	// Model overrides the provider default model. ENV: CCAGENT_MODEL
	Model string `env:"CCAGENT_MODEL" yaml:"model"`
	// SystemPrompt is prepended to every turn. ENV: CCAGENT_SYSTEM_PROMPT
	SystemPrompt string `env:"CCAGENT_SYSTEM_PROMPT" yaml:"systemPrompt"`
	// MaxTokens caps one assistant turn (Anthropic only).
	// ENV: CCAGENT_MAX_TOKENS
	MaxTokens int64 `env:"CCAGENT_MAX_TOKENS,default=4096" yaml:"maxTokens"`
	// MaxToolRounds bounds the tool loop per prompt.
	// ENV: CCAGENT_MAX_TOOL_ROUNDS
	MaxToolRounds int `env:"CCAGENT_MAX_TOOL_ROUNDS,default=8" yaml:"maxToolRounds"`
	// CredentialsFile, when set, reads API credentials from a hot-reloaded
	// JSON file instead of the provider's environment variables.
	// ENV: CCAGENT_CREDENTIALS_FILE
	CredentialsFile string `env:"CCAGENT_CREDENTIALS_FILE" yaml:"credentialsFile"`
}

// Sessions selects the session store.
type Sessions struct {
	// Store is memory or redis. ENV: CCAGENT_SESSION_STORE
	Store string `env:"CCAGENT_SESSION_STORE,default=memory" yaml:"store"`
	// RedisAddr like "localhost:6379". ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR,default=localhost:6379" yaml:"redisAddr"`
	// KeyPrefix for all session keys. ENV: SESSIONS_KEY_PREFIX
	KeyPrefix string `env:"SESSIONS_KEY_PREFIX,default=acp:sessions:" yaml:"keyPrefix"`
	// SnapshotTTL bounds how long an idle snapshot is retained.
	// ENV: SESSIONS_SNAPSHOT_TTL
	SnapshotTTL time.Duration `env:"SESSIONS_SNAPSHOT_TTL,default=720h" yaml:"snapshotTTL"`
}

// Mirror selects the session/update mirror sink.
type Mirror struct {
	// Sink is none or redis. ENV: CCAGENT_MIRROR
	Sink string `env:"CCAGENT_MIRROR,default=none" yaml:"sink"`
	// RedisAddr like "localhost:6379". ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR,default=localhost:6379" yaml:"redisAddr"`
	// KeyPrefix for mirror stream keys. ENV: MIRROR_KEY_PREFIX
	KeyPrefix string `env:"MIRROR_KEY_PREFIX,default=acp:mirror:" yaml:"keyPrefix"`
	// MaxStreamLen bounds each session's stream. ENV: MIRROR_MAX_STREAM_LEN
	MaxStreamLen int64 `env:"MIRROR_MAX_STREAM_LEN,default=1024" yaml:"maxStreamLen"`
}

// HTTP configures serve-http.
type HTTP struct {
	// ListenAddr is the bind address. ENV: CCAGENT_HTTP_ADDR
	ListenAddr string `env:"CCAGENT_HTTP_ADDR,default=:8410" yaml:"listenAddr"`
	// PublicEndpoint is the externally visible URL of the RPC endpoint.
	// Derived from ListenAddr when empty. ENV: CCAGENT_PUBLIC_ENDPOINT
	PublicEndpoint string `env:"CCAGENT_PUBLIC_ENDPOINT" yaml:"publicEndpoint"`
	// Broker is memory or redis. ENV: CCAGENT_BROKER
	Broker string `env:"CCAGENT_BROKER,default=memory" yaml:"broker"`
	// RedisAddr like "localhost:6379". ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR,default=localhost:6379" yaml:"redisAddr"`
	// BrokerKeyPrefix namespaces broker stream keys. ENV: BROKER_KEY_PREFIX
	BrokerKeyPrefix string `env:"BROKER_KEY_PREFIX,default=ccagent:broker:" yaml:"brokerKeyPrefix"`
	// ConnectionTTL evicts idle bridge connections.
	// ENV: CCAGENT_CONNECTION_TTL
	ConnectionTTL time.Duration `env:"CCAGENT_CONNECTION_TTL,default=30m" yaml:"connectionTTL"`
	// Realm is advertised in WWW-Authenticate challenges.
	// ENV: CCAGENT_AUTH_REALM
	Realm string `env:"CCAGENT_AUTH_REALM" yaml:"realm"`
	// ServerName is surfaced in resource metadata. ENV: CCAGENT_SERVER_NAME
	ServerName string `env:"CCAGENT_SERVER_NAME,default=ccagent" yaml:"serverName"`
	// MetricsAddr, when set, serves /metrics on a sidecar listener in stdio
	// mode. serve-http exposes /metrics on the main listener instead.
	// ENV: CCAGENT_METRICS_ADDR
	MetricsAddr string `env:"CCAGENT_METRICS_ADDR" yaml:"metricsAddr"`
}

// Auth configures bearer authentication for serve-http. With Issuer and
// Audience set, token validation is configured through OIDC discovery. With
// JWKSURL set instead, keys are fetched directly and no discovery happens.
// All empty means the bridge runs open.
type Auth struct {
	// Issuer is the OIDC issuer URL. ENV: CCAGENT_OIDC_ISSUER
	Issuer string `env:"CCAGENT_OIDC_ISSUER" yaml:"issuer"`
	// Audience tokens must carry. ENV: CCAGENT_OIDC_AUDIENCE
	Audience string `env:"CCAGENT_OIDC_AUDIENCE" yaml:"audience"`
	// RequiredScopes must all be present in accepted tokens, separated by
	// semicolons in the environment. ENV: CCAGENT_REQUIRED_SCOPES
	RequiredScopes []string `env:"CCAGENT_REQUIRED_SCOPES" yaml:"requiredScopes"`
	// JWKSURL enables manual JWT validation without discovery.
	// ENV: CCAGENT_JWKS_URL
	JWKSURL string `env:"CCAGENT_JWKS_URL" yaml:"jwksUrl"`
}

// FromEnv builds a Config from the environment. Missing variables fall back
// to the tag defaults.
func FromEnv() (*Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	return &cfg, nil
}

// LoadFile builds a Config from the environment then overlays the YAML file
// at path. Fields present in the file replace the environment values.
func LoadFile(path string) (*Config, error) {
	cfg, err := FromEnv()
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// ParseLevel maps the configured level name onto a slog.Level.
func (l Log) ParseLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("invalid log level %q", l.Level)
	}
	return level, nil
}

// Validate rejects configurations the binary cannot act on.
func (c *Config) Validate() error {
	if _, err := c.Log.ParseLevel(); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q, want text or json", c.Log.Format)
	}
	switch c.Backend.Provider {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("invalid backend provider %q, want anthropic or openai", c.Backend.Provider)
	}
	switch c.Sessions.Store {
	case "memory", "redis":
	default:
		return fmt.Errorf("invalid session store %q, want memory or redis", c.Sessions.Store)
	}
	switch c.Mirror.Sink {
	case "none", "redis":
	default:
		return fmt.Errorf("invalid mirror sink %q, want none or redis", c.Mirror.Sink)
	}
	switch c.HTTP.Broker {
	case "memory", "redis":
	default:
		return fmt.Errorf("invalid broker %q, want memory or redis", c.HTTP.Broker)
	}
	if c.Auth.Issuer != "" && c.Auth.Audience == "" {
		return fmt.Errorf("auth issuer is set but audience is empty")
	}
	if c.Auth.JWKSURL != "" && c.Auth.Issuer == "" {
		return fmt.Errorf("auth jwksUrl is set but issuer is empty")
	}
	return nil
}
