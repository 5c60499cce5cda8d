// Package config defines the gateway's configuration tree and its
// load/validate/singleton lifecycle. Modeled directly on the teacher's
// pkg/config: a root Config struct with YAML tags, ApplyDefaults,
// Validate, file+env loading, and a thread-safe global singleton kept
// for the composition root only (cmd/gateway).
package config

import "time"

// Config is the gateway's root configuration tree.
type Config struct {
	Server     ServerConfig              `yaml:"server"`
	Queue      QueueConfig               `yaml:"queue"`
	Store      StoreConfig               `yaml:"store"`
	Providers  map[string]ProviderConfig `yaml:"providers"`
	Discussion DiscussionConfig          `yaml:"discussion"`
	Telemetry  TelemetryConfig           `yaml:"telemetry"`
	Security   SecurityConfig            `yaml:"security"`
}

// ServerConfig configures the REST + WebSocket HTTP surface
// (internal/server.Config).
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	DefaultProvider string        `yaml:"default_provider"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORS            CORSConfig    `yaml:"cors"`
}

// CORSConfig mirrors internal/server.CORSConfig.
type CORSConfig struct {
	Enabled          bool     `yaml:"enabled"`
	AllowedOrigins   []string `yaml:"allowed_origins"`
	AllowCredentials bool     `yaml:"allow_credentials"`
	MaxAge           int      `yaml:"max_age"`
}

// QueueConfig configures the Request Queue (internal/queue.Config).
type QueueConfig struct {
	MaxQueueSize          int `yaml:"max_queue_size"`
	MaxConcurrentRequests int `yaml:"max_concurrent_requests"`
}

// StoreConfig configures the State Store (internal/store.Config).
type StoreConfig struct {
	Path          string `yaml:"path"`
	BusyTimeoutMS int    `yaml:"busy_timeout_ms"`
}

// ProviderConfig describes one configured AI backend, HTTP or
// CLI-subprocess. Fields not applicable to a given Kind are ignored:
// an "http" provider ignores Command/Args, and a "cli"/"cli_interactive"
// provider ignores Endpoint/APIKey/AuthHeader/RequestField/ResponseField.
type ProviderConfig struct {
	// Kind selects the backend implementation: "http", "cli", or
	// "cli_interactive". Matches model.BackendKind's string values.
	Kind string `yaml:"kind"`

	// Enabled allows a provider to be configured but excluded from
	// registration without deleting its entry.
	Enabled bool `yaml:"enabled"`

	// Priority is carried on model.ProviderStatus for observability.
	// internal/queue does not read it: dispatch order comes only from
	// each request's own Priority.
	Priority int `yaml:"priority"`

	// RateLimitRPM is accepted and surfaced on ProviderStatus but not
	// enforced anywhere in dispatch (see SPEC_FULL.md §9, open
	// question 3).
	RateLimitRPM int `yaml:"rate_limit_rpm"`

	TimeoutSeconds int `yaml:"timeout_seconds"`

	// HTTP-backend fields.
	Endpoint      string `yaml:"endpoint"`
	APIKey        string `yaml:"api_key"`
	AuthHeader    string `yaml:"auth_header"`
	RequestField  string `yaml:"request_field"`
	ResponseField string `yaml:"response_field"`

	// CLI-backend fields (both "cli" and "cli_interactive").
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

// DiscussionConfig tunes the Discussion Orchestrator (component G).
type DiscussionConfig struct {
	// Providers is the default provider list used when a discussion
	// request doesn't name one explicitly.
	Providers []string `yaml:"providers"`

	// RoundTimeout bounds how long one round's fan-out waits for its
	// slowest participant before treating it as failed.
	RoundTimeout time.Duration `yaml:"round_timeout"`

	// SummaryProvider is the provider asked to produce the final
	// synthesis, stored as the round-0 summary message.
	SummaryProvider string `yaml:"summary_provider"`
}

// TelemetryConfig groups logging, metrics, tracing, and the Cleanup
// Loop's cron schedule. Scaled down from the teacher's TelemetryConfig,
// which also carried a Health sub-config belonging to its own
// liveness/readiness HTTP surface; this gateway reuses /api/health
// instead (see internal/server.handleHealth), so no separate Health
// section is carried here.
type TelemetryConfig struct {
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
	Cleanup CleanupConfig `yaml:"cleanup"`
}

// LoggingConfig configures internal/logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug|info|warn|error
	Format string `yaml:"format"` // json|text
	Redact bool   `yaml:"redact"`
}

// MetricsConfig configures internal/telemetry/metrics.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// TracingConfig configures internal/telemetry/tracing.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// CleanupConfig configures the Cleanup Loop (internal/cleanup.Config).
type CleanupConfig struct {
	RequestTTLHours    int    `yaml:"request_ttl_hours"`
	MetricsTTLHours    int    `yaml:"metrics_ttl_hours"`
	DiscussionTTLHours int    `yaml:"discussion_ttl_hours"`
	Schedule           string `yaml:"schedule"`
}

// SecurityConfig groups TLS and the optional bearer-token gate. The
// teacher's SecurityConfig also carries an MTLSConfig and a
// SecretsConfig (Vault/file-based secret resolution); neither has a
// SPEC_FULL.md component (the gateway reads API keys directly from its
// own config/env, per spec.md's external-auth Non-goal), so they are
// not carried forward — see DESIGN.md.
type SecurityConfig struct {
	TLS TLSConfig `yaml:"tls"`

	// AuthToken, if non-empty, requires every request to carry
	// "Authorization: Bearer <AuthToken>". Empty disables the gate
	// entirely, matching spec.md's "accepts requests as already
	// authenticated" default.
	AuthToken string `yaml:"auth_token"`
}

// TLSConfig mirrors the teacher's TLSConfig, trimmed of the MTLS
// sub-section (see SecurityConfig's comment).
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}
