package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads, defaults, and validates a YAML config file. It
// does not apply environment overrides; use LoadConfigWithEnvOverrides
// for that.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// LoadConfigWithEnvOverrides loads path, applies GATEWAY_*
// environment overrides, and re-validates. Environment variables
// always win over the file.
//
// Sequence: load YAML (applies defaults) -> apply env overrides ->
// re-validate.
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies GATEWAY_SECTION_FIELD overrides.
func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("GATEWAY_SERVER_HOST"); val != "" {
		cfg.Server.Host = val
	}
	if val := os.Getenv("GATEWAY_SERVER_PORT"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.Server.Port = i
		}
	}
	if val := os.Getenv("GATEWAY_SERVER_DEFAULT_PROVIDER"); val != "" {
		cfg.Server.DefaultProvider = val
	}
	if val := os.Getenv("GATEWAY_SERVER_READ_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Server.ReadTimeout = d
		}
	}
	if val := os.Getenv("GATEWAY_SERVER_WRITE_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Server.WriteTimeout = d
		}
	}

	if val := os.Getenv("GATEWAY_QUEUE_MAX_SIZE"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.Queue.MaxQueueSize = i
		}
	}
	if val := os.Getenv("GATEWAY_QUEUE_MAX_CONCURRENT_REQUESTS"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.Queue.MaxConcurrentRequests = i
		}
	}

	if val := os.Getenv("GATEWAY_STORE_PATH"); val != "" {
		cfg.Store.Path = val
	}

	// Provider overrides cover every provider already present in the
	// loaded file, unlike the teacher's hardcoded per-name list —
	// this gateway's provider set is open-ended, so there is no fixed
	// name list to enumerate ahead of time.
	for name := range cfg.Providers {
		applyProviderEnvOverrides(cfg, name)
	}

	if val := os.Getenv("GATEWAY_DISCUSSION_SUMMARY_PROVIDER"); val != "" {
		cfg.Discussion.SummaryProvider = val
	}
	if val := os.Getenv("GATEWAY_DISCUSSION_ROUND_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Discussion.RoundTimeout = d
		}
	}

	if val := os.Getenv("GATEWAY_TELEMETRY_LOGGING_LEVEL"); val != "" {
		cfg.Telemetry.Logging.Level = val
	}
	if val := os.Getenv("GATEWAY_TELEMETRY_LOGGING_FORMAT"); val != "" {
		cfg.Telemetry.Logging.Format = val
	}
	if val := os.Getenv("GATEWAY_TELEMETRY_METRICS_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Telemetry.Metrics.Enabled = b
		}
	}
	if val := os.Getenv("GATEWAY_TELEMETRY_TRACING_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Telemetry.Tracing.Enabled = b
		}
	}
	if val := os.Getenv("GATEWAY_TELEMETRY_TRACING_ENDPOINT"); val != "" {
		cfg.Telemetry.Tracing.Endpoint = val
	}

	if val := os.Getenv("GATEWAY_SECURITY_TLS_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Security.TLS.Enabled = b
		}
	}
	if val := os.Getenv("GATEWAY_SECURITY_TLS_CERT_FILE"); val != "" {
		cfg.Security.TLS.CertFile = val
	}
	if val := os.Getenv("GATEWAY_SECURITY_TLS_KEY_FILE"); val != "" {
		cfg.Security.TLS.KeyFile = val
	}
	if val := os.Getenv("GATEWAY_SECURITY_AUTH_TOKEN"); val != "" {
		cfg.Security.AuthToken = val
	}
}

// applyProviderEnvOverrides applies GATEWAY_PROVIDERS_<NAME>_<FIELD>
// overrides for one already-configured provider.
func applyProviderEnvOverrides(cfg *Config, name string) {
	p, ok := cfg.Providers[name]
	if !ok {
		return
	}
	prefix := fmt.Sprintf("GATEWAY_PROVIDERS_%s_", strings.ToUpper(name))

	if val := os.Getenv(prefix + "ENDPOINT"); val != "" {
		p.Endpoint = val
	}
	if val := os.Getenv(prefix + "API_KEY"); val != "" {
		p.APIKey = val
	}
	if val := os.Getenv(prefix + "COMMAND"); val != "" {
		p.Command = val
	}
	if val := os.Getenv(prefix + "TIMEOUT_SECONDS"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			p.TimeoutSeconds = i
		}
	}
	if val := os.Getenv(prefix + "ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			p.Enabled = b
		}
	}
	if val := os.Getenv(prefix + "RATE_LIMIT_RPM"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			p.RateLimitRPM = i
		}
	}

	cfg.Providers[name] = p
}
