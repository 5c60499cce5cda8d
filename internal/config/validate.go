package config

import (
	"fmt"
	"net/url"
	"strings"
)

// FieldError is a validation failure on one dotted config field path.
type FieldError struct {
	Field   string
	Message string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError aggregates every FieldError found in one pass.
type ValidationError struct {
	Errors []FieldError
}

func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate checks the whole config tree and returns a ValidationError
// collecting every failure, or nil if the config is valid.
func Validate(cfg *Config) error {
	var errs []FieldError
	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateQueue(&cfg.Queue)...)
	errs = append(errs, validateStore(&cfg.Store)...)
	errs = append(errs, validateProviders(cfg.Providers)...)
	errs = append(errs, validateDiscussion(&cfg.Discussion, cfg.Providers)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)
	errs = append(errs, validateSecurity(&cfg.Security)...)

	if len(errs) == 0 {
		return nil
	}
	return ValidationError{Errors: errs}
}

func validateServer(cfg *ServerConfig) []FieldError {
	var errs []FieldError
	if cfg.Port < 0 || cfg.Port > 65535 {
		errs = append(errs, FieldError{"server.port", "must be between 0 and 65535"})
	}
	if cfg.ReadTimeout < 0 {
		errs = append(errs, FieldError{"server.read_timeout", "must be non-negative"})
	}
	if cfg.WriteTimeout < 0 {
		errs = append(errs, FieldError{"server.write_timeout", "must be non-negative"})
	}
	if cfg.ShutdownTimeout < 0 {
		errs = append(errs, FieldError{"server.shutdown_timeout", "must be non-negative"})
	}
	return errs
}

func validateQueue(cfg *QueueConfig) []FieldError {
	var errs []FieldError
	if cfg.MaxQueueSize <= 0 {
		errs = append(errs, FieldError{"queue.max_queue_size", "must be positive"})
	}
	if cfg.MaxConcurrentRequests <= 0 {
		errs = append(errs, FieldError{"queue.max_concurrent_requests", "must be positive"})
	}
	return errs
}

func validateStore(cfg *StoreConfig) []FieldError {
	var errs []FieldError
	if cfg.Path == "" {
		errs = append(errs, FieldError{"store.path", "is required"})
	}
	if cfg.BusyTimeoutMS < 0 {
		errs = append(errs, FieldError{"store.busy_timeout_ms", "must be non-negative"})
	}
	return errs
}

var validBackendKinds = map[string]bool{"http": true, "cli": true, "cli_interactive": true}

func validateProviders(providers map[string]ProviderConfig) []FieldError {
	var errs []FieldError
	if len(providers) == 0 {
		errs = append(errs, FieldError{"providers", "at least one provider must be configured"})
		return errs
	}

	for name, p := range providers {
		prefix := fmt.Sprintf("providers.%s", name)

		if !validBackendKinds[p.Kind] {
			errs = append(errs, FieldError{prefix + ".kind", fmt.Sprintf("invalid kind %q: must be 'http', 'cli', or 'cli_interactive'", p.Kind)})
			continue
		}

		switch p.Kind {
		case "http":
			if p.Endpoint == "" {
				errs = append(errs, FieldError{prefix + ".endpoint", "is required for an http provider"})
			} else if _, err := url.Parse(p.Endpoint); err != nil {
				errs = append(errs, FieldError{prefix + ".endpoint", fmt.Sprintf("invalid URL: %v", err)})
			}
		case "cli", "cli_interactive":
			if p.Command == "" {
				errs = append(errs, FieldError{prefix + ".command", "is required for a cli provider"})
			}
		}

		if p.TimeoutSeconds < 0 {
			errs = append(errs, FieldError{prefix + ".timeout_seconds", "must be non-negative"})
		}
		if p.RateLimitRPM < 0 {
			errs = append(errs, FieldError{prefix + ".rate_limit_rpm", "must be non-negative"})
		}
	}
	return errs
}

func validateDiscussion(cfg *DiscussionConfig, providers map[string]ProviderConfig) []FieldError {
	var errs []FieldError
	if cfg.RoundTimeout < 0 {
		errs = append(errs, FieldError{"discussion.round_timeout", "must be non-negative"})
	}
	for _, name := range cfg.Providers {
		if _, ok := providers[name]; !ok {
			errs = append(errs, FieldError{"discussion.providers", fmt.Sprintf("references undefined provider %q", name)})
		}
	}
	if cfg.SummaryProvider != "" {
		if _, ok := providers[cfg.SummaryProvider]; !ok {
			errs = append(errs, FieldError{"discussion.summary_provider", fmt.Sprintf("references undefined provider %q", cfg.SummaryProvider)})
		}
	}
	return errs
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
var validLogFormats = map[string]bool{"json": true, "text": true}

func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	if !validLogLevels[cfg.Logging.Level] {
		errs = append(errs, FieldError{"telemetry.logging.level", fmt.Sprintf("invalid level %q: must be 'debug', 'info', 'warn', or 'error'", cfg.Logging.Level)})
	}
	if !validLogFormats[cfg.Logging.Format] {
		errs = append(errs, FieldError{"telemetry.logging.format", fmt.Sprintf("invalid format %q: must be 'json' or 'text'", cfg.Logging.Format)})
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Path == "" {
		errs = append(errs, FieldError{"telemetry.metrics.path", "is required when metrics are enabled"})
	}

	if cfg.Tracing.Enabled && cfg.Tracing.Endpoint == "" {
		errs = append(errs, FieldError{"telemetry.tracing.endpoint", "is required when tracing is enabled"})
	}
	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1.0 {
		errs = append(errs, FieldError{"telemetry.tracing.sample_ratio", "must be between 0.0 and 1.0"})
	}

	if cfg.Cleanup.RequestTTLHours < 0 {
		errs = append(errs, FieldError{"telemetry.cleanup.request_ttl_hours", "must be non-negative"})
	}
	if cfg.Cleanup.MetricsTTLHours < 0 {
		errs = append(errs, FieldError{"telemetry.cleanup.metrics_ttl_hours", "must be non-negative"})
	}
	if cfg.Cleanup.DiscussionTTLHours < 0 {
		errs = append(errs, FieldError{"telemetry.cleanup.discussion_ttl_hours", "must be non-negative"})
	}

	return errs
}

func validateSecurity(cfg *SecurityConfig) []FieldError {
	var errs []FieldError
	if cfg.TLS.Enabled {
		if cfg.TLS.CertFile == "" {
			errs = append(errs, FieldError{"security.tls.cert_file", "is required when TLS is enabled"})
		}
		if cfg.TLS.KeyFile == "" {
			errs = append(errs, FieldError{"security.tls.key_file", "is required when TLS is enabled"})
		}
	}
	return errs
}
