package config

import "time"

// Default values for configuration fields, mirroring each component's
// own DefaultConfig where one already exists (internal/server,
// internal/queue, internal/cleanup) so a zero-value YAML file and a
// hand-built Config produce the same running gateway.
const (
	DefaultHost            = "0.0.0.0"
	DefaultPort            = 8080
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 300 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 10 * time.Second

	DefaultCORSEnabled = true
	DefaultCORSMaxAge  = 3600

	DefaultMaxQueueSize          = 1000
	DefaultMaxConcurrentRequests = 10

	DefaultStorePath          = "data/gateway.db"
	DefaultBusyTimeoutMS      = 5000

	DefaultProviderTimeoutSeconds = 60
	DefaultAuthHeader             = "Authorization"
	DefaultRequestField           = "message"
	DefaultResponseField          = "response"

	DefaultDiscussionRoundTimeout = 120 * time.Second

	DefaultLoggingLevel  = "info"
	DefaultLoggingFormat = "json"

	DefaultMetricsEnabled = true
	DefaultMetricsPath    = "/metrics"

	DefaultTracingSampleRatio = 1.0

	DefaultRequestTTLHours    = 24
	DefaultMetricsTTLHours    = 24 * 7
	DefaultDiscussionTTLHours = 24 * 7
	DefaultCleanupSchedule    = "@hourly"
)

// ApplyDefaults fills zero-valued fields with their defaults. Safe to
// call more than once.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = DefaultHost
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultPort
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Server.CORS.MaxAge == 0 {
		cfg.Server.CORS.MaxAge = DefaultCORSMaxAge
	}

	if cfg.Queue.MaxQueueSize == 0 {
		cfg.Queue.MaxQueueSize = DefaultMaxQueueSize
	}
	if cfg.Queue.MaxConcurrentRequests == 0 {
		cfg.Queue.MaxConcurrentRequests = DefaultMaxConcurrentRequests
	}

	if cfg.Store.Path == "" {
		cfg.Store.Path = DefaultStorePath
	}
	if cfg.Store.BusyTimeoutMS == 0 {
		cfg.Store.BusyTimeoutMS = DefaultBusyTimeoutMS
	}

	for name, p := range cfg.Providers {
		if p.Kind == "" {
			p.Kind = "http"
		}
		if p.TimeoutSeconds == 0 {
			p.TimeoutSeconds = DefaultProviderTimeoutSeconds
		}
		if p.Kind == "http" {
			if p.AuthHeader == "" {
				p.AuthHeader = DefaultAuthHeader
			}
			if p.RequestField == "" {
				p.RequestField = DefaultRequestField
			}
			if p.ResponseField == "" {
				p.ResponseField = DefaultResponseField
			}
		}
		cfg.Providers[name] = p
	}

	if cfg.Discussion.RoundTimeout == 0 {
		cfg.Discussion.RoundTimeout = DefaultDiscussionRoundTimeout
	}

	if cfg.Telemetry.Logging.Level == "" {
		cfg.Telemetry.Logging.Level = DefaultLoggingLevel
	}
	if cfg.Telemetry.Logging.Format == "" {
		cfg.Telemetry.Logging.Format = DefaultLoggingFormat
	}
	if cfg.Telemetry.Metrics.Path == "" {
		cfg.Telemetry.Metrics.Path = DefaultMetricsPath
	}
	if cfg.Telemetry.Tracing.SampleRatio == 0 {
		cfg.Telemetry.Tracing.SampleRatio = DefaultTracingSampleRatio
	}
	if cfg.Telemetry.Cleanup.RequestTTLHours == 0 {
		cfg.Telemetry.Cleanup.RequestTTLHours = DefaultRequestTTLHours
	}
	if cfg.Telemetry.Cleanup.MetricsTTLHours == 0 {
		cfg.Telemetry.Cleanup.MetricsTTLHours = DefaultMetricsTTLHours
	}
	if cfg.Telemetry.Cleanup.DiscussionTTLHours == 0 {
		cfg.Telemetry.Cleanup.DiscussionTTLHours = DefaultDiscussionTTLHours
	}
	if cfg.Telemetry.Cleanup.Schedule == "" {
		cfg.Telemetry.Cleanup.Schedule = DefaultCleanupSchedule
	}
}
