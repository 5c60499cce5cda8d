package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"mercator-hq/gateway/internal/gwerr"
)

// HTTPConfig configures an HTTPBackend. Grounded on
// pkg/providers/types.go's ProviderConfig, trimmed to the fields a
// single-envelope POST-and-decode call needs.
type HTTPConfig struct {
	Name                string
	Endpoint            string
	APIKey              string
	AuthHeader          string // default: "Authorization", value "Bearer <APIKey>"
	RequestField        string // JSON field the message is placed under; default "message"
	ResponseField       string // JSON field the response text is read from; default "response"
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
}

// HTTPBackend posts a provider-shaped JSON body to a configured
// endpoint and reads a single response envelope. Grounded on
// pkg/providers/http_provider.go's pooled client and status-code
// classification, generalized from that file's retry-loop shape to a
// single attempt. The Dispatch Loop one layer up enforces the
// request's timeout and does not retry a failed call either.
type HTTPBackend struct {
	cfg    HTTPConfig
	client *http.Client
	log    *slog.Logger
}

// NewHTTPBackend builds a backend with a pooled, keep-alive client.
func NewHTTPBackend(cfg HTTPConfig, log *slog.Logger) *HTTPBackend {
	if cfg.AuthHeader == "" {
		cfg.AuthHeader = "Authorization"
	}
	if cfg.RequestField == "" {
		cfg.RequestField = "message"
	}
	if cfg.ResponseField == "" {
		cfg.ResponseField = "response"
	}
	transport := &http.Transport{
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		ForceAttemptHTTP2:   true,
	}
	return &HTTPBackend{
		cfg:    cfg,
		client: &http.Client{Transport: transport},
		log:    log,
	}
}

// Execute posts {RequestField: message} and reads ResponseField from
// the JSON envelope. ctx's deadline is the hard timeout on the whole
// call, connect included.
func (b *HTTPBackend) Execute(ctx context.Context, message string) Result {
	start := time.Now()

	body, err := json.Marshal(map[string]string{b.cfg.RequestField: message})
	if err != nil {
		return failResult(err.Error(), gwerr.ClassProtocol, start)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return failResult(err.Error(), gwerr.ClassProtocol, start)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.cfg.APIKey != "" {
		req.Header.Set(b.cfg.AuthHeader, "Bearer "+b.cfg.APIKey)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return failResult(fmt.Sprintf("request timed out: %v", err), gwerr.ClassTimeout, start)
		}
		return failResult(err.Error(), gwerr.ClassUnreachable, start)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return failResult(fmt.Sprintf("read response: %v", err), gwerr.ClassProtocol, start)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return failResult(fmt.Sprintf("provider returned status %d: %s", resp.StatusCode, trimBody(raw)),
			gwerr.ClassProtocol, start)
	}

	var envelope map[string]any
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return failResult(fmt.Sprintf("decode response: %v", err), gwerr.ClassProtocol, start)
	}

	text, _ := envelope[b.cfg.ResponseField].(string)
	return Result{
		Success:   true,
		Response:  text,
		LatencyMs: float64(time.Since(start).Microseconds()) / 1000,
		Metadata:  map[string]any{"status_code": resp.StatusCode},
	}
}

// HealthCheck is a cheap HEAD against the configured endpoint.
func (b *HTTPBackend) HealthCheck(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, b.cfg.Endpoint, nil)
	if err != nil {
		return false
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 500
}

// Shutdown closes idle pooled connections. Idempotent.
func (b *HTTPBackend) Shutdown(ctx context.Context) error {
	b.client.CloseIdleConnections()
	return nil
}

func failResult(msg, class string, start time.Time) Result {
	return Result{
		Success:   false,
		Error:     msg,
		Class:     class,
		LatencyMs: float64(time.Since(start).Microseconds()) / 1000,
	}
}

func trimBody(b []byte) string {
	const max = 500
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
