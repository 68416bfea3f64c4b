// Package marketplace is the HTTP gateway to the Sokosumi agent marketplace.
package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sokosumi/internal/apperrors"
	"sokosumi/internal/observability"
	"strings"
	"time"

	"github.com/google/uuid"
)

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 10 << 20

// UserAgent is sent with every request.
const UserAgent = "sokosumi-cli/1.0"

// Client issues authenticated requests to the marketplace API.
//
// Errors are returned, never acted upon: the caller decides whether a failed
// request ends the invocation (most commands) or only the current job
// (the monitor sweep).
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	metrics *observability.Metrics
}

// Options configures a Client. Zero values use defaults.
type Options struct {
	Timeout    time.Duration          // per-request timeout (default: 30s)
	HTTPClient *http.Client           // overrides Timeout when set
	Metrics    *observability.Metrics // optional
}

// NewClient creates a marketplace client. An empty API key is a
// configuration error; no request is attempted.
func NewClient(baseURL, apiKey string, opts Options) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, apperrors.Configuration("SOKOSUMI_API_KEY", "SOKOSUMI_API_KEY environment variable not set.")
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     30 * time.Second,
			},
		}
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  httpClient,
		metrics: opts.Metrics,
	}, nil
}

// Do sends a request and returns the raw JSON response body. A nil body sends
// no payload. An empty 2xx response decodes as "{}".
func (c *Client) Do(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	op := method + " " + path
	requestID := uuid.NewString()
	logger := slog.With("method", method, "path", path, "requestId", requestID)

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, apperrors.Input("body", fmt.Sprintf("failed to encode request body: %v", err))
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, apperrors.Transport(op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("X-Request-Id", requestID)

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.record(ctx, method, path, 0, start)
		logger.Debug("API request failed", "error", err)
		return nil, apperrors.Transport(op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	c.record(ctx, method, path, resp.StatusCode, start)
	if err != nil {
		return nil, apperrors.Transport(op, err)
	}

	logger.Debug("API request", "status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apperrors.API(op, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return json.RawMessage("{}"), nil
	}
	if !json.Valid(data) {
		return nil, apperrors.API(op, resp.StatusCode, "invalid JSON response: "+truncate(string(data), 200))
	}
	return json.RawMessage(data), nil
}

func (c *Client) record(ctx context.Context, method, path string, status int, start time.Time) {
	if c.metrics != nil {
		c.metrics.RecordAPIRequest(ctx, method, path, status, time.Since(start).Seconds())
	}
}

// UnwrapData returns the value of a top-level "data" field when the response
// is an object that has one, otherwise the response itself.
func UnwrapData(raw json.RawMessage) json.RawMessage {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return raw
	}
	if data, ok := envelope["data"]; ok {
		return data
	}
	return raw
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
