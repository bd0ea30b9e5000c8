package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hazyhaar/unclip/horosafe"
)

// maxResponseBody caps a remote reply.
const maxResponseBody int64 = 1 << 20

// RemoteError is a non-2xx reply from a remote endpoint. Message is the
// "error" field of a JSON body, or the raw body.
type RemoteError struct {
	Status  int
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("messaging: remote status %d: %s", e.Status, e.Message)
}

type remoteConfig struct {
	timeout      time.Duration
	client       *http.Client
	allowPrivate bool
}

// RemoteOption configures a remote handler.
type RemoteOption func(*remoteConfig)

// WithTimeout bounds each remote call. Default: 30s.
func WithTimeout(d time.Duration) RemoteOption {
	return func(c *remoteConfig) { c.timeout = d }
}

// WithClient sets the HTTP client. It overrides WithTimeout.
func WithClient(hc *http.Client) RemoteOption {
	return func(c *remoteConfig) { c.client = hc }
}

// AllowPrivate permits loopback and private endpoints, for a backend
// running on the same host.
func AllowPrivate() RemoteOption {
	return func(c *remoteConfig) { c.allowPrivate = true }
}

// HTTPHandler returns a Handler that POSTs the JSON payload to endpoint.
// The endpoint is checked against private addresses unless AllowPrivate
// is given.
func HTTPHandler(endpoint string, opts ...RemoteOption) (Handler, func(), error) {
	cfg := remoteConfig{timeout: 30 * time.Second}
	for _, o := range opts {
		o(&cfg)
	}
	if !cfg.allowPrivate {
		if err := horosafe.ValidateURL(endpoint); err != nil {
			return nil, nil, err
		}
	}
	client := cfg.client
	if client == nil {
		client = &http.Client{Timeout: cfg.timeout}
	}

	h := func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
		if len(payload) == 0 {
			payload = json.RawMessage("{}")
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("messaging: create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("messaging: do request: %w", err)
		}
		defer resp.Body.Close()

		body, err := horosafe.LimitedReadAll(resp.Body, maxResponseBody)
		if err != nil {
			return nil, fmt.Errorf("messaging: read response: %w", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, &RemoteError{Status: resp.StatusCode, Message: errorMessage(body)}
		}
		return body, nil
	}
	return h, client.CloseIdleConnections, nil
}

func errorMessage(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return e.Error
	}
	return string(bytes.TrimSpace(body))
}
