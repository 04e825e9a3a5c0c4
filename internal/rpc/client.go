// Package rpc is a small JSON-RPC 1.1 over HTTP client used to drive remote
// export jobs.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"
)

// Caller abstracts JSON-RPC calls for testability.
type Caller interface {
	Call(ctx context.Context, method string, params []any) (json.RawMessage, error)
}

// Error is a JSON-RPC error object returned by the service.
type Error struct {
	Name    string `json:"name"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d (%s): %s", e.Code, e.Name, e.Message)
}

// ClientConfig points a client at an export service.
type ClientConfig struct {
	URL     string        `yaml:"url" validate:"required,url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

type request struct {
	ID      string `json:"id"`
	Method  string `json:"method"`
	Version string `json:"version"`
	Params  []any  `json:"params"`
}

type response struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *Error          `json:"error"`
}

// HTTPCaller implements Caller over net/http.
type HTTPCaller struct {
	url    string
	token  string
	client *http.Client
	logger *slog.Logger
	seq    atomic.Int64
}

// NewHTTPCaller creates a caller for cfg.URL. A zero Timeout leaves requests
// bounded only by their context.
func NewHTTPCaller(cfg ClientConfig, logger *slog.Logger) *HTTPCaller {
	return &HTTPCaller{
		url:    cfg.URL,
		token:  cfg.Token,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With("component", "rpc", "url", cfg.URL),
	}
}

// Call sends method with params and returns the raw result.
// Service-side failures are returned as *Error.
func (c *HTTPCaller) Call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	id := fmt.Sprintf("exportq-%d", c.seq.Add(1))
	if params == nil {
		params = []any{}
	}

	body, err := json.Marshal(request{ID: id, Method: method, Version: "1.1", Params: params})
	if err != nil {
		return nil, fmt.Errorf("marshal rpc request: %w", err)
	}

	c.logger.Debug("rpc call", "method", method, "id", id)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rpc call %s: %w", method, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	// Some services report RPC errors with a 500 status and a JSON body.
	var out response
	if jsonErr := json.Unmarshal(respBody, &out); jsonErr == nil && out.Error != nil {
		return nil, out.Error
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rpc call %s: HTTP %d: %s", method, resp.StatusCode, bytes.TrimSpace(respBody))
	}
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("unmarshal rpc response: %w", err)
	}
	return out.Result, nil
}
