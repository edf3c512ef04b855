// Package remote provides the HTTP client used to talk to deployment targets.
// This is part of the Imperative Shell - it performs network I/O.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/artpar/deployer/internal/core/domain"
)

// maxErrorBody bounds how much of an error response is kept for messages.
const maxErrorBody = 4096

// Client issues requests against one target platform.
type Client struct {
	baseURL     string
	credentials domain.Credentials
	headers     http.Header
	httpClient  *http.Client
	logger      *slog.Logger
}

// Config holds remote client configuration.
type Config struct {
	BaseURL     string // Target base URL, e.g. "https://fleet.example.com"
	Credentials domain.Credentials
	Headers     map[string]string // Sent with every request
	Timeout     time.Duration
}

// NewClient creates a new remote client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	headers := make(http.Header)
	for k, v := range cfg.Headers {
		if v != "" {
			headers.Set(k, v)
		}
	}
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		credentials: cfg.Credentials,
		headers:     headers,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger.With("component", "remote_client"),
	}
}

// =============================================================================
// Request / Response
// =============================================================================

// Request describes one call against the target.
type Request struct {
	Method      string
	Path        string
	Query       url.Values
	Body        io.Reader
	ContentType string
}

// Response is a completed HTTP exchange, whatever its status.
type Response struct {
	StatusCode int
	Reason     string
	Body       []byte
}

// IsSuccess reports a 2xx status.
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Decode unmarshals the JSON body into v.
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// =============================================================================
// Operations
// =============================================================================

// Do sends a request. Any completed exchange returns a Response, including
// non-2xx ones; only failures to complete the exchange return a *TransportError.
func (c *Client) Do(ctx context.Context, r Request) (*Response, error) {
	target := c.baseURL + r.Path
	if len(r.Query) > 0 {
		target += "?" + r.Query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, target, r.Body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req, r.ContentType)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Method: r.Method, URL: target, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Method: r.Method, URL: target, Err: fmt.Errorf("read body: %w", err)}
	}

	c.logger.Debug("request completed",
		"method", r.Method,
		"path", r.Path,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	return &Response{
		StatusCode: resp.StatusCode,
		Reason:     http.StatusText(resp.StatusCode),
		Body:       body,
	}, nil
}

// Get issues a GET request.
func (c *Client) Get(ctx context.Context, path string, query url.Values) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodGet, Path: path, Query: query})
}

// Delete issues a DELETE request.
func (c *Client) Delete(ctx context.Context, path string) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodDelete, Path: path})
}

// PostJSON issues a POST request with a JSON body.
func (c *Client) PostJSON(ctx context.Context, path string, v any) (*Response, error) {
	return c.sendJSON(ctx, http.MethodPost, path, v)
}

// PutJSON issues a PUT request with a JSON body.
func (c *Client) PutJSON(ctx context.Context, path string, v any) (*Response, error) {
	return c.sendJSON(ctx, http.MethodPut, path, v)
}

// PatchJSON issues a PATCH request with a JSON body.
func (c *Client) PatchJSON(ctx context.Context, path string, v any) (*Response, error) {
	return c.sendJSON(ctx, http.MethodPatch, path, v)
}

// Upload sends an opaque binary entity with the given method.
func (c *Client) Upload(ctx context.Context, method, path string, body io.Reader) (*Response, error) {
	return c.Do(ctx, Request{
		Method:      method,
		Path:        path,
		Body:        body,
		ContentType: "application/octet-stream",
	})
}

func (c *Client) sendJSON(ctx context.Context, method, path string, v any) (*Response, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	return c.Do(ctx, Request{
		Method:      method,
		Path:        path,
		Body:        bytes.NewReader(body),
		ContentType: "application/json",
	})
}

// =============================================================================
// Helper Methods
// =============================================================================

func (c *Client) setHeaders(req *http.Request, contentType string) {
	for k, v := range c.headers {
		req.Header[k] = v
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	switch {
	case c.credentials.Token != "":
		req.Header.Set("Authorization", "Bearer "+c.credentials.Token)
	case c.credentials.Username != "":
		req.SetBasicAuth(c.credentials.Username, c.credentials.Password)
	}
}

// Expect returns a *StatusError unless resp has one of the expected codes.
// With no codes given any 2xx status is accepted.
func Expect(method, path string, resp *Response, codes ...int) error {
	if len(codes) == 0 {
		if resp.IsSuccess() {
			return nil
		}
	} else {
		for _, code := range codes {
			if resp.StatusCode == code {
				return nil
			}
		}
	}
	body := string(resp.Body)
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return &StatusError{
		Method:     method,
		Path:       path,
		StatusCode: resp.StatusCode,
		Reason:     resp.Reason,
		Body:       strings.TrimSpace(body),
	}
}
