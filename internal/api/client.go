// Package api is the outbound request layer for the Sortify REST backend.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Client is a thin HTTP client for the Sortify REST API. It attaches
// the current bearer token, handles JSON (de)serialization, and retries
// with exponential backoff on HTTP 429.
type Client struct {
	baseURL    string
	httpClient *http.Client
	maxRetries int

	mu    sync.RWMutex
	token string
}

// NewClient creates a new API client rooted at baseURL
// (e.g., http://localhost:5000/api).
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		maxRetries: 3,
	}
}

// SetToken attaches token as the default bearer credential.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// ClearToken removes the default bearer credential.
func (c *Client) ClearToken() {
	c.SetToken("")
}

// Token returns the currently attached credential.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// call describes a single API exchange.
type call struct {
	method string
	path   string
	body   interface{}

	// auth marks endpoints that require the bearer token; a 401 on them
	// means the session is no longer valid.
	auth bool
}

// baseResponse is embedded in every backend reply.
type baseResponse struct {
	Success *bool  `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

func (r baseResponse) text() string {
	if r.Message != "" {
		return r.Message
	}
	return r.Error
}

// do is the core HTTP method that builds the request, attaches the
// bearer token, retries on 429 and decodes the JSON response.
func (c *Client) do(ctx context.Context, cl call, result interface{}) error {
	url := c.baseURL + cl.path

	var payload []byte
	if cl.body != nil {
		data, err := json.Marshal(cl.body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		payload = data
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		var bodyReader io.Reader
		if payload != nil {
			bodyReader = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, cl.method, url, bodyReader)
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}

		token := c.Token()
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("executing request %s %s: %w", cl.method, cl.path, err)
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return fmt.Errorf("reading response body: %w", readErr)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			waitDuration := retryAfterDuration(resp, attempt)
			lastErr = fmt.Errorf("rate limited (429) on %s %s", cl.method, cl.path)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(waitDuration):
				continue
			}
		}

		var base baseResponse
		_ = json.Unmarshal(respBody, &base)

		if resp.StatusCode == http.StatusUnauthorized && cl.auth && token != "" {
			msg := base.text()
			if msg == "" {
				msg = "session expired"
			}
			return &AuthError{Message: msg}
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &APIError{Status: resp.StatusCode, Message: base.text()}
		}
		if base.Success != nil && !*base.Success {
			return &APIError{Status: resp.StatusCode, Message: base.text()}
		}

		if result == nil || resp.StatusCode == http.StatusNoContent {
			return nil
		}

		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshaling response from %s %s: %w", cl.method, cl.path, err)
		}
		return nil
	}

	return fmt.Errorf("max retries (%d) exceeded: %w", c.maxRetries, lastErr)
}

// retryAfterDuration reads the Retry-After header and computes a wait
// duration. Falls back to exponential backoff if the header is missing.
func retryAfterDuration(resp *http.Response, attempt int) time.Duration {
	if header := resp.Header.Get("Retry-After"); header != "" {
		if seconds, err := strconv.Atoi(header); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}

	// Exponential backoff: 1s, 2s, 4s, ...
	backoff := time.Duration(1<<uint(attempt)) * time.Second
	if backoff > 30*time.Second {
		backoff = 30 * time.Second
	}
	return backoff
}
