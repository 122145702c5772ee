package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client posts worker results back to the engine.
//
// The engine treats an identical redelivered completion as a no-op and
// answers 200, so retrying a callback after a network failure is safe. A
// callback that conflicts with an already recorded result is answered
// with 409; workers must not retry those.
type Client struct {
	http *http.Client
}

// NewClient creates a callback client. A nil httpClient gets a 30s
// timeout default.
func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{http: httpClient}
}

// Complete reports a successful result to the callback URL.
func (c *Client) Complete(ctx context.Context, callbackURL string, output map[string]any) error {
	return c.post(ctx, callbackURL, &Result{Status: StatusCompleted, Output: output})
}

// Fail reports a failure to the callback URL.
func (c *Client) Fail(ctx context.Context, callbackURL string, workerErr string) error {
	if workerErr == "" {
		return fmt.Errorf("failed result requires an error message")
	}
	return c.post(ctx, callbackURL, &Result{Status: StatusFailed, Error: workerErr})
}

func (c *Client) post(ctx context.Context, callbackURL string, result *Result) error {
	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, callbackURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("callback delivery failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("callback rejected: status %d: %s", resp.StatusCode, snippet)
}
