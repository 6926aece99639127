// Package client is a thin HTTP client for talking to a chipmunk façade.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client wraps a base URL and talks to the three CRUD routes exposed by
// package httpapi, plus its health check.
type Client struct {
	baseURL string
	http    *http.Client
}

// New constructs a Client pointed at baseURL, e.g. "http://127.0.0.1:5000".
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Ping checks that the remote server is reachable and reports itself
// healthy.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("client: building ping request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("client: ping: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("client: ping: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Get fetches the value for key. The bool return reports whether the key
// was found; a false with a nil error means a definitive miss, not an
// error condition.
func (c *Client) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/"+string(key), nil)
	if err != nil {
		return nil, false, fmt.Errorf("client: building get request for %q: %w", key, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("client: get %q: %w", key, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, false, fmt.Errorf("client: reading get response for %q: %w", key, err)
		}
		return body, true, nil
	case http.StatusNotFound:
		return nil, false, nil
	default:
		return nil, false, fmt.Errorf("client: get %q: unexpected status %d", key, resp.StatusCode)
	}
}

// Put inserts or updates key to value.
func (c *Client) Put(ctx context.Context, key, value []byte) error {
	body := append(append([]byte{}, key...), '=')
	body = append(body, value...)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("client: building put request for %q: %w", key, err)
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("client: put %q: %w", key, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("client: put %q: unexpected status %d", key, resp.StatusCode)
	}
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (c *Client) Delete(ctx context.Context, key []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/api/v1/"+string(key), nil)
	if err != nil {
		return fmt.Errorf("client: building delete request for %q: %w", key, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("client: delete %q: %w", key, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("client: delete %q: unexpected status %d", key, resp.StatusCode)
	}
	return nil
}
