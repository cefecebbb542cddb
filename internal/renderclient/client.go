// Package renderclient calls the external QR-render microservice that turns
// an opaque token string into a hosted scannable image. Purely
// presentational; nothing here affects check-in semantics.
package renderclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// RenderResult contains the hosted image produced for a token.
type RenderResult struct {
	ImageURL string `json:"image_url"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

// Client calls the render microservice.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// New creates a client. Rendering is quick; keep the timeout short.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		HTTP: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Configured reports whether a render service was set up.
func (c *Client) Configured() bool {
	return c != nil && c.BaseURL != ""
}

// Render asks the service for a scannable image of the token.
func (c *Client) Render(ctx context.Context, token string) (*RenderResult, error) {
	payload, err := json.Marshal(map[string]string{"content": token})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/render", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("render service returned %d: %s", resp.StatusCode, body)
	}

	var result RenderResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Health pings the render service.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("render service unhealthy: %d", resp.StatusCode)
	}
	return nil
}
