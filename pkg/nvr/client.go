// Package nvr couples a video recorder event to each transaction. The
// recorder speaks the Frigate events API; every call is a single attempt
// with a short timeout, and no failure here is ever allowed to stall the
// transaction pipeline.
package nvr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Config describes the recorder endpoint and the event shape.
type Config struct {
	// BaseURL is the recorder root, e.g. "http://127.0.0.1:5000".
	BaseURL string

	// Camera and Label name the event stream.
	Camera string
	Label  string

	// Duration is the requested event length in seconds.
	Duration int

	// Retain keeps the clip past the recorder's normal retention.
	Retain bool

	// RemoteRole, when set, is sent as the remote-role header on every call
	// for proxied recorder deployments.
	RemoteRole string

	// RequestTimeout bounds each call.
	RequestTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Duration <= 0 {
		c.Duration = 120
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 5 * time.Second
	}
}

// Enabled reports whether a recorder is configured at all.
func (c *Config) Enabled() bool {
	return c.BaseURL != ""
}

// Client is a thin single-attempt client for the recorder events API.
type Client struct {
	cfg    Config
	client *http.Client
}

// NewClient creates a recorder client.
func NewClient(cfg Config) *Client {
	cfg.applyDefaults()
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.RequestTimeout},
	}
}

// eventID tolerates recorders that return the id as either a JSON string or
// a number.
type eventID string

func (e *eventID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*e = eventID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("event_id is neither string nor number: %s", data)
	}
	*e = eventID(n.String())
	return nil
}

type createResponse struct {
	EventID  eventID `json:"event_id"`
	EventURL string  `json:"event_url"`
}

// CreateEvent starts a recorder event and returns its id and URL.
func (c *Client) CreateEvent(ctx context.Context) (id, url string, err error) {
	endpoint := fmt.Sprintf("%s/api/events/%s/%s/create",
		strings.TrimRight(c.cfg.BaseURL, "/"), c.cfg.Camera, c.cfg.Label)

	body, err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"duration": c.cfg.Duration})
	if err != nil {
		return "", "", err
	}

	var resp createResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", "", fmt.Errorf("failed to decode create response: %w", err)
	}
	if resp.EventID == "" {
		return "", "", fmt.Errorf("recorder returned no event_id")
	}

	url = resp.EventURL
	if url == "" {
		url = fmt.Sprintf("%s/api/events/%s", strings.TrimRight(c.cfg.BaseURL, "/"), resp.EventID)
	}
	return string(resp.EventID), url, nil
}

// SetSubLabel annotates the event with a short label.
func (c *Client) SetSubLabel(ctx context.Context, id, subLabel string) error {
	endpoint := fmt.Sprintf("%s/api/events/%s/sub_label", strings.TrimRight(c.cfg.BaseURL, "/"), id)
	_, err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"subLabel": subLabel})
	return err
}

// SetDescription attaches a human-readable summary to the event.
func (c *Client) SetDescription(ctx context.Context, id, description string) error {
	endpoint := fmt.Sprintf("%s/api/events/%s/description", strings.TrimRight(c.cfg.BaseURL, "/"), id)
	_, err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"description": description})
	return err
}

// Retain marks the event's footage for retention.
func (c *Client) Retain(ctx context.Context, id string) error {
	endpoint := fmt.Sprintf("%s/api/events/%s/retain", strings.TrimRight(c.cfg.BaseURL, "/"), id)
	_, err := c.do(ctx, http.MethodPost, endpoint, nil)
	return err
}

// EndEvent closes the event's time window.
func (c *Client) EndEvent(ctx context.Context, id string) error {
	endpoint := fmt.Sprintf("%s/api/events/%s/end", strings.TrimRight(c.cfg.BaseURL, "/"), id)
	_, err := c.do(ctx, http.MethodPut, endpoint, nil)
	return err
}

func (c *Client) do(ctx context.Context, method, url string, payload any) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.RemoteRole != "" {
		req.Header.Set("Remote-Role", c.cfg.RemoteRole)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("recorder returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}
