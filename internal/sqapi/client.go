// Package sqapi is a minimal client for the SQUIDLE+-style annotation
// service API: token auth, single-record GETs, and task-based exports.
package sqapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const defaultHost = "https://squidle.org"

// Client encapsulates access to the annotation service.
type Client struct {
	host         string
	token        string
	httpClient   *http.Client
	logger       *zap.Logger
	pollInterval time.Duration
}

// NewClient creates a new annotation-service client. The token is sent as an
// X-Auth-Token header on every request.
func NewClient(host, token string, logger *zap.Logger) (*Client, error) {
	if token == "" {
		return nil, fmt.Errorf("API token is required")
	}
	if host == "" {
		host = defaultHost
	}
	return &Client{
		host:  strings.TrimRight(host, "/"),
		token: token,
		httpClient: &http.Client{
			Timeout: 60 * time.Second, // export tasks can be slow
		},
		logger:       logger,
		pollInterval: time.Second,
	}, nil
}

// Host returns the configured service host.
func (c *Client) Host() string {
	return c.host
}

func (c *Client) newRequest(ctx context.Context, method, url string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Auth-Token", c.token)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) doRaw(ctx context.Context, url string) (int, []byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, url)
	if err != nil {
		return 0, nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

// Get fetches a single nested JSON record, e.g. /api/media/123 or
// /api/annotation/456.
func (c *Client) Get(ctx context.Context, path string) (map[string]any, error) {
	status, body, err := c.doRaw(ctx, c.host+path)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("GET %s returned status %d", path, status)
	}

	var rec map[string]any
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse record from %s: %w", path, err)
	}
	return rec, nil
}

// CurrentUser returns the username of the authenticated principal. Used only
// for a login log line.
func (c *Client) CurrentUser(ctx context.Context) (string, error) {
	rec, err := c.Get(ctx, "/api/users/login")
	if err != nil {
		return "", fmt.Errorf("login check failed: %w", err)
	}
	username, _ := rec["username"].(string)
	if username == "" {
		return "", fmt.Errorf("login response carried no username")
	}
	return username, nil
}
