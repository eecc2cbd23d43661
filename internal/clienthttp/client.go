// Package clienthttp reads a paceserv status endpoint.
package clienthttp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sheerbytes/paceline/internal/session"
)

const requestTimeout = 5 * time.Second

// Health is the body of GET /healthz.
type Health struct {
	OK              bool  `json:"ok"`
	ActiveTransfers int64 `json:"active_transfers"`
	LiveSessions    int   `json:"live_sessions"`
	QueuedTasks     int   `json:"queued_tasks"`
	BusyWorkers     int   `json:"busy_workers"`
	Workers         int   `json:"workers"`
}

// Client talks to one status endpoint.
type Client struct {
	baseURL string
	http    *http.Client
}

// New returns a client for serverURL. A bare host:port is taken as http.
func New(serverURL string) *Client {
	if !strings.HasPrefix(serverURL, "http://") && !strings.HasPrefix(serverURL, "https://") {
		serverURL = "http://" + serverURL
	}
	return &Client{
		baseURL: strings.TrimSuffix(serverURL, "/"),
		http:    &http.Client{Timeout: requestTimeout},
	}
}

// Health calls GET /healthz.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var h Health
	if err := c.get(ctx, "/healthz", &h); err != nil {
		return Health{}, err
	}
	return h, nil
}

// Sessions calls GET /sessions.
func (c *Client) Sessions(ctx context.Context) ([]session.Info, error) {
	var infos []session.Info
	if err := c.get(ctx, "/sessions", &infos); err != nil {
		return nil, err
	}
	return infos, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}
