// Package incidents forwards remediation incidents to an external collector
// (a log pipeline, SIEM or chat bridge) over HTTP.
package incidents

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/invisible-tech/autoheal-remediator/internal/types"
	"github.com/invisible-tech/autoheal-remediator/internal/version"
)

// Client posts incidents to a collector endpoint.
type Client struct {
	endpoint   string
	token      string
	httpClient *http.Client
	log        *logrus.Logger
}

// Config for the incident sink client.
type Config struct {
	Endpoint string
	Token    string
	Timeout  time.Duration
}

// NewClient creates a new incident sink client.
func NewClient(cfg Config, log *logrus.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Client{
		endpoint:   cfg.Endpoint,
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        log,
	}
}

// Send posts a single incident.
func (c *Client) Send(ctx context.Context, incident *types.Incident) error {
	if c.endpoint == "" {
		return fmt.Errorf("incident sink not configured")
	}
	return c.sendJSON(ctx, c.endpoint+"/api/v1/incidents", incident)
}

func (c *Client) sendJSON(ctx context.Context, url string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "autoheal-remediator/"+version.Version)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	c.log.WithFields(logrus.Fields{"url": url, "status": resp.StatusCode}).Debug("Incident delivered")
	return nil
}

// HealthCheck checks that the collector is reachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c.endpoint == "" {
		return fmt.Errorf("incident sink not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to check health: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status: %d", resp.StatusCode)
	}
	return nil
}
