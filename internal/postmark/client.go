// Package postmark is a minimal client for the Postmark REST API covering
// the send, outbound search and outbound detail endpoints.
package postmark

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

	"github.io/infrasutra/mailbridge/internal/config"
	"github.io/infrasutra/mailbridge/internal/metrics"
	"github.io/infrasutra/mailbridge/internal/outbound"
)

const (
	DefaultAPIURL = "https://api.postmarkapp.com"

	tokenHeader = "X-Postmark-Server-Token"

	// maxResponseBytes bounds how much of a provider reply is buffered.
	maxResponseBytes = 10 << 20
)

// Client implements outbound.Upstream against the Postmark API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

func New(cfg config.PostmarkConfig, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return newWithOverrides(cfg, &http.Client{Timeout: timeout}, logger)
}

// newWithOverrides creates a Client with a custom HTTP client, used for testing.
func newWithOverrides(cfg config.PostmarkConfig, client *http.Client, logger *slog.Logger) *Client {
	baseURL := strings.TrimRight(cfg.APIURL, "/")
	if baseURL == "" {
		baseURL = DefaultAPIURL
	}
	return &Client{
		baseURL:    baseURL,
		token:      cfg.ServerToken,
		httpClient: client,
		logger:     logger,
	}
}

// Send submits one message to POST /email.
func (c *Client) Send(ctx context.Context, message outbound.Message) (outbound.UpstreamResponse, error) {
	body, err := json.Marshal(message)
	if err != nil {
		return outbound.UpstreamResponse{}, fmt.Errorf("encode message: %w", err)
	}
	return c.do(ctx, "send", http.MethodPost, c.baseURL+"/email", body)
}

// List searches sent messages with GET /messages/outbound.
func (c *Client) List(ctx context.Context, params url.Values) (outbound.UpstreamResponse, error) {
	endpoint := c.baseURL + "/messages/outbound"
	if encoded := params.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}
	return c.do(ctx, "list", http.MethodGet, endpoint, nil)
}

// Retrieve fetches GET /messages/outbound/{id}/details.
func (c *Client) Retrieve(ctx context.Context, messageID string) (outbound.UpstreamResponse, error) {
	endpoint := c.baseURL + "/messages/outbound/" + url.PathEscape(messageID) + "/details"
	return c.do(ctx, "retrieve", http.MethodGet, endpoint, nil)
}

func (c *Client) do(ctx context.Context, operation, method, endpoint string, body []byte) (outbound.UpstreamResponse, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return outbound.UpstreamResponse{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(tokenHeader, c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordUpstreamCall(operation, 0, time.Since(start))
		return outbound.UpstreamResponse{}, fmt.Errorf("postmark %s: %w", operation, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	metrics.RecordUpstreamCall(operation, resp.StatusCode, time.Since(start))
	if err != nil {
		return outbound.UpstreamResponse{}, fmt.Errorf("postmark %s: read response: %w", operation, err)
	}
	if resp.StatusCode >= 300 {
		c.logger.Warn("postmark rejected request", "operation", operation, "status", resp.StatusCode)
	}
	return outbound.UpstreamResponse{Status: resp.StatusCode, Body: payload}, nil
}
