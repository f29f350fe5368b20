// Package directory talks to the remote peer directory: which payment
// methods a peer advertises, and which of them to prefer for a payment.
package directory

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
)

// Candidate is one payment method a peer advertises.
type Candidate struct {
	MethodID string `json:"method_id"`
	Endpoint string `json:"endpoint"`
}

// Selection is the directory's preference order for a payment.
type Selection struct {
	PrimaryMethodID   string   `json:"primary_method_id"`
	FallbackMethodIDs []string `json:"fallback_method_ids"`
}

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(config Config, logger *slog.Logger) *Client {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		apiKey:     config.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// DiscoverMethods lists the methods a peer has published. A peer that has
// published nothing yields an empty slice, not an error.
func (c *Client) DiscoverMethods(ctx context.Context, peerID string) ([]Candidate, error) {
	var resp struct {
		Methods []Candidate `json:"methods"`
	}

	endpoint := fmt.Sprintf("%s/v1/peers/%s/methods", c.baseURL, url.PathEscape(peerID))
	status, err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	if status == http.StatusNotFound {
		c.logger.Debug("peer not in directory", "peer_id", peerID)
		return []Candidate{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("discover methods for %s: %w", peerID, err)
	}

	methods := make([]Candidate, 0, len(resp.Methods))
	for _, m := range resp.Methods {
		if m.MethodID == "" {
			continue
		}
		methods = append(methods, m)
	}

	c.logger.Debug("directory methods discovered", "peer_id", peerID, "count", len(methods))
	return methods, nil
}

// SelectMethod asks the directory to rank candidates for amount under the
// named strategy.
func (c *Client) SelectMethod(ctx context.Context, candidates []Candidate, amount int64, strategy string) (Selection, error) {
	payload := map[string]interface{}{
		"candidates": candidates,
		"amount":     amount,
		"strategy":   strategy,
	}

	var sel Selection
	if _, err := c.do(ctx, http.MethodPost, c.baseURL+"/v1/select", payload, &sel); err != nil {
		return Selection{}, fmt.Errorf("select method: %w", err)
	}
	if sel.PrimaryMethodID == "" {
		return Selection{}, fmt.Errorf("select method: empty primary method")
	}
	return sel, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body, out interface{}) (int, error) {
	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("directory request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return resp.StatusCode, fmt.Errorf("directory returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}
