// Package settlement is the client side of the external settlement engine
// that actually moves funds.
package settlement

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

	"github.com/google/uuid"
)

const (
	statusPending   = "pending"
	statusSucceeded = "succeeded"
	statusFailed    = "failed"
)

type Config struct {
	BaseURL        string
	APIKey         string
	CallbackURL    string
	RequestTimeout time.Duration
	SettleTimeout  time.Duration
}

// EngineError carries the engine's own explanation of a rejected call.
type EngineError struct {
	StatusCode int
	Message    string
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("settlement engine returned %d: %s", e.StatusCode, e.Message)
}

type SettleResult struct {
	ExecutionID string `json:"execution_id"`
	Succeeded   bool   `json:"succeeded"`
	Error       string `json:"error,omitempty"`
}

type LightningPayment struct {
	PaymentHash string `json:"payment_hash"`
	Preimage    string `json:"preimage"`
	FeeMsat     int64  `json:"fee_msat"`
}

// FeeSats rounds the routing fee up to whole sats.
func (p LightningPayment) FeeSats() int64 {
	if p.FeeMsat <= 0 {
		return 0
	}
	return (p.FeeMsat + 999) / 1000
}

type OnchainPayment struct {
	Txid    string `json:"txid"`
	FeeSats int64  `json:"fee_sats"`
}

// Transaction is the engine's view of a broadcast. Dropped is set once the
// engine gives up on it, e.g. evicted from the mempool or double-spent.
type Transaction struct {
	Txid          string `json:"txid"`
	Confirmations int    `json:"confirmations"`
	Dropped       bool   `json:"dropped"`
	Reason        string `json:"reason,omitempty"`
}

type Client struct {
	config     Config
	httpClient *http.Client
	pending    *PendingTable
	logger     *slog.Logger
}

func NewClient(config Config, pending *PendingTable, logger *slog.Logger) *Client {
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 30 * time.Second
	}
	if config.SettleTimeout <= 0 {
		config.SettleTimeout = 60 * time.Second
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if pending == nil {
		pending = NewPendingTable()
	}
	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.RequestTimeout},
		pending:    pending,
		logger:     logger,
	}
}

func (c *Client) Pending() *PendingTable {
	return c.pending
}

// Settle pays a directory-routed method. The engine either answers inline
// with a final status or acknowledges with "pending" and reports the outcome
// later on the callback URL, keyed by the correlation id sent here.
func (c *Client) Settle(ctx context.Context, methodID, endpoint string, amount int64, metadata map[string]string) (SettleResult, error) {
	correlationID := uuid.New().String()
	ch, err := c.pending.Register(correlationID)
	if err != nil {
		return SettleResult{}, err
	}

	payload := map[string]interface{}{
		"correlation_id": correlationID,
		"method_id":      methodID,
		"endpoint":       endpoint,
		"amount":         amount,
		"metadata":       metadata,
		"callback_url":   c.config.CallbackURL,
	}

	var ack struct {
		ExecutionID string `json:"execution_id"`
		Status      string `json:"status"`
		Error       string `json:"error"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/settlements", payload, &ack); err != nil {
		c.pending.Cancel(correlationID)
		return SettleResult{}, err
	}

	c.logger.Info("settlement submitted",
		"correlation_id", correlationID,
		"method_id", methodID,
		"execution_id", ack.ExecutionID,
		"status", ack.Status)

	switch ack.Status {
	case statusSucceeded, statusFailed:
		c.pending.Cancel(correlationID)
		return SettleResult{ExecutionID: ack.ExecutionID, Succeeded: ack.Status == statusSucceeded, Error: ack.Error}, nil
	case statusPending, "":
	default:
		c.pending.Cancel(correlationID)
		return SettleResult{}, fmt.Errorf("unexpected settlement status %q", ack.Status)
	}

	outcome, err := c.pending.Wait(ctx, correlationID, ch, c.config.SettleTimeout)
	if err != nil {
		c.logger.Warn("settlement callback not received",
			"correlation_id", correlationID,
			"method_id", methodID,
			"error", err)
		return SettleResult{ExecutionID: ack.ExecutionID}, err
	}

	if outcome.ExecutionID == "" {
		outcome.ExecutionID = ack.ExecutionID
	}
	return SettleResult{ExecutionID: outcome.ExecutionID, Succeeded: outcome.Succeeded, Error: outcome.Error}, nil
}

// PayLightning pays a BOLT11 invoice. amount is only sent for invoices that
// carry no amount of their own.
func (c *Client) PayLightning(ctx context.Context, invoice string, amount *int64) (LightningPayment, error) {
	payload := map[string]interface{}{"invoice": invoice}
	if amount != nil {
		payload["amount_sats"] = *amount
	}

	var out LightningPayment
	if err := c.do(ctx, http.MethodPost, "/v1/lightning/pay", payload, &out); err != nil {
		return LightningPayment{}, err
	}
	if out.PaymentHash == "" {
		return LightningPayment{}, fmt.Errorf("lightning payment returned no payment hash")
	}
	return out, nil
}

func (c *Client) PayOnchain(ctx context.Context, address string, amount int64, feeRate *float64) (OnchainPayment, error) {
	payload := map[string]interface{}{
		"address":     address,
		"amount_sats": amount,
	}
	if feeRate != nil {
		payload["fee_rate"] = *feeRate
	}

	var out OnchainPayment
	if err := c.do(ctx, http.MethodPost, "/v1/onchain/send", payload, &out); err != nil {
		return OnchainPayment{}, err
	}
	if out.Txid == "" {
		return OnchainPayment{}, fmt.Errorf("on-chain send returned no txid")
	}
	return out, nil
}

func (c *Client) GetTransaction(ctx context.Context, txid string) (Transaction, error) {
	var out Transaction
	if err := c.do(ctx, http.MethodGet, "/v1/onchain/transactions/"+url.PathEscape(txid), nil, &out); err != nil {
		return Transaction{}, err
	}
	if out.Txid == "" {
		out.Txid = txid
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal settlement request: %w", err)
		}
		reader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	c.logger.Debug("settlement engine call",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &EngineError{StatusCode: resp.StatusCode, Message: engineMessage(respBody)}
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

func engineMessage(body []byte) string {
	var parsed struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		if parsed.Error != "" {
			return parsed.Error
		}
		if parsed.Message != "" {
			return parsed.Message
		}
	}
	return strings.TrimSpace(string(body))
}
