package receipt

import (
	"errors"
	"time"
)

type Type string

const (
	TypeLightning Type = "lightning"
	TypeOnchain   Type = "onchain"
	TypeUnknown   Type = "unknown"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Attempt records one settlement try against a single payment method.
type Attempt struct {
	MethodID     string `json:"method_id"`
	Succeeded    bool   `json:"succeeded"`
	ErrorMessage string `json:"error_message,omitempty"`
	ExecutionID  string `json:"execution_id,omitempty"`
}

// Receipt is the durable record of one payment run. Amount and Fee are in
// sats.
type Receipt struct {
	ID            string    `json:"id"`
	Type          Type      `json:"type"`
	Recipient     string    `json:"recipient"`
	Amount        int64     `json:"amount"`
	Fee           int64     `json:"fee"`
	PaymentHash   string    `json:"payment_hash,omitempty"`
	Preimage      string    `json:"preimage,omitempty"`
	Txid          string    `json:"txid,omitempty"`
	PeerID        string    `json:"peer_id,omitempty"`
	MethodID      string    `json:"method_id,omitempty"`
	RequestID     string    `json:"request_id,omitempty"`
	InvoiceNumber string    `json:"invoice_number,omitempty"`
	FailureReason string    `json:"failure_reason,omitempty"`
	Attempts      []Attempt `json:"attempts,omitempty"`
	Status        Status    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (r Receipt) IsPending() bool {
	return r.Status == StatusPending
}

var (
	ErrReceiptNotFound  = errors.New("receipt not found")
	ErrReceiptExists    = errors.New("receipt already exists")
	ErrInvalidReceipt   = errors.New("receipt requires an id")
	ErrAlreadyFinalized = errors.New("receipt already finalized")
)
