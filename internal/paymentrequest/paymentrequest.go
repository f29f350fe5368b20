package paymentrequest

import (
	"errors"
	"fmt"
	"time"

	"github.com/frahmantamala/peerpay/internal/autopay"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusPaid     Status = "paid"
	StatusDeclined Status = "declined"
)

// Request is a peer asking the wallet holder to pay. Recipient is where the
// money goes: an invoice, an address or a directory uri.
type Request struct {
	ID              string            `json:"id"`
	PeerID          string            `json:"peer_id"`
	Recipient       string            `json:"recipient"`
	Amount          int64             `json:"amount"`
	MethodID        string            `json:"method_id,omitempty"`
	InvoiceNumber   string            `json:"invoice_number,omitempty"`
	Description     string            `json:"description,omitempty"`
	Status          Status            `json:"status"`
	AutopayDecision *autopay.Decision `json:"autopay_decision,omitempty"`
	DeclineReason   string            `json:"decline_reason,omitempty"`
	ReceiptIDs      []string          `json:"receipt_ids"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
	PaidAt          *time.Time        `json:"paid_at,omitempty"`
}

var (
	ErrRequestNotFound = errors.New("payment request not found")
	ErrNotPending      = errors.New("payment request is no longer pending")
	ErrInFlight        = errors.New("payment request is already being paid")
)

// DeniedError reports a request the autopay policy declined. It stays
// declined; paying it means sending a fresh request.
type DeniedError struct {
	Reason string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("payment request denied by autopay: %s", e.Reason)
}

// deniedByPolicy reports whether the request was declined by an autopay
// denial rather than by the wallet holder.
func (r Request) deniedByPolicy() bool {
	return r.Status == StatusDeclined &&
		r.AutopayDecision != nil &&
		r.AutopayDecision.Outcome == autopay.OutcomeDenied
}
