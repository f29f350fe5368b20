package payment

import (
	"context"

	"github.com/frahmantamala/peerpay/internal"
	"github.com/frahmantamala/peerpay/internal/core/events"
	"github.com/frahmantamala/peerpay/internal/directory"
	"github.com/frahmantamala/peerpay/internal/limit"
	"github.com/frahmantamala/peerpay/internal/receipt"
	"github.com/frahmantamala/peerpay/internal/settlement"
)

// Intent is one request to pay. Amount is in sats and may be omitted only
// for Lightning invoices that carry their own amount.
type Intent struct {
	Recipient     string            `json:"recipient"`
	Amount        *int64            `json:"amount,omitempty"`
	FeeRate       *float64          `json:"fee_rate,omitempty"`
	PeerID        string            `json:"peer_id,omitempty"`
	RequestID     string            `json:"request_id,omitempty"`
	InvoiceNumber string            `json:"invoice_number,omitempty"`
	Strategy      string            `json:"strategy,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`

	// ConfirmationPIN answers the confirmation gate for large payments.
	ConfirmationPIN string `json:"-"`
	// PreAuthorized marks payments already approved by the autopay policy.
	PreAuthorized   bool   `json:"-"`
}

type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Result is the terminal outcome of one Execute run. Error is set exactly
// when Status is failed.
type Result struct {
	Status   Status             `json:"status"`
	Kind     TargetKind         `json:"kind"`
	Receipt  *receipt.Receipt   `json:"receipt,omitempty"`
	Attempts []receipt.Attempt  `json:"attempts"`
	Error    *internal.AppError `json:"error,omitempty"`
}

func (r Result) Succeeded() bool {
	return r.Status == StatusSucceeded
}

// Stable, user-facing messages for terminal outcomes.
const (
	MsgInvalidRecipient      = "The recipient is not a valid Lightning invoice, Bitcoin address or payment link"
	MsgAmountRequired        = "An amount is required for this payment"
	MsgInvalidAmount         = "The amount must be a positive number of sats"
	MsgPeerMismatch          = "The recipient link belongs to a different peer"
	MsgLimitExceeded         = "This payment would exceed your spending limit"
	MsgLimitUnavailable      = "Your spending limit could not be checked, please try again"
	MsgNoPaymentMethods      = "This recipient has no payment methods available"
	MsgConfirmationRequired  = "This payment needs your confirmation"
	MsgInsufficientFunds     = "Insufficient funds to complete this payment"
	MsgAlreadyPaid           = "This invoice has already been paid"
	MsgInvoiceExpired        = "This invoice has expired"
	MsgAmountTooLow          = "The amount is below the minimum for this payment method"
	MsgPermanentlyFailed     = "The payment failed and cannot be retried"
	MsgAllMethodsFailed      = "The payment could not be completed with any available method"
	MsgPaymentCancelled      = "The payment was cancelled"
	MsgUnexpectedFailure     = "The payment could not be completed"
	defaultFailureAttemptMsg = "settlement failed"
)

type LimitReserver interface {
	Reserve(ctx context.Context, scope limit.Scope, amount int64) (*limit.Reservation, error)
	Commit(ctx context.Context, id string) error
	Rollback(ctx context.Context, id string) error
}

type CandidateResolver interface {
	ResolveOrdered(ctx context.Context, peerID string, amount int64, strategy string) ([]directory.Candidate, error)
}

type Settler interface {
	Settle(ctx context.Context, methodID, endpoint string, amount int64, metadata map[string]string) (settlement.SettleResult, error)
	PayLightning(ctx context.Context, invoice string, amount *int64) (settlement.LightningPayment, error)
	PayOnchain(ctx context.Context, address string, amount int64, feeRate *float64) (settlement.OnchainPayment, error)
}

type ReceiptRecorder interface {
	Add(ctx context.Context, r receipt.Receipt) error
	LinkToRequest(ctx context.Context, receiptID, requestID string) error
}

type ConfirmationTracker interface {
	Track(receiptID, txid string) error
}

// Gate confirms a user-initiated payment, e.g. by checking a PIN.
type Gate interface {
	Confirm(ctx context.Context, pin string) error
}

type EventPublisher interface {
	Publish(ctx context.Context, event events.Event) error
}
