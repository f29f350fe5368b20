package paymentrequest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/frahmantamala/peerpay/internal/autopay"
	"github.com/frahmantamala/peerpay/internal/core/events"
	"github.com/frahmantamala/peerpay/internal/kvstore"
	"github.com/frahmantamala/peerpay/internal/payment"
)

const keyPrefix = "payment_request:"

type Payer interface {
	Execute(ctx context.Context, intent payment.Intent) payment.Result
}

type PolicyEvaluator interface {
	Evaluate(peerID string, amount int64, methodID string) autopay.Decision
}

type EventPublisher interface {
	Publish(ctx context.Context, event events.Event) error
}

// Service owns incoming payment requests and their lifecycle:
// pending until paid or declined.
type Service struct {
	mu       sync.Mutex
	requests map[string]Request
	inflight map[string]bool

	store     kvstore.Store
	payer     Payer
	policy    PolicyEvaluator
	publisher EventPublisher
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(store kvstore.Store, payer Payer, policy PolicyEvaluator, publisher EventPublisher, logger *slog.Logger) *Service {
	return &Service{
		requests:  make(map[string]Request),
		inflight:  make(map[string]bool),
		store:     store,
		payer:     payer,
		policy:    policy,
		publisher: publisher,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Load(ctx context.Context) error {
	entries, err := s.store.List(ctx, keyPrefix)
	if err != nil {
		return fmt.Errorf("list payment requests: %w", err)
	}

	loaded := make(map[string]Request, len(entries))
	for _, e := range entries {
		var req Request
		if err := json.Unmarshal(e.Value, &req); err != nil {
			return fmt.Errorf("decode %s: %w", e.Key, err)
		}
		loaded[req.ID] = req
	}

	s.mu.Lock()
	s.requests = loaded
	s.mu.Unlock()

	s.logger.Info("payment requests loaded", "count", len(loaded))
	return nil
}

// Create records an incoming request and announces it so the autopay policy
// can decide on it.
func (s *Service) Create(ctx context.Context, in CreateRequest) (Request, error) {
	if err := in.Validate(); err != nil {
		return Request{}, err
	}

	now := s.now()
	req := Request{
		ID:            uuid.New().String(),
		PeerID:        strings.TrimSpace(in.PeerID),
		Recipient:     strings.TrimSpace(in.Recipient),
		Amount:        in.Amount,
		MethodID:      in.MethodID,
		InvoiceNumber: in.InvoiceNumber,
		Description:   in.Description,
		Status:        StatusPending,
		ReceiptIDs:    []string{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	s.mu.Lock()
	err := s.save(ctx, req)
	s.mu.Unlock()
	if err != nil {
		return Request{}, err
	}

	s.logger.Info("payment request received",
		"request_id", req.ID,
		"peer_id", req.PeerID,
		"amount", req.Amount)

	if s.publisher != nil {
		event := events.NewPaymentRequestReceivedEvent(req.ID, req.PeerID, req.Amount, req.MethodID)
		if err := s.publisher.Publish(ctx, event); err != nil {
			s.logger.Warn("failed to publish payment request event", "request_id", req.ID, "error", err)
		}
	}
	return req, nil
}

func (s *Service) Get(id string) (Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[id]
	if !ok {
		return Request{}, ErrRequestNotFound
	}
	return req, nil
}

// List returns requests newest first, optionally filtered by status.
func (s *Service) List(status Status) []Request {
	s.mu.Lock()
	out := make([]Request, 0, len(s.requests))
	for _, r := range s.requests {
		if status == "" || r.Status == status {
			out = append(out, r)
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (s *Service) Decline(ctx context.Context, id, reason string) (Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[id]
	if !ok {
		return Request{}, ErrRequestNotFound
	}
	if req.Status != StatusPending {
		return Request{}, ErrNotPending
	}
	if s.inflight[id] {
		return Request{}, ErrInFlight
	}

	req.Status = StatusDeclined
	req.DeclineReason = reason
	req.UpdatedAt = s.now()
	if err := s.save(ctx, req); err != nil {
		return Request{}, err
	}

	s.logger.Info("payment request declined", "request_id", id, "reason", reason)
	return req, nil
}

// Pay executes the payment for a pending request. A failed payment leaves
// the request pending so it can be retried; only one payment per request
// runs at a time.
func (s *Service) Pay(ctx context.Context, id, pin string, preAuthorized bool) (Request, payment.Result, error) {
	s.mu.Lock()
	req, ok := s.requests[id]
	switch {
	case !ok:
		s.mu.Unlock()
		return Request{}, payment.Result{}, ErrRequestNotFound
	case req.deniedByPolicy():
		s.mu.Unlock()
		return Request{}, payment.Result{}, &DeniedError{Reason: req.DeclineReason}
	case req.Status != StatusPending:
		s.mu.Unlock()
		return Request{}, payment.Result{}, ErrNotPending
	case s.inflight[id]:
		s.mu.Unlock()
		return Request{}, payment.Result{}, ErrInFlight
	}
	s.inflight[id] = true
	s.mu.Unlock()

	amount := req.Amount
	result := s.payer.Execute(ctx, payment.Intent{
		Recipient:       req.Recipient,
		Amount:          &amount,
		PeerID:          req.PeerID,
		RequestID:       req.ID,
		InvoiceNumber:   req.InvoiceNumber,
		ConfirmationPIN: pin,
		PreAuthorized:   preAuthorized,
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, id)

	// re-read: receipts may have been linked while the payment ran
	req = s.requests[id]
	if !result.Succeeded() {
		s.logger.Warn("payment request payment failed", "request_id", id, "code", result.Error.Code)
		return req, result, nil
	}

	now := s.now()
	req.Status = StatusPaid
	req.PaidAt = &now
	req.UpdatedAt = now
	if err := s.save(ctx, req); err != nil {
		s.logger.Error("failed to persist paid request", "request_id", id, "error", err)
		return req, result, nil
	}
	s.logger.Info("payment request paid", "request_id", id, "receipt_id", result.Receipt.ID)
	return req, result, nil
}

// LinkReceipt records a receipt against a request. Linking the same receipt
// twice is a no-op.
func (s *Service) LinkReceipt(ctx context.Context, requestID, receiptID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[requestID]
	if !ok {
		return ErrRequestNotFound
	}
	for _, existing := range req.ReceiptIDs {
		if existing == receiptID {
			return nil
		}
	}
	req.ReceiptIDs = append(append([]string(nil), req.ReceiptIDs...), receiptID)
	req.UpdatedAt = s.now()
	return s.save(ctx, req)
}

// save persists and caches req. Callers hold mu.
func (s *Service) save(ctx context.Context, req Request) error {
	if err := kvstore.PutJSON(ctx, s.store, keyPrefix+req.ID, req); err != nil {
		return fmt.Errorf("persist payment request: %w", err)
	}
	s.requests[req.ID] = req
	return nil
}

func (s *Service) recordDecision(ctx context.Context, id string, decision autopay.Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[id]
	if !ok {
		return ErrRequestNotFound
	}
	req.AutopayDecision = &decision
	req.UpdatedAt = s.now()
	return s.save(ctx, req)
}
