package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/frahmantamala/peerpay/internal"
	"github.com/frahmantamala/peerpay/internal/core/events"
	"github.com/frahmantamala/peerpay/internal/directory"
	"github.com/frahmantamala/peerpay/internal/limit"
	"github.com/frahmantamala/peerpay/internal/metrics"
	"github.com/frahmantamala/peerpay/internal/receipt"
)

const (
	MethodLightning = "lightning"
	MethodOnchain   = "onchain"
)

// nonRetryablePatterns mark settlement failures where the attempt may
// already have taken effect or can never succeed. Matching is a
// case-insensitive substring test.
var nonRetryablePatterns = []string{
	"already paid",
	"duplicate payment",
	"duplicate invoice",
	"insufficient balance",
	"insufficient funds",
	"invoice expired",
	"payment hash already exists",
	"invoice already paid",
	"amount too low",
	"amount below minimum",
	"permanently failed",
}

func IsNonRetryable(message string) bool {
	lower := strings.ToLower(message)
	for _, p := range nonRetryablePatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

type Dependencies struct {
	Limits    LimitReserver
	Resolver  CandidateResolver
	Settler   Settler
	Receipts  ReceiptRecorder
	Tracker   ConfirmationTracker
	Gate      Gate
	Publisher EventPublisher
}

type ExecutorConfig struct {
	// ConfirmationThreshold is the amount in sats above which a payment not
	// covered by a spending limit must pass the gate. Zero disables the gate.
	ConfirmationThreshold int64
	DefaultStrategy       string
}

// Executor drives one payment from classification to receipt. It holds no
// payment state between runs.
type Executor struct {
	deps   Dependencies
	config ExecutorConfig
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

func NewExecutor(deps Dependencies, config ExecutorConfig, logger *slog.Logger) *Executor {
	if config.DefaultStrategy == "" {
		config.DefaultStrategy = DefaultStrategy
	}
	return &Executor{
		deps:   deps,
		config: config,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  func() string { return uuid.New().String() },
	}
}

// run carries the working state of a single Execute call.
type run struct {
	intent       Intent
	kind         TargetKind
	peerID       string
	reservations []*limit.Reservation
	attempts     []receipt.Attempt
	settled      *settledPayment
	failure      *internal.AppError
}

// settledPayment holds what the engine reported for the successful attempt.
type settledPayment struct {
	methodID    string
	rail        receipt.Type
	paymentHash string
	preimage    string
	txid        string
	fee         int64
}

// Execute runs the payment pipeline. Every outcome, including failure, is
// reported through the Result and recorded as a receipt; reservations taken
// along the way are committed on success and rolled back otherwise.
func (e *Executor) Execute(ctx context.Context, intent Intent) Result {
	r := &run{intent: intent, kind: Classify(intent.Recipient), peerID: intent.PeerID}
	log := e.logger.With("recipient_kind", r.kind, "request_id", intent.RequestID)

	// finalization must complete even if the caller went away
	finalCtx := context.WithoutCancel(ctx)
	defer func() {
		if p := recover(); p != nil {
			log.Error("payment panicked, releasing reservations", "panic", p)
			e.rollbackAll(finalCtx, log, r.reservations)
			panic(p)
		}
	}()

	e.drive(ctx, log, r)

	if r.failure == nil {
		e.commitAll(finalCtx, log, r.reservations)
	} else {
		e.rollbackAll(finalCtx, log, r.reservations)
	}

	return e.finish(finalCtx, log, r)
}

func (e *Executor) drive(ctx context.Context, log *slog.Logger, r *run) {
	// Classifying
	if r.kind == TargetUnknown {
		r.failure = internal.NewValidationError(MsgInvalidRecipient, internal.ErrCodeInvalidRecipient)
		return
	}
	if r.intent.Amount == nil && r.kind != TargetLightning {
		r.failure = internal.NewValidationError(MsgAmountRequired, internal.ErrCodeAmountRequired)
		return
	}
	if r.intent.Amount != nil && *r.intent.Amount <= 0 {
		r.failure = internal.NewValidationError(MsgInvalidAmount, internal.ErrCodeInvalidAmount)
		return
	}
	if r.kind == TargetDirectory {
		key := DirectoryKey(r.intent.Recipient)
		if r.peerID != "" && r.peerID != key {
			r.failure = internal.NewValidationError(MsgPeerMismatch, internal.ErrCodeInvalidRecipient)
			return
		}
		r.peerID = key
	}

	// LimitReserving
	if r.peerID != "" && r.intent.Amount != nil {
		if failure := e.reserve(ctx, log, r); failure != nil {
			r.failure = failure
			return
		}
	}

	candidates, failure := e.candidates(ctx, log, r)
	if failure != nil {
		r.failure = failure
		return
	}

	if failure := e.confirm(ctx, r); failure != nil {
		r.failure = failure
		return
	}

	// Attempting
	var nonRetryable bool
	for _, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			r.failure = internal.NewCancelledError(MsgPaymentCancelled, err)
			return
		}

		attempt, settled := e.attempt(ctx, log, r, candidate)
		r.attempts = append(r.attempts, attempt)
		if attempt.Succeeded {
			r.settled = settled
			return
		}
		if IsNonRetryable(attempt.ErrorMessage) {
			log.Warn("non-retryable settlement failure, not trying fallbacks",
				"method_id", candidate.MethodID,
				"error", attempt.ErrorMessage)
			nonRetryable = true
			break
		}
	}

	if err := ctx.Err(); err != nil {
		r.failure = internal.NewCancelledError(MsgPaymentCancelled, err)
		return
	}
	last := r.attempts[len(r.attempts)-1].ErrorMessage
	if nonRetryable {
		r.failure = internal.NewPaymentError(nonRetryableMessage(last), internal.ErrCodePaymentFailed, errors.New(last))
		return
	}
	r.failure = internal.NewExternalError(MsgAllMethodsFailed, internal.ErrCodePaymentFailed, errors.New(last))
}

// reserve takes the peer reservation and then the global one. Scopes with no
// configured limit are not constrained.
func (e *Executor) reserve(ctx context.Context, log *slog.Logger, r *run) *internal.AppError {
	amount := *r.intent.Amount
	for _, scope := range []limit.Scope{limit.PeerScope(r.peerID), limit.GlobalScope()} {
		res, err := e.deps.Limits.Reserve(ctx, scope, amount)
		if err == nil {
			r.reservations = append(r.reservations, res)
			continue
		}
		if errors.Is(err, limit.ErrLimitNotFound) {
			continue
		}

		e.rollbackAll(context.WithoutCancel(ctx), log, r.reservations)
		r.reservations = nil

		if exceed, ok := limit.IsWouldExceed(err); ok {
			log.Info("payment blocked by spending limit",
				"scope", scope.String(),
				"amount", amount,
				"remaining", exceed.Remaining)
			return internal.NewPaymentError(MsgLimitExceeded, internal.ErrCodeSpendingLimitExceeded, err).
				WithDetails(map[string]interface{}{
					"scope":     scope.String(),
					"remaining": exceed.Remaining,
				})
		}
		log.Error("spending limit reservation failed", "scope", scope.String(), "error", err)
		return internal.NewInternalError(MsgLimitUnavailable, err)
	}
	return nil
}

func (e *Executor) candidates(ctx context.Context, log *slog.Logger, r *run) ([]directory.Candidate, *internal.AppError) {
	switch r.kind {
	case TargetLightning:
		return []directory.Candidate{{MethodID: MethodLightning, Endpoint: NormalizeTarget(r.intent.Recipient)}}, nil
	case TargetOnchain:
		return []directory.Candidate{{MethodID: MethodOnchain, Endpoint: NormalizeTarget(r.intent.Recipient)}}, nil
	}

	strategy := r.intent.Strategy
	if strategy == "" {
		strategy = e.config.DefaultStrategy
	}
	found, err := e.deps.Resolver.ResolveOrdered(ctx, r.peerID, *r.intent.Amount, strategy)
	if err != nil {
		log.Warn("method discovery failed", "peer_id", r.peerID, "error", err)
		return nil, internal.NewExternalError(MsgNoPaymentMethods, internal.ErrCodeNoPaymentMethods, err)
	}
	if len(found) == 0 {
		return nil, internal.NewPaymentError(MsgNoPaymentMethods, internal.ErrCodeNoPaymentMethods, nil)
	}
	return found, nil
}

// confirm applies the confirmation gate. A reservation against a standing
// limit, or an autopay approval, already authorizes the payment. An invoice
// that carries its own amount is treated as above the threshold.
func (e *Executor) confirm(ctx context.Context, r *run) *internal.AppError {
	if e.config.ConfirmationThreshold <= 0 || e.deps.Gate == nil {
		return nil
	}
	if r.intent.PreAuthorized || len(r.reservations) > 0 {
		return nil
	}
	if r.intent.Amount != nil && *r.intent.Amount <= e.config.ConfirmationThreshold {
		return nil
	}
	if err := e.deps.Gate.Confirm(ctx, r.intent.ConfirmationPIN); err != nil {
		if appErr, ok := internal.IsAppError(err); ok {
			return appErr
		}
		return internal.NewForbiddenError(MsgConfirmationRequired, internal.ErrCodeConfirmationRequired).WithCause(err)
	}
	return nil
}

// attempt settles through a single candidate. A panic from the settlement
// collaborator is recorded as a failed attempt.
func (e *Executor) attempt(ctx context.Context, log *slog.Logger, r *run, candidate directory.Candidate) (attempt receipt.Attempt, settled *settledPayment) {
	attempt.MethodID = candidate.MethodID
	start := time.Now()

	defer func() {
		if p := recover(); p != nil {
			log.Error("settlement panicked", "method_id", candidate.MethodID, "panic", p)
			attempt.Succeeded = false
			attempt.ErrorMessage = fmt.Sprintf("unexpected settlement error: %v", p)
			settled = nil
		}

		result := "failed"
		if attempt.Succeeded {
			result = "succeeded"
		}
		metrics.SettlementAttempts.WithLabelValues(candidate.MethodID, result).Inc()
		metrics.SettlementDuration.WithLabelValues(candidate.MethodID).Observe(time.Since(start).Seconds())
		log.Info("settlement attempt",
			"method_id", candidate.MethodID,
			"succeeded", attempt.Succeeded,
			"error", attempt.ErrorMessage,
			"duration", time.Since(start))
	}()

	switch r.kind {
	case TargetLightning:
		paid, err := e.deps.Settler.PayLightning(ctx, candidate.Endpoint, r.intent.Amount)
		if err != nil {
			attempt.ErrorMessage = err.Error()
			return attempt, nil
		}
		attempt.Succeeded = true
		attempt.ExecutionID = paid.PaymentHash
		return attempt, &settledPayment{
			methodID:    candidate.MethodID,
			rail:        receipt.TypeLightning,
			paymentHash: paid.PaymentHash,
			preimage:    paid.Preimage,
			fee:         paid.FeeSats(),
		}

	case TargetOnchain:
		sent, err := e.deps.Settler.PayOnchain(ctx, candidate.Endpoint, *r.intent.Amount, r.intent.FeeRate)
		if err != nil {
			attempt.ErrorMessage = err.Error()
			return attempt, nil
		}
		attempt.Succeeded = true
		attempt.ExecutionID = sent.Txid
		return attempt, &settledPayment{
			methodID: candidate.MethodID,
			rail:     receipt.TypeOnchain,
			txid:     sent.Txid,
			fee:      sent.FeeSats,
		}

	default:
		res, err := e.deps.Settler.Settle(ctx, candidate.MethodID, candidate.Endpoint, *r.intent.Amount, r.intent.Metadata)
		attempt.ExecutionID = res.ExecutionID
		if err != nil {
			attempt.ErrorMessage = err.Error()
			return attempt, nil
		}
		if !res.Succeeded {
			attempt.ErrorMessage = res.Error
			if attempt.ErrorMessage == "" {
				attempt.ErrorMessage = defaultFailureAttemptMsg
			}
			return attempt, nil
		}
		attempt.Succeeded = true
		return attempt, &settledPayment{
			methodID: candidate.MethodID,
			rail:     railForMethod(candidate.MethodID),
		}
	}
}

func (e *Executor) commitAll(ctx context.Context, log *slog.Logger, reservations []*limit.Reservation) {
	for _, res := range reservations {
		if err := e.deps.Limits.Commit(ctx, res.ID); err != nil {
			log.Error("reservation commit failed", "reservation_id", res.ID, "scope", res.Scope.String(), "error", err)
		}
	}
}

func (e *Executor) rollbackAll(ctx context.Context, log *slog.Logger, reservations []*limit.Reservation) {
	for _, res := range reservations {
		if err := e.deps.Limits.Rollback(ctx, res.ID); err != nil {
			log.Error("reservation rollback failed", "reservation_id", res.ID, "scope", res.Scope.String(), "error", err)
		}
	}
}

// finish records the receipt and announces the outcome. Nothing here may
// change the result reported to the caller.
func (e *Executor) finish(ctx context.Context, log *slog.Logger, r *run) Result {
	result := Result{
		Kind:     r.kind,
		Attempts: r.attempts,
	}
	if result.Attempts == nil {
		result.Attempts = []receipt.Attempt{}
	}

	rec := e.buildReceipt(r)
	result.Receipt = &rec
	if r.failure != nil {
		result.Status = StatusFailed
		result.Error = r.failure
	} else {
		result.Status = StatusSucceeded
	}

	persisted := true
	if e.deps.Receipts != nil {
		if err := e.deps.Receipts.Add(ctx, rec); err != nil {
			persisted = false
			metrics.ReceiptPersistFailures.Inc()
			log.Error("failed to persist receipt", "receipt_id", rec.ID, "error", err)
		}
	}

	if persisted && rec.RequestID != "" && e.deps.Receipts != nil {
		if err := e.deps.Receipts.LinkToRequest(ctx, rec.ID, rec.RequestID); err != nil {
			log.Warn("failed to link receipt to request", "receipt_id", rec.ID, "request_id", rec.RequestID, "error", err)
		}
	}

	if persisted && rec.Status == receipt.StatusPending && rec.Txid != "" && e.deps.Tracker != nil {
		if err := e.deps.Tracker.Track(rec.ID, rec.Txid); err != nil {
			log.Warn("confirmation tracking not started, sweep will pick it up", "receipt_id", rec.ID, "error", err)
		}
	}

	e.publish(ctx, log, r, rec)

	metrics.PaymentsTotal.WithLabelValues(string(r.kind), string(result.Status)).Inc()
	if result.Succeeded() {
		log.Info("payment succeeded",
			"receipt_id", rec.ID,
			"peer_id", rec.PeerID,
			"method_id", rec.MethodID,
			"amount", rec.Amount,
			"fee", rec.Fee,
			"attempts", len(r.attempts))
	} else {
		log.Warn("payment failed",
			"receipt_id", rec.ID,
			"peer_id", rec.PeerID,
			"code", r.failure.Code,
			"error", r.failure,
			"attempts", len(r.attempts))
	}

	return result
}

func (e *Executor) buildReceipt(r *run) receipt.Receipt {
	rec := receipt.Receipt{
		ID:            e.newID(),
		Type:          receipt.TypeUnknown,
		Recipient:     r.intent.Recipient,
		PeerID:        r.peerID,
		RequestID:     r.intent.RequestID,
		InvoiceNumber: r.intent.InvoiceNumber,
		Attempts:      r.attempts,
		CreatedAt:     e.now(),
	}
	if r.intent.Amount != nil {
		rec.Amount = *r.intent.Amount
	}
	switch r.kind {
	case TargetLightning:
		rec.Type = receipt.TypeLightning
	case TargetOnchain:
		rec.Type = receipt.TypeOnchain
	}

	if r.failure != nil {
		rec.Status = receipt.StatusFailed
		rec.FailureReason = r.failure.Message
		if n := len(r.attempts); n > 0 {
			rec.MethodID = r.attempts[n-1].MethodID
			if rec.Type == receipt.TypeUnknown {
				rec.Type = railForMethod(rec.MethodID)
			}
		}
		return rec
	}

	s := r.settled
	rec.MethodID = s.methodID
	rec.Type = s.rail
	rec.PaymentHash = s.paymentHash
	rec.Preimage = s.preimage
	rec.Txid = s.txid
	rec.Fee = s.fee
	rec.Status = receipt.StatusSucceeded
	if s.rail == receipt.TypeOnchain && s.txid != "" {
		rec.Status = receipt.StatusPending
	}
	return rec
}

func (e *Executor) publish(ctx context.Context, log *slog.Logger, r *run, rec receipt.Receipt) {
	if e.deps.Publisher == nil {
		return
	}

	var event events.Event
	if r.failure == nil {
		event = events.NewPaymentSucceededEvent(rec.ID, string(r.kind), rec.Recipient, rec.PeerID, rec.RequestID, rec.Amount, rec.Fee, rec.MethodID)
	} else {
		event = events.NewPaymentFailedEvent(rec.ID, string(r.kind), rec.Recipient, rec.PeerID, rec.RequestID, rec.Amount, string(r.failure.Code), r.failure.Message, len(r.attempts))
	}
	if err := e.deps.Publisher.Publish(ctx, event); err != nil {
		log.Warn("failed to publish payment event", "event_type", event.EventType(), "error", err)
	}
}

// railForMethod maps a directory method id onto the receipt type it settles
// on. Method ids are free-form, so anything unrecognised is TypeUnknown.
func railForMethod(methodID string) receipt.Type {
	id := strings.ToLower(methodID)
	switch {
	case strings.Contains(id, "lightning"), strings.HasPrefix(id, "ln"), strings.Contains(id, "bolt"):
		return receipt.TypeLightning
	case strings.Contains(id, "onchain"), strings.Contains(id, "on-chain"), strings.Contains(id, "bitcoin"):
		return receipt.TypeOnchain
	}
	return receipt.TypeUnknown
}

func nonRetryableMessage(errMsg string) string {
	lower := strings.ToLower(errMsg)
	switch {
	case strings.Contains(lower, "insufficient"):
		return MsgInsufficientFunds
	case strings.Contains(lower, "already paid"),
		strings.Contains(lower, "duplicate"),
		strings.Contains(lower, "payment hash already exists"):
		return MsgAlreadyPaid
	case strings.Contains(lower, "invoice expired"):
		return MsgInvoiceExpired
	case strings.Contains(lower, "amount too low"), strings.Contains(lower, "amount below minimum"):
		return MsgAmountTooLow
	case strings.Contains(lower, "permanently failed"):
		return MsgPermanentlyFailed
	}
	return MsgUnexpectedFailure
}
