package paymentrequest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/frahmantamala/peerpay/internal/autopay"
	"github.com/frahmantamala/peerpay/internal/core/events"
)

type EventHandler struct {
	service *Service
	logger  *slog.Logger
}

func NewEventHandler(service *Service, logger *slog.Logger) *EventHandler {
	return &EventHandler{
		service: service,
		logger:  logger,
	}
}

// HandleRequestReceived runs the autopay policy on a new request: approved
// requests are paid at once, denied ones are declined, and the rest wait
// for the wallet holder.
func (h *EventHandler) HandleRequestReceived(ctx context.Context, event events.Event) error {
	received, ok := event.(*events.PaymentRequestReceivedEvent)
	if !ok {
		h.logger.Error("invalid event type for payment request handler", "event_type", event.EventType())
		return fmt.Errorf("expected PaymentRequestReceivedEvent, got %T", event)
	}

	decision := h.service.policy.Evaluate(received.PeerID, received.Amount, received.MethodID)
	if err := h.service.recordDecision(ctx, received.RequestID, decision); err != nil {
		return fmt.Errorf("record autopay decision for %s: %w", received.RequestID, err)
	}

	h.logger.Info("autopay decision",
		"request_id", received.RequestID,
		"peer_id", received.PeerID,
		"amount", received.Amount,
		"outcome", decision.Outcome,
		"reason", decision.Reason,
		"event_id", received.EventID())

	switch decision.Outcome {
	case autopay.OutcomeApproved:
		_, result, err := h.service.Pay(ctx, received.RequestID, "", true)
		if err != nil {
			return fmt.Errorf("autopay request %s: %w", received.RequestID, err)
		}
		if !result.Succeeded() {
			h.logger.Warn("autopay payment failed, request left pending",
				"request_id", received.RequestID,
				"code", result.Error.Code)
		}
	case autopay.OutcomeDenied:
		if _, err := h.service.Decline(ctx, received.RequestID, decision.Reason); err != nil {
			return fmt.Errorf("decline request %s: %w", received.RequestID, err)
		}
	}
	return nil
}

func (h *EventHandler) RegisterEventHandlers(eventBus *events.EventBus) {
	eventBus.Subscribe(events.EventTypePaymentRequestReceived, h.HandleRequestReceived)

	h.logger.Info("payment request event handlers registered",
		"handlers", []string{events.EventTypePaymentRequestReceived})
}
