package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventTypePaymentSucceeded       = "payment.succeeded"
	EventTypePaymentFailed          = "payment.failed"
	EventTypePaymentRequestReceived = "payment_request.received"
	EventTypeReceiptConfirmed       = "receipt.confirmed"
)

type PaymentSucceededEvent struct {
	BaseEvent
	ReceiptID string `json:"receipt_id"`
	Kind      string `json:"kind"`
	Recipient string `json:"recipient"`
	PeerID    string `json:"peer_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Amount    int64  `json:"amount"`
	Fee       int64  `json:"fee"`
	MethodID  string `json:"method_id"`
}

func NewPaymentSucceededEvent(receiptID, kind, recipient, peerID, requestID string, amount, fee int64, methodID string) *PaymentSucceededEvent {
	return &PaymentSucceededEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypePaymentSucceeded,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"receipt_id": receiptID,
				"kind":       kind,
				"recipient":  recipient,
				"peer_id":    peerID,
				"request_id": requestID,
				"amount":     amount,
				"fee":        fee,
				"method_id":  methodID,
			},
		},
		ReceiptID: receiptID,
		Kind:      kind,
		Recipient: recipient,
		PeerID:    peerID,
		RequestID: requestID,
		Amount:    amount,
		Fee:       fee,
		MethodID:  methodID,
	}
}

type PaymentFailedEvent struct {
	BaseEvent
	ReceiptID     string `json:"receipt_id"`
	Kind          string `json:"kind"`
	Recipient     string `json:"recipient"`
	PeerID        string `json:"peer_id,omitempty"`
	RequestID     string `json:"request_id,omitempty"`
	Amount        int64  `json:"amount"`
	Code          string `json:"code"`
	FailureReason string `json:"failure_reason"`
	Attempts      int    `json:"attempts"`
}

func NewPaymentFailedEvent(receiptID, kind, recipient, peerID, requestID string, amount int64, code, failureReason string, attempts int) *PaymentFailedEvent {
	return &PaymentFailedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypePaymentFailed,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"receipt_id":     receiptID,
				"kind":           kind,
				"recipient":      recipient,
				"peer_id":        peerID,
				"request_id":     requestID,
				"amount":         amount,
				"code":           code,
				"failure_reason": failureReason,
				"attempts":       attempts,
			},
		},
		ReceiptID:     receiptID,
		Kind:          kind,
		Recipient:     recipient,
		PeerID:        peerID,
		RequestID:     requestID,
		Amount:        amount,
		Code:          code,
		FailureReason: failureReason,
		Attempts:      attempts,
	}
}

// PaymentRequestReceivedEvent announces an incoming request from a peer,
// before any autopay decision has been made.
type PaymentRequestReceivedEvent struct {
	BaseEvent
	RequestID string `json:"request_id"`
	PeerID    string `json:"peer_id"`
	Amount    int64  `json:"amount"`
	MethodID  string `json:"method_id"`
}

func NewPaymentRequestReceivedEvent(requestID, peerID string, amount int64, methodID string) *PaymentRequestReceivedEvent {
	return &PaymentRequestReceivedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypePaymentRequestReceived,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"request_id": requestID,
				"peer_id":    peerID,
				"amount":     amount,
				"method_id":  methodID,
			},
		},
		RequestID: requestID,
		PeerID:    peerID,
		Amount:    amount,
		MethodID:  methodID,
	}
}

type ReceiptConfirmedEvent struct {
	BaseEvent
	ReceiptID     string `json:"receipt_id"`
	Txid          string `json:"txid"`
	Status        string `json:"status"`
	Confirmations int    `json:"confirmations"`
}

func NewReceiptConfirmedEvent(receiptID, txid, status string, confirmations int) *ReceiptConfirmedEvent {
	return &ReceiptConfirmedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeReceiptConfirmed,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"receipt_id":    receiptID,
				"txid":          txid,
				"status":        status,
				"confirmations": confirmations,
			},
		},
		ReceiptID:     receiptID,
		Txid:          txid,
		Status:        status,
		Confirmations: confirmations,
	}
}
