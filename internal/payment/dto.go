package payment

import (
	errors "github.com/frahmantamala/peerpay/internal"
	"github.com/frahmantamala/peerpay/internal/core/common/validation"
)

// PayRequest is the body of POST /api/v1/payments
type PayRequest struct {
	Recipient     string            `json:"recipient"`
	Amount        *int64            `json:"amount,omitempty"`
	FeeRate       *float64          `json:"fee_rate,omitempty"`
	PeerID        string            `json:"peer_id,omitempty"`
	InvoiceNumber string            `json:"invoice_number,omitempty"`
	Strategy      string            `json:"strategy,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

func (p *PayRequest) Validate() error {
	validator := validation.NewValidator()

	validator.Field("recipient", p.Recipient).Required().MaxLength(2048)
	validator.Field("amount", p.Amount).Positive(errors.ErrCodeInvalidAmount)
	validator.Field("peer_id", p.PeerID).MaxLength(256)
	validator.Field("fee_rate", p.FeeRate).Custom(func(value interface{}) *errors.AppError {
		if rate, ok := value.(*float64); ok && rate != nil && *rate <= 0 {
			return errors.NewValidationFieldError("fee_rate", "fee_rate must be positive", errors.ErrCodeValidationFailed)
		}
		return nil
	})

	if appErr := validator.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

func (p *PayRequest) ToIntent(pin string) Intent {
	return Intent{
		Recipient:       p.Recipient,
		Amount:          p.Amount,
		FeeRate:         p.FeeRate,
		PeerID:          p.PeerID,
		InvoiceNumber:   p.InvoiceNumber,
		Strategy:        p.Strategy,
		Metadata:        p.Metadata,
		ConfirmationPIN: pin,
	}
}

type ClassifyRequest struct {
	Recipient string `json:"recipient"`
}

type ClassifyResponse struct {
	Recipient    string     `json:"recipient"`
	Kind         TargetKind `json:"kind"`
	Target       string     `json:"target,omitempty"`
	DirectoryKey string     `json:"directory_key,omitempty"`
}
