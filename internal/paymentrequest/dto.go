package paymentrequest

import (
	errors "github.com/frahmantamala/peerpay/internal"
	"github.com/frahmantamala/peerpay/internal/core/common/validation"
	"github.com/frahmantamala/peerpay/internal/payment"
)

type CreateRequest struct {
	PeerID        string `json:"peer_id"`
	Recipient     string `json:"recipient"`
	Amount        int64  `json:"amount"`
	MethodID      string `json:"method_id,omitempty"`
	InvoiceNumber string `json:"invoice_number,omitempty"`
	Description   string `json:"description,omitempty"`
}

func (c *CreateRequest) Validate() error {
	validator := validation.NewValidator()

	validator.Field("peer_id", c.PeerID).Required().MaxLength(256)
	validator.Field("recipient", c.Recipient).Required().MaxLength(2048).Custom(func(value interface{}) *errors.AppError {
		if s, ok := value.(string); ok && s != "" && payment.Classify(s) == payment.TargetUnknown {
			return errors.NewValidationFieldError("recipient", "recipient is not a payable target", errors.ErrCodeInvalidRecipient)
		}
		return nil
	})
	validator.Field("recipient", c.Recipient).Custom(func(value interface{}) *errors.AppError {
		s, _ := value.(string)
		if payment.Classify(s) != payment.TargetDirectory || c.PeerID == "" {
			return nil
		}
		if payment.DirectoryKey(s) != c.PeerID {
			return errors.NewValidationFieldError("recipient", "recipient link must belong to the requesting peer", errors.ErrCodeInvalidRecipient)
		}
		return nil
	})
	validator.Field("amount", c.Amount).Positive(errors.ErrCodeInvalidAmount)
	validator.Field("description", c.Description).MaxLength(500)

	if appErr := validator.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

type DeclineRequest struct {
	Reason string `json:"reason"`
}

type ListResponse struct {
	Requests []Request `json:"requests"`
	Count    int       `json:"count"`
}

// PayResponse is returned by POST /api/v1/payment-requests/{id}/pay
type PayResponse struct {
	Request Request        `json:"request"`
	Payment payment.Result `json:"payment"`
}
