package internal_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/frahmantamala/peerpay/internal"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("AppError", func() {
	It("should be found through wrapping", func() {
		appErr := internal.NewPaymentError("This payment would exceed your spending limit", internal.ErrCodeSpendingLimitExceeded, nil)
		wrapped := fmt.Errorf("execute: %w", appErr)

		got, ok := internal.IsAppError(wrapped)

		Expect(ok).To(BeTrue())
		Expect(got.Code).To(Equal(internal.ErrCodeSpendingLimitExceeded))
		Expect(got.StatusCode).To(Equal(http.StatusUnprocessableEntity))
	})

	It("should unwrap to its cause", func() {
		appErr := internal.NewCancelledError("payment cancelled", context.Canceled)

		Expect(appErr).To(MatchError(context.Canceled))
		Expect(appErr.StatusCode).To(Equal(http.StatusRequestTimeout))
		Expect(appErr.Code).To(Equal(internal.ErrCodePaymentCancelled))
	})

	It("should keep the cause out of the response body", func() {
		appErr := internal.NewExternalError("settlement engine unavailable", internal.ErrCodePaymentFailed, fmt.Errorf("dial tcp: refused"))

		status, body := appErr.ToHTTPResponse()
		raw, err := json.Marshal(body)

		Expect(err).NotTo(HaveOccurred())
		Expect(status).To(Equal(http.StatusBadGateway))
		Expect(string(raw)).To(ContainSubstring(`"code":"PAYMENT_FAILED"`))
		Expect(string(raw)).NotTo(ContainSubstring("refused"))
	})

	It("should join field messages for validation failures", func() {
		appErr := internal.NewValidationError("Validation failed", internal.ErrCodeValidationFailed).
			WithDetails(internal.ValidationErrors{Errors: []internal.ValidationError{
				{Field: "amount", Message: "amount must be positive"},
				{Field: "recipient", Message: "recipient is required"},
			}})

		Expect(appErr.Error()).To(Equal("amount must be positive"))
		Expect(appErr.GetDetailedMessage()).To(Equal("amount must be positive; recipient is required"))
	})
})
