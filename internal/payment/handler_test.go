package payment_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"

	"github.com/frahmantamala/peerpay/internal"
	paymentpkg "github.com/frahmantamala/peerpay/internal/payment"
	"github.com/frahmantamala/peerpay/internal/receipt"
	"github.com/frahmantamala/peerpay/internal/transport"
)

type mockPaymentService struct {
	result paymentpkg.Result
	intent paymentpkg.Intent
}

func (m *mockPaymentService) Execute(ctx context.Context, intent paymentpkg.Intent) paymentpkg.Result {
	m.intent = intent
	return m.result
}

var _ = ginkgo.Describe("PaymentHandler", func() {
	var (
		handler  *paymentpkg.Handler
		service  *mockPaymentService
		recorder *httptest.ResponseRecorder
	)

	newRequest := func(target string, body interface{}) *http.Request {
		raw, _ := json.Marshal(body)
		req := httptest.NewRequest(http.MethodPost, target, bytes.NewBuffer(raw))
		req.Header.Set("Content-Type", "application/json")
		return req.WithContext(internal.ContextWithWalletID(req.Context(), "wallet-1"))
	}

	ginkgo.BeforeEach(func() {
		service = &mockPaymentService{}
		handler = paymentpkg.NewHandler(transport.NewBaseHandler(testLogger), service)
		recorder = httptest.NewRecorder()
	})

	ginkgo.Describe("Pay", func() {
		ginkgo.It("should pass the PIN header through to the executor", func() {
			service.result = paymentpkg.Result{Status: paymentpkg.StatusSucceeded, Receipt: &receipt.Receipt{Status: receipt.StatusSucceeded}}
			amount := int64(500)
			req := newRequest("/api/v1/payments", paymentpkg.PayRequest{Recipient: "lnbc1abc", Amount: &amount})
			req.Header.Set(paymentpkg.PINHeader, "9999")

			handler.Pay(recorder, req)

			gomega.Expect(recorder.Code).To(gomega.Equal(http.StatusOK))
			gomega.Expect(service.intent.ConfirmationPIN).To(gomega.Equal("9999"))
			gomega.Expect(*service.intent.Amount).To(gomega.Equal(int64(500)))
		})

		ginkgo.It("should answer 202 while an on-chain payment awaits confirmation", func() {
			service.result = paymentpkg.Result{Status: paymentpkg.StatusSucceeded, Receipt: &receipt.Receipt{Status: receipt.StatusPending}}
			amount := int64(500)

			handler.Pay(recorder, newRequest("/api/v1/payments", paymentpkg.PayRequest{Recipient: "bc1qabc", Amount: &amount}))

			gomega.Expect(recorder.Code).To(gomega.Equal(http.StatusAccepted))
		})

		ginkgo.It("should use the failure's status and keep the attempts in the body", func() {
			service.result = paymentpkg.Result{
				Status:   paymentpkg.StatusFailed,
				Attempts: []receipt.Attempt{{MethodID: "a", ErrorMessage: "insufficient funds"}},
				Error:    internal.NewPaymentError(paymentpkg.MsgInsufficientFunds, internal.ErrCodePaymentFailed, nil),
			}
			amount := int64(500)

			handler.Pay(recorder, newRequest("/api/v1/payments", paymentpkg.PayRequest{Recipient: "paykit:bob", Amount: &amount}))

			gomega.Expect(recorder.Code).To(gomega.Equal(http.StatusUnprocessableEntity))
			var body map[string]interface{}
			gomega.Expect(json.Unmarshal(recorder.Body.Bytes(), &body)).To(gomega.Succeed())
			gomega.Expect(body["attempts"]).To(gomega.HaveLen(1))
			gomega.Expect(body["error"]).To(gomega.HaveKeyWithValue("message", paymentpkg.MsgInsufficientFunds))
		})

		ginkgo.It("should reject a missing recipient before executing", func() {
			handler.Pay(recorder, newRequest("/api/v1/payments", map[string]interface{}{"amount": 10}))

			gomega.Expect(recorder.Code).To(gomega.Equal(http.StatusBadRequest))
			gomega.Expect(service.intent.Recipient).To(gomega.BeEmpty())
		})

		ginkgo.It("should reject a negative amount", func() {
			handler.Pay(recorder, newRequest("/api/v1/payments", map[string]interface{}{"recipient": "lnbc1", "amount": -5}))

			gomega.Expect(recorder.Code).To(gomega.Equal(http.StatusBadRequest))
		})
	})

	ginkgo.Describe("Classify", func() {
		ginkgo.It("should report the kind and the normalized target", func() {
			handler.Classify(recorder, newRequest("/api/v1/payments/classify", paymentpkg.ClassifyRequest{Recipient: "bitcoin:bc1qabc?amount=0.1"}))

			var resp paymentpkg.ClassifyResponse
			gomega.Expect(json.Unmarshal(recorder.Body.Bytes(), &resp)).To(gomega.Succeed())
			gomega.Expect(resp.Kind).To(gomega.Equal(paymentpkg.TargetOnchain))
			gomega.Expect(resp.Target).To(gomega.Equal("bc1qabc"))
		})
	})
})
