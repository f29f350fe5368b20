package settlement_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/frahmantamala/peerpay/internal/settlement"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Client", func() {
	var (
		mux    *http.ServeMux
		server *httptest.Server
		client *settlement.Client
	)

	BeforeEach(func() {
		mux = http.NewServeMux()
		server = httptest.NewServer(mux)
		client = settlement.NewClient(settlement.Config{
			BaseURL:       server.URL,
			APIKey:        "secret",
			CallbackURL:   "http://peerpay/api/v1/settlement/callback",
			SettleTimeout: time.Second,
		}, nil, testLogger)
	})

	AfterEach(func() {
		server.Close()
	})

	Describe("Settle", func() {
		It("should wait for the callback when the engine acknowledges as pending", func() {
			// Given
			mux.HandleFunc("/v1/settlements", func(w http.ResponseWriter, r *http.Request) {
				defer GinkgoRecover()
				Expect(r.Header.Get("Authorization")).To(Equal("Bearer secret"))
				var body struct {
					CorrelationID string `json:"correlation_id"`
					MethodID      string `json:"method_id"`
					CallbackURL   string `json:"callback_url"`
				}
				Expect(json.NewDecoder(r.Body).Decode(&body)).To(Succeed())
				Expect(body.MethodID).To(Equal("lightning"))
				Expect(body.CallbackURL).NotTo(BeEmpty())

				go func() {
					time.Sleep(10 * time.Millisecond)
					client.Pending().Resolve(body.CorrelationID, settlement.Outcome{Succeeded: true})
				}()
				_ = json.NewEncoder(w).Encode(map[string]string{"execution_id": "exec-1", "status": "pending"})
			})

			// When
			result, err := client.Settle(context.Background(), "lightning", "lnurl1", 1_000, nil)

			// Then
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Succeeded).To(BeTrue())
			Expect(result.ExecutionID).To(Equal("exec-1"))
			Expect(client.Pending().Len()).To(BeZero())
		})

		It("should accept a final status inline", func() {
			mux.HandleFunc("/v1/settlements", func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(map[string]string{"execution_id": "exec-2", "status": "failed", "error": "route not found"})
			})

			result, err := client.Settle(context.Background(), "lightning", "lnurl1", 1_000, nil)

			Expect(err).NotTo(HaveOccurred())
			Expect(result.Succeeded).To(BeFalse())
			Expect(result.Error).To(Equal("route not found"))
			Expect(client.Pending().Len()).To(BeZero())
		})

		It("should time out when no callback arrives", func() {
			client = settlement.NewClient(settlement.Config{BaseURL: server.URL, SettleTimeout: 20 * time.Millisecond}, nil, testLogger)
			mux.HandleFunc("/v1/settlements", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusAccepted)
				_, _ = w.Write([]byte(`{"execution_id":"exec-3","status":"pending"}`))
			})

			_, err := client.Settle(context.Background(), "onchain", "bc1q", 1_000, nil)

			Expect(err).To(MatchError(settlement.ErrSettlementTimeout))
			Expect(client.Pending().Len()).To(BeZero())
		})

		It("should release the slot when the engine rejects the request", func() {
			mux.HandleFunc("/v1/settlements", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnprocessableEntity)
				_, _ = w.Write([]byte(`{"error":"insufficient funds"}`))
			})

			_, err := client.Settle(context.Background(), "onchain", "bc1q", 1_000, nil)

			var engineErr *settlement.EngineError
			Expect(errors.As(err, &engineErr)).To(BeTrue())
			Expect(engineErr.Message).To(Equal("insufficient funds"))
			Expect(client.Pending().Len()).To(BeZero())
		})
	})

	Describe("PayLightning", func() {
		It("should round the routing fee up to whole sats", func() {
			mux.HandleFunc("/v1/lightning/pay", func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"payment_hash":"hash","preimage":"pre","fee_msat":1001}`))
			})

			paid, err := client.PayLightning(context.Background(), "lnbc1", nil)

			Expect(err).NotTo(HaveOccurred())
			Expect(paid.PaymentHash).To(Equal("hash"))
			Expect(paid.FeeSats()).To(Equal(int64(2)))
		})

		It("should send the amount only when given", func() {
			mux.HandleFunc("/v1/lightning/pay", func(w http.ResponseWriter, r *http.Request) {
				defer GinkgoRecover()
				var body map[string]interface{}
				Expect(json.NewDecoder(r.Body).Decode(&body)).To(Succeed())
				Expect(body).To(HaveKeyWithValue("amount_sats", BeNumerically("==", 21)))
				_, _ = w.Write([]byte(`{"payment_hash":"hash"}`))
			})
			amount := int64(21)

			_, err := client.PayLightning(context.Background(), "lnbc1", &amount)

			Expect(err).NotTo(HaveOccurred())
		})
	})

	Describe("PayOnchain and GetTransaction", func() {
		It("should return the txid and fee", func() {
			mux.HandleFunc("/v1/onchain/send", func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"txid":"abc","fee_sats":150}`))
			})
			mux.HandleFunc("/v1/onchain/transactions/abc", func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"txid":"abc","confirmations":3}`))
			})
			rate := 2.5

			sent, err := client.PayOnchain(context.Background(), "bc1q", 10_000, &rate)
			Expect(err).NotTo(HaveOccurred())
			Expect(sent.Txid).To(Equal("abc"))
			Expect(sent.FeeSats).To(Equal(int64(150)))

			tx, err := client.GetTransaction(context.Background(), "abc")
			Expect(err).NotTo(HaveOccurred())
			Expect(tx.Confirmations).To(Equal(3))
		})
	})
})
