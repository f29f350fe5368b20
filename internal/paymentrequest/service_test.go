package paymentrequest_test

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"

	"github.com/frahmantamala/peerpay/internal"
	"github.com/frahmantamala/peerpay/internal/autopay"
	"github.com/frahmantamala/peerpay/internal/core/events"
	"github.com/frahmantamala/peerpay/internal/kvstore"
	"github.com/frahmantamala/peerpay/internal/limit"
	"github.com/frahmantamala/peerpay/internal/payment"
	"github.com/frahmantamala/peerpay/internal/paymentrequest"
	"github.com/frahmantamala/peerpay/internal/receipt"
	"github.com/frahmantamala/peerpay/internal/transport"
	"github.com/go-chi/chi"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestPaymentRequest(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Payment Request Suite")
}

var testLogger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

const invoice = "lnbc2500n1pvjluezpp5qqqsyqcyq5rqwzqfqqqsyqcyq5rqwzqfqqqsyqcyq5rqwzqfqypq"

type fakePayer struct {
	mu      sync.Mutex
	intents []payment.Intent
	fail    bool
	block   chan struct{}
	started chan struct{}
}

func (p *fakePayer) Execute(ctx context.Context, intent payment.Intent) payment.Result {
	p.mu.Lock()
	p.intents = append(p.intents, intent)
	block, started := p.block, p.started
	fail := p.fail
	p.mu.Unlock()

	if started != nil {
		close(started)
	}
	if block != nil {
		<-block
	}
	if fail {
		return payment.Result{
			Status: payment.StatusFailed,
			Kind:   payment.TargetLightning,
			Error:  internal.NewExternalError(payment.MsgAllMethodsFailed, internal.ErrCodePaymentFailed, nil),
		}
	}
	return payment.Result{
		Status:  payment.StatusSucceeded,
		Kind:    payment.TargetLightning,
		Receipt: &receipt.Receipt{ID: "rcpt-1", Status: receipt.StatusSucceeded},
	}
}

func (p *fakePayer) Intents() []payment.Intent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]payment.Intent(nil), p.intents...)
}

var _ = Describe("Service", func() {
	var (
		ctx     context.Context
		store   *kvstore.Memory
		payer   *fakePayer
		engine  *autopay.Engine
		ledger  *limit.Ledger
		bus     *events.EventBus
		service *paymentrequest.Service
	)

	newRequest := func(amount int64) paymentrequest.Request {
		req, err := service.Create(ctx, paymentrequest.CreateRequest{
			PeerID:    "peer-a",
			Recipient: invoice,
			Amount:    amount,
		})
		Expect(err).NotTo(HaveOccurred())
		bus.Wait()
		got, err := service.Get(req.ID)
		Expect(err).NotTo(HaveOccurred())
		return got
	}

	BeforeEach(func() {
		ctx = context.Background()
		store = kvstore.NewMemory()
		payer = &fakePayer{}
		ledger = limit.NewLedger(store, testLogger)
		engine = autopay.NewEngine(store, ledger, testLogger)
		Expect(engine.Load(ctx, true)).To(Succeed())
		bus = events.NewEventBus(testLogger)
		service = paymentrequest.NewService(store, payer, engine, bus, testLogger)
		paymentrequest.NewEventHandler(service, testLogger).RegisterEventHandlers(bus)
	})

	Describe("autopay on receipt", func() {
		It("should pay an approved request without a PIN", func() {
			// Given
			_, err := engine.SetRule(ctx, autopay.Rule{PeerID: "peer-a", Name: "rent", Enabled: true})
			Expect(err).NotTo(HaveOccurred())

			// When
			req := newRequest(1_000)

			// Then
			Expect(req.Status).To(Equal(paymentrequest.StatusPaid))
			Expect(req.PaidAt).NotTo(BeNil())
			Expect(req.AutopayDecision.Outcome).To(Equal(autopay.OutcomeApproved))
			Expect(req.AutopayDecision.RuleName).To(Equal("rent"))

			intents := payer.Intents()
			Expect(intents).To(HaveLen(1))
			Expect(intents[0].PreAuthorized).To(BeTrue())
			Expect(intents[0].RequestID).To(Equal(req.ID))
			Expect(*intents[0].Amount).To(Equal(int64(1_000)))
		})

		It("should decline a request the policy denies", func() {
			_, err := engine.SetRule(ctx, autopay.Rule{PeerID: "peer-a", Enabled: true, MaxPerTransaction: 500})
			Expect(err).NotTo(HaveOccurred())

			req := newRequest(1_000)

			Expect(req.Status).To(Equal(paymentrequest.StatusDeclined))
			Expect(req.DeclineReason).To(ContainSubstring("per-transaction limit"))
			Expect(payer.Intents()).To(BeEmpty())
		})

		It("should refuse to pay a request the policy denied", func() {
			// Given
			_, err := engine.SetRule(ctx, autopay.Rule{PeerID: "peer-a", Enabled: false})
			Expect(err).NotTo(HaveOccurred())
			req := newRequest(1_000)

			// When
			_, _, err = service.Pay(ctx, req.ID, "1234", false)

			// Then
			var denied *paymentrequest.DeniedError
			Expect(errors.As(err, &denied)).To(BeTrue())
			Expect(denied.Reason).To(Equal("peer autopay disabled"))
			Expect(payer.Intents()).To(BeEmpty())
		})

		It("should answer PAYMENT_DENIED over HTTP for a request the policy denied", func() {
			// Given
			_, err := engine.SetRule(ctx, autopay.Rule{PeerID: "peer-a", Enabled: false})
			Expect(err).NotTo(HaveOccurred())
			req := newRequest(1_000)
			router := chi.NewRouter()
			router.Post("/payment-requests/{id}/pay", paymentrequest.NewHandler(transport.NewBaseHandler(testLogger), service).PayRequest)

			// When
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/payment-requests/"+req.ID+"/pay", nil))

			// Then
			Expect(rec.Code).To(Equal(http.StatusForbidden))
			Expect(rec.Body.String()).To(ContainSubstring(`"code":"PAYMENT_DENIED"`))
			Expect(rec.Body.String()).To(ContainSubstring("peer autopay disabled"))
		})

		It("should keep a holder-declined request a plain status conflict", func() {
			_, err := engine.SetEnabled(ctx, false)
			Expect(err).NotTo(HaveOccurred())
			req := newRequest(1_000)
			_, err = service.Decline(ctx, req.ID, "not mine")
			Expect(err).NotTo(HaveOccurred())

			_, _, err = service.Pay(ctx, req.ID, "", false)

			Expect(err).To(MatchError(paymentrequest.ErrNotPending))
		})

		It("should leave the request pending when approval is needed", func() {
			_, err := engine.SetEnabled(ctx, false)
			Expect(err).NotTo(HaveOccurred())

			req := newRequest(1_000)

			Expect(req.Status).To(Equal(paymentrequest.StatusPending))
			Expect(req.AutopayDecision.Outcome).To(Equal(autopay.OutcomeNeedsApproval))
			Expect(payer.Intents()).To(BeEmpty())
		})

		It("should keep an approved request pending when the payment fails", func() {
			payer.fail = true

			req := newRequest(1_000)

			Expect(req.Status).To(Equal(paymentrequest.StatusPending))
			Expect(payer.Intents()).To(HaveLen(1))
		})
	})

	Describe("manual payment", func() {
		BeforeEach(func() {
			_, err := engine.SetEnabled(ctx, false)
			Expect(err).NotTo(HaveOccurred())
		})

		It("should pass the PIN through and mark the request paid", func() {
			req := newRequest(2_000)

			paid, result, err := service.Pay(ctx, req.ID, "1234", false)

			Expect(err).NotTo(HaveOccurred())
			Expect(result.Succeeded()).To(BeTrue())
			Expect(paid.Status).To(Equal(paymentrequest.StatusPaid))
			Expect(payer.Intents()[0].ConfirmationPIN).To(Equal("1234"))
			Expect(payer.Intents()[0].PreAuthorized).To(BeFalse())
		})

		It("should refuse to pay a request twice", func() {
			req := newRequest(2_000)
			_, _, err := service.Pay(ctx, req.ID, "", false)
			Expect(err).NotTo(HaveOccurred())

			_, _, err = service.Pay(ctx, req.ID, "", false)

			Expect(err).To(MatchError(paymentrequest.ErrNotPending))
		})

		It("should refuse a second payment while one is in flight", func() {
			req := newRequest(2_000)
			payer.mu.Lock()
			payer.block = make(chan struct{})
			payer.started = make(chan struct{})
			block, started := payer.block, payer.started
			payer.mu.Unlock()

			done := make(chan error, 1)
			go func() {
				_, _, err := service.Pay(ctx, req.ID, "", false)
				done <- err
			}()
			<-started

			_, _, err := service.Pay(ctx, req.ID, "", false)
			Expect(err).To(MatchError(paymentrequest.ErrInFlight))
			_, err = service.Decline(ctx, req.ID, "changed my mind")
			Expect(err).To(MatchError(paymentrequest.ErrInFlight))

			close(block)
			Eventually(done).Should(Receive(BeNil()))
		})

		It("should report unknown requests", func() {
			_, _, err := service.Pay(ctx, "missing", "", false)
			Expect(err).To(MatchError(paymentrequest.ErrRequestNotFound))
		})
	})

	Describe("Decline", func() {
		It("should only decline pending requests", func() {
			_, _ = engine.SetEnabled(ctx, false)
			req := newRequest(500)

			declined, err := service.Decline(ctx, req.ID, "not mine")
			Expect(err).NotTo(HaveOccurred())
			Expect(declined.Status).To(Equal(paymentrequest.StatusDeclined))

			_, err = service.Decline(ctx, req.ID, "again")
			Expect(err).To(MatchError(paymentrequest.ErrNotPending))
		})
	})

	Describe("LinkReceipt", func() {
		It("should append each receipt once", func() {
			_, _ = engine.SetEnabled(ctx, false)
			req := newRequest(500)

			Expect(service.LinkReceipt(ctx, req.ID, "r1")).To(Succeed())
			Expect(service.LinkReceipt(ctx, req.ID, "r1")).To(Succeed())
			Expect(service.LinkReceipt(ctx, req.ID, "r2")).To(Succeed())

			got, _ := service.Get(req.ID)
			Expect(got.ReceiptIDs).To(Equal([]string{"r1", "r2"}))
		})

		It("should satisfy the receipt ledger's linker", func() {
			var _ receipt.RequestLinker = service
		})
	})

	Describe("List and Load", func() {
		It("should filter by status and survive a reload", func() {
			_, _ = engine.SetEnabled(ctx, false)
			first := newRequest(100)
			second := newRequest(200)
			_, err := service.Decline(ctx, first.ID, "")
			Expect(err).NotTo(HaveOccurred())

			Expect(service.List("")).To(HaveLen(2))
			pending := service.List(paymentrequest.StatusPending)
			Expect(pending).To(HaveLen(1))
			Expect(pending[0].ID).To(Equal(second.ID))

			reloaded := paymentrequest.NewService(store, payer, engine, nil, testLogger)
			Expect(reloaded.Load(ctx)).To(Succeed())
			got, err := reloaded.Get(first.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Status).To(Equal(paymentrequest.StatusDeclined))
		})
	})

	Describe("Create", func() {
		It("should reject recipients that cannot be paid", func() {
			_, err := service.Create(ctx, paymentrequest.CreateRequest{PeerID: "p", Recipient: "hello", Amount: 1})
			Expect(err).To(HaveOccurred())
			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(internal.ErrCodeValidationFailed))
		})

		It("should reject a directory link that belongs to another peer", func() {
			_, err := service.Create(ctx, paymentrequest.CreateRequest{PeerID: "peer-a", Recipient: "paykit:peer-b", Amount: 1})

			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			details, ok := appErr.Details.(internal.ValidationErrors)
			Expect(ok).To(BeTrue())
			Expect(details.Errors).To(HaveLen(1))
			Expect(details.Errors[0].Code).To(Equal(string(internal.ErrCodeInvalidRecipient)))
			Expect(service.List("")).To(BeEmpty())
		})
	})
})
