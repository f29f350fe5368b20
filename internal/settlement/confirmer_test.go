package settlement_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/frahmantamala/peerpay/internal/core/events"
	"github.com/frahmantamala/peerpay/internal/kvstore"
	"github.com/frahmantamala/peerpay/internal/receipt"
	"github.com/frahmantamala/peerpay/internal/settlement"
	"github.com/frahmantamala/peerpay/internal/transport"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type fakeChain struct {
	mu  sync.Mutex
	txs map[string]settlement.Transaction
	err error
}

func (f *fakeChain) set(tx settlement.Transaction) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txs[tx.Txid] = tx
}

func (f *fakeChain) GetTransaction(_ context.Context, txid string) (settlement.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return settlement.Transaction{}, f.err
	}
	return f.txs[txid], nil
}

type closedPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *closedPublisher) Publish(_ context.Context, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return events.ErrBusClosed
}

var _ = Describe("Confirmer", func() {
	var (
		ctx       context.Context
		chain     *fakeChain
		receipts  *receipt.Ledger
		confirmer *settlement.Confirmer
	)

	addPending := func(id, txid string) {
		Expect(receipts.Add(ctx, receipt.Receipt{
			ID:        id,
			Type:      receipt.TypeOnchain,
			Recipient: "bc1qdest",
			Amount:    10_000,
			Txid:      txid,
			Status:    receipt.StatusPending,
		})).To(Succeed())
	}

	BeforeEach(func() {
		ctx = context.Background()
		chain = &fakeChain{txs: map[string]settlement.Transaction{}}
		receipts = receipt.NewLedger(kvstore.NewMemory(), 100, testLogger)
		confirmer = settlement.NewConfirmer(settlement.ConfirmerConfig{
			Workers:               2,
			PollInterval:          5 * time.Millisecond,
			MaxChecks:             3,
			RequiredConfirmations: 2,
		}, chain, receipts, nil, testLogger)
	})

	Describe("CheckOnce", func() {
		It("should complete a receipt once enough confirmations arrive", func() {
			addPending("r1", "tx1")
			chain.set(settlement.Transaction{Txid: "tx1", Confirmations: 2})

			done, err := confirmer.CheckOnce(ctx, settlement.ConfirmationJob{ReceiptID: "r1", Txid: "tx1"})

			Expect(err).NotTo(HaveOccurred())
			Expect(done).To(BeTrue())
			got, _ := receipts.Get("r1")
			Expect(got.Status).To(Equal(receipt.StatusSucceeded))
		})

		It("should keep polling while under the confirmation target", func() {
			addPending("r1", "tx1")
			chain.set(settlement.Transaction{Txid: "tx1", Confirmations: 1})

			done, err := confirmer.CheckOnce(ctx, settlement.ConfirmationJob{ReceiptID: "r1", Txid: "tx1"})

			Expect(err).NotTo(HaveOccurred())
			Expect(done).To(BeFalse())
			got, _ := receipts.Get("r1")
			Expect(got.Status).To(Equal(receipt.StatusPending))
		})

		It("should fail a dropped transaction with its reason", func() {
			addPending("r1", "tx1")
			chain.set(settlement.Transaction{Txid: "tx1", Dropped: true, Reason: "double spent"})

			done, _ := confirmer.CheckOnce(ctx, settlement.ConfirmationJob{ReceiptID: "r1", Txid: "tx1"})

			Expect(done).To(BeTrue())
			got, _ := receipts.Get("r1")
			Expect(got.Status).To(Equal(receipt.StatusFailed))
			Expect(got.FailureReason).To(Equal("double spent"))
		})

		It("should finalize and log when the confirmation event cannot be published", func() {
			// Given
			var logs bytes.Buffer
			publisher := &closedPublisher{}
			confirmer = settlement.NewConfirmer(settlement.ConfirmerConfig{RequiredConfirmations: 1},
				chain, receipts, publisher, slog.New(slog.NewTextHandler(&logs, nil)))
			addPending("r1", "tx1")
			chain.set(settlement.Transaction{Txid: "tx1", Confirmations: 1})

			// When
			done, err := confirmer.CheckOnce(ctx, settlement.ConfirmationJob{ReceiptID: "r1", Txid: "tx1"})

			// Then
			Expect(err).NotTo(HaveOccurred())
			Expect(done).To(BeTrue())
			Expect(publisher.events).To(HaveLen(1))
			Expect(publisher.events[0].EventType()).To(Equal(events.EventTypeReceiptConfirmed))
			Expect(logs.String()).To(ContainSubstring("failed to publish receipt event"))
			Expect(logs.String()).To(ContainSubstring("level=WARN"))
		})

		It("should report engine errors without finalizing", func() {
			addPending("r1", "tx1")
			chain.err = errors.New("engine down")

			done, err := confirmer.CheckOnce(ctx, settlement.ConfirmationJob{ReceiptID: "r1", Txid: "tx1"})

			Expect(err).To(HaveOccurred())
			Expect(done).To(BeFalse())
		})
	})

	Describe("worker pool", func() {
		AfterEach(func() {
			confirmer.Shutdown()
		})

		It("should poll until the transaction confirms", func() {
			addPending("r1", "tx1")
			chain.set(settlement.Transaction{Txid: "tx1", Confirmations: 0})
			confirmer.Start()

			Expect(confirmer.Track("r1", "tx1")).To(Succeed())
			chain.set(settlement.Transaction{Txid: "tx1", Confirmations: 2})

			Eventually(func() receipt.Status {
				got, _ := receipts.Get("r1")
				return got.Status
			}).Should(Equal(receipt.StatusSucceeded))
		})

		It("should leave the receipt pending when checks run out", func() {
			addPending("r1", "tx1")
			chain.set(settlement.Transaction{Txid: "tx1", Confirmations: 0})
			confirmer.Start()

			Expect(confirmer.Sweep(ctx)).To(Equal(1))

			Consistently(func() receipt.Status {
				got, _ := receipts.Get("r1")
				return got.Status
			}, 50*time.Millisecond).Should(Equal(receipt.StatusPending))
		})
	})

	Describe("RunOnce", func() {
		It("should check every pending receipt synchronously", func() {
			addPending("r1", "tx1")
			addPending("r2", "tx2")
			addPending("r3", "")
			chain.set(settlement.Transaction{Txid: "tx1", Confirmations: 6})
			chain.set(settlement.Transaction{Txid: "tx2", Confirmations: 0})

			checked, finalized, err := confirmer.RunOnce(ctx)

			Expect(err).NotTo(HaveOccurred())
			Expect(checked).To(Equal(2))
			Expect(finalized).To(Equal(1))
		})
	})
})

var _ = Describe("WebhookHandler", func() {
	var (
		pending   *settlement.PendingTable
		receipts  *receipt.Ledger
		confirmer *settlement.Confirmer
		handler   *settlement.WebhookHandler
	)

	post := func(h http.HandlerFunc, body interface{}) *httptest.ResponseRecorder {
		raw, _ := json.Marshal(body)
		req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(raw))
		rec := httptest.NewRecorder()
		h(rec, req)
		return rec
	}

	BeforeEach(func() {
		pending = settlement.NewPendingTable()
		receipts = receipt.NewLedger(kvstore.NewMemory(), 10, testLogger)
		confirmer = settlement.NewConfirmer(settlement.ConfirmerConfig{}, &fakeChain{txs: map[string]settlement.Transaction{}}, receipts, nil, testLogger)
		handler = settlement.NewWebhookHandler(transport.NewBaseHandler(testLogger), pending, confirmer)
	})

	It("should resolve a pending settlement", func() {
		ch, _ := pending.Register("corr")

		rec := post(handler.HandleSettlementCallback, settlement.SettlementCallbackRequest{CorrelationID: "corr", ExecutionID: "e", Status: "succeeded"})

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect((<-ch).Succeeded).To(BeTrue())
	})

	It("should answer 404 for an unknown correlation id", func() {
		rec := post(handler.HandleSettlementCallback, settlement.SettlementCallbackRequest{CorrelationID: "nope", Status: "failed"})

		Expect(rec.Code).To(Equal(http.StatusNotFound))
	})

	It("should reject an unknown status", func() {
		_, _ = pending.Register("corr")

		rec := post(handler.HandleSettlementCallback, settlement.SettlementCallbackRequest{CorrelationID: "corr", Status: "maybe"})

		Expect(rec.Code).To(Equal(http.StatusBadRequest))
		Expect(pending.Len()).To(Equal(1))
	})

	It("should finalize a receipt from a pushed confirmation", func() {
		Expect(receipts.Add(context.Background(), receipt.Receipt{ID: "r1", Type: receipt.TypeOnchain, Txid: "tx1", Status: receipt.StatusPending})).To(Succeed())

		rec := post(handler.HandleConfirmationCallback, settlement.ConfirmationCallbackRequest{Txid: "tx1", Confirmations: 1})

		Expect(rec.Code).To(Equal(http.StatusOK))
		got, _ := receipts.Get("r1")
		Expect(got.Status).To(Equal(receipt.StatusSucceeded))
	})
})
