package receipt_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"testing"

	"github.com/frahmantamala/peerpay/internal/kvstore"
	"github.com/frahmantamala/peerpay/internal/receipt"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestReceipt(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Receipt Ledger Suite")
}

type recordingLinker struct {
	calls [][2]string
	err   error
}

func (l *recordingLinker) LinkReceipt(_ context.Context, requestID, receiptID string) error {
	l.calls = append(l.calls, [2]string{requestID, receiptID})
	return l.err
}

type brokenStore struct {
	*kvstore.Memory
}

func (brokenStore) Put(context.Context, string, []byte) error {
	return errors.New("write failed")
}

var _ = Describe("Ledger", func() {
	var (
		ctx    context.Context
		store  *kvstore.Memory
		ledger *receipt.Ledger
		lg     *slog.Logger
	)

	newReceipt := func(id string) receipt.Receipt {
		return receipt.Receipt{
			ID:        id,
			Type:      receipt.TypeLightning,
			Recipient: "lnbc1invoice",
			Amount:    1_000,
			Status:    receipt.StatusSucceeded,
		}
	}

	BeforeEach(func() {
		ctx = context.Background()
		lg = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		store = kvstore.NewMemory()
		ledger = receipt.NewLedger(store, 3, lg)
	})

	Describe("Add", func() {
		It("should keep the most recent receipt first", func() {
			Expect(ledger.Add(ctx, newReceipt("a"))).To(Succeed())
			Expect(ledger.Add(ctx, newReceipt("b"))).To(Succeed())

			list := ledger.List(0)

			Expect(list).To(HaveLen(2))
			Expect(list[0].ID).To(Equal("b"))
			Expect(list[1].ID).To(Equal("a"))
		})

		It("should evict the oldest receipts beyond the retention bound", func() {
			for i := 1; i <= 5; i++ {
				Expect(ledger.Add(ctx, newReceipt(fmt.Sprintf("r%d", i)))).To(Succeed())
			}

			list := ledger.List(0)

			Expect(list).To(HaveLen(3))
			Expect(list[0].ID).To(Equal("r5"))
			Expect(list[2].ID).To(Equal("r3"))
			_, err := ledger.Get("r1")
			Expect(err).To(MatchError(receipt.ErrReceiptNotFound))
		})

		It("should reject duplicate ids", func() {
			Expect(ledger.Add(ctx, newReceipt("a"))).To(Succeed())
			Expect(ledger.Add(ctx, newReceipt("a"))).To(MatchError(receipt.ErrReceiptExists))
		})

		It("should leave the ledger unchanged when the store fails", func() {
			broken := receipt.NewLedger(brokenStore{Memory: kvstore.NewMemory()}, 3, lg)

			err := broken.Add(ctx, newReceipt("a"))

			Expect(err).To(HaveOccurred())
			Expect(broken.List(0)).To(BeEmpty())
		})

		It("should respect the list limit", func() {
			for i := 1; i <= 3; i++ {
				_ = ledger.Add(ctx, newReceipt(fmt.Sprintf("r%d", i)))
			}
			Expect(ledger.List(2)).To(HaveLen(2))
		})
	})

	Describe("Update", func() {
		It("should require the receipt to exist", func() {
			err := ledger.Update(ctx, newReceipt("missing"))
			Expect(err).To(MatchError(receipt.ErrReceiptNotFound))
		})

		It("should replace the receipt in place", func() {
			_ = ledger.Add(ctx, newReceipt("a"))
			_ = ledger.Add(ctx, newReceipt("b"))

			updated := newReceipt("a")
			updated.Fee = 12
			Expect(ledger.Update(ctx, updated)).To(Succeed())

			list := ledger.List(0)
			Expect(list[1].ID).To(Equal("a"))
			Expect(list[1].Fee).To(Equal(int64(12)))
		})
	})

	Describe("Complete and Fail", func() {
		var pending receipt.Receipt

		BeforeEach(func() {
			pending = newReceipt("chain")
			pending.Type = receipt.TypeOnchain
			pending.Status = receipt.StatusPending
			Expect(ledger.Add(ctx, pending)).To(Succeed())
		})

		It("should complete a pending receipt and record the txid", func() {
			got, err := ledger.Complete(ctx, "chain", "txid-1")

			Expect(err).NotTo(HaveOccurred())
			Expect(got.Status).To(Equal(receipt.StatusSucceeded))
			Expect(got.Txid).To(Equal("txid-1"))
			Expect(ledger.ListPending()).To(BeEmpty())
		})

		It("should fail a pending receipt with a reason", func() {
			got, err := ledger.Fail(ctx, "chain", "dropped from mempool")

			Expect(err).NotTo(HaveOccurred())
			Expect(got.Status).To(Equal(receipt.StatusFailed))
			Expect(got.FailureReason).To(Equal("dropped from mempool"))
		})

		It("should refuse to finalize twice", func() {
			_, err := ledger.Complete(ctx, "chain", "")
			Expect(err).NotTo(HaveOccurred())

			_, err = ledger.Fail(ctx, "chain", "late")
			Expect(err).To(MatchError(receipt.ErrAlreadyFinalized))
		})
	})

	Describe("request cross-references", func() {
		It("should find receipts by request id and invoice number", func() {
			withRequest := newReceipt("a")
			withRequest.RequestID = "req-1"
			withInvoice := newReceipt("b")
			withInvoice.InvoiceNumber = "INV-7"
			_ = ledger.Add(ctx, withRequest)
			_ = ledger.Add(ctx, withInvoice)

			Expect(ledger.ListByRequest("req-1")).To(HaveLen(1))
			Expect(ledger.ListByInvoiceNumber("INV-7")).To(HaveLen(1))
			Expect(ledger.ListByRequest("")).To(BeEmpty())
		})

		It("should back-fill both sides when linking", func() {
			// Given
			linker := &recordingLinker{}
			ledger.SetRequestLinker(linker)
			withInvoice := newReceipt("b")
			withInvoice.InvoiceNumber = "INV-7"
			_ = ledger.Add(ctx, withInvoice)

			// When
			err := ledger.LinkToRequest(ctx, "b", "req-9")

			// Then
			Expect(err).NotTo(HaveOccurred())
			Expect(ledger.ListByRequest("req-9")).To(HaveLen(1))
			Expect(linker.calls).To(Equal([][2]string{{"req-9", "b"}}))
		})

		It("should not call the linker for unknown receipts", func() {
			linker := &recordingLinker{}
			ledger.SetRequestLinker(linker)

			err := ledger.LinkToRequest(ctx, "missing", "req-9")

			Expect(err).To(MatchError(receipt.ErrReceiptNotFound))
			Expect(linker.calls).To(BeEmpty())
		})
	})

	Describe("Load", func() {
		It("should restore receipts in order", func() {
			_ = ledger.Add(ctx, newReceipt("a"))
			_ = ledger.Add(ctx, newReceipt("b"))

			reloaded := receipt.NewLedger(store, 3, lg)
			Expect(reloaded.Load(ctx)).To(Succeed())

			list := reloaded.List(0)
			Expect(list).To(HaveLen(2))
			Expect(list[0].ID).To(Equal("b"))
		})

		It("should treat an empty store as no receipts", func() {
			fresh := receipt.NewLedger(kvstore.NewMemory(), 0, lg)
			Expect(fresh.Load(ctx)).To(Succeed())
			Expect(fresh.List(0)).To(BeEmpty())
		})
	})
})
