package settlement_test

import (
	"context"
	"time"

	"github.com/frahmantamala/peerpay/internal/settlement"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("PendingTable", func() {
	var table *settlement.PendingTable

	BeforeEach(func() {
		table = settlement.NewPendingTable()
	})

	It("should wake the waiter when the outcome arrives", func() {
		ch, err := table.Register("c1")
		Expect(err).NotTo(HaveOccurred())

		go func() {
			defer GinkgoRecover()
			time.Sleep(10 * time.Millisecond)
			Expect(table.Resolve("c1", settlement.Outcome{ExecutionID: "x", Succeeded: true})).To(BeTrue())
		}()

		outcome, err := table.Wait(context.Background(), "c1", ch, time.Second)

		Expect(err).NotTo(HaveOccurred())
		Expect(outcome.Succeeded).To(BeTrue())
		Expect(table.Len()).To(BeZero())
	})

	It("should allow only one slot per correlation id", func() {
		_, err := table.Register("c1")
		Expect(err).NotTo(HaveOccurred())

		_, err = table.Register("c1")
		Expect(err).To(MatchError(settlement.ErrDuplicateCorrelation))
	})

	It("should release the slot on timeout and ignore late callbacks", func() {
		ch, _ := table.Register("c1")

		_, err := table.Wait(context.Background(), "c1", ch, 10*time.Millisecond)

		Expect(err).To(MatchError(settlement.ErrSettlementTimeout))
		Expect(table.Len()).To(BeZero())
		Expect(table.Resolve("c1", settlement.Outcome{Succeeded: true})).To(BeFalse())
	})

	It("should release the slot when the caller gives up", func() {
		ch, _ := table.Register("c1")
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := table.Wait(ctx, "c1", ch, time.Minute)

		Expect(err).To(MatchError(context.Canceled))
		Expect(table.Len()).To(BeZero())
	})

	It("should deliver an outcome resolved before Wait starts", func() {
		ch, _ := table.Register("c1")
		Expect(table.Resolve("c1", settlement.Outcome{Error: "nope"})).To(BeTrue())

		outcome, err := table.Wait(context.Background(), "c1", ch, time.Millisecond)

		Expect(err).NotTo(HaveOccurred())
		Expect(outcome.Error).To(Equal("nope"))
	})
})
