package payment_test

import (
	"context"
	"errors"

	"github.com/frahmantamala/peerpay/internal/directory"
	"github.com/frahmantamala/peerpay/internal/payment"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type fakeDirectory struct {
	methods []directory.Candidate
	err     error
}

func (d *fakeDirectory) DiscoverMethods(ctx context.Context, peerID string) ([]directory.Candidate, error) {
	return d.methods, d.err
}

type fakeSelector struct {
	selection directory.Selection
	err       error
	strategy  string
}

func (s *fakeSelector) SelectMethod(ctx context.Context, candidates []directory.Candidate, amount int64, strategy string) (directory.Selection, error) {
	s.strategy = strategy
	return s.selection, s.err
}

var _ = Describe("Resolver", func() {
	var (
		dir      *fakeDirectory
		selector *fakeSelector
		resolver *payment.Resolver
	)

	ids := func(cs []directory.Candidate) []string {
		out := make([]string, 0, len(cs))
		for _, c := range cs {
			out = append(out, c.MethodID)
		}
		return out
	}

	BeforeEach(func() {
		dir = &fakeDirectory{methods: []directory.Candidate{
			{MethodID: "lightning", Endpoint: "lnurl1"},
			{MethodID: "onchain", Endpoint: "bc1q"},
			{MethodID: "ecash", Endpoint: "mint"},
		}}
		selector = &fakeSelector{}
		resolver = payment.NewResolver(dir, selector, testLogger)
	})

	It("should place the primary first and keep fallback order", func() {
		selector.selection = directory.Selection{PrimaryMethodID: "onchain", FallbackMethodIDs: []string{"ecash", "lightning"}}

		got, err := resolver.ResolveOrdered(context.Background(), "alice", 1_000, "")

		Expect(err).NotTo(HaveOccurred())
		Expect(ids(got)).To(Equal([]string{"onchain", "ecash", "lightning"}))
		Expect(got[0].Endpoint).To(Equal("bc1q"))
		Expect(selector.strategy).To(Equal(payment.DefaultStrategy))
	})

	It("should skip fallbacks that repeat the primary or are unknown", func() {
		selector.selection = directory.Selection{PrimaryMethodID: "lightning", FallbackMethodIDs: []string{"lightning", "fax", "onchain"}}

		got, err := resolver.ResolveOrdered(context.Background(), "alice", 1_000, "fastest")

		Expect(err).NotTo(HaveOccurred())
		Expect(ids(got)).To(Equal([]string{"lightning", "onchain"}))
	})

	It("should use the first discovered method when selection fails", func() {
		selector.err = errors.New("selector offline")

		got, err := resolver.ResolveOrdered(context.Background(), "alice", 1_000, "")

		Expect(err).NotTo(HaveOccurred())
		Expect(ids(got)).To(Equal([]string{"lightning"}))
	})

	It("should use the first discovered method when the primary is not advertised", func() {
		selector.selection = directory.Selection{PrimaryMethodID: "fax"}

		got, _ := resolver.ResolveOrdered(context.Background(), "alice", 1_000, "")

		Expect(ids(got)).To(Equal([]string{"lightning"}))
	})

	It("should return nothing when the peer publishes nothing", func() {
		dir.methods = nil

		got, err := resolver.ResolveOrdered(context.Background(), "alice", 1_000, "")

		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(BeEmpty())
	})

	It("should surface discovery errors", func() {
		dir.err = errors.New("directory down")

		_, err := resolver.ResolveOrdered(context.Background(), "alice", 1_000, "")

		Expect(err).To(HaveOccurred())
	})
})
