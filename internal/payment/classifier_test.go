package payment_test

import (
	"github.com/frahmantamala/peerpay/internal/payment"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Classify", func() {
	DescribeTable("maps recipients to target kinds",
		func(recipient string, expected payment.TargetKind) {
			Expect(payment.Classify(recipient)).To(Equal(expected))
		},
		Entry("segwit address", "bc1qxyz0000000000000000000000000000000", payment.TargetOnchain),
		Entry("testnet segwit", "tb1qxyz", payment.TargetOnchain),
		Entry("regtest segwit", "bcrt1qxyz", payment.TargetOnchain),
		Entry("bitcoin uri", "bitcoin:bc1qabc?amount=0.1", payment.TargetOnchain),
		Entry("legacy p2pkh", "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa", payment.TargetOnchain),
		Entry("p2sh", "3J98t1WpEZ73CNmQviecrnyiWrnqRhWNLy", payment.TargetOnchain),
		Entry("testnet legacy", "mipcBbFg9gMiCh81Kj8tqqdgoZub1ZJRfn", payment.TargetOnchain),
		Entry("mainnet invoice", "lnbc1...", payment.TargetLightning),
		Entry("upper-case invoice", "LNBC10U1PXYZ", payment.TargetLightning),
		Entry("testnet invoice", "lntb1xyz", payment.TargetLightning),
		Entry("signet invoice", "lntbs1xyz", payment.TargetLightning),
		Entry("regtest invoice", "lnbcrt1xyz", payment.TargetLightning),
		Entry("lightning uri", "lightning:lnbc1xyz", payment.TargetLightning),
		Entry("lnurl is not a bolt11 invoice", "LNURL1DP68GURN8GHJ7", payment.TargetUnknown),
		Entry("paykit uri", "paykit:abc", payment.TargetDirectory),
		Entry("pubky uri", "pubky://abc", payment.TargetDirectory),
		Entry("directory uri without a key", "paykit:", payment.TargetUnknown),
		Entry("plain word", "hello", payment.TargetUnknown),
		Entry("word starting with a legacy prefix", "mary", payment.TargetUnknown),
		Entry("empty", "   ", payment.TargetUnknown),
	)

	It("should strip schemes and query parameters", func() {
		Expect(payment.NormalizeTarget(" lightning:lnbc1abc ")).To(Equal("lnbc1abc"))
		Expect(payment.NormalizeTarget("BITCOIN:bc1qabc?amount=1")).To(Equal("bc1qabc"))
		Expect(payment.DirectoryKey("pubky://Key123")).To(Equal("Key123"))
	})
})
