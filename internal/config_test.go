package internal_test

import (
	"os"
	"testing"
	"time"

	"github.com/frahmantamala/peerpay/internal"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestInternal(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Internal Suite")
}

func validConfig() *internal.Config {
	cfg := internal.LoadConfigFromEnv()
	cfg.Database.Source = "postgres://localhost/peerpay"
	cfg.Security.JWTSecret = "0123456789abcdef0123456789abcdef"
	cfg.Settlement.BaseURL = "http://settlement.local"
	return cfg
}

var _ = Describe("Config", func() {
	Describe("Validate", func() {
		It("should accept a complete configuration", func() {
			Expect(validConfig().Validate()).To(Succeed())
		})

		It("should aggregate errors from every section", func() {
			// Given
			cfg := validConfig()
			cfg.Server.Port = 0
			cfg.Database.Source = ""
			cfg.Security.JWTSecret = "short"

			// When
			err := cfg.Validate()

			// Then
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("server config"))
			Expect(err.Error()).To(ContainSubstring("database config"))
			Expect(err.Error()).To(ContainSubstring("security config"))
		})

		It("should require a PIN hash when a confirmation threshold is set", func() {
			cfg := validConfig()
			cfg.Security.ConfirmationThreshold = 10_000

			Expect(cfg.Validate()).To(MatchError(ContainSubstring("payment_pin_hash")))

			cfg.Security.PaymentPINHash = "$2a$10$abcdefghijklmnopqrstuv"
			Expect(cfg.Validate()).To(Succeed())
		})

		It("should reject a settlement engine without a usable base url", func() {
			cfg := validConfig()
			cfg.Settlement.BaseURL = ""
			Expect(cfg.Validate()).To(MatchError(ContainSubstring("settlement config")))

			cfg.Settlement.BaseURL = "not a url"
			Expect(cfg.Validate()).To(MatchError(ContainSubstring("invalid base_url")))
		})

		It("should leave the directory optional", func() {
			cfg := validConfig()
			cfg.Directory.BaseURL = ""
			Expect(cfg.Validate()).To(Succeed())
		})

		It("should reject more idle than open connections", func() {
			cfg := validConfig()
			cfg.Database.MaxOpenConns = 2
			cfg.Database.MaxIdleConns = 5
			Expect(cfg.Validate()).To(MatchError(ContainSubstring("max_idle_conns")))
		})

		It("should reject a negative receipt bound", func() {
			cfg := validConfig()
			cfg.Receipts.MaxRetained = -1
			Expect(cfg.Validate()).To(MatchError(ContainSubstring("max_retained")))
		})
	})

	Describe("LoadConfigFromEnv", func() {
		var saved map[string]string

		setEnv := func(key, value string) {
			if _, ok := saved[key]; !ok {
				old, present := os.LookupEnv(key)
				if present {
					saved[key] = old
				} else {
					saved[key] = "\x00"
				}
			}
			Expect(os.Setenv(key, value)).To(Succeed())
		}

		BeforeEach(func() {
			saved = map[string]string{}
		})

		AfterEach(func() {
			for key, old := range saved {
				if old == "\x00" {
					_ = os.Unsetenv(key)
				} else {
					_ = os.Setenv(key, old)
				}
			}
		})

		It("should read values from the environment", func() {
			// Given
			setEnv("PORT", "9999")
			setEnv("SETTLEMENT_POLL_INTERVAL", "30s")
			setEnv("AUTOPAY_ENABLED", "true")
			setEnv("RECEIPTS_MAX_RETAINED", "42")

			// When
			cfg := internal.LoadConfigFromEnv()

			// Then
			Expect(cfg.Server.Port).To(Equal(9999))
			Expect(cfg.Settlement.PollInterval).To(Equal(30 * time.Second))
			Expect(cfg.Autopay.Enabled).To(BeTrue())
			Expect(cfg.Receipts.MaxRetained).To(Equal(42))
		})

		It("should fall back to defaults for malformed values", func() {
			setEnv("PORT", "eighty")
			setEnv("SETTLEMENT_POLL_INTERVAL", "soon")

			cfg := internal.LoadConfigFromEnv()

			Expect(cfg.Server.Port).To(Equal(8080))
			Expect(cfg.Settlement.PollInterval).To(Equal(time.Minute))
		})
	})
})
