package directory_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/frahmantamala/peerpay/internal/directory"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestDirectory(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Directory Client Suite")
}

var _ = Describe("Client", func() {
	var (
		server *httptest.Server
		client *directory.Client
		mux    *http.ServeMux
		lg     *slog.Logger
	)

	BeforeEach(func() {
		lg = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		mux = http.NewServeMux()
		server = httptest.NewServer(mux)
		client = directory.NewClient(directory.Config{BaseURL: server.URL, APIKey: "k"}, lg)
	})

	AfterEach(func() {
		server.Close()
	})

	Describe("DiscoverMethods", func() {
		It("should return the advertised methods", func() {
			mux.HandleFunc("/v1/peers/alice/methods", func(w http.ResponseWriter, r *http.Request) {
				Expect(r.Header.Get("X-API-Key")).To(Equal("k"))
				_ = json.NewEncoder(w).Encode(map[string]interface{}{
					"methods": []directory.Candidate{
						{MethodID: "lightning", Endpoint: "lnurl1abc"},
						{MethodID: "onchain", Endpoint: "bc1qabc"},
					},
				})
			})

			methods, err := client.DiscoverMethods(context.Background(), "alice")

			Expect(err).NotTo(HaveOccurred())
			Expect(methods).To(HaveLen(2))
			Expect(methods[0].MethodID).To(Equal("lightning"))
		})

		It("should return an empty list for an unknown peer", func() {
			methods, err := client.DiscoverMethods(context.Background(), "nobody")

			Expect(err).NotTo(HaveOccurred())
			Expect(methods).To(BeEmpty())
		})

		It("should surface server errors", func() {
			mux.HandleFunc("/v1/peers/alice/methods", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
			})

			_, err := client.DiscoverMethods(context.Background(), "alice")

			Expect(err).To(HaveOccurred())
		})
	})

	Describe("SelectMethod", func() {
		It("should decode the ranking", func() {
			mux.HandleFunc("/v1/select", func(w http.ResponseWriter, r *http.Request) {
				var body struct {
					Amount   int64  `json:"amount"`
					Strategy string `json:"strategy"`
				}
				Expect(json.NewDecoder(r.Body).Decode(&body)).To(Succeed())
				Expect(body.Amount).To(Equal(int64(500)))
				Expect(body.Strategy).To(Equal("balanced"))
				_ = json.NewEncoder(w).Encode(directory.Selection{
					PrimaryMethodID:   "onchain",
					FallbackMethodIDs: []string{"lightning"},
				})
			})

			sel, err := client.SelectMethod(context.Background(), []directory.Candidate{{MethodID: "lightning"}, {MethodID: "onchain"}}, 500, "balanced")

			Expect(err).NotTo(HaveOccurred())
			Expect(sel.PrimaryMethodID).To(Equal("onchain"))
			Expect(sel.FallbackMethodIDs).To(Equal([]string{"lightning"}))
		})

		It("should reject a selection without a primary", func() {
			mux.HandleFunc("/v1/select", func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{}`))
			})

			_, err := client.SelectMethod(context.Background(), nil, 1, "")

			Expect(err).To(HaveOccurred())
		})
	})
})
