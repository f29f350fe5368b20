package receipt

import (
	"net/http"
	"strconv"

	"github.com/frahmantamala/peerpay/internal"
	"github.com/frahmantamala/peerpay/internal/transport"
	"github.com/go-chi/chi"
)

type ServiceAPI interface {
	Get(id string) (Receipt, error)
	List(limit int) []Receipt
	ListByRequest(requestID string) []Receipt
	ListByInvoiceNumber(invoiceNumber string) []Receipt
	ListPending() []Receipt
}

type Handler struct {
	*transport.BaseHandler
	Service ServiceAPI
}

func NewHandler(baseHandler *transport.BaseHandler, service ServiceAPI) *Handler {
	return &Handler{
		BaseHandler: baseHandler,
		Service:     service,
	}
}

type ListResponse struct {
	Receipts []Receipt `json:"receipts"`
	Count    int       `json:"count"`
}

// ListReceipts handles GET /api/v1/receipts
// Filters: request_id, invoice_number, status=pending, limit.
func (h *Handler) ListReceipts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var receipts []Receipt
	switch {
	case q.Get("request_id") != "":
		receipts = h.Service.ListByRequest(q.Get("request_id"))
	case q.Get("invoice_number") != "":
		receipts = h.Service.ListByInvoiceNumber(q.Get("invoice_number"))
	case q.Get("status") == string(StatusPending):
		receipts = h.Service.ListPending()
	default:
		limit := 50
		if raw := q.Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				h.HandleServiceError(w, internal.NewValidationFieldError("limit", "limit must be a positive integer", internal.ErrCodeValidationFailed))
				return
			}
			limit = n
		}
		receipts = h.Service.List(limit)
	}

	h.WriteJSON(w, http.StatusOK, ListResponse{Receipts: receipts, Count: len(receipts)})
}

// GetReceipt handles GET /api/v1/receipts/{id}
func (h *Handler) GetReceipt(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Service.Get(chi.URLParam(r, "id"))
	if err != nil {
		h.HandleServiceError(w, internal.NewNotFoundError("Receipt not found", internal.ErrCodeReceiptNotFound))
		return
	}
	h.WriteJSON(w, http.StatusOK, rec)
}
