package receipt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/frahmantamala/peerpay/internal/kvstore"
)

const (
	storeKey           = "receipts"
	DefaultMaxRetained = 500
)

// RequestLinker back-fills the receipt reference on the request side.
type RequestLinker interface {
	LinkReceipt(ctx context.Context, requestID, receiptID string) error
}

// Ledger keeps receipts newest first, bounded to max entries. The whole list
// is persisted as a single document.
type Ledger struct {
	mu       sync.RWMutex
	receipts []Receipt
	max      int

	store  kvstore.Store
	linker RequestLinker
	logger *slog.Logger
	now    func() time.Time
}

func NewLedger(store kvstore.Store, max int, logger *slog.Logger) *Ledger {
	if max <= 0 {
		max = DefaultMaxRetained
	}
	return &Ledger{
		max:    max,
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (l *Ledger) SetRequestLinker(linker RequestLinker) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.linker = linker
}

func (l *Ledger) Load(ctx context.Context) error {
	var receipts []Receipt
	if err := kvstore.GetJSON(ctx, l.store, storeKey, &receipts); err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load receipts: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if len(receipts) > l.max {
		receipts = receipts[:l.max]
	}
	l.receipts = receipts
	l.logger.Info("receipt ledger loaded", "count", len(receipts))
	return nil
}

// Add inserts the receipt at the head and evicts the oldest entries beyond
// the retention bound.
func (l *Ledger) Add(ctx context.Context, r Receipt) error {
	if r.ID == "" {
		return ErrInvalidReceipt
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.indexOf(r.ID) >= 0 {
		return ErrReceiptExists
	}
	now := l.now()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now

	next := make([]Receipt, 0, min(len(l.receipts)+1, l.max))
	next = append(next, r)
	next = append(next, l.receipts...)
	if len(next) > l.max {
		evicted := len(next) - l.max
		next = next[:l.max]
		l.logger.Debug("receipts evicted", "count", evicted)
	}

	if err := l.persist(ctx, next); err != nil {
		return err
	}
	l.receipts = next
	return nil
}

// Update replaces an existing receipt, keeping its position.
func (l *Ledger) Update(ctx context.Context, r Receipt) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.replace(ctx, r.ID, func(Receipt) (Receipt, error) {
		return r, nil
	})
}

func (l *Ledger) Get(id string) (Receipt, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	i := l.indexOf(id)
	if i < 0 {
		return Receipt{}, ErrReceiptNotFound
	}
	return l.receipts[i], nil
}

// List returns up to limit receipts, most recent first. A limit of zero or
// less returns everything.
func (l *Ledger) List(limit int) []Receipt {
	return l.filter(limit, func(Receipt) bool { return true })
}

func (l *Ledger) ListByRequest(requestID string) []Receipt {
	return l.filter(0, func(r Receipt) bool { return requestID != "" && r.RequestID == requestID })
}

func (l *Ledger) ListByInvoiceNumber(invoiceNumber string) []Receipt {
	return l.filter(0, func(r Receipt) bool { return invoiceNumber != "" && r.InvoiceNumber == invoiceNumber })
}

func (l *Ledger) ListPending() []Receipt {
	return l.filter(0, Receipt.IsPending)
}

func (l *Ledger) FindByTxid(txid string) (Receipt, error) {
	found := l.filter(1, func(r Receipt) bool { return txid != "" && r.Txid == txid })
	if len(found) == 0 {
		return Receipt{}, ErrReceiptNotFound
	}
	return found[0], nil
}

// LinkToRequest records the request on the receipt and, through the linker,
// the receipt on the request. When the receipt carries only an invoice
// number this is how the two become cross-referenced.
func (l *Ledger) LinkToRequest(ctx context.Context, receiptID, requestID string) error {
	if requestID == "" {
		return errors.New("request id is required")
	}

	l.mu.Lock()
	err := l.replace(ctx, receiptID, func(r Receipt) (Receipt, error) {
		r.RequestID = requestID
		return r, nil
	})
	linker := l.linker
	l.mu.Unlock()
	if err != nil {
		return err
	}

	if linker == nil {
		return nil
	}
	if err := linker.LinkReceipt(ctx, requestID, receiptID); err != nil {
		return fmt.Errorf("link request %s: %w", requestID, err)
	}
	return nil
}

// Complete moves a pending receipt to succeeded. A txid, when given, is
// recorded on the receipt.
func (l *Ledger) Complete(ctx context.Context, id, txid string) (Receipt, error) {
	return l.finalize(ctx, id, func(r Receipt) Receipt {
		r.Status = StatusSucceeded
		if txid != "" {
			r.Txid = txid
		}
		return r
	})
}

func (l *Ledger) Fail(ctx context.Context, id, reason string) (Receipt, error) {
	return l.finalize(ctx, id, func(r Receipt) Receipt {
		r.Status = StatusFailed
		if reason != "" {
			r.FailureReason = reason
		}
		return r
	})
}

func (l *Ledger) finalize(ctx context.Context, id string, apply func(Receipt) Receipt) (Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out Receipt
	err := l.replace(ctx, id, func(r Receipt) (Receipt, error) {
		if !r.IsPending() {
			return r, ErrAlreadyFinalized
		}
		out = apply(r)
		return out, nil
	})
	if err != nil {
		return Receipt{}, err
	}
	l.logger.Info("receipt finalized", "receipt_id", id, "status", out.Status)
	return out, nil
}

// replace must be called with mu held.
func (l *Ledger) replace(ctx context.Context, id string, mutate func(Receipt) (Receipt, error)) error {
	i := l.indexOf(id)
	if i < 0 {
		return ErrReceiptNotFound
	}

	updated, err := mutate(l.receipts[i])
	if err != nil {
		return err
	}
	updated.ID = id
	updated.CreatedAt = l.receipts[i].CreatedAt
	updated.UpdatedAt = l.now()

	next := make([]Receipt, len(l.receipts))
	copy(next, l.receipts)
	next[i] = updated

	if err := l.persist(ctx, next); err != nil {
		return err
	}
	l.receipts = next
	return nil
}

func (l *Ledger) filter(limit int, keep func(Receipt) bool) []Receipt {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Receipt, 0)
	for _, r := range l.receipts {
		if !keep(r) {
			continue
		}
		out = append(out, r)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func (l *Ledger) indexOf(id string) int {
	for i := range l.receipts {
		if l.receipts[i].ID == id {
			return i
		}
	}
	return -1
}

func (l *Ledger) persist(ctx context.Context, receipts []Receipt) error {
	if l.store == nil {
		return nil
	}
	if err := kvstore.PutJSON(ctx, l.store, storeKey, receipts); err != nil {
		return fmt.Errorf("persist receipts: %w", err)
	}
	return nil
}
