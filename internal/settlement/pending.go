package settlement

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/frahmantamala/peerpay/internal/metrics"
)

var (
	ErrSettlementTimeout    = errors.New("settlement timed out waiting for engine callback")
	ErrDuplicateCorrelation = errors.New("correlation id already pending")
)

// Outcome is the final word from the engine on one settlement request.
type Outcome struct {
	ExecutionID string
	Succeeded   bool
	Error       string
}

// PendingTable bridges asynchronous engine callbacks back to the goroutine
// waiting on them. Each correlation id owns at most one slot, and a slot is
// removed exactly once: by Resolve, Cancel, or a timed-out Wait.
type PendingTable struct {
	mu      sync.Mutex
	waiters map[string]chan Outcome
}

func NewPendingTable() *PendingTable {
	return &PendingTable{waiters: make(map[string]chan Outcome)}
}

func (t *PendingTable) Register(correlationID string) (<-chan Outcome, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.waiters[correlationID]; exists {
		return nil, ErrDuplicateCorrelation
	}
	ch := make(chan Outcome, 1)
	t.waiters[correlationID] = ch
	metrics.PendingSettlements.Set(float64(len(t.waiters)))
	return ch, nil
}

// Resolve delivers the outcome to the waiter. It reports false when nobody
// is waiting, e.g. a late callback after a timeout.
func (t *PendingTable) Resolve(correlationID string, outcome Outcome) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	ch, ok := t.waiters[correlationID]
	if !ok {
		return false
	}
	delete(t.waiters, correlationID)
	metrics.PendingSettlements.Set(float64(len(t.waiters)))
	// The channel is buffered for exactly this send, and sending under the
	// lock means a Wait that cancels afterwards will find it in drain.
	ch <- outcome
	return true
}

func (t *PendingTable) Cancel(correlationID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.waiters[correlationID]; ok {
		delete(t.waiters, correlationID)
		metrics.PendingSettlements.Set(float64(len(t.waiters)))
	}
}

func (t *PendingTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.waiters)
}

// Wait blocks until the slot is resolved, the timeout passes or ctx is done.
// The slot is released on every path.
func (t *PendingTable) Wait(ctx context.Context, correlationID string, ch <-chan Outcome, timeout time.Duration) (Outcome, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case outcome := <-ch:
		return outcome, nil
	case <-timer.C:
		t.Cancel(correlationID)
		return t.drain(ch, ErrSettlementTimeout)
	case <-ctx.Done():
		t.Cancel(correlationID)
		return t.drain(ch, ctx.Err())
	}
}

// drain picks up an outcome that raced in between the deadline and Cancel.
func (t *PendingTable) drain(ch <-chan Outcome, err error) (Outcome, error) {
	select {
	case outcome := <-ch:
		return outcome, nil
	default:
		return Outcome{}, err
	}
}
