package limit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/frahmantamala/peerpay/internal/kvstore"
	"github.com/frahmantamala/peerpay/internal/metrics"
	"github.com/google/uuid"
)

const (
	limitKeyPrefix       = "limit:"
	reservationKeyPrefix = "reservation:"

	DefaultRetention = 24 * time.Hour
)

// Ledger owns spending limits and their reservations. Every operation runs
// under one mutex, so reservations against a scope are linearized. The mutex
// guards only in-memory state and the local store write; callers never hold
// it across settlement I/O.
type Ledger struct {
	mu           sync.Mutex
	limits       map[string]*SpendingLimit
	reservations map[string]*Reservation

	store     kvstore.Store
	logger    *slog.Logger
	now       func() time.Time
	retention time.Duration
}

type Option func(*Ledger)

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

// WithRetention sets how long committed and rolled back reservations are
// kept before they are pruned.
func WithRetention(d time.Duration) Option {
	return func(l *Ledger) {
		if d > 0 {
			l.retention = d
		}
	}
}

func NewLedger(store kvstore.Store, logger *slog.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		limits:       make(map[string]*SpendingLimit),
		reservations: make(map[string]*Reservation),
		store:        store,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
		retention:    DefaultRetention,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load hydrates limits and reservations from the store. It replaces any
// in-memory state.
func (l *Ledger) Load(ctx context.Context) error {
	if l.store == nil {
		return nil
	}

	limitEntries, err := l.store.List(ctx, limitKeyPrefix)
	if err != nil {
		return fmt.Errorf("list limits: %w", err)
	}
	reservationEntries, err := l.store.List(ctx, reservationKeyPrefix)
	if err != nil {
		return fmt.Errorf("list reservations: %w", err)
	}

	limits := make(map[string]*SpendingLimit, len(limitEntries))
	for _, e := range limitEntries {
		var lim SpendingLimit
		if err := json.Unmarshal(e.Value, &lim); err != nil {
			return fmt.Errorf("decode %s: %w", e.Key, err)
		}
		limits[lim.Scope.Key()] = &lim
	}

	reservations := make(map[string]*Reservation, len(reservationEntries))
	for _, e := range reservationEntries {
		var res Reservation
		if err := json.Unmarshal(e.Value, &res); err != nil {
			return fmt.Errorf("decode %s: %w", e.Key, err)
		}
		reservations[res.ID] = &res
	}

	l.mu.Lock()
	l.limits = limits
	l.reservations = reservations
	l.mu.Unlock()

	l.logger.Info("limit ledger loaded", "limits", len(limits), "reservations", len(reservations))
	return nil
}

// Reserve deducts amount from the scope's remaining capacity and records an
// Active reservation. Spend is counted immediately so concurrent reservations
// can never overdraw the limit.
func (l *Ledger) Reserve(ctx context.Context, scope Scope, amount int64) (*Reservation, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limits[scope.Key()]
	if !ok {
		return nil, ErrLimitNotFound
	}

	now := l.now()
	*lim = lim.withPeriodApplied(now)

	if remaining := lim.Remaining(); amount > remaining {
		metrics.ReservationsTotal.WithLabelValues(string(scope.Kind), "rejected").Inc()
		return nil, &WouldExceedLimitError{Scope: scope, Requested: amount, Remaining: remaining}
	}

	before := *lim
	lim.CurrentSpent += amount

	res := &Reservation{
		ID:          uuid.NewString(),
		Scope:       scope,
		Amount:      amount,
		State:       ReservationActive,
		CreatedAt:   now,
		PeriodStart: lim.LastResetAt,
	}

	if err := l.putLimit(ctx, lim); err != nil {
		*lim = before
		return nil, fmt.Errorf("persist limit: %w", err)
	}
	if err := l.putReservation(ctx, res); err != nil {
		*lim = before
		if rerr := l.putLimit(ctx, lim); rerr != nil {
			l.logger.Error("failed to restore limit after reservation write error", "scope", scope.Key(), "error", rerr)
		}
		return nil, fmt.Errorf("persist reservation: %w", err)
	}

	l.reservations[res.ID] = res
	l.pruneLocked(ctx, now)

	metrics.ReservationsTotal.WithLabelValues(string(scope.Kind), "reserved").Inc()
	l.logger.Debug("reserved spend",
		"reservation_id", res.ID,
		"scope", scope.Key(),
		"amount", amount,
		"remaining", lim.Remaining())

	out := *res
	return &out, nil
}

// Commit finalizes a reservation. Committing twice is a no-op.
func (l *Ledger) Commit(ctx context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	res, ok := l.reservations[id]
	if !ok {
		return ErrReservationNotFound
	}
	switch res.State {
	case ReservationCommitted:
		return nil
	case ReservationRolledBack:
		return ErrReservationClosed
	}

	now := l.now()
	res.State = ReservationCommitted
	res.SettledAt = &now
	metrics.ReservationsTotal.WithLabelValues(string(res.Scope.Kind), "committed").Inc()

	// The in-memory transition stands even if the write fails; a stale
	// durable copy still holds the spend, so it never under-counts.
	if err := l.putReservation(ctx, res); err != nil {
		return fmt.Errorf("persist commit: %w", err)
	}
	return nil
}

// Rollback releases a reservation and restores its amount, unless the limit
// has already reset into a new period since the reservation was taken.
// Rolling back twice is a no-op.
func (l *Ledger) Rollback(ctx context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	res, ok := l.reservations[id]
	if !ok {
		return ErrReservationNotFound
	}
	switch res.State {
	case ReservationRolledBack:
		return nil
	case ReservationCommitted:
		return ErrReservationClosed
	}

	now := l.now()
	res.State = ReservationRolledBack
	res.SettledAt = &now
	metrics.ReservationsTotal.WithLabelValues(string(res.Scope.Kind), "rolled_back").Inc()

	var errs []error
	if lim, ok := l.limits[res.Scope.Key()]; ok {
		*lim = lim.withPeriodApplied(now)
		if lim.LastResetAt.Equal(res.PeriodStart) {
			lim.CurrentSpent -= res.Amount
			if lim.CurrentSpent < 0 {
				lim.CurrentSpent = 0
			}
		}
		if err := l.putLimit(ctx, lim); err != nil {
			errs = append(errs, fmt.Errorf("persist limit: %w", err))
		}
	}
	if err := l.putReservation(ctx, res); err != nil {
		errs = append(errs, fmt.Errorf("persist rollback: %w", err))
	}
	return errors.Join(errs...)
}

// WouldExceed is a read-only probe; it never mutates the ledger.
func (l *Ledger) WouldExceed(scope Scope, amount int64) ExceedCheck {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limits[scope.Key()]
	if !ok {
		return ExceedCheck{}
	}
	view := lim.withPeriodApplied(l.now())
	remaining := view.Remaining()
	return ExceedCheck{
		WouldExceed: amount > remaining,
		Remaining:   remaining,
		Limited:     true,
	}
}

// SetLimit creates or updates the limit for a scope. Existing spend in the
// current window is preserved; a period change starts a fresh window.
func (l *Ledger) SetLimit(ctx context.Context, scope Scope, total int64, period Period) (SpendingLimit, error) {
	if err := scope.Validate(); err != nil {
		return SpendingLimit{}, err
	}
	if total < 0 {
		return SpendingLimit{}, fmt.Errorf("total limit cannot be negative")
	}
	if !period.Valid() {
		return SpendingLimit{}, fmt.Errorf("invalid period %q", period)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	next := SpendingLimit{
		Scope:       scope,
		TotalLimit:  total,
		Period:      period,
		LastResetAt: period.Start(now),
	}
	if existing, ok := l.limits[scope.Key()]; ok && existing.Period == period {
		current := existing.withPeriodApplied(now)
		next.CurrentSpent = current.CurrentSpent
		next.LastResetAt = current.LastResetAt
	}

	if err := l.putLimit(ctx, &next); err != nil {
		return SpendingLimit{}, fmt.Errorf("persist limit: %w", err)
	}
	l.limits[scope.Key()] = &next

	l.logger.Info("spending limit set", "scope", scope.Key(), "total_limit", total, "period", period)
	return next, nil
}

func (l *Ledger) RemoveLimit(ctx context.Context, scope Scope) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.limits[scope.Key()]; !ok {
		return ErrLimitNotFound
	}
	if l.store != nil {
		if err := l.store.Delete(ctx, limitKeyPrefix+scope.Key()); err != nil {
			return fmt.Errorf("delete limit: %w", err)
		}
	}
	delete(l.limits, scope.Key())
	l.logger.Info("spending limit removed", "scope", scope.Key())
	return nil
}

func (l *Ledger) GetLimit(scope Scope) (SpendingLimit, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limits[scope.Key()]
	if !ok {
		return SpendingLimit{}, ErrLimitNotFound
	}
	return lim.withPeriodApplied(l.now()), nil
}

func (l *Ledger) ListLimits() []SpendingLimit {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	out := make([]SpendingLimit, 0, len(l.limits))
	for _, lim := range l.limits {
		out = append(out, lim.withPeriodApplied(now))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Scope.Key() < out[j].Scope.Key() })
	return out
}

func (l *Ledger) GetReservation(id string) (Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	res, ok := l.reservations[id]
	if !ok {
		return Reservation{}, ErrReservationNotFound
	}
	return *res, nil
}

// ListReservations returns reservations oldest first, optionally filtered by
// state.
func (l *Ledger) ListReservations(state ReservationState) []Reservation {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Reservation, 0, len(l.reservations))
	for _, res := range l.reservations {
		if state != "" && res.State != state {
			continue
		}
		out = append(out, *res)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (l *Ledger) pruneLocked(ctx context.Context, now time.Time) {
	cutoff := now.Add(-l.retention)
	for id, res := range l.reservations {
		if !res.Terminal() || res.SettledAt == nil || res.SettledAt.After(cutoff) {
			continue
		}
		if l.store != nil {
			if err := l.store.Delete(ctx, reservationKeyPrefix+id); err != nil {
				l.logger.Warn("failed to prune reservation", "reservation_id", id, "error", err)
				continue
			}
		}
		delete(l.reservations, id)
	}
}

func (l *Ledger) putLimit(ctx context.Context, lim *SpendingLimit) error {
	if l.store == nil {
		return nil
	}
	return kvstore.PutJSON(ctx, l.store, limitKeyPrefix+lim.Scope.Key(), lim)
}

func (l *Ledger) putReservation(ctx context.Context, res *Reservation) error {
	if l.store == nil {
		return nil
	}
	return kvstore.PutJSON(ctx, l.store, reservationKeyPrefix+res.ID, res)
}

// IsWouldExceed extracts the remaining capacity from a Reserve failure.
func IsWouldExceed(err error) (*WouldExceedLimitError, bool) {
	var exceed *WouldExceedLimitError
	if errors.As(err, &exceed) {
		return exceed, true
	}
	return nil, false
}
