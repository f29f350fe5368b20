package limit

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type ScopeKind string

const (
	ScopePeer   ScopeKind = "peer"
	ScopeGlobal ScopeKind = "global"
)

// Scope identifies what a spending limit applies to: one peer, or everything.
type Scope struct {
	Kind   ScopeKind `json:"kind"`
	PeerID string    `json:"peer_id,omitempty"`
}

func PeerScope(peerID string) Scope {
	return Scope{Kind: ScopePeer, PeerID: peerID}
}

func GlobalScope() Scope {
	return Scope{Kind: ScopeGlobal}
}

// Key is the stable string form, "global" or "peer:<id>".
func (s Scope) Key() string {
	if s.Kind == ScopeGlobal {
		return string(ScopeGlobal)
	}
	return string(ScopePeer) + ":" + s.PeerID
}

func (s Scope) String() string {
	return s.Key()
}

func (s Scope) Validate() error {
	switch s.Kind {
	case ScopeGlobal:
		return nil
	case ScopePeer:
		if strings.TrimSpace(s.PeerID) == "" {
			return errors.New("peer scope requires a peer id")
		}
		return nil
	default:
		return fmt.Errorf("unknown scope kind %q", s.Kind)
	}
}

func ParseScope(key string) (Scope, error) {
	if key == string(ScopeGlobal) {
		return GlobalScope(), nil
	}
	if id, ok := strings.CutPrefix(key, string(ScopePeer)+":"); ok && id != "" {
		return PeerScope(id), nil
	}
	return Scope{}, fmt.Errorf("invalid scope %q", key)
}

type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
)

func (p Period) Valid() bool {
	switch p {
	case PeriodDaily, PeriodWeekly, PeriodMonthly:
		return true
	}
	return false
}

// Start returns the beginning of the period window containing t, in UTC.
// Weeks start on Monday.
func (p Period) Start(t time.Time) time.Time {
	t = t.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	switch p {
	case PeriodWeekly:
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case PeriodMonthly:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return day
	}
}

type SpendingLimit struct {
	Scope        Scope     `json:"scope"`
	TotalLimit   int64     `json:"total_limit"`
	Period       Period    `json:"period"`
	CurrentSpent int64     `json:"current_spent"`
	LastResetAt  time.Time `json:"last_reset_at"`
}

func (l SpendingLimit) Remaining() int64 {
	if r := l.TotalLimit - l.CurrentSpent; r > 0 {
		return r
	}
	return 0
}

// withPeriodApplied returns the limit as it reads at now: spend cleared when
// a new period window has started since the last reset.
func (l SpendingLimit) withPeriodApplied(now time.Time) SpendingLimit {
	start := l.Period.Start(now)
	if start.After(l.LastResetAt) {
		l.CurrentSpent = 0
		l.LastResetAt = start
	}
	return l
}

type ReservationState string

const (
	ReservationActive     ReservationState = "active"
	ReservationCommitted  ReservationState = "committed"
	ReservationRolledBack ReservationState = "rolled_back"
)

type Reservation struct {
	ID        string           `json:"id"`
	Scope     Scope            `json:"scope"`
	Amount    int64            `json:"amount"`
	State     ReservationState `json:"state"`
	CreatedAt time.Time        `json:"created_at"`
	// PeriodStart is the limit window the amount was deducted from; a
	// rollback only restores spend inside that same window.
	PeriodStart time.Time  `json:"period_start"`
	SettledAt   *time.Time `json:"settled_at,omitempty"`
}

func (r Reservation) Terminal() bool {
	return r.State != ReservationActive
}

// ExceedCheck is the answer of a read-only WouldExceed probe. Limited is false
// when no limit is configured for the scope.
type ExceedCheck struct {
	WouldExceed bool  `json:"would_exceed"`
	Remaining   int64 `json:"remaining"`
	Limited     bool  `json:"limited"`
}

var (
	ErrLimitNotFound       = errors.New("spending limit not found")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrReservationClosed   = errors.New("reservation already settled the other way")
	ErrWouldExceedLimit    = errors.New("would exceed spending limit")
	ErrInvalidAmount       = errors.New("amount must be positive")
)

// WouldExceedLimitError is returned by Reserve when the amount does not fit.
type WouldExceedLimitError struct {
	Scope     Scope
	Requested int64
	Remaining int64
}

func (e *WouldExceedLimitError) Error() string {
	return fmt.Sprintf("%s: %s requested %d, remaining %d", ErrWouldExceedLimit, e.Scope, e.Requested, e.Remaining)
}

func (e *WouldExceedLimitError) Is(target error) bool {
	return target == ErrWouldExceedLimit
}
