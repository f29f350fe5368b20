package autopay

import (
	"errors"
	"time"
)

// Rule is the per-peer autopay policy. MaxPerTransaction of zero means no
// per-transaction cap.
type Rule struct {
	PeerID              string    `json:"peer_id"`
	Name                string    `json:"name"`
	Enabled             bool      `json:"enabled"`
	MaxPerTransaction   int64     `json:"max_per_transaction"`
	RequireConfirmation bool      `json:"require_confirmation"`
	UpdatedAt           time.Time `json:"updated_at"`
}

type Settings struct {
	Enabled   bool      `json:"enabled"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Outcome string

const (
	OutcomeApproved      Outcome = "approved"
	OutcomeDenied        Outcome = "denied"
	OutcomeNeedsApproval Outcome = "needs_approval"
)

const DefaultRuleName = "default"

type Decision struct {
	Outcome  Outcome `json:"outcome"`
	RuleName string  `json:"rule_name,omitempty"`
	Reason   string  `json:"reason,omitempty"`
}

func Approved(ruleName string) Decision {
	return Decision{Outcome: OutcomeApproved, RuleName: ruleName}
}

func Denied(reason string) Decision {
	return Decision{Outcome: OutcomeDenied, Reason: reason}
}

func NeedsApproval(reason string) Decision {
	return Decision{Outcome: OutcomeNeedsApproval, Reason: reason}
}

var ErrRuleNotFound = errors.New("autopay rule not found")
