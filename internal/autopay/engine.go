package autopay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/frahmantamala/peerpay/internal/kvstore"
	"github.com/frahmantamala/peerpay/internal/limit"
)

const (
	settingsKey   = "autopay:settings"
	ruleKeyPrefix = "autopay:rule:"
)

type LimitChecker interface {
	WouldExceed(scope limit.Scope, amount int64) limit.ExceedCheck
}

// Engine decides whether an incoming payment may be paid without asking the
// wallet holder. Evaluate reads only; rules and the global switch change
// through the administrative methods.
type Engine struct {
	mu       sync.RWMutex
	settings Settings
	rules    map[string]Rule

	limits LimitChecker
	store  kvstore.Store
	logger *slog.Logger
}

func NewEngine(store kvstore.Store, limits LimitChecker, logger *slog.Logger) *Engine {
	return &Engine{
		rules:  make(map[string]Rule),
		limits: limits,
		store:  store,
		logger: logger,
	}
}

// Load reads persisted settings and rules. defaultEnabled applies when no
// settings were ever saved.
func (e *Engine) Load(ctx context.Context, defaultEnabled bool) error {
	settings := Settings{Enabled: defaultEnabled}
	rules := make(map[string]Rule)

	if e.store != nil {
		err := kvstore.GetJSON(ctx, e.store, settingsKey, &settings)
		if err != nil && !errors.Is(err, kvstore.ErrNotFound) {
			return fmt.Errorf("load autopay settings: %w", err)
		}

		entries, err := e.store.List(ctx, ruleKeyPrefix)
		if err != nil {
			return fmt.Errorf("list autopay rules: %w", err)
		}
		for _, entry := range entries {
			var rule Rule
			if err := json.Unmarshal(entry.Value, &rule); err != nil {
				return fmt.Errorf("decode %s: %w", entry.Key, err)
			}
			rules[rule.PeerID] = rule
		}
	}

	e.mu.Lock()
	e.settings = settings
	e.rules = rules
	e.mu.Unlock()

	e.logger.Info("autopay engine loaded", "enabled", settings.Enabled, "rules", len(rules))
	return nil
}

// Evaluate applies the policy in order: global switch, peer rule switch,
// per-transaction cap, peer limit, global limit.
func (e *Engine) Evaluate(peerID string, amount int64, methodID string) Decision {
	e.mu.RLock()
	settings := e.settings
	rule, hasRule := e.rules[peerID]
	e.mu.RUnlock()

	decision := e.evaluate(settings, rule, hasRule, peerID, amount)
	e.logger.Debug("autopay evaluated",
		"peer_id", peerID,
		"amount", amount,
		"method_id", methodID,
		"outcome", decision.Outcome,
		"reason", decision.Reason)
	return decision
}

func (e *Engine) evaluate(settings Settings, rule Rule, hasRule bool, peerID string, amount int64) Decision {
	if !settings.Enabled {
		return NeedsApproval("autopay disabled")
	}

	if hasRule {
		if !rule.Enabled {
			return Denied("peer autopay disabled")
		}
		if rule.MaxPerTransaction > 0 && amount > rule.MaxPerTransaction {
			return Denied(fmt.Sprintf("exceeds per-transaction limit of %d sats", rule.MaxPerTransaction))
		}
	}

	if check := e.limits.WouldExceed(limit.PeerScope(peerID), amount); check.WouldExceed {
		return Denied(fmt.Sprintf("would exceed peer spending limit (%d sats remaining)", check.Remaining))
	}
	if check := e.limits.WouldExceed(limit.GlobalScope(), amount); check.WouldExceed {
		return Denied(fmt.Sprintf("would exceed global spending limit (%d sats remaining)", check.Remaining))
	}

	if hasRule && rule.RequireConfirmation {
		return NeedsApproval("rule requires confirmation")
	}

	name := DefaultRuleName
	if hasRule && rule.Name != "" {
		name = rule.Name
	}
	return Approved(name)
}

func (e *Engine) Settings() Settings {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.settings
}

func (e *Engine) SetEnabled(ctx context.Context, enabled bool) (Settings, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	next := Settings{Enabled: enabled, UpdatedAt: time.Now().UTC()}
	if e.store != nil {
		if err := kvstore.PutJSON(ctx, e.store, settingsKey, next); err != nil {
			return Settings{}, fmt.Errorf("persist autopay settings: %w", err)
		}
	}
	e.settings = next
	e.logger.Info("autopay switched", "enabled", enabled)
	return next, nil
}

func (e *Engine) SetRule(ctx context.Context, rule Rule) (Rule, error) {
	rule.PeerID = strings.TrimSpace(rule.PeerID)
	if rule.PeerID == "" {
		return Rule{}, errors.New("rule requires a peer id")
	}
	if rule.MaxPerTransaction < 0 {
		return Rule{}, errors.New("max_per_transaction cannot be negative")
	}
	rule.UpdatedAt = time.Now().UTC()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.store != nil {
		if err := kvstore.PutJSON(ctx, e.store, ruleKeyPrefix+rule.PeerID, rule); err != nil {
			return Rule{}, fmt.Errorf("persist autopay rule: %w", err)
		}
	}
	e.rules[rule.PeerID] = rule
	return rule, nil
}

func (e *Engine) RemoveRule(ctx context.Context, peerID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.rules[peerID]; !ok {
		return ErrRuleNotFound
	}
	if e.store != nil {
		if err := e.store.Delete(ctx, ruleKeyPrefix+peerID); err != nil {
			return fmt.Errorf("delete autopay rule: %w", err)
		}
	}
	delete(e.rules, peerID)
	return nil
}

func (e *Engine) GetRule(peerID string) (Rule, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rule, ok := e.rules[peerID]
	if !ok {
		return Rule{}, ErrRuleNotFound
	}
	return rule, nil
}

func (e *Engine) ListRules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Rule, 0, len(e.rules))
	for _, r := range e.rules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeerID < out[j].PeerID })
	return out
}
