package payment

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/frahmantamala/peerpay/internal/directory"
	"github.com/frahmantamala/peerpay/internal/metrics"
)

const DefaultStrategy = "balanced"

type MethodDirectory interface {
	DiscoverMethods(ctx context.Context, peerID string) ([]directory.Candidate, error)
}

type MethodSelector interface {
	SelectMethod(ctx context.Context, candidates []directory.Candidate, amount int64, strategy string) (directory.Selection, error)
}

// Resolver orders a peer's advertised methods into primary plus fallbacks.
type Resolver struct {
	directory MethodDirectory
	selector  MethodSelector
	logger    *slog.Logger
}

func NewResolver(dir MethodDirectory, selector MethodSelector, logger *slog.Logger) *Resolver {
	return &Resolver{
		directory: dir,
		selector:  selector,
		logger:    logger,
	}
}

// ResolveOrdered returns the candidates to attempt, primary first. When
// selection fails the first discovered method is used alone.
func (r *Resolver) ResolveOrdered(ctx context.Context, peerID string, amount int64, strategy string) ([]directory.Candidate, error) {
	discovered, err := r.directory.DiscoverMethods(ctx, peerID)
	if err != nil {
		return nil, fmt.Errorf("discover methods: %w", err)
	}
	if len(discovered) == 0 {
		return []directory.Candidate{}, nil
	}
	if strategy == "" {
		strategy = DefaultStrategy
	}

	byID := make(map[string]directory.Candidate, len(discovered))
	for _, c := range discovered {
		if _, seen := byID[c.MethodID]; !seen {
			byID[c.MethodID] = c
		}
	}

	sel, err := r.selector.SelectMethod(ctx, discovered, amount, strategy)
	if err != nil {
		return r.degraded(peerID, discovered, err), nil
	}
	primary, ok := byID[sel.PrimaryMethodID]
	if !ok {
		return r.degraded(peerID, discovered, fmt.Errorf("unknown primary method %q", sel.PrimaryMethodID)), nil
	}

	ordered := []directory.Candidate{primary}
	used := map[string]bool{primary.MethodID: true}
	for _, id := range sel.FallbackMethodIDs {
		c, ok := byID[id]
		if !ok || used[id] {
			continue
		}
		used[id] = true
		ordered = append(ordered, c)
	}

	r.logger.Debug("methods resolved",
		"peer_id", peerID,
		"strategy", strategy,
		"primary", primary.MethodID,
		"fallbacks", len(ordered)-1)
	return ordered, nil
}

func (r *Resolver) degraded(peerID string, discovered []directory.Candidate, cause error) []directory.Candidate {
	metrics.ResolverDegraded.Inc()
	r.logger.Warn("method selection failed, using first discovered method",
		"peer_id", peerID,
		"method_id", discovered[0].MethodID,
		"error", cause)
	return []directory.Candidate{discovered[0]}
}
