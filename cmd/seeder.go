package cmd

import (
	"context"
	"fmt"
	"log"

	"github.com/frahmantamala/peerpay/internal/autopay"
	"github.com/frahmantamala/peerpay/internal/limit"
	"github.com/spf13/cobra"
)

var (
	seedGlobalLimit int64
	seedPeerLimit   int64
	seedPeriod      string
	seedPeers       []string
	seedAutopay     bool
	clearData       bool
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed spending limits and autopay rules",
	Long:  `Seed a global spending limit, per-peer limits and autopay rules for development and testing purposes.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, lg := mustLoad()
		ctx := context.Background()

		app, err := buildApplication(ctx, cfg, lg)
		if err != nil {
			log.Fatalf("failed to init application: %v", err)
		}
		defer app.Close()

		if err := seed(ctx, app); err != nil {
			log.Fatalf("seed failed: %v", err)
		}
	},
}

func seed(ctx context.Context, app *Application) error {
	period := limit.Period(seedPeriod)
	if !period.Valid() {
		return fmt.Errorf("invalid period %q", seedPeriod)
	}

	if clearData {
		for _, l := range app.Limits.ListLimits() {
			if err := app.Limits.RemoveLimit(ctx, l.Scope); err != nil {
				return fmt.Errorf("remove limit %s: %w", l.Scope, err)
			}
		}
		for _, r := range app.Autopay.ListRules() {
			if err := app.Autopay.RemoveRule(ctx, r.PeerID); err != nil {
				return fmt.Errorf("remove autopay rule %s: %w", r.PeerID, err)
			}
		}
		fmt.Println("Cleared existing limits and autopay rules")
	}

	if seedGlobalLimit > 0 {
		if _, err := app.Limits.SetLimit(ctx, limit.GlobalScope(), seedGlobalLimit, period); err != nil {
			return fmt.Errorf("seed global limit: %w", err)
		}
		fmt.Printf("Seeded global %s limit: %d sats\n", period, seedGlobalLimit)
	}

	for _, peerID := range seedPeers {
		if seedPeerLimit > 0 {
			if _, err := app.Limits.SetLimit(ctx, limit.PeerScope(peerID), seedPeerLimit, period); err != nil {
				return fmt.Errorf("seed limit for %s: %w", peerID, err)
			}
			fmt.Printf("Seeded %s limit for %s: %d sats\n", period, peerID, seedPeerLimit)
		}

		rule := autopay.Rule{PeerID: peerID, Name: "seeded", Enabled: true}
		if _, err := app.Autopay.SetRule(ctx, rule); err != nil {
			return fmt.Errorf("seed autopay rule for %s: %w", peerID, err)
		}
		fmt.Println("Seeded autopay rule for", peerID)
	}

	if _, err := app.Autopay.SetEnabled(ctx, seedAutopay); err != nil {
		return fmt.Errorf("seed autopay switch: %w", err)
	}
	fmt.Println("Autopay enabled:", seedAutopay)
	return nil
}

func init() {
	seedCmd.Flags().BoolVar(&clearData, "clear", false, "Clear existing limits and rules before seeding")
	seedCmd.Flags().Int64Var(&seedGlobalLimit, "global-limit", 100_000, "global spending limit in sats (0 to skip)")
	seedCmd.Flags().Int64Var(&seedPeerLimit, "peer-limit", 50_000, "per-peer spending limit in sats (0 to skip)")
	seedCmd.Flags().StringVar(&seedPeriod, "period", string(limit.PeriodDaily), "limit period: daily, weekly or monthly")
	seedCmd.Flags().StringSliceVar(&seedPeers, "peer", nil, "peer id to seed a limit and autopay rule for (repeatable)")
	seedCmd.Flags().BoolVar(&seedAutopay, "autopay", true, "global autopay switch")
}
