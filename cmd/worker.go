package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run background workers outside the HTTP server",
	Long:  `Run background workers standalone. The server already runs them; use these while the server is stopped or for maintenance.`,
}

var confirmationWorkerCmd = &cobra.Command{
	Use:   "confirmations",
	Short: "Track pending on-chain receipts until they confirm",
	Long:  `Poll the settlement engine for every pending on-chain receipt and finalize the ones that confirmed or were dropped`,
	Run: func(cmd *cobra.Command, args []string) {
		startConfirmationWorker()
	},
}

var (
	confirmOnce    bool
	sweepInterval  time.Duration
	maxWorkers     int
	jobQueueSize   int
	confirmTimeout time.Duration
)

func startConfirmationWorker() {
	cfg, lg := mustLoad()
	cfg.Settlement.ConfirmationWorkers = getIntFlag(maxWorkers, cfg.Settlement.ConfirmationWorkers)
	cfg.Settlement.ConfirmationQueueSize = getIntFlag(jobQueueSize, cfg.Settlement.ConfirmationQueueSize)

	ctx := context.Background()
	app, err := buildApplication(ctx, cfg, lg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	if confirmOnce {
		runCtx, cancel := context.WithTimeout(ctx, confirmTimeout)
		defer cancel()

		checked, finalized, err := app.Confirmer.RunOnce(runCtx)
		if err != nil {
			lg.Error("confirmation run interrupted", "error", err, "checked", checked, "finalized", finalized)
			return
		}
		lg.Info("confirmation run complete", "checked", checked, "finalized", finalized)
		return
	}

	lg.Info("starting confirmation worker",
		"max_workers", cfg.Settlement.ConfirmationWorkers,
		"job_queue_size", cfg.Settlement.ConfirmationQueueSize,
		"sweep_interval", sweepInterval)

	app.Confirmer.Start()
	lg.Info("initial sweep queued", "receipts", app.Confirmer.Sweep(ctx))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	lg.Info("confirmation worker is running. Press Ctrl+C to stop.")
	for {
		select {
		case <-ticker.C:
			if n := app.Confirmer.Sweep(ctx); n > 0 {
				lg.Info("sweep queued pending receipts", "receipts", n)
			}
		case sig := <-sigChan:
			lg.Info("received signal, shutting down confirmation worker", "signal", sig)
			return
		}
	}
}

func getIntFlag(flagValue, configValue int) int {
	if flagValue > 0 {
		return flagValue
	}
	return configValue
}

func init() {
	confirmationWorkerCmd.Flags().BoolVar(&confirmOnce, "once", false, "check every pending receipt once and exit")
	confirmationWorkerCmd.Flags().DurationVar(&sweepInterval, "sweep-interval", 10*time.Minute, "how often to re-queue receipts whose checks ran out")
	confirmationWorkerCmd.Flags().DurationVar(&confirmTimeout, "timeout", 5*time.Minute, "overall deadline for --once")
	confirmationWorkerCmd.Flags().IntVar(&maxWorkers, "max-workers", 0, "Maximum number of workers (overrides config)")
	confirmationWorkerCmd.Flags().IntVar(&jobQueueSize, "job-queue-size", 0, "Job queue buffer size (overrides config)")

	workerCmd.AddCommand(confirmationWorkerCmd)

	rootCmd.AddCommand(workerCmd)
}
