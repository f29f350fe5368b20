package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/frahmantamala/peerpay/internal/core/events"
	"github.com/frahmantamala/peerpay/internal/metrics"
	"github.com/frahmantamala/peerpay/internal/receipt"
)

var ErrQueueFull = errors.New("confirmation queue full")

type TransactionSource interface {
	GetTransaction(ctx context.Context, txid string) (Transaction, error)
}

type ReceiptStore interface {
	Get(id string) (receipt.Receipt, error)
	ListPending() []receipt.Receipt
	FindByTxid(txid string) (receipt.Receipt, error)
	Complete(ctx context.Context, id, txid string) (receipt.Receipt, error)
	Fail(ctx context.Context, id, reason string) (receipt.Receipt, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, event events.Event) error
}

type ConfirmationJob struct {
	ReceiptID string
	Txid      string
	Checks    int
}

type Worker struct {
	ID         int
	WorkerPool chan chan ConfirmationJob
	JobChannel chan ConfirmationJob
	Logger     *slog.Logger
}

func NewWorker(id int, workerPool chan chan ConfirmationJob, logger *slog.Logger) *Worker {
	return &Worker{
		ID:         id,
		WorkerPool: workerPool,
		JobChannel: make(chan ConfirmationJob),
		Logger:     logger,
	}
}

func (w *Worker) Start(ctx context.Context, wg *sync.WaitGroup, processFunc func(ConfirmationJob)) {
	wg.Add(1)
	go func() {
		defer wg.Done()

		for {
			select {
			case w.WorkerPool <- w.JobChannel:
			case <-ctx.Done():
				w.Logger.Debug("confirmation worker shutting down", "worker_id", w.ID)
				return
			}

			select {
			case job := <-w.JobChannel:
				w.Logger.Debug("worker checking transaction", "worker_id", w.ID, "txid", job.Txid)
				processFunc(job)
			case <-ctx.Done():
				w.Logger.Debug("confirmation worker shutting down", "worker_id", w.ID)
				return
			}
		}
	}()
}

type ConfirmerConfig struct {
	Workers               int
	QueueSize             int
	PollInterval          time.Duration
	MaxChecks             int
	RequiredConfirmations int
}

// Confirmer watches broadcast on-chain payments until the engine reports
// them confirmed or dropped, then finalizes their receipts. A receipt whose
// checks run out stays pending; the next Sweep picks it up again.
type Confirmer struct {
	config    ConfirmerConfig
	txs       TransactionSource
	receipts  ReceiptStore
	publisher EventPublisher
	logger    *slog.Logger

	jobQueue   chan ConfirmationJob
	workerPool chan chan ConfirmationJob
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	once       sync.Once
}

func NewConfirmer(config ConfirmerConfig, txs TransactionSource, receipts ReceiptStore, publisher EventPublisher, logger *slog.Logger) *Confirmer {
	if config.Workers <= 0 {
		config.Workers = 4
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 100
	}
	if config.PollInterval <= 0 {
		config.PollInterval = time.Minute
	}
	if config.MaxChecks <= 0 {
		config.MaxChecks = 60
	}
	if config.RequiredConfirmations <= 0 {
		config.RequiredConfirmations = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Confirmer{
		config:    config,
		txs:       txs,
		receipts:  receipts,
		publisher: publisher,
		logger:    logger,

		jobQueue:   make(chan ConfirmationJob, config.QueueSize),
		workerPool: make(chan chan ConfirmationJob, config.Workers),
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (c *Confirmer) Start() {
	c.once.Do(func() {
		for i := 0; i < c.config.Workers; i++ {
			worker := NewWorker(i, c.workerPool, c.logger)
			worker.Start(c.ctx, &c.wg, c.process)
		}

		c.wg.Add(1)
		go c.dispatch()

		c.logger.Info("confirmation worker pool started",
			"workers", c.config.Workers,
			"queue_size", cap(c.jobQueue),
			"poll_interval", c.config.PollInterval)
	})
}

func (c *Confirmer) dispatch() {
	defer c.wg.Done()

	for {
		select {
		case job := <-c.jobQueue:
			select {
			case jobChannel := <-c.workerPool:
				select {
				case jobChannel <- job:
				case <-c.ctx.Done():
					return
				}
			case <-c.ctx.Done():
				return
			}
		case <-c.ctx.Done():
			c.logger.Info("confirmation dispatcher shutting down")
			return
		}
	}
}

func (c *Confirmer) Shutdown() {
	c.logger.Info("shutting down confirmation tracker")
	c.cancel()
	c.wg.Wait()
	c.logger.Info("confirmation tracker shutdown complete", "abandoned_jobs", len(c.jobQueue))
}

// Track queues a pending receipt for confirmation polling.
func (c *Confirmer) Track(receiptID, txid string) error {
	return c.enqueue(ConfirmationJob{ReceiptID: receiptID, Txid: txid})
}

// Sweep queues every pending receipt that has a txid and returns how many
// were queued.
func (c *Confirmer) Sweep(ctx context.Context) int {
	queued := 0
	for _, r := range c.receipts.ListPending() {
		if r.Txid == "" {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		if err := c.Track(r.ID, r.Txid); err != nil {
			c.logger.Warn("sweep stopped", "error", err, "queued", queued)
			break
		}
		queued++
	}
	return queued
}

// RunOnce checks every pending receipt synchronously, without the pool.
func (c *Confirmer) RunOnce(ctx context.Context) (checked, finalized int, err error) {
	for _, r := range c.receipts.ListPending() {
		if r.Txid == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return checked, finalized, err
		}
		done, checkErr := c.CheckOnce(ctx, ConfirmationJob{ReceiptID: r.ID, Txid: r.Txid})
		checked++
		if checkErr != nil {
			c.logger.Warn("confirmation check failed", "receipt_id", r.ID, "txid", r.Txid, "error", checkErr)
			continue
		}
		if done {
			finalized++
		}
	}
	return checked, finalized, nil
}

// CheckOnce polls the engine for one transaction and finalizes the receipt
// when the outcome is known. done reports whether polling can stop.
func (c *Confirmer) CheckOnce(ctx context.Context, job ConfirmationJob) (bool, error) {
	tx, err := c.txs.GetTransaction(ctx, job.Txid)
	if err != nil {
		metrics.ConfirmationChecks.WithLabelValues("error").Inc()
		return false, fmt.Errorf("get transaction %s: %w", job.Txid, err)
	}
	return c.apply(ctx, job.ReceiptID, tx)
}

// Apply finalizes the receipt matching tx.Txid from a pushed notification.
func (c *Confirmer) Apply(ctx context.Context, tx Transaction) (receipt.Receipt, error) {
	r, err := c.receipts.FindByTxid(tx.Txid)
	if err != nil {
		return receipt.Receipt{}, err
	}
	if _, err := c.apply(ctx, r.ID, tx); err != nil {
		return receipt.Receipt{}, err
	}
	return c.receipts.Get(r.ID)
}

func (c *Confirmer) apply(ctx context.Context, receiptID string, tx Transaction) (bool, error) {
	current, err := c.receipts.Get(receiptID)
	if err != nil {
		return true, err
	}
	if !current.IsPending() {
		return true, nil
	}

	var (
		updated receipt.Receipt
		status  string
	)
	switch {
	case tx.Dropped:
		reason := tx.Reason
		if reason == "" {
			reason = "transaction dropped"
		}
		updated, err = c.receipts.Fail(ctx, receiptID, reason)
		status = "dropped"
	case tx.Confirmations >= c.config.RequiredConfirmations:
		updated, err = c.receipts.Complete(ctx, receiptID, tx.Txid)
		status = "confirmed"
	default:
		metrics.ConfirmationChecks.WithLabelValues("unconfirmed").Inc()
		return false, nil
	}
	if errors.Is(err, receipt.ErrAlreadyFinalized) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("finalize receipt %s: %w", receiptID, err)
	}

	metrics.ConfirmationChecks.WithLabelValues(status).Inc()
	c.logger.Info("on-chain payment finalized",
		"receipt_id", receiptID,
		"txid", tx.Txid,
		"status", updated.Status,
		"confirmations", tx.Confirmations)

	if c.publisher != nil {
		event := events.NewReceiptConfirmedEvent(receiptID, tx.Txid, string(updated.Status), tx.Confirmations)
		if err := c.publisher.Publish(ctx, event); err != nil {
			c.logger.Warn("failed to publish receipt event",
				"receipt_id", receiptID,
				"event_type", event.EventType(),
				"error", err)
		}
	}
	return true, nil
}

func (c *Confirmer) process(job ConfirmationJob) {
	job.Checks++
	done, err := c.CheckOnce(c.ctx, job)
	if err != nil {
		c.logger.Warn("confirmation check failed",
			"receipt_id", job.ReceiptID,
			"txid", job.Txid,
			"checks", job.Checks,
			"error", err)
	}
	if done {
		return
	}
	if job.Checks >= c.config.MaxChecks {
		c.logger.Warn("confirmation checks exhausted, leaving receipt pending",
			"receipt_id", job.ReceiptID,
			"txid", job.Txid,
			"checks", job.Checks)
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		timer := time.NewTimer(c.config.PollInterval)
		defer timer.Stop()
		select {
		case <-timer.C:
			if err := c.enqueue(job); err != nil {
				c.logger.Warn("could not requeue confirmation", "receipt_id", job.ReceiptID, "error", err)
			}
		case <-c.ctx.Done():
		}
	}()
}

func (c *Confirmer) enqueue(job ConfirmationJob) error {
	if c.ctx.Err() != nil {
		return c.ctx.Err()
	}
	select {
	case c.jobQueue <- job:
		c.logger.Debug("confirmation job queued",
			"receipt_id", job.ReceiptID,
			"txid", job.Txid,
			"queue_length", len(c.jobQueue))
		return nil
	default:
		return ErrQueueFull
	}
}
