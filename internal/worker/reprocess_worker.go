package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lot-ledger/internal/service"
	"go.uber.org/zap"
)

// PendingProcessor applies stored trades that were never processed
type PendingProcessor interface {
	ProcessPending(ctx context.Context, limit int) (*service.PendingReport, error)
}

// ReprocessWorker periodically retries trades left unprocessed, e.g. after a
// storage outage or a sell that was short at the time it arrived
type ReprocessWorker struct {
	processor PendingProcessor
	logger    *zap.Logger
	interval  time.Duration
	batchSize int
	stopChan  chan struct{}
	stopOnce  sync.Once
	started   atomic.Bool
	done      chan struct{}
}

// NewReprocessWorker creates a new pending-trade worker
func NewReprocessWorker(processor PendingProcessor, logger *zap.Logger, interval time.Duration, batchSize int) *ReprocessWorker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReprocessWorker{
		processor: processor,
		logger:    logger,
		interval:  interval,
		batchSize: batchSize,
		stopChan:  make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start runs the sweep loop until Stop is called
func (w *ReprocessWorker) Start() {
	w.started.Store(true)
	defer close(w.done)

	w.logger.Info("Reprocess worker started", zap.Duration("interval", w.interval))
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.sweep()
		case <-w.stopChan:
			w.logger.Info("Reprocess worker stopped")
			return
		}
	}
}

// Stop ends the loop and, if it is running, waits for an in-flight sweep
func (w *ReprocessWorker) Stop() {
	w.stopOnce.Do(func() { close(w.stopChan) })
	if w.started.Load() {
		<-w.done
	}
}

func (w *ReprocessWorker) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), w.interval)
	defer cancel()

	report, err := w.processor.ProcessPending(ctx, w.batchSize)
	if err != nil {
		w.logger.Error("Reprocess sweep aborted", zap.Error(err))
	}
	if report == nil || (report.Processed == 0 && len(report.Failed) == 0) {
		return
	}

	w.logger.Info("Reprocess sweep finished",
		zap.Int("processed", report.Processed),
		zap.Int("still_pending", len(report.Failed)),
	)
	for _, failure := range report.Failed {
		w.logger.Debug("Trade still pending",
			zap.Uint("trade_id", failure.TradeID),
			zap.String("reason", failure.Error),
		)
	}
}
