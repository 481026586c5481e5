package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/backoffice/internal/inventory"
	jobmetrics "github.com/odyssey-erp/backoffice/internal/jobs"
)

// StockReconciler reports products whose stored stock drifted from their log.
type StockReconciler interface {
	ReconcileAll(ctx context.Context) ([]inventory.Drift, error)
}

// ReconcileJob runs the stock reconciliation.
type ReconcileJob struct {
	inventory StockReconciler
	logger    *slog.Logger
	metrics   *jobmetrics.Metrics
}

// NewReconcileJob constructs the job.
func NewReconcileJob(inv StockReconciler, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReconcileJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReconcileJob{inventory: inv, logger: logger, metrics: metrics}
}

// Handle processes TaskStockReconcile. Drift is logged and counted, never repaired.
func (j *ReconcileJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload ReconcilePayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
		}
	}
	_, err := j.Run(ctx)
	return err
}

// Run reconciles every product and returns the drifted ones.
func (j *ReconcileJob) Run(ctx context.Context) ([]inventory.Drift, error) {
	tracker := j.metrics.Track(TaskStockReconcile)
	drifted, err := j.inventory.ReconcileAll(ctx)
	if err != nil {
		j.logger.Error("stock reconcile", slog.Any("error", err))
		return nil, tracker.End(err)
	}
	for _, d := range drifted {
		j.logger.Warn("stock drift",
			slog.Int64("product_id", d.ProductID),
			slog.Int64("stock", d.Stock),
			slog.Int64("logged_stock", d.LoggedStock))
	}
	j.metrics.AddDrift(len(drifted))
	j.logger.Info("stock reconcile finished", slog.Int("drifted", len(drifted)))
	return drifted, tracker.End(nil)
}
