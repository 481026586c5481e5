package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/backoffice/internal/jobs"
)

// KeyCleaner purges idempotency keys older than a cutoff.
type KeyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// CleanupJob removes stale idempotency keys.
type CleanupJob struct {
	store     KeyCleaner
	retention time.Duration
	logger    *slog.Logger
	metrics   *jobmetrics.Metrics
}

// NewCleanupJob constructs the job. Retention defaults to 30 days.
func NewCleanupJob(store KeyCleaner, retention time.Duration, logger *slog.Logger, metrics *jobmetrics.Metrics) *CleanupJob {
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupJob{store: store, retention: retention, logger: logger, metrics: metrics}
}

// Handle processes TaskIdempotencyCleanup.
func (j *CleanupJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload CleanupPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
		}
	}
	olderThan := j.retention
	if payload.OlderThan > 0 {
		olderThan = payload.OlderThan
	}
	tracker := j.metrics.Track(TaskIdempotencyCleanup)
	purged, err := j.store.Cleanup(ctx, olderThan)
	if err != nil {
		j.logger.Error("idempotency cleanup", slog.Any("error", err))
		return tracker.End(err)
	}
	j.metrics.AddPurged(purged)
	j.logger.Info("idempotency cleanup finished", slog.Int64("purged", purged), slog.Duration("older_than", olderThan))
	return tracker.End(nil)
}
