package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/backoffice/internal/jobs"
)

// InconsistencyJob surfaces failed compensations for manual reconciliation.
type InconsistencyJob struct {
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
}

// NewInconsistencyJob constructs the job.
func NewInconsistencyJob(logger *slog.Logger, metrics *jobmetrics.Metrics) *InconsistencyJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &InconsistencyJob{logger: logger, metrics: metrics}
}

// Handle processes TaskSagaInconsistency.
func (j *InconsistencyJob) Handle(_ context.Context, t *asynq.Task) error {
	var payload InconsistencyPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	if payload.Saga == "" {
		return fmt.Errorf("%w: saga name missing", asynq.SkipRetry)
	}
	j.metrics.AddInconsistency(payload.Saga)
	j.logger.Error("saga left inconsistent state",
		slog.String("run_id", payload.RunID),
		slog.String("saga", payload.Saga),
		slog.String("step", payload.Step),
		slog.String("cause", payload.Cause),
		slog.Any("failures", payload.Failures),
		slog.Time("at", payload.At))
	return nil
}
