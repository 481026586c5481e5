package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/backoffice/internal/saga"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueCritical carries consistency reports ahead of routine work.
	QueueCritical = "critical"

	// TaskStockReconcile compares stored stock with the movement log of every product.
	TaskStockReconcile = "inventory:reconcile"
	// TaskIdempotencyCleanup purges processed idempotency keys past retention.
	TaskIdempotencyCleanup = "idempotency:cleanup"
	// TaskSagaInconsistency records a saga whose compensation failed.
	TaskSagaInconsistency = "saga:inconsistency"
)

// ReconcilePayload carries scheduling metadata.
type ReconcilePayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// CleanupPayload overrides the configured retention when OlderThan is positive.
type CleanupPayload struct {
	OlderThan time.Duration `json:"older_than"`
}

// InconsistencyPayload is the wire form of saga.Report.
type InconsistencyPayload struct {
	RunID    string    `json:"run_id"`
	Saga     string    `json:"saga"`
	Step     string    `json:"step"`
	Cause    string    `json:"cause"`
	Failures []string  `json:"failures"`
	At       time.Time `json:"at"`
}

// NewStockReconcileTask constructs a reconcile task.
func NewStockReconcileTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(ReconcilePayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStockReconcile, body, asynq.Queue(QueueDefault)), nil
}

// NewIdempotencyCleanupTask constructs a cleanup task.
func NewIdempotencyCleanupTask(olderThan time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(CleanupPayload{OlderThan: olderThan})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}

// NewSagaInconsistencyTask constructs a task from a failed-compensation report. It is
// never retried: the report is the record and a duplicate would mislead the operator.
func NewSagaInconsistencyTask(report saga.Report) (*asynq.Task, error) {
	body, err := json.Marshal(InconsistencyPayload{
		RunID:    report.RunID,
		Saga:     report.Saga,
		Step:     report.Step,
		Cause:    report.Cause,
		Failures: report.Failures,
		At:       report.At,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSagaInconsistency, body, asynq.Queue(QueueCritical), asynq.MaxRetry(0)), nil
}
