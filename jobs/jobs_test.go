package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/backoffice/internal/inventory"
	jobmetrics "github.com/odyssey-erp/backoffice/internal/jobs"
	"github.com/odyssey-erp/backoffice/internal/saga"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestReconcileJobReportsDrift(t *testing.T) {
	ctx := context.Background()
	repo := inventory.NewMemoryRepository()
	svc := inventory.NewService(repo, nil, shared.NewMemoryIdempotencyStore(), inventory.ServiceConfig{})
	good, err := svc.CreateProduct(ctx, inventory.ProductInput{Name: "Widget", OpeningStock: 3})
	require.NoError(t, err)
	bad, err := svc.CreateProduct(ctx, inventory.ProductInput{Name: "Gadget", OpeningStock: 4})
	require.NoError(t, err)
	repo.ForceStock(bad.ID, 9)

	job := NewReconcileJob(svc, quietLogger(), jobmetrics.NewMetrics(prometheus.NewRegistry()))
	drifted, err := job.Run(ctx)
	require.NoError(t, err)
	require.Len(t, drifted, 1)
	require.Equal(t, bad.ID, drifted[0].ProductID)
	require.NotEqual(t, good.ID, drifted[0].ProductID)

	task, err := NewStockReconcileTask(time.Now())
	require.NoError(t, err)
	require.NoError(t, job.Handle(ctx, task))
	require.ErrorIs(t, job.Handle(ctx, asynq.NewTask(TaskStockReconcile, []byte("{"))), asynq.SkipRetry)
}

type failingReconciler struct{}

func (failingReconciler) ReconcileAll(context.Context) ([]inventory.Drift, error) {
	return nil, errors.New("db down")
}

func TestReconcileJobPropagatesFailure(t *testing.T) {
	job := NewReconcileJob(failingReconciler{}, quietLogger(), nil)
	_, err := job.Run(context.Background())
	require.EqualError(t, err, "db down")
}

func TestCleanupJobPurgesOldKeys(t *testing.T) {
	ctx := context.Background()
	store := shared.NewMemoryIdempotencyStore()
	require.NoError(t, store.CheckAndInsert(ctx, "k1", "inventory"))
	time.Sleep(5 * time.Millisecond)

	job := NewCleanupJob(store, 0, quietLogger(), nil)
	task, err := NewIdempotencyCleanupTask(0)
	require.NoError(t, err)
	require.NoError(t, job.Handle(ctx, task))
	require.ErrorIs(t, store.CheckAndInsert(ctx, "k1", "inventory"), shared.ErrIdempotencyConflict)

	task, err = NewIdempotencyCleanupTask(time.Millisecond)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, job.Handle(ctx, task))
	require.NoError(t, store.CheckAndInsert(ctx, "k1", "inventory"))
}

func TestInconsistencyJobRejectsBadPayload(t *testing.T) {
	job := NewInconsistencyJob(quietLogger(), nil)
	ctx := context.Background()
	require.ErrorIs(t, job.Handle(ctx, asynq.NewTask(TaskSagaInconsistency, []byte("nope"))), asynq.SkipRetry)
	require.ErrorIs(t, job.Handle(ctx, asynq.NewTask(TaskSagaInconsistency, []byte(`{}`))), asynq.SkipRetry)

	task, err := NewSagaInconsistencyTask(saga.Report{RunID: "r1", Saga: "delete_sale", Step: "return_stock:1", Cause: "boom"})
	require.NoError(t, err)
	require.NoError(t, job.Handle(ctx, task))
}

func TestClientReportsInconsistency(t *testing.T) {
	mr := miniredis.RunT(t)
	client := NewClient(asynq.RedisClientOpt{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	err := client.ReportInconsistency(context.Background(), saga.Report{RunID: "r1", Saga: "approve_purchase", At: time.Now()})
	require.NoError(t, err)

	critical, err := mr.List("asynq:{critical}:pending")
	require.NoError(t, err)
	require.Len(t, critical, 1)
	routine, err := mr.List("asynq:{default}:pending")
	require.NoError(t, err)
	require.Len(t, routine, 1)
}

func TestHealthReportsQueuesBeforeFirstEnqueue(t *testing.T) {
	mr := miniredis.RunT(t)
	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: mr.Addr()})
	t.Cleanup(func() { _ = inspector.Close() })

	r := chi.NewRouter()
	NewHandler(inspector, quietLogger()).MountRoutes(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Queues []queueHealth `json:"queues"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Queues, 2)
	require.Equal(t, QueueDefault, body.Queues[0].Queue)
	require.Equal(t, QueueCritical, body.Queues[1].Queue)
	require.Zero(t, body.Queues[0].Pending)
}
