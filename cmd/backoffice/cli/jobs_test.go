package cli

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/backoffice/jobs"
)

func TestTriggerEnqueuesMaintenanceJobs(t *testing.T) {
	mr := miniredis.RunT(t)
	c := NewJobsCLI(asynq.RedisClientOpt{Addr: mr.Addr()})
	t.Cleanup(func() { _ = c.Close() })
	ctx := context.Background()

	info, err := c.Trigger(ctx, jobs.TaskStockReconcile, 0)
	require.NoError(t, err)
	require.Equal(t, jobs.TaskStockReconcile, info.Type)
	require.Equal(t, jobs.QueueDefault, info.Queue)

	info, err = c.Trigger(ctx, jobs.TaskIdempotencyCleanup, 48*time.Hour)
	require.NoError(t, err)
	require.Equal(t, jobs.TaskIdempotencyCleanup, info.Type)

	pending, err := mr.List("asynq:{default}:pending")
	require.NoError(t, err)
	require.Len(t, pending, 2)
}

func TestTriggerRejectsUnknownJob(t *testing.T) {
	mr := miniredis.RunT(t)
	c := NewJobsCLI(asynq.RedisClientOpt{Addr: mr.Addr()})
	t.Cleanup(func() { _ = c.Close() })

	_, err := c.Trigger(context.Background(), jobs.TaskSagaInconsistency, 0)
	require.ErrorContains(t, err, "unsupported job")

	var nilCLI *JobsCLI
	_, err = nilCLI.Trigger(context.Background(), jobs.TaskStockReconcile, 0)
	require.Error(t, err)
	_, err = nilCLI.InspectQueue(jobs.QueueDefault)
	require.Error(t, err)
}
