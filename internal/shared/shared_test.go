package shared

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestErrorTaxonomyMatching(t *testing.T) {
	err := Invalid("amount", "must be positive")
	require.ErrorIs(t, err, ErrValidation)
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	require.Equal(t, "amount", ve.Field)

	cause := errors.New("boom")
	consistency := &ConsistencyError{Saga: "sale", Step: "payments", Cause: cause, Failures: []CompensationFailure{{Step: "items", Err: errors.New("db down")}}}
	require.ErrorIs(t, consistency, ErrConsistency)
	require.ErrorIs(t, consistency, cause)
	require.Contains(t, consistency.Error(), "items: db down")

	storage := &StorageError{Op: "insert sale", Err: cause}
	require.ErrorIs(t, storage, ErrStorage)
	require.ErrorIs(t, storage, cause)
}

func TestMemoryIdempotencyStore(t *testing.T) {
	store := NewMemoryIdempotencyStore()
	ctx := context.Background()

	require.NoError(t, store.CheckAndInsert(ctx, "k1", "inventory"))
	require.ErrorIs(t, store.CheckAndInsert(ctx, "k1", "inventory"), ErrIdempotencyConflict)
	require.NoError(t, store.Delete(ctx, "k1"))
	require.NoError(t, store.CheckAndInsert(ctx, "k1", "inventory"))
	require.Error(t, store.CheckAndInsert(ctx, "", "inventory"))

	removed, err := store.Cleanup(ctx, -time.Second)
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)
}

func TestLocalLockerSerializesKey(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	release, err := locker.Obtain(ctx, SaleLockKey(1))
	require.NoError(t, err)

	other, err := locker.Obtain(ctx, SaleLockKey(2))
	require.NoError(t, err)
	other()

	timeoutCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = locker.Obtain(timeoutCtx, SaleLockKey(1))
	require.ErrorIs(t, err, ErrLockNotObtained)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r, err := locker.Obtain(ctx, SaleLockKey(1))
		if err == nil {
			r()
		}
	}()
	release()
	release()
	wg.Wait()
}

func TestRedisLocker(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	locker := NewRedisLocker(rdb, time.Second)
	locker.wait = 200 * time.Millisecond
	ctx := context.Background()

	release, err := locker.Obtain(ctx, PurchaseLockKey(7))
	require.NoError(t, err)

	_, err = locker.Obtain(ctx, PurchaseLockKey(7))
	require.ErrorIs(t, err, ErrLockNotObtained)

	release()
	again, err := locker.Obtain(ctx, PurchaseLockKey(7))
	require.NoError(t, err)
	again()
}

func TestPaginationWindow(t *testing.T) {
	p := NewPagination(2, 10, 25)
	require.Equal(t, 3, p.TotalPages)
	start, end := p.Window(25)
	require.Equal(t, 10, start)
	require.Equal(t, 20, end)
	start, end = NewPagination(5, 10, 25).Window(25)
	require.Equal(t, 25, start)
	require.Equal(t, 25, end)
}

func TestMemoryAuditLogUsesContextActor(t *testing.T) {
	var log MemoryAuditLog
	ctx := ContextWithActor(context.Background(), 42)
	require.NoError(t, log.Record(ctx, AuditLog{Action: "sale:create", Entity: "sale", EntityID: "1"}))
	require.Error(t, log.Record(ctx, AuditLog{Action: "sale:create"}))
	entries := log.Entries()
	require.Len(t, entries, 1)
	require.EqualValues(t, 42, entries[0].ActorID)
}
