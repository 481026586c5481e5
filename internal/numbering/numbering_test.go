package numbering

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

var testNow = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func TestDailyGeneratorFormat(t *testing.T) {
	gen := New(NewMemorySequencer(), shared.FixedClock{At: testNow})
	ctx := context.Background()

	first, err := gen.Next(ctx, "sal")
	require.NoError(t, err)
	require.Equal(t, "SAL-20260301-0001", first)
	second, err := gen.Next(ctx, PrefixSale)
	require.NoError(t, err)
	require.Equal(t, "SAL-20260301-0002", second)
	other, err := gen.Next(ctx, PrefixPurchase)
	require.NoError(t, err)
	require.Equal(t, "PUR-20260301-0001", other)

	_, err = gen.Next(ctx, " ")
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestRedisSequencerIsAtomic(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	gen := New(NewRedisSequencer(rdb, time.Hour), shared.FixedClock{At: testNow})
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := gen.Next(ctx, PrefixSettlement)
			if err != nil {
				t.Errorf("next: %v", err)
				return
			}
			mu.Lock()
			seen[n] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	require.Len(t, seen, 20)
	require.True(t, seen["STL-20260301-0020"])

	ttl := mr.TTL("backoffice:seq:STL:20260301")
	require.Equal(t, time.Hour, ttl)
}

func TestAssignRetriesOnDuplicate(t *testing.T) {
	gen := New(NewMemorySequencer(), shared.FixedClock{At: testNow})
	taken := map[string]bool{"SAL-20260301-0001": true, "SAL-20260301-0002": true}

	number, err := Assign(context.Background(), gen, PrefixSale, func(_ context.Context, n string) error {
		if taken[n] {
			return fmt.Errorf("insert sale: %w", shared.ErrDuplicate)
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, "SAL-20260301-0003", number)
}

func TestAssignStopsOnOtherErrors(t *testing.T) {
	gen := New(NewMemorySequencer(), shared.FixedClock{At: testNow})
	boom := errors.New("boom")
	calls := 0
	_, err := Assign(context.Background(), gen, PrefixSale, func(context.Context, string) error {
		calls++
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, calls)

	calls = 0
	_, err = Assign(context.Background(), gen, PrefixSale, func(context.Context, string) error {
		calls++
		return shared.ErrDuplicate
	})
	require.ErrorIs(t, err, shared.ErrDuplicate)
	require.Equal(t, MaxAttempts, calls)
}
