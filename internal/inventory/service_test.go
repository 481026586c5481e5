package inventory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

func newTestService(t *testing.T) (*Service, *MemoryRepository) {
	t.Helper()
	repo := NewMemoryRepository()
	svc := NewService(repo, nil, shared.NewMemoryIdempotencyStore(), ServiceConfig{})
	return svc, repo
}

func seedProduct(t *testing.T, svc *Service, stock int64, cost string) Product {
	t.Helper()
	p, err := svc.CreateProduct(context.Background(), ProductInput{Name: "Widget", OpeningStock: stock, OpeningCost: dec(cost)})
	require.NoError(t, err)
	return p
}

func TestPurchaseThenReversalRestoresCost(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	p := seedProduct(t, svc, 10, "5")

	mv, err := svc.RecordInbound(ctx, InboundInput{ProductID: p.ID, Qty: 5, UnitCost: dec("8"), RefType: RefPurchase, RefID: 1})
	require.NoError(t, err)
	require.EqualValues(t, 15, mv.Stock)
	require.True(t, dec("6").Equal(mv.AvgCost), "avg %s", mv.AvgCost)

	mv, err = svc.ReverseInbound(ctx, ReversalInput{ProductID: p.ID, Qty: 5, UnitCost: dec("8"), RefType: RefPurchase, RefID: 1})
	require.NoError(t, err)
	require.EqualValues(t, 10, mv.Stock)
	require.True(t, dec("5").Equal(mv.AvgCost), "avg %s", mv.AvgCost)
}

func TestOutboundKeepsCostUntilEmpty(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	p := seedProduct(t, svc, 4, "2.5")

	mv, err := svc.RecordOutbound(ctx, OutboundInput{ProductID: p.ID, Qty: 3, RefType: RefDelivery, RefID: 9})
	require.NoError(t, err)
	require.EqualValues(t, 1, mv.Stock)
	require.True(t, dec("2.5").Equal(mv.AvgCost))
	require.True(t, dec("2.5").Equal(mv.Entry.UnitCost))

	mv, err = svc.RecordOutbound(ctx, OutboundInput{ProductID: p.ID, Qty: 1, RefType: RefDelivery, RefID: 9})
	require.NoError(t, err)
	require.EqualValues(t, 0, mv.Stock)
	require.True(t, mv.AvgCost.IsZero())
	require.True(t, dec("2.5").Equal(mv.CostBefore))

	// returning at the pre-movement cost restores the product exactly
	mv, err = svc.RecordInbound(ctx, InboundInput{ProductID: p.ID, Qty: 1, UnitCost: mv.CostBefore, RefType: RefReturn, RefID: 9})
	require.NoError(t, err)
	require.True(t, dec("2.5").Equal(mv.AvgCost))
}

func TestNegativeStockGuard(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	p := seedProduct(t, svc, 2, "1")

	_, err := svc.RecordMovement(ctx, MovementInput{ProductID: p.ID, Delta: -3, RefType: RefCorrection})
	require.ErrorIs(t, err, ErrInsufficientStock)
	require.ErrorIs(t, err, shared.ErrInsufficientStock)

	stored, err := repo.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	require.EqualValues(t, 2, stored.Stock)
	logged, err := repo.SumDeltas(ctx, p.ID)
	require.NoError(t, err)
	require.EqualValues(t, 2, logged)
}

func TestAllowNegativeProduct(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	p, err := svc.CreateProduct(ctx, ProductInput{Name: "Service hour", AllowNegative: true, FallbackCost: dec("3")})
	require.NoError(t, err)
	require.True(t, dec("3").Equal(p.SnapshotCost()))

	require.NoError(t, svc.CheckAvailability(ctx, p.ID, 5))
	mv, err := svc.RecordOutbound(ctx, OutboundInput{ProductID: p.ID, Qty: 5, RefType: RefDelivery})
	require.NoError(t, err)
	require.EqualValues(t, -5, mv.Stock)
}

func TestCheckAvailability(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	p := seedProduct(t, svc, 3, "1")

	require.NoError(t, svc.CheckAvailability(ctx, p.ID, 3))
	require.ErrorIs(t, svc.CheckAvailability(ctx, p.ID, 4), ErrInsufficientStock)
	require.ErrorIs(t, svc.CheckAvailability(ctx, 999, 1), shared.ErrNotFound)
	require.ErrorIs(t, svc.CheckAvailability(ctx, p.ID, 0), shared.ErrValidation)
}

func TestIdempotencyKeyAppliesOnce(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	p := seedProduct(t, svc, 5, "1")

	input := OutboundInput{ProductID: p.ID, Qty: 2, RefType: RefDelivery, RefID: 1, IdempotencyKey: "delivery:1:line:1"}
	_, err := svc.RecordOutbound(ctx, input)
	require.NoError(t, err)
	_, err = svc.RecordOutbound(ctx, input)
	require.True(t, IsAlreadyApplied(err))

	got, err := svc.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	require.EqualValues(t, 3, got.Stock)
}

func TestFailedMovementReleasesIdempotencyKey(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	p := seedProduct(t, svc, 1, "1")

	input := OutboundInput{ProductID: p.ID, Qty: 2, RefType: RefDelivery, IdempotencyKey: "k"}
	_, err := svc.RecordOutbound(ctx, input)
	require.ErrorIs(t, err, ErrInsufficientStock)

	_, err = svc.RecordInbound(ctx, InboundInput{ProductID: p.ID, Qty: 1, UnitCost: dec("1"), RefType: RefPurchase})
	require.NoError(t, err)
	_, err = svc.RecordOutbound(ctx, input)
	require.NoError(t, err)
}

func TestValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	p := seedProduct(t, svc, 1, "1")

	_, err := svc.RecordMovement(ctx, MovementInput{ProductID: p.ID, Delta: 0, RefType: RefCorrection})
	require.ErrorIs(t, err, ErrInvalidQuantity)
	_, err = svc.RecordInbound(ctx, InboundInput{ProductID: p.ID, Qty: 1, UnitCost: dec("-1"), RefType: RefPurchase})
	require.ErrorIs(t, err, ErrInvalidUnitCost)
	_, err = svc.RecordMovement(ctx, MovementInput{ProductID: p.ID, Delta: 1, RefType: "gift"})
	require.ErrorIs(t, err, ErrInvalidRefType)
	_, err = svc.CreateProduct(ctx, ProductInput{})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestConcurrentOutboundNeverOversells(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	p := seedProduct(t, svc, 10, "1")

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.RecordOutbound(ctx, OutboundInput{ProductID: p.ID, Qty: 1, RefType: RefDelivery})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			if !errors.Is(err, ErrInsufficientStock) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 10, succeeded)

	drift, err := svc.Reconcile(ctx, p.ID)
	require.NoError(t, err)
	require.False(t, drift.Drifted())
	require.EqualValues(t, 0, drift.Stock)
}

func TestReconcileAllReportsDrift(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	a := seedProduct(t, svc, 3, "1")
	b := seedProduct(t, svc, 4, "1")
	repo.ForceStock(b.ID, 7)

	drifted, err := svc.ReconcileAll(ctx)
	require.NoError(t, err)
	require.Len(t, drifted, 1)
	require.Equal(t, b.ID, drifted[0].ProductID)
	require.NotEqual(t, a.ID, drifted[0].ProductID)
	require.EqualValues(t, 4, drifted[0].LoggedStock)
}

func TestHistoryNewestFirst(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	p := seedProduct(t, svc, 3, "1")
	_, err := svc.RecordInbound(ctx, InboundInput{ProductID: p.ID, Qty: 2, UnitCost: decimal.NewFromInt(4), RefType: RefPurchase, RefID: 5})
	require.NoError(t, err)

	entries, err := svc.History(ctx, p.ID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, RefPurchase, entries[0].RefType)
	require.Equal(t, RefCorrection, entries[1].RefType)
	require.EqualValues(t, 5, entries[0].StockAfter)
}
