package delivery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/backoffice/internal/numbering"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

var testNow = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func newTestService() (*Service, *MemoryRepository) {
	repo := NewMemoryRepository()
	clock := shared.FixedClock{At: testNow}
	gen := numbering.New(numbering.NewMemorySequencer(), clock)
	return NewService(repo, gen, clock, nil), repo
}

func TestCreateNumbersAndStampsCompletion(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	done, err := svc.Create(ctx, CreateInput{SaleID: 1, Status: StatusCompleted, Items: []ItemInput{{SaleItemID: 10, ProductID: 3, Quantity: 2}}})
	require.NoError(t, err)
	require.Equal(t, "DLV-20260301-0001", done.Number)
	require.NotNil(t, done.CompletedAt)
	require.EqualValues(t, 2, done.Quantity())
	require.Equal(t, done.ID, done.Items[0].DeliveryID)

	draft, err := svc.Create(ctx, CreateInput{SaleID: 1, Status: StatusDraft, Items: []ItemInput{{SaleItemID: 11, ProductID: 4, Quantity: 5}}})
	require.NoError(t, err)
	require.Equal(t, "DLV-20260301-0002", draft.Number)
	require.Nil(t, draft.CompletedAt)

	pending, err := svc.Pending(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, map[int64]int64{11: 5}, pending)
}

func TestAdjustDraft(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	_, err := svc.Create(ctx, CreateInput{SaleID: 2, Status: StatusDraft, Items: []ItemInput{{SaleItemID: 20, ProductID: 1, Quantity: 3}}})
	require.NoError(t, err)

	require.NoError(t, svc.AdjustDraft(ctx, 2, 20, -2))
	require.ErrorIs(t, svc.AdjustDraft(ctx, 2, 20, -2), ErrNothingPending)
	require.ErrorIs(t, svc.AdjustDraft(ctx, 2, 99, -1), ErrNothingPending)
	require.ErrorIs(t, svc.AdjustDraft(ctx, 3, 20, -1), ErrNothingPending)
	require.NoError(t, svc.AdjustDraft(ctx, 2, 20, 1))

	pending, err := svc.Pending(ctx, 2)
	require.NoError(t, err)
	require.EqualValues(t, 2, pending[20])
}

func TestDeleteBySaleAndRestore(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	a, err := svc.Create(ctx, CreateInput{SaleID: 5, Status: StatusCompleted, Items: []ItemInput{{SaleItemID: 1, ProductID: 1, Quantity: 1}}})
	require.NoError(t, err)
	_, err = svc.Create(ctx, CreateInput{SaleID: 6, Status: StatusCompleted, Items: []ItemInput{{SaleItemID: 2, ProductID: 1, Quantity: 1}}})
	require.NoError(t, err)

	removed, err := svc.DeleteBySale(ctx, 5)
	require.NoError(t, err)
	require.Len(t, removed, 1)
	require.Equal(t, 1, repo.Count())

	require.NoError(t, svc.Restore(ctx, removed))
	require.NoError(t, svc.Restore(ctx, removed))
	require.Equal(t, 2, repo.Count())
	got, err := svc.Get(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, a.Number, got.Number)
	require.Len(t, got.Items, 1)
}

func TestCreateValidation(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	_, err := svc.Create(ctx, CreateInput{SaleID: 1, Status: StatusDraft})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = svc.Create(ctx, CreateInput{SaleID: 1, Status: "shipped", Items: []ItemInput{{Quantity: 1}}})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = svc.Create(ctx, CreateInput{SaleID: 1, Status: StatusDraft, Items: []ItemInput{{Quantity: 0}}})
	require.ErrorIs(t, err, ErrInvalidQuantity)
	require.Zero(t, repo.Count())
	require.ErrorIs(t, svc.Delete(ctx, 404), ErrDeliveryNotFound)
}
