package partner

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

var testNow = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestService() (*Service, *MemoryRepository) {
	repo := NewMemoryRepository()
	return NewService(repo, &shared.MemoryAuditLog{}, shared.FixedClock{At: testNow}, nil), repo
}

func openAR(t *testing.T, svc *Service, saleID, itemID int64, amount string, due time.Time) Account {
	t.Helper()
	acc, err := svc.OpenAccount(context.Background(), OpenInput{
		PartnerType:  PartnerCustomer,
		PartnerID:    7,
		Direction:    DirectionAR,
		RefType:      RefSaleItem,
		RefID:        itemID,
		DocumentType: DocumentSale,
		DocumentID:   saleID,
		Amount:       dec(amount),
		DueDate:      due,
	})
	require.NoError(t, err)
	return acc
}

func requireCoherent(t *testing.T, acc Account) {
	t.Helper()
	balance := acc.Balance()
	require.False(t, balance.IsNegative(), "balance must not be negative")
	switch acc.Status {
	case StatusPaid:
		require.False(t, balance.IsPositive())
	case StatusPartial:
		require.True(t, balance.IsPositive() && balance.LessThan(acc.Amount))
	case StatusUnpaid:
		require.True(t, balance.Equal(acc.Amount))
	}
}

func TestDeriveStatus(t *testing.T) {
	require.Equal(t, StatusUnpaid, DeriveStatus(dec("100"), dec("0")))
	require.Equal(t, StatusPartial, DeriveStatus(dec("100"), dec("0.01")))
	require.Equal(t, StatusPaid, DeriveStatus(dec("100"), dec("100")))
}

func TestApplyPaymentTransitions(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	acc := openAR(t, svc, 1, 11, "100", testNow.AddDate(0, 0, 7))
	require.Equal(t, StatusUnpaid, acc.Status)

	acc, err := svc.ApplyPayment(ctx, acc.ID, dec("40"))
	require.NoError(t, err)
	require.Equal(t, StatusPartial, acc.Status)
	require.True(t, dec("60").Equal(acc.Balance()))
	requireCoherent(t, acc)

	_, err = svc.ApplyPayment(ctx, acc.ID, dec("60.01"))
	require.ErrorIs(t, err, ErrOverpayment)
	require.ErrorIs(t, err, shared.ErrOverpayment)

	acc, err = svc.ApplyPayment(ctx, acc.ID, dec("60"))
	require.NoError(t, err)
	require.Equal(t, StatusPaid, acc.Status)
	requireCoherent(t, acc)

	acc, err = svc.ReversePayment(ctx, acc.ID, dec("100"))
	require.NoError(t, err)
	require.Equal(t, StatusUnpaid, acc.Status)
	requireCoherent(t, acc)

	_, err = svc.ReversePayment(ctx, acc.ID, dec("1"))
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestApplyPaymentAbsorbsSubCentExcess(t *testing.T) {
	svc, _ := newTestService()
	acc := openAR(t, svc, 1, 11, "33.33", testNow)

	acc, err := svc.ApplyPayment(context.Background(), acc.ID, dec("33.334"))
	require.NoError(t, err)
	require.Equal(t, StatusPaid, acc.Status)
	require.True(t, acc.Balance().IsZero())
}

func TestApplyPaymentUnknownAccount(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.ApplyPayment(context.Background(), 404, dec("1"))
	require.ErrorIs(t, err, ErrAccountNotFound)
	require.ErrorIs(t, err, shared.ErrNotFound)
	_, err = svc.ApplyPayment(context.Background(), 404, dec("0"))
	require.ErrorIs(t, err, ErrInvalidAmount)
}

func TestOpenAccountValidation(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	base := OpenInput{
		PartnerType: PartnerVendor, PartnerID: 3, Direction: DirectionAR,
		RefType: RefPurchaseItem, RefID: 1, DocumentType: DocumentPurchase, DocumentID: 1,
		Amount: dec("10"), DueDate: testNow,
	}
	_, err := svc.OpenAccount(ctx, base)
	require.ErrorIs(t, err, shared.ErrValidation)

	base.Direction = DirectionAP
	base.Amount = dec("0.001")
	_, err = svc.OpenAccount(ctx, base)
	require.ErrorIs(t, err, ErrInvalidAmount)

	base.Amount = dec("10")
	acc, err := svc.OpenAccount(ctx, base)
	require.NoError(t, err)
	require.Equal(t, DirectionAP, acc.Direction)
}

func TestDeleteAndRestoreByDocument(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	a := openAR(t, svc, 5, 51, "10", testNow)
	b := openAR(t, svc, 5, 52, "20", testNow)
	other := openAR(t, svc, 6, 61, "30", testNow)

	removed, err := svc.DeleteByDocument(ctx, DocumentSale, 5)
	require.NoError(t, err)
	require.Len(t, removed, 2)
	require.Len(t, repo.All(), 1)

	require.NoError(t, svc.Restore(ctx, removed))
	require.NoError(t, svc.Restore(ctx, removed))
	all := repo.All()
	require.Len(t, all, 3)
	require.Equal(t, []int64{a.ID, b.ID, other.ID}, []int64{all[0].ID, all[1].ID, all[2].ID})

	_, err = svc.ApplyPayment(ctx, a.ID, dec("1"))
	require.NoError(t, err)
	_, err = svc.DeleteByDocument(ctx, DocumentSale, 5)
	require.ErrorIs(t, err, ErrHasSettlements)
	require.Len(t, repo.All(), 3)
}

func TestDocumentPaidRollup(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	a := openAR(t, svc, 9, 91, "10", testNow)
	b := openAR(t, svc, 9, 92, "5", testNow)

	paid, lines, err := svc.DocumentPaid(ctx, DocumentSale, 9)
	require.NoError(t, err)
	require.False(t, paid)
	require.Equal(t, 2, lines)

	_, err = svc.ApplyPayment(ctx, a.ID, dec("10"))
	require.NoError(t, err)
	paid, _, err = svc.DocumentPaid(ctx, DocumentSale, 9)
	require.NoError(t, err)
	require.False(t, paid)

	_, err = svc.ApplyPayment(ctx, b.ID, dec("5"))
	require.NoError(t, err)
	paid, _, err = svc.DocumentPaid(ctx, DocumentSale, 9)
	require.NoError(t, err)
	require.True(t, paid)

	paid, lines, err = svc.DocumentPaid(ctx, DocumentSale, 404)
	require.NoError(t, err)
	require.False(t, paid)
	require.Zero(t, lines)
}

func TestListOpenOrdersByDueDate(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	late := openAR(t, svc, 1, 1, "10", testNow.AddDate(0, 0, 14))
	early := openAR(t, svc, 2, 2, "10", testNow.AddDate(0, 0, 7))
	paid := openAR(t, svc, 3, 3, "10", testNow)
	_, err := svc.ApplyPayment(ctx, paid.ID, dec("10"))
	require.NoError(t, err)

	open, err := svc.ListOpen(ctx, PartnerCustomer, 7, DirectionAR)
	require.NoError(t, err)
	require.Len(t, open, 2)
	require.Equal(t, early.ID, open[0].ID)
	require.Equal(t, late.ID, open[1].ID)
}

func TestAging(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	openAR(t, svc, 1, 1, "10", testNow.AddDate(0, 0, 3))
	openAR(t, svc, 2, 2, "20", testNow.AddDate(0, 0, -10))
	openAR(t, svc, 3, 3, "30", testNow.AddDate(0, 0, -45))
	partial := openAR(t, svc, 4, 4, "40", testNow.AddDate(0, 0, -200))
	_, err := svc.ApplyPayment(ctx, partial.ID, dec("15"))
	require.NoError(t, err)

	bucket, err := svc.Aging(ctx, DirectionAR, time.Time{})
	require.NoError(t, err)
	require.True(t, dec("10").Equal(bucket.Current))
	require.True(t, dec("20").Equal(bucket.Bucket30))
	require.True(t, dec("30").Equal(bucket.Bucket60))
	require.True(t, bucket.Bucket90.IsZero())
	require.True(t, dec("25").Equal(bucket.Bucket120))
	require.True(t, dec("85").Equal(bucket.Total()))
}
