package cash

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

func seedAccount(t *testing.T, svc *Service, name, opening string) Account {
	t.Helper()
	acc, err := svc.CreateAccount(context.Background(), AccountInput{Name: name, Type: TypeCash, OpeningBalance: dec(opening)})
	require.NoError(t, err)
	return acc
}

func TestCreateAccountBooksOpeningBalance(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	acc := seedAccount(t, svc, "Till", "250")
	require.True(t, dec("250").Equal(acc.Balance))

	txs, page, err := svc.History(ctx, acc.ID, 1, 10)
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
	require.Len(t, txs, 1)
	require.Equal(t, TxAdjustment, txs[0].TxType)
	require.True(t, txs[0].BalanceBefore.IsZero())
	require.True(t, dec("250").Equal(txs[0].BalanceAfter))

	_, err = svc.CreateAccount(ctx, AccountInput{Name: " ", Type: TypeCash})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = svc.CreateAccount(ctx, AccountInput{Name: "Vault", Type: "safe"})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestAdjustBalanceRecordsBeforeAfter(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	acc := seedAccount(t, svc, "Till", "100")

	res, err := svc.AdjustBalance(ctx, AdjustInput{AccountID: acc.ID, Amount: dec("30.505"), Direction: Increase, TxType: TxSalePayment, RefID: 4})
	require.NoError(t, err)
	require.True(t, res.Applied())
	require.Nil(t, res.Warning)
	require.True(t, dec("100").Equal(res.Transaction.BalanceBefore))
	require.True(t, dec("130.51").Equal(res.Transaction.BalanceAfter))

	res, err = svc.AdjustBalance(ctx, AdjustInput{AccountID: acc.ID, Amount: dec("0.51"), Direction: Decrease, TxType: TxAdjustment})
	require.NoError(t, err)
	require.True(t, dec("130").Equal(res.Transaction.BalanceAfter))

	got, err := svc.GetAccount(ctx, acc.ID)
	require.NoError(t, err)
	require.True(t, dec("130").Equal(got.Balance))
}

func TestAdjustBalanceResolvesMethodByName(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	bank := seedAccount(t, svc, "Bank BCA", "0")

	res, err := svc.AdjustBalance(ctx, AdjustInput{Method: "  bank bca ", Amount: dec("10"), Direction: Increase, TxType: TxSalePayment})
	require.NoError(t, err)
	require.True(t, res.Applied())
	require.Equal(t, bank.ID, res.Transaction.AccountID)

	res, err = svc.AdjustBalance(ctx, AdjustInput{Method: "qris", Amount: dec("10"), Direction: Increase, TxType: TxSalePayment})
	require.NoError(t, err)
	require.False(t, res.Applied())
	require.NotNil(t, res.Warning)
	require.Equal(t, shared.WarnUnresolvedCashAccount, res.Warning.Code)
}

func TestAdjustBalanceSkipsInactiveOnResolve(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	acc := seedAccount(t, svc, "Petty", "5")
	repo.Deactivate(acc.ID)

	res, err := svc.AdjustBalance(ctx, AdjustInput{Method: "Petty", Amount: dec("1"), Direction: Increase, TxType: TxAdjustment})
	require.NoError(t, err)
	require.False(t, res.Applied())

	_, err = svc.AdjustBalance(ctx, AdjustInput{AccountID: acc.ID, Amount: dec("1"), Direction: Increase, TxType: TxAdjustment})
	require.ErrorIs(t, err, ErrAccountInactive)
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestInsufficientFundsLeavesBalance(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	acc := seedAccount(t, svc, "Till", "20")

	_, err := svc.AdjustBalance(ctx, AdjustInput{AccountID: acc.ID, Amount: dec("20.01"), Direction: Decrease, TxType: TxPurchasePayment})
	require.ErrorIs(t, err, ErrInsufficientFunds)
	require.ErrorIs(t, err, shared.ErrInsufficientFunds)

	got, err := svc.GetAccount(ctx, acc.ID)
	require.NoError(t, err)
	require.True(t, dec("20").Equal(got.Balance))
	_, page, err := svc.History(ctx, acc.ID, 1, 10)
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)

	overdraft, err := svc.CreateAccount(ctx, AccountInput{Name: "Credit line", Type: TypeBank, AllowNegative: true})
	require.NoError(t, err)
	res, err := svc.AdjustBalance(ctx, AdjustInput{AccountID: overdraft.ID, Amount: dec("50"), Direction: Decrease, TxType: TxPurchasePayment})
	require.NoError(t, err)
	require.True(t, dec("-50").Equal(res.Transaction.BalanceAfter))
}

func TestAdjustBalanceValidation(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	acc := seedAccount(t, svc, "Till", "0")

	_, err := svc.AdjustBalance(ctx, AdjustInput{AccountID: acc.ID, Amount: dec("0.004"), Direction: Increase, TxType: TxAdjustment})
	require.ErrorIs(t, err, ErrInvalidAmount)
	_, err = svc.AdjustBalance(ctx, AdjustInput{AccountID: acc.ID, Amount: dec("1"), Direction: "sideways", TxType: TxAdjustment})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = svc.AdjustBalance(ctx, AdjustInput{AccountID: acc.ID, Amount: dec("1"), Direction: Increase})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = svc.AdjustBalance(ctx, AdjustInput{AccountID: 99, Amount: dec("1"), Direction: Increase, TxType: TxAdjustment})
	require.ErrorIs(t, err, ErrAccountNotFound)
}

func TestReverseIsIdempotent(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	acc := seedAccount(t, svc, "Till", "100")

	res, err := svc.AdjustBalance(ctx, AdjustInput{AccountID: acc.ID, Amount: dec("40"), Direction: Decrease, TxType: TxPurchasePayment, RefID: 3})
	require.NoError(t, err)

	first, err := svc.Reverse(ctx, res.Transaction.ID, "")
	require.NoError(t, err)
	require.Equal(t, Increase, first.Direction)
	require.Equal(t, res.Transaction.ID, first.ReversalOf)
	require.True(t, dec("100").Equal(first.BalanceAfter))

	second, err := svc.Reverse(ctx, res.Transaction.ID, "")
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	got, err := svc.GetAccount(ctx, acc.ID)
	require.NoError(t, err)
	require.True(t, dec("100").Equal(got.Balance))

	_, err = svc.Reverse(ctx, first.ID, "")
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = svc.Reverse(ctx, 999, "")
	require.ErrorIs(t, err, ErrTransactionNotFound)
}

func TestTransferMovesBothLegs(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	till := seedAccount(t, svc, "Till", "80")
	bank := seedAccount(t, svc, "Bank", "10")

	res, err := svc.Transfer(ctx, TransferInput{FromID: till.ID, ToID: bank.ID, Amount: dec("50"), Note: "deposit"})
	require.NoError(t, err)
	require.True(t, dec("30").Equal(res.Out.BalanceAfter))
	require.True(t, dec("60").Equal(res.In.BalanceAfter))

	_, err = svc.Transfer(ctx, TransferInput{FromID: till.ID, ToID: bank.ID, Amount: dec("31")})
	require.ErrorIs(t, err, ErrInsufficientFunds)
	gotBank, err := svc.GetAccount(ctx, bank.ID)
	require.NoError(t, err)
	require.True(t, dec("60").Equal(gotBank.Balance))

	_, err = svc.Transfer(ctx, TransferInput{FromID: till.ID, ToID: till.ID, Amount: dec("1")})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestHistoryPaging(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	acc := seedAccount(t, svc, "Till", "1")
	for i := 0; i < 4; i++ {
		_, err := svc.AdjustBalance(ctx, AdjustInput{AccountID: acc.ID, Amount: dec("1"), Direction: Increase, TxType: TxAdjustment, RefID: int64(i + 1)})
		require.NoError(t, err)
	}

	txs, page, err := svc.History(ctx, acc.ID, 2, 2)
	require.NoError(t, err)
	require.Equal(t, 5, page.Total)
	require.Equal(t, 3, page.TotalPages)
	require.Len(t, txs, 2)
	require.EqualValues(t, 2, txs[0].RefID)
	require.EqualValues(t, 1, txs[1].RefID)

	_, _, err = svc.History(ctx, 404, 1, 10)
	require.ErrorIs(t, err, ErrAccountNotFound)
}
