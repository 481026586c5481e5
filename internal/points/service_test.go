package points

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

type fixture struct {
	svc     *Service
	repo    *MemoryRepository
	program Program
	tier    Tier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := NewMemoryRepository()
	svc := NewService(repo, &shared.MemoryAuditLog{}, shared.FixedClock{At: testNow}, nil)
	ctx := context.Background()
	program, err := svc.CreateProgram(ctx, ProgramInput{Name: "Member", SpendPerPoint: dec("10"), CostPerPoint: dec("0.1")})
	require.NoError(t, err)
	tier, err := svc.AddTier(ctx, TierInput{ProgramID: program.ID, Name: "Voucher 10", PointsRequired: 100, RewardValue: dec("10")})
	require.NoError(t, err)
	return &fixture{svc: svc, repo: repo, program: program, tier: tier}
}

func TestAccrueFloorsSpend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	earned, err := f.svc.Accrue(ctx, AccrueInput{CustomerID: 1, ProgramID: f.program.ID, SaleTotal: dec("259.90"), RefID: 5})
	require.NoError(t, err)
	require.EqualValues(t, 25, earned)

	cp, err := f.svc.Balance(ctx, 1, f.program.ID)
	require.NoError(t, err)
	require.EqualValues(t, 25, cp.Balance)
	require.EqualValues(t, 25, cp.TotalEarned)
	require.True(t, dec("2.5").Equal(cp.EstimatedCost))

	again, err := f.svc.Accrue(ctx, AccrueInput{CustomerID: 1, ProgramID: f.program.ID, SaleTotal: dec("259.90"), RefID: 5})
	require.NoError(t, err)
	require.EqualValues(t, 25, again)
	cp, err = f.svc.Balance(ctx, 1, f.program.ID)
	require.NoError(t, err)
	require.EqualValues(t, 25, cp.Balance)

	earned, err = f.svc.Accrue(ctx, AccrueInput{CustomerID: 1, ProgramID: f.program.ID, SaleTotal: dec("9.99"), RefID: 6})
	require.NoError(t, err)
	require.Zero(t, earned)

	history, err := f.svc.History(ctx, 1, f.program.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, KindAccrual, history[0].Kind)
}

func TestReverseAccrualIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Accrue(ctx, AccrueInput{CustomerID: 1, ProgramID: f.program.ID, SaleTotal: dec("300"), RefID: 9})
	require.NoError(t, err)

	reversed, err := f.svc.ReverseAccrual(ctx, 1, f.program.ID, 9)
	require.NoError(t, err)
	require.EqualValues(t, 30, reversed)
	reversed, err = f.svc.ReverseAccrual(ctx, 1, f.program.ID, 9)
	require.NoError(t, err)
	require.Zero(t, reversed)
	reversed, err = f.svc.ReverseAccrual(ctx, 1, f.program.ID, 404)
	require.NoError(t, err)
	require.Zero(t, reversed)

	cp, err := f.svc.Balance(ctx, 1, f.program.ID)
	require.NoError(t, err)
	require.Zero(t, cp.Balance)
	require.Zero(t, cp.TotalEarned)
	require.True(t, cp.EstimatedCost.IsZero())
}

func TestRedeemInsufficientPointsChangesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Accrue(ctx, AccrueInput{CustomerID: 1, ProgramID: f.program.ID, SaleTotal: dec("800"), RefID: 1})
	require.NoError(t, err)
	before, err := f.svc.Balance(ctx, 1, f.program.ID)
	require.NoError(t, err)
	require.EqualValues(t, 80, before.Balance)

	_, err = f.svc.Redeem(ctx, 1, f.program.ID, f.tier.ID)
	require.ErrorIs(t, err, ErrInsufficientPoints)
	require.ErrorIs(t, err, shared.ErrInsufficientPoints)

	after, err := f.svc.Balance(ctx, 1, f.program.ID)
	require.NoError(t, err)
	require.Equal(t, before, after)
	credit, err := f.svc.StoreCreditBalance(ctx, 1)
	require.NoError(t, err)
	require.True(t, credit.IsZero())
	history, err := f.svc.History(ctx, 1, f.program.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)

	_, err = f.svc.Redeem(ctx, 2, f.program.ID, f.tier.ID)
	require.ErrorIs(t, err, ErrInsufficientPoints)
	cp, err := f.svc.Balance(ctx, 2, f.program.ID)
	require.NoError(t, err)
	require.Zero(t, cp.Balance)
}

func TestRedeemCreditsStore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Accrue(ctx, AccrueInput{CustomerID: 1, ProgramID: f.program.ID, SaleTotal: dec("1250"), RefID: 1})
	require.NoError(t, err)

	res, err := f.svc.Redeem(ctx, 1, f.program.ID, f.tier.ID)
	require.NoError(t, err)
	require.EqualValues(t, 25, res.Points.Balance)
	require.EqualValues(t, 100, res.Points.TotalRedeemed)
	require.True(t, dec("2.5").Equal(res.Points.EstimatedCost))
	require.True(t, dec("10").Equal(res.RewardValue))
	require.True(t, dec("10").Equal(res.StoreCredit))
	require.EqualValues(t, -100, res.Log.Points)
	require.Equal(t, KindRedemption, res.Log.Kind)
	require.True(t, dec("10").Equal(res.Credit.Amount))

	credit, err := f.svc.StoreCreditBalance(ctx, 1)
	require.NoError(t, err)
	require.True(t, dec("10").Equal(credit))
}

func TestRedeemClampsEstimatedCost(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.repo.SetBalance(1, f.program.ID, 150)

	res, err := f.svc.Redeem(ctx, 1, f.program.ID, f.tier.ID)
	require.NoError(t, err)
	require.EqualValues(t, 50, res.Points.Balance)
	require.True(t, res.Points.EstimatedCost.IsZero())
}

func TestRedeemRejectsForeignTier(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	other, err := f.svc.CreateProgram(ctx, ProgramInput{Name: "Staff", SpendPerPoint: dec("1")})
	require.NoError(t, err)
	f.repo.SetBalance(1, other.ID, 500)

	_, err = f.svc.Redeem(ctx, 1, other.ID, f.tier.ID)
	require.ErrorIs(t, err, ErrTierNotFound)
	_, err = f.svc.Redeem(ctx, 1, 999, f.tier.ID)
	require.ErrorIs(t, err, ErrProgramNotFound)
}

func TestCreditStoreCannotOverdraw(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	entry, err := f.svc.CreditStore(ctx, StoreCreditInput{CustomerID: 4, Amount: dec("15.555"), RefType: RefSaleItem, RefID: 3})
	require.NoError(t, err)
	require.True(t, dec("15.56").Equal(entry.BalanceAfter))

	_, err = f.svc.CreditStore(ctx, StoreCreditInput{CustomerID: 4, Amount: dec("-20")})
	require.ErrorIs(t, err, ErrInsufficientCredit)

	entry, err = f.svc.CreditStore(ctx, StoreCreditInput{CustomerID: 4, Amount: dec("-5.56")})
	require.NoError(t, err)
	require.True(t, dec("10").Equal(entry.BalanceAfter))
	require.Equal(t, RefAdjustment, entry.RefType)

	_, err = f.svc.CreditStore(ctx, StoreCreditInput{CustomerID: 4, Amount: dec("0.001")})
	require.ErrorIs(t, err, ErrInvalidAmount)

	history, err := f.svc.StoreCreditHistory(ctx, 4, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.True(t, dec("-5.56").Equal(history[0].Amount))
}

func TestProgramValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.CreateProgram(ctx, ProgramInput{Name: "Zero", SpendPerPoint: dec("0")})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = f.svc.AddTier(ctx, TierInput{ProgramID: 999, Name: "x", PointsRequired: 1, RewardValue: dec("1")})
	require.ErrorIs(t, err, ErrProgramNotFound)
	_, err = f.svc.AddTier(ctx, TierInput{ProgramID: f.program.ID, Name: "x", PointsRequired: 0, RewardValue: dec("1")})
	require.ErrorIs(t, err, shared.ErrValidation)

	tiers, err := f.svc.ListTiers(ctx, f.program.ID)
	require.NoError(t, err)
	require.Len(t, tiers, 1)
}
