package settlement

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/backoffice/internal/cash"
	"github.com/odyssey-erp/backoffice/internal/numbering"
	"github.com/odyssey-erp/backoffice/internal/partner"
	"github.com/odyssey-erp/backoffice/internal/saga"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

type fixture struct {
	svc      *Service
	repo     *MemoryRepository
	partners *partner.Service
	cash     *cash.Service
	cashRepo *cash.MemoryRepository
	till     cash.Account
}

type fixtureOption func(*Deps)

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	clock := shared.FixedClock{At: testNow}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	partners := partner.NewService(partner.NewMemoryRepository(), nil, clock, logger)
	cashRepo := cash.NewMemoryRepository()
	cashSvc := cash.NewService(cashRepo, nil, clock, logger)
	till, err := cashSvc.CreateAccount(context.Background(), cash.AccountInput{Name: "Till", Type: cash.TypeCash, OpeningBalance: dec("500")})
	require.NoError(t, err)

	repo := NewMemoryRepository()
	deps := Deps{
		Repo:     repo,
		Partners: partners,
		Cash:     cashSvc,
		Numbers:  numbering.New(numbering.NewMemorySequencer(), clock),
		Runner:   saga.NewRunner(logger, saga.Config{}, nil, nil),
		Audit:    &shared.MemoryAuditLog{},
		Clock:    clock,
		Logger:   logger,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	return &fixture{svc: NewService(deps), repo: repo, partners: partners, cash: cashSvc, cashRepo: cashRepo, till: till}
}

func (f *fixture) openLine(t *testing.T, pt partner.PartnerType, partnerID, docID, itemID int64, amount string, dueDays int) partner.Account {
	t.Helper()
	dir, err := partner.DirectionFor(pt)
	require.NoError(t, err)
	ref, doc := partner.RefSaleItem, partner.DocumentSale
	if pt == partner.PartnerVendor {
		ref, doc = partner.RefPurchaseItem, partner.DocumentPurchase
	}
	acc, err := f.partners.OpenAccount(context.Background(), partner.OpenInput{
		PartnerType: pt, PartnerID: partnerID, Direction: dir,
		RefType: ref, RefID: itemID, DocumentType: doc, DocumentID: docID,
		Amount: dec(amount), DueDate: testNow.AddDate(0, 0, dueDays),
	})
	require.NoError(t, err)
	return acc
}

func (f *fixture) balance(t *testing.T, id int64) decimal.Decimal {
	t.Helper()
	acc, err := f.partners.Get(context.Background(), id)
	require.NoError(t, err)
	return acc.Balance()
}

func (f *fixture) cashBalance(t *testing.T) decimal.Decimal {
	t.Helper()
	acc, err := f.cash.GetAccount(context.Background(), f.till.ID)
	require.NoError(t, err)
	return acc.Balance
}

type rollupRecorder struct {
	calls []int64
	err   error
}

func (r *rollupRecorder) RefreshPaid(_ context.Context, id int64) error {
	r.calls = append(r.calls, id)
	return r.err
}

func TestRecordSettlementSplitsProportionally(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.openLine(t, partner.PartnerCustomer, 7, 1, 11, "100", 7)
	b := f.openLine(t, partner.PartnerCustomer, 7, 1, 12, "100", 7)
	c := f.openLine(t, partner.PartnerCustomer, 7, 1, 13, "100", 7)
	rollup := &rollupRecorder{}
	f.svc.RegisterRollup(partner.DocumentSale, rollup)

	res, err := f.svc.RecordSettlement(ctx, RecordInput{
		PartnerType: partner.PartnerCustomer, PartnerID: 7, Amount: dec("150"), Method: "till",
	})
	require.NoError(t, err)
	require.Empty(t, res.Warnings)
	st := res.Settlement
	require.Equal(t, "STL-20260301-0001", st.Number)
	require.Equal(t, StrategyProportional, st.Strategy)
	require.Equal(t, partner.DirectionAR, st.Direction)
	require.Len(t, st.Allocations, 3)
	require.True(t, dec("150").Equal(st.Total()))
	require.Equal(t, f.till.ID, st.CashAccountID)
	require.NotZero(t, st.CashTransactionID)

	for _, acc := range []partner.Account{a, b, c} {
		got, err := f.partners.Get(ctx, acc.ID)
		require.NoError(t, err)
		require.Equal(t, partner.StatusPartial, got.Status)
		require.True(t, dec("50").Equal(got.Balance()))
	}
	require.True(t, dec("650").Equal(f.cashBalance(t)))
	require.Equal(t, []int64{1}, rollup.calls)

	stored, err := f.svc.Get(ctx, st.ID)
	require.NoError(t, err)
	require.Equal(t, st.Number, stored.Number)
	require.Len(t, stored.Allocations, 3)
	for _, alloc := range stored.Allocations {
		require.True(t, dec("100").Equal(alloc.BalanceBefore))
		require.True(t, dec("50").Equal(alloc.BalanceAfter))
	}
}

func TestRecordSettlementVendorPaymentDecreasesCash(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	line := f.openLine(t, partner.PartnerVendor, 3, 8, 81, "120", 30)

	res, err := f.svc.RecordSettlement(ctx, RecordInput{
		PartnerType: partner.PartnerVendor, PartnerID: 3, Amount: dec("120"), CashAccountID: f.till.ID,
		Targets: []Target{{AccountID: line.ID, Amount: dec("120")}},
	})
	require.NoError(t, err)
	require.Equal(t, StrategyExplicit, res.Settlement.Strategy)
	require.True(t, dec("380").Equal(f.cashBalance(t)))
	got, err := f.partners.Get(ctx, line.ID)
	require.NoError(t, err)
	require.Equal(t, partner.StatusPaid, got.Status)
}

func TestRecordSettlementRejectsBeforeMutation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.openLine(t, partner.PartnerCustomer, 7, 1, 11, "100", 7)
	other := f.openLine(t, partner.PartnerCustomer, 9, 2, 21, "100", 7)

	cases := []struct {
		name  string
		input RecordInput
		want  error
	}{
		{"overpayment", RecordInput{PartnerType: partner.PartnerCustomer, PartnerID: 7, Amount: dec("100.01"), Method: "Till"}, shared.ErrOverpayment},
		{"explicit mismatch", RecordInput{PartnerType: partner.PartnerCustomer, PartnerID: 7, Amount: dec("50"), Method: "Till", Targets: []Target{{AccountID: a.ID, Amount: dec("40")}}}, ErrAllocationMismatch},
		{"polarity", RecordInput{PartnerType: partner.PartnerCustomer, PartnerID: 7, Direction: partner.DirectionAP, Amount: dec("10"), Method: "Till"}, shared.ErrValidation},
		{"foreign line", RecordInput{PartnerType: partner.PartnerCustomer, PartnerID: 7, Amount: dec("10"), Method: "Till", Targets: []Target{{AccountID: other.ID}}}, shared.ErrValidation},
		{"duplicate target", RecordInput{PartnerType: partner.PartnerCustomer, PartnerID: 7, Amount: dec("10"), Method: "Till", Targets: []Target{{AccountID: a.ID}, {AccountID: a.ID}}}, shared.ErrValidation},
		{"no method", RecordInput{PartnerType: partner.PartnerCustomer, PartnerID: 7, Amount: dec("10")}, shared.ErrValidation},
		{"zero amount", RecordInput{PartnerType: partner.PartnerCustomer, PartnerID: 7, Amount: dec("0"), Method: "Till"}, ErrInvalidAmount},
		{"nothing open", RecordInput{PartnerType: partner.PartnerCustomer, PartnerID: 55, Amount: dec("10"), Method: "Till"}, ErrNoOpenAccounts},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.RecordSettlement(ctx, tc.input)
			require.ErrorIs(t, err, tc.want)
			require.True(t, dec("100").Equal(f.balance(t, a.ID)))
			require.True(t, dec("500").Equal(f.cashBalance(t)))
			require.Zero(t, f.repo.Count())
		})
	}
}

func TestRecordSettlementCompensatesOnCashFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.openLine(t, partner.PartnerCustomer, 7, 1, 11, "100", 7)
	b := f.openLine(t, partner.PartnerCustomer, 7, 1, 12, "60", 8)
	f.cashRepo.Deactivate(f.till.ID)

	_, err := f.svc.RecordSettlement(ctx, RecordInput{
		PartnerType: partner.PartnerCustomer, PartnerID: 7, Amount: dec("80"), CashAccountID: f.till.ID, Strategy: StrategySequential,
	})
	require.ErrorIs(t, err, cash.ErrAccountInactive)

	for id, want := range map[int64]string{a.ID: "100", b.ID: "60"} {
		got, err := f.partners.Get(ctx, id)
		require.NoError(t, err)
		require.True(t, dec(want).Equal(got.Balance()))
		require.Equal(t, partner.StatusUnpaid, got.Status)
	}
	require.Zero(t, f.repo.Count())
}

func TestRecordSettlementUnresolvedMethodWarns(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.openLine(t, partner.PartnerCustomer, 7, 1, 11, "100", 7)
	f.svc.RegisterRollup(partner.DocumentSale, &rollupRecorder{err: errors.New("sale store down")})

	res, err := f.svc.RecordSettlement(ctx, RecordInput{PartnerType: partner.PartnerCustomer, PartnerID: 7, Amount: dec("100"), Method: "QRIS"})
	require.NoError(t, err)
	require.Len(t, res.Warnings, 2)
	require.Equal(t, shared.WarnUnresolvedCashAccount, res.Warnings[0].Code)
	require.Equal(t, shared.WarnRollupFailed, res.Warnings[1].Code)
	require.Zero(t, res.Settlement.CashTransactionID)
	require.True(t, f.balance(t, a.ID).IsZero())
	require.True(t, dec("500").Equal(f.cashBalance(t)))
}

type flakyPartners struct {
	*partner.Service
	failReverse bool
}

func (p *flakyPartners) ReversePayment(ctx context.Context, id int64, amount decimal.Decimal) (partner.Account, error) {
	if p.failReverse {
		return partner.Account{}, errors.New("ledger offline")
	}
	return p.Service.ReversePayment(ctx, id, amount)
}

type reportSink struct{ reports []saga.Report }

func (r *reportSink) ReportInconsistency(_ context.Context, report saga.Report) error {
	r.reports = append(r.reports, report)
	return nil
}

func TestRecordSettlementEscalatesFailedCompensation(t *testing.T) {
	sink := &reportSink{}
	var flaky *flakyPartners
	f := newFixture(t, func(d *Deps) {
		flaky = &flakyPartners{Service: d.Partners.(*partner.Service), failReverse: true}
		d.Partners = flaky
		d.Runner = saga.NewRunner(d.Logger, saga.Config{}, nil, sink)
	})
	ctx := context.Background()
	f.openLine(t, partner.PartnerCustomer, 7, 1, 11, "100", 7)
	f.cashRepo.Deactivate(f.till.ID)

	_, err := f.svc.RecordSettlement(ctx, RecordInput{PartnerType: partner.PartnerCustomer, PartnerID: 7, Amount: dec("10"), CashAccountID: f.till.ID})
	require.ErrorIs(t, err, shared.ErrConsistency)
	var consistency *shared.ConsistencyError
	require.ErrorAs(t, err, &consistency)
	require.Equal(t, "record_settlement", consistency.Saga)
	require.Equal(t, "cash_movement", consistency.Step)
	require.Len(t, sink.reports, 1)
}

func TestVoidRestoresBalances(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.openLine(t, partner.PartnerCustomer, 7, 1, 11, "100", 7)
	b := f.openLine(t, partner.PartnerCustomer, 7, 2, 21, "50", 9)
	rollup := &rollupRecorder{}
	f.svc.RegisterRollup(partner.DocumentSale, rollup)

	res, err := f.svc.RecordSettlement(ctx, RecordInput{PartnerType: partner.PartnerCustomer, PartnerID: 7, Amount: dec("150"), Method: "Till"})
	require.NoError(t, err)
	require.True(t, f.balance(t, a.ID).IsZero())
	require.True(t, f.balance(t, b.ID).IsZero())

	voided, err := f.svc.Void(ctx, res.Settlement.ID)
	require.NoError(t, err)
	require.Equal(t, StatusVoided, voided.Settlement.Status)
	require.NotNil(t, voided.Settlement.VoidedAt)
	require.True(t, dec("100").Equal(f.balance(t, a.ID)))
	require.True(t, dec("50").Equal(f.balance(t, b.ID)))
	require.True(t, dec("500").Equal(f.cashBalance(t)))
	require.Equal(t, []int64{1, 2, 1, 2}, rollup.calls)

	_, err = f.svc.Void(ctx, res.Settlement.ID)
	require.ErrorIs(t, err, ErrAlreadyVoided)
	_, err = f.svc.Void(ctx, 404)
	require.ErrorIs(t, err, ErrSettlementNotFound)
}

func TestListByPartner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.openLine(t, partner.PartnerCustomer, 7, 1, 11, "100", 7)
	for i := 0; i < 2; i++ {
		_, err := f.svc.RecordSettlement(ctx, RecordInput{PartnerType: partner.PartnerCustomer, PartnerID: 7, Amount: dec("10"), Method: "Till"})
		require.NoError(t, err)
	}
	list, err := f.svc.ListByPartner(ctx, partner.PartnerCustomer, 7)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "STL-20260301-0002", list[0].Number)
}
