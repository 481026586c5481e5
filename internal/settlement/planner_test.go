package settlement

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/backoffice/internal/money"
	"github.com/odyssey-erp/backoffice/internal/partner"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

var testNow = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func line(id int64, amount, settled string, dueDays int) partner.Account {
	return partner.Account{
		ID:        id,
		Amount:    dec(amount),
		Settled:   dec(settled),
		Direction: partner.DirectionAR,
		DueDate:   testNow.AddDate(0, 0, dueDays),
	}
}

func amounts(lines []Line) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = l.Amount.StringFixed(2)
	}
	return out
}

func TestPlanProportional(t *testing.T) {
	cases := []struct {
		name     string
		amount   string
		accounts []partner.Account
		want     []string
	}{
		{"even split", "150", []partner.Account{line(1, "100", "0", 7), line(2, "100", "0", 7), line(3, "100", "0", 7)}, []string{"50.00", "50.00", "50.00"}},
		{"weighted", "60", []partner.Account{line(1, "100", "0", 1), line(2, "200", "0", 2)}, []string{"20.00", "40.00"}},
		{"remainder on last", "100", []partner.Account{line(1, "100", "0", 1), line(2, "100", "0", 2), line(3, "100", "0", 3)}, []string{"33.33", "33.33", "33.34"}},
		{"partial balances", "30", []partner.Account{line(1, "100", "90", 1), line(2, "50", "0", 2)}, []string{"5.00", "25.00"}},
		{"full payment", "300", []partner.Account{line(1, "100", "0", 1), line(2, "200", "0", 2)}, []string{"100.00", "200.00"}},
		{"small last line", "2.99", []partner.Account{line(1, "1", "0", 1), line(2, "1", "0", 2), line(3, "1", "0", 3), line(4, "0.01", "0", 4)}, []string{"0.99", "0.99", "1.00", "0.01"}},
		{"one cent over many lines", "0.01", []partner.Account{line(1, "5", "0", 1), line(2, "5", "0", 2), line(3, "5", "0", 3)}, []string{"0.01"}},
		{"paid-down middle line", "10.02", []partner.Account{line(1, "7", "0", 1), line(2, "10", "9.99", 2), line(3, "3.03", "0", 3)}, []string{"6.99", "0.01", "3.02"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			lines, err := Plan(dec(tc.amount), tc.accounts, nil, StrategyProportional)
			require.NoError(t, err)
			require.Equal(t, tc.want, amounts(lines))
			total := decimal.Zero
			for _, l := range lines {
				total = total.Add(l.Amount)
				require.False(t, money.Exceeds(l.Amount, l.Account.Balance()))
			}
			require.True(t, dec(tc.amount).Equal(total))
		})
	}
}

func TestPlanProportionalPlacesEveryAmountUpToOpen(t *testing.T) {
	accounts := []partner.Account{line(1, "333.33", "0", 1), line(2, "0.02", "0", 2), line(3, "41.7", "0", 3), line(4, "0.01", "0", 4)}
	open := openBalance(accounts)
	for cents := int64(1); cents <= open.Shift(2).IntPart(); cents += 7 {
		amount := decimal.New(cents, -2)
		lines, err := Plan(amount, accounts, nil, StrategyProportional)
		require.NoError(t, err, amount.String())
		total := decimal.Zero
		for _, l := range lines {
			require.True(t, l.Amount.IsPositive())
			require.False(t, l.Amount.GreaterThan(l.Account.Balance()), "account %d over balance", l.Account.ID)
			total = total.Add(l.Amount)
		}
		require.True(t, amount.Equal(total), "amount %s, planned %s", amount, total)
	}
	lines, err := Plan(open, accounts, nil, StrategyProportional)
	require.NoError(t, err)
	require.Len(t, lines, 4)
}

func TestPlanOrdersByDueDateThenID(t *testing.T) {
	lines, err := Plan(dec("70"), []partner.Account{line(3, "50", "0", 5), line(1, "50", "0", 9), line(2, "50", "0", 5)}, nil, StrategySequential)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	require.EqualValues(t, 2, lines[0].Account.ID)
	require.EqualValues(t, 3, lines[1].Account.ID)
	require.Equal(t, []string{"50.00", "20.00"}, amounts(lines))
}

func TestPlanOverpayment(t *testing.T) {
	accounts := []partner.Account{line(1, "100", "0", 1), line(2, "50", "0", 2)}
	for _, strategy := range []Strategy{StrategyProportional, StrategySequential} {
		_, err := Plan(dec("150.01"), accounts, nil, strategy)
		require.ErrorIs(t, err, ErrOverpayment, strategy)
		require.ErrorIs(t, err, shared.ErrOverpayment)
	}
}

func TestPlanExplicit(t *testing.T) {
	accounts := []partner.Account{line(1, "100", "0", 1), line(2, "50", "0", 2)}

	lines, err := Plan(dec("70"), accounts, []Target{{AccountID: 1, Amount: dec("40")}, {AccountID: 2, Amount: dec("30")}}, StrategyExplicit)
	require.NoError(t, err)
	require.Equal(t, []string{"40.00", "30.00"}, amounts(lines))

	_, err = Plan(dec("70"), accounts, []Target{{AccountID: 1, Amount: dec("40")}, {AccountID: 2, Amount: dec("20")}}, StrategyExplicit)
	require.ErrorIs(t, err, ErrAllocationMismatch)
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = Plan(dec("70"), accounts, []Target{{AccountID: 1, Amount: dec("10")}, {AccountID: 2, Amount: dec("60")}}, StrategyExplicit)
	require.ErrorIs(t, err, ErrOverpayment)

	_, err = Plan(dec("40"), accounts, []Target{{AccountID: 1, Amount: dec("40")}}, StrategyExplicit)
	require.ErrorIs(t, err, ErrAllocationMismatch)
}

func TestPlanRejectsEmptyInput(t *testing.T) {
	_, err := Plan(dec("0"), []partner.Account{line(1, "1", "0", 0)}, nil, StrategyProportional)
	require.ErrorIs(t, err, ErrInvalidAmount)
	_, err = Plan(dec("1"), nil, nil, StrategyProportional)
	require.ErrorIs(t, err, ErrNoOpenAccounts)
	_, err = Plan(dec("1"), []partner.Account{line(1, "1", "1", 0)}, nil, StrategyProportional)
	require.ErrorIs(t, err, ErrNoOpenAccounts)
}
