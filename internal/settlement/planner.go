package settlement

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/money"
	"github.com/odyssey-erp/backoffice/internal/partner"
)

// Line is one planned allocation.
type Line struct {
	Account partner.Account
	Amount  decimal.Decimal
}

// Plan splits amount over accounts without touching any ledger. Explicit plans take the
// amount of each target by account id; the others order accounts by due date then id.
// Proportional and sequential plans always sum to amount exactly, explicit plans within
// one cent.
func Plan(amount decimal.Decimal, accounts []partner.Account, targets []Target, strategy Strategy) ([]Line, error) {
	amount = money.Round(amount)
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if len(accounts) == 0 {
		return nil, ErrNoOpenAccounts
	}
	switch strategy {
	case StrategyExplicit:
		return planExplicit(amount, accounts, targets)
	case StrategyProportional:
		return planProportional(amount, sortByDue(accounts))
	case StrategySequential:
		return planSequential(amount, sortByDue(accounts))
	}
	return nil, fmt.Errorf("%w: unknown strategy %q", ErrAllocationMismatch, strategy)
}

func sortByDue(accounts []partner.Account) []partner.Account {
	sorted := append([]partner.Account(nil), accounts...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].DueDate.Equal(sorted[j].DueDate) {
			return sorted[i].DueDate.Before(sorted[j].DueDate)
		}
		return sorted[i].ID < sorted[j].ID
	})
	return sorted
}

func planExplicit(amount decimal.Decimal, accounts []partner.Account, targets []Target) ([]Line, error) {
	amounts := make(map[int64]decimal.Decimal, len(targets))
	for _, t := range targets {
		amounts[t.AccountID] = money.Round(t.Amount)
	}
	lines := make([]Line, 0, len(accounts))
	total := decimal.Zero
	for _, acc := range accounts {
		alloc, ok := amounts[acc.ID]
		if !ok || !alloc.IsPositive() {
			return nil, fmt.Errorf("%w: account %d has no positive amount", ErrAllocationMismatch, acc.ID)
		}
		if money.Exceeds(alloc, acc.Balance()) {
			return nil, fmt.Errorf("%w: account %d balance %s, allocation %s", ErrOverpayment, acc.ID, acc.Balance(), alloc)
		}
		lines = append(lines, Line{Account: acc, Amount: alloc})
		total = total.Add(alloc)
	}
	if !money.Equal(total, amount) {
		return nil, fmt.Errorf("%w: allocated %s of %s", ErrAllocationMismatch, total, amount)
	}
	return lines, nil
}

func openBalance(accounts []partner.Account) decimal.Decimal {
	total := decimal.Zero
	for _, acc := range accounts {
		total = total.Add(acc.Balance())
	}
	return total
}

// planProportional splits by open balance in whole cents. Each share is capped at its
// line's balance and any cents the cap holds back go to the earliest due lines that
// still have room, so any amount up to the open balance is placed.
func planProportional(amount decimal.Decimal, accounts []partner.Account) ([]Line, error) {
	open := openBalance(accounts)
	if !open.IsPositive() {
		return nil, ErrNoOpenAccounts
	}
	if money.Exceeds(amount, open) {
		return nil, fmt.Errorf("%w: open balance %s, amount %s", ErrOverpayment, open, amount)
	}
	amount = money.Min(amount, open)
	balances := make([]decimal.Decimal, len(accounts))
	for i, acc := range accounts {
		balances[i] = money.ClampZero(acc.Balance())
	}
	allocs := money.Apportion(amount, balances)
	leftover := decimal.Zero
	for i := range allocs {
		if allocs[i].GreaterThan(balances[i]) {
			leftover = leftover.Add(allocs[i].Sub(balances[i]))
			allocs[i] = balances[i]
		}
	}
	for i := range allocs {
		if !leftover.IsPositive() {
			break
		}
		extra := money.Min(leftover, balances[i].Sub(allocs[i]))
		if extra.IsPositive() {
			allocs[i] = allocs[i].Add(extra)
			leftover = leftover.Sub(extra)
		}
	}
	if leftover.IsPositive() {
		return nil, fmt.Errorf("%w: %s left after every open line", ErrOverpayment, leftover)
	}
	lines := make([]Line, 0, len(accounts))
	for i, acc := range accounts {
		if allocs[i].IsPositive() {
			lines = append(lines, Line{Account: acc, Amount: allocs[i]})
		}
	}
	return lines, nil
}

func planSequential(amount decimal.Decimal, accounts []partner.Account) ([]Line, error) {
	lines := make([]Line, 0, len(accounts))
	remaining := amount
	for _, acc := range accounts {
		if !remaining.IsPositive() {
			break
		}
		alloc := money.Min(remaining, acc.Balance())
		if !alloc.IsPositive() {
			continue
		}
		lines = append(lines, Line{Account: acc, Amount: alloc})
		remaining = remaining.Sub(alloc)
	}
	if remaining.IsPositive() {
		return nil, fmt.Errorf("%w: %s left after every open line", ErrOverpayment, remaining)
	}
	return lines, nil
}
