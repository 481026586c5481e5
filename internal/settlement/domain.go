// Package settlement applies one customer receipt or vendor payment across open partner
// lines. Every allocation is planned and validated before any ledger is touched.
package settlement

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/partner"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// Strategy selects how an unallocated amount is spread.
type Strategy string

const (
	// StrategyExplicit uses the amount given on every target.
	StrategyExplicit Strategy = "explicit"
	// StrategyProportional spreads by each line's share of the open balance.
	StrategyProportional Strategy = "proportional"
	// StrategySequential pays the oldest lines first.
	StrategySequential Strategy = "sequential"
)

// Valid reports whether the strategy is known.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyExplicit, StrategyProportional, StrategySequential:
		return true
	}
	return false
}

// Status of a settlement.
type Status string

const (
	StatusPosted Status = "posted"
	StatusVoided Status = "voided"
)

// Settlement is one receipt or payment.
type Settlement struct {
	ID                int64
	Number            string
	PartnerType       partner.PartnerType
	PartnerID         int64
	Direction         partner.Direction
	Amount            decimal.Decimal
	Method            string
	CashAccountID     int64
	CashTransactionID int64
	Strategy          Strategy
	Status            Status
	Note              string
	CreatedAt         time.Time
	VoidedAt          *time.Time
	Allocations       []Allocation
}

// Allocation is the part of a settlement applied to one partner line.
type Allocation struct {
	ID               int64
	SettlementID     int64
	PartnerAccountID int64
	DocumentType     partner.DocumentType
	DocumentID       int64
	Amount           decimal.Decimal
	BalanceBefore    decimal.Decimal
	BalanceAfter     decimal.Decimal
}

// Total sums the allocation amounts.
func (s Settlement) Total() decimal.Decimal {
	total := decimal.Zero
	for _, a := range s.Allocations {
		total = total.Add(a.Amount)
	}
	return total
}

// Target names a line to settle. A zero Amount leaves the split to the strategy.
type Target struct {
	AccountID int64
	Amount    decimal.Decimal
}

// RecordInput describes a receipt (AR) or payment (AP).
type RecordInput struct {
	PartnerType   partner.PartnerType
	PartnerID     int64
	Direction     partner.Direction
	Amount        decimal.Decimal
	Method        string
	CashAccountID int64
	Targets       []Target
	Strategy      Strategy
	Note          string
}

// Result carries the stored settlement and any non-critical warnings.
type Result struct {
	Settlement Settlement
	Warnings   []shared.Warning
}

var (
	// ErrSettlementNotFound indicates the settlement does not exist.
	ErrSettlementNotFound = fmt.Errorf("settlement: %w", shared.ErrNotFound)
	// ErrInvalidAmount indicates a non-positive amount.
	ErrInvalidAmount = fmt.Errorf("settlement: amount must be positive: %w", shared.ErrValidation)
	// ErrNoOpenAccounts is returned when nothing is left to settle.
	ErrNoOpenAccounts = fmt.Errorf("settlement: no open accounts: %w", shared.ErrValidation)
	// ErrAllocationMismatch is returned when explicit amounts do not add up to the payment.
	ErrAllocationMismatch = fmt.Errorf("settlement: allocations do not match amount: %w", shared.ErrValidation)
	// ErrOverpayment is returned when an allocation exceeds a line balance.
	ErrOverpayment = fmt.Errorf("settlement: %w", shared.ErrOverpayment)
	// ErrAlreadyVoided blocks a second void.
	ErrAlreadyVoided = fmt.Errorf("settlement: already voided: %w", shared.ErrInvalidState)
)
