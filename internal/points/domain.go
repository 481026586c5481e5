// Package points keeps loyalty balances per customer and program, and the store-credit
// balance that redemptions pay into.
package points

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

// Program defines how spend converts to points.
type Program struct {
	ID            int64
	Name          string
	SpendPerPoint decimal.Decimal
	CostPerPoint  decimal.Decimal
	Active        bool
	CreatedAt     time.Time
}

// Tier is one reward level of a program.
type Tier struct {
	ID             int64
	ProgramID      int64
	Name           string
	PointsRequired int64
	RewardValue    decimal.Decimal
}

// CustomerPoints is the running balance of one customer in one program.
type CustomerPoints struct {
	CustomerID    int64
	ProgramID     int64
	Balance       int64
	TotalEarned   int64
	TotalRedeemed int64
	EstimatedCost decimal.Decimal
	UpdatedAt     time.Time
}

// Kind of a point log entry.
type Kind string

const (
	KindAccrual    Kind = "accrual"
	KindRedemption Kind = "redemption"
	KindAdjustment Kind = "adjustment"
	KindReversal   Kind = "reversal"
)

// Reference types carried on log and credit entries.
const (
	RefSale       = "sale"
	RefTier       = "tier"
	RefSaleItem   = "sale_item"
	RefAdjustment = "adjustment"
)

// Log is an append-only point history entry.
type Log struct {
	ID           int64
	CustomerID   int64
	ProgramID    int64
	Kind         Kind
	Points       int64
	RefType      string
	RefID        int64
	BalanceAfter int64
	Note         string
	CreatedAt    time.Time
}

// CreditEntry is an append-only store-credit movement. Amount is signed.
type CreditEntry struct {
	ID           int64
	CustomerID   int64
	Amount       decimal.Decimal
	RefType      string
	RefID        int64
	BalanceAfter decimal.Decimal
	Note         string
	CreatedAt    time.Time
}

// ProgramInput creates a program.
type ProgramInput struct {
	Name          string
	SpendPerPoint decimal.Decimal
	CostPerPoint  decimal.Decimal
}

// TierInput adds a reward tier.
type TierInput struct {
	ProgramID      int64
	Name           string
	PointsRequired int64
	RewardValue    decimal.Decimal
}

// AccrueInput earns points for a sale.
type AccrueInput struct {
	CustomerID int64
	ProgramID  int64
	SaleTotal  decimal.Decimal
	RefID      int64
}

// StoreCreditInput credits (positive) or consumes (negative) store credit.
type StoreCreditInput struct {
	CustomerID int64
	Amount     decimal.Decimal
	RefType    string
	RefID      int64
	Note       string
}

// RedemptionResult describes a successful redemption.
type RedemptionResult struct {
	Points      CustomerPoints
	Tier        Tier
	RewardValue decimal.Decimal
	StoreCredit decimal.Decimal
	Log         Log
	Credit      CreditEntry
}

var (
	// ErrProgramNotFound indicates the program does not exist.
	ErrProgramNotFound = fmt.Errorf("points: program %w", shared.ErrNotFound)
	// ErrTierNotFound indicates the tier does not exist in the program.
	ErrTierNotFound = fmt.Errorf("points: tier %w", shared.ErrNotFound)
	// ErrInsufficientPoints is returned when a balance cannot cover a tier.
	ErrInsufficientPoints = fmt.Errorf("points: %w", shared.ErrInsufficientPoints)
	// ErrInsufficientCredit is returned when a debit would overdraw store credit.
	ErrInsufficientCredit = fmt.Errorf("points: store credit: %w", shared.ErrInsufficientFunds)
	// ErrProgramInactive blocks accruals on a retired program.
	ErrProgramInactive = fmt.Errorf("points: program inactive: %w", shared.ErrInvalidState)
	// ErrInvalidAmount indicates an unusable amount.
	ErrInvalidAmount = fmt.Errorf("points: invalid amount: %w", shared.ErrValidation)
)
