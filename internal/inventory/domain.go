package inventory

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

// RefType classifies what caused a stock movement.
type RefType string

const (
	// RefPurchase is stock received from, or returned to, a vendor purchase.
	RefPurchase RefType = "purchase"
	// RefDelivery is stock leaving the shop for a sale.
	RefDelivery RefType = "delivery"
	// RefReturn is stock coming back from a customer or a reversed delivery.
	RefReturn RefType = "return"
	// RefCorrection is a manual count correction or opening balance.
	RefCorrection RefType = "correction"
)

// Valid reports whether the ref type is known.
func (r RefType) Valid() bool {
	switch r {
	case RefPurchase, RefDelivery, RefReturn, RefCorrection:
		return true
	}
	return false
}

// Product is the costing state of one sellable item.
type Product struct {
	ID            int64
	SKU           string
	Name          string
	Stock         int64
	AvgCost       decimal.Decimal
	FallbackCost  decimal.Decimal
	AllowNegative bool
	UpdatedAt     time.Time
}

// SnapshotCost is the unit cost captured on a sale line: the weighted average,
// or the fallback cost for products never received.
func (p Product) SnapshotCost() decimal.Decimal {
	if p.AvgCost.IsPositive() {
		return p.AvgCost
	}
	return p.FallbackCost
}

// LogEntry is one append-only stock delta.
type LogEntry struct {
	ID           int64
	ProductID    int64
	Delta        int64
	UnitCost     decimal.Decimal
	RefType      RefType
	RefID        int64
	Memo         string
	StockAfter   int64
	AvgCostAfter decimal.Decimal
	CreatedAt    time.Time
}

// ProductInput registers a product with an optional opening balance.
type ProductInput struct {
	SKU           string
	Name          string
	FallbackCost  decimal.Decimal
	AllowNegative bool
	OpeningStock  int64
	OpeningCost   decimal.Decimal
}

// MovementInput is a raw signed stock change that leaves the average cost alone.
type MovementInput struct {
	ProductID      int64
	Delta          int64
	RefType        RefType
	RefID          int64
	Memo           string
	IdempotencyKey string
}

// InboundInput receives stock at a unit cost and recosts the product.
type InboundInput struct {
	ProductID      int64
	Qty            int64
	UnitCost       decimal.Decimal
	RefType        RefType
	RefID          int64
	Memo           string
	IdempotencyKey string
}

// ReversalInput takes back a previously received quantity at its original unit cost.
type ReversalInput struct {
	ProductID      int64
	Qty            int64
	UnitCost       decimal.Decimal
	RefType        RefType
	RefID          int64
	Memo           string
	IdempotencyKey string
}

// OutboundInput removes stock for a delivery.
type OutboundInput struct {
	ProductID      int64
	Qty            int64
	RefType        RefType
	RefID          int64
	Memo           string
	IdempotencyKey string
}

// Movement is the result of a committed stock change.
type Movement struct {
	Entry LogEntry
	// CostBefore is the average cost before the movement; reversing an outbound at
	// this cost restores the product exactly.
	CostBefore decimal.Decimal
	Stock      int64
	AvgCost    decimal.Decimal
}

// Drift compares stored stock against the sum of logged deltas.
type Drift struct {
	ProductID   int64
	Stock       int64
	LoggedStock int64
}

// Drifted reports whether the product row disagrees with its log.
func (d Drift) Drifted() bool { return d.Stock != d.LoggedStock }

var (
	// ErrInvalidQuantity indicates invalid qty.
	ErrInvalidQuantity = fmt.Errorf("inventory: quantity must be non zero: %w", shared.ErrValidation)
	// ErrInvalidUnitCost indicates invalid cost value.
	ErrInvalidUnitCost = fmt.Errorf("inventory: unit cost must be >= 0: %w", shared.ErrValidation)
	// ErrInvalidRefType indicates an unknown movement reference.
	ErrInvalidRefType = fmt.Errorf("inventory: unknown ref type: %w", shared.ErrValidation)
	// ErrProductNotFound indicates the product does not exist.
	ErrProductNotFound = fmt.Errorf("inventory: product %w", shared.ErrNotFound)
	// ErrInsufficientStock is returned when stock would go below zero.
	ErrInsufficientStock = fmt.Errorf("inventory: %w", shared.ErrInsufficientStock)
)

// IsAlreadyApplied reports whether err means the idempotency key was seen before.
func IsAlreadyApplied(err error) bool {
	return errors.Is(err, shared.ErrIdempotencyConflict)
}
