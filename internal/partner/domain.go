// Package partner keeps per-line receivables and payables. Each account row belongs to
// one sale item or purchase item so partial payoff is tracked line by line.
package partner

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

// PartnerType distinguishes customers from vendors.
type PartnerType string

const (
	PartnerCustomer PartnerType = "customer"
	PartnerVendor   PartnerType = "vendor"
)

// Direction is AR (owed to us) or AP (owed by us).
type Direction string

const (
	DirectionAR Direction = "AR"
	DirectionAP Direction = "AP"
)

// RefType names the line an account was opened for.
type RefType string

const (
	RefSaleItem     RefType = "sale_item"
	RefPurchaseItem RefType = "purchase_item"
)

// DocumentType names the parent document of the line.
type DocumentType string

const (
	DocumentSale     DocumentType = "sale"
	DocumentPurchase DocumentType = "purchase"
)

// Status is always derived from the balance.
type Status string

const (
	StatusUnpaid  Status = "unpaid"
	StatusPartial Status = "partial"
	StatusPaid    Status = "paid"
)

// Account is one receivable or payable line.
type Account struct {
	ID           int64
	PartnerType  PartnerType
	PartnerID    int64
	Direction    Direction
	RefType      RefType
	RefID        int64
	DocumentType DocumentType
	DocumentID   int64
	Amount       decimal.Decimal
	Settled      decimal.Decimal
	Status       Status
	DueDate      time.Time
	CreatedAt    time.Time
}

// Balance is the amount still outstanding.
func (a Account) Balance() decimal.Decimal {
	return a.Amount.Sub(a.Settled)
}

// DeriveStatus computes the status for an amount and the part already settled.
func DeriveStatus(amount, settled decimal.Decimal) Status {
	balance := amount.Sub(settled)
	switch {
	case !balance.IsPositive():
		return StatusPaid
	case balance.LessThan(amount):
		return StatusPartial
	default:
		return StatusUnpaid
	}
}

// DirectionFor returns the only direction valid for a partner type.
func DirectionFor(pt PartnerType) (Direction, error) {
	switch pt {
	case PartnerCustomer:
		return DirectionAR, nil
	case PartnerVendor:
		return DirectionAP, nil
	}
	return "", shared.Invalid("partner_type", fmt.Sprintf("unknown %q", pt))
}

// OpenInput opens a receivable or payable for one line.
type OpenInput struct {
	PartnerType  PartnerType
	PartnerID    int64
	Direction    Direction
	RefType      RefType
	RefID        int64
	DocumentType DocumentType
	DocumentID   int64
	Amount       decimal.Decimal
	DueDate      time.Time
}

// AgingBucket summarises outstanding balances by days past due.
type AgingBucket struct {
	Current   decimal.Decimal
	Bucket30  decimal.Decimal
	Bucket60  decimal.Decimal
	Bucket90  decimal.Decimal
	Bucket120 decimal.Decimal
}

// Total sums every bucket.
func (b AgingBucket) Total() decimal.Decimal {
	return b.Current.Add(b.Bucket30).Add(b.Bucket60).Add(b.Bucket90).Add(b.Bucket120)
}

var (
	// ErrAccountNotFound indicates the account does not exist.
	ErrAccountNotFound = fmt.Errorf("partner: account %w", shared.ErrNotFound)
	// ErrOverpayment is returned when a payment exceeds the balance.
	ErrOverpayment = fmt.Errorf("partner: %w", shared.ErrOverpayment)
	// ErrHasSettlements blocks deleting lines that already received money.
	ErrHasSettlements = fmt.Errorf("partner: lines already settled: %w", shared.ErrInvalidState)
	// ErrInvalidAmount indicates a non-positive amount.
	ErrInvalidAmount = fmt.Errorf("partner: amount must be positive: %w", shared.ErrValidation)
)
