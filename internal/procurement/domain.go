// Package procurement records vendor purchases. Approval receives the goods into
// inventory, books vendor payments and opens payables.
package procurement

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

// Status is the lifecycle of a purchase.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusCancelled Status = "cancelled"
)

// Purchase aggregates items ordered from one vendor. Pending purchases never touch stock.
type Purchase struct {
	ID         int64           `json:"id"`
	Number     string          `json:"number"`
	VendorID   int64           `json:"vendor_id"`
	Status     Status          `json:"status"`
	Total      decimal.Decimal `json:"total"`
	PaidAmount decimal.Decimal `json:"paid_amount"`
	IsPaid     bool            `json:"is_paid"`
	DueDate    time.Time       `json:"due_date"`
	Note       string          `json:"note,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	ApprovedAt *time.Time      `json:"approved_at,omitempty"`
	Items      []Item          `json:"items"`
	Payments   []Payment       `json:"payments"`
}

// Item is one purchase line.
type Item struct {
	ID               int64           `json:"id"`
	PurchaseID       int64           `json:"purchase_id"`
	ProductID        int64           `json:"product_id"`
	Quantity         int64           `json:"quantity"`
	UnitCost         decimal.Decimal `json:"unit_cost"`
	Subtotal         decimal.Decimal `json:"subtotal"`
	ReceivedQuantity int64           `json:"received_quantity"`
}

// Payment is one tranche paid to the vendor on approval.
type Payment struct {
	ID                int64           `json:"id"`
	PurchaseID        int64           `json:"purchase_id"`
	Method            string          `json:"method"`
	Amount            decimal.Decimal `json:"amount"`
	CashAccountID     int64           `json:"cash_account_id,omitempty"`
	CashTransactionID int64           `json:"cash_transaction_id,omitempty"`
}

// Draft describes a purchase to create.
type Draft struct {
	VendorID int64
	Note     string
	Items    []DraftItem
}

// DraftItem is one ordered line.
type DraftItem struct {
	ProductID int64
	Quantity  int64
	UnitCost  decimal.Decimal
}

// ReceiveLine receives part or all of an ordered line on approval.
type ReceiveLine struct {
	PurchaseItemID int64
	Quantity       int64
}

// PaymentInput is one vendor tranche. CashAccountID wins over Method when both are set.
type PaymentInput struct {
	Method        string
	CashAccountID int64
	Amount        decimal.Decimal
}

// Result is returned by purchase operations.
type Result struct {
	Purchase Purchase         `json:"purchase"`
	Warnings []shared.Warning `json:"warnings,omitempty"`
}

var (
	// ErrPurchaseNotFound indicates the purchase does not exist.
	ErrPurchaseNotFound = fmt.Errorf("procurement: purchase %w", shared.ErrNotFound)
	// ErrItemNotFound indicates the purchase item does not exist.
	ErrItemNotFound = fmt.Errorf("procurement: item %w", shared.ErrNotFound)
	// ErrNotPending blocks approving or cancelling a purchase twice.
	ErrNotPending = fmt.Errorf("procurement: purchase not pending: %w", shared.ErrInvalidState)
	// ErrOverpaid is returned when vendor payments exceed the purchase total.
	ErrOverpaid = fmt.Errorf("procurement: payments exceed total: %w", shared.ErrValidation)
	// ErrOverReceived is returned when a receive line exceeds the ordered quantity.
	ErrOverReceived = fmt.Errorf("procurement: received more than ordered: %w", shared.ErrValidation)
)
