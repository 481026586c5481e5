// Package sales orchestrates sale documents across the inventory, prize, delivery,
// cash, partner and points ledgers.
package sales

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/money"
	"github.com/odyssey-erp/backoffice/internal/points"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// ============================================================================
// STATUS
// ============================================================================

// Status is the lifecycle of a sale.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
)

// Fulfillment tracks delivery progress independently of payment.
type Fulfillment string

const (
	FulfillmentNone      Fulfillment = "none"
	FulfillmentPartial   Fulfillment = "partial"
	FulfillmentCompleted Fulfillment = "completed"
)

// ============================================================================
// SALE
// ============================================================================

// Sale aggregates items. Total is the discounted sum of item subtotals.
type Sale struct {
	ID                int64           `json:"id"`
	Number            string          `json:"number"`
	CustomerID        int64           `json:"customer_id,omitempty"`
	ProgramID         int64           `json:"program_id,omitempty"`
	Status            Status          `json:"status"`
	FulfillmentStatus Fulfillment     `json:"fulfillment_status"`
	Subtotal          decimal.Decimal `json:"subtotal"`
	DiscountPercent   decimal.Decimal `json:"discount_percent"`
	DiscountAmount    decimal.Decimal `json:"discount_amount"`
	Total             decimal.Decimal `json:"total"`
	PaidAmount        decimal.Decimal `json:"paid_amount"`
	IsPaid            bool            `json:"is_paid"`
	UnresolvedPayment bool            `json:"unresolved_payment"`
	DueDate           time.Time       `json:"due_date"`
	Note              string          `json:"note,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	Items             []Item          `json:"items"`
	Payments          []Payment       `json:"payments"`
}

// Item is one sale line. UnitCost is the average cost snapshot taken at sale time.
type Item struct {
	ID                int64           `json:"id"`
	SaleID            int64           `json:"sale_id"`
	ProductID         int64           `json:"product_id"`
	PrizePoolID       int64           `json:"prize_pool_id,omitempty"`
	ProductName       string          `json:"product_name"`
	UnitPrice         decimal.Decimal `json:"unit_price"`
	UnitCost          decimal.Decimal `json:"unit_cost"`
	Quantity          int64           `json:"quantity"`
	Subtotal          decimal.Decimal `json:"subtotal"`
	DeliveredQuantity int64           `json:"delivered_quantity"`
	CreditedAmount    decimal.Decimal `json:"credited_amount"`
}

// Payment is one tranche received at sale time. CashTransactionID is zero when the
// payment method matched no cash account.
type Payment struct {
	ID                int64           `json:"id"`
	SaleID            int64           `json:"sale_id"`
	Method            string          `json:"method"`
	Amount            decimal.Decimal `json:"amount"`
	CashAccountID     int64           `json:"cash_account_id,omitempty"`
	CashTransactionID int64           `json:"cash_transaction_id,omitempty"`
}

// NetShares returns each item's cent share of the discounted total.
func (s Sale) NetShares() []decimal.Decimal {
	weights := make([]decimal.Decimal, len(s.Items))
	for i, it := range s.Items {
		weights[i] = it.Subtotal
	}
	return money.Apportion(s.Total, weights)
}

// ============================================================================
// INPUTS / RESULTS
// ============================================================================

// Draft describes a sale to create.
type Draft struct {
	CustomerID      int64
	ProgramID       int64
	DiscountPercent decimal.Decimal
	Note            string
	Items           []DraftItem
	Payments        []PaymentInput
}

// DraftItem is one requested line. DeliverNow hands the goods over immediately;
// otherwise the line waits on the sale's draft delivery.
type DraftItem struct {
	ProductID   int64
	PrizePoolID int64
	UnitPrice   decimal.Decimal
	Quantity    int64
	DeliverNow  bool
}

// PaymentInput is one tranche. CashAccountID wins over Method when both are set.
type PaymentInput struct {
	Method        string
	CashAccountID int64
	Amount        decimal.Decimal
}

// Result is returned by sale operations.
type Result struct {
	Sale         Sale             `json:"sale"`
	PointsEarned int64            `json:"points_earned"`
	Warnings     []shared.Warning `json:"warnings,omitempty"`
}

// DeliverLine hands over units still pending on the draft delivery.
type DeliverLine struct {
	SaleItemID int64
	Quantity   int64
}

// ConvertInput turns a sale line into store credit. A nil Amount credits everything
// still creditable on the line.
type ConvertInput struct {
	SaleItemID      int64
	Amount          *decimal.Decimal
	RefundInventory bool
}

// ConversionResult describes a store-credit conversion.
type ConversionResult struct {
	Item           Item               `json:"item"`
	Credit         points.CreditEntry `json:"credit"`
	ReturnedUnits  int64              `json:"returned_units"`
	WithdrawnUnits int64              `json:"withdrawn_units"`
	StoreCredit    decimal.Decimal    `json:"store_credit"`
}

var (
	// ErrSaleNotFound indicates the sale does not exist.
	ErrSaleNotFound = fmt.Errorf("sales: sale %w", shared.ErrNotFound)
	// ErrItemNotFound indicates the sale item does not exist.
	ErrItemNotFound = fmt.Errorf("sales: item %w", shared.ErrNotFound)
	// ErrCustomerRequired is returned when an operation needs a customer on the sale.
	ErrCustomerRequired = fmt.Errorf("sales: customer required: %w", shared.ErrValidation)
	// ErrOverpaid is returned when payments exceed the sale total.
	ErrOverpaid = fmt.Errorf("sales: payments exceed total: %w", shared.ErrValidation)
	// ErrNothingToCredit is returned when a line has no creditable value left.
	ErrNothingToCredit = fmt.Errorf("sales: nothing left to credit: %w", shared.ErrValidation)
	// ErrCredited blocks deleting a sale whose lines were turned into store credit.
	ErrCredited = fmt.Errorf("sales: lines converted to store credit: %w", shared.ErrInvalidState)
	// ErrNotConfirmed blocks operations on sales that are not confirmed.
	ErrNotConfirmed = fmt.Errorf("sales: sale not confirmed: %w", shared.ErrInvalidState)
)
