// Package delivery stores delivery documents for sales. Completed deliveries record
// what left the shelf; the draft delivery of a sale holds what is still owed.
// Stock effects are applied by the sale orchestrator through the inventory ledger.
package delivery

import (
	"fmt"
	"time"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

// ============================================================================
// DELIVERY STATUS
// ============================================================================

// Status represents the lifecycle of a delivery.
type Status string

const (
	StatusDraft     Status = "draft"     // still owed to the customer, no stock effect
	StatusCompleted Status = "completed" // handed over, stock reduced
)

// Valid checks if the status is known.
func (s Status) Valid() bool {
	return s == StatusDraft || s == StatusCompleted
}

// CanEdit reports whether line quantities may still change.
func (s Status) CanEdit() bool {
	return s == StatusDraft
}

// ============================================================================
// DELIVERY ENTITY
// ============================================================================

// Delivery is a delivery document of one sale.
type Delivery struct {
	ID          int64      `json:"id"`
	Number      string     `json:"number"`
	SaleID      int64      `json:"sale_id"`
	Status      Status     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Items       []Item     `json:"items"`
}

// Item is one product line of a delivery.
type Item struct {
	ID         int64 `json:"id"`
	DeliveryID int64 `json:"delivery_id"`
	SaleItemID int64 `json:"sale_item_id"`
	ProductID  int64 `json:"product_id"`
	Quantity   int64 `json:"quantity"`
}

// Quantity sums the delivery lines.
func (d Delivery) Quantity() int64 {
	var total int64
	for _, it := range d.Items {
		total += it.Quantity
	}
	return total
}

// ============================================================================
// INPUTS
// ============================================================================

// CreateInput creates a delivery with its lines.
type CreateInput struct {
	SaleID int64
	Status Status
	Items  []ItemInput
}

// ItemInput is one requested delivery line.
type ItemInput struct {
	SaleItemID int64
	ProductID  int64
	Quantity   int64
}

var (
	// ErrDeliveryNotFound indicates the delivery does not exist.
	ErrDeliveryNotFound = fmt.Errorf("delivery: %w", shared.ErrNotFound)
	// ErrNotDraft is returned when a completed delivery would be edited.
	ErrNotDraft = fmt.Errorf("delivery: not a draft: %w", shared.ErrInvalidState)
	// ErrNothingPending is returned when more is delivered than the draft still owes.
	ErrNothingPending = fmt.Errorf("delivery: quantity exceeds pending: %w", shared.ErrValidation)
	// ErrInvalidQuantity indicates a non-positive line quantity.
	ErrInvalidQuantity = fmt.Errorf("delivery: invalid quantity: %w", shared.ErrValidation)
)
