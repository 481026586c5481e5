// Package prize tracks lottery-style prize pools. A sale line drawn from a pool consumes
// one unit of its remaining count per quantity sold.
package prize

import (
	"fmt"
	"time"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

// Pool is a finite stock of prizes.
type Pool struct {
	ID        int64
	Name      string
	Remaining int64
	Active    bool
	UpdatedAt time.Time
}

// PoolInput creates a pool.
type PoolInput struct {
	Name      string
	Remaining int64
}

var (
	// ErrPoolNotFound indicates the pool does not exist.
	ErrPoolNotFound = fmt.Errorf("prize: pool %w", shared.ErrNotFound)
	// ErrPoolExhausted is returned when a deduction exceeds the remaining count.
	ErrPoolExhausted = fmt.Errorf("prize: pool exhausted: %w", shared.ErrInsufficientStock)
	// ErrPoolInactive blocks deductions from a closed pool.
	ErrPoolInactive = fmt.Errorf("prize: pool inactive: %w", shared.ErrInvalidState)
	// ErrInvalidQuantity indicates a non-positive quantity.
	ErrInvalidQuantity = fmt.Errorf("prize: invalid quantity: %w", shared.ErrValidation)
)
