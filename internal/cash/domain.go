// Package cash keeps named cash, bank and petty-cash balances. Every balance write is
// paired with a transaction row carrying the balance before and after.
package cash

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

// AccountType classifies where the money sits.
type AccountType string

const (
	TypeCash      AccountType = "cash"
	TypeBank      AccountType = "bank"
	TypePettyCash AccountType = "petty_cash"
)

// Valid reports whether the type is known.
func (t AccountType) Valid() bool {
	switch t {
	case TypeCash, TypeBank, TypePettyCash:
		return true
	}
	return false
}

// Direction of a balance change.
type Direction string

const (
	Increase Direction = "increase"
	Decrease Direction = "decrease"
)

// Opposite returns the reversing direction.
func (d Direction) Opposite() Direction {
	if d == Increase {
		return Decrease
	}
	return Increase
}

// TxType labels why money moved.
type TxType string

const (
	TxSalePayment       TxType = "sale_payment"
	TxPurchasePayment   TxType = "purchase_payment"
	TxSettlementReceipt TxType = "settlement_receipt"
	TxSettlementPayment TxType = "settlement_payment"
	TxTransfer          TxType = "transfer"
	TxAdjustment        TxType = "adjustment"
	TxReversal          TxType = "reversal"
)

// Account is a named balance store.
type Account struct {
	ID            int64
	Name          string
	Type          AccountType
	Balance       decimal.Decimal
	AllowNegative bool
	Active        bool
	CreatedAt     time.Time
}

// Transaction is the audit row written with every balance change.
type Transaction struct {
	ID            int64
	AccountID     int64
	Direction     Direction
	Amount        decimal.Decimal
	TxType        TxType
	RefID         int64
	Note          string
	BalanceBefore decimal.Decimal
	BalanceAfter  decimal.Decimal
	ReversalOf    int64
	CreatedAt     time.Time
}

// AccountInput creates an account.
type AccountInput struct {
	Name           string
	Type           AccountType
	OpeningBalance decimal.Decimal
	AllowNegative  bool
}

// AdjustInput moves money in or out of one account. When AccountID is zero the
// account is resolved from Method by name.
type AdjustInput struct {
	AccountID int64
	Method    string
	Amount    decimal.Decimal
	Direction Direction
	TxType    TxType
	RefID     int64
	Note      string
}

// AdjustResult carries either the written transaction or a warning explaining why
// nothing was written.
type AdjustResult struct {
	Transaction *Transaction
	Warning     *shared.Warning
}

// Applied reports whether a balance change was written.
func (r AdjustResult) Applied() bool { return r.Transaction != nil }

// TransferInput moves money between two accounts.
type TransferInput struct {
	FromID int64
	ToID   int64
	Amount decimal.Decimal
	Note   string
}

// TransferResult holds both legs of a transfer.
type TransferResult struct {
	Out Transaction
	In  Transaction
}

var (
	// ErrAccountNotFound indicates the account does not exist.
	ErrAccountNotFound = fmt.Errorf("cash: account %w", shared.ErrNotFound)
	// ErrTransactionNotFound indicates the transaction does not exist.
	ErrTransactionNotFound = fmt.Errorf("cash: transaction %w", shared.ErrNotFound)
	// ErrInsufficientFunds is returned when a decrease would overdraw the account.
	ErrInsufficientFunds = fmt.Errorf("cash: %w", shared.ErrInsufficientFunds)
	// ErrAccountInactive blocks mutations on closed accounts.
	ErrAccountInactive = fmt.Errorf("cash: account inactive: %w", shared.ErrInvalidState)
	// ErrInvalidAmount indicates a non-positive amount.
	ErrInvalidAmount = fmt.Errorf("cash: amount must be positive: %w", shared.ErrValidation)
)
