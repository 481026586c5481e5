package cash

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/money"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetAccount(ctx context.Context, id int64) (Account, error)
	ListAccounts(ctx context.Context, activeOnly bool) ([]Account, error)
	GetTransaction(ctx context.Context, id int64) (Transaction, error)
	ListTransactions(ctx context.Context, accountID int64, offset, limit int) ([]Transaction, int, error)
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	InsertAccount(ctx context.Context, acc Account) (Account, error)
	GetAccountForUpdate(ctx context.Context, id int64) (Account, error)
	FindActiveAccountByName(ctx context.Context, name string) (Account, bool, error)
	UpdateBalance(ctx context.Context, id int64, balance decimal.Decimal) error
	InsertTransaction(ctx context.Context, tx Transaction) (Transaction, error)
	GetTransaction(ctx context.Context, id int64) (Transaction, error)
	FindReversal(ctx context.Context, txID int64) (Transaction, bool, error)
}

// Service owns every cash balance mutation.
type Service struct {
	repo   RepositoryPort
	audit  shared.AuditPort
	clock  shared.Clock
	logger *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit shared.AuditPort, clock shared.Clock, logger *slog.Logger) *Service {
	if clock == nil {
		clock = shared.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, clock: clock, logger: logger}
}

// CreateAccount opens an account. A positive opening balance is booked as an adjustment.
func (s *Service) CreateAccount(ctx context.Context, input AccountInput) (Account, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return Account{}, shared.Invalid("name", "required")
	}
	if !input.Type.Valid() {
		return Account{}, shared.Invalid("type", fmt.Sprintf("unknown %q", input.Type))
	}
	opening := money.Round(input.OpeningBalance)
	if opening.IsNegative() {
		return Account{}, ErrInvalidAmount
	}
	var acc Account
	var opened *Transaction
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		acc, err = tx.InsertAccount(ctx, Account{
			Name:          name,
			Type:          input.Type,
			Balance:       decimal.Zero,
			AllowNegative: input.AllowNegative,
			Active:        true,
			CreatedAt:     s.clock.Now(),
		})
		if err != nil {
			return err
		}
		if !opening.IsPositive() {
			return nil
		}
		written, err := s.mutate(ctx, tx, acc.ID, opening, Increase, TxAdjustment, 0, "opening balance", 0)
		if err != nil {
			return err
		}
		acc.Balance = opening
		opened = &written
		return nil
	})
	if err != nil {
		return Account{}, err
	}
	if opened != nil {
		s.record(ctx, "cash:adjust", *opened)
	}
	return acc, nil
}

// GetAccount returns one account.
func (s *Service) GetAccount(ctx context.Context, id int64) (Account, error) {
	return s.repo.GetAccount(ctx, id)
}

// ListAccounts returns accounts ordered by id.
func (s *Service) ListAccounts(ctx context.Context, activeOnly bool) ([]Account, error) {
	return s.repo.ListAccounts(ctx, activeOnly)
}

// GetTransaction returns one transaction.
func (s *Service) GetTransaction(ctx context.Context, id int64) (Transaction, error) {
	return s.repo.GetTransaction(ctx, id)
}

// History pages through an account's transactions, newest first.
func (s *Service) History(ctx context.Context, accountID int64, page, perPage int) ([]Transaction, shared.Pagination, error) {
	if _, err := s.repo.GetAccount(ctx, accountID); err != nil {
		return nil, shared.Pagination{}, err
	}
	p := shared.NewPagination(page, perPage, 0)
	txs, total, err := s.repo.ListTransactions(ctx, accountID, p.Offset(), p.PerPage)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return txs, shared.NewPagination(page, perPage, total), nil
}

// AdjustBalance changes one account's balance and records the before/after pair in the
// same local transaction. An account that cannot be resolved from the payment method
// yields a warning instead of an error so the caller can carry an unresolved marker.
func (s *Service) AdjustBalance(ctx context.Context, input AdjustInput) (AdjustResult, error) {
	amount := money.Round(input.Amount)
	if !amount.IsPositive() {
		return AdjustResult{}, ErrInvalidAmount
	}
	if input.Direction != Increase && input.Direction != Decrease {
		return AdjustResult{}, shared.Invalid("direction", fmt.Sprintf("unknown %q", input.Direction))
	}
	if input.TxType == "" {
		return AdjustResult{}, shared.Invalid("tx_type", "required")
	}

	var result AdjustResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		accountID := input.AccountID
		if accountID == 0 {
			method := strings.TrimSpace(input.Method)
			acc, found, err := tx.FindActiveAccountByName(ctx, method)
			if err != nil {
				return err
			}
			if !found {
				result.Warning = &shared.Warning{
					Code:    shared.WarnUnresolvedCashAccount,
					Message: fmt.Sprintf("no active cash account matches payment method %q; %s %s not recorded", method, input.Direction, amount),
				}
				return nil
			}
			accountID = acc.ID
		}
		written, err := s.mutate(ctx, tx, accountID, amount, input.Direction, input.TxType, input.RefID, input.Note, 0)
		if err != nil {
			return err
		}
		result.Transaction = &written
		return nil
	})
	if err != nil {
		return AdjustResult{}, err
	}
	if result.Warning != nil {
		s.logger.Warn("cash account unresolved", slog.String("method", input.Method), slog.String("tx_type", string(input.TxType)), slog.Int64("ref_id", input.RefID))
		return result, nil
	}
	s.record(ctx, "cash:adjust", *result.Transaction)
	return result, nil
}

// Reverse writes the opposite of a transaction. Reversing twice returns the first reversal.
func (s *Service) Reverse(ctx context.Context, txID int64, note string) (Transaction, error) {
	var reversal Transaction
	created := false
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		existing, found, err := tx.FindReversal(ctx, txID)
		if err != nil {
			return err
		}
		if found {
			reversal = existing
			return nil
		}
		original, err := tx.GetTransaction(ctx, txID)
		if err != nil {
			return err
		}
		if original.ReversalOf != 0 {
			return shared.Invalid("tx_id", fmt.Sprintf("transaction %d is itself a reversal", txID))
		}
		if note == "" {
			note = fmt.Sprintf("reversal of #%d", original.ID)
		}
		reversal, err = s.mutate(ctx, tx, original.AccountID, original.Amount, original.Direction.Opposite(), TxReversal, original.RefID, note, original.ID)
		created = err == nil
		return err
	})
	if err != nil {
		return Transaction{}, err
	}
	if created {
		s.record(ctx, "cash:reverse", reversal)
	}
	return reversal, nil
}

// Transfer moves money between two accounts in one local transaction. Rows are locked
// in id order so concurrent opposite transfers cannot deadlock.
func (s *Service) Transfer(ctx context.Context, input TransferInput) (TransferResult, error) {
	amount := money.Round(input.Amount)
	if !amount.IsPositive() {
		return TransferResult{}, ErrInvalidAmount
	}
	if input.FromID == 0 || input.ToID == 0 || input.FromID == input.ToID {
		return TransferResult{}, shared.Invalid("to_id", "source and destination must be distinct accounts")
	}
	var result TransferResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		first, second := input.FromID, input.ToID
		if second < first {
			first, second = second, first
		}
		for _, id := range []int64{first, second} {
			if _, err := tx.GetAccountForUpdate(ctx, id); err != nil {
				return err
			}
		}
		var err error
		result.Out, err = s.mutate(ctx, tx, input.FromID, amount, Decrease, TxTransfer, input.ToID, input.Note, 0)
		if err != nil {
			return err
		}
		result.In, err = s.mutate(ctx, tx, input.ToID, amount, Increase, TxTransfer, input.FromID, input.Note, 0)
		return err
	})
	if err != nil {
		return TransferResult{}, err
	}
	s.record(ctx, "cash:transfer", result.Out)
	s.record(ctx, "cash:transfer", result.In)
	return result, nil
}

func (s *Service) mutate(ctx context.Context, tx TxRepository, accountID int64, amount decimal.Decimal, dir Direction, txType TxType, refID int64, note string, reversalOf int64) (Transaction, error) {
	acc, err := tx.GetAccountForUpdate(ctx, accountID)
	if err != nil {
		return Transaction{}, err
	}
	if !acc.Active {
		return Transaction{}, fmt.Errorf("%w: %s", ErrAccountInactive, acc.Name)
	}
	before := acc.Balance
	after := before.Add(amount)
	if dir == Decrease {
		after = before.Sub(amount)
		if after.IsNegative() && !acc.AllowNegative {
			return Transaction{}, fmt.Errorf("%w: %s has %s, need %s", ErrInsufficientFunds, acc.Name, before, amount)
		}
	}
	if err := tx.UpdateBalance(ctx, acc.ID, after); err != nil {
		return Transaction{}, err
	}
	return tx.InsertTransaction(ctx, Transaction{
		AccountID:     acc.ID,
		Direction:     dir,
		Amount:        amount,
		TxType:        txType,
		RefID:         refID,
		Note:          note,
		BalanceBefore: before,
		BalanceAfter:  after,
		ReversalOf:    reversalOf,
		CreatedAt:     s.clock.Now(),
	})
}

func (s *Service) record(ctx context.Context, action string, t Transaction) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		Action:   action,
		Entity:   "cash_account",
		EntityID: fmt.Sprintf("%d", t.AccountID),
		Meta: map[string]any{
			"transaction_id": t.ID,
			"direction":      string(t.Direction),
			"amount":         t.Amount.String(),
			"before":         t.BalanceBefore.String(),
			"after":          t.BalanceAfter.String(),
			"tx_type":        string(t.TxType),
			"ref_id":         t.RefID,
		},
	})
	if err != nil {
		s.logger.Warn("cash audit", slog.String("action", action), slog.Any("error", err))
	}
}
