package partner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/money"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Account, error)
	ListByDocument(ctx context.Context, docType DocumentType, docID int64) ([]Account, error)
	ListOpen(ctx context.Context, partnerType PartnerType, partnerID int64, direction Direction) ([]Account, error)
	ListOutstanding(ctx context.Context, direction Direction) ([]Account, error)
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	Insert(ctx context.Context, acc Account) (Account, error)
	InsertWithID(ctx context.Context, acc Account) error
	GetForUpdate(ctx context.Context, id int64) (Account, error)
	UpdateSettled(ctx context.Context, id int64, settled decimal.Decimal, status Status) error
	ListByDocumentForUpdate(ctx context.Context, docType DocumentType, docID int64) ([]Account, error)
	DeleteByDocument(ctx context.Context, docType DocumentType, docID int64) error
}

// Service coordinates receivable and payable lines. Balance mutations lock the account row.
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

// OpenAccount creates a line with the full amount outstanding.
func (s *Service) OpenAccount(ctx context.Context, input OpenInput) (Account, error) {
	if err := validateOpen(input); err != nil {
		return Account{}, err
	}
	var acc Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		acc, err = tx.Insert(ctx, Account{
			PartnerType:  input.PartnerType,
			PartnerID:    input.PartnerID,
			Direction:    input.Direction,
			RefType:      input.RefType,
			RefID:        input.RefID,
			DocumentType: input.DocumentType,
			DocumentID:   input.DocumentID,
			Amount:       money.Round(input.Amount),
			Settled:      decimal.Zero,
			Status:       StatusUnpaid,
			DueDate:      input.DueDate,
			CreatedAt:    s.clock.Now(),
		})
		return err
	})
	if err != nil {
		return Account{}, err
	}
	s.record(ctx, "partner:open", acc, nil)
	return acc, nil
}

func validateOpen(input OpenInput) error {
	want, err := DirectionFor(input.PartnerType)
	if err != nil {
		return err
	}
	if input.Direction != want {
		return shared.Invalid("direction", fmt.Sprintf("%s does not match partner type %s", input.Direction, input.PartnerType))
	}
	if input.PartnerID == 0 {
		return shared.Invalid("partner_id", "required")
	}
	if input.RefID == 0 || input.DocumentID == 0 {
		return shared.Invalid("ref_id", "line and document references required")
	}
	if !money.Round(input.Amount).IsPositive() {
		return ErrInvalidAmount
	}
	if input.DueDate.IsZero() {
		return shared.Invalid("due_date", "required")
	}
	return nil
}

// ApplyPayment settles part or all of a line. Amounts above the balance fail with
// ErrOverpayment; a sub-cent excess from rounding is absorbed.
func (s *Service) ApplyPayment(ctx context.Context, accountID int64, amount decimal.Decimal) (Account, error) {
	if !amount.IsPositive() {
		return Account{}, ErrInvalidAmount
	}
	var acc Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		acc, err = tx.GetForUpdate(ctx, accountID)
		if err != nil {
			return err
		}
		balance := acc.Balance()
		if money.Exceeds(amount, balance) {
			return fmt.Errorf("%w: account %d balance %s, payment %s", ErrOverpayment, acc.ID, balance, amount)
		}
		settled := acc.Settled.Add(amount)
		if settled.GreaterThan(acc.Amount) {
			settled = acc.Amount
		}
		acc.Settled = settled
		acc.Status = DeriveStatus(acc.Amount, settled)
		return tx.UpdateSettled(ctx, acc.ID, acc.Settled, acc.Status)
	})
	if err != nil {
		return Account{}, err
	}
	s.record(ctx, "partner:apply_payment", acc, map[string]any{"amount": amount.String()})
	return acc, nil
}

// ReversePayment undoes ApplyPayment. The settled amount never drops below zero.
func (s *Service) ReversePayment(ctx context.Context, accountID int64, amount decimal.Decimal) (Account, error) {
	if !amount.IsPositive() {
		return Account{}, ErrInvalidAmount
	}
	var acc Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		acc, err = tx.GetForUpdate(ctx, accountID)
		if err != nil {
			return err
		}
		if money.Exceeds(amount, acc.Settled) {
			return shared.Invalid("amount", fmt.Sprintf("reversal %s exceeds settled %s on account %d", amount, acc.Settled, acc.ID))
		}
		acc.Settled = money.ClampZero(acc.Settled.Sub(amount))
		acc.Status = DeriveStatus(acc.Amount, acc.Settled)
		return tx.UpdateSettled(ctx, acc.ID, acc.Settled, acc.Status)
	})
	if err != nil {
		return Account{}, err
	}
	s.record(ctx, "partner:reverse_payment", acc, map[string]any{"amount": amount.String()})
	return acc, nil
}

// Get returns one line.
func (s *Service) Get(ctx context.Context, id int64) (Account, error) {
	return s.repo.Get(ctx, id)
}

// ListByDocument returns every line of a sale or purchase.
func (s *Service) ListByDocument(ctx context.Context, docType DocumentType, docID int64) ([]Account, error) {
	return s.repo.ListByDocument(ctx, docType, docID)
}

// ListOpen returns a partner's unpaid and partial lines ordered by due date, then id.
func (s *Service) ListOpen(ctx context.Context, partnerType PartnerType, partnerID int64, direction Direction) ([]Account, error) {
	return s.repo.ListOpen(ctx, partnerType, partnerID, direction)
}

// DeleteByDocument removes every line of a document and returns what was removed so a
// saga can restore it. Lines that already received money cannot be deleted.
func (s *Service) DeleteByDocument(ctx context.Context, docType DocumentType, docID int64) ([]Account, error) {
	var removed []Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		accounts, err := tx.ListByDocumentForUpdate(ctx, docType, docID)
		if err != nil {
			return err
		}
		for _, acc := range accounts {
			if acc.Settled.IsPositive() {
				return fmt.Errorf("%w: account %d settled %s", ErrHasSettlements, acc.ID, acc.Settled)
			}
		}
		if len(accounts) == 0 {
			return nil
		}
		removed = accounts
		return tx.DeleteByDocument(ctx, docType, docID)
	})
	if err != nil {
		return nil, err
	}
	for _, acc := range removed {
		s.record(ctx, "partner:delete", acc, nil)
	}
	return removed, nil
}

// Restore re-inserts lines removed by DeleteByDocument, keeping their ids.
func (s *Service) Restore(ctx context.Context, accounts []Account) error {
	if len(accounts) == 0 {
		return nil
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, acc := range accounts {
			_, err := tx.GetForUpdate(ctx, acc.ID)
			if err == nil {
				continue
			}
			if !errors.Is(err, ErrAccountNotFound) {
				return err
			}
			if err := tx.InsertWithID(ctx, acc); err != nil {
				return err
			}
		}
		return nil
	})
}

// DocumentPaid recomputes the parent rollup: true when the document has lines and every
// one of them is paid. lines reports how many lines exist.
func (s *Service) DocumentPaid(ctx context.Context, docType DocumentType, docID int64) (paid bool, lines int, err error) {
	accounts, err := s.repo.ListByDocument(ctx, docType, docID)
	if err != nil {
		return false, 0, err
	}
	if len(accounts) == 0 {
		return false, 0, nil
	}
	for _, acc := range accounts {
		if acc.Status != StatusPaid {
			return false, len(accounts), nil
		}
	}
	return true, len(accounts), nil
}

// Aging groups outstanding balances by days past due.
func (s *Service) Aging(ctx context.Context, direction Direction, asOf time.Time) (AgingBucket, error) {
	accounts, err := s.repo.ListOutstanding(ctx, direction)
	if err != nil {
		return AgingBucket{}, err
	}
	if asOf.IsZero() {
		asOf = s.clock.Now()
	}
	bucket := AgingBucket{Current: decimal.Zero, Bucket30: decimal.Zero, Bucket60: decimal.Zero, Bucket90: decimal.Zero, Bucket120: decimal.Zero}
	for _, acc := range accounts {
		if acc.Status == StatusPaid {
			continue
		}
		balance := acc.Balance()
		days := int(asOf.Sub(acc.DueDate).Hours() / 24)
		switch {
		case days <= 0:
			bucket.Current = bucket.Current.Add(balance)
		case days <= 30:
			bucket.Bucket30 = bucket.Bucket30.Add(balance)
		case days <= 60:
			bucket.Bucket60 = bucket.Bucket60.Add(balance)
		case days <= 90:
			bucket.Bucket90 = bucket.Bucket90.Add(balance)
		default:
			bucket.Bucket120 = bucket.Bucket120.Add(balance)
		}
	}
	return bucket, nil
}

func (s *Service) record(ctx context.Context, action string, acc Account, extra map[string]any) {
	if s.audit == nil {
		return
	}
	meta := map[string]any{
		"direction": string(acc.Direction),
		"document":  fmt.Sprintf("%s:%d", acc.DocumentType, acc.DocumentID),
		"amount":    acc.Amount.String(),
		"settled":   acc.Settled.String(),
		"status":    string(acc.Status),
	}
	for k, v := range extra {
		meta[k] = v
	}
	if err := s.audit.Record(ctx, shared.AuditLog{Action: action, Entity: "partner_account", EntityID: fmt.Sprintf("%d", acc.ID), Meta: meta}); err != nil {
		s.logger.Warn("partner audit", slog.String("action", action), slog.Any("error", err))
	}
}
