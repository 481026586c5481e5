package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/cash"
	"github.com/odyssey-erp/backoffice/internal/money"
	"github.com/odyssey-erp/backoffice/internal/numbering"
	"github.com/odyssey-erp/backoffice/internal/partner"
	"github.com/odyssey-erp/backoffice/internal/saga"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Settlement, error)
	ListByPartner(ctx context.Context, partnerType partner.PartnerType, partnerID int64) ([]Settlement, error)
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	// Insert stores the settlement with its allocations. A taken number yields shared.ErrDuplicate.
	Insert(ctx context.Context, s Settlement) (Settlement, error)
	Delete(ctx context.Context, id int64) error
	GetForUpdate(ctx context.Context, id int64) (Settlement, error)
	SetStatus(ctx context.Context, id int64, status Status, voidedAt *time.Time) error
}

// PartnerLedger is the subset of the partner service used here.
type PartnerLedger interface {
	Get(ctx context.Context, id int64) (partner.Account, error)
	ListOpen(ctx context.Context, partnerType partner.PartnerType, partnerID int64, direction partner.Direction) ([]partner.Account, error)
	ApplyPayment(ctx context.Context, accountID int64, amount decimal.Decimal) (partner.Account, error)
	ReversePayment(ctx context.Context, accountID int64, amount decimal.Decimal) (partner.Account, error)
}

// CashLedger is the subset of the cash service used here.
type CashLedger interface {
	AdjustBalance(ctx context.Context, input cash.AdjustInput) (cash.AdjustResult, error)
	Reverse(ctx context.Context, txID int64, note string) (cash.Transaction, error)
}

// Rollup refreshes the paid flag of a parent document after its lines changed.
type Rollup interface {
	RefreshPaid(ctx context.Context, documentID int64) error
}

// Deps groups collaborators.
type Deps struct {
	Repo     RepositoryPort
	Partners PartnerLedger
	Cash     CashLedger
	Numbers  numbering.Generator
	Runner   *saga.Runner
	Locker   shared.Locker
	Audit    shared.AuditPort
	Clock    shared.Clock
	Logger   *slog.Logger
}

// Service records and voids settlements.
type Service struct {
	repo     RepositoryPort
	partners PartnerLedger
	cash     CashLedger
	numbers  numbering.Generator
	runner   *saga.Runner
	locker   shared.Locker
	audit    shared.AuditPort
	clock    shared.Clock
	logger   *slog.Logger
	rollups  map[partner.DocumentType]Rollup
}

// NewService builds Service.
func NewService(deps Deps) *Service {
	if deps.Clock == nil {
		deps.Clock = shared.SystemClock{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Runner == nil {
		deps.Runner = saga.NewRunner(deps.Logger, saga.Config{}, nil, nil)
	}
	if deps.Locker == nil {
		deps.Locker = shared.NewLocalLocker()
	}
	return &Service{
		repo:     deps.Repo,
		partners: deps.Partners,
		cash:     deps.Cash,
		numbers:  deps.Numbers,
		runner:   deps.Runner,
		locker:   deps.Locker,
		audit:    deps.Audit,
		clock:    deps.Clock,
		logger:   deps.Logger,
		rollups:  make(map[partner.DocumentType]Rollup),
	}
}

// RegisterRollup attaches the owner of a document type's paid flag.
func (s *Service) RegisterRollup(docType partner.DocumentType, r Rollup) {
	s.rollups[docType] = r
}

// Get returns one settlement with allocations.
func (s *Service) Get(ctx context.Context, id int64) (Settlement, error) {
	return s.repo.Get(ctx, id)
}

// ListByPartner returns a partner's settlements, newest first.
func (s *Service) ListByPartner(ctx context.Context, partnerType partner.PartnerType, partnerID int64) ([]Settlement, error) {
	return s.repo.ListByPartner(ctx, partnerType, partnerID)
}

func validateRecord(input RecordInput) (RecordInput, error) {
	want, err := partner.DirectionFor(input.PartnerType)
	if err != nil {
		return input, err
	}
	if input.Direction == "" {
		input.Direction = want
	}
	if input.Direction != want {
		return input, shared.Invalid("direction", fmt.Sprintf("%s settlements cannot target %s lines", input.PartnerType, input.Direction))
	}
	if input.PartnerID == 0 {
		return input, shared.Invalid("partner_id", "required")
	}
	input.Amount = money.Round(input.Amount)
	if !input.Amount.IsPositive() {
		return input, ErrInvalidAmount
	}
	input.Method = strings.TrimSpace(input.Method)
	if input.Method == "" && input.CashAccountID == 0 {
		return input, shared.Invalid("method", "payment method or cash account required")
	}
	explicit := false
	seen := make(map[int64]bool, len(input.Targets))
	for _, t := range input.Targets {
		if seen[t.AccountID] {
			return input, shared.Invalid("targets", fmt.Sprintf("account %d listed twice", t.AccountID))
		}
		seen[t.AccountID] = true
		if !t.Amount.IsZero() {
			explicit = true
		}
	}
	switch {
	case input.Strategy == "" && explicit:
		input.Strategy = StrategyExplicit
	case input.Strategy == "":
		input.Strategy = StrategyProportional
	case !input.Strategy.Valid():
		return input, shared.Invalid("strategy", fmt.Sprintf("unknown %q", input.Strategy))
	case input.Strategy == StrategyExplicit && len(input.Targets) == 0:
		return input, shared.Invalid("targets", "explicit allocation needs targets")
	}
	return input, nil
}

func (s *Service) resolveAccounts(ctx context.Context, input RecordInput) ([]partner.Account, error) {
	if len(input.Targets) == 0 {
		return s.partners.ListOpen(ctx, input.PartnerType, input.PartnerID, input.Direction)
	}
	accounts := make([]partner.Account, 0, len(input.Targets))
	for _, t := range input.Targets {
		acc, err := s.partners.Get(ctx, t.AccountID)
		if err != nil {
			return nil, err
		}
		if acc.PartnerType != input.PartnerType || acc.PartnerID != input.PartnerID || acc.Direction != input.Direction {
			return nil, shared.Invalid("targets", fmt.Sprintf("account %d belongs to %s %d (%s)", acc.ID, acc.PartnerType, acc.PartnerID, acc.Direction))
		}
		accounts = append(accounts, acc)
	}
	return accounts, nil
}

// RecordSettlement validates and plans the whole allocation first, then applies it as a
// saga: partner payments, the cash movement, and the settlement row. Parent paid flags are
// refreshed afterwards; failures there surface as warnings.
func (s *Service) RecordSettlement(ctx context.Context, input RecordInput) (Result, error) {
	input, err := validateRecord(input)
	if err != nil {
		return Result{}, err
	}
	release, err := s.locker.Obtain(ctx, shared.SettlementLockKey(string(input.PartnerType), input.PartnerID))
	if err != nil {
		return Result{}, err
	}
	defer release()

	accounts, err := s.resolveAccounts(ctx, input)
	if err != nil {
		return Result{}, err
	}
	lines, err := Plan(input.Amount, accounts, input.Targets, input.Strategy)
	if err != nil {
		return Result{}, err
	}

	record := Settlement{
		PartnerType:   input.PartnerType,
		PartnerID:     input.PartnerID,
		Direction:     input.Direction,
		Amount:        input.Amount,
		Method:        input.Method,
		CashAccountID: input.CashAccountID,
		Strategy:      input.Strategy,
		Status:        StatusPosted,
		Note:          input.Note,
		CreatedAt:     s.clock.Now(),
	}
	var warnings []shared.Warning

	steps := make([]saga.Step, 0, len(lines)+2)
	for _, line := range lines {
		line := line
		steps = append(steps, saga.Step{
			Name: fmt.Sprintf("apply_payment:%d", line.Account.ID),
			Action: func(ctx context.Context) error {
				acc, err := s.partners.ApplyPayment(ctx, line.Account.ID, line.Amount)
				if err != nil {
					return err
				}
				record.Allocations = append(record.Allocations, Allocation{
					PartnerAccountID: acc.ID,
					DocumentType:     acc.DocumentType,
					DocumentID:       acc.DocumentID,
					Amount:           line.Amount,
					BalanceBefore:    line.Account.Balance(),
					BalanceAfter:     acc.Balance(),
				})
				return nil
			},
			Compensate: func(ctx context.Context) error {
				_, err := s.partners.ReversePayment(ctx, line.Account.ID, line.Amount)
				return err
			},
		})
	}

	steps = append(steps, saga.Step{
		Name: "cash_movement",
		Action: func(ctx context.Context) error {
			res, err := s.cash.AdjustBalance(ctx, cash.AdjustInput{
				AccountID: input.CashAccountID,
				Method:    input.Method,
				Amount:    input.Amount,
				Direction: cashDirection(input.Direction),
				TxType:    cashTxType(input.Direction),
				Note:      fmt.Sprintf("%s settlement %s %d", input.Direction, input.PartnerType, input.PartnerID),
			})
			if err != nil {
				return err
			}
			if res.Warning != nil {
				warnings = append(warnings, *res.Warning)
				return nil
			}
			record.CashAccountID = res.Transaction.AccountID
			record.CashTransactionID = res.Transaction.ID
			return nil
		},
		Compensate: func(ctx context.Context) error {
			if record.CashTransactionID == 0 {
				return nil
			}
			_, err := s.cash.Reverse(ctx, record.CashTransactionID, "settlement rolled back")
			return err
		},
	})

	steps = append(steps, saga.Step{
		Name: "persist_settlement",
		Action: func(ctx context.Context) error {
			_, err := numbering.Assign(ctx, s.numbers, numbering.PrefixSettlement, func(ctx context.Context, number string) error {
				candidate := record
				candidate.Number = number
				return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
					stored, err := tx.Insert(ctx, candidate)
					if err != nil {
						return err
					}
					record = stored
					return nil
				})
			})
			return err
		},
		Compensate: func(ctx context.Context) error {
			if record.ID == 0 {
				return nil
			}
			return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
				return tx.Delete(ctx, record.ID)
			})
		},
	})

	if err := s.runner.Run(ctx, "record_settlement", steps...); err != nil {
		return Result{}, err
	}

	warnings = append(warnings, s.refreshRollups(ctx, record.Allocations)...)
	s.record(ctx, "settlement:record", record)
	return Result{Settlement: record, Warnings: warnings}, nil
}

// Void reverses every allocation and the cash movement of a posted settlement.
func (s *Service) Void(ctx context.Context, id int64) (Result, error) {
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return Result{}, err
	}
	if current.Status == StatusVoided {
		return Result{}, ErrAlreadyVoided
	}
	release, err := s.locker.Obtain(ctx, shared.SettlementLockKey(string(current.PartnerType), current.PartnerID))
	if err != nil {
		return Result{}, err
	}
	defer release()

	var voided Settlement
	steps := []saga.Step{{
		Name: "mark_voided",
		Action: func(ctx context.Context) error {
			return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
				stored, err := tx.GetForUpdate(ctx, id)
				if err != nil {
					return err
				}
				if stored.Status == StatusVoided {
					return ErrAlreadyVoided
				}
				now := s.clock.Now()
				stored.Status = StatusVoided
				stored.VoidedAt = &now
				voided = stored
				return tx.SetStatus(ctx, id, StatusVoided, &now)
			})
		},
		Compensate: func(ctx context.Context) error {
			return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
				return tx.SetStatus(ctx, id, StatusPosted, nil)
			})
		},
	}}
	for i := range current.Allocations {
		alloc := current.Allocations[i]
		steps = append(steps, saga.Step{
			Name: fmt.Sprintf("reverse_payment:%d", alloc.PartnerAccountID),
			Action: func(ctx context.Context) error {
				_, err := s.partners.ReversePayment(ctx, alloc.PartnerAccountID, alloc.Amount)
				return err
			},
			Compensate: func(ctx context.Context) error {
				_, err := s.partners.ApplyPayment(ctx, alloc.PartnerAccountID, alloc.Amount)
				return err
			},
		})
	}
	if current.CashTransactionID != 0 {
		steps = append(steps, saga.Step{
			Name: "reverse_cash",
			Action: func(ctx context.Context) error {
				_, err := s.cash.Reverse(ctx, current.CashTransactionID, fmt.Sprintf("void settlement %s", current.Number))
				return err
			},
		})
	}
	if err := s.runner.Run(ctx, "void_settlement", steps...); err != nil {
		return Result{}, err
	}

	warnings := s.refreshRollups(ctx, voided.Allocations)
	s.record(ctx, "settlement:void", voided)
	return Result{Settlement: voided, Warnings: warnings}, nil
}

func (s *Service) refreshRollups(ctx context.Context, allocations []Allocation) []shared.Warning {
	type docKey struct {
		docType partner.DocumentType
		id      int64
	}
	seen := make(map[docKey]bool)
	docs := make([]docKey, 0, len(allocations))
	for _, a := range allocations {
		k := docKey{a.DocumentType, a.DocumentID}
		if !seen[k] {
			seen[k] = true
			docs = append(docs, k)
		}
	}
	sort.Slice(docs, func(i, j int) bool {
		if docs[i].docType != docs[j].docType {
			return docs[i].docType < docs[j].docType
		}
		return docs[i].id < docs[j].id
	})
	var warnings []shared.Warning
	for _, d := range docs {
		rollup, ok := s.rollups[d.docType]
		if !ok {
			continue
		}
		if err := rollup.RefreshPaid(ctx, d.id); err != nil {
			s.logger.Warn("paid rollup", slog.String("document_type", string(d.docType)), slog.Int64("document_id", d.id), slog.Any("error", err))
			warnings = append(warnings, shared.Warning{
				Code:    shared.WarnRollupFailed,
				Message: fmt.Sprintf("%s %d paid flag not refreshed: %v", d.docType, d.id, err),
			})
		}
	}
	return warnings
}

func cashDirection(d partner.Direction) cash.Direction {
	if d == partner.DirectionAP {
		return cash.Decrease
	}
	return cash.Increase
}

func cashTxType(d partner.Direction) cash.TxType {
	if d == partner.DirectionAP {
		return cash.TxSettlementPayment
	}
	return cash.TxSettlementReceipt
}

func (s *Service) record(ctx context.Context, action string, st Settlement) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		Action:   action,
		Entity:   "settlement",
		EntityID: fmt.Sprintf("%d", st.ID),
		Meta: map[string]any{
			"number":      st.Number,
			"partner":     fmt.Sprintf("%s:%d", st.PartnerType, st.PartnerID),
			"amount":      st.Amount.String(),
			"allocations": len(st.Allocations),
			"status":      string(st.Status),
		},
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("settlement audit", slog.String("action", action), slog.Any("error", err))
	}
}
