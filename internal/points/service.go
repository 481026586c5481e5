package points

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
	GetProgram(ctx context.Context, id int64) (Program, error)
	ListTiers(ctx context.Context, programID int64) ([]Tier, error)
	GetPoints(ctx context.Context, customerID, programID int64) (CustomerPoints, error)
	ListLog(ctx context.Context, customerID, programID int64, limit int) ([]Log, error)
	CreditBalance(ctx context.Context, customerID int64) (decimal.Decimal, error)
	ListCredit(ctx context.Context, customerID int64, limit int) ([]CreditEntry, error)
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	InsertProgram(ctx context.Context, p Program) (Program, error)
	InsertTier(ctx context.Context, t Tier) (Tier, error)
	GetProgram(ctx context.Context, id int64) (Program, error)
	GetTier(ctx context.Context, id int64) (Tier, error)
	// LockPoints returns the customer's row under lock, creating an empty one when missing.
	LockPoints(ctx context.Context, customerID, programID int64) (CustomerPoints, error)
	SavePoints(ctx context.Context, cp CustomerPoints) error
	AppendLog(ctx context.Context, entry Log) (Log, error)
	FindLog(ctx context.Context, customerID, programID int64, kind Kind, refType string, refID int64) (Log, bool, error)
	// LockCredit returns the store-credit balance under lock, zero when the customer has none.
	LockCredit(ctx context.Context, customerID int64) (decimal.Decimal, error)
	SaveCredit(ctx context.Context, customerID int64, balance decimal.Decimal) error
	AppendCredit(ctx context.Context, entry CreditEntry) (CreditEntry, error)
}

// Service owns point balances and store credit.
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

// CreateProgram registers an active program.
func (s *Service) CreateProgram(ctx context.Context, input ProgramInput) (Program, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return Program{}, shared.Invalid("name", "required")
	}
	if !input.SpendPerPoint.IsPositive() {
		return Program{}, shared.Invalid("spend_per_point", "must be positive")
	}
	if input.CostPerPoint.IsNegative() {
		return Program{}, shared.Invalid("cost_per_point", "must not be negative")
	}
	var program Program
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		program, err = tx.InsertProgram(ctx, Program{
			Name:          name,
			SpendPerPoint: input.SpendPerPoint,
			CostPerPoint:  input.CostPerPoint,
			Active:        true,
			CreatedAt:     s.clock.Now(),
		})
		return err
	})
	return program, err
}

// AddTier adds a reward tier to a program.
func (s *Service) AddTier(ctx context.Context, input TierInput) (Tier, error) {
	if strings.TrimSpace(input.Name) == "" {
		return Tier{}, shared.Invalid("name", "required")
	}
	if input.PointsRequired <= 0 {
		return Tier{}, shared.Invalid("points_required", "must be positive")
	}
	if !input.RewardValue.IsPositive() {
		return Tier{}, shared.Invalid("reward_value", "must be positive")
	}
	var tier Tier
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetProgram(ctx, input.ProgramID); err != nil {
			return err
		}
		var err error
		tier, err = tx.InsertTier(ctx, Tier{
			ProgramID:      input.ProgramID,
			Name:           strings.TrimSpace(input.Name),
			PointsRequired: input.PointsRequired,
			RewardValue:    money.Round(input.RewardValue),
		})
		return err
	})
	return tier, err
}

// GetProgram returns a program.
func (s *Service) GetProgram(ctx context.Context, id int64) (Program, error) {
	return s.repo.GetProgram(ctx, id)
}

// ListTiers returns a program's tiers ordered by points required.
func (s *Service) ListTiers(ctx context.Context, programID int64) ([]Tier, error) {
	return s.repo.ListTiers(ctx, programID)
}

// Balance returns a customer's points in a program; missing rows read as zero.
func (s *Service) Balance(ctx context.Context, customerID, programID int64) (CustomerPoints, error) {
	return s.repo.GetPoints(ctx, customerID, programID)
}

// History lists point log entries, newest first.
func (s *Service) History(ctx context.Context, customerID, programID int64, limit int) ([]Log, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.repo.ListLog(ctx, customerID, programID, limit)
}

// Accrue earns floor(SaleTotal / SpendPerPoint) points. A sale accrues at most once;
// repeating the call returns the points already earned.
func (s *Service) Accrue(ctx context.Context, input AccrueInput) (int64, error) {
	if input.CustomerID == 0 {
		return 0, shared.Invalid("customer_id", "required")
	}
	if input.SaleTotal.IsNegative() {
		return 0, ErrInvalidAmount
	}
	var earned int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		program, err := tx.GetProgram(ctx, input.ProgramID)
		if err != nil {
			return err
		}
		if !program.Active {
			return ErrProgramInactive
		}
		if input.RefID != 0 {
			existing, found, err := tx.FindLog(ctx, input.CustomerID, input.ProgramID, KindAccrual, RefSale, input.RefID)
			if err != nil {
				return err
			}
			if found {
				earned = existing.Points
				return nil
			}
		}
		earned = input.SaleTotal.Div(program.SpendPerPoint).Floor().IntPart()
		if earned <= 0 {
			earned = 0
			return nil
		}
		cp, err := tx.LockPoints(ctx, input.CustomerID, input.ProgramID)
		if err != nil {
			return err
		}
		cp.Balance += earned
		cp.TotalEarned += earned
		cp.EstimatedCost = cp.EstimatedCost.Add(program.CostPerPoint.Mul(decimal.NewFromInt(earned)))
		cp.UpdatedAt = s.clock.Now()
		if err := tx.SavePoints(ctx, cp); err != nil {
			return err
		}
		_, err = tx.AppendLog(ctx, Log{
			CustomerID:   input.CustomerID,
			ProgramID:    input.ProgramID,
			Kind:         KindAccrual,
			Points:       earned,
			RefType:      RefSale,
			RefID:        input.RefID,
			BalanceAfter: cp.Balance,
			Note:         fmt.Sprintf("sale total %s", input.SaleTotal.StringFixed(2)),
			CreatedAt:    s.clock.Now(),
		})
		return err
	})
	if err != nil {
		return 0, err
	}
	if earned > 0 {
		s.record(ctx, "points:accrue", input.CustomerID, map[string]any{"program_id": input.ProgramID, "points": earned, "ref_id": input.RefID})
	}
	return earned, nil
}

// ReverseAccrual takes back the points a sale earned. It is a no-op when the sale never
// accrued or was already reversed. Balance and estimated cost never drop below zero.
func (s *Service) ReverseAccrual(ctx context.Context, customerID, programID, refID int64) (int64, error) {
	var reversed int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		accrual, found, err := tx.FindLog(ctx, customerID, programID, KindAccrual, RefSale, refID)
		if err != nil || !found {
			return err
		}
		if _, done, err := tx.FindLog(ctx, customerID, programID, KindReversal, RefSale, refID); err != nil || done {
			return err
		}
		program, err := tx.GetProgram(ctx, programID)
		if err != nil {
			return err
		}
		cp, err := tx.LockPoints(ctx, customerID, programID)
		if err != nil {
			return err
		}
		reversed = accrual.Points
		cp.Balance = max(cp.Balance-reversed, 0)
		cp.TotalEarned = max(cp.TotalEarned-reversed, 0)
		cp.EstimatedCost = money.ClampZero(cp.EstimatedCost.Sub(program.CostPerPoint.Mul(decimal.NewFromInt(reversed))))
		cp.UpdatedAt = s.clock.Now()
		if err := tx.SavePoints(ctx, cp); err != nil {
			return err
		}
		_, err = tx.AppendLog(ctx, Log{
			CustomerID:   customerID,
			ProgramID:    programID,
			Kind:         KindReversal,
			Points:       -reversed,
			RefType:      RefSale,
			RefID:        refID,
			BalanceAfter: cp.Balance,
			Note:         fmt.Sprintf("reversal of log #%d", accrual.ID),
			CreatedAt:    s.clock.Now(),
		})
		return err
	})
	if err != nil {
		return 0, err
	}
	if reversed > 0 {
		s.record(ctx, "points:reverse_accrual", customerID, map[string]any{"program_id": programID, "points": reversed, "ref_id": refID})
	}
	return reversed, nil
}

// Redeem exchanges points for store credit in one local transaction. A balance below the
// tier requirement fails with ErrInsufficientPoints and changes nothing.
func (s *Service) Redeem(ctx context.Context, customerID, programID, tierID int64) (RedemptionResult, error) {
	if customerID == 0 {
		return RedemptionResult{}, shared.Invalid("customer_id", "required")
	}
	var result RedemptionResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		program, err := tx.GetProgram(ctx, programID)
		if err != nil {
			return err
		}
		tier, err := tx.GetTier(ctx, tierID)
		if err != nil {
			return err
		}
		if tier.ProgramID != program.ID {
			return fmt.Errorf("%w: tier %d is not part of program %d", ErrTierNotFound, tierID, programID)
		}
		cp, err := tx.LockPoints(ctx, customerID, programID)
		if err != nil {
			return err
		}
		if cp.Balance < tier.PointsRequired {
			return fmt.Errorf("%w: balance %d, tier %q needs %d", ErrInsufficientPoints, cp.Balance, tier.Name, tier.PointsRequired)
		}
		now := s.clock.Now()
		cp.Balance -= tier.PointsRequired
		cp.TotalRedeemed += tier.PointsRequired
		cp.EstimatedCost = money.ClampZero(cp.EstimatedCost.Sub(program.CostPerPoint.Mul(decimal.NewFromInt(tier.PointsRequired))))
		cp.UpdatedAt = now
		if err := tx.SavePoints(ctx, cp); err != nil {
			return err
		}
		entry, err := tx.AppendLog(ctx, Log{
			CustomerID:   customerID,
			ProgramID:    programID,
			Kind:         KindRedemption,
			Points:       -tier.PointsRequired,
			RefType:      RefTier,
			RefID:        tier.ID,
			BalanceAfter: cp.Balance,
			Note:         fmt.Sprintf("redeemed %s", tier.Name),
			CreatedAt:    now,
		})
		if err != nil {
			return err
		}
		credit, err := s.moveCredit(ctx, tx, StoreCreditInput{
			CustomerID: customerID,
			Amount:     tier.RewardValue,
			RefType:    RefTier,
			RefID:      tier.ID,
			Note:       fmt.Sprintf("reward %s", tier.Name),
		})
		if err != nil {
			return err
		}
		result = RedemptionResult{
			Points:      cp,
			Tier:        tier,
			RewardValue: tier.RewardValue,
			StoreCredit: credit.BalanceAfter,
			Log:         entry,
			Credit:      credit,
		}
		return nil
	})
	if err != nil {
		return RedemptionResult{}, err
	}
	s.record(ctx, "points:redeem", customerID, map[string]any{"program_id": programID, "tier_id": tierID, "reward": result.RewardValue.String()})
	return result, nil
}

// CreditStore moves store credit. Positive amounts credit, negative amounts consume and
// cannot overdraw the balance.
func (s *Service) CreditStore(ctx context.Context, input StoreCreditInput) (CreditEntry, error) {
	if input.CustomerID == 0 {
		return CreditEntry{}, shared.Invalid("customer_id", "required")
	}
	if money.Round(input.Amount).IsZero() {
		return CreditEntry{}, ErrInvalidAmount
	}
	if input.RefType == "" {
		input.RefType = RefAdjustment
	}
	var entry CreditEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		entry, err = s.moveCredit(ctx, tx, input)
		return err
	})
	if err != nil {
		return CreditEntry{}, err
	}
	s.record(ctx, "points:store_credit", input.CustomerID, map[string]any{"amount": entry.Amount.String(), "ref_type": entry.RefType, "ref_id": entry.RefID})
	return entry, nil
}

// StoreCreditBalance returns the customer's store credit; zero when none was ever issued.
func (s *Service) StoreCreditBalance(ctx context.Context, customerID int64) (decimal.Decimal, error) {
	return s.repo.CreditBalance(ctx, customerID)
}

// StoreCreditHistory lists store-credit entries, newest first.
func (s *Service) StoreCreditHistory(ctx context.Context, customerID int64, limit int) ([]CreditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.repo.ListCredit(ctx, customerID, limit)
}

func (s *Service) moveCredit(ctx context.Context, tx TxRepository, input StoreCreditInput) (CreditEntry, error) {
	amount := money.Round(input.Amount)
	balance, err := tx.LockCredit(ctx, input.CustomerID)
	if err != nil {
		return CreditEntry{}, err
	}
	after := balance.Add(amount)
	if after.IsNegative() {
		return CreditEntry{}, fmt.Errorf("%w: balance %s, debit %s", ErrInsufficientCredit, balance, amount.Neg())
	}
	if err := tx.SaveCredit(ctx, input.CustomerID, after); err != nil {
		return CreditEntry{}, err
	}
	return tx.AppendCredit(ctx, CreditEntry{
		CustomerID:   input.CustomerID,
		Amount:       amount,
		RefType:      input.RefType,
		RefID:        input.RefID,
		BalanceAfter: after,
		Note:         input.Note,
		CreatedAt:    s.clock.Now(),
	})
}

func (s *Service) record(ctx context.Context, action string, customerID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{Action: action, Entity: "customer", EntityID: fmt.Sprintf("%d", customerID), Meta: meta}); err != nil {
		s.logger.Warn("points audit", slog.String("action", action), slog.Any("error", err))
	}
}
