package procurement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/cash"
	"github.com/odyssey-erp/backoffice/internal/inventory"
	"github.com/odyssey-erp/backoffice/internal/money"
	"github.com/odyssey-erp/backoffice/internal/numbering"
	"github.com/odyssey-erp/backoffice/internal/partner"
	"github.com/odyssey-erp/backoffice/internal/saga"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Purchase, error)
	List(ctx context.Context, offset, limit int) ([]Purchase, int, error)
}

// TxRepository exposes transactional operations used by Service.
type TxRepository interface {
	// InsertPurchase stores header and items. A taken number yields shared.ErrDuplicate.
	InsertPurchase(ctx context.Context, p Purchase) (Purchase, error)
	GetForUpdate(ctx context.Context, id int64) (Purchase, error)
	UpdatePurchase(ctx context.Context, p Purchase) error
	UpdateItem(ctx context.Context, item Item) error
	InsertPayment(ctx context.Context, p Payment) (Payment, error)
	SetPaymentTransaction(ctx context.Context, paymentID, txID int64) error
	DeletePayment(ctx context.Context, paymentID int64) error
	// DeletePurchase removes the purchase with its items and payments. Missing rows are ignored.
	DeletePurchase(ctx context.Context, id int64) error
	// RestorePurchase re-inserts a deleted purchase with its original ids.
	RestorePurchase(ctx context.Context, p Purchase) error
}

// Inventory is the subset of the inventory ledger used by purchases.
type Inventory interface {
	GetProduct(ctx context.Context, id int64) (inventory.Product, error)
	RecordInbound(ctx context.Context, input inventory.InboundInput) (inventory.Movement, error)
	ReverseInbound(ctx context.Context, input inventory.ReversalInput) (inventory.Movement, error)
}

// CashLedger is the subset of the cash service used by purchases.
type CashLedger interface {
	AdjustBalance(ctx context.Context, input cash.AdjustInput) (cash.AdjustResult, error)
	Reverse(ctx context.Context, txID int64, note string) (cash.Transaction, error)
}

// PartnerLedger is the subset of the partner service used by purchases.
type PartnerLedger interface {
	OpenAccount(ctx context.Context, input partner.OpenInput) (partner.Account, error)
	ListByDocument(ctx context.Context, docType partner.DocumentType, docID int64) ([]partner.Account, error)
	DeleteByDocument(ctx context.Context, docType partner.DocumentType, docID int64) ([]partner.Account, error)
	Restore(ctx context.Context, accounts []partner.Account) error
}

// Config carries purchase policy.
type Config struct {
	// DueDays is added to the approval date to obtain the payable due date.
	DueDays int
}

// Deps groups collaborators.
type Deps struct {
	Repo      RepositoryPort
	Inventory Inventory
	Cash      CashLedger
	Partners  PartnerLedger
	Numbers   numbering.Generator
	Runner    *saga.Runner
	Locker    shared.Locker
	Audit     shared.AuditPort
	Clock     shared.Clock
	Logger    *slog.Logger
	Config    Config
}

// Service orchestrates purchase flows.
type Service struct {
	repo      RepositoryPort
	inventory Inventory
	cash      CashLedger
	partners  PartnerLedger
	numbers   numbering.Generator
	runner    *saga.Runner
	locker    shared.Locker
	audit     shared.AuditPort
	clock     shared.Clock
	logger    *slog.Logger
	cfg       Config
}

// NewService constructs procurement service.
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
	if deps.Config.DueDays <= 0 {
		deps.Config.DueDays = 30
	}
	return &Service{
		repo:      deps.Repo,
		inventory: deps.Inventory,
		cash:      deps.Cash,
		partners:  deps.Partners,
		numbers:   deps.Numbers,
		runner:    deps.Runner,
		locker:    deps.Locker,
		audit:     deps.Audit,
		clock:     deps.Clock,
		logger:    deps.Logger,
		cfg:       deps.Config,
	}
}

// Get returns a purchase with items and payments.
func (s *Service) Get(ctx context.Context, id int64) (Purchase, error) {
	return s.repo.Get(ctx, id)
}

// List pages through purchases, newest first.
func (s *Service) List(ctx context.Context, page, perPage int) ([]Purchase, shared.Pagination, error) {
	p := shared.NewPagination(page, perPage, 0)
	purchases, total, err := s.repo.List(ctx, p.Offset(), p.PerPage)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return purchases, shared.NewPagination(page, perPage, total), nil
}

// CreatePurchase stores a pending purchase with a generated number. Stock is untouched
// until approval.
func (s *Service) CreatePurchase(ctx context.Context, draft Draft) (Purchase, error) {
	if draft.VendorID == 0 {
		return Purchase{}, shared.Invalid("vendor_id", "required")
	}
	if len(draft.Items) == 0 {
		return Purchase{}, shared.Invalid("items", "at least one item required")
	}
	items := make([]Item, len(draft.Items))
	subtotals := make([]decimal.Decimal, len(draft.Items))
	for i, it := range draft.Items {
		if it.Quantity <= 0 {
			return Purchase{}, shared.Invalid("quantity", fmt.Sprintf("item %d: must be positive", i))
		}
		if it.UnitCost.IsNegative() {
			return Purchase{}, shared.Invalid("unit_cost", fmt.Sprintf("item %d: must not be negative", i))
		}
		if _, err := s.inventory.GetProduct(ctx, it.ProductID); err != nil {
			return Purchase{}, err
		}
		subtotals[i] = money.Round(it.UnitCost.Mul(decimal.NewFromInt(it.Quantity)))
		items[i] = Item{ProductID: it.ProductID, Quantity: it.Quantity, UnitCost: it.UnitCost, Subtotal: subtotals[i]}
	}
	now := s.clock.Now()
	purchase := Purchase{
		VendorID:   draft.VendorID,
		Status:     StatusPending,
		Total:      money.Sum(subtotals...),
		PaidAmount: decimal.Zero,
		DueDate:    now.AddDate(0, 0, s.cfg.DueDays),
		Note:       draft.Note,
		CreatedAt:  now,
		Items:      items,
	}
	_, err := numbering.Assign(ctx, s.numbers, numbering.PrefixPurchase, func(ctx context.Context, number string) error {
		candidate := purchase
		candidate.Number = number
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			stored, err := tx.InsertPurchase(ctx, candidate)
			if err != nil {
				return err
			}
			purchase = stored
			return nil
		})
	})
	if err != nil {
		return Purchase{}, err
	}
	s.record(ctx, "purchase:create", purchase, map[string]any{"items": len(purchase.Items)})
	return purchase, nil
}

// CancelPurchase closes a pending purchase without side effects.
func (s *Service) CancelPurchase(ctx context.Context, purchaseID int64) (Purchase, error) {
	release, err := s.lockPurchase(ctx, purchaseID)
	if err != nil {
		return Purchase{}, err
	}
	defer release()
	var purchase Purchase
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		purchase, err = tx.GetForUpdate(ctx, purchaseID)
		if err != nil {
			return err
		}
		if purchase.Status != StatusPending {
			return fmt.Errorf("%w: %s is %s", ErrNotPending, purchase.Number, purchase.Status)
		}
		purchase.Status = StatusCancelled
		return tx.UpdatePurchase(ctx, purchase)
	})
	if err != nil {
		return Purchase{}, err
	}
	s.record(ctx, "purchase:cancel", purchase, nil)
	return purchase, nil
}

// RefreshPaid recomputes PaidAmount and IsPaid from the purchase's payable lines.
// Purchases without payables keep the flags set at approval.
func (s *Service) RefreshPaid(ctx context.Context, purchaseID int64) error {
	accounts, err := s.partners.ListByDocument(ctx, partner.DocumentPurchase, purchaseID)
	if err != nil {
		return err
	}
	if len(accounts) == 0 {
		return nil
	}
	outstanding := decimal.Zero
	paid := true
	for _, acc := range accounts {
		outstanding = outstanding.Add(acc.Balance())
		if acc.Status != partner.StatusPaid {
			paid = false
		}
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.GetForUpdate(ctx, purchaseID)
		if err != nil {
			return err
		}
		p.PaidAmount = money.ClampZero(money.Round(p.Total.Sub(outstanding)))
		p.IsPaid = paid
		return tx.UpdatePurchase(ctx, p)
	})
}

func (s *Service) lockPurchase(ctx context.Context, purchaseID int64) (func(), error) {
	return s.locker.Obtain(ctx, shared.PurchaseLockKey(purchaseID))
}

func validatePayments(payments []PaymentInput, total decimal.Decimal) (decimal.Decimal, error) {
	paid := decimal.Zero
	for i, p := range payments {
		amount := money.Round(p.Amount)
		if !amount.IsPositive() {
			return decimal.Zero, shared.Invalid("payments", fmt.Sprintf("tranche %d: amount must be positive", i))
		}
		if strings.TrimSpace(p.Method) == "" && p.CashAccountID == 0 {
			return decimal.Zero, shared.Invalid("payments", fmt.Sprintf("tranche %d: method or cash account required", i))
		}
		paid = paid.Add(amount)
	}
	if money.Exceeds(paid, total) {
		return decimal.Zero, fmt.Errorf("%w: paid %s, total %s", ErrOverpaid, paid, total)
	}
	return paid, nil
}

func itemIndex(items []Item, id int64) int {
	for i, it := range items {
		if it.ID == id {
			return i
		}
	}
	return -1
}

func (s *Service) record(ctx context.Context, action string, p Purchase, extra map[string]any) {
	if s.audit == nil {
		return
	}
	meta := map[string]any{
		"number": p.Number,
		"status": string(p.Status),
		"total":  p.Total.String(),
		"paid":   p.PaidAmount.String(),
	}
	for k, v := range extra {
		meta[k] = v
	}
	err := s.audit.Record(ctx, shared.AuditLog{Action: action, Entity: "purchase", EntityID: fmt.Sprintf("%d", p.ID), Meta: meta})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("procurement audit", slog.String("action", action), slog.Any("error", err))
	}
}
