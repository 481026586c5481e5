package sales

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/cash"
	"github.com/odyssey-erp/backoffice/internal/delivery"
	"github.com/odyssey-erp/backoffice/internal/inventory"
	"github.com/odyssey-erp/backoffice/internal/money"
	"github.com/odyssey-erp/backoffice/internal/numbering"
	"github.com/odyssey-erp/backoffice/internal/partner"
	"github.com/odyssey-erp/backoffice/internal/points"
	"github.com/odyssey-erp/backoffice/internal/prize"
	"github.com/odyssey-erp/backoffice/internal/saga"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Sale, error)
	GetItem(ctx context.Context, id int64) (Item, error)
	List(ctx context.Context, offset, limit int) ([]Sale, int, error)
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	// InsertSale stores the header. A taken number yields shared.ErrDuplicate.
	InsertSale(ctx context.Context, sale Sale) (Sale, error)
	InsertItems(ctx context.Context, saleID int64, items []Item) ([]Item, error)
	InsertPayment(ctx context.Context, p Payment) (Payment, error)
	SetPaymentTransaction(ctx context.Context, paymentID, txID int64) error
	GetForUpdate(ctx context.Context, id int64) (Sale, error)
	UpdateSale(ctx context.Context, sale Sale) error
	UpdateItem(ctx context.Context, item Item) error
	DeleteItems(ctx context.Context, saleID int64) error
	// DeleteSale removes the sale with its items and payments. Missing sales are ignored.
	DeleteSale(ctx context.Context, id int64) error
	// RestoreSale re-inserts a deleted sale with its original ids.
	RestoreSale(ctx context.Context, sale Sale) error
}

// Inventory is the subset of the inventory ledger used by sales.
type Inventory interface {
	GetProduct(ctx context.Context, id int64) (inventory.Product, error)
	CheckAvailability(ctx context.Context, productID, qty int64) error
	RecordOutbound(ctx context.Context, input inventory.OutboundInput) (inventory.Movement, error)
	RecordInbound(ctx context.Context, input inventory.InboundInput) (inventory.Movement, error)
}

// Prizes is the subset of the prize service used by sales.
type Prizes interface {
	CheckAvailable(ctx context.Context, id, qty int64) error
	Deduct(ctx context.Context, id, qty int64) (prize.Pool, error)
	Restore(ctx context.Context, id, qty int64) (prize.Pool, error)
}

// Deliveries is the subset of the delivery service used by sales.
type Deliveries interface {
	Create(ctx context.Context, input delivery.CreateInput) (delivery.Delivery, error)
	Delete(ctx context.Context, id int64) error
	DeleteBySale(ctx context.Context, saleID int64) ([]delivery.Delivery, error)
	Restore(ctx context.Context, deliveries []delivery.Delivery) error
	AdjustDraft(ctx context.Context, saleID, saleItemID, delta int64) error
	Pending(ctx context.Context, saleID int64) (map[int64]int64, error)
}

// CashLedger is the subset of the cash service used by sales.
type CashLedger interface {
	AdjustBalance(ctx context.Context, input cash.AdjustInput) (cash.AdjustResult, error)
	Reverse(ctx context.Context, txID int64, note string) (cash.Transaction, error)
}

// PartnerLedger is the subset of the partner service used by sales.
type PartnerLedger interface {
	OpenAccount(ctx context.Context, input partner.OpenInput) (partner.Account, error)
	ListByDocument(ctx context.Context, docType partner.DocumentType, docID int64) ([]partner.Account, error)
	DeleteByDocument(ctx context.Context, docType partner.DocumentType, docID int64) ([]partner.Account, error)
	Restore(ctx context.Context, accounts []partner.Account) error
}

// PointsLedger is the subset of the points service used by sales.
type PointsLedger interface {
	Accrue(ctx context.Context, input points.AccrueInput) (int64, error)
	ReverseAccrual(ctx context.Context, customerID, programID, refID int64) (int64, error)
	CreditStore(ctx context.Context, input points.StoreCreditInput) (points.CreditEntry, error)
	StoreCreditBalance(ctx context.Context, customerID int64) (decimal.Decimal, error)
}

// Config carries sale policy.
type Config struct {
	// DueDays is added to the sale date to obtain the receivable due date.
	DueDays int
}

// Deps groups collaborators.
type Deps struct {
	Repo       RepositoryPort
	Inventory  Inventory
	Prizes     Prizes
	Deliveries Deliveries
	Cash       CashLedger
	Partners   PartnerLedger
	Points     PointsLedger
	Numbers    numbering.Generator
	Runner     *saga.Runner
	Locker     shared.Locker
	Audit      shared.AuditPort
	Clock      shared.Clock
	Logger     *slog.Logger
	Config     Config
}

// Service runs sale sagas. It never writes product, cash or partner rows itself.
type Service struct {
	repo       RepositoryPort
	inventory  Inventory
	prizes     Prizes
	deliveries Deliveries
	cash       CashLedger
	partners   PartnerLedger
	points     PointsLedger
	numbers    numbering.Generator
	runner     *saga.Runner
	locker     shared.Locker
	audit      shared.AuditPort
	clock      shared.Clock
	logger     *slog.Logger
	cfg        Config
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
	if deps.Config.DueDays <= 0 {
		deps.Config.DueDays = 7
	}
	return &Service{
		repo:       deps.Repo,
		inventory:  deps.Inventory,
		prizes:     deps.Prizes,
		deliveries: deps.Deliveries,
		cash:       deps.Cash,
		partners:   deps.Partners,
		points:     deps.Points,
		numbers:    deps.Numbers,
		runner:     deps.Runner,
		locker:     deps.Locker,
		audit:      deps.Audit,
		clock:      deps.Clock,
		logger:     deps.Logger,
		cfg:        deps.Config,
	}
}

// Get returns a sale with items and payments.
func (s *Service) Get(ctx context.Context, id int64) (Sale, error) {
	return s.repo.Get(ctx, id)
}

// List pages through sales, newest first.
func (s *Service) List(ctx context.Context, page, perPage int) ([]Sale, shared.Pagination, error) {
	p := shared.NewPagination(page, perPage, 0)
	sales, total, err := s.repo.List(ctx, p.Offset(), p.PerPage)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return sales, shared.NewPagination(page, perPage, total), nil
}

// RefreshPaid recomputes PaidAmount and IsPaid from the sale's receivable lines.
// Sales without receivables keep the flags set at creation.
func (s *Service) RefreshPaid(ctx context.Context, saleID int64) error {
	accounts, err := s.partners.ListByDocument(ctx, partner.DocumentSale, saleID)
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
		sale, err := tx.GetForUpdate(ctx, saleID)
		if err != nil {
			return err
		}
		sale.PaidAmount = money.ClampZero(money.Round(sale.Total.Sub(outstanding)))
		sale.IsPaid = paid
		return tx.UpdateSale(ctx, sale)
	})
}

func fulfillmentOf(items []Item) Fulfillment {
	var ordered, delivered int64
	for _, it := range items {
		ordered += it.Quantity
		delivered += min(it.DeliveredQuantity, it.Quantity)
	}
	switch {
	case delivered == 0:
		return FulfillmentNone
	case delivered >= ordered:
		return FulfillmentCompleted
	default:
		return FulfillmentPartial
	}
}

func itemIndex(items []Item, id int64) int {
	for i, it := range items {
		if it.ID == id {
			return i
		}
	}
	return -1
}

func (s *Service) lockSale(ctx context.Context, saleID int64) (func(), error) {
	return s.locker.Obtain(ctx, shared.SaleLockKey(saleID))
}

func (s *Service) record(ctx context.Context, action string, sale Sale, extra map[string]any) {
	if s.audit == nil {
		return
	}
	meta := map[string]any{
		"number": sale.Number,
		"status": string(sale.Status),
		"total":  sale.Total.String(),
		"paid":   sale.PaidAmount.String(),
	}
	for k, v := range extra {
		meta[k] = v
	}
	err := s.audit.Record(ctx, shared.AuditLog{Action: action, Entity: "sale", EntityID: fmt.Sprintf("%d", sale.ID), Meta: meta})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("sales audit", slog.String("action", action), slog.Any("error", err))
	}
}
