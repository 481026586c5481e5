package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetProduct(ctx context.Context, id int64) (Product, error)
	ListProductIDs(ctx context.Context) ([]int64, error)
	ListLog(ctx context.Context, productID int64, limit int) ([]LogEntry, error)
	SumDeltas(ctx context.Context, productID int64) (int64, error)
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	InsertProduct(ctx context.Context, product Product) (Product, error)
	GetProductForUpdate(ctx context.Context, id int64) (Product, error)
	UpdateProductStock(ctx context.Context, id int64, stock int64, avgCost decimal.Decimal) error
	AppendLog(ctx context.Context, entry LogEntry) (LogEntry, error)
}

// Service owns every stock and average-cost mutation. Callers never write product rows directly.
type Service struct {
	repo        RepositoryPort
	audit       shared.AuditPort
	idempotency shared.IdempotencyPort
	clock       shared.Clock
	logger      *slog.Logger
}

// ServiceConfig groups optional collaborators.
type ServiceConfig struct {
	Clock  shared.Clock
	Logger *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit shared.AuditPort, idem shared.IdempotencyPort, cfg ServiceConfig) *Service {
	if cfg.Clock == nil {
		cfg.Clock = shared.SystemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, idempotency: idem, clock: cfg.Clock, logger: cfg.Logger}
}

// CreateProduct registers a product. A positive opening stock is booked as a correction
// entry so that stock always equals the sum of logged deltas.
func (s *Service) CreateProduct(ctx context.Context, input ProductInput) (Product, error) {
	if input.Name == "" {
		return Product{}, shared.Invalid("name", "required")
	}
	if input.OpeningStock < 0 {
		return Product{}, ErrInvalidQuantity
	}
	if input.FallbackCost.IsNegative() || input.OpeningCost.IsNegative() {
		return Product{}, ErrInvalidUnitCost
	}
	var product Product
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		product, err = tx.InsertProduct(ctx, Product{
			SKU:           input.SKU,
			Name:          input.Name,
			FallbackCost:  input.FallbackCost,
			AllowNegative: input.AllowNegative,
			AvgCost:       decimal.Zero,
			UpdatedAt:     s.clock.Now(),
		})
		if err != nil {
			return err
		}
		if input.OpeningStock == 0 {
			return nil
		}
		avg := RecostOnInbound(input.OpeningStock, decimal.Zero, input.OpeningStock, input.OpeningCost)
		if err := tx.UpdateProductStock(ctx, product.ID, input.OpeningStock, avg); err != nil {
			return err
		}
		if _, err := tx.AppendLog(ctx, LogEntry{
			ProductID:    product.ID,
			Delta:        input.OpeningStock,
			UnitCost:     input.OpeningCost,
			RefType:      RefCorrection,
			Memo:         "opening balance",
			StockAfter:   input.OpeningStock,
			AvgCostAfter: avg,
			CreatedAt:    s.clock.Now(),
		}); err != nil {
			return err
		}
		product.Stock = input.OpeningStock
		product.AvgCost = avg
		return nil
	})
	if err != nil {
		return Product{}, err
	}
	return product, nil
}

// GetProduct returns the current costing state.
func (s *Service) GetProduct(ctx context.Context, id int64) (Product, error) {
	return s.repo.GetProduct(ctx, id)
}

// History lists the latest log entries for a product, newest first.
func (s *Service) History(ctx context.Context, productID int64, limit int) ([]LogEntry, error) {
	if limit <= 0 {
		limit = 200
	}
	return s.repo.ListLog(ctx, productID, limit)
}

// CheckAvailability is a read-only pre-check used before a sale commits anything.
// The authoritative check happens again under the row lock in RecordOutbound.
func (s *Service) CheckAvailability(ctx context.Context, productID, qty int64) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	product, err := s.repo.GetProduct(ctx, productID)
	if err != nil {
		return err
	}
	if !product.AllowNegative && product.Stock < qty {
		return fmt.Errorf("%w: product %d has %d, need %d", ErrInsufficientStock, productID, product.Stock, qty)
	}
	return nil
}

// RecordMovement appends a signed delta without touching the average cost, except that
// the cost resets once stock is exhausted.
func (s *Service) RecordMovement(ctx context.Context, input MovementInput) (Movement, error) {
	if input.Delta == 0 {
		return Movement{}, ErrInvalidQuantity
	}
	return s.apply(ctx, movementParams{
		ProductID: input.ProductID,
		Delta:     input.Delta,
		RefType:   input.RefType,
		RefID:     input.RefID,
		Memo:      input.Memo,
		Key:       input.IdempotencyKey,
		recost: func(p Product, stockAfter int64) (decimal.Decimal, decimal.Decimal) {
			if input.Delta > 0 {
				return p.AvgCost, p.AvgCost
			}
			return costAfterOutbound(stockAfter, p.AvgCost), p.AvgCost
		},
	})
}

// RecordInbound receives stock and recosts in the same local transaction.
func (s *Service) RecordInbound(ctx context.Context, input InboundInput) (Movement, error) {
	if input.Qty <= 0 {
		return Movement{}, ErrInvalidQuantity
	}
	if input.UnitCost.IsNegative() {
		return Movement{}, ErrInvalidUnitCost
	}
	return s.apply(ctx, movementParams{
		ProductID: input.ProductID,
		Delta:     input.Qty,
		RefType:   input.RefType,
		RefID:     input.RefID,
		Memo:      input.Memo,
		Key:       input.IdempotencyKey,
		recost: func(p Product, stockAfter int64) (decimal.Decimal, decimal.Decimal) {
			return RecostOnInbound(stockAfter, p.AvgCost, input.Qty, input.UnitCost), input.UnitCost
		},
	})
}

// ReverseInbound takes back a received quantity and unwinds its effect on the average.
func (s *Service) ReverseInbound(ctx context.Context, input ReversalInput) (Movement, error) {
	if input.Qty <= 0 {
		return Movement{}, ErrInvalidQuantity
	}
	if input.UnitCost.IsNegative() {
		return Movement{}, ErrInvalidUnitCost
	}
	return s.apply(ctx, movementParams{
		ProductID: input.ProductID,
		Delta:     -input.Qty,
		RefType:   input.RefType,
		RefID:     input.RefID,
		Memo:      input.Memo,
		Key:       input.IdempotencyKey,
		recost: func(p Product, _ int64) (decimal.Decimal, decimal.Decimal) {
			return RecostOnReversal(p.Stock, p.AvgCost, input.Qty, input.UnitCost), input.UnitCost
		},
	})
}

// RecordOutbound removes delivered stock at the current average cost.
func (s *Service) RecordOutbound(ctx context.Context, input OutboundInput) (Movement, error) {
	if input.Qty <= 0 {
		return Movement{}, ErrInvalidQuantity
	}
	return s.apply(ctx, movementParams{
		ProductID: input.ProductID,
		Delta:     -input.Qty,
		RefType:   input.RefType,
		RefID:     input.RefID,
		Memo:      input.Memo,
		Key:       input.IdempotencyKey,
		recost: func(p Product, stockAfter int64) (decimal.Decimal, decimal.Decimal) {
			return costAfterOutbound(stockAfter, p.AvgCost), p.AvgCost
		},
	})
}

// Reconcile compares the stored stock with the sum of its log.
func (s *Service) Reconcile(ctx context.Context, productID int64) (Drift, error) {
	product, err := s.repo.GetProduct(ctx, productID)
	if err != nil {
		return Drift{}, err
	}
	logged, err := s.repo.SumDeltas(ctx, productID)
	if err != nil {
		return Drift{}, err
	}
	return Drift{ProductID: productID, Stock: product.Stock, LoggedStock: logged}, nil
}

// ReconcileAll checks every product and returns only drifted ones.
func (s *Service) ReconcileAll(ctx context.Context) ([]Drift, error) {
	ids, err := s.repo.ListProductIDs(ctx)
	if err != nil {
		return nil, err
	}
	var drifted []Drift
	for _, id := range ids {
		d, err := s.Reconcile(ctx, id)
		if err != nil {
			return nil, err
		}
		if d.Drifted() {
			s.logger.Warn("inventory drift", slog.Int64("product_id", id), slog.Int64("stock", d.Stock), slog.Int64("logged", d.LoggedStock))
			drifted = append(drifted, d)
		}
	}
	return drifted, nil
}

type movementParams struct {
	ProductID int64
	Delta     int64
	RefType   RefType
	RefID     int64
	Memo      string
	Key       string
	// recost returns the new average and the unit cost recorded on the log entry.
	recost func(p Product, stockAfter int64) (decimal.Decimal, decimal.Decimal)
}

func (s *Service) apply(ctx context.Context, params movementParams) (Movement, error) {
	if params.ProductID == 0 {
		return Movement{}, shared.Invalid("product_id", "required")
	}
	if !params.RefType.Valid() {
		return Movement{}, ErrInvalidRefType
	}
	insertedKey := false
	if params.Key != "" && s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, params.Key, "inventory"); err != nil {
			return Movement{}, err
		}
		insertedKey = true
	}

	var result Movement
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		product, err := tx.GetProductForUpdate(ctx, params.ProductID)
		if err != nil {
			return err
		}
		stockAfter := product.Stock + params.Delta
		if params.Delta < 0 && !product.AllowNegative && stockAfter < 0 {
			return fmt.Errorf("%w: product %d has %d, need %d", ErrInsufficientStock, product.ID, product.Stock, -params.Delta)
		}
		avgAfter, unitCost := params.recost(product, stockAfter)
		if err := tx.UpdateProductStock(ctx, product.ID, stockAfter, avgAfter); err != nil {
			return err
		}
		entry, err := tx.AppendLog(ctx, LogEntry{
			ProductID:    product.ID,
			Delta:        params.Delta,
			UnitCost:     unitCost,
			RefType:      params.RefType,
			RefID:        params.RefID,
			Memo:         params.Memo,
			StockAfter:   stockAfter,
			AvgCostAfter: avgAfter,
			CreatedAt:    s.clock.Now(),
		})
		if err != nil {
			return err
		}
		result = Movement{Entry: entry, CostBefore: product.AvgCost, Stock: stockAfter, AvgCost: avgAfter}
		return nil
	})
	if err != nil {
		if insertedKey {
			if derr := s.idempotency.Delete(context.WithoutCancel(ctx), params.Key); derr != nil {
				s.logger.Error("release idempotency key", slog.String("key", params.Key), slog.Any("error", derr))
			}
		}
		return Movement{}, err
	}
	if s.audit != nil {
		if aerr := s.audit.Record(ctx, shared.AuditLog{
			Action:   fmt.Sprintf("inventory:%s", params.RefType),
			Entity:   "product",
			EntityID: fmt.Sprintf("%d", params.ProductID),
			Meta: map[string]any{
				"delta":    params.Delta,
				"ref_id":   params.RefID,
				"stock":    result.Stock,
				"avg_cost": result.AvgCost.String(),
				"memo":     params.Memo,
			},
		}); aerr != nil && !errors.Is(aerr, context.Canceled) {
			s.logger.Warn("inventory audit", slog.Any("error", aerr))
		}
	}
	return result, nil
}
