package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/odyssey-erp/backoffice/internal/numbering"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Delivery, error)
	ListBySale(ctx context.Context, saleID int64) ([]Delivery, error)
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	// Insert stores the delivery with its items. A taken number yields shared.ErrDuplicate.
	Insert(ctx context.Context, d Delivery) (Delivery, error)
	InsertWithID(ctx context.Context, d Delivery) error
	GetForUpdate(ctx context.Context, id int64) (Delivery, error)
	FindDraftForUpdate(ctx context.Context, saleID int64) (Delivery, bool, error)
	ListBySaleForUpdate(ctx context.Context, saleID int64) ([]Delivery, error)
	UpdateItemQuantity(ctx context.Context, itemID, qty int64) error
	Delete(ctx context.Context, id int64) error
}

// Service provides delivery document operations.
type Service struct {
	repo    RepositoryPort
	numbers numbering.Generator
	clock   shared.Clock
	logger  *slog.Logger
}

// NewService constructs a delivery service.
func NewService(repo RepositoryPort, numbers numbering.Generator, clock shared.Clock, logger *slog.Logger) *Service {
	if clock == nil {
		clock = shared.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, numbers: numbers, clock: clock, logger: logger}
}

// Create stores a numbered delivery. Completed deliveries are stamped with the current time.
func (s *Service) Create(ctx context.Context, input CreateInput) (Delivery, error) {
	if input.SaleID == 0 {
		return Delivery{}, shared.Invalid("sale_id", "required")
	}
	if !input.Status.Valid() {
		return Delivery{}, shared.Invalid("status", fmt.Sprintf("unknown %q", input.Status))
	}
	if len(input.Items) == 0 {
		return Delivery{}, shared.Invalid("items", "at least one line required")
	}
	now := s.clock.Now()
	d := Delivery{SaleID: input.SaleID, Status: input.Status, CreatedAt: now}
	if input.Status == StatusCompleted {
		d.CompletedAt = &now
	}
	for _, it := range input.Items {
		if it.Quantity <= 0 {
			return Delivery{}, ErrInvalidQuantity
		}
		d.Items = append(d.Items, Item{SaleItemID: it.SaleItemID, ProductID: it.ProductID, Quantity: it.Quantity})
	}

	var stored Delivery
	_, err := numbering.Assign(ctx, s.numbers, numbering.PrefixDelivery, func(ctx context.Context, number string) error {
		candidate := d
		candidate.Number = number
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			var err error
			stored, err = tx.Insert(ctx, candidate)
			return err
		})
	})
	if err != nil {
		return Delivery{}, err
	}
	s.logger.Debug("delivery created", slog.String("number", stored.Number), slog.Int64("sale_id", stored.SaleID), slog.String("status", string(stored.Status)))
	return stored, nil
}

// Get returns one delivery with items.
func (s *Service) Get(ctx context.Context, id int64) (Delivery, error) {
	return s.repo.Get(ctx, id)
}

// ListBySale returns a sale's deliveries ordered by id.
func (s *Service) ListBySale(ctx context.Context, saleID int64) ([]Delivery, error) {
	return s.repo.ListBySale(ctx, saleID)
}

// Pending returns the quantity the draft delivery still owes per sale item.
func (s *Service) Pending(ctx context.Context, saleID int64) (map[int64]int64, error) {
	deliveries, err := s.repo.ListBySale(ctx, saleID)
	if err != nil {
		return nil, err
	}
	pending := make(map[int64]int64)
	for _, d := range deliveries {
		if d.Status != StatusDraft {
			continue
		}
		for _, it := range d.Items {
			if it.Quantity > 0 {
				pending[it.SaleItemID] += it.Quantity
			}
		}
	}
	return pending, nil
}

// AdjustDraft moves a draft line of the sale by delta. A negative delta records that
// units left the draft for a completed delivery and cannot exceed what is pending.
func (s *Service) AdjustDraft(ctx context.Context, saleID, saleItemID, delta int64) error {
	if delta == 0 {
		return ErrInvalidQuantity
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		draft, found, err := tx.FindDraftForUpdate(ctx, saleID)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: sale %d has no draft delivery", ErrNothingPending, saleID)
		}
		for _, it := range draft.Items {
			if it.SaleItemID != saleItemID {
				continue
			}
			next := it.Quantity + delta
			if next < 0 {
				return fmt.Errorf("%w: item %d pending %d, delivering %d", ErrNothingPending, saleItemID, it.Quantity, -delta)
			}
			return tx.UpdateItemQuantity(ctx, it.ID, next)
		}
		return fmt.Errorf("%w: item %d not on draft %s", ErrNothingPending, saleItemID, draft.Number)
	})
}

// Delete removes one delivery and its items.
func (s *Service) Delete(ctx context.Context, id int64) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetForUpdate(ctx, id); err != nil {
			return err
		}
		return tx.Delete(ctx, id)
	})
}

// DeleteBySale removes every delivery of a sale and returns them for Restore.
func (s *Service) DeleteBySale(ctx context.Context, saleID int64) ([]Delivery, error) {
	var removed []Delivery
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		deliveries, err := tx.ListBySaleForUpdate(ctx, saleID)
		if err != nil {
			return err
		}
		for _, d := range deliveries {
			if err := tx.Delete(ctx, d.ID); err != nil {
				return err
			}
		}
		removed = deliveries
		return nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// Restore re-inserts deliveries removed by DeleteBySale, keeping ids and numbers.
func (s *Service) Restore(ctx context.Context, deliveries []Delivery) error {
	if len(deliveries) == 0 {
		return nil
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, d := range deliveries {
			_, err := tx.GetForUpdate(ctx, d.ID)
			if err == nil {
				continue
			}
			if !errors.Is(err, ErrDeliveryNotFound) {
				return err
			}
			if err := tx.InsertWithID(ctx, d); err != nil {
				return err
			}
		}
		return nil
	})
}
