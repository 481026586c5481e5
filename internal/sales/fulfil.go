package sales

import (
	"context"
	"fmt"

	"github.com/odyssey-erp/backoffice/internal/delivery"
	"github.com/odyssey-erp/backoffice/internal/saga"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// DeliverItems hands over units still pending on the sale's draft delivery. The goods
// leave on a new completed delivery with one outbound movement per line.
func (s *Service) DeliverItems(ctx context.Context, saleID int64, lines []DeliverLine) (Result, error) {
	if len(lines) == 0 {
		return Result{}, shared.Invalid("lines", "at least one line required")
	}
	release, err := s.lockSale(ctx, saleID)
	if err != nil {
		return Result{}, err
	}
	defer release()

	sale, err := s.repo.Get(ctx, saleID)
	if err != nil {
		return Result{}, err
	}
	if sale.Status != StatusConfirmed {
		return Result{}, ErrNotConfirmed
	}
	pending, err := s.deliveries.Pending(ctx, saleID)
	if err != nil {
		return Result{}, err
	}
	requested := make(map[int64]int64)
	for _, l := range lines {
		if l.Quantity <= 0 {
			return Result{}, shared.Invalid("quantity", fmt.Sprintf("item %d: must be positive", l.SaleItemID))
		}
		if itemIndex(sale.Items, l.SaleItemID) < 0 {
			return Result{}, fmt.Errorf("%w: %d on sale %d", ErrItemNotFound, l.SaleItemID, saleID)
		}
		requested[l.SaleItemID] += l.Quantity
		if requested[l.SaleItemID] > pending[l.SaleItemID] {
			return Result{}, fmt.Errorf("%w: item %d pending %d", delivery.ErrNothingPending, l.SaleItemID, pending[l.SaleItemID])
		}
	}

	var doc delivery.Delivery
	steps := []saga.Step{{
		Name: "complete_delivery",
		Action: func(ctx context.Context) error {
			input := delivery.CreateInput{SaleID: saleID, Status: delivery.StatusCompleted}
			for _, l := range lines {
				it := sale.Items[itemIndex(sale.Items, l.SaleItemID)]
				input.Items = append(input.Items, delivery.ItemInput{SaleItemID: it.ID, ProductID: it.ProductID, Quantity: l.Quantity})
			}
			var err error
			doc, err = s.deliveries.Create(ctx, input)
			return err
		},
		Compensate: func(ctx context.Context) error {
			if doc.ID == 0 {
				return nil
			}
			return s.deliveries.Delete(ctx, doc.ID)
		},
	}}
	for _, l := range lines {
		steps = append(steps, s.outboundStep(&sale, itemIndex(sale.Items, l.SaleItemID), l.Quantity))
		steps = append(steps, saga.Step{
			Name: fmt.Sprintf("release_draft:%d", l.SaleItemID),
			Action: func(ctx context.Context) error {
				return s.deliveries.AdjustDraft(ctx, saleID, l.SaleItemID, -l.Quantity)
			},
			Compensate: func(ctx context.Context) error {
				return s.deliveries.AdjustDraft(ctx, saleID, l.SaleItemID, l.Quantity)
			},
		})
	}
	steps = append(steps, saga.Step{
		Name: "fulfillment",
		Action: func(ctx context.Context) error {
			sale.FulfillmentStatus = fulfillmentOf(sale.Items)
			return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
				for _, it := range sale.Items {
					if err := tx.UpdateItem(ctx, it); err != nil {
						return err
					}
				}
				return tx.UpdateSale(ctx, sale)
			})
		},
	})

	if err := s.runner.Run(ctx, "deliver_items", steps...); err != nil {
		return Result{}, err
	}
	s.record(ctx, "sale:deliver", sale, map[string]any{"delivery": doc.Number, "fulfillment": string(sale.FulfillmentStatus)})
	return Result{Sale: sale}, nil
}
