package sales

import (
	"context"
	"fmt"

	"github.com/odyssey-erp/backoffice/internal/inventory"
	"github.com/odyssey-erp/backoffice/internal/money"
	"github.com/odyssey-erp/backoffice/internal/points"
	"github.com/odyssey-erp/backoffice/internal/saga"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// ConvertSaleItemToStoreCredit credits the customer with part or all of a line's net
// value. With RefundInventory the delivered units go back on the shelf and units still
// pending on the draft delivery are withdrawn from it.
func (s *Service) ConvertSaleItemToStoreCredit(ctx context.Context, input ConvertInput) (ConversionResult, error) {
	item, err := s.repo.GetItem(ctx, input.SaleItemID)
	if err != nil {
		return ConversionResult{}, err
	}
	release, err := s.lockSale(ctx, item.SaleID)
	if err != nil {
		return ConversionResult{}, err
	}
	defer release()
	releaseItem, err := s.locker.Obtain(ctx, shared.SaleItemLockKey(item.ID))
	if err != nil {
		return ConversionResult{}, err
	}
	defer releaseItem()

	sale, err := s.repo.Get(ctx, item.SaleID)
	if err != nil {
		return ConversionResult{}, err
	}
	if sale.CustomerID == 0 {
		return ConversionResult{}, ErrCustomerRequired
	}
	if sale.Status != StatusConfirmed {
		return ConversionResult{}, ErrNotConfirmed
	}
	idx := itemIndex(sale.Items, item.ID)
	if idx < 0 {
		return ConversionResult{}, ErrItemNotFound
	}
	item = sale.Items[idx]
	creditable := money.ClampZero(sale.NetShares()[idx].Sub(item.CreditedAmount))
	if !creditable.IsPositive() {
		return ConversionResult{}, fmt.Errorf("%w: item %d", ErrNothingToCredit, item.ID)
	}
	amount := creditable
	if input.Amount != nil {
		amount = money.Round(*input.Amount)
		if !amount.IsPositive() {
			return ConversionResult{}, shared.Invalid("amount", "must be positive")
		}
		if money.Exceeds(amount, creditable) {
			return ConversionResult{}, shared.Invalid("amount", fmt.Sprintf("%s exceeds creditable %s", amount, creditable))
		}
	}
	var returned, withdrawn int64
	if input.RefundInventory {
		returned = item.DeliveredQuantity
		pending, err := s.deliveries.Pending(ctx, sale.ID)
		if err != nil {
			return ConversionResult{}, err
		}
		withdrawn = pending[item.ID]
	}

	var credit points.CreditEntry
	steps := []saga.Step{{
		Name: "credit_store",
		Action: func(ctx context.Context) error {
			var err error
			credit, err = s.points.CreditStore(ctx, points.StoreCreditInput{
				CustomerID: sale.CustomerID,
				Amount:     amount,
				RefType:    points.RefSaleItem,
				RefID:      item.ID,
				Note:       fmt.Sprintf("%s item %d", sale.Number, item.ID),
			})
			return err
		},
		Compensate: func(ctx context.Context) error {
			_, err := s.points.CreditStore(ctx, points.StoreCreditInput{
				CustomerID: sale.CustomerID,
				Amount:     amount.Neg(),
				RefType:    points.RefSaleItem,
				RefID:      item.ID,
				Note:       "conversion rolled back",
			})
			return err
		},
	}}
	if returned > 0 {
		steps = append(steps, saga.Step{
			Name: "return_stock",
			Action: func(ctx context.Context) error {
				_, err := s.inventory.RecordInbound(ctx, inventory.InboundInput{
					ProductID: item.ProductID,
					Qty:       returned,
					UnitCost:  item.UnitCost,
					RefType:   inventory.RefReturn,
					RefID:     sale.ID,
					Memo:      fmt.Sprintf("%s item %d to store credit", sale.Number, item.ID),
				})
				return err
			},
			Compensate: func(ctx context.Context) error {
				_, err := s.inventory.RecordOutbound(ctx, inventory.OutboundInput{
					ProductID: item.ProductID,
					Qty:       returned,
					RefType:   inventory.RefDelivery,
					RefID:     sale.ID,
					Memo:      "conversion rolled back",
				})
				return err
			},
		})
	}
	if withdrawn > 0 {
		steps = append(steps, saga.Step{
			Name: "withdraw_draft",
			Action: func(ctx context.Context) error {
				return s.deliveries.AdjustDraft(ctx, sale.ID, item.ID, -withdrawn)
			},
			Compensate: func(ctx context.Context) error {
				return s.deliveries.AdjustDraft(ctx, sale.ID, item.ID, withdrawn)
			},
		})
	}
	steps = append(steps, saga.Step{
		Name: "update_item",
		Action: func(ctx context.Context) error {
			item.CreditedAmount = item.CreditedAmount.Add(amount)
			item.DeliveredQuantity -= returned
			return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
				return tx.UpdateItem(ctx, item)
			})
		},
	})

	if err := s.runner.Run(ctx, "convert_store_credit", steps...); err != nil {
		return ConversionResult{}, err
	}
	balance, err := s.points.StoreCreditBalance(ctx, sale.CustomerID)
	if err != nil {
		s.logger.Warn("store credit balance", "customer_id", sale.CustomerID, "error", err)
		balance = credit.BalanceAfter
	}
	s.record(ctx, "sale:store_credit", sale, map[string]any{"item_id": item.ID, "amount": amount.String(), "returned": returned, "withdrawn": withdrawn})
	return ConversionResult{Item: item, Credit: credit, ReturnedUnits: returned, WithdrawnUnits: withdrawn, StoreCredit: balance}, nil
}
