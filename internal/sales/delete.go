package sales

import (
	"context"
	"fmt"

	"github.com/odyssey-erp/backoffice/internal/cash"
	"github.com/odyssey-erp/backoffice/internal/delivery"
	"github.com/odyssey-erp/backoffice/internal/inventory"
	"github.com/odyssey-erp/backoffice/internal/partner"
	"github.com/odyssey-erp/backoffice/internal/saga"
)

// DeleteSale reverses every side effect of a sale: receivables, delivered stock, prize
// deductions, deliveries, cash tranches, the sale itself and finally its points.
// Sales with settled receivables or store-credit conversions cannot be deleted.
func (s *Service) DeleteSale(ctx context.Context, saleID int64) error {
	release, err := s.lockSale(ctx, saleID)
	if err != nil {
		return err
	}
	defer release()

	sale, err := s.repo.Get(ctx, saleID)
	if err != nil {
		return err
	}
	for _, it := range sale.Items {
		if it.CreditedAmount.IsPositive() {
			return fmt.Errorf("%w: item %d credited %s", ErrCredited, it.ID, it.CreditedAmount)
		}
	}
	accounts, err := s.partners.ListByDocument(ctx, partner.DocumentSale, saleID)
	if err != nil {
		return err
	}
	for _, acc := range accounts {
		if acc.Settled.IsPositive() {
			return fmt.Errorf("%w: account %d settled %s", partner.ErrHasSettlements, acc.ID, acc.Settled)
		}
	}

	snapshot := sale
	snapshot.Payments = append([]Payment(nil), sale.Payments...)
	var (
		removedAccounts   []partner.Account
		removedDeliveries []delivery.Delivery
	)
	steps := []saga.Step{{
		Name: "delete_receivables",
		Action: func(ctx context.Context) error {
			var err error
			removedAccounts, err = s.partners.DeleteByDocument(ctx, partner.DocumentSale, saleID)
			return err
		},
		Compensate: func(ctx context.Context) error {
			return s.partners.Restore(ctx, removedAccounts)
		},
	}}

	for _, it := range sale.Items {
		if it.DeliveredQuantity <= 0 {
			continue
		}
		steps = append(steps, saga.Step{
			Name: fmt.Sprintf("return_stock:%d", it.ID),
			Action: func(ctx context.Context) error {
				_, err := s.inventory.RecordInbound(ctx, inventory.InboundInput{
					ProductID: it.ProductID,
					Qty:       it.DeliveredQuantity,
					UnitCost:  it.UnitCost,
					RefType:   inventory.RefReturn,
					RefID:     saleID,
					Memo:      fmt.Sprintf("%s deleted", sale.Number),
				})
				return err
			},
			Compensate: func(ctx context.Context) error {
				_, err := s.inventory.RecordOutbound(ctx, inventory.OutboundInput{
					ProductID: it.ProductID,
					Qty:       it.DeliveredQuantity,
					RefType:   inventory.RefDelivery,
					RefID:     saleID,
					Memo:      fmt.Sprintf("%s delete rolled back", sale.Number),
				})
				return err
			},
		})
	}

	for _, it := range sale.Items {
		if it.PrizePoolID == 0 {
			continue
		}
		steps = append(steps, saga.Step{
			Name: fmt.Sprintf("restore_prize:%d", it.ID),
			Action: func(ctx context.Context) error {
				_, err := s.prizes.Restore(ctx, it.PrizePoolID, it.Quantity)
				return err
			},
			Compensate: func(ctx context.Context) error {
				_, err := s.prizes.Deduct(ctx, it.PrizePoolID, it.Quantity)
				return err
			},
		})
	}

	steps = append(steps, saga.Step{
		Name: "delete_deliveries",
		Action: func(ctx context.Context) error {
			var err error
			removedDeliveries, err = s.deliveries.DeleteBySale(ctx, saleID)
			return err
		},
		Compensate: func(ctx context.Context) error {
			return s.deliveries.Restore(ctx, removedDeliveries)
		},
	})

	for i := range snapshot.Payments {
		p := snapshot.Payments[i]
		if p.CashTransactionID == 0 {
			continue
		}
		steps = append(steps, saga.Step{
			Name: fmt.Sprintf("reverse_payment:%d", p.ID),
			Action: func(ctx context.Context) error {
				_, err := s.cash.Reverse(ctx, p.CashTransactionID, fmt.Sprintf("%s deleted", sale.Number))
				return err
			},
			// A reversal cannot be reversed, so the tranche is booked again and the
			// payment row is pointed at the new transaction.
			Compensate: func(ctx context.Context) error {
				res, err := s.cash.AdjustBalance(ctx, cash.AdjustInput{
					AccountID: p.CashAccountID,
					Amount:    p.Amount,
					Direction: cash.Increase,
					TxType:    cash.TxSalePayment,
					RefID:     saleID,
					Note:      fmt.Sprintf("%s delete rolled back", sale.Number),
				})
				if err != nil {
					return err
				}
				snapshot.Payments[i].CashTransactionID = res.Transaction.ID
				return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
					if _, err := tx.GetForUpdate(ctx, saleID); err != nil {
						return nil
					}
					return tx.SetPaymentTransaction(ctx, p.ID, res.Transaction.ID)
				})
			},
		})
	}

	steps = append(steps, saga.Step{
		Name: "delete_sale",
		Action: func(ctx context.Context) error {
			return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
				return tx.DeleteSale(ctx, saleID)
			})
		},
		Compensate: func(ctx context.Context) error {
			return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
				return tx.RestoreSale(ctx, snapshot)
			})
		},
	})

	if sale.ProgramID != 0 && sale.CustomerID != 0 {
		steps = append(steps, saga.Step{
			Name: "reverse_points",
			Action: func(ctx context.Context) error {
				_, err := s.points.ReverseAccrual(ctx, sale.CustomerID, sale.ProgramID, saleID)
				return err
			},
		})
	}

	if err := s.runner.Run(ctx, "delete_sale", steps...); err != nil {
		return err
	}
	s.record(ctx, "sale:delete", sale, map[string]any{"receivables": len(removedAccounts), "deliveries": len(removedDeliveries)})
	return nil
}
