package procurement

import (
	"context"
	"fmt"

	"github.com/odyssey-erp/backoffice/internal/cash"
	"github.com/odyssey-erp/backoffice/internal/inventory"
	"github.com/odyssey-erp/backoffice/internal/partner"
	"github.com/odyssey-erp/backoffice/internal/saga"
)

// DeletePurchase unwinds an approved purchase: payables, received stock at the item unit
// cost, vendor payments, then the purchase itself. Pending and cancelled purchases are
// simply removed. Purchases with settled payables cannot be deleted.
func (s *Service) DeletePurchase(ctx context.Context, purchaseID int64) error {
	release, err := s.lockPurchase(ctx, purchaseID)
	if err != nil {
		return err
	}
	defer release()

	purchase, err := s.repo.Get(ctx, purchaseID)
	if err != nil {
		return err
	}
	accounts, err := s.partners.ListByDocument(ctx, partner.DocumentPurchase, purchaseID)
	if err != nil {
		return err
	}
	for _, acc := range accounts {
		if acc.Settled.IsPositive() {
			return fmt.Errorf("%w: account %d settled %s", partner.ErrHasSettlements, acc.ID, acc.Settled)
		}
	}

	snapshot := purchase
	snapshot.Payments = append([]Payment(nil), purchase.Payments...)
	var removed []partner.Account
	steps := []saga.Step{{
		Name: "delete_payables",
		Action: func(ctx context.Context) error {
			var err error
			removed, err = s.partners.DeleteByDocument(ctx, partner.DocumentPurchase, purchaseID)
			return err
		},
		Compensate: func(ctx context.Context) error {
			return s.partners.Restore(ctx, removed)
		},
	}}

	for _, it := range purchase.Items {
		if it.ReceivedQuantity <= 0 {
			continue
		}
		steps = append(steps, saga.Step{
			Name: fmt.Sprintf("reverse_receipt:%d", it.ID),
			Action: func(ctx context.Context) error {
				_, err := s.inventory.ReverseInbound(ctx, inventory.ReversalInput{
					ProductID: it.ProductID,
					Qty:       it.ReceivedQuantity,
					UnitCost:  it.UnitCost,
					RefType:   inventory.RefPurchase,
					RefID:     purchaseID,
					Memo:      fmt.Sprintf("%s deleted", purchase.Number),
				})
				return err
			},
			Compensate: func(ctx context.Context) error {
				_, err := s.inventory.RecordInbound(ctx, inventory.InboundInput{
					ProductID: it.ProductID,
					Qty:       it.ReceivedQuantity,
					UnitCost:  it.UnitCost,
					RefType:   inventory.RefPurchase,
					RefID:     purchaseID,
					Memo:      fmt.Sprintf("%s delete rolled back", purchase.Number),
				})
				return err
			},
		})
	}

	for i := range snapshot.Payments {
		p := snapshot.Payments[i]
		if p.CashTransactionID == 0 {
			continue
		}
		steps = append(steps, saga.Step{
			Name: fmt.Sprintf("reverse_payment:%d", p.ID),
			Action: func(ctx context.Context) error {
				_, err := s.cash.Reverse(ctx, p.CashTransactionID, fmt.Sprintf("%s deleted", purchase.Number))
				return err
			},
			Compensate: func(ctx context.Context) error {
				res, err := s.cash.AdjustBalance(ctx, cash.AdjustInput{
					AccountID: p.CashAccountID,
					Amount:    p.Amount,
					Direction: cash.Decrease,
					TxType:    cash.TxPurchasePayment,
					RefID:     purchaseID,
					Note:      fmt.Sprintf("%s delete rolled back", purchase.Number),
				})
				if err != nil {
					return err
				}
				snapshot.Payments[i].CashTransactionID = res.Transaction.ID
				return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
					if _, err := tx.GetForUpdate(ctx, purchaseID); err != nil {
						return nil
					}
					return tx.SetPaymentTransaction(ctx, p.ID, res.Transaction.ID)
				})
			},
		})
	}

	steps = append(steps, saga.Step{
		Name: "delete_purchase",
		Action: func(ctx context.Context) error {
			return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
				return tx.DeletePurchase(ctx, purchaseID)
			})
		},
		Compensate: func(ctx context.Context) error {
			return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
				return tx.RestorePurchase(ctx, snapshot)
			})
		},
	})

	if err := s.runner.Run(ctx, "delete_purchase", steps...); err != nil {
		return err
	}
	s.record(ctx, "purchase:delete", purchase, map[string]any{"payables": len(removed)})
	return nil
}
