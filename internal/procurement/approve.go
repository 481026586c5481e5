package procurement

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/cash"
	"github.com/odyssey-erp/backoffice/internal/inventory"
	"github.com/odyssey-erp/backoffice/internal/money"
	"github.com/odyssey-erp/backoffice/internal/partner"
	"github.com/odyssey-erp/backoffice/internal/saga"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// receiptPlan resolves the quantity received per item index. No lines means every item
// arrives in full.
func receiptPlan(items []Item, lines []ReceiveLine) (map[int]int64, error) {
	plan := make(map[int]int64, len(items))
	if len(lines) == 0 {
		for i, it := range items {
			plan[i] = it.Quantity
		}
		return plan, nil
	}
	for _, l := range lines {
		idx := itemIndex(items, l.PurchaseItemID)
		if idx < 0 {
			return nil, fmt.Errorf("%w: %d", ErrItemNotFound, l.PurchaseItemID)
		}
		if l.Quantity <= 0 {
			return nil, shared.Invalid("quantity", fmt.Sprintf("item %d: must be positive", l.PurchaseItemID))
		}
		plan[idx] += l.Quantity
		if plan[idx] > items[idx].Quantity {
			return nil, fmt.Errorf("%w: item %d ordered %d, receiving %d", ErrOverReceived, l.PurchaseItemID, items[idx].Quantity, plan[idx])
		}
	}
	return plan, nil
}

// ApprovePurchase moves a pending purchase to approved. Received lines enter stock at
// their unit cost and recost the product, optional tranches pay the vendor, and the
// unpaid remainder becomes payables apportioned per item. Any failure compensates.
func (s *Service) ApprovePurchase(ctx context.Context, purchaseID int64, lines []ReceiveLine, payments ...PaymentInput) (Result, error) {
	release, err := s.lockPurchase(ctx, purchaseID)
	if err != nil {
		return Result{}, err
	}
	defer release()

	purchase, err := s.repo.Get(ctx, purchaseID)
	if err != nil {
		return Result{}, err
	}
	if purchase.Status != StatusPending {
		return Result{}, fmt.Errorf("%w: %s is %s", ErrNotPending, purchase.Number, purchase.Status)
	}
	plan, err := receiptPlan(purchase.Items, lines)
	if err != nil {
		return Result{}, err
	}
	paid, err := validatePayments(payments, purchase.Total)
	if err != nil {
		return Result{}, err
	}
	unpaid := money.ClampZero(purchase.Total.Sub(paid))
	now := s.clock.Now()
	var warnings []shared.Warning

	steps := []saga.Step{{
		Name: "approve",
		Action: func(ctx context.Context) error {
			approved := purchase
			approved.Status = StatusApproved
			approved.ApprovedAt = &now
			approved.DueDate = now.AddDate(0, 0, s.cfg.DueDays)
			if err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
				current, err := tx.GetForUpdate(ctx, purchaseID)
				if err != nil {
					return err
				}
				if current.Status != StatusPending {
					return fmt.Errorf("%w: %s is %s", ErrNotPending, current.Number, current.Status)
				}
				return tx.UpdatePurchase(ctx, approved)
			}); err != nil {
				return err
			}
			purchase = approved
			return nil
		},
		Compensate: func(ctx context.Context) error {
			reverted := purchase
			reverted.Status = StatusPending
			reverted.ApprovedAt = nil
			return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
				return tx.UpdatePurchase(ctx, reverted)
			})
		},
	}}

	for idx := range purchase.Items {
		qty := plan[idx]
		if qty == 0 {
			continue
		}
		steps = append(steps, s.receiveStep(&purchase, idx, qty))
	}

	for n, p := range payments {
		steps = append(steps, s.paymentStep(&purchase, n, p, &warnings))
	}

	if unpaid.IsPositive() {
		steps = append(steps, saga.Step{
			Name: "open_payables",
			Action: func(ctx context.Context) error {
				return s.openPayables(ctx, purchase, unpaid)
			},
			Compensate: func(ctx context.Context) error {
				_, err := s.partners.DeleteByDocument(ctx, partner.DocumentPurchase, purchase.ID)
				return err
			},
		})
	}

	steps = append(steps, saga.Step{
		Name: "finalize",
		Action: func(ctx context.Context) error {
			final := purchase
			final.PaidAmount = paid
			final.IsPaid = !unpaid.IsPositive()
			if err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
				return tx.UpdatePurchase(ctx, final)
			}); err != nil {
				return err
			}
			purchase = final
			return nil
		},
	})

	if err := s.runner.Run(ctx, "approve_purchase", steps...); err != nil {
		return Result{}, err
	}
	s.record(ctx, "purchase:approve", purchase, map[string]any{"received_lines": len(plan), "tranches": len(payments)})
	return Result{Purchase: purchase, Warnings: warnings}, nil
}

// receiveStep books qty units of the item at idx into stock and records the received
// quantity on the item in the same step.
func (s *Service) receiveStep(purchase *Purchase, idx int, qty int64) saga.Step {
	received := false
	return saga.Step{
		Name: fmt.Sprintf("receive:%d", purchase.Items[idx].ID),
		Action: func(ctx context.Context) error {
			it := purchase.Items[idx]
			if _, err := s.inventory.RecordInbound(ctx, inventory.InboundInput{
				ProductID: it.ProductID,
				Qty:       qty,
				UnitCost:  it.UnitCost,
				RefType:   inventory.RefPurchase,
				RefID:     purchase.ID,
				Memo:      purchase.Number,
			}); err != nil {
				return err
			}
			received = true
			it.ReceivedQuantity += qty
			if err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
				return tx.UpdateItem(ctx, it)
			}); err != nil {
				return s.unreceive(ctx, purchase, idx, qty, err)
			}
			purchase.Items[idx] = it
			return nil
		},
		Compensate: func(ctx context.Context) error {
			if !received {
				return nil
			}
			it := purchase.Items[idx]
			if _, err := s.inventory.ReverseInbound(ctx, inventory.ReversalInput{
				ProductID: it.ProductID,
				Qty:       qty,
				UnitCost:  it.UnitCost,
				RefType:   inventory.RefPurchase,
				RefID:     purchase.ID,
				Memo:      fmt.Sprintf("%s approval rolled back", purchase.Number),
			}); err != nil {
				return err
			}
			it.ReceivedQuantity -= qty
			purchase.Items[idx] = it
			return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
				return tx.UpdateItem(ctx, it)
			})
		},
	}
}

// unreceive takes back a movement whose item update failed so the step stays whole.
func (s *Service) unreceive(ctx context.Context, purchase *Purchase, idx int, qty int64, cause error) error {
	it := purchase.Items[idx]
	_, err := s.inventory.ReverseInbound(context.WithoutCancel(ctx), inventory.ReversalInput{
		ProductID: it.ProductID,
		Qty:       qty,
		UnitCost:  it.UnitCost,
		RefType:   inventory.RefPurchase,
		RefID:     purchase.ID,
		Memo:      "item update failed",
	})
	if err != nil {
		return fmt.Errorf("%w (stock reversal: %v)", cause, err)
	}
	return cause
}

// paymentStep pays one vendor tranche. An unresolved payment method becomes a warning.
func (s *Service) paymentStep(purchase *Purchase, n int, input PaymentInput, warnings *[]shared.Warning) saga.Step {
	var (
		txID    int64
		payment Payment
	)
	return saga.Step{
		Name: fmt.Sprintf("payment:%d", n),
		Action: func(ctx context.Context) error {
			amount := money.Round(input.Amount)
			res, err := s.cash.AdjustBalance(ctx, cash.AdjustInput{
				AccountID: input.CashAccountID,
				Method:    input.Method,
				Amount:    amount,
				Direction: cash.Decrease,
				TxType:    cash.TxPurchasePayment,
				RefID:     purchase.ID,
				Note:      fmt.Sprintf("purchase %s", purchase.Number),
			})
			if err != nil {
				return err
			}
			record := Payment{PurchaseID: purchase.ID, Method: strings.TrimSpace(input.Method), Amount: amount}
			if res.Warning != nil {
				*warnings = append(*warnings, *res.Warning)
			} else {
				txID = res.Transaction.ID
				record.CashAccountID = res.Transaction.AccountID
				record.CashTransactionID = txID
			}
			err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
				var err error
				payment, err = tx.InsertPayment(ctx, record)
				return err
			})
			if err != nil && txID != 0 {
				if _, rerr := s.cash.Reverse(context.WithoutCancel(ctx), txID, "payment record failed"); rerr != nil {
					return fmt.Errorf("%w (cash reversal: %v)", err, rerr)
				}
				txID = 0
			}
			if err == nil {
				purchase.Payments = append(purchase.Payments, payment)
			}
			return err
		},
		Compensate: func(ctx context.Context) error {
			if txID != 0 {
				if _, err := s.cash.Reverse(ctx, txID, fmt.Sprintf("purchase %s rolled back", purchase.Number)); err != nil {
					return err
				}
			}
			return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
				return tx.DeletePayment(ctx, payment.ID)
			})
		},
	}
}

// openPayables opens one AP line per item for the unpaid remainder, apportioned by
// item subtotal. Lines opened before a failure are removed again.
func (s *Service) openPayables(ctx context.Context, purchase Purchase, unpaid decimal.Decimal) error {
	weights := make([]decimal.Decimal, len(purchase.Items))
	for i, it := range purchase.Items {
		weights[i] = it.Subtotal
	}
	shares := money.Apportion(unpaid, weights)
	due := purchase.DueDate
	if due.IsZero() {
		due = s.clock.Now().Add(time.Duration(s.cfg.DueDays) * 24 * time.Hour)
	}
	for i, it := range purchase.Items {
		if !shares[i].IsPositive() {
			continue
		}
		_, err := s.partners.OpenAccount(ctx, partner.OpenInput{
			PartnerType:  partner.PartnerVendor,
			PartnerID:    purchase.VendorID,
			Direction:    partner.DirectionAP,
			RefType:      partner.RefPurchaseItem,
			RefID:        it.ID,
			DocumentType: partner.DocumentPurchase,
			DocumentID:   purchase.ID,
			Amount:       shares[i],
			DueDate:      due,
		})
		if err != nil {
			if _, derr := s.partners.DeleteByDocument(context.WithoutCancel(ctx), partner.DocumentPurchase, purchase.ID); derr != nil {
				return fmt.Errorf("%w (cleanup: %v)", err, derr)
			}
			return err
		}
	}
	return nil
}
