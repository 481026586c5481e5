package sales

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/backoffice/internal/cash"
	"github.com/odyssey-erp/backoffice/internal/delivery"
	"github.com/odyssey-erp/backoffice/internal/inventory"
	"github.com/odyssey-erp/backoffice/internal/money"
	"github.com/odyssey-erp/backoffice/internal/numbering"
	"github.com/odyssey-erp/backoffice/internal/partner"
	"github.com/odyssey-erp/backoffice/internal/points"
	"github.com/odyssey-erp/backoffice/internal/saga"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

var hundred = decimal.NewFromInt(100)

type saleTotals struct {
	subtotals []decimal.Decimal
	subtotal  decimal.Decimal
	discount  decimal.Decimal
	total     decimal.Decimal
	paid      decimal.Decimal
	unpaid    decimal.Decimal
}

// validateDraft rejects malformed drafts before anything is written.
func validateDraft(draft Draft) (saleTotals, error) {
	var t saleTotals
	if len(draft.Items) == 0 {
		return t, shared.Invalid("items", "at least one item required")
	}
	if draft.DiscountPercent.IsNegative() || draft.DiscountPercent.GreaterThan(hundred) {
		return t, shared.Invalid("discount_percent", "must be between 0 and 100")
	}
	if draft.ProgramID != 0 && draft.CustomerID == 0 {
		return t, fmt.Errorf("%w: points program attached", ErrCustomerRequired)
	}
	t.subtotals = make([]decimal.Decimal, len(draft.Items))
	for i, it := range draft.Items {
		if it.ProductID == 0 {
			return t, shared.Invalid("product_id", fmt.Sprintf("item %d: required", i))
		}
		if it.Quantity <= 0 {
			return t, shared.Invalid("quantity", fmt.Sprintf("item %d: must be positive", i))
		}
		if it.UnitPrice.IsNegative() {
			return t, shared.Invalid("unit_price", fmt.Sprintf("item %d: must not be negative", i))
		}
		t.subtotals[i] = money.Round(it.UnitPrice.Mul(decimal.NewFromInt(it.Quantity)))
	}
	t.subtotal = money.Sum(t.subtotals...)
	t.discount = money.Round(t.subtotal.Mul(draft.DiscountPercent).Div(hundred))
	t.total = t.subtotal.Sub(t.discount)

	t.paid = decimal.Zero
	for i, p := range draft.Payments {
		amount := money.Round(p.Amount)
		if !amount.IsPositive() {
			return t, shared.Invalid("payments", fmt.Sprintf("tranche %d: amount must be positive", i))
		}
		if strings.TrimSpace(p.Method) == "" && p.CashAccountID == 0 {
			return t, shared.Invalid("payments", fmt.Sprintf("tranche %d: method or cash account required", i))
		}
		t.paid = t.paid.Add(amount)
	}
	if money.Exceeds(t.paid, t.total) {
		return t, fmt.Errorf("%w: paid %s, total %s", ErrOverpaid, t.paid, t.total)
	}
	t.unpaid = money.ClampZero(t.total.Sub(t.paid))
	if t.unpaid.IsPositive() && draft.CustomerID == 0 {
		return t, shared.Invalid("customer_id", fmt.Sprintf("unpaid balance %s requires a customer", t.unpaid))
	}
	return t, nil
}

// checkAvailability runs the read-only stock and prize checks concurrently and returns
// the products keyed by id. Quantities are summed per product and per pool first.
func (s *Service) checkAvailability(ctx context.Context, items []DraftItem) (map[int64]inventory.Product, error) {
	perProduct := make(map[int64]int64)
	perPool := make(map[int64]int64)
	for _, it := range items {
		perProduct[it.ProductID] += it.Quantity
		if it.PrizePoolID != 0 {
			perPool[it.PrizePoolID] += it.Quantity
		}
	}
	var mu sync.Mutex
	products := make(map[int64]inventory.Product, len(perProduct))
	g, gctx := errgroup.WithContext(ctx)
	for productID, qty := range perProduct {
		g.Go(func() error {
			p, err := s.inventory.GetProduct(gctx, productID)
			if err != nil {
				return err
			}
			if err := s.inventory.CheckAvailability(gctx, productID, qty); err != nil {
				return err
			}
			mu.Lock()
			products[productID] = p
			mu.Unlock()
			return nil
		})
	}
	for poolID, qty := range perPool {
		g.Go(func() error {
			return s.prizes.CheckAvailable(gctx, poolID, qty)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return products, nil
}

// CreateSale runs the sale saga: header, availability, items, confirmation, prize
// deductions, deliveries, cash tranches, receivables and points. Any failure compensates
// the completed steps in reverse order.
func (s *Service) CreateSale(ctx context.Context, draft Draft) (Result, error) {
	totals, err := validateDraft(draft)
	if err != nil {
		return Result{}, err
	}
	now := s.clock.Now()
	sale := Sale{
		CustomerID:        draft.CustomerID,
		ProgramID:         draft.ProgramID,
		Status:            StatusDraft,
		FulfillmentStatus: FulfillmentNone,
		Subtotal:          decimal.Zero,
		DiscountPercent:   draft.DiscountPercent,
		DiscountAmount:    decimal.Zero,
		Total:             decimal.Zero,
		PaidAmount:        decimal.Zero,
		DueDate:           now.AddDate(0, 0, s.cfg.DueDays),
		Note:              draft.Note,
		CreatedAt:         now,
	}
	var (
		products map[int64]inventory.Product
		warnings []shared.Warning
		earned   int64
	)

	steps := []saga.Step{
		{
			Name: "insert_sale",
			Action: func(ctx context.Context) error {
				_, err := numbering.Assign(ctx, s.numbers, numbering.PrefixSale, func(ctx context.Context, number string) error {
					candidate := sale
					candidate.Number = number
					return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
						stored, err := tx.InsertSale(ctx, candidate)
						if err != nil {
							return err
						}
						sale = stored
						return nil
					})
				})
				return err
			},
			Compensate: func(ctx context.Context) error {
				if sale.ID == 0 {
					return nil
				}
				return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
					return tx.DeleteSale(ctx, sale.ID)
				})
			},
		},
		{
			Name: "check_availability",
			Action: func(ctx context.Context) error {
				var err error
				products, err = s.checkAvailability(ctx, draft.Items)
				return err
			},
		},
		{
			Name: "insert_items",
			Action: func(ctx context.Context) error {
				items := make([]Item, len(draft.Items))
				for i, it := range draft.Items {
					p := products[it.ProductID]
					items[i] = Item{
						ProductID:      it.ProductID,
						PrizePoolID:    it.PrizePoolID,
						ProductName:    p.Name,
						UnitPrice:      it.UnitPrice,
						UnitCost:       p.SnapshotCost(),
						Quantity:       it.Quantity,
						Subtotal:       totals.subtotals[i],
						CreditedAmount: decimal.Zero,
					}
				}
				return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
					stored, err := tx.InsertItems(ctx, sale.ID, items)
					if err != nil {
						return err
					}
					sale.Items = stored
					return nil
				})
			},
			Compensate: func(ctx context.Context) error {
				return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
					return tx.DeleteItems(ctx, sale.ID)
				})
			},
		},
		{
			Name: "confirm",
			Action: func(ctx context.Context) error {
				confirmed := sale
				confirmed.Subtotal = totals.subtotal
				confirmed.DiscountAmount = totals.discount
				confirmed.Total = totals.total
				confirmed.Status = StatusConfirmed
				if err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
					return tx.UpdateSale(ctx, confirmed)
				}); err != nil {
					return err
				}
				sale = confirmed
				return nil
			},
			Compensate: func(ctx context.Context) error {
				reverted := sale
				reverted.Status = StatusDraft
				return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
					return tx.UpdateSale(ctx, reverted)
				})
			},
		},
	}

	for i := range draft.Items {
		if draft.Items[i].PrizePoolID == 0 {
			continue
		}
		idx := i
		steps = append(steps, saga.Step{
			Name: fmt.Sprintf("deduct_prize:%d", idx),
			Action: func(ctx context.Context) error {
				it := sale.Items[idx]
				_, err := s.prizes.Deduct(ctx, it.PrizePoolID, it.Quantity)
				return err
			},
			Compensate: func(ctx context.Context) error {
				it := sale.Items[idx]
				_, err := s.prizes.Restore(ctx, it.PrizePoolID, it.Quantity)
				return err
			},
		})
	}

	steps = append(steps, s.deliverySteps(&sale, draft.Items)...)

	for i := range draft.Payments {
		steps = append(steps, s.paymentStep(&sale, i, draft.Payments[i], &warnings))
	}

	if totals.unpaid.IsPositive() {
		steps = append(steps, saga.Step{
			Name: "open_receivables",
			Action: func(ctx context.Context) error {
				return s.openReceivables(ctx, sale, totals.unpaid)
			},
			Compensate: func(ctx context.Context) error {
				_, err := s.partners.DeleteByDocument(ctx, partner.DocumentSale, sale.ID)
				return err
			},
		})
	}

	if draft.ProgramID != 0 {
		steps = append(steps, saga.Step{
			Name: "accrue_points",
			Action: func(ctx context.Context) error {
				var err error
				earned, err = s.points.Accrue(ctx, points.AccrueInput{
					CustomerID: sale.CustomerID,
					ProgramID:  sale.ProgramID,
					SaleTotal:  sale.Total,
					RefID:      sale.ID,
				})
				return err
			},
			Compensate: func(ctx context.Context) error {
				_, err := s.points.ReverseAccrual(ctx, sale.CustomerID, sale.ProgramID, sale.ID)
				return err
			},
		})
	}

	steps = append(steps, saga.Step{
		Name: "finalize",
		Action: func(ctx context.Context) error {
			final := sale
			final.PaidAmount = totals.paid
			final.IsPaid = !totals.unpaid.IsPositive()
			final.FulfillmentStatus = fulfillmentOf(final.Items)
			if err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
				for _, it := range final.Items {
					if it.DeliveredQuantity == 0 {
						continue
					}
					if err := tx.UpdateItem(ctx, it); err != nil {
						return err
					}
				}
				return tx.UpdateSale(ctx, final)
			}); err != nil {
				return err
			}
			sale = final
			return nil
		},
	})

	if err := s.runner.Run(ctx, "create_sale", steps...); err != nil {
		return Result{}, err
	}
	s.record(ctx, "sale:create", sale, map[string]any{"items": len(sale.Items), "points": earned})
	return Result{Sale: sale, PointsEarned: earned, Warnings: warnings}, nil
}

// deliverySteps hands over DeliverNow lines on a completed delivery with one outbound
// movement each, and parks the rest on a draft delivery without stock effect.
func (s *Service) deliverySteps(sale *Sale, items []DraftItem) []saga.Step {
	var now, later []int
	for i, it := range items {
		if it.DeliverNow {
			now = append(now, i)
		} else {
			later = append(later, i)
		}
	}
	var steps []saga.Step
	if len(now) > 0 {
		var doc delivery.Delivery
		steps = append(steps, saga.Step{
			Name: "complete_delivery",
			Action: func(ctx context.Context) error {
				input := delivery.CreateInput{SaleID: sale.ID, Status: delivery.StatusCompleted}
				for _, idx := range now {
					it := sale.Items[idx]
					input.Items = append(input.Items, delivery.ItemInput{SaleItemID: it.ID, ProductID: it.ProductID, Quantity: it.Quantity})
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
		})
		for _, idx := range now {
			steps = append(steps, s.outboundStep(sale, idx, items[idx].Quantity))
		}
	}
	if len(later) > 0 {
		var doc delivery.Delivery
		steps = append(steps, saga.Step{
			Name: "draft_delivery",
			Action: func(ctx context.Context) error {
				input := delivery.CreateInput{SaleID: sale.ID, Status: delivery.StatusDraft}
				for _, idx := range later {
					it := sale.Items[idx]
					input.Items = append(input.Items, delivery.ItemInput{SaleItemID: it.ID, ProductID: it.ProductID, Quantity: it.Quantity})
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
		})
	}
	return steps
}

// outboundStep removes qty units of the line at idx. The compensation returns them at the
// cost the product carried before the movement so the average is unchanged.
func (s *Service) outboundStep(sale *Sale, idx int, qty int64) saga.Step {
	var mv inventory.Movement
	return saga.Step{
		Name: fmt.Sprintf("outbound:%d", idx),
		Action: func(ctx context.Context) error {
			it := sale.Items[idx]
			var err error
			mv, err = s.inventory.RecordOutbound(ctx, inventory.OutboundInput{
				ProductID: it.ProductID,
				Qty:       qty,
				RefType:   inventory.RefDelivery,
				RefID:     sale.ID,
				Memo:      sale.Number,
			})
			if err != nil {
				return err
			}
			sale.Items[idx].DeliveredQuantity += qty
			return nil
		},
		Compensate: func(ctx context.Context) error {
			it := sale.Items[idx]
			_, err := s.inventory.RecordInbound(ctx, inventory.InboundInput{
				ProductID: it.ProductID,
				Qty:       qty,
				UnitCost:  mv.CostBefore,
				RefType:   inventory.RefReturn,
				RefID:     sale.ID,
				Memo:      fmt.Sprintf("%s rolled back", sale.Number),
			})
			if err == nil {
				sale.Items[idx].DeliveredQuantity -= qty
			}
			return err
		},
	}
}

// paymentStep books one tranche. An unresolved payment method becomes a warning and
// flags the sale instead of failing it.
func (s *Service) paymentStep(sale *Sale, n int, input PaymentInput, warnings *[]shared.Warning) saga.Step {
	var txID int64
	return saga.Step{
		Name: fmt.Sprintf("payment:%d", n),
		Action: func(ctx context.Context) error {
			amount := money.Round(input.Amount)
			res, err := s.cash.AdjustBalance(ctx, cash.AdjustInput{
				AccountID: input.CashAccountID,
				Method:    input.Method,
				Amount:    amount,
				Direction: cash.Increase,
				TxType:    cash.TxSalePayment,
				RefID:     sale.ID,
				Note:      fmt.Sprintf("sale %s", sale.Number),
			})
			if err != nil {
				return err
			}
			record := Payment{SaleID: sale.ID, Method: strings.TrimSpace(input.Method), Amount: amount}
			if res.Warning != nil {
				*warnings = append(*warnings, *res.Warning)
				sale.UnresolvedPayment = true
			} else {
				txID = res.Transaction.ID
				record.CashAccountID = res.Transaction.AccountID
				record.CashTransactionID = txID
			}
			err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
				stored, err := tx.InsertPayment(ctx, record)
				if err != nil {
					return err
				}
				sale.Payments = append(sale.Payments, stored)
				return nil
			})
			if err != nil && txID != 0 {
				if _, rerr := s.cash.Reverse(context.WithoutCancel(ctx), txID, "payment record failed"); rerr != nil {
					return fmt.Errorf("%w (cash reversal: %v)", err, rerr)
				}
				txID = 0
			}
			return err
		},
		Compensate: func(ctx context.Context) error {
			if txID == 0 {
				return nil
			}
			_, err := s.cash.Reverse(ctx, txID, fmt.Sprintf("sale %s rolled back", sale.Number))
			return err
		},
	}
}

// openReceivables opens one AR line per item, apportioned by item subtotal. Lines
// opened before a failure are removed again so the step stays all-or-nothing.
func (s *Service) openReceivables(ctx context.Context, sale Sale, unpaid decimal.Decimal) error {
	weights := make([]decimal.Decimal, len(sale.Items))
	for i, it := range sale.Items {
		weights[i] = it.Subtotal
	}
	shares := money.Apportion(unpaid, weights)
	for i, it := range sale.Items {
		if !shares[i].IsPositive() {
			continue
		}
		_, err := s.partners.OpenAccount(ctx, partner.OpenInput{
			PartnerType:  partner.PartnerCustomer,
			PartnerID:    sale.CustomerID,
			Direction:    partner.DirectionAR,
			RefType:      partner.RefSaleItem,
			RefID:        it.ID,
			DocumentType: partner.DocumentSale,
			DocumentID:   sale.ID,
			Amount:       shares[i],
			DueDate:      sale.DueDate,
		})
		if err != nil {
			if _, derr := s.partners.DeleteByDocument(context.WithoutCancel(ctx), partner.DocumentSale, sale.ID); derr != nil {
				return fmt.Errorf("%w (cleanup: %v)", err, derr)
			}
			return err
		}
	}
	return nil
}
