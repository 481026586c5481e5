package procurement

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/backoffice/internal/platform/db"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// Repository persists purchases in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

var errRepoNotInitialised = errors.New("procurement repository not initialised")

const (
	purchaseColumns = `id, number, vendor_id, status, total, paid_amount, is_paid, due_date, note, created_at, approved_at`
	itemColumns     = `id, purchase_id, product_id, quantity, unit_cost, subtotal, received_quantity`
	paymentColumns  = `id, purchase_id, method, amount, COALESCE(cash_account_id, 0), COALESCE(cash_transaction_id, 0)`
)

func nullID(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return &id
}

func scanPurchase(row pgx.Row) (Purchase, error) {
	var p Purchase
	var status string
	if err := row.Scan(&p.ID, &p.Number, &p.VendorID, &status, &p.Total, &p.PaidAmount, &p.IsPaid,
		&p.DueDate, &p.Note, &p.CreatedAt, &p.ApprovedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Purchase{}, ErrPurchaseNotFound
		}
		return Purchase{}, err
	}
	p.Status = Status(status)
	return p, nil
}

func loadLines(ctx context.Context, q db.Querier, p *Purchase) error {
	rows, err := q.Query(ctx, `SELECT `+itemColumns+` FROM purchase_items WHERE purchase_id=$1 ORDER BY id`, p.ID)
	if err != nil {
		return err
	}
	p.Items = []Item{}
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.PurchaseID, &it.ProductID, &it.Quantity, &it.UnitCost, &it.Subtotal, &it.ReceivedQuantity); err != nil {
			rows.Close()
			return err
		}
		p.Items = append(p.Items, it)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	rows, err = q.Query(ctx, `SELECT `+paymentColumns+` FROM purchase_payments WHERE purchase_id=$1 ORDER BY id`, p.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	p.Payments = []Payment{}
	for rows.Next() {
		var pay Payment
		if err := rows.Scan(&pay.ID, &pay.PurchaseID, &pay.Method, &pay.Amount, &pay.CashAccountID, &pay.CashTransactionID); err != nil {
			return err
		}
		p.Payments = append(p.Payments, pay)
	}
	return rows.Err()
}

// WithTx executes the callback inside repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errRepoNotInitialised
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// Get implements RepositoryPort.
func (r *Repository) Get(ctx context.Context, id int64) (Purchase, error) {
	if r == nil {
		return Purchase{}, errRepoNotInitialised
	}
	return db.RetryRead(ctx, 3, func(ctx context.Context) (Purchase, error) {
		p, err := scanPurchase(r.pool.QueryRow(ctx, `SELECT `+purchaseColumns+` FROM purchases WHERE id=$1`, id))
		if err != nil {
			return Purchase{}, err
		}
		return p, loadLines(ctx, r.pool, &p)
	})
}

// List implements RepositoryPort. Lines are not loaded.
func (r *Repository) List(ctx context.Context, offset, limit int) ([]Purchase, int, error) {
	if r == nil {
		return nil, 0, errRepoNotInitialised
	}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM purchases`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+purchaseColumns+` FROM purchases ORDER BY id DESC OFFSET $1 LIMIT $2`, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	purchases := []Purchase{}
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, 0, err
		}
		purchases = append(purchases, p)
	}
	return purchases, total, rows.Err()
}

func (r *txRepository) insertHeader(ctx context.Context, p Purchase, withID bool) (Purchase, error) {
	if withID {
		_, err := r.tx.Exec(ctx, `INSERT INTO purchases (id, number, vendor_id, status, total, paid_amount, is_paid, due_date,
note, created_at, approved_at) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
			p.ID, p.Number, p.VendorID, string(p.Status), p.Total, p.PaidAmount, p.IsPaid, p.DueDate, p.Note, p.CreatedAt, p.ApprovedAt)
		return p, err
	}
	err := r.tx.QueryRow(ctx, `INSERT INTO purchases (number, vendor_id, status, total, paid_amount, is_paid, due_date,
note, created_at, approved_at) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) RETURNING id`,
		p.Number, p.VendorID, string(p.Status), p.Total, p.PaidAmount, p.IsPaid, p.DueDate, p.Note, p.CreatedAt, p.ApprovedAt).Scan(&p.ID)
	return p, err
}

func (r *txRepository) insertItem(ctx context.Context, it Item, withID bool) (Item, error) {
	if withID {
		_, err := r.tx.Exec(ctx, `INSERT INTO purchase_items (id, purchase_id, product_id, quantity, unit_cost, subtotal, received_quantity)
VALUES ($1,$2,$3,$4,$5,$6,$7)`, it.ID, it.PurchaseID, it.ProductID, it.Quantity, it.UnitCost, it.Subtotal, it.ReceivedQuantity)
		return it, err
	}
	err := r.tx.QueryRow(ctx, `INSERT INTO purchase_items (purchase_id, product_id, quantity, unit_cost, subtotal, received_quantity)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`, it.PurchaseID, it.ProductID, it.Quantity, it.UnitCost, it.Subtotal, it.ReceivedQuantity).Scan(&it.ID)
	return it, err
}

func (r *txRepository) insertPayment(ctx context.Context, p Payment, withID bool) (Payment, error) {
	if withID {
		_, err := r.tx.Exec(ctx, `INSERT INTO purchase_payments (id, purchase_id, method, amount, cash_account_id, cash_transaction_id)
VALUES ($1,$2,$3,$4,$5,$6)`, p.ID, p.PurchaseID, p.Method, p.Amount, nullID(p.CashAccountID), nullID(p.CashTransactionID))
		return p, err
	}
	err := r.tx.QueryRow(ctx, `INSERT INTO purchase_payments (purchase_id, method, amount, cash_account_id, cash_transaction_id)
VALUES ($1,$2,$3,$4,$5) RETURNING id`, p.PurchaseID, p.Method, p.Amount, nullID(p.CashAccountID), nullID(p.CashTransactionID)).Scan(&p.ID)
	return p, err
}

func (r *txRepository) InsertPurchase(ctx context.Context, p Purchase) (Purchase, error) {
	stored, err := r.insertHeader(ctx, p, false)
	if db.IsUniqueViolation(err) {
		return Purchase{}, fmt.Errorf("procurement: number %s: %w", p.Number, shared.ErrDuplicate)
	}
	if err != nil {
		return Purchase{}, err
	}
	stored.Items = make([]Item, 0, len(p.Items))
	for _, it := range p.Items {
		it.PurchaseID = stored.ID
		row, err := r.insertItem(ctx, it, false)
		if err != nil {
			return Purchase{}, err
		}
		stored.Items = append(stored.Items, row)
	}
	stored.Payments = []Payment{}
	return stored, nil
}

func (r *txRepository) GetForUpdate(ctx context.Context, id int64) (Purchase, error) {
	p, err := scanPurchase(r.tx.QueryRow(ctx, `SELECT `+purchaseColumns+` FROM purchases WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return Purchase{}, err
	}
	return p, loadLines(ctx, r.tx, &p)
}

func (r *txRepository) UpdatePurchase(ctx context.Context, p Purchase) error {
	tag, err := r.tx.Exec(ctx, `UPDATE purchases SET status=$2, paid_amount=$3, is_paid=$4, due_date=$5, approved_at=$6 WHERE id=$1`,
		p.ID, string(p.Status), p.PaidAmount, p.IsPaid, p.DueDate, p.ApprovedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPurchaseNotFound
	}
	return nil
}

func (r *txRepository) UpdateItem(ctx context.Context, it Item) error {
	tag, err := r.tx.Exec(ctx, `UPDATE purchase_items SET received_quantity=$2 WHERE id=$1`, it.ID, it.ReceivedQuantity)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (r *txRepository) InsertPayment(ctx context.Context, p Payment) (Payment, error) {
	return r.insertPayment(ctx, p, false)
}

func (r *txRepository) SetPaymentTransaction(ctx context.Context, paymentID, txID int64) error {
	tag, err := r.tx.Exec(ctx, `UPDATE purchase_payments SET cash_transaction_id=$2 WHERE id=$1`, paymentID, nullID(txID))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("procurement: payment %d: %w", paymentID, shared.ErrNotFound)
	}
	return nil
}

func (r *txRepository) DeletePayment(ctx context.Context, paymentID int64) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM purchase_payments WHERE id=$1`, paymentID)
	return err
}

func (r *txRepository) DeletePurchase(ctx context.Context, id int64) error {
	if _, err := r.tx.Exec(ctx, `DELETE FROM purchase_payments WHERE purchase_id=$1`, id); err != nil {
		return err
	}
	if _, err := r.tx.Exec(ctx, `DELETE FROM purchase_items WHERE purchase_id=$1`, id); err != nil {
		return err
	}
	_, err := r.tx.Exec(ctx, `DELETE FROM purchases WHERE id=$1`, id)
	return err
}

func (r *txRepository) RestorePurchase(ctx context.Context, p Purchase) error {
	var exists bool
	if err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM purchases WHERE id=$1)`, p.ID).Scan(&exists); err != nil {
		return err
	}
	if exists {
		return nil
	}
	if _, err := r.insertHeader(ctx, p, true); err != nil {
		return err
	}
	for _, it := range p.Items {
		if _, err := r.insertItem(ctx, it, true); err != nil {
			return err
		}
	}
	for _, pay := range p.Payments {
		if _, err := r.insertPayment(ctx, pay, true); err != nil {
			return err
		}
	}
	return nil
}
