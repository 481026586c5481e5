package sales

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/backoffice/internal/platform/db"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// Repository persists sales in PostgreSQL.
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

var errRepoNotInitialised = errors.New("sales repository not initialised")

const (
	saleColumns = `id, number, COALESCE(customer_id, 0), COALESCE(program_id, 0), status, fulfillment_status,
subtotal, discount_percent, discount_amount, total, paid_amount, is_paid, unresolved_payment, due_date, note, created_at`
	itemColumns = `id, sale_id, product_id, COALESCE(prize_pool_id, 0), product_name, unit_price, unit_cost, quantity,
subtotal, delivered_quantity, credited_amount`
	paymentColumns = `id, sale_id, method, amount, COALESCE(cash_account_id, 0), COALESCE(cash_transaction_id, 0)`
)

func nullID(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return &id
}

func scanSale(row pgx.Row) (Sale, error) {
	var s Sale
	var status, fulfillment string
	if err := row.Scan(&s.ID, &s.Number, &s.CustomerID, &s.ProgramID, &status, &fulfillment,
		&s.Subtotal, &s.DiscountPercent, &s.DiscountAmount, &s.Total, &s.PaidAmount, &s.IsPaid, &s.UnresolvedPayment,
		&s.DueDate, &s.Note, &s.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Sale{}, ErrSaleNotFound
		}
		return Sale{}, err
	}
	s.Status = Status(status)
	s.FulfillmentStatus = Fulfillment(fulfillment)
	return s, nil
}

func scanItem(row pgx.Row) (Item, error) {
	var it Item
	if err := row.Scan(&it.ID, &it.SaleID, &it.ProductID, &it.PrizePoolID, &it.ProductName, &it.UnitPrice, &it.UnitCost,
		&it.Quantity, &it.Subtotal, &it.DeliveredQuantity, &it.CreditedAmount); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, ErrItemNotFound
		}
		return Item{}, err
	}
	return it, nil
}

// loadLines attaches items and payments to a sale.
func loadLines(ctx context.Context, q db.Querier, s *Sale) error {
	rows, err := q.Query(ctx, `SELECT `+itemColumns+` FROM sale_items WHERE sale_id=$1 ORDER BY id`, s.ID)
	if err != nil {
		return err
	}
	s.Items = []Item{}
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			rows.Close()
			return err
		}
		s.Items = append(s.Items, it)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	rows, err = q.Query(ctx, `SELECT `+paymentColumns+` FROM sale_payments WHERE sale_id=$1 ORDER BY id`, s.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	s.Payments = []Payment{}
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.SaleID, &p.Method, &p.Amount, &p.CashAccountID, &p.CashTransactionID); err != nil {
			return err
		}
		s.Payments = append(s.Payments, p)
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
func (r *Repository) Get(ctx context.Context, id int64) (Sale, error) {
	if r == nil {
		return Sale{}, errRepoNotInitialised
	}
	return db.RetryRead(ctx, 3, func(ctx context.Context) (Sale, error) {
		s, err := scanSale(r.pool.QueryRow(ctx, `SELECT `+saleColumns+` FROM sales WHERE id=$1`, id))
		if err != nil {
			return Sale{}, err
		}
		return s, loadLines(ctx, r.pool, &s)
	})
}

// GetItem implements RepositoryPort.
func (r *Repository) GetItem(ctx context.Context, id int64) (Item, error) {
	if r == nil {
		return Item{}, errRepoNotInitialised
	}
	return db.RetryRead(ctx, 3, func(ctx context.Context) (Item, error) {
		return scanItem(r.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM sale_items WHERE id=$1`, id))
	})
}

// List implements RepositoryPort. Lines are not loaded.
func (r *Repository) List(ctx context.Context, offset, limit int) ([]Sale, int, error) {
	if r == nil {
		return nil, 0, errRepoNotInitialised
	}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM sales`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+saleColumns+` FROM sales ORDER BY id DESC OFFSET $1 LIMIT $2`, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	sales := []Sale{}
	for rows.Next() {
		s, err := scanSale(rows)
		if err != nil {
			return nil, 0, err
		}
		sales = append(sales, s)
	}
	return sales, total, rows.Err()
}

func (r *txRepository) InsertSale(ctx context.Context, s Sale) (Sale, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO sales (number, customer_id, program_id, status, fulfillment_status, subtotal,
discount_percent, discount_amount, total, paid_amount, is_paid, unresolved_payment, due_date, note, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15) RETURNING id`,
		s.Number, nullID(s.CustomerID), nullID(s.ProgramID), string(s.Status), string(s.FulfillmentStatus), s.Subtotal,
		s.DiscountPercent, s.DiscountAmount, s.Total, s.PaidAmount, s.IsPaid, s.UnresolvedPayment, s.DueDate, s.Note, s.CreatedAt).Scan(&s.ID)
	if db.IsUniqueViolation(err) {
		return Sale{}, fmt.Errorf("sales: number %s: %w", s.Number, shared.ErrDuplicate)
	}
	return s, err
}

func (r *txRepository) insertItem(ctx context.Context, it Item, withID bool) (Item, error) {
	if withID {
		_, err := r.tx.Exec(ctx, `INSERT INTO sale_items (id, sale_id, product_id, prize_pool_id, product_name, unit_price, unit_cost,
quantity, subtotal, delivered_quantity, credited_amount) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
			it.ID, it.SaleID, it.ProductID, nullID(it.PrizePoolID), it.ProductName, it.UnitPrice, it.UnitCost,
			it.Quantity, it.Subtotal, it.DeliveredQuantity, it.CreditedAmount)
		return it, err
	}
	err := r.tx.QueryRow(ctx, `INSERT INTO sale_items (sale_id, product_id, prize_pool_id, product_name, unit_price, unit_cost,
quantity, subtotal, delivered_quantity, credited_amount) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) RETURNING id`,
		it.SaleID, it.ProductID, nullID(it.PrizePoolID), it.ProductName, it.UnitPrice, it.UnitCost,
		it.Quantity, it.Subtotal, it.DeliveredQuantity, it.CreditedAmount).Scan(&it.ID)
	return it, err
}

func (r *txRepository) InsertItems(ctx context.Context, saleID int64, items []Item) ([]Item, error) {
	stored := make([]Item, 0, len(items))
	for _, it := range items {
		it.SaleID = saleID
		row, err := r.insertItem(ctx, it, false)
		if err != nil {
			return nil, err
		}
		stored = append(stored, row)
	}
	return stored, nil
}

func (r *txRepository) insertPayment(ctx context.Context, p Payment, withID bool) (Payment, error) {
	if withID {
		_, err := r.tx.Exec(ctx, `INSERT INTO sale_payments (id, sale_id, method, amount, cash_account_id, cash_transaction_id)
VALUES ($1,$2,$3,$4,$5,$6)`, p.ID, p.SaleID, p.Method, p.Amount, nullID(p.CashAccountID), nullID(p.CashTransactionID))
		return p, err
	}
	err := r.tx.QueryRow(ctx, `INSERT INTO sale_payments (sale_id, method, amount, cash_account_id, cash_transaction_id)
VALUES ($1,$2,$3,$4,$5) RETURNING id`, p.SaleID, p.Method, p.Amount, nullID(p.CashAccountID), nullID(p.CashTransactionID)).Scan(&p.ID)
	return p, err
}

func (r *txRepository) InsertPayment(ctx context.Context, p Payment) (Payment, error) {
	return r.insertPayment(ctx, p, false)
}

func (r *txRepository) SetPaymentTransaction(ctx context.Context, paymentID, txID int64) error {
	tag, err := r.tx.Exec(ctx, `UPDATE sale_payments SET cash_transaction_id=$2 WHERE id=$1`, paymentID, nullID(txID))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("sales: payment %d: %w", paymentID, shared.ErrNotFound)
	}
	return nil
}

func (r *txRepository) GetForUpdate(ctx context.Context, id int64) (Sale, error) {
	s, err := scanSale(r.tx.QueryRow(ctx, `SELECT `+saleColumns+` FROM sales WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return Sale{}, err
	}
	return s, loadLines(ctx, r.tx, &s)
}

func (r *txRepository) UpdateSale(ctx context.Context, s Sale) error {
	tag, err := r.tx.Exec(ctx, `UPDATE sales SET status=$2, fulfillment_status=$3, subtotal=$4, discount_amount=$5, total=$6,
paid_amount=$7, is_paid=$8, unresolved_payment=$9 WHERE id=$1`,
		s.ID, string(s.Status), string(s.FulfillmentStatus), s.Subtotal, s.DiscountAmount, s.Total,
		s.PaidAmount, s.IsPaid, s.UnresolvedPayment)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSaleNotFound
	}
	return nil
}

func (r *txRepository) UpdateItem(ctx context.Context, it Item) error {
	tag, err := r.tx.Exec(ctx, `UPDATE sale_items SET delivered_quantity=$2, credited_amount=$3 WHERE id=$1`,
		it.ID, it.DeliveredQuantity, it.CreditedAmount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (r *txRepository) DeleteItems(ctx context.Context, saleID int64) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM sale_items WHERE sale_id=$1`, saleID)
	return err
}

func (r *txRepository) DeleteSale(ctx context.Context, id int64) error {
	if _, err := r.tx.Exec(ctx, `DELETE FROM sale_payments WHERE sale_id=$1`, id); err != nil {
		return err
	}
	if _, err := r.tx.Exec(ctx, `DELETE FROM sale_items WHERE sale_id=$1`, id); err != nil {
		return err
	}
	_, err := r.tx.Exec(ctx, `DELETE FROM sales WHERE id=$1`, id)
	return err
}

func (r *txRepository) RestoreSale(ctx context.Context, s Sale) error {
	var exists bool
	if err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM sales WHERE id=$1)`, s.ID).Scan(&exists); err != nil {
		return err
	}
	if exists {
		return nil
	}
	_, err := r.tx.Exec(ctx, `INSERT INTO sales (id, number, customer_id, program_id, status, fulfillment_status, subtotal,
discount_percent, discount_amount, total, paid_amount, is_paid, unresolved_payment, due_date, note, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		s.ID, s.Number, nullID(s.CustomerID), nullID(s.ProgramID), string(s.Status), string(s.FulfillmentStatus), s.Subtotal,
		s.DiscountPercent, s.DiscountAmount, s.Total, s.PaidAmount, s.IsPaid, s.UnresolvedPayment, s.DueDate, s.Note, s.CreatedAt)
	if err != nil {
		return err
	}
	for _, it := range s.Items {
		if _, err := r.insertItem(ctx, it, true); err != nil {
			return err
		}
	}
	for _, p := range s.Payments {
		if _, err := r.insertPayment(ctx, p, true); err != nil {
			return err
		}
	}
	return nil
}
