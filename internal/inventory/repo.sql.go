package inventory

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/platform/db"
)

// Repository persists inventory data in PostgreSQL.
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

var errRepoNotInitialised = errors.New("inventory repository not initialised")

// WithTx executes the callback inside repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errRepoNotInitialised
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const productColumns = `id, sku, name, stock, avg_cost, fallback_cost, allow_negative, updated_at`

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.SKU, &p.Name, &p.Stock, &p.AvgCost, &p.FallbackCost, &p.AllowNegative, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, ErrProductNotFound
	}
	return p, err
}

// GetProduct reads a product, retrying transient failures.
func (r *Repository) GetProduct(ctx context.Context, id int64) (Product, error) {
	if r == nil {
		return Product{}, errRepoNotInitialised
	}
	return db.RetryRead(ctx, 3, func(ctx context.Context) (Product, error) {
		return scanProduct(r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id=$1`, id))
	})
}

// ListProductIDs returns all product ids.
func (r *Repository) ListProductIDs(ctx context.Context) ([]int64, error) {
	if r == nil {
		return nil, errRepoNotInitialised
	}
	return db.RetryRead(ctx, 3, func(ctx context.Context) ([]int64, error) {
		rows, err := r.pool.Query(ctx, `SELECT id FROM products ORDER BY id`)
		if err != nil {
			return nil, err
		}
		return pgx.CollectRows(rows, pgx.RowTo[int64])
	})
}

// ListLog returns the newest entries first.
func (r *Repository) ListLog(ctx context.Context, productID int64, limit int) ([]LogEntry, error) {
	if r == nil {
		return nil, errRepoNotInitialised
	}
	rows, err := r.pool.Query(ctx, `SELECT id, product_id, delta, unit_cost, ref_type, ref_id, memo, stock_after, avg_cost_after, created_at
FROM inventory_log WHERE product_id=$1 ORDER BY id DESC LIMIT $2`, productID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	entries := []LogEntry{}
	for rows.Next() {
		var e LogEntry
		var refType string
		if err := rows.Scan(&e.ID, &e.ProductID, &e.Delta, &e.UnitCost, &refType, &e.RefID, &e.Memo, &e.StockAfter, &e.AvgCostAfter, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.RefType = RefType(refType)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// SumDeltas totals the log for a product.
func (r *Repository) SumDeltas(ctx context.Context, productID int64) (int64, error) {
	if r == nil {
		return 0, errRepoNotInitialised
	}
	return db.RetryRead(ctx, 3, func(ctx context.Context) (int64, error) {
		var total int64
		err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(delta), 0) FROM inventory_log WHERE product_id=$1`, productID).Scan(&total)
		return total, err
	})
}

func (r *txRepository) InsertProduct(ctx context.Context, p Product) (Product, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO products (sku, name, stock, avg_cost, fallback_cost, allow_negative, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id`, p.SKU, p.Name, p.Stock, p.AvgCost, p.FallbackCost, p.AllowNegative, p.UpdatedAt).Scan(&p.ID)
	return p, err
}

func (r *txRepository) GetProductForUpdate(ctx context.Context, id int64) (Product, error) {
	return scanProduct(r.tx.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id=$1 FOR UPDATE`, id))
}

func (r *txRepository) UpdateProductStock(ctx context.Context, id int64, stock int64, avgCost decimal.Decimal) error {
	tag, err := r.tx.Exec(ctx, `UPDATE products SET stock=$2, avg_cost=$3, updated_at=NOW() WHERE id=$1`, id, stock, avgCost)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

func (r *txRepository) AppendLog(ctx context.Context, e LogEntry) (LogEntry, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO inventory_log (product_id, delta, unit_cost, ref_type, ref_id, memo, stock_after, avg_cost_after, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id`, e.ProductID, e.Delta, e.UnitCost, string(e.RefType), e.RefID, e.Memo, e.StockAfter, e.AvgCostAfter, e.CreatedAt).Scan(&e.ID)
	return e, err
}
