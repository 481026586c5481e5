package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/backoffice/internal/platform/db"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// Repository provides PostgreSQL backed persistence for deliveries.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	tx pgx.Tx
}

var errRepoNotInitialised = errors.New("delivery repository not initialised")

const deliveryColumns = `id, number, sale_id, status, created_at, completed_at`

func scanDelivery(row pgx.Row) (Delivery, error) {
	var d Delivery
	var status string
	var completed *time.Time
	if err := row.Scan(&d.ID, &d.Number, &d.SaleID, &status, &d.CreatedAt, &completed); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Delivery{}, ErrDeliveryNotFound
		}
		return Delivery{}, err
	}
	d.Status = Status(status)
	d.CompletedAt = completed
	return d, nil
}

func loadItems(ctx context.Context, q db.Querier, deliveryID int64) ([]Item, error) {
	rows, err := q.Query(ctx, `SELECT id, delivery_id, sale_item_id, product_id, quantity FROM delivery_items WHERE delivery_id=$1 ORDER BY id`, deliveryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []Item{}
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.DeliveryID, &it.SaleItemID, &it.ProductID, &it.Quantity); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func listBySale(ctx context.Context, q db.Querier, saleID int64, lock bool) ([]Delivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM deliveries WHERE sale_id=$1 ORDER BY id`
	if lock {
		query += ` FOR UPDATE`
	}
	rows, err := q.Query(ctx, query, saleID)
	if err != nil {
		return nil, err
	}
	deliveries := []Delivery{}
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		deliveries = append(deliveries, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range deliveries {
		items, err := loadItems(ctx, q, deliveries[i].ID)
		if err != nil {
			return nil, err
		}
		deliveries[i].Items = items
	}
	return deliveries, nil
}

// WithTx wraps callback in repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errRepoNotInitialised
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

// Get retrieves a delivery by ID with its items.
func (r *Repository) Get(ctx context.Context, id int64) (Delivery, error) {
	if r == nil {
		return Delivery{}, errRepoNotInitialised
	}
	return db.RetryRead(ctx, 3, func(ctx context.Context) (Delivery, error) {
		d, err := scanDelivery(r.pool.QueryRow(ctx, `SELECT `+deliveryColumns+` FROM deliveries WHERE id=$1`, id))
		if err != nil {
			return Delivery{}, err
		}
		d.Items, err = loadItems(ctx, r.pool, d.ID)
		return d, err
	})
}

// ListBySale implements RepositoryPort.
func (r *Repository) ListBySale(ctx context.Context, saleID int64) ([]Delivery, error) {
	if r == nil {
		return nil, errRepoNotInitialised
	}
	return db.RetryRead(ctx, 3, func(ctx context.Context) ([]Delivery, error) {
		return listBySale(ctx, r.pool, saleID, false)
	})
}

// ============================================================================
// TRANSACTIONAL OPERATIONS
// ============================================================================

func (t *txRepo) Insert(ctx context.Context, d Delivery) (Delivery, error) {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO deliveries (number, sale_id, status, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		d.Number, d.SaleID, string(d.Status), d.CreatedAt, d.CompletedAt,
	).Scan(&d.ID)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Delivery{}, fmt.Errorf("delivery: number %s: %w", d.Number, shared.ErrDuplicate)
		}
		return Delivery{}, err
	}
	for i := range d.Items {
		d.Items[i].DeliveryID = d.ID
		if err := t.tx.QueryRow(ctx, `
			INSERT INTO delivery_items (delivery_id, sale_item_id, product_id, quantity)
			VALUES ($1, $2, $3, $4)
			RETURNING id`,
			d.ID, d.Items[i].SaleItemID, d.Items[i].ProductID, d.Items[i].Quantity,
		).Scan(&d.Items[i].ID); err != nil {
			return Delivery{}, err
		}
	}
	return d, nil
}

func (t *txRepo) InsertWithID(ctx context.Context, d Delivery) error {
	if _, err := t.tx.Exec(ctx, `
		INSERT INTO deliveries (id, number, sale_id, status, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		d.ID, d.Number, d.SaleID, string(d.Status), d.CreatedAt, d.CompletedAt); err != nil {
		return err
	}
	for _, it := range d.Items {
		if _, err := t.tx.Exec(ctx, `
			INSERT INTO delivery_items (id, delivery_id, sale_item_id, product_id, quantity)
			VALUES ($1, $2, $3, $4, $5)`,
			it.ID, d.ID, it.SaleItemID, it.ProductID, it.Quantity); err != nil {
			return err
		}
	}
	return nil
}

func (t *txRepo) GetForUpdate(ctx context.Context, id int64) (Delivery, error) {
	d, err := scanDelivery(t.tx.QueryRow(ctx, `SELECT `+deliveryColumns+` FROM deliveries WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return Delivery{}, err
	}
	d.Items, err = loadItems(ctx, t.tx, d.ID)
	return d, err
}

func (t *txRepo) FindDraftForUpdate(ctx context.Context, saleID int64) (Delivery, bool, error) {
	d, err := scanDelivery(t.tx.QueryRow(ctx, `SELECT `+deliveryColumns+` FROM deliveries WHERE sale_id=$1 AND status=$2 ORDER BY id LIMIT 1 FOR UPDATE`, saleID, string(StatusDraft)))
	if errors.Is(err, ErrDeliveryNotFound) {
		return Delivery{}, false, nil
	}
	if err != nil {
		return Delivery{}, false, err
	}
	d.Items, err = loadItems(ctx, t.tx, d.ID)
	return d, err == nil, err
}

func (t *txRepo) ListBySaleForUpdate(ctx context.Context, saleID int64) ([]Delivery, error) {
	return listBySale(ctx, t.tx, saleID, true)
}

func (t *txRepo) UpdateItemQuantity(ctx context.Context, itemID, qty int64) error {
	cmdTag, err := t.tx.Exec(ctx, `UPDATE delivery_items SET quantity=$2 WHERE id=$1`, itemID, qty)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrDeliveryNotFound
	}
	return nil
}

func (t *txRepo) Delete(ctx context.Context, id int64) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM delivery_items WHERE delivery_id=$1`, id); err != nil {
		return err
	}
	_, err := t.tx.Exec(ctx, `DELETE FROM deliveries WHERE id=$1`, id)
	return err
}
