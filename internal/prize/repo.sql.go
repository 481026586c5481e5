package prize

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/backoffice/internal/platform/db"
)

// Repository persists prize pools in PostgreSQL.
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

var errRepoNotInitialised = errors.New("prize repository not initialised")

const poolColumns = `id, name, remaining, active, updated_at`

func scanPool(row pgx.Row) (Pool, error) {
	var p Pool
	if err := row.Scan(&p.ID, &p.Name, &p.Remaining, &p.Active, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Pool{}, ErrPoolNotFound
		}
		return Pool{}, err
	}
	return p, nil
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
func (r *Repository) Get(ctx context.Context, id int64) (Pool, error) {
	if r == nil {
		return Pool{}, errRepoNotInitialised
	}
	return db.RetryRead(ctx, 3, func(ctx context.Context) (Pool, error) {
		return scanPool(r.pool.QueryRow(ctx, `SELECT `+poolColumns+` FROM prize_pools WHERE id=$1`, id))
	})
}

// List implements RepositoryPort.
func (r *Repository) List(ctx context.Context) ([]Pool, error) {
	if r == nil {
		return nil, errRepoNotInitialised
	}
	rows, err := r.pool.Query(ctx, `SELECT `+poolColumns+` FROM prize_pools ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	pools := []Pool{}
	for rows.Next() {
		p, err := scanPool(rows)
		if err != nil {
			return nil, err
		}
		pools = append(pools, p)
	}
	return pools, rows.Err()
}

func (t *txRepository) Insert(ctx context.Context, p Pool) (Pool, error) {
	err := t.tx.QueryRow(ctx, `INSERT INTO prize_pools (name, remaining, active, updated_at) VALUES ($1,$2,$3,$4) RETURNING id`,
		p.Name, p.Remaining, p.Active, p.UpdatedAt).Scan(&p.ID)
	return p, err
}

func (t *txRepository) GetForUpdate(ctx context.Context, id int64) (Pool, error) {
	return scanPool(t.tx.QueryRow(ctx, `SELECT `+poolColumns+` FROM prize_pools WHERE id=$1 FOR UPDATE`, id))
}

func (t *txRepository) UpdateRemaining(ctx context.Context, id, remaining int64) error {
	_, err := t.tx.Exec(ctx, `UPDATE prize_pools SET remaining=$2, updated_at=NOW() WHERE id=$1`, id, remaining)
	return err
}

func (t *txRepository) SetActive(ctx context.Context, id int64, active bool) error {
	_, err := t.tx.Exec(ctx, `UPDATE prize_pools SET active=$2, updated_at=NOW() WHERE id=$1`, id, active)
	return err
}
