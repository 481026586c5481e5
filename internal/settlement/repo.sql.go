package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/backoffice/internal/partner"
	"github.com/odyssey-erp/backoffice/internal/platform/db"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// Repository persists settlements in PostgreSQL.
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

var errRepoNotInitialised = errors.New("settlement repository not initialised")

const settlementColumns = `id, number, partner_type, partner_id, direction, amount, method, COALESCE(cash_account_id, 0),
COALESCE(cash_transaction_id, 0), strategy, status, note, created_at, voided_at`

func scanSettlement(row pgx.Row) (Settlement, error) {
	var st Settlement
	var partnerType, direction, strategy, status string
	err := row.Scan(&st.ID, &st.Number, &partnerType, &st.PartnerID, &direction, &st.Amount, &st.Method, &st.CashAccountID,
		&st.CashTransactionID, &strategy, &status, &st.Note, &st.CreatedAt, &st.VoidedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Settlement{}, ErrSettlementNotFound
		}
		return Settlement{}, err
	}
	st.PartnerType = partner.PartnerType(partnerType)
	st.Direction = partner.Direction(direction)
	st.Strategy = Strategy(strategy)
	st.Status = Status(status)
	return st, nil
}

func loadAllocations(ctx context.Context, q db.Querier, settlementID int64) ([]Allocation, error) {
	rows, err := q.Query(ctx, `SELECT id, settlement_id, partner_account_id, document_type, document_id, amount, balance_before, balance_after
FROM settlement_allocations WHERE settlement_id=$1 ORDER BY id`, settlementID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var allocations []Allocation
	for rows.Next() {
		var a Allocation
		var docType string
		if err := rows.Scan(&a.ID, &a.SettlementID, &a.PartnerAccountID, &docType, &a.DocumentID, &a.Amount, &a.BalanceBefore, &a.BalanceAfter); err != nil {
			return nil, err
		}
		a.DocumentType = partner.DocumentType(docType)
		allocations = append(allocations, a)
	}
	return allocations, rows.Err()
}

func getSettlement(ctx context.Context, q db.Querier, id int64, lock bool) (Settlement, error) {
	query := `SELECT ` + settlementColumns + ` FROM settlements WHERE id=$1`
	if lock {
		query += ` FOR UPDATE`
	}
	st, err := scanSettlement(q.QueryRow(ctx, query, id))
	if err != nil {
		return Settlement{}, err
	}
	st.Allocations, err = loadAllocations(ctx, q, id)
	return st, err
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
func (r *Repository) Get(ctx context.Context, id int64) (Settlement, error) {
	if r == nil {
		return Settlement{}, errRepoNotInitialised
	}
	return db.RetryRead(ctx, 3, func(ctx context.Context) (Settlement, error) {
		return getSettlement(ctx, r.pool, id, false)
	})
}

// ListByPartner implements RepositoryPort.
func (r *Repository) ListByPartner(ctx context.Context, partnerType partner.PartnerType, partnerID int64) ([]Settlement, error) {
	if r == nil {
		return nil, errRepoNotInitialised
	}
	rows, err := r.pool.Query(ctx, `SELECT `+settlementColumns+` FROM settlements WHERE partner_type=$1 AND partner_id=$2 ORDER BY id DESC`, string(partnerType), partnerID)
	if err != nil {
		return nil, err
	}
	var out []Settlement
	for rows.Next() {
		st, err := scanSettlement(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, st)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].Allocations, err = loadAllocations(ctx, r.pool, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func nullID(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return &id
}

func (r *txRepository) Insert(ctx context.Context, st Settlement) (Settlement, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO settlements (number, partner_type, partner_id, direction, amount, method, cash_account_id,
cash_transaction_id, strategy, status, note, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12) RETURNING id`,
		st.Number, string(st.PartnerType), st.PartnerID, string(st.Direction), st.Amount, st.Method, nullID(st.CashAccountID),
		nullID(st.CashTransactionID), string(st.Strategy), string(st.Status), st.Note, st.CreatedAt).Scan(&st.ID)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Settlement{}, fmt.Errorf("settlement: number %s: %w", st.Number, shared.ErrDuplicate)
		}
		return Settlement{}, err
	}
	for i := range st.Allocations {
		a := &st.Allocations[i]
		a.SettlementID = st.ID
		if err := r.tx.QueryRow(ctx, `INSERT INTO settlement_allocations (settlement_id, partner_account_id, document_type, document_id, amount, balance_before, balance_after)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id`,
			a.SettlementID, a.PartnerAccountID, string(a.DocumentType), a.DocumentID, a.Amount, a.BalanceBefore, a.BalanceAfter).Scan(&a.ID); err != nil {
			return Settlement{}, err
		}
	}
	return st, nil
}

func (r *txRepository) Delete(ctx context.Context, id int64) error {
	if _, err := r.tx.Exec(ctx, `DELETE FROM settlement_allocations WHERE settlement_id=$1`, id); err != nil {
		return err
	}
	_, err := r.tx.Exec(ctx, `DELETE FROM settlements WHERE id=$1`, id)
	return err
}

func (r *txRepository) GetForUpdate(ctx context.Context, id int64) (Settlement, error) {
	return getSettlement(ctx, r.tx, id, true)
}

func (r *txRepository) SetStatus(ctx context.Context, id int64, status Status, voidedAt *time.Time) error {
	tag, err := r.tx.Exec(ctx, `UPDATE settlements SET status=$2, voided_at=$3 WHERE id=$1`, id, string(status), voidedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSettlementNotFound
	}
	return nil
}
