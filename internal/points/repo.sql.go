package points

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/platform/db"
)

// Repository persists programs, point balances and store credit in PostgreSQL.
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

var errRepoNotInitialised = errors.New("points repository not initialised")

const (
	programColumns = `id, name, spend_per_point, cost_per_point, active, created_at`
	pointsColumns  = `customer_id, program_id, balance, total_earned, total_redeemed, estimated_cost, updated_at`
	logColumns     = `id, customer_id, program_id, kind, points, ref_type, ref_id, balance_after, note, created_at`
	creditColumns  = `id, customer_id, amount, ref_type, ref_id, balance_after, note, created_at`
)

func scanProgram(row pgx.Row) (Program, error) {
	var p Program
	if err := row.Scan(&p.ID, &p.Name, &p.SpendPerPoint, &p.CostPerPoint, &p.Active, &p.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Program{}, ErrProgramNotFound
		}
		return Program{}, err
	}
	return p, nil
}

func scanTier(row pgx.Row) (Tier, error) {
	var t Tier
	if err := row.Scan(&t.ID, &t.ProgramID, &t.Name, &t.PointsRequired, &t.RewardValue); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Tier{}, ErrTierNotFound
		}
		return Tier{}, err
	}
	return t, nil
}

func scanPoints(row pgx.Row) (CustomerPoints, error) {
	var cp CustomerPoints
	err := row.Scan(&cp.CustomerID, &cp.ProgramID, &cp.Balance, &cp.TotalEarned, &cp.TotalRedeemed, &cp.EstimatedCost, &cp.UpdatedAt)
	return cp, err
}

func scanLog(row pgx.Row) (Log, error) {
	var l Log
	var kind string
	err := row.Scan(&l.ID, &l.CustomerID, &l.ProgramID, &kind, &l.Points, &l.RefType, &l.RefID, &l.BalanceAfter, &l.Note, &l.CreatedAt)
	l.Kind = Kind(kind)
	return l, err
}

func scanCredit(row pgx.Row) (CreditEntry, error) {
	var c CreditEntry
	err := row.Scan(&c.ID, &c.CustomerID, &c.Amount, &c.RefType, &c.RefID, &c.BalanceAfter, &c.Note, &c.CreatedAt)
	return c, err
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

// GetProgram implements RepositoryPort.
func (r *Repository) GetProgram(ctx context.Context, id int64) (Program, error) {
	if r == nil {
		return Program{}, errRepoNotInitialised
	}
	return db.RetryRead(ctx, 3, func(ctx context.Context) (Program, error) {
		return scanProgram(r.pool.QueryRow(ctx, `SELECT `+programColumns+` FROM loyalty_programs WHERE id=$1`, id))
	})
}

// ListTiers implements RepositoryPort.
func (r *Repository) ListTiers(ctx context.Context, programID int64) ([]Tier, error) {
	if r == nil {
		return nil, errRepoNotInitialised
	}
	rows, err := r.pool.Query(ctx, `SELECT id, program_id, name, points_required, reward_value FROM loyalty_tiers WHERE program_id=$1 ORDER BY points_required, id`, programID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	tiers := []Tier{}
	for rows.Next() {
		t, err := scanTier(rows)
		if err != nil {
			return nil, err
		}
		tiers = append(tiers, t)
	}
	return tiers, rows.Err()
}

// GetPoints implements RepositoryPort.
func (r *Repository) GetPoints(ctx context.Context, customerID, programID int64) (CustomerPoints, error) {
	if r == nil {
		return CustomerPoints{}, errRepoNotInitialised
	}
	return db.RetryRead(ctx, 3, func(ctx context.Context) (CustomerPoints, error) {
		cp, err := scanPoints(r.pool.QueryRow(ctx, `SELECT `+pointsColumns+` FROM customer_points WHERE customer_id=$1 AND program_id=$2`, customerID, programID))
		if errors.Is(err, pgx.ErrNoRows) {
			return CustomerPoints{CustomerID: customerID, ProgramID: programID, EstimatedCost: decimal.Zero}, nil
		}
		return cp, err
	})
}

// ListLog implements RepositoryPort.
func (r *Repository) ListLog(ctx context.Context, customerID, programID int64, limit int) ([]Log, error) {
	if r == nil {
		return nil, errRepoNotInitialised
	}
	rows, err := r.pool.Query(ctx, `SELECT `+logColumns+` FROM point_logs WHERE customer_id=$1 AND program_id=$2 ORDER BY id DESC LIMIT $3`, customerID, programID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	entries := []Log{}
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, l)
	}
	return entries, rows.Err()
}

// CreditBalance implements RepositoryPort.
func (r *Repository) CreditBalance(ctx context.Context, customerID int64) (decimal.Decimal, error) {
	if r == nil {
		return decimal.Zero, errRepoNotInitialised
	}
	return db.RetryRead(ctx, 3, func(ctx context.Context) (decimal.Decimal, error) {
		var balance decimal.Decimal
		err := r.pool.QueryRow(ctx, `SELECT balance FROM store_credits WHERE customer_id=$1`, customerID).Scan(&balance)
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, nil
		}
		return balance, err
	})
}

// ListCredit implements RepositoryPort.
func (r *Repository) ListCredit(ctx context.Context, customerID int64, limit int) ([]CreditEntry, error) {
	if r == nil {
		return nil, errRepoNotInitialised
	}
	rows, err := r.pool.Query(ctx, `SELECT `+creditColumns+` FROM store_credit_ledger WHERE customer_id=$1 ORDER BY id DESC LIMIT $2`, customerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	entries := []CreditEntry{}
	for rows.Next() {
		c, err := scanCredit(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, c)
	}
	return entries, rows.Err()
}

func (r *txRepository) InsertProgram(ctx context.Context, p Program) (Program, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO loyalty_programs (name, spend_per_point, cost_per_point, active, created_at)
VALUES ($1,$2,$3,$4,$5) RETURNING id`, p.Name, p.SpendPerPoint, p.CostPerPoint, p.Active, p.CreatedAt).Scan(&p.ID)
	return p, err
}

func (r *txRepository) InsertTier(ctx context.Context, t Tier) (Tier, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO loyalty_tiers (program_id, name, points_required, reward_value)
VALUES ($1,$2,$3,$4) RETURNING id`, t.ProgramID, t.Name, t.PointsRequired, t.RewardValue).Scan(&t.ID)
	return t, err
}

func (r *txRepository) GetProgram(ctx context.Context, id int64) (Program, error) {
	return scanProgram(r.tx.QueryRow(ctx, `SELECT `+programColumns+` FROM loyalty_programs WHERE id=$1`, id))
}

func (r *txRepository) GetTier(ctx context.Context, id int64) (Tier, error) {
	return scanTier(r.tx.QueryRow(ctx, `SELECT id, program_id, name, points_required, reward_value FROM loyalty_tiers WHERE id=$1`, id))
}

func (r *txRepository) LockPoints(ctx context.Context, customerID, programID int64) (CustomerPoints, error) {
	if _, err := r.tx.Exec(ctx, `INSERT INTO customer_points (customer_id, program_id, balance, total_earned, total_redeemed, estimated_cost, updated_at)
VALUES ($1,$2,0,0,0,0,now()) ON CONFLICT (customer_id, program_id) DO NOTHING`, customerID, programID); err != nil {
		return CustomerPoints{}, err
	}
	return scanPoints(r.tx.QueryRow(ctx, `SELECT `+pointsColumns+` FROM customer_points WHERE customer_id=$1 AND program_id=$2 FOR UPDATE`, customerID, programID))
}

func (r *txRepository) SavePoints(ctx context.Context, cp CustomerPoints) error {
	_, err := r.tx.Exec(ctx, `UPDATE customer_points SET balance=$3, total_earned=$4, total_redeemed=$5, estimated_cost=$6, updated_at=$7
WHERE customer_id=$1 AND program_id=$2`, cp.CustomerID, cp.ProgramID, cp.Balance, cp.TotalEarned, cp.TotalRedeemed, cp.EstimatedCost, cp.UpdatedAt)
	return err
}

func (r *txRepository) AppendLog(ctx context.Context, l Log) (Log, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO point_logs (customer_id, program_id, kind, points, ref_type, ref_id, balance_after, note, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id`,
		l.CustomerID, l.ProgramID, string(l.Kind), l.Points, l.RefType, l.RefID, l.BalanceAfter, l.Note, l.CreatedAt).Scan(&l.ID)
	return l, err
}

func (r *txRepository) FindLog(ctx context.Context, customerID, programID int64, kind Kind, refType string, refID int64) (Log, bool, error) {
	l, err := scanLog(r.tx.QueryRow(ctx, `SELECT `+logColumns+` FROM point_logs
WHERE customer_id=$1 AND program_id=$2 AND kind=$3 AND ref_type=$4 AND ref_id=$5 ORDER BY id LIMIT 1`,
		customerID, programID, string(kind), refType, refID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Log{}, false, nil
	}
	if err != nil {
		return Log{}, false, err
	}
	return l, true, nil
}

func (r *txRepository) LockCredit(ctx context.Context, customerID int64) (decimal.Decimal, error) {
	if _, err := r.tx.Exec(ctx, `INSERT INTO store_credits (customer_id, balance) VALUES ($1, 0) ON CONFLICT (customer_id) DO NOTHING`, customerID); err != nil {
		return decimal.Zero, err
	}
	var balance decimal.Decimal
	err := r.tx.QueryRow(ctx, `SELECT balance FROM store_credits WHERE customer_id=$1 FOR UPDATE`, customerID).Scan(&balance)
	return balance, err
}

func (r *txRepository) SaveCredit(ctx context.Context, customerID int64, balance decimal.Decimal) error {
	_, err := r.tx.Exec(ctx, `UPDATE store_credits SET balance=$2 WHERE customer_id=$1`, customerID, balance)
	return err
}

func (r *txRepository) AppendCredit(ctx context.Context, c CreditEntry) (CreditEntry, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO store_credit_ledger (customer_id, amount, ref_type, ref_id, balance_after, note, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id`, c.CustomerID, c.Amount, c.RefType, c.RefID, c.BalanceAfter, c.Note, c.CreatedAt).Scan(&c.ID)
	return c, err
}
