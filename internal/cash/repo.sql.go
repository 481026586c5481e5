package cash

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/platform/db"
)

// Repository persists cash accounts in PostgreSQL.
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

var errRepoNotInitialised = errors.New("cash repository not initialised")

const (
	accountColumns     = `id, name, type, balance, allow_negative, active, created_at`
	transactionColumns = `id, account_id, direction, amount, tx_type, ref_id, note, balance_before, balance_after, COALESCE(reversal_of, 0), created_at`
)

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	var typ string
	if err := row.Scan(&a.ID, &a.Name, &typ, &a.Balance, &a.AllowNegative, &a.Active, &a.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, err
	}
	a.Type = AccountType(typ)
	return a, nil
}

func scanTransaction(row pgx.Row) (Transaction, error) {
	var t Transaction
	var dir, txType string
	if err := row.Scan(&t.ID, &t.AccountID, &dir, &t.Amount, &txType, &t.RefID, &t.Note, &t.BalanceBefore, &t.BalanceAfter, &t.ReversalOf, &t.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, ErrTransactionNotFound
		}
		return Transaction{}, err
	}
	t.Direction = Direction(dir)
	t.TxType = TxType(txType)
	return t, nil
}

func nullID(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return &id
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

// GetAccount implements RepositoryPort.
func (r *Repository) GetAccount(ctx context.Context, id int64) (Account, error) {
	if r == nil {
		return Account{}, errRepoNotInitialised
	}
	return db.RetryRead(ctx, 3, func(ctx context.Context) (Account, error) {
		return scanAccount(r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM cash_accounts WHERE id=$1`, id))
	})
}

// ListAccounts implements RepositoryPort.
func (r *Repository) ListAccounts(ctx context.Context, activeOnly bool) ([]Account, error) {
	if r == nil {
		return nil, errRepoNotInitialised
	}
	rows, err := r.pool.Query(ctx, `SELECT `+accountColumns+` FROM cash_accounts WHERE ($1 = false OR active) ORDER BY id`, activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	accounts := []Account{}
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, acc)
	}
	return accounts, rows.Err()
}

// GetTransaction implements RepositoryPort.
func (r *Repository) GetTransaction(ctx context.Context, id int64) (Transaction, error) {
	if r == nil {
		return Transaction{}, errRepoNotInitialised
	}
	return db.RetryRead(ctx, 3, func(ctx context.Context) (Transaction, error) {
		return scanTransaction(r.pool.QueryRow(ctx, `SELECT `+transactionColumns+` FROM cash_transactions WHERE id=$1`, id))
	})
}

// ListTransactions implements RepositoryPort.
func (r *Repository) ListTransactions(ctx context.Context, accountID int64, offset, limit int) ([]Transaction, int, error) {
	if r == nil {
		return nil, 0, errRepoNotInitialised
	}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM cash_transactions WHERE account_id=$1`, accountID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+transactionColumns+` FROM cash_transactions WHERE account_id=$1 ORDER BY id DESC OFFSET $2 LIMIT $3`, accountID, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	txs := []Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, 0, err
		}
		txs = append(txs, t)
	}
	return txs, total, rows.Err()
}

func (r *txRepository) InsertAccount(ctx context.Context, a Account) (Account, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO cash_accounts (name, type, balance, allow_negative, active, created_at)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`, a.Name, string(a.Type), a.Balance, a.AllowNegative, a.Active, a.CreatedAt).Scan(&a.ID)
	return a, err
}

func (r *txRepository) GetAccountForUpdate(ctx context.Context, id int64) (Account, error) {
	return scanAccount(r.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM cash_accounts WHERE id=$1 FOR UPDATE`, id))
}

func (r *txRepository) FindActiveAccountByName(ctx context.Context, name string) (Account, bool, error) {
	acc, err := scanAccount(r.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM cash_accounts WHERE active AND lower(name)=lower($1) ORDER BY id LIMIT 1`, name))
	if errors.Is(err, ErrAccountNotFound) {
		return Account{}, false, nil
	}
	if err != nil {
		return Account{}, false, err
	}
	return acc, true, nil
}

func (r *txRepository) UpdateBalance(ctx context.Context, id int64, balance decimal.Decimal) error {
	tag, err := r.tx.Exec(ctx, `UPDATE cash_accounts SET balance=$2 WHERE id=$1`, id, balance)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (r *txRepository) InsertTransaction(ctx context.Context, t Transaction) (Transaction, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO cash_transactions (account_id, direction, amount, tx_type, ref_id, note, balance_before, balance_after, reversal_of, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) RETURNING id`,
		t.AccountID, string(t.Direction), t.Amount, string(t.TxType), t.RefID, t.Note, t.BalanceBefore, t.BalanceAfter, nullID(t.ReversalOf), t.CreatedAt).Scan(&t.ID)
	return t, err
}

func (r *txRepository) GetTransaction(ctx context.Context, id int64) (Transaction, error) {
	return scanTransaction(r.tx.QueryRow(ctx, `SELECT `+transactionColumns+` FROM cash_transactions WHERE id=$1`, id))
}

func (r *txRepository) FindReversal(ctx context.Context, txID int64) (Transaction, bool, error) {
	t, err := scanTransaction(r.tx.QueryRow(ctx, `SELECT `+transactionColumns+` FROM cash_transactions WHERE reversal_of=$1`, txID))
	if errors.Is(err, ErrTransactionNotFound) {
		return Transaction{}, false, nil
	}
	if err != nil {
		return Transaction{}, false, err
	}
	return t, true, nil
}
