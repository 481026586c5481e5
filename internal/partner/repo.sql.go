package partner

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/platform/db"
)

// Repository persists partner accounts in PostgreSQL.
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

var errRepoNotInitialised = errors.New("partner repository not initialised")

const accountColumns = `id, partner_type, partner_id, direction, ref_type, ref_id, document_type, document_id, amount, settled, status, due_date, created_at`

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	var partnerType, direction, refType, docType, status string
	err := row.Scan(&a.ID, &partnerType, &a.PartnerID, &direction, &refType, &a.RefID, &docType, &a.DocumentID, &a.Amount, &a.Settled, &status, &a.DueDate, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, err
	}
	a.PartnerType = PartnerType(partnerType)
	a.Direction = Direction(direction)
	a.RefType = RefType(refType)
	a.DocumentType = DocumentType(docType)
	a.Status = Status(status)
	return a, nil
}

func collectAccounts(rows pgx.Rows) ([]Account, error) {
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
func (r *Repository) Get(ctx context.Context, id int64) (Account, error) {
	if r == nil {
		return Account{}, errRepoNotInitialised
	}
	return db.RetryRead(ctx, 3, func(ctx context.Context) (Account, error) {
		return scanAccount(r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM partner_accounts WHERE id=$1`, id))
	})
}

// ListByDocument implements RepositoryPort.
func (r *Repository) ListByDocument(ctx context.Context, docType DocumentType, docID int64) ([]Account, error) {
	if r == nil {
		return nil, errRepoNotInitialised
	}
	return db.RetryRead(ctx, 3, func(ctx context.Context) ([]Account, error) {
		rows, err := r.pool.Query(ctx, `SELECT `+accountColumns+` FROM partner_accounts WHERE document_type=$1 AND document_id=$2 ORDER BY id`, string(docType), docID)
		if err != nil {
			return nil, err
		}
		return collectAccounts(rows)
	})
}

// ListOpen implements RepositoryPort.
func (r *Repository) ListOpen(ctx context.Context, partnerType PartnerType, partnerID int64, direction Direction) ([]Account, error) {
	if r == nil {
		return nil, errRepoNotInitialised
	}
	return db.RetryRead(ctx, 3, func(ctx context.Context) ([]Account, error) {
		rows, err := r.pool.Query(ctx, `SELECT `+accountColumns+` FROM partner_accounts
WHERE partner_type=$1 AND partner_id=$2 AND direction=$3 AND status <> 'paid'
ORDER BY due_date, id`, string(partnerType), partnerID, string(direction))
		if err != nil {
			return nil, err
		}
		return collectAccounts(rows)
	})
}

// ListOutstanding implements RepositoryPort.
func (r *Repository) ListOutstanding(ctx context.Context, direction Direction) ([]Account, error) {
	if r == nil {
		return nil, errRepoNotInitialised
	}
	rows, err := r.pool.Query(ctx, `SELECT `+accountColumns+` FROM partner_accounts WHERE direction=$1 AND status <> 'paid' ORDER BY due_date, id`, string(direction))
	if err != nil {
		return nil, err
	}
	return collectAccounts(rows)
}

func (r *txRepository) Insert(ctx context.Context, a Account) (Account, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO partner_accounts (partner_type, partner_id, direction, ref_type, ref_id, document_type, document_id, amount, settled, status, due_date, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12) RETURNING id`,
		string(a.PartnerType), a.PartnerID, string(a.Direction), string(a.RefType), a.RefID, string(a.DocumentType), a.DocumentID, a.Amount, a.Settled, string(a.Status), a.DueDate, a.CreatedAt).Scan(&a.ID)
	return a, err
}

func (r *txRepository) InsertWithID(ctx context.Context, a Account) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO partner_accounts (id, partner_type, partner_id, direction, ref_type, ref_id, document_type, document_id, amount, settled, status, due_date, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		a.ID, string(a.PartnerType), a.PartnerID, string(a.Direction), string(a.RefType), a.RefID, string(a.DocumentType), a.DocumentID, a.Amount, a.Settled, string(a.Status), a.DueDate, a.CreatedAt)
	return err
}

func (r *txRepository) GetForUpdate(ctx context.Context, id int64) (Account, error) {
	return scanAccount(r.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM partner_accounts WHERE id=$1 FOR UPDATE`, id))
}

func (r *txRepository) UpdateSettled(ctx context.Context, id int64, settled decimal.Decimal, status Status) error {
	tag, err := r.tx.Exec(ctx, `UPDATE partner_accounts SET settled=$2, status=$3 WHERE id=$1`, id, settled, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (r *txRepository) ListByDocumentForUpdate(ctx context.Context, docType DocumentType, docID int64) ([]Account, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+accountColumns+` FROM partner_accounts WHERE document_type=$1 AND document_id=$2 ORDER BY id FOR UPDATE`, string(docType), docID)
	if err != nil {
		return nil, err
	}
	return collectAccounts(rows)
}

func (r *txRepository) DeleteByDocument(ctx context.Context, docType DocumentType, docID int64) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM partner_accounts WHERE document_type=$1 AND document_id=$2`, string(docType), docID)
	return err
}
