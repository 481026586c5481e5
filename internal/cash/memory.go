package cash

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

// MemoryRepository keeps cash accounts in process memory.
type MemoryRepository struct {
	mu       sync.Mutex
	accounts map[int64]Account
	txs      []Transaction
	nextAcc  int64
	nextTx   int64
}

// NewMemoryRepository constructs an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{accounts: make(map[int64]Account)}
}

type memoryTx struct {
	repo *MemoryRepository
}

// WithTx runs fn under the repository lock and rolls back on error.
func (r *MemoryRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	accounts := make(map[int64]Account, len(r.accounts))
	for id, a := range r.accounts {
		accounts[id] = a
	}
	txLen, nextAcc, nextTx := len(r.txs), r.nextAcc, r.nextTx
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.accounts = accounts
		r.txs = r.txs[:txLen]
		r.nextAcc, r.nextTx = nextAcc, nextTx
		return err
	}
	return nil
}

// GetAccount implements RepositoryPort.
func (r *MemoryRepository) GetAccount(_ context.Context, id int64) (Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return a, nil
}

// ListAccounts implements RepositoryPort.
func (r *MemoryRepository) ListAccounts(_ context.Context, activeOnly bool) ([]Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []Account{}
	for _, a := range r.accounts {
		if activeOnly && !a.Active {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetTransaction implements RepositoryPort.
func (r *MemoryRepository) GetTransaction(_ context.Context, id int64) (Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.findTx(id)
}

// ListTransactions implements RepositoryPort.
func (r *MemoryRepository) ListTransactions(_ context.Context, accountID int64, offset, limit int) ([]Transaction, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	matched := []Transaction{}
	for i := len(r.txs) - 1; i >= 0; i-- {
		if r.txs[i].AccountID == accountID {
			matched = append(matched, r.txs[i])
		}
	}
	total := len(matched)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

// Deactivate marks an account inactive.
func (r *MemoryRepository) Deactivate(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a := r.accounts[id]
	a.Active = false
	r.accounts[id] = a
}

func (r *MemoryRepository) findTx(id int64) (Transaction, error) {
	for _, t := range r.txs {
		if t.ID == id {
			return t, nil
		}
	}
	return Transaction{}, ErrTransactionNotFound
}

func (tx *memoryTx) InsertAccount(_ context.Context, a Account) (Account, error) {
	tx.repo.nextAcc++
	a.ID = tx.repo.nextAcc
	tx.repo.accounts[a.ID] = a
	return a, nil
}

func (tx *memoryTx) GetAccountForUpdate(_ context.Context, id int64) (Account, error) {
	a, ok := tx.repo.accounts[id]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return a, nil
}

func (tx *memoryTx) FindActiveAccountByName(_ context.Context, name string) (Account, bool, error) {
	var match Account
	found := false
	for _, a := range tx.repo.accounts {
		if !a.Active || !strings.EqualFold(a.Name, name) {
			continue
		}
		if !found || a.ID < match.ID {
			match, found = a, true
		}
	}
	return match, found, nil
}

func (tx *memoryTx) UpdateBalance(_ context.Context, id int64, balance decimal.Decimal) error {
	a, ok := tx.repo.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	a.Balance = balance
	tx.repo.accounts[id] = a
	return nil
}

func (tx *memoryTx) InsertTransaction(_ context.Context, t Transaction) (Transaction, error) {
	tx.repo.nextTx++
	t.ID = tx.repo.nextTx
	tx.repo.txs = append(tx.repo.txs, t)
	return t, nil
}

func (tx *memoryTx) GetTransaction(_ context.Context, id int64) (Transaction, error) {
	return tx.repo.findTx(id)
}

func (tx *memoryTx) FindReversal(_ context.Context, txID int64) (Transaction, bool, error) {
	for _, t := range tx.repo.txs {
		if t.ReversalOf == txID {
			return t, true, nil
		}
	}
	return Transaction{}, false, nil
}
