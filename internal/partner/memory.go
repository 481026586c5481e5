package partner

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
)

// MemoryRepository keeps partner accounts in process memory.
type MemoryRepository struct {
	mu       sync.Mutex
	accounts map[int64]Account
	nextID   int64
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
	snapshot := make(map[int64]Account, len(r.accounts))
	for id, acc := range r.accounts {
		snapshot[id] = acc
	}
	nextID := r.nextID
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.accounts = snapshot
		r.nextID = nextID
		return err
	}
	return nil
}

func (r *MemoryRepository) filter(keep func(Account) bool) []Account {
	out := []Account{}
	for _, acc := range r.accounts {
		if keep(acc) {
			out = append(out, acc)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DueDate.Equal(out[j].DueDate) {
			return out[i].DueDate.Before(out[j].DueDate)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Get implements RepositoryPort.
func (r *MemoryRepository) Get(_ context.Context, id int64) (Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	acc, ok := r.accounts[id]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return acc, nil
}

// ListByDocument implements RepositoryPort.
func (r *MemoryRepository) ListByDocument(_ context.Context, docType DocumentType, docID int64) ([]Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.filter(func(a Account) bool { return a.DocumentType == docType && a.DocumentID == docID })
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListOpen implements RepositoryPort.
func (r *MemoryRepository) ListOpen(_ context.Context, partnerType PartnerType, partnerID int64, direction Direction) ([]Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.filter(func(a Account) bool {
		return a.PartnerType == partnerType && a.PartnerID == partnerID && a.Direction == direction && a.Status != StatusPaid
	}), nil
}

// ListOutstanding implements RepositoryPort.
func (r *MemoryRepository) ListOutstanding(_ context.Context, direction Direction) ([]Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.filter(func(a Account) bool { return a.Direction == direction && a.Status != StatusPaid }), nil
}

// All returns every account ordered by id.
func (r *MemoryRepository) All() []Account {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.filter(func(Account) bool { return true })
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (tx *memoryTx) Insert(_ context.Context, acc Account) (Account, error) {
	tx.repo.nextID++
	acc.ID = tx.repo.nextID
	tx.repo.accounts[acc.ID] = acc
	return acc, nil
}

func (tx *memoryTx) InsertWithID(_ context.Context, acc Account) error {
	tx.repo.accounts[acc.ID] = acc
	if acc.ID > tx.repo.nextID {
		tx.repo.nextID = acc.ID
	}
	return nil
}

func (tx *memoryTx) GetForUpdate(_ context.Context, id int64) (Account, error) {
	acc, ok := tx.repo.accounts[id]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return acc, nil
}

func (tx *memoryTx) UpdateSettled(_ context.Context, id int64, settled decimal.Decimal, status Status) error {
	acc, ok := tx.repo.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	acc.Settled = settled
	acc.Status = status
	tx.repo.accounts[id] = acc
	return nil
}

func (tx *memoryTx) ListByDocumentForUpdate(_ context.Context, docType DocumentType, docID int64) ([]Account, error) {
	out := tx.repo.filter(func(a Account) bool { return a.DocumentType == docType && a.DocumentID == docID })
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (tx *memoryTx) DeleteByDocument(_ context.Context, docType DocumentType, docID int64) error {
	for id, acc := range tx.repo.accounts {
		if acc.DocumentType == docType && acc.DocumentID == docID {
			delete(tx.repo.accounts, id)
		}
	}
	return nil
}
