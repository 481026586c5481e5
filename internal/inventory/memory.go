package inventory

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
)

// MemoryRepository keeps inventory state in process memory. Transactions are serialized
// by a single mutex and rolled back from a snapshot when the callback fails.
type MemoryRepository struct {
	mu       sync.Mutex
	products map[int64]Product
	log      []LogEntry
	nextID   int64
	nextLog  int64
}

// NewMemoryRepository constructs an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{products: make(map[int64]Product)}
}

type memoryTx struct {
	repo *MemoryRepository
}

// WithTx runs fn while holding the repository lock.
func (r *MemoryRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	products := make(map[int64]Product, len(r.products))
	for id, p := range r.products {
		products[id] = p
	}
	logLen, nextID, nextLog := len(r.log), r.nextID, r.nextLog
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.products = products
		r.log = r.log[:logLen]
		r.nextID, r.nextLog = nextID, nextLog
		return err
	}
	return nil
}

// GetProduct implements RepositoryPort.
func (r *MemoryRepository) GetProduct(_ context.Context, id int64) (Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.products[id]
	if !ok {
		return Product{}, ErrProductNotFound
	}
	return p, nil
}

// ListProductIDs implements RepositoryPort.
func (r *MemoryRepository) ListProductIDs(context.Context) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]int64, 0, len(r.products))
	for id := range r.products {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// ListLog implements RepositoryPort.
func (r *MemoryRepository) ListLog(_ context.Context, productID int64, limit int) ([]LogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := []LogEntry{}
	for i := len(r.log) - 1; i >= 0 && len(entries) < limit; i-- {
		if r.log[i].ProductID == productID {
			entries = append(entries, r.log[i])
		}
	}
	return entries, nil
}

// SumDeltas implements RepositoryPort.
func (r *MemoryRepository) SumDeltas(_ context.Context, productID int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var total int64
	for _, e := range r.log {
		if e.ProductID == productID {
			total += e.Delta
		}
	}
	return total, nil
}

// ForceStock overwrites a product's stock without logging. Used to simulate drift.
func (r *MemoryRepository) ForceStock(id, stock int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.products[id]
	p.Stock = stock
	r.products[id] = p
}

func (tx *memoryTx) InsertProduct(_ context.Context, p Product) (Product, error) {
	tx.repo.nextID++
	p.ID = tx.repo.nextID
	tx.repo.products[p.ID] = p
	return p, nil
}

func (tx *memoryTx) GetProductForUpdate(_ context.Context, id int64) (Product, error) {
	p, ok := tx.repo.products[id]
	if !ok {
		return Product{}, ErrProductNotFound
	}
	return p, nil
}

func (tx *memoryTx) UpdateProductStock(_ context.Context, id int64, stock int64, avgCost decimal.Decimal) error {
	p, ok := tx.repo.products[id]
	if !ok {
		return ErrProductNotFound
	}
	p.Stock = stock
	p.AvgCost = avgCost
	tx.repo.products[id] = p
	return nil
}

func (tx *memoryTx) AppendLog(_ context.Context, e LogEntry) (LogEntry, error) {
	tx.repo.nextLog++
	e.ID = tx.repo.nextLog
	tx.repo.log = append(tx.repo.log, e)
	return e, nil
}
