package sales

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

// MemoryRepository keeps sales in process memory.
type MemoryRepository struct {
	mu          sync.Mutex
	sales       map[int64]Sale
	nextSale    int64
	nextItem    int64
	nextPayment int64
}

// NewMemoryRepository constructs an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{sales: make(map[int64]Sale)}
}

type memoryTx struct {
	repo *MemoryRepository
}

func cloneSale(s Sale) Sale {
	s.Items = append([]Item(nil), s.Items...)
	s.Payments = append([]Payment(nil), s.Payments...)
	return s
}

// WithTx runs fn under the repository lock and rolls back on error.
func (r *MemoryRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	saved := make(map[int64]Sale, len(r.sales))
	for id, s := range r.sales {
		saved[id] = cloneSale(s)
	}
	nextSale, nextItem, nextPayment := r.nextSale, r.nextItem, r.nextPayment
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.sales = saved
		r.nextSale, r.nextItem, r.nextPayment = nextSale, nextItem, nextPayment
		return err
	}
	return nil
}

// Get implements RepositoryPort.
func (r *MemoryRepository) Get(_ context.Context, id int64) (Sale, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sales[id]
	if !ok {
		return Sale{}, ErrSaleNotFound
	}
	return cloneSale(s), nil
}

// GetItem implements RepositoryPort.
func (r *MemoryRepository) GetItem(_ context.Context, id int64) (Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sales {
		for _, it := range s.Items {
			if it.ID == id {
				return it, nil
			}
		}
	}
	return Item{}, ErrItemNotFound
}

// List implements RepositoryPort.
func (r *MemoryRepository) List(_ context.Context, offset, limit int) ([]Sale, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := make([]Sale, 0, len(r.sales))
	for _, s := range r.sales {
		all = append(all, cloneSale(s))
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	total := len(all)
	if offset >= total {
		return []Sale{}, total, nil
	}
	end := min(offset+limit, total)
	return all[offset:end], total, nil
}

// Count returns the number of stored sales.
func (r *MemoryRepository) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sales)
}

func (tx *memoryTx) InsertSale(_ context.Context, s Sale) (Sale, error) {
	for _, existing := range tx.repo.sales {
		if existing.Number == s.Number {
			return Sale{}, fmt.Errorf("sales: number %s: %w", s.Number, shared.ErrDuplicate)
		}
	}
	tx.repo.nextSale++
	s.ID = tx.repo.nextSale
	s.Items, s.Payments = nil, nil
	tx.repo.sales[s.ID] = s
	return s, nil
}

func (tx *memoryTx) InsertItems(_ context.Context, saleID int64, items []Item) ([]Item, error) {
	s, ok := tx.repo.sales[saleID]
	if !ok {
		return nil, ErrSaleNotFound
	}
	s = cloneSale(s)
	stored := make([]Item, len(items))
	for i, it := range items {
		tx.repo.nextItem++
		it.ID = tx.repo.nextItem
		it.SaleID = saleID
		stored[i] = it
	}
	s.Items = append(s.Items, stored...)
	tx.repo.sales[saleID] = s
	return append([]Item(nil), stored...), nil
}

func (tx *memoryTx) InsertPayment(_ context.Context, p Payment) (Payment, error) {
	s, ok := tx.repo.sales[p.SaleID]
	if !ok {
		return Payment{}, ErrSaleNotFound
	}
	s = cloneSale(s)
	tx.repo.nextPayment++
	p.ID = tx.repo.nextPayment
	s.Payments = append(s.Payments, p)
	tx.repo.sales[p.SaleID] = s
	return p, nil
}

func (tx *memoryTx) SetPaymentTransaction(_ context.Context, paymentID, txID int64) error {
	for id, s := range tx.repo.sales {
		for i := range s.Payments {
			if s.Payments[i].ID == paymentID {
				s = cloneSale(s)
				s.Payments[i].CashTransactionID = txID
				tx.repo.sales[id] = s
				return nil
			}
		}
	}
	return fmt.Errorf("sales: payment %d: %w", paymentID, shared.ErrNotFound)
}

func (tx *memoryTx) GetForUpdate(_ context.Context, id int64) (Sale, error) {
	s, ok := tx.repo.sales[id]
	if !ok {
		return Sale{}, ErrSaleNotFound
	}
	return cloneSale(s), nil
}

func (tx *memoryTx) UpdateSale(_ context.Context, s Sale) error {
	existing, ok := tx.repo.sales[s.ID]
	if !ok {
		return ErrSaleNotFound
	}
	s.Items, s.Payments = existing.Items, existing.Payments
	tx.repo.sales[s.ID] = cloneSale(s)
	return nil
}

func (tx *memoryTx) UpdateItem(_ context.Context, it Item) error {
	s, ok := tx.repo.sales[it.SaleID]
	if !ok {
		return ErrSaleNotFound
	}
	idx := itemIndex(s.Items, it.ID)
	if idx < 0 {
		return ErrItemNotFound
	}
	s = cloneSale(s)
	s.Items[idx] = it
	tx.repo.sales[it.SaleID] = s
	return nil
}

func (tx *memoryTx) DeleteItems(_ context.Context, saleID int64) error {
	s, ok := tx.repo.sales[saleID]
	if !ok {
		return nil
	}
	s = cloneSale(s)
	s.Items = nil
	tx.repo.sales[saleID] = s
	return nil
}

func (tx *memoryTx) DeleteSale(_ context.Context, id int64) error {
	delete(tx.repo.sales, id)
	return nil
}

func (tx *memoryTx) RestoreSale(_ context.Context, s Sale) error {
	if _, ok := tx.repo.sales[s.ID]; ok {
		return nil
	}
	tx.repo.sales[s.ID] = cloneSale(s)
	return nil
}
