package procurement

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

// MemoryRepository keeps purchases in process memory.
type MemoryRepository struct {
	mu          sync.Mutex
	purchases   map[int64]Purchase
	nextID      int64
	nextItem    int64
	nextPayment int64
}

// NewMemoryRepository constructs an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{purchases: make(map[int64]Purchase)}
}

type memoryTx struct {
	repo *MemoryRepository
}

func clonePurchase(p Purchase) Purchase {
	p.Items = append([]Item(nil), p.Items...)
	p.Payments = append([]Payment(nil), p.Payments...)
	if p.ApprovedAt != nil {
		at := *p.ApprovedAt
		p.ApprovedAt = &at
	}
	return p
}

// WithTx runs fn under the repository lock and rolls back on error.
func (r *MemoryRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	saved := make(map[int64]Purchase, len(r.purchases))
	for id, p := range r.purchases {
		saved[id] = clonePurchase(p)
	}
	nextID, nextItem, nextPayment := r.nextID, r.nextItem, r.nextPayment
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.purchases = saved
		r.nextID, r.nextItem, r.nextPayment = nextID, nextItem, nextPayment
		return err
	}
	return nil
}

// Get implements RepositoryPort.
func (r *MemoryRepository) Get(_ context.Context, id int64) (Purchase, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.purchases[id]
	if !ok {
		return Purchase{}, ErrPurchaseNotFound
	}
	return clonePurchase(p), nil
}

// List implements RepositoryPort.
func (r *MemoryRepository) List(_ context.Context, offset, limit int) ([]Purchase, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := make([]Purchase, 0, len(r.purchases))
	for _, p := range r.purchases {
		all = append(all, clonePurchase(p))
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	total := len(all)
	if offset >= total {
		return []Purchase{}, total, nil
	}
	return all[offset:min(offset+limit, total)], total, nil
}

// Count returns the number of stored purchases.
func (r *MemoryRepository) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.purchases)
}

func (tx *memoryTx) InsertPurchase(_ context.Context, p Purchase) (Purchase, error) {
	for _, existing := range tx.repo.purchases {
		if existing.Number == p.Number {
			return Purchase{}, fmt.Errorf("procurement: number %s: %w", p.Number, shared.ErrDuplicate)
		}
	}
	tx.repo.nextID++
	p.ID = tx.repo.nextID
	items := make([]Item, len(p.Items))
	for i, it := range p.Items {
		tx.repo.nextItem++
		it.ID = tx.repo.nextItem
		it.PurchaseID = p.ID
		items[i] = it
	}
	p.Items = items
	p.Payments = nil
	tx.repo.purchases[p.ID] = p
	return clonePurchase(p), nil
}

func (tx *memoryTx) GetForUpdate(_ context.Context, id int64) (Purchase, error) {
	p, ok := tx.repo.purchases[id]
	if !ok {
		return Purchase{}, ErrPurchaseNotFound
	}
	return clonePurchase(p), nil
}

func (tx *memoryTx) UpdatePurchase(_ context.Context, p Purchase) error {
	existing, ok := tx.repo.purchases[p.ID]
	if !ok {
		return ErrPurchaseNotFound
	}
	p.Items, p.Payments = existing.Items, existing.Payments
	tx.repo.purchases[p.ID] = clonePurchase(p)
	return nil
}

func (tx *memoryTx) UpdateItem(_ context.Context, it Item) error {
	p, ok := tx.repo.purchases[it.PurchaseID]
	if !ok {
		return ErrPurchaseNotFound
	}
	idx := itemIndex(p.Items, it.ID)
	if idx < 0 {
		return ErrItemNotFound
	}
	p = clonePurchase(p)
	p.Items[idx] = it
	tx.repo.purchases[it.PurchaseID] = p
	return nil
}

func (tx *memoryTx) InsertPayment(_ context.Context, pay Payment) (Payment, error) {
	p, ok := tx.repo.purchases[pay.PurchaseID]
	if !ok {
		return Payment{}, ErrPurchaseNotFound
	}
	p = clonePurchase(p)
	tx.repo.nextPayment++
	pay.ID = tx.repo.nextPayment
	p.Payments = append(p.Payments, pay)
	tx.repo.purchases[pay.PurchaseID] = p
	return pay, nil
}

func (tx *memoryTx) findPayment(paymentID int64) (int64, int) {
	for id, p := range tx.repo.purchases {
		for i := range p.Payments {
			if p.Payments[i].ID == paymentID {
				return id, i
			}
		}
	}
	return 0, -1
}

func (tx *memoryTx) SetPaymentTransaction(_ context.Context, paymentID, txID int64) error {
	id, idx := tx.findPayment(paymentID)
	if idx < 0 {
		return fmt.Errorf("procurement: payment %d: %w", paymentID, shared.ErrNotFound)
	}
	p := clonePurchase(tx.repo.purchases[id])
	p.Payments[idx].CashTransactionID = txID
	tx.repo.purchases[id] = p
	return nil
}

func (tx *memoryTx) DeletePayment(_ context.Context, paymentID int64) error {
	id, idx := tx.findPayment(paymentID)
	if idx < 0 {
		return nil
	}
	p := clonePurchase(tx.repo.purchases[id])
	p.Payments = append(p.Payments[:idx], p.Payments[idx+1:]...)
	tx.repo.purchases[id] = p
	return nil
}

func (tx *memoryTx) DeletePurchase(_ context.Context, id int64) error {
	delete(tx.repo.purchases, id)
	return nil
}

func (tx *memoryTx) RestorePurchase(_ context.Context, p Purchase) error {
	if _, ok := tx.repo.purchases[p.ID]; ok {
		return nil
	}
	tx.repo.purchases[p.ID] = clonePurchase(p)
	return nil
}
