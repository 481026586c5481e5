package delivery

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

// MemoryRepository keeps deliveries in process memory.
type MemoryRepository struct {
	mu         sync.Mutex
	deliveries map[int64]Delivery
	nextID     int64
	nextItem   int64
}

// NewMemoryRepository constructs an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{deliveries: make(map[int64]Delivery)}
}

type memoryTx struct {
	repo *MemoryRepository
}

func cloneDelivery(d Delivery) Delivery {
	d.Items = append([]Item(nil), d.Items...)
	return d
}

// WithTx runs fn under the repository lock and rolls back on error.
func (r *MemoryRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	saved := make(map[int64]Delivery, len(r.deliveries))
	for id, d := range r.deliveries {
		saved[id] = cloneDelivery(d)
	}
	nextID, nextItem := r.nextID, r.nextItem
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.deliveries = saved
		r.nextID, r.nextItem = nextID, nextItem
		return err
	}
	return nil
}

// Get implements RepositoryPort.
func (r *MemoryRepository) Get(_ context.Context, id int64) (Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.deliveries[id]
	if !ok {
		return Delivery{}, ErrDeliveryNotFound
	}
	return cloneDelivery(d), nil
}

// ListBySale implements RepositoryPort.
func (r *MemoryRepository) ListBySale(_ context.Context, saleID int64) ([]Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listBySale(saleID), nil
}

func (r *MemoryRepository) listBySale(saleID int64) []Delivery {
	out := []Delivery{}
	for _, d := range r.deliveries {
		if d.SaleID == saleID {
			out = append(out, cloneDelivery(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of stored deliveries.
func (r *MemoryRepository) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.deliveries)
}

func (tx *memoryTx) Insert(_ context.Context, d Delivery) (Delivery, error) {
	for _, existing := range tx.repo.deliveries {
		if existing.Number == d.Number {
			return Delivery{}, fmt.Errorf("delivery: number %s: %w", d.Number, shared.ErrDuplicate)
		}
	}
	tx.repo.nextID++
	d.ID = tx.repo.nextID
	d.Items = append([]Item(nil), d.Items...)
	for i := range d.Items {
		tx.repo.nextItem++
		d.Items[i].ID = tx.repo.nextItem
		d.Items[i].DeliveryID = d.ID
	}
	tx.repo.deliveries[d.ID] = cloneDelivery(d)
	return d, nil
}

func (tx *memoryTx) InsertWithID(_ context.Context, d Delivery) error {
	tx.repo.deliveries[d.ID] = cloneDelivery(d)
	return nil
}

func (tx *memoryTx) GetForUpdate(_ context.Context, id int64) (Delivery, error) {
	d, ok := tx.repo.deliveries[id]
	if !ok {
		return Delivery{}, ErrDeliveryNotFound
	}
	return cloneDelivery(d), nil
}

func (tx *memoryTx) FindDraftForUpdate(_ context.Context, saleID int64) (Delivery, bool, error) {
	for _, d := range tx.repo.listBySale(saleID) {
		if d.Status == StatusDraft {
			return d, true, nil
		}
	}
	return Delivery{}, false, nil
}

func (tx *memoryTx) ListBySaleForUpdate(_ context.Context, saleID int64) ([]Delivery, error) {
	return tx.repo.listBySale(saleID), nil
}

func (tx *memoryTx) UpdateItemQuantity(_ context.Context, itemID, qty int64) error {
	for id, d := range tx.repo.deliveries {
		for i := range d.Items {
			if d.Items[i].ID == itemID {
				d = cloneDelivery(d)
				d.Items[i].Quantity = qty
				tx.repo.deliveries[id] = d
				return nil
			}
		}
	}
	return ErrDeliveryNotFound
}

func (tx *memoryTx) Delete(_ context.Context, id int64) error {
	delete(tx.repo.deliveries, id)
	return nil
}
