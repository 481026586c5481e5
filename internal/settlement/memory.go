package settlement

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/odyssey-erp/backoffice/internal/partner"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// MemoryRepository keeps settlements in process memory.
type MemoryRepository struct {
	mu          sync.Mutex
	settlements map[int64]Settlement
	nextID      int64
	nextAlloc   int64
}

// NewMemoryRepository constructs an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{settlements: make(map[int64]Settlement)}
}

type memoryTx struct {
	repo *MemoryRepository
}

func cloneSettlement(st Settlement) Settlement {
	st.Allocations = append([]Allocation(nil), st.Allocations...)
	return st
}

// WithTx runs fn under the repository lock and rolls back on error.
func (r *MemoryRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	snapshot := make(map[int64]Settlement, len(r.settlements))
	for id, st := range r.settlements {
		snapshot[id] = st
	}
	nextID, nextAlloc := r.nextID, r.nextAlloc
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.settlements = snapshot
		r.nextID, r.nextAlloc = nextID, nextAlloc
		return err
	}
	return nil
}

// Get implements RepositoryPort.
func (r *MemoryRepository) Get(_ context.Context, id int64) (Settlement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.settlements[id]
	if !ok {
		return Settlement{}, ErrSettlementNotFound
	}
	return cloneSettlement(st), nil
}

// ListByPartner implements RepositoryPort.
func (r *MemoryRepository) ListByPartner(_ context.Context, partnerType partner.PartnerType, partnerID int64) ([]Settlement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Settlement
	for _, st := range r.settlements {
		if st.PartnerType == partnerType && st.PartnerID == partnerID {
			out = append(out, cloneSettlement(st))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

// Count reports how many settlements are stored.
func (r *MemoryRepository) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.settlements)
}

func (tx *memoryTx) Insert(_ context.Context, st Settlement) (Settlement, error) {
	for _, existing := range tx.repo.settlements {
		if existing.Number == st.Number {
			return Settlement{}, fmt.Errorf("settlement: number %s: %w", st.Number, shared.ErrDuplicate)
		}
	}
	tx.repo.nextID++
	st = cloneSettlement(st)
	st.ID = tx.repo.nextID
	for i := range st.Allocations {
		tx.repo.nextAlloc++
		st.Allocations[i].ID = tx.repo.nextAlloc
		st.Allocations[i].SettlementID = st.ID
	}
	tx.repo.settlements[st.ID] = st
	return cloneSettlement(st), nil
}

func (tx *memoryTx) Delete(_ context.Context, id int64) error {
	delete(tx.repo.settlements, id)
	return nil
}

func (tx *memoryTx) GetForUpdate(_ context.Context, id int64) (Settlement, error) {
	st, ok := tx.repo.settlements[id]
	if !ok {
		return Settlement{}, ErrSettlementNotFound
	}
	return cloneSettlement(st), nil
}

func (tx *memoryTx) SetStatus(_ context.Context, id int64, status Status, voidedAt *time.Time) error {
	st, ok := tx.repo.settlements[id]
	if !ok {
		return ErrSettlementNotFound
	}
	st.Status = status
	st.VoidedAt = voidedAt
	tx.repo.settlements[id] = st
	return nil
}
