package prize

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepository keeps prize pools in process memory.
type MemoryRepository struct {
	mu    sync.Mutex
	pools map[int64]Pool
	next  int64
}

// NewMemoryRepository constructs an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{pools: make(map[int64]Pool)}
}

type memoryTx struct {
	repo *MemoryRepository
}

// WithTx runs fn under the repository lock and rolls back on error.
func (r *MemoryRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	saved := make(map[int64]Pool, len(r.pools))
	for id, p := range r.pools {
		saved[id] = p
	}
	next := r.next
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.pools, r.next = saved, next
		return err
	}
	return nil
}

// Get implements RepositoryPort.
func (r *MemoryRepository) Get(_ context.Context, id int64) (Pool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pools[id]
	if !ok {
		return Pool{}, ErrPoolNotFound
	}
	return p, nil
}

// List implements RepositoryPort.
func (r *MemoryRepository) List(_ context.Context) ([]Pool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Pool, 0, len(r.pools))
	for _, p := range r.pools {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (tx *memoryTx) Insert(_ context.Context, p Pool) (Pool, error) {
	tx.repo.next++
	p.ID = tx.repo.next
	tx.repo.pools[p.ID] = p
	return p, nil
}

func (tx *memoryTx) GetForUpdate(_ context.Context, id int64) (Pool, error) {
	p, ok := tx.repo.pools[id]
	if !ok {
		return Pool{}, ErrPoolNotFound
	}
	return p, nil
}

func (tx *memoryTx) UpdateRemaining(_ context.Context, id, remaining int64) error {
	p, ok := tx.repo.pools[id]
	if !ok {
		return ErrPoolNotFound
	}
	p.Remaining = remaining
	tx.repo.pools[id] = p
	return nil
}

func (tx *memoryTx) SetActive(_ context.Context, id int64, active bool) error {
	p, ok := tx.repo.pools[id]
	if !ok {
		return ErrPoolNotFound
	}
	p.Active = active
	tx.repo.pools[id] = p
	return nil
}
