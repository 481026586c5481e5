package prize

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Pool, error)
	List(ctx context.Context) ([]Pool, error)
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	Insert(ctx context.Context, p Pool) (Pool, error)
	GetForUpdate(ctx context.Context, id int64) (Pool, error)
	UpdateRemaining(ctx context.Context, id, remaining int64) error
	SetActive(ctx context.Context, id int64, active bool) error
}

// Service owns prize pool counters.
type Service struct {
	repo   RepositoryPort
	audit  shared.AuditPort
	clock  shared.Clock
	logger *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit shared.AuditPort, clock shared.Clock, logger *slog.Logger) *Service {
	if clock == nil {
		clock = shared.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, clock: clock, logger: logger}
}

// CreatePool registers an active pool.
func (s *Service) CreatePool(ctx context.Context, input PoolInput) (Pool, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return Pool{}, shared.Invalid("name", "required")
	}
	if input.Remaining < 0 {
		return Pool{}, ErrInvalidQuantity
	}
	var pool Pool
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		pool, err = tx.Insert(ctx, Pool{Name: name, Remaining: input.Remaining, Active: true, UpdatedAt: s.clock.Now()})
		return err
	})
	return pool, err
}

// Get returns one pool.
func (s *Service) Get(ctx context.Context, id int64) (Pool, error) {
	return s.repo.Get(ctx, id)
}

// List returns every pool ordered by id.
func (s *Service) List(ctx context.Context) ([]Pool, error) {
	return s.repo.List(ctx)
}

// CheckAvailable is the read-only pre-check used before a sale commits anything.
func (s *Service) CheckAvailable(ctx context.Context, id, qty int64) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	pool, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if !pool.Active {
		return fmt.Errorf("%w: %s", ErrPoolInactive, pool.Name)
	}
	if pool.Remaining < qty {
		return fmt.Errorf("%w: %s has %d, need %d", ErrPoolExhausted, pool.Name, pool.Remaining, qty)
	}
	return nil
}

// Deduct consumes qty prizes under the pool row lock.
func (s *Service) Deduct(ctx context.Context, id, qty int64) (Pool, error) {
	if qty <= 0 {
		return Pool{}, ErrInvalidQuantity
	}
	return s.move(ctx, "prize:deduct", id, -qty)
}

// Restore returns qty prizes to the pool. Inactive pools still accept restores.
func (s *Service) Restore(ctx context.Context, id, qty int64) (Pool, error) {
	if qty <= 0 {
		return Pool{}, ErrInvalidQuantity
	}
	return s.move(ctx, "prize:restore", id, qty)
}

// Close stops further deductions.
func (s *Service) Close(ctx context.Context, id int64) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetForUpdate(ctx, id); err != nil {
			return err
		}
		return tx.SetActive(ctx, id, false)
	})
}

func (s *Service) move(ctx context.Context, action string, id, delta int64) (Pool, error) {
	var pool Pool
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		pool, err = tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if delta < 0 {
			if !pool.Active {
				return fmt.Errorf("%w: %s", ErrPoolInactive, pool.Name)
			}
			if pool.Remaining+delta < 0 {
				return fmt.Errorf("%w: %s has %d, need %d", ErrPoolExhausted, pool.Name, pool.Remaining, -delta)
			}
		}
		pool.Remaining += delta
		pool.UpdatedAt = s.clock.Now()
		return tx.UpdateRemaining(ctx, id, pool.Remaining)
	})
	if err != nil {
		return Pool{}, err
	}
	if s.audit != nil {
		if aerr := s.audit.Record(ctx, shared.AuditLog{
			Action:   action,
			Entity:   "prize_pool",
			EntityID: fmt.Sprintf("%d", id),
			Meta:     map[string]any{"delta": delta, "remaining": pool.Remaining},
		}); aerr != nil {
			s.logger.Warn("prize audit", slog.Any("error", aerr))
		}
	}
	return pool, nil
}
