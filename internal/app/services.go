package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/backoffice/internal/audit"
	"github.com/odyssey-erp/backoffice/internal/cash"
	"github.com/odyssey-erp/backoffice/internal/delivery"
	"github.com/odyssey-erp/backoffice/internal/inventory"
	"github.com/odyssey-erp/backoffice/internal/numbering"
	"github.com/odyssey-erp/backoffice/internal/observability"
	"github.com/odyssey-erp/backoffice/internal/partner"
	"github.com/odyssey-erp/backoffice/internal/points"
	"github.com/odyssey-erp/backoffice/internal/prize"
	"github.com/odyssey-erp/backoffice/internal/procurement"
	"github.com/odyssey-erp/backoffice/internal/saga"
	"github.com/odyssey-erp/backoffice/internal/sales"
	"github.com/odyssey-erp/backoffice/internal/settlement"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// Backends are the external resources services are built on. Pool is required for the
// postgres driver; Redis enables distributed locks and the redis numbering backend.
type Backends struct {
	Pool     *pgxpool.Pool
	Redis    redis.UniversalClient
	Metrics  *observability.Metrics
	Reporter saga.Reporter
	Clock    shared.Clock
}

// IdempotencyCleaner is implemented by both idempotency stores.
type IdempotencyCleaner interface {
	shared.IdempotencyPort
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Services is the wired service graph.
type Services struct {
	Inventory   *inventory.Service
	Cash        *cash.Service
	Partners    *partner.Service
	Settlements *settlement.Service
	Points      *points.Service
	Prizes      *prize.Service
	Deliveries  *delivery.Service
	Sales       *sales.Service
	Procurement *procurement.Service
	Audit       *audit.Service
	Idempotency IdempotencyCleaner
	Runner      *saga.Runner
}

type repositories struct {
	inventory   inventory.RepositoryPort
	cash        cash.RepositoryPort
	partners    partner.RepositoryPort
	settlements settlement.RepositoryPort
	points      points.RepositoryPort
	prizes      prize.RepositoryPort
	deliveries  delivery.RepositoryPort
	sales       sales.RepositoryPort
	procurement procurement.RepositoryPort
	idempotency IdempotencyCleaner
	audit       shared.AuditPort
	auditReader audit.Repository
}

func memoryRepositories() repositories {
	auditLog := &shared.MemoryAuditLog{}
	return repositories{
		inventory:   inventory.NewMemoryRepository(),
		cash:        cash.NewMemoryRepository(),
		partners:    partner.NewMemoryRepository(),
		settlements: settlement.NewMemoryRepository(),
		points:      points.NewMemoryRepository(),
		prizes:      prize.NewMemoryRepository(),
		deliveries:  delivery.NewMemoryRepository(),
		sales:       sales.NewMemoryRepository(),
		procurement: procurement.NewMemoryRepository(),
		idempotency: shared.NewMemoryIdempotencyStore(),
		audit:       auditLog,
		auditReader: audit.NewMemoryRepository(auditLog),
	}
}

func postgresRepositories(pool *pgxpool.Pool) repositories {
	return repositories{
		inventory:   inventory.NewRepository(pool),
		cash:        cash.NewRepository(pool),
		partners:    partner.NewRepository(pool),
		settlements: settlement.NewRepository(pool),
		points:      points.NewRepository(pool),
		prizes:      prize.NewRepository(pool),
		deliveries:  delivery.NewRepository(pool),
		sales:       sales.NewRepository(pool),
		procurement: procurement.NewRepository(pool),
		idempotency: shared.NewIdempotencyStore(pool),
		audit:       shared.NewAuditLogger(pool),
		auditReader: audit.NewRepository(pool),
	}
}

func buildSequencer(cfg *Config, b Backends) (numbering.Sequencer, error) {
	switch cfg.NumberingBackend {
	case "redis":
		if b.Redis == nil {
			return nil, fmt.Errorf("app: NUMBERING_BACKEND=redis requires a redis client")
		}
		return numbering.NewRedisSequencer(b.Redis, 0), nil
	case "postgres":
		if b.Pool == nil {
			return nil, fmt.Errorf("app: NUMBERING_BACKEND=postgres requires a database pool")
		}
		return numbering.NewPostgresSequencer(b.Pool), nil
	default:
		return numbering.NewMemorySequencer(), nil
	}
}

// BuildServices wires every service for the configured storage driver.
func BuildServices(cfg *Config, logger *slog.Logger, b Backends) (*Services, error) {
	if logger == nil {
		logger = slog.Default()
	}
	clock := b.Clock
	if clock == nil {
		clock = shared.SystemClock{}
	}

	var repos repositories
	switch cfg.StoreDriver {
	case DriverMemory:
		repos = memoryRepositories()
	case DriverPostgres:
		if b.Pool == nil {
			return nil, fmt.Errorf("app: STORE_DRIVER=postgres requires a database pool")
		}
		repos = postgresRepositories(b.Pool)
	default:
		return nil, fmt.Errorf("app: unknown store driver %q", cfg.StoreDriver)
	}

	seq, err := buildSequencer(cfg, b)
	if err != nil {
		return nil, err
	}
	numbers := numbering.New(seq, clock)

	var locker shared.Locker = shared.NewLocalLocker()
	if b.Redis != nil {
		locker = shared.NewRedisLocker(b.Redis, cfg.LockTTL)
	}

	var observer saga.Observer
	if b.Metrics != nil {
		observer = b.Metrics
	}
	runner := saga.NewRunner(logger, saga.Config{StepTimeout: cfg.SagaStepTimeout}, observer, b.Reporter)

	svc := &Services{Idempotency: repos.idempotency, Runner: runner, Audit: audit.NewService(repos.auditReader)}
	svc.Inventory = inventory.NewService(repos.inventory, repos.audit, repos.idempotency, inventory.ServiceConfig{Clock: clock, Logger: logger})
	svc.Cash = cash.NewService(repos.cash, repos.audit, clock, logger)
	svc.Partners = partner.NewService(repos.partners, repos.audit, clock, logger)
	svc.Points = points.NewService(repos.points, repos.audit, clock, logger)
	svc.Prizes = prize.NewService(repos.prizes, repos.audit, clock, logger)
	svc.Deliveries = delivery.NewService(repos.deliveries, numbers, clock, logger)
	svc.Settlements = settlement.NewService(settlement.Deps{
		Repo:     repos.settlements,
		Partners: svc.Partners,
		Cash:     svc.Cash,
		Numbers:  numbers,
		Runner:   runner,
		Locker:   locker,
		Audit:    repos.audit,
		Clock:    clock,
		Logger:   logger,
	})
	svc.Sales = sales.NewService(sales.Deps{
		Repo:       repos.sales,
		Inventory:  svc.Inventory,
		Prizes:     svc.Prizes,
		Deliveries: svc.Deliveries,
		Cash:       svc.Cash,
		Partners:   svc.Partners,
		Points:     svc.Points,
		Numbers:    numbers,
		Runner:     runner,
		Locker:     locker,
		Audit:      repos.audit,
		Clock:      clock,
		Logger:     logger,
		Config:     sales.Config{DueDays: cfg.SaleDueDays},
	})
	svc.Procurement = procurement.NewService(procurement.Deps{
		Repo:      repos.procurement,
		Inventory: svc.Inventory,
		Cash:      svc.Cash,
		Partners:  svc.Partners,
		Numbers:   numbers,
		Runner:    runner,
		Locker:    locker,
		Audit:     repos.audit,
		Clock:     clock,
		Logger:    logger,
		Config:    procurement.Config{DueDays: cfg.PurchaseDueDays},
	})
	svc.Settlements.RegisterRollup(partner.DocumentSale, svc.Sales)
	svc.Settlements.RegisterRollup(partner.DocumentPurchase, svc.Procurement)
	return svc, nil
}
