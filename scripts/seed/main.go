package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/app"
	"github.com/odyssey-erp/backoffice/internal/cash"
	"github.com/odyssey-erp/backoffice/internal/inventory"
	"github.com/odyssey-erp/backoffice/internal/platform/db"
	"github.com/odyssey-erp/backoffice/internal/points"
	"github.com/odyssey-erp/backoffice/internal/prize"
)

func main() {
	ctx := context.Background()
	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	cfg.StoreDriver = app.DriverPostgres
	if cfg.NumberingBackend == "redis" {
		cfg.NumberingBackend = "postgres"
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	svc, err := app.BuildServices(cfg, logger, app.Backends{Pool: pool})
	if err != nil {
		log.Fatalf("build services: %v", err)
	}

	existing, err := svc.Cash.ListAccounts(ctx, false)
	if err != nil {
		log.Fatalf("list cash accounts: %v", err)
	}
	if len(existing) > 0 {
		fmt.Println("database already seeded, nothing to do")
		return
	}

	fmt.Println("→ Seeding cash accounts...")
	if err := seedCash(ctx, svc.Cash); err != nil {
		log.Fatalf("seed cash: %v", err)
	}
	fmt.Println("→ Seeding products...")
	if err := seedProducts(ctx, svc.Inventory); err != nil {
		log.Fatalf("seed products: %v", err)
	}
	fmt.Println("→ Seeding prize pools...")
	if err := seedPrizes(ctx, svc.Prizes); err != nil {
		log.Fatalf("seed prizes: %v", err)
	}
	fmt.Println("→ Seeding loyalty program...")
	if err := seedPoints(ctx, svc.Points); err != nil {
		log.Fatalf("seed points: %v", err)
	}

	fmt.Println("✓ Seed complete at", time.Now().Format(time.RFC3339))
}

func seedCash(ctx context.Context, svc *cash.Service) error {
	accounts := []cash.AccountInput{
		{Name: "Cash", Type: cash.TypeCash, OpeningBalance: decimal.NewFromInt(500)},
		{Name: "Bank Transfer", Type: cash.TypeBank, OpeningBalance: decimal.NewFromInt(10000)},
		{Name: "Petty Cash", Type: cash.TypePettyCash, OpeningBalance: decimal.NewFromInt(100)},
	}
	for _, in := range accounts {
		if _, err := svc.CreateAccount(ctx, in); err != nil {
			return fmt.Errorf("%s: %w", in.Name, err)
		}
	}
	return nil
}

func seedProducts(ctx context.Context, svc *inventory.Service) error {
	products := []inventory.ProductInput{
		{SKU: "WID-001", Name: "Widget", OpeningStock: 100, OpeningCost: decimal.RequireFromString("4.50")},
		{SKU: "GAD-001", Name: "Gadget", OpeningStock: 40, OpeningCost: decimal.RequireFromString("12.00")},
		{SKU: "PLU-001", Name: "Plush toy", OpeningStock: 25, OpeningCost: decimal.RequireFromString("3.20")},
		{SKU: "SVC-GIFT", Name: "Gift wrapping", FallbackCost: decimal.RequireFromString("0.50"), AllowNegative: true},
	}
	for _, in := range products {
		if _, err := svc.CreateProduct(ctx, in); err != nil {
			return fmt.Errorf("%s: %w", in.SKU, err)
		}
	}
	return nil
}

func seedPrizes(ctx context.Context, svc *prize.Service) error {
	if _, err := svc.CreatePool(ctx, prize.PoolInput{Name: "Claw machine", Remaining: 200}); err != nil {
		return err
	}
	_, err := svc.CreatePool(ctx, prize.PoolInput{Name: "Lucky draw", Remaining: 50})
	return err
}

func seedPoints(ctx context.Context, svc *points.Service) error {
	program, err := svc.CreateProgram(ctx, points.ProgramInput{
		Name:          "Member rewards",
		SpendPerPoint: decimal.NewFromInt(10),
		CostPerPoint:  decimal.RequireFromString("0.10"),
	})
	if err != nil {
		return err
	}
	tiers := []points.TierInput{
		{ProgramID: program.ID, Name: "Bronze voucher", PointsRequired: 50, RewardValue: decimal.NewFromInt(5)},
		{ProgramID: program.ID, Name: "Silver voucher", PointsRequired: 200, RewardValue: decimal.NewFromInt(25)},
	}
	for _, in := range tiers {
		if _, err := svc.AddTier(ctx, in); err != nil {
			return fmt.Errorf("%s: %w", in.Name, err)
		}
	}
	return nil
}
