package main

import (
	"context"
	"flag"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/db"
	"github.com/xenking/kart-checkout/internal/catalog"
	"github.com/xenking/kart-checkout/internal/domain/stock"
	"github.com/xenking/kart-checkout/internal/storage/postgres"
)

func main() {
	var (
		databaseURL string
		catalogFile string
		warehouseID int64
		migrate     bool
		verbose     bool
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&catalogFile, "catalog", "", "path to a catalog JSON file; the embedded demo catalog when empty")
	flag.Int64Var(&warehouseID, "warehouse-id", 1, "warehouse the catalog stock is loaded into")
	flag.BoolVar(&migrate, "migrate", true, "apply migrations before seeding")
	flag.BoolVar(&verbose, "v", false, "log every product")
	flag.Parse()

	lg := newLogger(verbose)
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	ctx = zctx.Base(ctx, lg)

	if err := run(ctx, databaseURL, catalogFile, warehouseID, migrate); err != nil {
		lg.Fatal("Seed failed", zap.Error(err))
	}
	lg.Info("Seed completed")
}

func newLogger(verbose bool) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	lg, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return lg
}

func run(ctx context.Context, databaseURL, catalogFile string, warehouseID int64, migrate bool) error {
	lg := zctx.From(ctx)

	data := db.Catalog
	if catalogFile != "" {
		var err error
		if data, err = os.ReadFile(catalogFile); err != nil {
			return errors.Wrap(err, "read catalog")
		}
	}
	c, err := catalog.Parse(data)
	if err != nil {
		return errors.Wrap(err, "parse catalog")
	}

	lg.Info("Connecting to database")
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect")
	}
	defer pool.Close()

	if migrate {
		lg.Info("Running migrations")
		if err := postgres.RunMigrations(ctx, pool); err != nil {
			return errors.Wrap(err, "run migrations")
		}
	}

	pg := postgres.New(pool, postgres.Options{WarehouseID: warehouseID, Retries: 3})
	ledger := stock.NewLedger(pg.Stock(), warehouseID, nil)
	if err := catalog.Load(ctx, postgres.NewSeeder(pool), ledger, c); err != nil {
		return errors.Wrap(err, "load catalog")
	}
	return nil
}
