package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/catalog"
	"github.com/xenking/kart-checkout/internal/storage/postgres"
)

func main() {
	var (
		databaseURL string
		dataDir     string
		overwrite   bool
		fpr         float64
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&dataDir, "data-dir", "", "directory whose *.gz files are imported in addition to the arguments")
	flag.BoolVar(&overwrite, "overwrite", false, "rewrite coupons that already exist")
	flag.Float64Var(&fpr, "fpr", 0.001, "false positive rate of the stored-code bloom filter")
	flag.Parse()

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}

	paths := flag.Args()
	if dataDir != "" {
		matches, err := filepath.Glob(filepath.Join(dataDir, "*.gz"))
		if err != nil {
			lg.Fatal("Invalid data dir", zap.Error(err))
		}
		paths = append(paths, matches...)
	}
	if len(paths) == 0 {
		lg.Fatal("No coupon files: pass paths or --data-dir")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	ctx = zctx.Base(ctx, lg)

	if err := run(ctx, databaseURL, paths, overwrite, fpr); err != nil {
		lg.Fatal("Coupon import failed", zap.Error(err))
	}
}

func run(ctx context.Context, databaseURL string, paths []string, overwrite bool, fpr float64) error {
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect")
	}
	defer pool.Close()

	im := catalog.NewImporter(postgres.NewSeeder(pool))
	im.Overwrite = overwrite
	im.FalsePositiveRate = fpr

	stats, err := im.Import(ctx, paths)
	if err != nil {
		return errors.Wrap(err, "import")
	}
	zctx.From(ctx).Info("Coupon import completed",
		zap.Int("files", stats.Files),
		zap.Int("lines", stats.Lines),
		zap.Int("written", stats.Written),
	)
	return nil
}
