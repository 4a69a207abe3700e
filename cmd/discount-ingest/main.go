package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/go-faster/errors"
	"github.com/joho/godotenv"

	"github.com/xenking/storefront-checkout/internal/ingest"
	"github.com/xenking/storefront-checkout/internal/storage/postgres"
)

func main() {
	var (
		dataDir     string
		databaseURL string
		minFiles    int
		validity    time.Duration
		dryRun      bool
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing gzip code dumps (*.gz)")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&minFiles, "min-files", 2, "number of dumps a code must appear in")
	flag.DurationVar(&validity, "validity", 90*24*time.Hour, "how long ingested discounts stay valid")
	flag.BoolVar(&dryRun, "dry-run", false, "only report the codes found")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("load .env", slog.String("error", err.Error()))
	}
	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" && !dryRun {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, dataDir, databaseURL, minFiles, validity, dryRun); err != nil {
		slog.Error("ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("ingest completed successfully")
}

func run(ctx context.Context, dataDir, databaseURL string, minFiles int, validity time.Duration, dryRun bool) error {
	files, err := filepath.Glob(filepath.Join(dataDir, "*.gz"))
	if err != nil {
		return errors.Wrap(err, "list dumps")
	}
	if len(files) == 0 {
		return errors.Errorf("no *.gz files in %s", dataDir)
	}

	opts := ingest.DefaultOptions()
	opts.MinFiles = minFiles

	codes, err := ingest.FindCodes(ctx, files, opts)
	if err != nil {
		return errors.Wrap(err, "find codes")
	}
	slog.Info("codes found", slog.Int("count", len(codes)))

	discounts := ingest.Discounts(codes, time.Now(), validity)
	if dryRun {
		for _, d := range discounts {
			slog.Info("discount", slog.String("code", d.Code), slog.String("name", d.Name))
		}
		return nil
	}

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	db := postgres.NewDB(pool)
	return db.InTx(ctx, func(ctx context.Context) error {
		return ingest.Write(ctx, postgres.NewDiscountRepository(db), discounts)
	})
}
