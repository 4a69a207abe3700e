package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/joho/godotenv"

	"github.com/xenking/storefront-checkout/internal/domain/auth"
	"github.com/xenking/storefront-checkout/internal/seed"
	"github.com/xenking/storefront-checkout/internal/storage/postgres"
)

func main() {
	var (
		databaseURL   string
		apiKey        string
		apiKeyPepper  string
		jwtSecret     string
		customerEmail string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&apiKey, "api-key", "", "staff API key to seed (or SHOP_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or SHOP_AUTH_API_KEY_PEPPER env)")
	flag.StringVar(&jwtSecret, "jwt-secret", "", "secret to sign a demo customer token with (or SHOP_AUTH_JWT_SECRET env)")
	flag.StringVar(&customerEmail, "customer-email", "", "print a customer token for this email")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("load .env", slog.String("error", err.Error()))
	}

	databaseURL = orEnv(databaseURL, "DATABASE_URL")
	apiKey = orEnv(apiKey, "SHOP_SEED_API_KEY")
	apiKeyPepper = orEnv(apiKeyPepper, "SHOP_AUTH_API_KEY_PEPPER")
	jwtSecret = orEnv(jwtSecret, "SHOP_AUTH_JWT_SECRET")

	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKey == "" {
		slog.Error("API key is required: set --api-key or SHOP_SEED_API_KEY")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, apiKey, apiKeyPepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if customerEmail != "" {
		if jwtSecret == "" {
			slog.Error("JWT secret is required to issue a customer token")
			os.Exit(1)
		}
		token, err := auth.NewTokens([]byte(jwtSecret), 24*time.Hour).Issue(customerEmail)
		if err != nil {
			slog.Error("issue customer token", slog.String("error", err.Error()))
			os.Exit(1)
		}
		slog.Info("customer token issued", slog.String("email", customerEmail), slog.String("token", token))
	}

	slog.Info("seed completed successfully")
}

func orEnv(v, key string) string {
	if v != "" {
		return v
	}
	return os.Getenv(key)
}

func run(ctx context.Context, databaseURL, apiKey, pepper string) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	db := postgres.NewDB(pool)
	ds := seed.Demo(time.Now())

	slog.Info("upserting demo dataset",
		slog.Int("products", len(ds.Products)),
		slog.Int("variants", len(ds.Variants)),
		slog.Int("discounts", len(ds.Discounts)),
	)

	// The dataset and the key are written in one transaction.
	err = db.InTx(ctx, func(ctx context.Context) error {
		target := seed.Target{
			Catalog:   postgres.NewCatalogRepository(db),
			Discounts: postgres.NewDiscountRepository(db),
		}
		if err := seed.Apply(ctx, target, ds); err != nil {
			return err
		}
		return seed.APIKey(ctx, postgres.NewAPIKeyRepository(db), []byte(pepper), apiKey)
	})
	if err != nil {
		return errors.Wrap(err, "seed")
	}

	for _, d := range ds.Discounts {
		slog.Info("upserted discount", slog.String("code", d.Code), slog.String("name", d.Name))
	}
	slog.Info("upserted API key", slog.String("id", "default"))

	return nil
}
