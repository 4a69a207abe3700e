package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront-checkout/internal/domain/auth"
	"github.com/xenking/storefront-checkout/internal/domain/cart"
	"github.com/xenking/storefront-checkout/internal/domain/checkout"
	"github.com/xenking/storefront-checkout/internal/domain/usage"
	"github.com/xenking/storefront-checkout/internal/events"
	"github.com/xenking/storefront-checkout/internal/handler"
	"github.com/xenking/storefront-checkout/internal/seed"
	"github.com/xenking/storefront-checkout/internal/storage/rediscache"
	"github.com/xenking/storefront-checkout/pkg/health"
	"github.com/xenking/storefront-checkout/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("storage", cfg.Storage.Driver),
	)

	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.close()

	if cfg.Storage.Driver == DriverMemory || cfg.Storage.Seed {
		if err := seed.Apply(ctx, st.seed, seed.Demo(time.Now())); err != nil {
			return errors.Wrap(err, "seed demo data")
		}
		lg.Info("Demo dataset loaded")
	}
	if cfg.Storage.Driver == DriverMemory && cfg.Auth.SeedAPIKey != "" {
		if err := seed.APIKey(ctx, st.apikeyWriter, []byte(cfg.Auth.APIKeyPepper), cfg.Auth.SeedAPIKey); err != nil {
			return errors.Wrap(err, "seed api key")
		}
	}

	healthSvc := health.New(lg)
	healthSvc.AddReadinessCheck("storage", 5*time.Second, health.PingCheck(st.pinger))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	// Catalog reads go through Redis when configured.
	catalogRef := st.catalog
	if cfg.Redis.Addr != "" {
		rdb, err := rediscache.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return errors.Wrap(err, "connect redis")
		}
		defer func() { _ = rdb.Close() }()

		catalogRef = rediscache.NewCatalog(rdb, st.catalog, cfg.Redis.TTL)
		healthSvc.AddReadinessCheck("redis", 2*time.Second, func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
		lg.Info("Catalog cache enabled", zap.String("redis", cfg.Redis.Addr), zap.Duration("ttl", cfg.Redis.TTL))
	}

	var publisher checkout.Publisher = events.Nop{}
	if brokers := events.ParseBrokers(cfg.Kafka.Brokers); len(brokers) > 0 {
		k := events.NewKafka(brokers, cfg.Kafka.Topic)
		defer func() {
			if err := k.Close(); err != nil {
				lg.Warn("Close kafka writer", zap.Error(err))
			}
		}()
		publisher = k
		lg.Info("Order events enabled", zap.Strings("brokers", brokers), zap.String("topic", cfg.Kafka.Topic))
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Domain services.
	ledger := usage.NewLedger(st.usage,
		usage.WithMaxRetries(cfg.Checkout.ReserveRetries),
		usage.WithBackoff(cfg.Checkout.ReserveBackoff),
	)
	cartService := cart.NewService(st.carts, catalogRef)
	checkoutService, err := checkout.NewService(checkout.Deps{
		Carts:          st.carts,
		Catalog:        catalogRef,
		Discounts:      st.discounts,
		Orders:         st.orders,
		Ledger:         ledger,
		Tx:             st.tx,
		Events:         publisher,
		CurrencyPlaces: cfg.Checkout.CurrencyExponent,
	},
		checkout.WithTracerProvider(m.TracerProvider()),
		checkout.WithMeterProvider(m.MeterProvider()),
	)
	if err != nil {
		return errors.Wrap(err, "create checkout service")
	}

	var tokens *auth.Tokens
	if cfg.Auth.JWTSecret != "" {
		tokens = auth.NewTokens([]byte(cfg.Auth.JWTSecret), cfg.Auth.TokenTTL)
	} else {
		lg.Warn("JWT secret not set, only guest sessions are accepted")
	}

	h := handler.NewHandler(handler.HandlerConfig{
		APIKeyPepper: []byte(cfg.Auth.APIKeyPepper),
		CheckoutRate: httpmiddleware.RateLimitConfig{
			RPS:   cfg.Checkout.RPS,
			Burst: cfg.Checkout.Burst,
		},
	}, handler.Deps{
		Catalog:   catalogRef,
		Discounts: st.discounts,
		Carts:     cartService,
		Checkout:  checkoutService,
		Orders:    st.orders,
		APIKeys:   st.apikeys,
		Tokens:    tokens,
	})

	if cfg.Cart.IdleTTL > 0 || cfg.Checkout.HoldTTL > 0 {
		go sweepStale(ctx, cartService, ledger, cfg.Cart, cfg.Checkout.HoldTTL)
	}

	// Mux: health endpoints + API routes on one server.
	mux := http.NewServeMux()
	mux.HandleFunc("GET /livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("GET /readyz", healthSvc.ReadyEndpoint)
	h.Register(mux)
	routeFinder := httpmiddleware.MakeRouteFinder(mux)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization", "api_key", "X-Session-ID", "Idempotency-Key"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				RPS:   cfg.RateLimit.RPS,
				Burst: cfg.RateLimit.Burst,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("storefront-checkout", routeFinder, m),
			httpmiddleware.LogRequests(routeFinder),
			httpmiddleware.Labeler(routeFinder),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

// sweepStale runs every SweepInterval until ctx is done. It expires idle
// Active cart items and releases usage reservations older than holdTTL. A
// zero TTL disables its half.
func sweepStale(ctx context.Context, carts *cart.Service, ledger *usage.Ledger, cfg CartConfig, holdTTL time.Duration) {
	lg := zctx.From(ctx)
	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if cfg.IdleTTL > 0 {
				if _, err := carts.ExpireStale(ctx, cfg.IdleTTL, cfg.SweepBatch); err != nil && ctx.Err() == nil {
					lg.Error("Expire idle cart items", zap.Error(err))
				}
			}
			if holdTTL > 0 {
				n, err := ledger.ReleaseStale(ctx, holdTTL, cfg.SweepBatch)
				if err != nil && ctx.Err() == nil {
					lg.Error("Release stale usage holds", zap.Error(err))
				}
				if n > 0 {
					lg.Warn("Released stale usage holds", zap.Int("count", n))
				}
			}
		}
	}
}
