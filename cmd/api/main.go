package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/NAVEED261/Reusable-shop/internal/config"
	"github.com/NAVEED261/Reusable-shop/internal/httpx"
	"github.com/NAVEED261/Reusable-shop/internal/inventory"
	"github.com/NAVEED261/Reusable-shop/internal/kafkax"
	"github.com/NAVEED261/Reusable-shop/internal/logging"
	"github.com/NAVEED261/Reusable-shop/internal/metrics"
	"github.com/NAVEED261/Reusable-shop/internal/orders"
	"github.com/NAVEED261/Reusable-shop/internal/outbox"
	"github.com/NAVEED261/Reusable-shop/internal/payments"
	"github.com/NAVEED261/Reusable-shop/internal/reconcile"
	"github.com/NAVEED261/Reusable-shop/internal/redisx"
	"github.com/NAVEED261/Reusable-shop/internal/store/memory"
	"github.com/NAVEED261/Reusable-shop/internal/store/postgres"
	"github.com/NAVEED261/Reusable-shop/internal/ws"
)

func main() {
	cfg := config.Load()

	logger := logging.MustNewLogger(cfg.ServiceName, cfg.Env)
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(prometheus.DefaultRegisterer)

	// Storage: postgres when a DSN is configured, in-memory otherwise.
	var (
		store   orders.Store
		catalog orders.Catalog
		ledger  inventory.Ledger
		events  reconcile.Store
		source  outbox.Source
	)
	if cfg.PostgresDSN != "" {
		pg, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			logger.Fatal("postgres connect", zap.Error(err))
		}
		defer pg.Close()
		if err := pg.Migrate(ctx); err != nil {
			logger.Fatal("postgres migrate", zap.Error(err))
		}
		store, catalog, ledger, events, source = pg, pg, pg, pg, pg
		logger.Info("storage ready", zap.String("backend", "postgres"))
	} else {
		mem := memory.New()
		mem.SeedProducts(devProducts())
		store, catalog, ledger, events, source = mem, mem, mem, mem, mem
		logger.Warn("POSTGRES_DSN empty, running on the in-memory store")
	}

	// cache is nil when REDIS_ADDR is unset; only assign it to interface
	// fields inside the nil guard.
	cache := redisx.New(cfg.RedisAddr, cfg.IdempotencyWindow)
	if cache != nil {
		defer cache.Close()
		if err := cache.Ping(ctx); err != nil {
			logger.Warn("redis unreachable, cache fast paths degrade to misses", zap.Error(err))
		}
	}

	gateway := payments.NewClient(payments.ClientConfig{
		BaseURL:    cfg.ProviderBaseURL,
		SecretKey:  cfg.ProviderSecret,
		Timeout:    cfg.ProviderTimeout,
		MaxRetries: cfg.ProviderRetries,
		Backoff:    cfg.ProviderBackoff,
		Logger:     logger.Named("payments"),
		Calls:      m.ProviderCalls,
	})

	hub := ws.NewHub()
	go hub.Run(ctx)

	notifiers := orders.Notifiers{hub}
	if cache != nil {
		notifiers = append(notifiers, cache)
	}

	svc := orders.NewService(store, catalog, ledger, gateway, notifiers, logger.Named("orders"), orders.ServiceConfig{
		Producer:          cfg.ServiceName,
		Currency:          cfg.Currency,
		PriceToleranceBPS: cfg.PriceToleranceBPS,
		ReservationTTL:    cfg.ReservationTTL,
	})
	if cache != nil {
		svc.UseIdempotencyIndex(cache)
	}

	verifier := payments.NewVerifier(cfg.WebhookSecret, cfg.WebhookSkew, events, logger.Named("webhook"))

	var dedup reconcile.DedupCache
	if cache != nil {
		dedup = cache
	}
	engine := reconcile.NewEngine(events, dedup, notifiers, logger.Named("reconcile"), m.ReconcileResults, cfg.ServiceName)

	sweeper := reconcile.NewSweeper(svc, store, ledger, gateway, cfg.SweepInterval, cfg.SweepBatch, logger.Named("sweeper"), m.SweptOrders)
	go sweeper.Run(ctx)

	if len(cfg.KafkaBrokers) > 0 {
		producer := kafkax.NewProducer(cfg.KafkaBrokers)
		defer producer.Close()
		dispatcher := outbox.NewDispatcher(source, producer, cfg.OutboxInterval, cfg.OutboxBatch, logger.Named("outbox"), m.OutboxPublished)
		go dispatcher.Run(ctx)
	} else {
		logger.Warn("KAFKA_BROKERS empty, outbox rows will accumulate unpublished")
	}

	wsHandler := ws.NewHandler(hub, svc, logger.Named("ws"))

	router := httpx.NewRouter(logger.Named("http"), m, promhttp.Handler())
	h := &httpx.Handler{
		Service:  svc,
		Engine:   engine,
		Verifier: verifier,
		WS:       wsHandler.ServeWS,
		Logger:   logger.Named("http"),
		Metrics:  m,
	}
	if cache != nil {
		h.Status = cache
	}
	h.Register(router)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http listen", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", zap.Error(err))
	}
}

// devProducts mirrors the seed rows of the postgres migrations so the
// in-memory mode exposes the same catalog.
func devProducts() []orders.Product {
	now := time.Now().UTC()
	mk := func(id, sku, name string, stock, price int64) orders.Product {
		return orders.Product{ID: id, SKU: sku, Name: name, Stock: stock, PriceCents: price, CreatedAt: now, UpdatedAt: now}
	}
	return []orders.Product{
		mk("prod-tee-black", "TEE-BLK-M", "Plain Tee Black (M)", 120, 149900),
		mk("prod-tee-white", "TEE-WHT-M", "Plain Tee White (M)", 100, 149900),
		mk("prod-hoodie", "HOOD-GRY-L", "Fleece Hoodie Grey (L)", 45, 399900),
		mk("prod-cap", "CAP-NVY", "Cotton Cap Navy", 80, 99900),
		mk("prod-tote", "TOTE-CNV", "Canvas Tote Bag", 200, 79900),
		mk("prod-bottle", "BTL-STL-1L", "Steel Bottle 1L", 60, 249900),
	}
}
