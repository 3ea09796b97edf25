package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-orders/internal/api"
	"github.com/xenking/kart-orders/internal/cache"
	"github.com/xenking/kart-orders/internal/domain/analytics"
	"github.com/xenking/kart-orders/internal/domain/order"
	"github.com/xenking/kart-orders/internal/messaging"
	"github.com/xenking/kart-orders/internal/outbox"
	"github.com/xenking/kart-orders/internal/repository"
	"github.com/xenking/kart-orders/pkg/health"
	"github.com/xenking/kart-orders/pkg/httpmiddleware"
)

const serviceName = "kart-orders"

// Run creates all dependencies, starts the HTTP server and the outbox relay,
// and handles graceful shutdown. It is the single wiring point for the
// application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := repository.NewPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	healthSvc := health.New()
	healthSvc.Add(health.Readiness, "postgres", health.PingCheck(pool), health.WithTimeout(5*time.Second))
	healthSvc.Add(health.Liveness, "goroutines", health.GoroutineCountCheck(10000))

	var orderOpts []order.Option
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = rdb.Close() }()

		healthSvc.Add(health.Readiness, "redis", health.RedisCheck(rdb.Ping), health.WithTimeout(2*time.Second))
		orderOpts = append(orderOpts, order.WithHistoryCache(cache.NewHistoryCache(rdb, cfg.Redis.TTL)))
		lg.Info("History cache enabled", zap.String("redis", cfg.Redis.Addr), zap.Duration("ttl", cfg.Redis.TTL))
	}

	handler, err := newRouter(ctx, cfg, pool, healthSvc, m.TracerProvider(), m.MeterProvider(), orderOpts...)
	if err != nil {
		return err
	}

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           handler,
	}

	g, gCtx := errgroup.WithContext(ctx)

	if len(cfg.Kafka.Brokers) > 0 {
		producer := messaging.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic,
			messaging.WithTracerProvider(m.TracerProvider()),
		)
		defer func() { _ = producer.Close() }()

		healthSvc.Add(health.Readiness, "kafka", health.KafkaCheck(cfg.Kafka.Brokers),
			health.WithTimeout(3*time.Second),
			health.WithThresholds(3, 1),
		)
		relay := outbox.NewRelay(repository.NewOutboxRepository(pool), producer,
			outbox.WithInterval(cfg.Kafka.Interval),
			outbox.WithBatchSize(cfg.Kafka.BatchSize),
		)
		lg.Info("Publishing order events", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
		g.Go(func() error { return relay.Run(gCtx) })
	} else {
		lg.Warn("No Kafka brokers configured, order events stay in the outbox")
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	g.Go(func() error {
		<-gCtx.Done()
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
		return nil
	})

	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})

	return g.Wait()
}

// newRouter builds the services, the API and probe routes, and wraps them in
// the middleware chain.
func newRouter(
	ctx context.Context,
	cfg *Config,
	pool *pgxpool.Pool,
	healthSvc *health.Health,
	tp trace.TracerProvider,
	mp metric.MeterProvider,
	orderOpts ...order.Option,
) (http.Handler, error) {
	opts := []order.Option{
		order.WithTracerProvider(tp),
		order.WithMeterProvider(mp),
		order.WithCartReader(repository.NewCartRepository(pool)),
	}
	if cfg.Orders.StrictStatus {
		opts = append(opts, order.WithStatusPolicy(order.StrictTransitions{}))
	}
	orderService, err := order.NewService(repository.NewStore(pool), repository.NewOrderRepository(pool),
		append(opts, orderOpts...)...,
	)
	if err != nil {
		return nil, errors.Wrap(err, "create order service")
	}
	analyticsService := analytics.NewService(repository.NewAnalyticsRepository(pool))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("GET /readyz", healthSvc.ReadyEndpoint)
	api.NewHandler(orderService, analyticsService).Register(mux)

	// Recovery runs after InjectLogger so panics are logged with the request id.
	return httpmiddleware.Wrap(mux,
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(zctx.From(ctx)),
		httpmiddleware.Recovery(),
		httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
			Max:     cfg.RateLimit.Max,
			Window:  cfg.RateLimit.Window,
			KeyFunc: httpmiddleware.UserOrIPKey,
		}),
		httpmiddleware.Instrument(serviceName, tp, mp),
		httpmiddleware.LogRequests(),
	), nil
}
