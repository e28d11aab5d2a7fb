package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/fjod/go_shop/internal/auth"
	"github.com/fjod/go_shop/internal/cache"
	"github.com/fjod/go_shop/internal/config"
	"github.com/fjod/go_shop/internal/events"
	shophttp "github.com/fjod/go_shop/internal/http"
	"github.com/fjod/go_shop/internal/metrics"
	"github.com/fjod/go_shop/internal/observability"
	"github.com/fjod/go_shop/internal/repository"
	"github.com/fjod/go_shop/internal/service"
	"github.com/fjod/go_shop/internal/store"
	"github.com/fjod/go_shop/internal/worker"
)

const tokenTTL = 30 * time.Minute

type storage struct {
	carts   repository.CartRepository
	orders  repository.OrderRepository
	catalog repository.Catalog
	close   func(context.Context) error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	ctx := context.Background()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.OtelEndpoint, config.ServiceName, config.ServiceVersion)
	if err != nil {
		logger.Fatal("failed to set up tracing", zap.Error(err))
	}

	st, err := openStorage(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to open storage", zap.String("driver", cfg.StorageDriver), zap.Error(err))
	}

	cartCache, closeCache := openCache(ctx, cfg, logger)

	var publisher events.Publisher = events.NopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		publisher = events.NewKafkaPublisher(cfg.OrderEventsTopic, cfg.KafkaBrokers...)
		logger.Info("publishing order events",
			zap.Strings("brokers", cfg.KafkaBrokers),
			zap.String("topic", cfg.OrderEventsTopic),
		)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	serverMetrics := metrics.NewServerMetrics(reg)

	orders := service.NewOrderService(st.orders, st.catalog, publisher, serverMetrics, logger)

	sweepCtx, stopSweeper := context.WithCancel(ctx)
	sweeperDone := make(chan struct{})
	if cfg.CancelSweepInterval > 0 {
		sweeper := worker.NewCancellationSweeper(st.orders, orders, cfg.CancelSweepInterval, cfg.CancelSweepGrace, logger)
		go func() {
			defer close(sweeperDone)
			sweeper.Run(sweepCtx)
		}()
	} else {
		close(sweeperDone)
	}

	router := shophttp.NewRouter(shophttp.RouterConfig{
		Carts:          service.NewCartService(st.carts, st.catalog, cartCache, logger),
		Checkout:       service.NewCheckoutService(st.carts, st.orders, st.catalog, cartCache, publisher, serverMetrics, logger),
		Orders:         orders,
		Products:       service.NewProductService(st.catalog, logger),
		Tokens:         auth.NewTokenManager(cfg.JWTSecret, tokenTTL),
		Metrics:        serverMetrics,
		Logger:         logger,
		RequestTimeout: cfg.RequestTimeout,
		MaxBodySize:    cfg.MaxRequestBodySize,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      otelhttp.NewHandler(router, config.ServiceName),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("shop starting", zap.String("addr", srv.Addr), zap.String("storage", cfg.StorageDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	stopSweeper()
	<-sweeperDone
	if err := publisher.Close(); err != nil {
		logger.Warn("failed to close event publisher", zap.Error(err))
	}
	closeCache()
	if err := st.close(shutdownCtx); err != nil {
		logger.Warn("failed to close storage", zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("failed to flush traces", zap.Error(err))
	}

	logger.Info("server exited")
}

func openStorage(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*storage, error) {
	if cfg.StorageDriver == config.StorageMemory {
		logger.Warn("using in-memory storage; data is lost on restart")
		mem := store.NewMemoryStore()
		return &storage{
			carts:   mem,
			orders:  mem,
			catalog: mem,
			close:   func(context.Context) error { return nil },
		}, nil
	}

	db, err := repository.ConnectMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName)
	if err != nil {
		return nil, err
	}
	if err := repository.EnsureIndexes(ctx, db); err != nil {
		return nil, err
	}
	logger.Info("connected to MongoDB", zap.String("database", cfg.MongoDBName))

	return &storage{
		carts:   repository.NewMongoCartRepository(db),
		orders:  repository.NewMongoOrderRepository(db),
		catalog: repository.NewMongoCatalog(db),
		close:   db.Client().Disconnect,
	}, nil
}

// openCache returns the Redis cart cache behind a circuit breaker, or a no-op
// cache when Redis is not configured or unreachable.
func openCache(ctx context.Context, cfg *config.Config, logger *zap.Logger) (cache.CartCache, func()) {
	if cfg.RedisAddr == "" {
		logger.Info("cart cache disabled")
		return cache.NopCache{}, func() {}
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       0,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping failed, cart cache disabled", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		redisClient.Close()
		return cache.NopCache{}, func() {}
	}
	logger.Info("redis ping succeeded", zap.String("addr", cfg.RedisAddr))

	breaker := cache.NewBreakerCache(cache.NewRedisCache(redisClient), cache.DefaultBreakerSettings, logger)
	return breaker, func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("failed to close redis client", zap.Error(err))
		}
	}
}
