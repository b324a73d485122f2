package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/Usmaexe/artisanal-moroccan-market/pkg/database"
	"github.com/Usmaexe/artisanal-moroccan-market/pkg/health"
	"github.com/Usmaexe/artisanal-moroccan-market/pkg/httpclient"
	pkgkafka "github.com/Usmaexe/artisanal-moroccan-market/pkg/kafka"
	"github.com/Usmaexe/artisanal-moroccan-market/pkg/tracing"
	"github.com/Usmaexe/artisanal-moroccan-market/services/review/internal/auth"
	"github.com/Usmaexe/artisanal-moroccan-market/services/review/internal/cache"
	"github.com/Usmaexe/artisanal-moroccan-market/services/review/internal/catalog"
	"github.com/Usmaexe/artisanal-moroccan-market/services/review/internal/config"
	"github.com/Usmaexe/artisanal-moroccan-market/services/review/internal/domain"
	"github.com/Usmaexe/artisanal-moroccan-market/services/review/internal/event"
	handler "github.com/Usmaexe/artisanal-moroccan-market/services/review/internal/handler/http"
	"github.com/Usmaexe/artisanal-moroccan-market/services/review/internal/repository"
	"github.com/Usmaexe/artisanal-moroccan-market/services/review/internal/repository/memory"
	"github.com/Usmaexe/artisanal-moroccan-market/services/review/internal/repository/postgres"
	"github.com/Usmaexe/artisanal-moroccan-market/services/review/internal/service"
	"github.com/Usmaexe/artisanal-moroccan-market/services/review/migrations"
)

// ServiceName labels logs, metrics and traces.
const ServiceName = "review"

// App wires together all dependencies and runs the review service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	redis          *redis.Client
	producer       *pkgkafka.Producer
	dlq            *pkgkafka.DLQProducer
	consumer       *pkgkafka.Consumer
	service        *service.ReviewService
	healthHandler  *health.Handler
	httpServer     *http.Server
	tracerShutdown func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
// The HTTP router is built in Run so its background work follows Run's
// context.
func NewApp(cfg *config.Config, logger *slog.Logger) (_ *App, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a := &App{
		cfg:           cfg,
		logger:        logger,
		healthHandler: health.NewHandler(),
	}
	defer func() {
		if err != nil {
			a.closeResources()
		}
	}()

	a.tracerShutdown, err = tracing.InitTracer(ctx, cfg.Tracing(ServiceName))
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	repo, err := a.initRepository(ctx)
	if err != nil {
		return nil, err
	}

	if cfg.RedisEnabled {
		a.redis, err = database.NewRedisClient(ctx, cfg.Redis())
		if err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		a.healthHandler.RegisterOptional("redis", func(ctx context.Context) error {
			return a.redis.Ping(ctx).Err()
		})
		logger.Info("connected to Redis", slog.String("addr", cfg.Redis().Addr()))
	}

	products := a.initCatalog()

	opts := []service.Option{}
	if a.redis != nil && cfg.CacheTTL() > 0 {
		opts = append(opts, service.WithCache(cache.NewQueryCache(a.redis, cfg.CacheTTL(), logger)))
	}

	if cfg.KafkaEnabled {
		a.producer = pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
		opts = append(opts, service.WithEvents(event.NewProducer(a.producer, logger)))
		a.healthHandler.RegisterOptional("kafka", a.producer.Ping)
		logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
	}

	a.service = service.NewReviewService(repo, products, logger, opts...)

	if cfg.KafkaEnabled {
		a.initConsumer()
	}

	return a, nil
}

func (a *App) initRepository(ctx context.Context) (repository.ReviewRepository, error) {
	if a.cfg.Store == config.StoreMemory {
		a.logger.Warn("using in-memory review store; reviews are lost on restart")
		return memory.NewReviewRepository(), nil
	}

	pgCfg := a.cfg.Postgres()
	pool, err := database.NewPostgresPool(ctx, pgCfg, a.logger)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	a.pool = pool
	a.logger.Info("connected to PostgreSQL",
		slog.String("host", pgCfg.Host),
		slog.Int("port", pgCfg.Port),
		slog.String("database", pgCfg.DBName),
	)

	if err := database.RunMigrations(ctx, pool, migrations.FS, a.logger); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	if err := database.RegisterPoolMetrics(prometheus.DefaultRegisterer, pool, ServiceName); err != nil {
		a.logger.Warn("failed to register pool metrics", slog.String("error", err.Error()))
	}
	database.SetSlowQueryLogging(a.cfg.SlowQueryThreshold(), a.logger)

	a.healthHandler.Register("postgres", func(ctx context.Context) error {
		return pool.Ping(ctx)
	})

	return postgres.NewReviewRepository(pool), nil
}

func (a *App) initCatalog() catalog.ProductLookup {
	if a.cfg.StaticCatalog() {
		a.logger.Warn("product catalog answered from seed list",
			slog.Int("products", len(a.cfg.SeedProductIDs)),
		)
		for _, id := range a.cfg.SeedProductIDs {
			if canonical := domain.CanonicalProductID(id); canonical != id {
				a.logger.Info("seed product id normalised",
					slog.String("seed", id),
					slog.String("product_id", canonical),
				)
			}
		}
		return catalog.NewStaticLookup(a.cfg.SeedProductIDs...)
	}

	client := httpclient.NewCircuitBreakerClient(
		httpclient.New(httpclient.DefaultConfig()),
		httpclient.DefaultCircuitBreakerConfig("product-service"),
		a.logger,
	)
	var lookup catalog.ProductLookup = catalog.NewHTTPLookup(client, a.cfg.ProductServiceURL, a.logger)

	positive, negative := a.cfg.ProductCacheTTLs()
	if positive <= 0 {
		return lookup
	}
	var existence catalog.ExistenceCache
	if a.redis != nil {
		existence = catalog.NewRedisExistenceCache(a.redis, "review:product-exists:")
	} else {
		existence = catalog.NewMemoryExistenceCache(time.Minute)
	}
	return catalog.NewCachedLookup(lookup, existence, positive, negative, a.logger)
}

func (a *App) initConsumer() {
	var store pkgkafka.IdempotencyStore
	if a.redis != nil {
		store = pkgkafka.NewRedisIdempotencyStore(a.redis, "review:events:", 24*time.Hour)
	} else {
		store = pkgkafka.NewMemoryIdempotencyStore(24 * time.Hour)
	}

	a.dlq = pkgkafka.NewDLQProducer(a.cfg.KafkaBrokers, a.logger)
	a.consumer = pkgkafka.NewConsumer(
		pkgkafka.ConsumerConfig{
			Brokers: a.cfg.KafkaBrokers,
			GroupID: a.cfg.KafkaConsumerGroup,
			Topic:   event.TopicProductDeleted,
		},
		pkgkafka.IdempotentHandler(store, event.ProductDeletedHandler(a.service, a.logger), a.logger),
		a.logger,
		pkgkafka.WithDLQ(a.dlq),
	)
}

// Run starts the HTTP server and the product.deleted consumer, and blocks
// until ctx is canceled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	routerCfg := handler.RouterConfig{
		ServiceName:          ServiceName,
		TrustGatewayHeaders:  a.cfg.TrustGatewayHeaders,
		SubmitRateLimitRPS:   a.cfg.RateLimitRPS,
		SubmitRateLimitBurst: a.cfg.RateLimitBurst,
		CORS:                 a.cfg.CORS(),
		PprofCIDRs:           a.cfg.PprofAllowedCIDRs,
		RequestTimeout:       a.cfg.RequestTimeout(),
	}
	if a.cfg.JWTSecret != "" {
		routerCfg.TokenValidator = auth.NewValidator(a.cfg.JWTSecret, a.cfg.JWTIssuer).TokenValidator()
	}

	a.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.cfg.HTTPPort),
		Handler:      handler.NewRouter(ctx, a.service, a.healthHandler, routerCfg, a.logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: a.cfg.RequestTimeout() + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("starting HTTP server", slog.String("addr", a.httpServer.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if a.consumer != nil {
		g.Go(func() error {
			return a.consumer.Start(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutdown signal received")
		return a.stopHTTP()
	})

	err := g.Wait()
	if shutdownErr := a.Shutdown(); err == nil {
		err = shutdownErr
	}
	return err
}

func (a *App) stopHTTP() error {
	if a.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}

// Shutdown gracefully stops all components. The consumer must already have
// returned from Start.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	if err := a.stopHTTP(); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
	}

	a.closeResources()

	if a.tracerShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
		}
	}

	a.logger.Info("application shutdown complete")
	return nil
}

func (a *App) closeResources() {
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
		}
	}
	if a.dlq != nil {
		if err := a.dlq.Close(); err != nil {
			a.logger.Error("kafka dlq producer close error", slog.String("error", err.Error()))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("redis close error", slog.String("error", err.Error()))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
