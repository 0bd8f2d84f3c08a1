package app

import (
	"context"
	"database/sql"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	libdb "solarcharge/backend/libs/db"
	libredis "solarcharge/backend/libs/redis"
	"solarcharge/backend/services/charging-service/internal/clients"
	"solarcharge/backend/services/charging-service/internal/config"
	"solarcharge/backend/services/charging-service/internal/feed"
	httpserver "solarcharge/backend/services/charging-service/internal/http"
	"solarcharge/backend/services/charging-service/internal/http/handlers"
	"solarcharge/backend/services/charging-service/internal/http/middleware"
	"solarcharge/backend/services/charging-service/internal/metrics"
	redisstore "solarcharge/backend/services/charging-service/internal/redis"
	"solarcharge/backend/services/charging-service/internal/repository"
	"solarcharge/backend/services/charging-service/internal/scheduler"
	"solarcharge/backend/services/charging-service/internal/service"
)

// refreshTimeout bounds a single scheduler refresh, covering the upstream
// call plus cache swap and ledger writes.
const refreshTimeout = 20 * time.Second

// App wires charging service dependencies.
type App struct {
	server    *httpserver.Server
	scheduler *scheduler.Scheduler
	feed      *feed.Subscriber
	janitor   *service.Janitor
	db        *sql.DB
	redis     *goredis.Client
	logger    *zap.Logger
}

// New builds the application graph.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	sqlDB, err := libdb.NewPostgresDB(ctx, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}

	redisClient, err := libredis.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, err
	}

	sessionRepo := repository.NewSessionRepository(sqlDB)
	subscriptionRepo := repository.NewSubscriptionRepository(sqlDB)
	planRepo := repository.NewPlanRepository(sqlDB)
	extensionRepo := repository.NewExtensionRepository(sqlDB)
	stationRepo := repository.NewStationRepository(sqlDB)

	guard := redisstore.NewGuard(redisClient)
	activeCache := redisstore.NewSessionStore(redisClient, cfg.ActiveSessionTTL())
	reconcileFlags := redisstore.NewFlagStore(redisClient)

	httpClient := clients.NewDefaultHTTPClient(cfg.HTTPTimeout())
	deviceClient := clients.NewDeviceClient(cfg.Services.GatewayURL, httpClient)
	billingClient := clients.NewBillingClient(cfg.Services.BillingURL, httpClient)

	cache := service.NewViewCache()
	aggregator := service.NewAggregator(cfg.Freshness())
	views := service.NewViews(cache, aggregator, stationRepo)
	quota := service.NewQuotaService(subscriptionRepo, logger)
	ingester := service.NewConsumptionIngester(sessionRepo, quota, logger)
	extensions := service.NewExtensionService(quota, subscriptionRepo, extensionRepo, billingClient, logger)

	controller := service.NewController(service.ControllerDeps{
		Sessions:    sessionRepo,
		Plans:       planRepo,
		Catalog:     stationRepo,
		Quota:       quota,
		Views:       views,
		Cache:       cache,
		Guard:       guard,
		Sender:      deviceClient,
		ActiveCache: activeCache,
		Reconcile:   reconcileFlags,
		Logger:      logger,
	}, cfg.CommandTimeout())

	tasks := []scheduler.Task{
		{
			Name:     "status",
			Interval: cfg.StatusInterval(),
			Refresh: func(ctx context.Context) error {
				rows, err := deviceClient.ListStatus(ctx)
				if err != nil {
					return err
				}
				cache.ReplaceStatus(rows, time.Now().UTC())
				return nil
			},
		},
		{
			Name:     "consumption",
			Interval: cfg.ConsumptionInterval(),
			Refresh: func(ctx context.Context) error {
				rows, err := deviceClient.ListConsumption(ctx)
				if err != nil {
					return err
				}
				cache.ReplaceConsumption(rows, time.Now().UTC())
				ingester.Ingest(ctx, rows, cache.Snapshot().Sessions)
				return nil
			},
		},
		{
			Name:     "sessions",
			Interval: cfg.SessionsInterval(),
			Refresh: func(ctx context.Context) error {
				sessions, err := sessionRepo.OpenAll(ctx)
				if err != nil {
					return err
				}
				cache.ReplaceSessions(sessions, time.Now().UTC())
				return nil
			},
		},
	}
	sched := scheduler.New(tasks, cfg.DebounceWindow(), refreshTimeout, logger)

	subscriber := feed.NewSubscriber(cfg.FeedURL(), sched.TriggerRefresh, logger)
	janitor := service.NewJanitor(quota, controller, cfg.JanitorInterval(), logger)

	metrics.MustRegister()

	deps := httpserver.RouterDeps{
		PortsHandlers:   handlers.NewPortsHandlers(views, logger),
		SessionHandlers: handlers.NewSessionHandlers(controller, logger),
		QuotaHandlers:   handlers.NewQuotaHandlers(quota, extensions, logger),
		SyncHandlers:    handlers.NewSyncHandlers(sched, logger),
		HealthHandler:   handlers.NewHealthHandler(),
		MetricsHandler:  promhttp.Handler(),
	}

	router := httpserver.NewRouter(deps, middleware.AuthMiddleware(cfg.JWT.Secret))
	server := httpserver.NewServer(cfg.HTTPAddress(), router, logger)

	return &App{
		server:    server,
		scheduler: sched,
		feed:      subscriber,
		janitor:   janitor,
		db:        sqlDB,
		redis:     redisClient,
		logger:    logger,
	}, nil
}

// Run starts the HTTP server, the sync scheduler, the change feed
// subscriber and the bookkeeping janitor. The first runner to fail stops
// the rest.
func (a *App) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 4)

	go func() { errCh <- a.scheduler.Run(runCtx) }()
	go func() { errCh <- a.feed.Run(runCtx) }()
	go func() { errCh <- a.janitor.Run(runCtx) }()
	go func() { errCh <- a.server.Run(runCtx) }()

	err := <-errCh
	cancel()
	return err
}

// Close releases resources.
func (a *App) Close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("failed to close db", zap.Error(err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("failed to close redis", zap.Error(err))
		}
	}
}
