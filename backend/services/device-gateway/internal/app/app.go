package app

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"go.uber.org/zap"

	libdb "solarcharge/backend/libs/db"
	"solarcharge/backend/services/device-gateway/internal/auth"
	"solarcharge/backend/services/device-gateway/internal/commands"
	"solarcharge/backend/services/device-gateway/internal/config"
	"solarcharge/backend/services/device-gateway/internal/energy"
	"solarcharge/backend/services/device-gateway/internal/http/handlers"
	"solarcharge/backend/services/device-gateway/internal/hub"
	"solarcharge/backend/services/device-gateway/internal/ingest"
	"solarcharge/backend/services/device-gateway/internal/repository"
	"solarcharge/backend/services/device-gateway/internal/state"
	"solarcharge/backend/services/device-gateway/internal/ws"
)

// App wires all dependencies for the device gateway.
type App struct {
	httpServer *http.Server
	manager    *ws.Manager
	db         *sql.DB
	logger     *zap.Logger
}

// New builds the application graph.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	sqlDB, err := libdb.NewPostgresDB(ctx, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}

	deviceRepo := repository.NewDeviceRepository(sqlDB)
	reportRepo := repository.NewReportRepository(sqlDB)

	stateStore := state.NewStore(cfg.Freshness())
	accumulator := energy.NewAccumulator()
	feedHub := hub.NewHub(logger)

	manager := ws.NewManager(cfg.PingInterval())
	dispatcher := commands.NewDispatcher(manager, stateStore, cfg.CommandTimeout(), cfg.CommandAttempts(), logger)

	processor := ingest.NewProcessor(ingest.Deps{
		State:    stateStore,
		Energy:   accumulator,
		Commands: dispatcher,
		Hub:      feedHub,
		Reports:  reportRepo,
		Devices:  deviceRepo,
		Logger:   logger,
	})

	authenticator := auth.NewAuthenticator(deviceRepo, auth.NewBcryptHasher(0))
	wsServer := ws.NewServer(manager, processor, authenticator, cfg.WriteTimeout(), logger)

	portsHandler := handlers.NewPortsHandler(deviceRepo, stateStore, accumulator, logger)
	controlHandler := handlers.NewControlHandler(dispatcher, logger)
	feedHandler := handlers.NewFeedHandler(feedHub, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("/devices/ws", wsServer.HandleDeviceWS)
	mux.HandleFunc("/internal/feed", feedHandler.Serve)
	mux.HandleFunc("/internal/ports/status", portsHandler.Status)
	mux.HandleFunc("/internal/ports/consumption", portsHandler.Consumption)
	mux.HandleFunc("/internal/commands/relay", controlHandler.Relay)

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddress(),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &App{
		httpServer: httpServer,
		manager:    manager,
		db:         sqlDB,
		logger:     logger,
	}, nil
}

// Run starts the keepalive loop and HTTP server.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go a.manager.Start(ctx)

	go func() {
		a.logger.Info("starting device gateway http server", zap.String("addr", a.httpServer.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// Close releases resources.
func (a *App) Close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("failed to close db", zap.Error(err))
		}
	}
}
