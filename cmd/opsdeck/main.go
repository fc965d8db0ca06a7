package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/opsdeck/opsdeck/internal/app"
	"github.com/opsdeck/opsdeck/internal/assets"
	"github.com/opsdeck/opsdeck/internal/audit"
	"github.com/opsdeck/opsdeck/internal/auth"
	"github.com/opsdeck/opsdeck/internal/observability"
	"github.com/opsdeck/opsdeck/internal/platform/cache"
	"github.com/opsdeck/opsdeck/internal/platform/db"
	"github.com/opsdeck/opsdeck/internal/projects"
	"github.com/opsdeck/opsdeck/internal/tickets"
	"github.com/opsdeck/opsdeck/internal/users"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	authRepo := auth.NewRepository(pool)
	sessions := auth.NewSessionStore(redisClient, cfg.SessionTTL)
	authService := auth.NewService(authRepo, sessions)
	authHandler := auth.NewHandler(logger, authService)

	usersRepo := users.NewRepository(pool)
	permCache := cache.NewCache(redisClient, cfg.PermissionCacheTTL)
	usersService := users.NewService(usersRepo, permCache)
	usersHandler := users.NewHandler(logger, usersService)

	ticketsRepo := tickets.NewRepository(pool)
	ticketsService := tickets.NewService(ticketsRepo, usersRepo)
	ticketsHandler := tickets.NewHandler(logger, ticketsService)

	assetsRepo := assets.NewRepository(pool)
	assetsService := assets.NewService(assetsRepo, usersRepo)
	assetsHandler := assets.NewHandler(logger, assetsService)

	projectsRepo := projects.NewRepository(pool)
	projectsService := projects.NewService(projectsRepo, usersRepo)
	projectsHandler := projects.NewHandler(logger, projectsService)

	auditRepo := audit.NewRepository(pool)
	auditService := audit.NewService(auditRepo)
	auditHandler := audit.NewHandler(logger, auditService)

	metrics := observability.NewMetrics()

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		Auth:            authService,
		Metrics:         metrics,
		AuthHandler:     authHandler,
		UsersHandler:    usersHandler,
		TicketsHandler:  ticketsHandler,
		AssetsHandler:   assetsHandler,
		ProjectsHandler: projectsHandler,
		AuditHandler:    auditHandler,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server", slog.Any("error", err))
		os.Exit(1)
	}
}
