package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/marketdata-quota-service/internal/bootstrap"
	"github.com/marketdata-quota-service/internal/config"
	"github.com/marketdata-quota-service/internal/engine"
	"github.com/marketdata-quota-service/internal/handler"
	"github.com/marketdata-quota-service/internal/handler/admin"
	"github.com/marketdata-quota-service/internal/middleware"
	"github.com/marketdata-quota-service/internal/store"
)

func main() {
	// .env is optional; env-provisioned credentials are migrated at
	// bootstrap so this must run before config loading.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	setupLogging(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := store.Migrate(cfg.DatabaseURL); err != nil {
		log.Fatal().Err(err).Msg("failed to apply migrations")
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create connection pool")
	}
	defer pool.Close()

	st := store.NewPostgres(pool)
	if err := bootstrap.Run(ctx, st); err != nil {
		log.Fatal().Err(err).Msg("bootstrap failed")
	}

	eng := engine.New(st, nil)
	if err := eng.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start engine sweeps")
	}
	defer eng.Stop()

	credentials := engine.NewCredentialService(st, nil)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      newRouter(cfg, st, eng, credentials),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Port).Msg("server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}

func newRouter(cfg *config.Config, st store.Store, eng *engine.Engine, credentials *engine.CredentialService) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.SecurityHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	apiLimiter := middleware.NewRequestLimiter(cfg.APIRateMax, cfg.APIRateWindow)
	authAttempts := middleware.NewAttemptLimiter(5, 5*time.Minute, 15*time.Minute)

	r.Get("/health", handler.NewHealthHandler(st).ServeHTTP)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Throttle(apiLimiter))

		r.Get("/services", handler.NewListServicesHandler(st, eng.Tracker).ServeHTTP)
		r.Get("/services/{name}", handler.NewGetServiceHandler(st, eng.Tracker).ServeHTTP)
		r.Get("/services/{name}/usage", handler.NewUsageHandler(eng.Tracker).ServeHTTP)
		r.Get("/services/{name}/bursts", handler.NewBurstsHandler(eng.Tracker).ServeHTTP)
		r.Get("/events", handler.NewEventsHandler(eng.Bus).ServeHTTP)

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.AdminAuth(cfg.AdminToken, authAttempts))
			r.Use(middleware.RequireJSON)

			r.Post("/services/{name}/keys", admin.NewAddCredentialHandler(credentials).ServeHTTP)
			r.Patch("/keys/{id}", admin.NewUpdateCredentialHandler(credentials).ServeHTTP)
			r.Delete("/keys/{id}", admin.NewDeleteCredentialHandler(credentials).ServeHTTP)
			r.Post("/keys/{id}/test", admin.NewTestCredentialHandler(credentials, eng.Rotator).ServeHTTP)
		})
	})

	return r
}

func setupLogging(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	if os.Getenv("ENV") == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}
