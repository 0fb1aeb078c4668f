package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/odontoagenda/agenda/internal/config"
	"github.com/odontoagenda/agenda/internal/domain/identity"
	"github.com/odontoagenda/agenda/internal/domain/scheduling"
	"github.com/odontoagenda/agenda/internal/platform/auth"
	"github.com/odontoagenda/agenda/internal/platform/db"
	"github.com/odontoagenda/agenda/internal/platform/events"
	"github.com/odontoagenda/agenda/internal/platform/metrics"
	"github.com/odontoagenda/agenda/internal/platform/middleware"
)

const version = "0.1.0"

// serverPool is what the HTTP server needs from the database.
type serverPool interface {
	db.Pool
	db.Pinger
}

type serverDeps struct {
	cfg       *config.Config
	logger    zerolog.Logger
	pool      serverPool
	stats     func() *db.PoolStats
	hub       *events.Hub
	publisher events.Publisher
	registry  *prometheus.Registry
}

func jwtConfig(cfg *config.Config) auth.JWTConfig {
	return auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		SigningKey: []byte(cfg.JWTSigningKey),
		Skipper:    auth.AuthSkipper,
	}
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Calendar events: local hub, fanned out through Redis when configured
	hub := events.NewHub(logger)
	var publisher events.Publisher = hub
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		defer client.Close()

		relay := events.NewRedisRelay(client, events.DefaultChannel, hub, logger)
		if err := relay.Start(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to subscribe to calendar events")
		}
		publisher = relay
		logger.Info().Msg("calendar events relayed through redis")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	e, err := newServer(serverDeps{
		cfg:       cfg,
		logger:    logger,
		pool:      pool,
		stats:     db.StatsOf(pool),
		hub:       hub,
		publisher: publisher,
		registry:  registry,
	})
	if err != nil {
		return err
	}

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("auth_mode", cfg.ResolvedAuthMode()).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

func authMiddleware(cfg *config.Config, logger zerolog.Logger, actors auth.ActorResolver) (echo.MiddlewareFunc, error) {
	jwtCfg := jwtConfig(cfg)
	switch cfg.ResolvedAuthMode() {
	case config.AuthModeDevelopment:
		devActor := uuid.Nil
		if cfg.DevActorID != "" {
			id, err := uuid.Parse(cfg.DevActorID)
			if err != nil {
				return nil, fmt.Errorf("DEV_ACTOR_ID: %w", err)
			}
			devActor = id
		}
		logger.Warn().
			Str("dev_actor_id", devActor.String()).
			Msg("development auth is active; requests without credentials act as DEV_ACTOR_ID")
		return auth.DevAuthMiddleware(devActor, jwtCfg, actors), nil
	case config.AuthModeJWT:
		return auth.JWTMiddleware(jwtCfg, actors), nil
	default:
		return nil, fmt.Errorf("unsupported auth mode %q", cfg.ResolvedAuthMode())
	}
}

func newServer(d serverDeps) (*echo.Echo, error) {
	cfg := d.cfg
	opensAt, closesAt, err := cfg.ClinicHours()
	if err != nil {
		return nil, err
	}

	// Domain services
	patientRepo := identity.NewPatientRepo(d.pool)
	identitySvc := identity.NewService(identity.NewActorRepo(d.pool), patientRepo, d.logger)
	directory := identity.NewDirectory(identitySvc)

	schedulingSvc := scheduling.NewService(
		scheduling.NewSlotRepoPG(d.pool),
		identity.NewPatientRegistry(patientRepo),
		directory,
		scheduling.Options{
			Publisher:    d.publisher,
			Metrics:      metrics.NewSchedulingMetrics(d.registry),
			Logger:       d.logger,
			StoreTimeout: cfg.StoreTimeout,
			OpensAt:      opensAt,
			ClosesAt:     closesAt,
		},
	)

	authMW, err := authMiddleware(cfg, d.logger, directory)
	if err != nil {
		return nil, err
	}

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(d.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(d.logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{echo.HeaderAuthorization, echo.HeaderContentType, middleware.RequestIDHeader},
	}))
	e.Use(echomw.Secure())
	e.Use(echomw.BodyLimit("1M"))

	// Infrastructure endpoints
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(d.pool, d.stats))
	e.GET("/metrics", metrics.Handler(d.registry))

	// API
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}

	apiV1 := e.Group("/api/v1")
	// the deadline must cover the actor lookup in authMW
	apiV1.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	apiV1.Use(authMW)
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	scheduling.NewHandler(schedulingSvc).RegisterRoutes(apiV1)
	identity.NewHandler(identitySvc).RegisterRoutes(apiV1)
	events.NewHandler(d.hub, cfg.CORSOrigins).RegisterRoutes(apiV1)

	return e, nil
}
