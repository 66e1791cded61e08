package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/benbjohnson/clock"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/remotecast/relay-server-go/internal/config"
	"github.com/remotecast/relay-server-go/internal/handler"
	"github.com/remotecast/relay-server-go/internal/jobs"
	"github.com/remotecast/relay-server-go/internal/middleware"
	"github.com/remotecast/relay-server-go/internal/redis"
	"github.com/remotecast/relay-server-go/internal/service"
	"github.com/remotecast/relay-server-go/internal/sse"
	"github.com/remotecast/relay-server-go/internal/store"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	setLogLevel(cfg.LogLevel)

	var (
		redisClient    *redis.Client
		upgradeLimiter service.KeyedLimiter
	)
	if cfg.RedisURL != "" {
		redisClient, err = redis.NewClient(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
		log.Info().Msg("redis connected")
		upgradeLimiter = service.NewRedisRateLimiter(redisClient, "ws-upgrade")
	} else {
		log.Info().Msg("REDIS_URL not set, using in-process limiter and event fan-out")
		upgradeLimiter = service.NewMemoryRateLimiter()
	}

	broker := sse.NewBroker(redisClient)
	defer broker.Close()

	st := store.New(clock.New(), store.Options{
		PairCodeTTL:   cfg.PairCodeTTL(),
		TrustTokenTTL: cfg.TrustTokenTTL(),
		SessionTTL:    cfg.SessionTTL(),
	})

	handshakeService := service.NewHandshakeService(st, broker)
	router := service.NewRouter(st)
	failureLimiter := service.NewFailureLimiter(nil, cfg.HandshakeFailuresPerMin)

	wsHandler := handler.NewWebSocketHandler(st, handshakeService, router, failureLimiter, handler.WebSocketOptions{
		AllowedOrigins:    cfg.AllowedOrigins,
		MaxMessageBytes:   cfg.MaxMessageBytes,
		RateLimitInterval: cfg.RateLimitInterval(),
	})
	upgradeRateLimit := middleware.NewIPRateLimitMiddleware(
		upgradeLimiter, cfg.UpgradeRateLimitPerMin, config.UpgradeRateLimitWindow, "ws-upgrade",
	)

	isProduction := os.Getenv("FLY_APP_NAME") != ""
	securityHeadersMiddleware := middleware.NewSecurityHeadersMiddleware(isProduction)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", handler.Health)

	r.With(upgradeRateLimit.Handler).Get("/ws", wsHandler.ServeHTTP)

	if cfg.OperatorEnabled() {
		operatorAuth := middleware.NewOperatorAuthMiddleware(cfg.OperatorTokenHash)
		statsHandler := handler.NewStatsHandler(st, broker)
		eventsHandler := handler.NewEventsHandler(broker)

		r.Route("/v1", func(r chi.Router) {
			r.Use(securityHeadersMiddleware.Handler)
			r.Use(operatorAuth.Handler)
			r.Mount("/stats", statsHandler.Routes())
			r.Get("/events", eventsHandler.ServeHTTP)
		})
	} else {
		log.Info().Msg("OPERATOR_TOKEN_HASH not set, operator endpoints disabled")
	}

	sweepJob := jobs.NewSweepJob(st, broker, clock.New(), cfg.SweepInterval())
	sweepJob.Start()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting relay server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	sweepJob.Stop()
	closed := st.CloseAll()
	log.Info().Int("connections", closed).Msg("closed relay connections")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
