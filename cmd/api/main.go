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

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/zatekoja/slotbooking/internal/adapters/cache"
	"github.com/zatekoja/slotbooking/internal/api/handlers"
	"github.com/zatekoja/slotbooking/internal/api/middleware"
	"github.com/zatekoja/slotbooking/internal/api/routes"
	"github.com/zatekoja/slotbooking/internal/application/services"
	"github.com/zatekoja/slotbooking/internal/bootstrap"
	"github.com/zatekoja/slotbooking/internal/infrastructure/observability"
	"github.com/zatekoja/slotbooking/pkg/config"
)

func main() {
	// A .env file is optional; the environment always wins
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger(cfg.OTEL.ServiceName, cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.OTEL.Enabled && cfg.OTEL.Endpoint != "" {
		shutdown, err := observability.Setup(ctx, cfg.OTEL.ServiceName, cfg.OTEL.ServiceVersion, cfg.OTEL.Endpoint)
		if err != nil {
			log.Warn().Err(err).Msg("failed to set up OpenTelemetry")
		} else {
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdown(ctx); err != nil {
					log.Error().Err(err).Msg("error shutting down OpenTelemetry")
				}
			}()
			log.Info().Msg("OpenTelemetry initialized")
		}
	}

	metrics, err := observability.InitMetrics()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize metrics")
	}

	components, err := bootstrap.New(ctx, cfg, metrics)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize booking core")
	}
	defer func() {
		if err := components.Close(); err != nil {
			log.Error().Err(err).Msg("error releasing resources")
		}
	}()

	// Other instances publish on the shared bus, so cached listings are
	// dropped on every booking event, not only on local writes
	var cacheInvalidation *services.CacheInvalidationService
	if components.EventBus != nil && components.Cache != nil {
		cacheInvalidation = services.NewCacheInvalidationService(components.Cache, components.EventBus)
		if err := cacheInvalidation.Start(); err != nil {
			log.Warn().Err(err).Msg("failed to start cache invalidation")
			cacheInvalidation = nil
		}
	}

	// The memory store lives in this process, so nothing else can sweep it
	sweepDone := make(chan struct{})
	if cfg.Database.Driver == "memory" {
		go func() {
			defer close(sweepDone)
			components.Sweeper.Run(ctx, cfg.Booking.SweepInterval, cfg.Booking.ReminderLookahead, nil)
		}()
	} else {
		close(sweepDone)
	}

	rateLimiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	rateLimiter.StartJanitor(ctx, 2*time.Minute)
	if components.Redis != nil {
		rateLimiter.UseShared(cache.NewRedisRateWindow(components.Redis, cfg.RateLimit.Burst, cfg.RateLimit.Window()))
	}

	router := routes.NewRouter(
		handlers.NewBookingHandler(components.Ledger),
		handlers.NewWaitListHandler(components.WaitList),
		handlers.NewSlotHandler(components.Slots),
		handlers.NewHealthHandler(components.HealthChecks),
		rateLimiter,
		cfg.Server.AllowedOrigins,
		metrics,
	)

	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router.SetupRoutes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", serverAddr).Str("store", cfg.Database.Driver).Str("event_bus", cfg.Booking.EventBus).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		log.Error().Err(err).Msg("server failed")
		stop()
	}

	log.Info().Msg("server shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error during server shutdown")
	}

	<-sweepDone
	if cacheInvalidation != nil {
		cacheInvalidation.Stop()
	}

	log.Info().Msg("server stopped")
}
