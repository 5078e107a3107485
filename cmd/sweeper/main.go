package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/zatekoja/slotbooking/internal/bootstrap"
	"github.com/zatekoja/slotbooking/internal/infrastructure/observability"
	"github.com/zatekoja/slotbooking/pkg/config"
)

func main() {
	once := flag.Bool("once", false, "run a single sweep and exit")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger(cfg.OTEL.ServiceName+"-sweeper", cfg.Env)

	if cfg.Database.Driver == "memory" {
		log.Fatal().Msg("the sweeper needs a shared store; the api sweeps the memory store itself")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.OTEL.Enabled && cfg.OTEL.Endpoint != "" {
		shutdown, err := observability.Setup(ctx, cfg.OTEL.ServiceName+"-sweeper", cfg.OTEL.ServiceVersion, cfg.OTEL.Endpoint)
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

	if *once {
		expired, err := components.Sweeper.Sweep(ctx, time.Now().UTC())
		if err != nil {
			log.Error().Err(err).Msg("sweep failed")
			return
		}
		log.Info().Int("expired", expired).Msg("sweep completed")
		return
	}

	log.Info().
		Dur("interval", cfg.Booking.SweepInterval).
		Dur("grace", cfg.Booking.ExpireAfterStart).
		Msg("expiration sweeper started")
	components.Sweeper.Run(ctx, cfg.Booking.SweepInterval, cfg.Booking.ReminderLookahead, nil)
}
