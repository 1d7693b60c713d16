package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/placeboard/placeboard/go/internal/gateway"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	config, err := loadConfig(getEnv("CONFIG_PATH", "config.yaml"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := setupDatabase(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to setup database")
	}
	defer pool.Close()

	services, err := setupServices(ctx, pool, config)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to setup services")
	}

	log.Info().
		Int("width", config.Board.Width).
		Int("height", config.Board.Height).
		Int("cooldown_seconds", config.CooldownSeconds).
		Msg("starting board server")

	go services.Manager.Start(ctx)
	go services.Limiter.RunPruneLoop(ctx, time.Minute, 5*time.Minute)

	if config.Relay.Enabled {
		relayConfig := gateway.DefaultRelayConfig()
		relayConfig.URL = getEnv("NATS_URL", relayConfig.URL)

		relay, err := gateway.NewRelay(services.Manager, relayConfig)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to setup delta relay")
		}
		defer relay.Stop()
		services.Hub.SetRelay(relay)

		go func() {
			if err := relay.Start(ctx); err != nil {
				log.Error().Err(err).Msg("delta relay failed")
			}
		}()
	}

	server := setupServer(services)

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	cancel()

	log.Info().Msg("board server shutdown complete")
}
