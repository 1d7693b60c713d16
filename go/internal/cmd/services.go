package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"

	"github.com/placeboard/placeboard/go/internal/actor"
	"github.com/placeboard/placeboard/go/internal/board"
	"github.com/placeboard/placeboard/go/internal/cooldown"
	"github.com/placeboard/placeboard/go/internal/gateway"
	"github.com/placeboard/placeboard/go/internal/httpapi"
	"github.com/placeboard/placeboard/go/internal/users"
)

type Services struct {
	Store   *board.Store
	Limiter *cooldown.Limiter
	Manager *gateway.ConnectionManager
	Hub     *gateway.Hub
	API     *httpapi.Handler
}

func setupServices(ctx context.Context, pool *pgxpool.Pool, config *Config) (*Services, error) {
	// Database layer → repository layer → app layer → transport layer.
	boardRepo := board.NewPgRepository(pool)
	if err := boardRepo.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure board schema: %w", err)
	}

	usersRepo := users.NewRepository(pool)
	if err := usersRepo.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure users schema: %w", err)
	}
	usersApp := users.NewApp(usersRepo)

	store := board.NewStore(board.StoreConfig{
		Width:        config.Board.Width,
		Height:       config.Board.Height,
		WriteTimeout: 5 * time.Second,
	}, boardRepo)
	if err := store.Load(ctx); err != nil {
		return nil, err
	}

	clock := clockwork.NewRealClock()
	limiter := cooldown.NewLimiter(clock, time.Duration(config.CooldownSeconds)*time.Second)

	secret := getEnv("JWT_SECRET", "")
	if secret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is required")
	}
	expiry := time.Duration(getEnvAsInt("JWT_EXPIRY_HOURS", 24)) * time.Hour
	codec := actor.NewTokenCodec([]byte(secret), expiry, clock)
	resolver := actor.NewResolver(codec, usersRepo, clock, actor.DefaultCacheTTL)

	manager := gateway.NewConnectionManager(gateway.DefaultConnectionConfig())
	hub := gateway.NewHub(manager, store, limiter, resolver)

	verifier := httpapi.NewGoogleVerifier(getEnv("GOOGLE_CLIENT_ID", ""))
	checker := httpapi.NewRecaptchaChecker(getEnv("RECAPTCHA_SECRET", ""))
	api := httpapi.NewHandler(store, usersApp, codec, resolver, verifier, checker, pool)

	return &Services{
		Store:   store,
		Limiter: limiter,
		Manager: manager,
		Hub:     hub,
		API:     api,
	}, nil
}
