package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/placeboard/placeboard/go/internal/models"
)

// UsersRepository defines what the app layer needs from the repository.
type UsersRepository interface {
	CreateUser(ctx context.Context, googleID, email string) (*models.User, error)
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUserByGoogleID(ctx context.Context, googleID string) (*models.User, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.UserStatus) error
}

// App handles user business logic.
type App struct {
	repo UsersRepository
}

// NewApp creates a new users App.
func NewApp(repo UsersRepository) *App {
	return &App{repo: repo}
}

// UpsertByIdentity returns the user for a verified external identity,
// creating it on first contact.
func (a *App) UpsertByIdentity(ctx context.Context, googleID, email string) (*models.User, error) {
	user, err := a.repo.GetUserByGoogleID(ctx, googleID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	user, err = a.repo.CreateUser(ctx, googleID, email)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	log.Info().Str("user_id", user.ID.String()).Str("email", user.Email).Msg("created user")
	return user, nil
}

// GetUser retrieves a user by ID.
func (a *App) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return a.repo.GetUser(ctx, id)
}

// Ban marks a user banned. Every subsequent placement or clear request from
// the user is rejected regardless of cooldown state.
func (a *App) Ban(ctx context.Context, id uuid.UUID) error {
	if err := a.repo.UpdateStatus(ctx, id, models.UserStatusBanned); err != nil {
		return fmt.Errorf("failed to ban user: %w", err)
	}
	log.Warn().Str("user_id", id.String()).Msg("user banned")
	return nil
}
