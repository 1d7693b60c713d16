package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/placeboard/placeboard/go/internal/models"
)

// ErrNotFound is returned when no user matches the lookup.
var ErrNotFound = errors.New("user not found")

// Repository implements user data access on Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new users repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// EnsureSchema creates the users table if it does not exist yet.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
        CREATE TABLE IF NOT EXISTS users (
          id         uuid PRIMARY KEY,
          google_id  text NOT NULL UNIQUE,
          email      text NOT NULL UNIQUE,
          role       text NOT NULL DEFAULT 'USER',
          status     text NOT NULL DEFAULT 'ACTIVE',
          created_at timestamptz NOT NULL DEFAULT now()
        )
    `)
	if err != nil {
		return fmt.Errorf("failed to ensure users schema: %w", err)
	}
	return nil
}

// CreateUser inserts a new user with default role and status.
func (r *Repository) CreateUser(ctx context.Context, googleID, email string) (*models.User, error) {
	row := r.pool.QueryRow(ctx, `
        INSERT INTO users (id, google_id, email)
        VALUES ($1, $2, $3)
        RETURNING id, google_id, email, role, status, created_at
    `, uuid.New(), googleID, email)

	user, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// GetUser retrieves a user by ID.
func (r *Repository) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	row := r.pool.QueryRow(ctx, `
        SELECT id, google_id, email, role, status, created_at
        FROM users WHERE id = $1
    `, id)

	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// GetUserByGoogleID retrieves a user by the identity provider's subject.
func (r *Repository) GetUserByGoogleID(ctx context.Context, googleID string) (*models.User, error) {
	row := r.pool.QueryRow(ctx, `
        SELECT id, google_id, email, role, status, created_at
        FROM users WHERE google_id = $1
    `, googleID)

	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by google id: %w", err)
	}
	return user, nil
}

// UpdateStatus sets a user's moderation status.
func (r *Repository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.UserStatus) error {
	tag, err := r.pool.Exec(ctx, `
        UPDATE users SET status = $2 WHERE id = $1
    `, id, status)
	if err != nil {
		return fmt.Errorf("failed to update user status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	if err := row.Scan(&u.ID, &u.GoogleID, &u.Email, &u.Role, &u.Status, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}
