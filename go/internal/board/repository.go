package board

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/placeboard/placeboard/go/internal/models"
)

// Repository defines what the store needs from the persistence layer.
type Repository interface {
	UpsertPixel(ctx context.Context, p models.PlacedPixel) error
	DeleteRegion(ctx context.Context, x1, y1, x2, y2 int) error
	ListPixels(ctx context.Context) ([]models.PlacedPixel, error)
}

// PgRepository implements pixel persistence on Postgres.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewPgRepository creates a new Postgres-backed pixel repository.
func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// EnsureSchema creates the pixels table if it does not exist yet.
func (r *PgRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
        CREATE TABLE IF NOT EXISTS pixels (
          x         integer NOT NULL,
          y         integer NOT NULL,
          color     text NOT NULL,
          actor_id  text NOT NULL,
          placed_at timestamptz NOT NULL DEFAULT now(),
          PRIMARY KEY (x, y)
        )
    `)
	if err != nil {
		return fmt.Errorf("failed to ensure pixels schema: %w", err)
	}
	return nil
}

// UpsertPixel durably records the current color of one cell.
func (r *PgRepository) UpsertPixel(ctx context.Context, p models.PlacedPixel) error {
	_, err := r.pool.Exec(ctx, `
        INSERT INTO pixels (x, y, color, actor_id, placed_at)
        VALUES ($1, $2, $3, $4, now())
        ON CONFLICT (x, y) DO UPDATE
          SET color = EXCLUDED.color,
              actor_id = EXCLUDED.actor_id,
              placed_at = now()
    `, p.X, p.Y, p.Color, p.ActorID)
	if err != nil {
		return fmt.Errorf("failed to upsert pixel (%d,%d): %w", p.X, p.Y, err)
	}
	return nil
}

// DeleteRegion removes every persisted pixel inside the inclusive rectangle.
func (r *PgRepository) DeleteRegion(ctx context.Context, x1, y1, x2, y2 int) error {
	_, err := r.pool.Exec(ctx, `
        DELETE FROM pixels
        WHERE x >= $1 AND x <= $2 AND y >= $3 AND y <= $4
    `, x1, x2, y1, y2)
	if err != nil {
		return fmt.Errorf("failed to delete region (%d,%d)-(%d,%d): %w", x1, y1, x2, y2, err)
	}
	return nil
}

// ListPixels returns every persisted pixel, used to rebuild the grid on startup.
func (r *PgRepository) ListPixels(ctx context.Context) ([]models.PlacedPixel, error) {
	rows, err := r.pool.Query(ctx, `
        SELECT x, y, color, actor_id, placed_at FROM pixels
    `)
	if err != nil {
		return nil, fmt.Errorf("failed to list pixels: %w", err)
	}
	defer rows.Close()

	var pixels []models.PlacedPixel
	for rows.Next() {
		var p models.PlacedPixel
		if err := rows.Scan(&p.X, &p.Y, &p.Color, &p.ActorID, &p.PlacedAt); err != nil {
			return nil, fmt.Errorf("failed to scan pixel row: %w", err)
		}
		pixels = append(pixels, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read pixel rows: %w", err)
	}
	return pixels, nil
}
