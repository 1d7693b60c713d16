package board

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/placeboard/placeboard/go/internal/models"
)

const stripeCount = 64

// StoreConfig holds the board dimensions and persistence timeout.
type StoreConfig struct {
	Width        int
	Height       int
	WriteTimeout time.Duration
}

// DefaultStoreConfig returns the board configuration used in production.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Width:        200,
		Height:       100,
		WriteTimeout: 5 * time.Second,
	}
}

// Store owns the canonical pixel grid. Every accepted mutation is durably
// recorded through the Repository before the in-memory grid changes, so the
// grid never runs ahead of what a restart would replay.
//
// Concurrency: SetCell serializes per cell (stripe mutex under a shared
// region read lock), so placements on different cells proceed concurrently.
// ClearRegion takes the region lock exclusively, which makes a clear the
// single linearization point for every cell it covers: a placement racing
// with a clear lands either entirely before or entirely after it, and a
// clear in progress wins over placements inside its rectangle.
// Listener observes committed mutations. Callbacks run inside the cell's
// linearization point, so per-cell invocation order matches commit order
// and a broadcast built from them never precedes its commit. Callbacks
// must not block.
type Listener interface {
	PixelCommitted(p models.Pixel, actorID string)
	RegionCleared(cells []models.Cell)
}

type Store struct {
	width  int
	height int
	repo   Repository

	listener Listener

	writeTimeout time.Duration

	regionMu sync.RWMutex
	stripes  [stripeCount]sync.Mutex

	gridMu sync.RWMutex
	grid   []string // row-major, "" means empty
}

// NewStore creates a blank board of the configured size.
func NewStore(cfg StoreConfig, repo Repository) *Store {
	return &Store{
		width:        cfg.Width,
		height:       cfg.Height,
		repo:         repo,
		writeTimeout: cfg.WriteTimeout,
		grid:         make([]string, cfg.Width*cfg.Height),
	}
}

// SetListener installs the commit observer. Must be called before the
// store receives writes.
func (s *Store) SetListener(l Listener) {
	s.listener = l
}

// Width returns the board width in cells.
func (s *Store) Width() int { return s.width }

// Height returns the board height in cells.
func (s *Store) Height() int { return s.height }

// Contains reports whether the coordinate is addressable on this board.
func (s *Store) Contains(x, y int) bool {
	return x >= 0 && x < s.width && y >= 0 && y < s.height
}

// Load replays the persisted pixels into the in-memory grid. Rows outside
// the current bounds (left over from an older, larger board) are skipped.
func (s *Store) Load(ctx context.Context) error {
	pixels, err := s.repo.ListPixels(ctx)
	if err != nil {
		return fmt.Errorf("failed to load board: %w", err)
	}

	s.gridMu.Lock()
	defer s.gridMu.Unlock()

	loaded := 0
	for _, p := range pixels {
		if !s.Contains(p.X, p.Y) {
			log.Warn().Int("x", p.X).Int("y", p.Y).Msg("skipping persisted pixel outside board bounds")
			continue
		}
		s.grid[p.Y*s.width+p.X] = p.Color
		loaded++
	}

	log.Info().
		Int("pixels", loaded).
		Int("width", s.width).
		Int("height", s.height).
		Msg("board loaded")
	return nil
}

// Cell returns the color at (x, y), empty string for an empty cell.
func (s *Store) Cell(x, y int) (string, error) {
	if !s.Contains(x, y) {
		return "", fmt.Errorf("%w: (%d,%d)", ErrOutOfRange, x, y)
	}

	s.gridMu.RLock()
	defer s.gridMu.RUnlock()
	return s.grid[y*s.width+x], nil
}

// Snapshot returns every non-empty cell as a consistent point-in-time view.
func (s *Store) Snapshot() []models.Pixel {
	s.gridMu.RLock()
	defer s.gridMu.RUnlock()

	pixels := make([]models.Pixel, 0, 256)
	for i, color := range s.grid {
		if color == "" {
			continue
		}
		pixels = append(pixels, models.Pixel{
			X:     i % s.width,
			Y:     i / s.width,
			Color: color,
		})
	}
	return pixels
}

// SetCell durably writes one cell and returns its previous color. The write
// is atomic with respect to concurrent SetCell and ClearRegion calls on the
// same cell. A persistence failure or stall returns ErrStorage and leaves
// the grid unchanged.
func (s *Store) SetCell(ctx context.Context, x, y int, color, actorID string) (string, error) {
	if !s.Contains(x, y) {
		return "", fmt.Errorf("%w: (%d,%d)", ErrOutOfRange, x, y)
	}

	s.regionMu.RLock()
	defer s.regionMu.RUnlock()

	idx := y*s.width + x
	stripe := &s.stripes[idx%stripeCount]
	stripe.Lock()
	defer stripe.Unlock()

	writeCtx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()

	if err := s.repo.UpsertPixel(writeCtx, models.PlacedPixel{
		Pixel:   models.Pixel{X: x, Y: y, Color: color},
		ActorID: actorID,
	}); err != nil {
		return "", fmt.Errorf("%w: %v", ErrStorage, err)
	}

	s.gridMu.Lock()
	prev := s.grid[idx]
	s.grid[idx] = color
	s.gridMu.Unlock()

	if s.listener != nil {
		s.listener.PixelCommitted(models.Pixel{X: x, Y: y, Color: color}, actorID)
	}

	return prev, nil
}

// ClearRegion empties every cell in the inclusive rectangle and returns the
// cells that actually changed. The whole clear is atomic with respect to
// concurrent SetCell calls: clear wins over any placement inside the
// rectangle that has not committed before the clear acquired the board.
func (s *Store) ClearRegion(ctx context.Context, x1, y1, x2, y2 int) ([]models.Cell, error) {
	if !s.Contains(x1, y1) || !s.Contains(x2, y2) {
		return nil, fmt.Errorf("%w: (%d,%d)-(%d,%d)", ErrOutOfRange, x1, y1, x2, y2)
	}
	if x1 > x2 || y1 > y2 {
		return nil, fmt.Errorf("%w: (%d,%d)-(%d,%d)", ErrInvalidRegion, x1, y1, x2, y2)
	}

	s.regionMu.Lock()
	defer s.regionMu.Unlock()

	writeCtx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()

	if err := s.repo.DeleteRegion(writeCtx, x1, y1, x2, y2); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	s.gridMu.Lock()
	var changed []models.Cell
	for y := y1; y <= y2; y++ {
		for x := x1; x <= x2; x++ {
			idx := y*s.width + x
			if s.grid[idx] == "" {
				continue
			}
			s.grid[idx] = ""
			changed = append(changed, models.Cell{X: x, Y: y})
		}
	}
	s.gridMu.Unlock()

	if s.listener != nil && len(changed) > 0 {
		s.listener.RegionCleared(changed)
	}
	return changed, nil
}
