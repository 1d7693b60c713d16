package actor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/placeboard/placeboard/go/internal/models"
)

// ErrInvalidToken is returned when a presented session token cannot be verified.
var ErrInvalidToken = errors.New("invalid token")

// ErrNoCredentials is returned when a connection presents neither a session
// token nor an anonymous id.
var ErrNoCredentials = errors.New("no credentials supplied")

// Credentials carries the identification presented by an inbound connection.
// Exactly one path resolves the actor; the token path is preferred when both
// are present.
type Credentials struct {
	Token  string
	AnonID string
}

// UserGetter defines what the resolver needs from the users layer.
type UserGetter interface {
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// Resolver maps connection credentials to a stable actor identity and role.
//
// Role and status are looked up per connection so a ban or promotion takes
// effect on the next connect. Lookups are cached for CacheTTL at most; that
// TTL is the staleness window for already-resolved actors.
type Resolver struct {
	codec *TokenCodec
	users UserGetter
	clock clockwork.Clock
	ttl   time.Duration

	mu    sync.Mutex
	cache map[uuid.UUID]cacheEntry
}

type cacheEntry struct {
	actor     models.Actor
	expiresAt time.Time
}

// DefaultCacheTTL bounds how stale a resolved role/status may be.
const DefaultCacheTTL = 30 * time.Second

// NewResolver creates a resolver backed by the given token codec and user store.
func NewResolver(codec *TokenCodec, users UserGetter, clock clockwork.Clock, ttl time.Duration) *Resolver {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Resolver{
		codec: codec,
		users: users,
		clock: clock,
		ttl:   ttl,
		cache: make(map[uuid.UUID]cacheEntry),
	}
}

// Resolve returns a fully-populated actor for the credentials.
//
// An unverifiable token falls back to the anonymous path when an anonymous
// id was alternatively supplied; otherwise the connection attempt fails
// with ErrInvalidToken. No credentials at all fail with ErrNoCredentials.
func (r *Resolver) Resolve(ctx context.Context, creds Credentials) (models.Actor, error) {
	if creds.Token != "" {
		actor, err := r.resolveToken(ctx, creds.Token)
		if err == nil {
			return actor, nil
		}
		if errors.Is(err, ErrInvalidToken) && creds.AnonID != "" {
			log.Warn().Err(err).Msg("unverifiable token, falling back to anonymous actor")
			return models.AnonymousActor(creds.AnonID), nil
		}
		return models.Actor{}, err
	}

	if creds.AnonID != "" {
		return models.AnonymousActor(creds.AnonID), nil
	}

	return models.Actor{}, ErrNoCredentials
}

func (r *Resolver) resolveToken(ctx context.Context, token string) (models.Actor, error) {
	userID, err := r.codec.Verify(token)
	if err != nil {
		return models.Actor{}, err
	}

	now := r.clock.Now()
	r.mu.Lock()
	if entry, ok := r.cache[userID]; ok && now.Before(entry.expiresAt) {
		r.mu.Unlock()
		return entry.actor, nil
	}
	r.mu.Unlock()

	user, err := r.users.GetUser(ctx, userID)
	if err != nil {
		return models.Actor{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	actor := models.UserActor(user)
	r.mu.Lock()
	r.cache[userID] = cacheEntry{actor: actor, expiresAt: now.Add(r.ttl)}
	r.mu.Unlock()

	return actor, nil
}

// Invalidate drops a user's cached role/status so the next resolve sees the
// stored state immediately (used after a ban).
func (r *Resolver) Invalidate(userID uuid.UUID) {
	r.mu.Lock()
	delete(r.cache, userID)
	r.mu.Unlock()
}
