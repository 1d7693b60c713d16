package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/placeboard/placeboard/go/internal/actor"
	"github.com/placeboard/placeboard/go/internal/board"
	"github.com/placeboard/placeboard/go/internal/users"
)

// Identity is a verified external identity: the provider's stable subject
// and the email it vouches for.
type Identity struct {
	Subject string
	Email   string
}

// IdentityVerifier validates a provider-issued credential and returns the
// identity it proves. Token issuance itself stays with the provider.
type IdentityVerifier interface {
	Verify(ctx context.Context, providerToken string) (Identity, error)
}

// BotChecker decides whether a client-supplied challenge response passes.
type BotChecker interface {
	Check(ctx context.Context, token string) (bool, error)
}

// Pinger reports backend liveness, satisfied by pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves the REST surface next to the realtime endpoint: board
// reads, the admin clear, session bootstrap, identity login, bot checks
// and operational endpoints.
type Handler struct {
	store    *board.Store
	users    *users.App
	codec    *actor.TokenCodec
	resolver *actor.Resolver
	verifier IdentityVerifier
	checker  BotChecker
	db       Pinger
}

// NewHandler wires the REST surface to its collaborators.
func NewHandler(store *board.Store, usersApp *users.App, codec *actor.TokenCodec, resolver *actor.Resolver, verifier IdentityVerifier, checker BotChecker, db Pinger) *Handler {
	return &Handler{
		store:    store,
		users:    usersApp,
		codec:    codec,
		resolver: resolver,
		verifier: verifier,
		checker:  checker,
		db:       db,
	}
}

// RegisterRoutes registers every REST endpoint on the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /board", h.handleGetBoard)
	mux.HandleFunc("DELETE /board/delete_pixels", h.handleDeletePixels)
	mux.HandleFunc("POST /auth/session", h.handleCreateSession)
	mux.HandleFunc("GET /auth/session", h.handleValidateSession)
	mux.HandleFunc("GET /auth/login", h.handleLogin)
	mux.HandleFunc("POST /auth/check", h.handleBotCheck)
	mux.HandleFunc("GET /me", h.handleMe)
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.db.Ping(r.Context()); err != nil {
		log.Error().Err(err).Msg("health check failed")
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requestToken pulls the session token from the Authorization header or,
// failing that, the token query parameter.
func requestToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
