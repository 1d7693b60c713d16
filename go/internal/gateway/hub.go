package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/placeboard/placeboard/go/internal/actor"
	"github.com/placeboard/placeboard/go/internal/board"
	"github.com/placeboard/placeboard/go/internal/cooldown"
	"github.com/placeboard/placeboard/go/internal/metrics"
	"github.com/placeboard/placeboard/go/internal/models"
)

// Hub is the realtime protocol core. It authenticates inbound connections
// through the actor resolver, serves each new session the board snapshot
// and its cooldown state, validates placement and clear requests, applies
// accepted changes to the board store, and fans the committed deltas out
// to every registered session.
//
// No client state is authoritative: every session, including the sender,
// learns outcomes exclusively through the broadcast that follows a store
// commit. The hub subscribes to store commits as a board.Listener, so the
// broadcast order per cell matches the store's commit order.
type Hub struct {
	manager  *ConnectionManager
	store    *board.Store
	limiter  *cooldown.Limiter
	resolver *actor.Resolver
	relay    *Relay
}

// NewHub wires the hub to its collaborators and installs it as the board
// store's commit listener.
func NewHub(manager *ConnectionManager, store *board.Store, limiter *cooldown.Limiter, resolver *actor.Resolver) *Hub {
	h := &Hub{
		manager:  manager,
		store:    store,
		limiter:  limiter,
		resolver: resolver,
	}
	store.SetListener(h)
	return h
}

// SetRelay attaches the multi-instance delta relay. Optional.
func (h *Hub) SetRelay(relay *Relay) {
	h.relay = relay
}

// HandleBoardConnection upgrades an HTTP request to a realtime session.
// Credentials come from the query string: token for authenticated users,
// anon_id for visitors. An unverifiable token without an anon_id refuses
// the connection with a policy-violation close.
func (h *Hub) HandleBoardConnection(w http.ResponseWriter, r *http.Request) {
	creds := actor.Credentials{
		Token:  r.URL.Query().Get("token"),
		AnonID: r.URL.Query().Get("anon_id"),
	}

	resolved, err := h.resolver.Resolve(r.Context(), creds)
	if err != nil {
		log.Warn().Err(err).Msg("refusing realtime connection")
		h.refuse(w, r, ErrCodeAuthFailed)
		return
	}

	conn, err := h.manager.Upgrade(w, r, resolved, h.handleMessage)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade realtime connection")
		return
	}

	h.manager.SendTo(conn, NewInitMessage(h.store.Snapshot(), h.limiter.Remaining(resolved.ID)))
}

// refuse completes the websocket handshake and immediately closes with a
// policy violation, so browser clients observe a clean close code instead
// of a failed upgrade.
func (h *Hub) refuse(w http.ResponseWriter, r *http.Request, reason string) {
	conn, err := h.manager.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	deadline := time.Now().Add(h.manager.config.WriteTimeout)
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), deadline)
	conn.Close()
}

// handleMessage dispatches one inbound message. Per-request errors are
// resolved here and reported only to the originating session; they never
// interrupt other sessions or the broadcast stream.
func (h *Hub) handleMessage(conn *Connection, data []byte) {
	parsed, err := ParseClientMessage(data)
	if err != nil {
		log.Debug().
			Err(err).
			Str("connection_id", conn.ID).
			Msg("rejecting malformed message")
		metrics.PlacementsRejected.WithLabelValues(ErrCodeMalformedRequest).Inc()
		h.manager.SendTo(conn, NewErrorMessage(ErrCodeMalformedRequest))
		return
	}

	switch req := parsed.(type) {
	case *PlaceRequest:
		h.handlePlace(conn, req)
	case *ClearRequest:
		h.handleClear(conn, req)
	}
}

func (h *Hub) handlePlace(conn *Connection, req *PlaceRequest) {
	if !h.store.Contains(req.X, req.Y) {
		metrics.PlacementsRejected.WithLabelValues(ErrCodeOutOfRange).Inc()
		h.manager.SendTo(conn, NewErrorMessage(ErrCodeOutOfRange))
		return
	}

	if conn.Actor.IsBanned() {
		metrics.PlacementsRejected.WithLabelValues(ErrCodeForbidden).Inc()
		h.manager.SendTo(conn, NewErrorMessage(ErrCodeForbidden))
		return
	}

	ok, remaining := h.limiter.TryAcquire(conn.Actor.ID)
	if !ok {
		metrics.PlacementsRejected.WithLabelValues(ErrCodeRateLimited).Inc()
		h.manager.SendTo(conn, NewRateLimitedMessage(remaining))
		return
	}

	if _, err := h.store.SetCell(context.Background(), req.X, req.Y, req.Color, conn.Actor.ID); err != nil {
		// A failed write must not charge the actor's cooldown: the client
		// is told to retry, so the retry has to be admissible.
		h.limiter.Release(conn.Actor.ID)
		log.Error().
			Err(err).
			Str("actor_id", conn.Actor.ID).
			Int("x", req.X).
			Int("y", req.Y).
			Msg("placement failed")
		metrics.PlacementsRejected.WithLabelValues(ErrCodeStorageFailure).Inc()
		h.manager.SendTo(conn, NewErrorMessage(ErrCodeStorageFailure))
		return
	}
	// The pixel broadcast is emitted by PixelCommitted at the commit point.
}

func (h *Hub) handleClear(conn *Connection, req *ClearRequest) {
	if !conn.Actor.IsAdmin() {
		metrics.PlacementsRejected.WithLabelValues(ErrCodeForbidden).Inc()
		h.manager.SendTo(conn, NewErrorMessage(ErrCodeForbidden))
		return
	}

	_, err := h.store.ClearRegion(context.Background(), req.Start.X, req.Start.Y, req.End.X, req.End.Y)
	switch {
	case errors.Is(err, board.ErrOutOfRange):
		h.manager.SendTo(conn, NewErrorMessage(ErrCodeOutOfRange))
	case errors.Is(err, board.ErrInvalidRegion):
		h.manager.SendTo(conn, NewErrorMessage(ErrCodeMalformedRequest))
	case err != nil:
		log.Error().Err(err).Str("actor_id", conn.Actor.ID).Msg("region clear failed")
		h.manager.SendTo(conn, NewErrorMessage(ErrCodeStorageFailure))
	}
	// The clear broadcast is emitted by RegionCleared at the commit point.
}

// PixelCommitted implements board.Listener. It runs inside the store's
// per-cell linearization, so broadcasts observe true commit order.
func (h *Hub) PixelCommitted(p models.Pixel, actorID string) {
	metrics.PlacementsAccepted.Inc()
	msg := NewPixelMessage(p)
	h.manager.Broadcast(msg)
	if h.relay != nil {
		h.relay.PublishPixel(msg)
	}
}

// RegionCleared implements board.Listener.
func (h *Hub) RegionCleared(cells []models.Cell) {
	metrics.RegionsCleared.Inc()
	msg := NewClearMessage(cells)
	h.manager.Broadcast(msg)
	if h.relay != nil {
		h.relay.PublishClear(msg)
	}
}

// RegisterRoutes registers the realtime endpoint and its stats view.
func (h *Hub) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", h.HandleBoardConnection)
	mux.HandleFunc("GET /stats", h.handleStats)
}

// Stats returns statistics about the hub.
func (h *Hub) Stats() map[string]interface{} {
	return map[string]interface{}{
		"total_connections": h.manager.Count(),
		"board_width":       h.store.Width(),
		"board_height":      h.store.Height(),
	}
}

func (h *Hub) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.Stats()); err != nil {
		log.Error().Err(err).Msg("failed to encode stats")
	}
}
