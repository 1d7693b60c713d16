package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/placeboard/placeboard/go/internal/actor"
	"github.com/placeboard/placeboard/go/internal/board"
	"github.com/placeboard/placeboard/go/internal/models"
)

// handleGetBoard serves the full non-empty pixel list.
func (h *Handler) handleGetBoard(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.store.Snapshot())
}

type deleteRegionRequest struct {
	Start models.Cell `json:"start"`
	End   models.Cell `json:"end"`
}

// handleDeletePixels clears an inclusive rectangle. Admin only; realtime
// sessions learn about the clear through the store's commit listener, so
// the REST path and the websocket path share one broadcast.
func (h *Handler) handleDeletePixels(w http.ResponseWriter, r *http.Request) {
	token := requestToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "missing token")
		return
	}

	resolved, err := h.resolver.Resolve(r.Context(), actor.Credentials{Token: token})
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	if !resolved.IsAdmin() {
		writeError(w, http.StatusForbidden, "admin required")
		return
	}

	var req deleteRegionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cleared, err := h.store.ClearRegion(r.Context(), req.Start.X, req.Start.Y, req.End.X, req.End.Y)
	switch {
	case errors.Is(err, board.ErrOutOfRange), errors.Is(err, board.ErrInvalidRegion):
		writeError(w, http.StatusBadRequest, "invalid region")
		return
	case err != nil:
		log.Error().Err(err).Str("actor_id", resolved.ID).Msg("region clear failed")
		writeError(w, http.StatusInternalServerError, "clear failed")
		return
	}

	if cleared == nil {
		cleared = []models.Cell{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"list": cleared})
}
