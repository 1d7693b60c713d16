package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	anonIDCookie  = "anon_id"
	anonSigCookie = "anon_sig"
)

// handleCreateSession issues an anonymous session: a fresh uuid and its
// HMAC signature, set as cookies so the client can present them on the
// realtime connect without ever minting its own identity.
func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	anonID := uuid.New().String()
	sig := h.codec.SignAnonID(anonID)

	http.SetCookie(w, &http.Cookie{
		Name:     anonIDCookie,
		Value:    anonID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     anonSigCookie,
		Value:    sig,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	writeJSON(w, http.StatusOK, map[string]string{"anon_id": anonID})
}

// handleValidateSession checks the anonymous session cookies against the
// server signature. A tampered or missing pair is a 401, prompting the
// client to bootstrap a new session.
func (h *Handler) handleValidateSession(w http.ResponseWriter, r *http.Request) {
	idCookie, err := r.Cookie(anonIDCookie)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "no session")
		return
	}
	sigCookie, err := r.Cookie(anonSigCookie)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "no session")
		return
	}

	if !h.codec.VerifyAnonSig(idCookie.Value, sigCookie.Value) {
		writeError(w, http.StatusUnauthorized, "invalid session")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"anon_id": idCookie.Value})
}

// handleLogin exchanges a verified provider credential for a session token.
// The external provider proves the identity; this endpoint upserts the user
// and mints the token the realtime endpoint accepts.
func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	providerToken := r.URL.Query().Get("provider_token")
	if providerToken == "" {
		writeError(w, http.StatusBadRequest, "missing provider_token")
		return
	}

	identity, err := h.verifier.Verify(r.Context(), providerToken)
	if err != nil {
		log.Warn().Err(err).Msg("identity verification failed")
		writeError(w, http.StatusUnauthorized, "identity verification failed")
		return
	}

	user, err := h.users.UpsertByIdentity(r.Context(), identity.Subject, identity.Email)
	if err != nil {
		log.Error().Err(err).Msg("failed to upsert user")
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}

	token, err := h.codec.Mint(user)
	if err != nil {
		log.Error().Err(err).Msg("failed to mint token")
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

type botCheckRequest struct {
	Token string `json:"token"`
}

// handleBotCheck runs the caller's challenge response through the checker.
// A failing check bans the user immediately and drops their cached role so
// the ban applies to the next resolve, not just the next cache expiry.
func (h *Handler) handleBotCheck(w http.ResponseWriter, r *http.Request) {
	sessionToken := requestToken(r)
	if sessionToken == "" {
		writeError(w, http.StatusUnauthorized, "missing token")
		return
	}

	userID, err := h.codec.Verify(sessionToken)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}

	var req botCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		writeError(w, http.StatusBadRequest, "missing challenge token")
		return
	}

	passed, err := h.checker.Check(r.Context(), req.Token)
	if err != nil {
		log.Error().Err(err).Msg("bot check errored")
		writeError(w, http.StatusBadGateway, "check unavailable")
		return
	}

	if !passed {
		if err := h.users.Ban(r.Context(), userID); err != nil {
			log.Error().Err(err).Str("user_id", userID.String()).Msg("failed to ban user")
			writeError(w, http.StatusInternalServerError, "check failed")
			return
		}
		h.resolver.Invalidate(userID)
		writeJSON(w, http.StatusForbidden, map[string]bool{"passed": false})
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"passed": true})
}

// handleMe returns the authenticated user's profile.
func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	token := requestToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "missing token")
		return
	}

	userID, err := h.codec.Verify(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}

	user, err := h.users.GetUser(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}

	writeJSON(w, http.StatusOK, user)
}
