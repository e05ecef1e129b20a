package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"rendezvous/internal/apperr"
	"rendezvous/internal/auth"
	"rendezvous/internal/model"
)

// authenticate verifies the bearer token of a request. On failure it writes
// 401 and returns false.
func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	identity, err := h.Verifier.Verify(r.Context(), auth.TokenFromRequest(r))
	if err != nil || !identity.Authenticated() {
		h.Logger.Warn("rejected unauthenticated request",
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
			"error", err,
		)
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return auth.Identity{}, false
	}
	return identity, true
}

func (h *Handler) isOriginAllowed(origin string) bool {
	for _, allowed := range h.Config.AllowedOrigins {
		if origin == allowed {
			return true
		}
	}

	return false
}

// checkOrigin rejects browser requests from origins outside the allowlist.
// Requests without an Origin header (native apps) pass.
func (h *Handler) checkOrigin(w http.ResponseWriter, r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || h.isOriginAllowed(origin) {
		return true
	}
	h.Logger.Warn("forbidden origin", "path", r.URL.Path, "origin", origin)
	writeError(w, http.StatusForbidden, "Forbidden")
	return false
}

func statusFor(code apperr.Code) int {
	switch code {
	case apperr.CodeUnauthorized:
		return http.StatusUnauthorized
	case apperr.CodeAccessDenied:
		return http.StatusForbidden
	case apperr.CodeNotFound:
		return http.StatusNotFound
	case apperr.CodeInvalidArgument:
		return http.StatusBadRequest
	case apperr.CodeNotAllowed:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeAppError(w http.ResponseWriter, err error) {
	code, message := apperr.Public(err)
	writeJSON(w, statusFor(code), model.ErrorPayload{Code: string(code), Message: message})
}

// GetMessages handles GET /conversations/{id}/messages
// クエリ: before (RFC3339), limit
func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	if !h.checkOrigin(w, r) {
		return
	}
	identity, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	req := model.GetMessagesRequest{ConversationID: mux.Vars(r)["id"]}
	if v := r.URL.Query().Get("before"); v != "" {
		before, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			writeAppError(w, apperr.InvalidArg("before must be an RFC3339 timestamp"))
			return
		}
		req.Before = &before
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			writeAppError(w, apperr.InvalidArg("limit must be a number"))
			return
		}
		req.Limit = limit
	}

	messages, err := h.Chat.History(r.Context(), identity, req)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

// DeleteMessage handles DELETE /messages/{id}
func (h *Handler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	if !h.checkOrigin(w, r) {
		return
	}
	identity, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	if _, err := h.Chat.DeleteMessage(r.Context(), identity, mux.Vars(r)["id"]); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetUnreadCount handles GET /messages/unread-count
func (h *Handler) GetUnreadCount(w http.ResponseWriter, r *http.Request) {
	if !h.checkOrigin(w, r) {
		return
	}
	identity, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	n, err := h.Chat.UnreadCount(r.Context(), identity)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.UnreadCountPayload{UnreadCount: n})
}
