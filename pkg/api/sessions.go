package api

import (
	"net/http"
	"strings"

	errs "igcollector/pkg/errors"
	"igcollector/pkg/models"
)

type initRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// InitSession logs a username in and stores the session
func (h *Handler) InitSession(w http.ResponseWriter, r *http.Request) {
	var req initRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, err)
		return
	}
	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		h.fail(w, errs.New(errs.ErrorTypeInvalidInput, "username and password are required"))
		return
	}

	sess, err := h.init.InitSession(r.Context(), req.Username, req.Password)
	if err != nil {
		h.fail(w, err)
		return
	}
	JSON(w, http.StatusOK, sess)
}

// ListSessions returns every session without secrets
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.store.ListSessions(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	if sessions == nil {
		sessions = []models.Session{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
		"total":    len(sessions),
	})
}

// GetSession returns one session
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	sess, err := h.store.GetSession(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	JSON(w, http.StatusOK, sess)
}

// UpdateSession applies an administrative patch: flags, usage count,
// settings or username
func (h *Handler) UpdateSession(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	var patch models.SessionPatch
	if err := decode(r, &patch); err != nil {
		h.fail(w, err)
		return
	}

	sess, err := h.store.UpdateSession(r.Context(), id, patch)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.logger.InfoWithFields("Session updated", map[string]interface{}{
		"session_id": id,
		"flags":      sess.Flags,
	})
	JSON(w, http.StatusOK, sess)
}

// DeleteSession removes a session
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	if err := h.store.DeleteSession(r.Context(), id); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
