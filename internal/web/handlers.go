package web

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"

	"github.com/mordilloSan/go-logger/logger"

	"odmclient/internal/fault"
	"odmclient/internal/session"
	"odmclient/pkg/utils"
)

type sessionHandlers struct {
	registry *session.Registry
}

// lookup resolves the {id} path value, writing a 404 when it is unknown
func (h *sessionHandlers) lookup(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	s, err := h.registry.Session(r.PathValue("id"))
	if err != nil {
		WriteError(w, http.StatusNotFound, err.Error())
		return nil, false
	}
	return s, true
}

func (h *sessionHandlers) create(w http.ResponseWriter, r *http.Request) {
	// A JSON body cannot be sent cross-site without a preflight
	if mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err != nil || mediaType != "application/json" {
		WriteError(w, http.StatusUnsupportedMediaType, "content type must be application/json")
		return
	}

	var req session.CreateRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.ProjectID <= 0 {
		WriteError(w, http.StatusBadRequest, "project_id is required")
		return
	}
	for _, path := range req.Files {
		if !utils.IsImageFile(path) {
			WriteError(w, http.StatusBadRequest, "not an image file: "+path)
			return
		}
	}

	id, err := h.registry.Create(req)
	switch {
	case errors.Is(err, session.ErrNoFiles):
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, session.ErrRegistryClosed):
		WriteError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil && fault.Classify(err) == fault.KindLocalIO:
		WriteError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case err != nil:
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s, err := h.registry.Session(id)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.Start(); err != nil {
		WriteError(w, http.StatusConflict, err.Error())
		return
	}
	logger.InfoKV("bridge session started", "session", id, "files", len(req.Files))
	WriteJSON(w, http.StatusCreated, s.Snapshot())
}

func (h *sessionHandlers) list(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.registry.ListActive())
}

func (h *sessionHandlers) get(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, s.Snapshot())
}

func (h *sessionHandlers) cancel(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if err := s.Cancel(); err != nil {
		WriteError(w, http.StatusConflict, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, s.Snapshot())
}

func (h *sessionHandlers) minimize(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	s.Minimize()
	WriteJSON(w, http.StatusOK, s.Snapshot())
}

func (h *sessionHandlers) retryCommit(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if err := s.RetryCommit(); err != nil {
		WriteError(w, http.StatusConflict, err.Error())
		return
	}
	WriteJSON(w, http.StatusAccepted, s.Snapshot())
}

func (h *sessionHandlers) dismiss(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if !h.registry.Dismiss(s.ID) {
		WriteError(w, http.StatusConflict, "session is still running")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
