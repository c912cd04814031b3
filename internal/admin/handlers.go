package admin

import (
	"encoding/json"
	"errors"
	"net/http"

	"impfwatch/internal/registry"
	"impfwatch/pkg/logx"

	"github.com/go-chi/chi/v5"
)

type addRequest struct {
	Region string `json:"region"`
	ID     string `json:"id"`
	Name   string `json:"name"`
}

type removeResponse struct {
	Removed int `json:"removed"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	var h Health
	if s.deps.Health != nil {
		h = s.deps.Health()
	}
	h.Status = "ok"
	if s.deps.Subscribers != nil {
		reg := s.deps.Subscribers.Registry()
		h.Subscribers = reg.Len()
		h.Regions = reg.RegionCount()
	}
	writeJSON(w, http.StatusOK, h)
}

func (s *Server) listSubscribers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Subscribers.List())
}

func (s *Server) addSubscriber(w http.ResponseWriter, r *http.Request) {
	var req addRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json: " + err.Error()})
		return
	}
	err := s.deps.Subscribers.Add(r.Context(), "admin", req.Region, registry.Subscriber{ID: req.ID, Name: req.Name})
	switch {
	case errors.Is(err, registry.ErrInvalidSubscriber):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case err != nil:
		s.log.Error("admin add subscriber failed", logx.Err(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	default:
		writeJSON(w, http.StatusCreated, s.deps.Subscribers.List())
	}
}

func (s *Server) removeSubscriber(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	n, err := s.deps.Subscribers.Remove(r.Context(), "admin", name)
	if err != nil {
		s.log.Error("admin remove subscriber failed", logx.Err(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}
	if n == 0 {
		writeJSON(w, http.StatusNotFound, removeResponse{Removed: 0})
		return
	}
	writeJSON(w, http.StatusOK, removeResponse{Removed: n})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
