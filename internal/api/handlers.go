package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	fitq "github.com/wearlab/fitq"
	"github.com/wearlab/fitq/fitting"
	"github.com/wearlab/fitq/jobs"
)

// API exposes the submission/status boundary over HTTP. Authentication is
// out of scope: the owner id arrives in the X-User-ID header.
type API struct {
	svc *fitting.Service
	log fitq.Logger
}

// New creates the HTTP API around the fitting service.
func New(svc *fitting.Service, log fitq.Logger) *API {
	if log == nil {
		log = fitq.NewFmtLogger()
	}
	return &API{svc: svc, log: log}
}

// Router returns the HTTP handler for all endpoints.
func (a *API) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /fittings", a.handleStart)
	mux.HandleFunc("GET /fittings/{id}", a.handleStatus)
	mux.HandleFunc("POST /fittings/{id}/select", a.handleSelect)
	mux.HandleFunc("DELETE /fittings/{id}", a.handleCancel)
	mux.HandleFunc("GET /queue/info", a.handleQueueInfo)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

func (a *API) handleStart(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := owner(w, r)
	if !ok {
		return
	}
	var req fitting.StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	jobID, err := a.svc.Start(r.Context(), ownerID, req)
	if err != nil {
		a.log.Errorf("start failed: %v", err)
		writeError(w, http.StatusInternalServerError, "could not create job")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"job_id": jobID})
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := owner(w, r)
	if !ok {
		return
	}
	jobID, ok := pathID(w, r)
	if !ok {
		return
	}
	job, err := a.svc.Status(r.Context(), jobID, ownerID)
	if errors.Is(err, jobs.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		a.log.Errorf("status failed: %v", err)
		writeError(w, http.StatusInternalServerError, "could not read job")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (a *API) handleSelect(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := owner(w, r)
	if !ok {
		return
	}
	jobID, ok := pathID(w, r)
	if !ok {
		return
	}
	var body struct {
		Selection int `json:"selection"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	fit, err := a.svc.Finalize(r.Context(), jobID, ownerID, body.Selection)
	switch {
	case errors.Is(err, jobs.ErrNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, fitting.ErrNotCompleted):
		writeError(w, http.StatusConflict, "job is not completed")
	case errors.Is(err, fitting.ErrBadSelection):
		writeError(w, http.StatusBadRequest, "invalid result selection")
	case err != nil:
		a.log.Errorf("finalize failed: %v", err)
		writeError(w, http.StatusInternalServerError, "could not finalize job")
	default:
		writeJSON(w, http.StatusOK, fit)
	}
}

func (a *API) handleCancel(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := owner(w, r)
	if !ok {
		return
	}
	jobID, ok := pathID(w, r)
	if !ok {
		return
	}
	err := a.svc.Cancel(r.Context(), jobID, ownerID)
	if errors.Is(err, jobs.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		a.log.Errorf("cancel failed: %v", err)
		writeError(w, http.StatusInternalServerError, "could not cancel job")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleQueueInfo(w http.ResponseWriter, r *http.Request) {
	info, err := a.svc.QueueInfo(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "queue unavailable")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func owner(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.Header.Get("X-User-ID"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusUnauthorized, "missing or invalid X-User-ID")
		return 0, false
	}
	return id, true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
