package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/hostdispatch/internal/history"
	"github.com/mattjoyce/hostdispatch/internal/operation"
)

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Hosts:         s.config.HostCount,
		InFlight:      len(s.inflight),
	})
}

// handleDispatch handles POST /dispatch/{host}/{operation}. It blocks until
// the dispatch finished.
func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	hostName := chi.URLParam(r, "host")
	kind, err := operation.ParseKind(chi.URLParam(r, "operation"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req DispatchRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	target, closeFn, ok := s.resolve(hostName)
	if !ok {
		s.writeError(w, http.StatusNotFound, "host not found")
		return
	}
	defer func() {
		if err := closeFn(); err != nil {
			s.logger.Warn("failed to close host connection", "host", hostName, "error", err)
		}
	}()

	select {
	case s.inflight <- struct{}{}:
		defer func() { <-s.inflight }()
	default:
		s.writeError(w, http.StatusTooManyRequests, "too many dispatches in flight")
		return
	}

	id, rec := s.runner.Dispatch(r.Context(), target, operation.Request{Kind: kind, Args: req.Args})

	respondJSON(w, http.StatusOK, DispatchResponse{
		DispatchID: id,
		Host:       hostName,
		Operation:  string(kind),
		Failed:     rec.Failed(),
		Result:     rec,
	})
}

// handleGetDispatch handles GET /history/{dispatchID}.
func (s *Server) handleGetDispatch(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeError(w, http.StatusNotFound, "history is disabled")
		return
	}
	id := chi.URLParam(r, "dispatchID")

	entry, err := s.history.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, history.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "dispatch not found")
			return
		}
		s.logger.Error("failed to retrieve dispatch", "dispatch_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to retrieve dispatch")
		return
	}
	respondJSON(w, http.StatusOK, entry)
}

// handleHostHistory handles GET /hosts/{host}/history?limit=N.
func (s *Server) handleHostHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeError(w, http.StatusNotFound, "history is disabled")
		return
	}
	hostName := chi.URLParam(r, "host")

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			s.writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	entries, err := s.history.ListByHost(r.Context(), hostName, limit)
	if err != nil {
		s.logger.Error("failed to list dispatches", "host", hostName, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list dispatches")
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	respondJSON(w, http.StatusOK, HistoryResponse{Host: hostName, Dispatch: entries})
}

// handleOpenAPI handles GET /openapi.json.
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, buildOpenAPIDoc())
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
