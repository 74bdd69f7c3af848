package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/alfredjeanlab/chatd/internal/counter"
	"github.com/alfredjeanlab/chatd/internal/eventlog"
	"github.com/alfredjeanlab/chatd/internal/model"
)

// NewHTTPHandler returns an http.Handler with all routes registered.
// When authToken is non-empty, requests (except GET /v1/health) must include
// a valid Authorization: Bearer <token> header.
func (s *Server) NewHTTPHandler(authToken string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/events", s.handleAppendEvent)
	mux.HandleFunc("GET /v1/events/{id}", s.handleGetEvent)
	mux.HandleFunc("POST /v1/events/{id}/fanout", s.handleRefanout)
	mux.HandleFunc("GET /v1/updates", s.handleListUpdates)
	mux.HandleFunc("GET /v1/updates/stream", s.handleUpdateStream)
	mux.HandleFunc("GET /v1/users/{tenant}/{user}/stats", s.handleGetUserStats)
	mux.HandleFunc("POST /v1/users/{tenant}/{user}/reconcile", s.handleReconcile)
	mux.HandleFunc("GET /v1/counters/{tenant}/{entity}/history", s.handleCounterHistory)
	mux.HandleFunc("GET /v1/dialogs/{tenant}/{dialog}/typing", s.handleTyping)
	mux.HandleFunc("POST /v1/broker/reconnect", s.handleBrokerReconnect)
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	return AuthMiddleware(authToken, mux)
}

// handleAppendEvent handles POST /v1/events.
func (s *Server) handleAppendEvent(w http.ResponseWriter, r *http.Request) {
	var req appendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	res, err := s.Ingest(r.Context(), req.input())
	if err != nil {
		var ie inputError
		if errors.As(err, &ie) {
			writeError(w, http.StatusBadRequest, ie.Error())
		} else {
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusCreated, res)
}

// handleGetEvent handles GET /v1/events/{id}. The id may be the external
// event id or the internal numeric id.
func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	e, err := s.events.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, eventlog.ErrEventNotFound) {
		writeError(w, http.StatusNotFound, "event not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get event")
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// handleRefanout handles POST /v1/events/{id}/fanout. Updates that already
// exist are not recreated.
func (s *Server) handleRefanout(w http.ResponseWriter, r *http.Request) {
	if _, err := s.events.Get(r.Context(), r.PathValue("id")); errors.Is(err, eventlog.ErrEventNotFound) {
		writeError(w, http.StatusNotFound, "event not found")
		return
	}
	updates, err := s.fanout.HandleEventRef(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if updates == nil {
		updates = []*model.Update{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"updates": updates})
}

// handleListUpdates handles GET /v1/updates.
func (s *Server) handleListUpdates(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.UpdateFilter{
		TenantID:  q.Get("tenant_id"),
		UserID:    q.Get("user_id"),
		DialogID:  q.Get("dialog_id"),
		EventType: model.ParseEventTypes(q.Get("event_type")),
	}
	if filter.TenantID == "" {
		writeError(w, http.StatusBadRequest, "tenant_id is required")
		return
	}
	if v := q.Get("published"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "published must be a boolean")
			return
		}
		filter.Published = &b
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	updates, total, err := s.store.ListUpdates(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list updates")
		return
	}

	// Ensure updates is never null in JSON output.
	if updates == nil {
		updates = []*model.Update{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"updates": updates,
		"total":   total,
	})
}

// handleGetUserStats handles GET /v1/users/{tenant}/{user}/stats.
func (s *Server) handleGetUserStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.userStats(r.Context(), r.PathValue("tenant"), r.PathValue("user"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get user stats")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleReconcile handles POST /v1/users/{tenant}/{user}/reconcile.
func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	report, err := s.counters.Reconcile(r.Context(), r.PathValue("tenant"), r.PathValue("user"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if report.Corrections == nil {
		report.Corrections = []counter.Correction{}
	}
	writeJSON(w, http.StatusOK, report)
}

// handleCounterHistory handles GET /v1/counters/{tenant}/{entity}/history.
func (s *Server) handleCounterHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	rows, err := s.store.ListCounterHistory(r.Context(), r.PathValue("tenant"), r.PathValue("entity"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list counter history")
		return
	}
	if rows == nil {
		rows = []*model.CounterHistory{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": rows})
}

// handleTyping handles GET /v1/dialogs/{tenant}/{dialog}/typing.
func (s *Server) handleTyping(w http.ResponseWriter, r *http.Request) {
	if s.presence == nil {
		writeError(w, http.StatusNotFound, "typing roster not enabled")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"typing": s.presence.Typing(r.PathValue("tenant"), r.PathValue("dialog")),
	})
}

// handleBrokerReconnect handles POST /v1/broker/reconnect, the manual
// recovery for a broker that was unreachable at startup.
func (s *Server) handleBrokerReconnect(w http.ResponseWriter, r *http.Request) {
	if s.broker == nil {
		writeError(w, http.StatusNotFound, "broker not configured")
		return
	}
	if err := s.broker.Reconnect(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"broker": brokerState(s.broker)})
}

// handleHealth handles GET /v1/health.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]string{"status": "ok"}
	if s.broker != nil {
		resp["broker"] = brokerState(s.broker)
	}
	writeJSON(w, http.StatusOK, resp)
}

func brokerState(b BrokerControl) string {
	switch {
	case b.Connected():
		return "connected"
	case b.Disabled():
		return "disabled"
	}
	return "disconnected"
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
