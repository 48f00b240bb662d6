package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kestrelnotes/kestrel-go/internal/answer"
)

// queryRequest is the JSON body for POST /api/search, /api/ask, and
// /api/ask/stream.
type queryRequest struct {
	// Query is the user's natural language question.
	Query string `json:"query"`
}

// queryResponse is the JSON body for POST /api/search and /api/ask.
type queryResponse struct {
	// Results holds the ranked hits; the AI answer, when present, is first.
	Results []answer.SearchResult `json:"results"`
}

// selectProviderRequest is the JSON body for POST /api/providers/select.
type selectProviderRequest struct {
	// Provider is the backend name to activate.
	Provider string `json:"provider"`
}

// decodeQuery parses and validates the request body shared by the query
// handlers. A written error response is signalled by ok=false.
func decodeQuery(w http.ResponseWriter, r *http.Request) (queryRequest, bool) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return req, false
	}
	if strings.TrimSpace(req.Query) == "" {
		http.Error(w, "query is required", http.StatusBadRequest)
		return req, false
	}
	return req, true
}

// handleSearch handles POST /api/search: local ranking only, no generation.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeQuery(w, r)
	if !ok {
		return
	}

	results, err := s.engine.SearchLocal(r.Context(), req.Query)
	if err != nil {
		logFrom(r).Error("search failed", slog.Any("error", err))
		http.Error(w, "search failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, queryResponse{Results: results})
}

// handleAsk handles POST /api/ask: ranked results plus a blocking generated
// answer when a backend produced one.
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeQuery(w, r)
	if !ok {
		return
	}

	start := time.Now()
	results, err := s.engine.Search(r.Context(), req.Query)
	if err != nil {
		s.metrics.askRequestsTotal.WithLabelValues(outcomeError).Inc()
		logFrom(r).Error("ask failed", slog.Any("error", err))
		http.Error(w, "ask failed", http.StatusInternalServerError)
		return
	}
	s.metrics.askRequestsTotal.WithLabelValues(outcomeOK).Inc()
	s.metrics.askDurationSeconds.WithLabelValues(outcomeOK).Observe(time.Since(start).Seconds())

	writeJSON(w, http.StatusOK, queryResponse{Results: results})
}

// handleAskStream handles POST /api/ask/stream. Generated chunks are relayed
// as SSE data events as they arrive; the final event carries the full result
// set so the client also receives the local hits and the assembled answer.
func (s *Server) handleAskStream(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeQuery(w, r)
	if !ok {
		return
	}

	flusher, okF := w.(http.Flusher)
	if !okF {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sw := &sseWriter{w: w, flusher: flusher}

	s.metrics.askActiveStreams.Inc()
	defer s.metrics.askActiveStreams.Dec()

	start := time.Now()
	results, err := s.engine.SearchWithStream(r.Context(), req.Query, func(chunk string) {
		sw.writeData(chunk)
	})
	if err != nil {
		s.metrics.askRequestsTotal.WithLabelValues(outcomeError).Inc()
		sw.writeEvent("error", err.Error())
		return
	}
	s.metrics.askRequestsTotal.WithLabelValues(outcomeOK).Inc()
	s.metrics.askDurationSeconds.WithLabelValues(outcomeOK).Observe(time.Since(start).Seconds())

	payload, err := json.Marshal(queryResponse{Results: results})
	if err != nil {
		sw.writeEvent("error", "encode results")
		return
	}
	sw.writeEvent("results", string(payload))
	sw.writeEvent("done", "[DONE]")
}

// handleProviders handles GET /api/providers: the full backend catalogue
// with availability and capabilities.
func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.pool.Providers(r.Context()))
}

// handleProviderSelect handles POST /api/providers/select. Switching is
// refused for backends that are not constructed and available.
func (s *Server) handleProviderSelect(w http.ResponseWriter, r *http.Request) {
	var req selectProviderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Provider == "" {
		http.Error(w, "provider is required", http.StatusBadRequest)
		return
	}

	if !s.pool.SetProvider(req.Provider) {
		http.Error(w, "provider unavailable", http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"provider": req.Provider})
}

// handleStats handles GET /api/stats with the per-backend telemetry snapshot.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.stats.Snapshot())
}
