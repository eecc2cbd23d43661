package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Router serves the status endpoints:
//   - GET /healthz  - liveness plus pool and transfer counters
//   - GET /metrics  - Prometheus exposition
//   - GET /sessions - live sessions, oldest first
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	r.Get("/sessions", s.handleSessions)
	return r
}

type healthResponse struct {
	OK              bool  `json:"ok"`
	ActiveTransfers int64 `json:"active_transfers"`
	LiveSessions    int   `json:"live_sessions"`
	QueuedTasks     int   `json:"queued_tasks"`
	BusyWorkers     int   `json:"busy_workers"`
	Workers         int   `json:"workers"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		OK:              true,
		ActiveTransfers: s.registry.Current(),
		LiveSessions:    s.sessions.Len(),
		QueuedTasks:     s.pool.QueueLen(),
		BusyWorkers:     s.pool.Busy(),
		Workers:         s.pool.Size(),
	})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sessions.Snapshot())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("status request",
			"request_id", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
		)
	})
}
