// Package health exposes liveness and runtime counters over HTTP.
package health

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Stats is the /stats payload.
type Stats struct {
	Handled  int64  `json:"updates_handled"`
	Failed   int64  `json:"updates_failed"`
	Sessions int    `json:"chat_sessions"`
	Pending  int    `json:"pending_inputs"`
	Quizzes  int    `json:"active_quizzes"`
	Users    int    `json:"cached_users"`
	Jobs     bool   `json:"scheduler_running"`
	Uptime   string `json:"uptime"`
}

// Source collects the current counters. Uptime is filled by the router.
type Source func() Stats

// NewRouter serves GET /health and GET /stats.
func NewRouter(src Source, log *zap.Logger) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	started := time.Now()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(log))
	r.Use(middleware.Heartbeat("/health"))

	r.Get("/stats", func(w http.ResponseWriter, _ *http.Request) {
		s := src()
		s.Uptime = time.Since(started).Round(time.Second).String()
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(s); err != nil {
			log.Warn("stats encode failed", zap.Error(err))
		}
	})
	return r
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("http request",
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("took", time.Since(start)))
		})
	}
}
