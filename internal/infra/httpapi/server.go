// Package httpapi exposes the scheduling driver and the control/instance services
// over HTTP for operators and the surrounding platform.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(requestLogger(h.logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.Health)

	// Scheduling triggers
	r.Route("/ops", func(r chi.Router) {
		r.Post("/lookahead", h.TriggerLookAhead)
		r.Post("/batch", h.TriggerMonthBatch)
		r.Post("/sweep", h.TriggerExpirySweep)
		r.Post("/recent", h.TriggerRecentlyChanged)
	})

	r.Route("/controls", func(r chi.Router) {
		r.Get("/", h.ListControls)
		r.Post("/", h.CreateControl)
		r.Get("/{id}", h.GetControl)
		r.Patch("/{id}", h.UpdateControl)
		r.Post("/{id}/deactivate", h.DeactivateControl)
		r.Post("/{id}/generate", h.GenerateControl)
	})

	r.Route("/instances", func(r chi.Router) {
		r.Get("/", h.ListInstances)
		r.Get("/{id}", h.GetInstance)
		r.Post("/{id}/complete", h.CompleteInstance)
		r.Post("/{id}/missed", h.ReportMissed)
	})

	return r
}

func requestLogger(logger *logrus.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.WithFields(logrus.Fields{
				"request_id": middleware.GetReqID(r.Context()),
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     ww.Status(),
				"duration":   time.Since(start).String(),
			}).Info("HTTP request")
		})
	}
}

// NewServer wraps the router in an http.Server with conservative timeouts.
func NewServer(addr string, h *Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           NewRouter(h),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Minute, // month batches can run long
	}
}
