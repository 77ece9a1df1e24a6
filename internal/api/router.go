package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func NewRouter(apiHandler *APIHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)       // X-Forwarded-For / X-Real-IP into RemoteAddr
	r.Use(middleware.Logger)       // Basic request logging
	r.Use(middleware.Recoverer)    // Recover from panics
	r.Use(middleware.StripSlashes) // Ensure consistent path handling

	r.Handle("/metrics", promhttp.Handler())

	// All API routes will be under /api
	r.Route("/api", func(r chi.Router) {
		// Public routes
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ok"}`))
		})
		r.Post("/cron/analyze", apiHandler.CronAnalyzeHandler)
		r.Get("/share/{token}", apiHandler.GetShareHandler)

		// Optionally authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(apiHandler.Authenticate)

			r.Post("/chat", apiHandler.ChatHandler)
			r.Post("/evaluate", apiHandler.EvaluateHandler)
			r.Post("/feedback", apiHandler.FeedbackHandler)
			r.Post("/share", apiHandler.CreateShareHandler)

			// User-authenticated routes
			r.Group(func(r chi.Router) {
				r.Use(RequireUser)

				r.Get("/sessions", apiHandler.ListSessionsHandler)
				r.Get("/sessions/{sessionID}/messages", apiHandler.SessionMessagesHandler)
				r.Get("/evaluations", apiHandler.ListEvaluationsHandler)
			})
		})
	})

	return r
}
