package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/justerbaster/clobster-railway/internal/metrics"
)

// NewRouter builds the HTTP handler. hub may be nil.
func NewRouter(svc *Service, hub *WSHub) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)
	r.Use(cors)

	r.Get("/health", health)

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", health)

		// WebSocket stream of committed trades; no request timeout.
		if hub != nil {
			r.Get("/ws", hub.HandleWS)
		}

		// A manual cycle may take longer than a read request.
		r.Post("/analyze", svc.Analyze)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			r.Get("/dashboard", svc.GetDashboard)
			r.Get("/positions", svc.ListPositions)
			r.Get("/trades", svc.ListTrades)
			r.Get("/thoughts", svc.ListThoughts)
			r.Get("/stats", svc.GetStats)
		})
	})

	return r
}

func health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok","service":"clobster"}`))
}

// cors allows the dashboard to be served from another origin.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
