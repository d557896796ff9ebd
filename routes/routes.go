package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/upb/roster-checkin/app"
	"github.com/upb/roster-checkin/handlers"
	"github.com/upb/roster-checkin/middleware"
)

// requestTimeout bounds every route except the long-lived update stream
const requestTimeout = 60 * time.Second

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(chimiddleware.Recoverer)

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.Config.Server.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		ExposedHeaders:   []string{"Content-Disposition", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	health := handlers.NewHealthHandler(deps.Config.Store.Driver, deps.StoreCheck(), deps.Logger)
	r.Get("/healthz", health.HandleHealth)
	r.Get("/readyz", health.HandleReadiness)

	if deps.Config.Observability.MetricsEnabled {
		r.Handle("/metrics", middleware.Metrics(deps.Metrics))
	}

	// Live updates hold the connection open, so they sit outside the timeout
	if deps.Notifier != nil {
		updates := handlers.NewUpdatesHandler(deps.Notifier,
			deps.Config.Server.CORSAllowedOrigins,
			deps.Config.Notifier.PingInterval,
			deps.Logger.Named("updates"))
		r.Get("/update", updates.HandleUpdates)
	}

	r.Group(func(r chi.Router) {
		r.Use(chimiddleware.Timeout(requestTimeout))

		roster := handlers.NewRosterHandler(deps.Importer, deps.CheckIns, deps.Exporter,
			deps.Config.Roster.ImportMaxBytes, deps.Logger)

		r.Get("/", roster.HandleRoot)
		r.Route("/data", func(r chi.Router) {
			r.Post("/", roster.HandleImport)
			r.Get("/", roster.HandleExport)
		})
		r.Post("/check-in/{id}", roster.HandleCheckIn)
		r.Post("/reset/{id}", roster.HandleReset)
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"not_found","message":"endpoint not found"}`))
	})

	return r
}
