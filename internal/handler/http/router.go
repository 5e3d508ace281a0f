package http

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httplog/v3"
)

type RouterOptions struct {
	Logger         *slog.Logger
	AllowedOrigins []string

	// ExportDir is served read-only under ExportBaseURL when both are set
	ExportDir     string
	ExportBaseURL string
}

func NewRouter(opts RouterOptions, dashboardHandler DashboardHandler) *chi.Mux {
	r := chi.NewRouter()

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Content-Disposition", "X-Export-URL"},
		MaxAge:           300,
	}))

	r.Use(chiMiddleware.RequestID)
	r.Use(httplog.RequestLogger(logger, &httplog.Options{
		Level:  slog.LevelDebug,
		Schema: httplog.SchemaECS,
	}))

	r.Use(chiMiddleware.CleanPath)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/"))

	if opts.ExportDir != "" && opts.ExportBaseURL != "" {
		prefix := "/" + strings.Trim(opts.ExportBaseURL, "/")
		fs := http.StripPrefix(prefix, http.FileServer(http.Dir(opts.ExportDir)))
		r.Get(prefix+"/*", fs.ServeHTTP)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/dashboard", func(r chi.Router) {
			// long-lived streams skip the JSON-only body check
			r.Get("/stream", dashboardHandler.Stream)
			r.Get("/ws", dashboardHandler.WebSocket)
			r.Get("/export", dashboardHandler.Export)

			r.Group(func(r chi.Router) {
				r.Use(chiMiddleware.AllowContentType("application/json"))
				r.Get("/", dashboardHandler.GetState)
				r.Put("/date", dashboardHandler.SelectDate)
				r.Post("/refresh", dashboardHandler.Refresh)
				r.Post("/start", dashboardHandler.Start)
				r.Post("/stop", dashboardHandler.Stop)
			})
		})
	})
	return r
}
