package server

import (
	"log/slog"
	"net/http"

	"github.com/brandtune/songforge-api/internal/observability"
)

// Config contains server configuration options.
type Config struct {
	// AllowedOrigins is the list of allowed CORS origins.
	AllowedOrigins []string
	// Metrics carries the application metrics; nil disables recording.
	Metrics *observability.Metrics
	// MetricsHandler serves the Prometheus scrape endpoint when set.
	MetricsHandler http.Handler
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		AllowedOrigins: []string{"*"},
	}
}

// NewRouter creates a new HTTP router with all routes configured.
// It uses Go 1.22+ ServeMux with method-based routing.
func NewRouter(h *Handlers, logger *slog.Logger, cfg Config) http.Handler {
	mux := http.NewServeMux()

	// Register routes with method-based patterns (Go 1.22+)
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("POST /songs", h.CreateSong)
	mux.HandleFunc("GET /songs", h.ListSongs)
	mux.HandleFunc("GET /songs/{id}", h.GetSong)
	mux.HandleFunc("POST /songs/{id}/generate", h.GenerateSong)
	mux.HandleFunc("POST /callbacks/muse", h.MuseCallback)
	mux.HandleFunc("GET /credits", h.Credits)

	if cfg.MetricsHandler != nil {
		mux.Handle("GET /metrics", cfg.MetricsHandler)
	}

	// Apply middleware chain
	chain := ChainMiddleware(
		RecoveryMiddleware(logger),
		LoggingMiddleware(logger),
		MetricsMiddleware(cfg.Metrics),
		CORSMiddleware(cfg.AllowedOrigins),
	)

	return chain(mux)
}
