package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/solvencyai/voicecollect/internal/http/handlers"
	httpmiddleware "github.com/solvencyai/voicecollect/internal/http/middleware"
	"github.com/solvencyai/voicecollect/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger           *logging.Logger
	CallsHandler     *handlers.CallsHandler
	CampaignsHandler *handlers.CampaignsHandler
	MetricsHandler   http.Handler

	CORSAllowedOrigins []string

	// Per-IP rate limiting for the call placement API. Zero disables it.
	RateLimitPerSecond float64
	RateLimitBurst     int
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	// Public endpoints (gateway webhooks, media stream, health checks).
	// The media stream route stays outside the rate limiter: the
	// telephony provider opens exactly one connection per call.
	r.Group(func(public chi.Router) {
		public.Get("/health", handleHealth)
		if cfg.CallsHandler != nil {
			public.Get("/media-stream/{number}", cfg.CallsHandler.MediaStream)
			public.Route("/webhooks/twilio", func(r chi.Router) {
				r.Post("/status", cfg.CallsHandler.StatusCallback)
			})
		}
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	// Operator API
	r.Group(func(api chi.Router) {
		if cfg.RateLimitPerSecond > 0 {
			api.Use(httpmiddleware.RateLimit(cfg.RateLimitPerSecond, cfg.RateLimitBurst))
		}

		if cfg.CallsHandler != nil {
			api.Route("/calls", func(r chi.Router) {
				r.Post("/", cfg.CallsHandler.PlaceCall)
				r.Get("/live/{number}", cfg.CallsHandler.LiveCall)
			})
		}
		if cfg.CampaignsHandler != nil {
			api.Route("/campaigns/{id}", func(r chi.Router) {
				r.Get("/", cfg.CampaignsHandler.Status)
				r.Post("/dial", cfg.CampaignsHandler.Dial)
				r.Post("/stop", cfg.CampaignsHandler.Stop)
			})
		}
	})

	return r
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
