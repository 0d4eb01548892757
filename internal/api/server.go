// Package api is the HTTP surface of the sequencer: the scheduled trigger,
// the monitoring status endpoint, sequence and enrollment management, the
// engagement ingest hooks and the tracking endpoints.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ignite/investor-outreach/internal/service/enrollment"
	"github.com/ignite/investor-outreach/internal/service/outreach"
	"github.com/ignite/investor-outreach/internal/service/sequence"
	"github.com/ignite/investor-outreach/internal/tracking"
	"github.com/ignite/investor-outreach/internal/worker"
)

// Config controls authentication and CORS.
type Config struct {
	// CronSecret authenticates the trigger and engagement endpoints. When
	// empty those endpoints reject every call unless DevMode is set.
	CronSecret     string
	DevMode        bool
	AllowedOrigins []string
	RequestTimeout time.Duration
}

// Deps are the services behind the handlers.
type Deps struct {
	Sequences   *sequence.Service
	Enrollments *enrollment.Service
	Tracker     *outreach.Tracker
	Runner      worker.Runner
}

// Server holds the handlers.
type Server struct {
	cfg  Config
	deps Deps
}

// NewServer creates the API server.
func NewServer(cfg Config, deps Deps) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Minute
	}
	return &Server{cfg: cfg, deps: deps}
}

// Routes builds the router.
func (s *Server) Routes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.cfg.RequestTimeout))

	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:3000"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Cron-Secret"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	if s.deps.Tracker != nil {
		tracking.NewHandler(s.deps.Tracker).Mount(r)
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/cron/process-sequences", func(r chi.Router) {
			r.Get("/status", s.handleStatus)
			r.With(s.requireSecret).Post("/", s.handleTrigger)
			r.With(s.requireSecret).Get("/", s.handleTrigger)
		})

		r.Post("/sequences", s.handleCreateSequence)
		r.Route("/sequences/{sequenceID}", func(r chi.Router) {
			r.Get("/", s.handleGetSequence)
			r.Post("/activate", s.handleActivateSequence)
			r.Post("/pause", s.handlePauseSequence)
			r.Post("/steps", s.handleAddStep)
			r.Delete("/steps/{stepID}", s.handleDeleteStep)

			r.Post("/enrollments", s.handleEnroll)
			r.Delete("/enrollments", s.handleUnenroll)
			r.Get("/enrollments", s.handleListEnrollments)
		})
		r.Patch("/enrollments/status", s.handleBulkStatus)

		r.With(s.requireSecret).Route("/outreach/{trackingID}", func(r chi.Router) {
			r.Post("/reply", s.handleReply)
			r.Post("/bounce", s.handleBounce)
		})
	})
	return r
}
