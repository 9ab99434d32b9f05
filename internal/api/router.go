// Package api is cmd/lumen-service's HTTP surface: /v1/compile,
// /v1/run, /v1/trace, adapted from the teacher's chi router/handlers
// pair. Out of spec.md's core scope -- this is the ambient service
// wrapper the core compiler/VM get wired into, not a core module.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/lumen/pkg/config"
)

// version is set via -ldflags at build time, matching the teacher's
// own SetVersion convention.
var version = "dev"

func SetVersion(v string) { version = v }

// Server is the Lumen HTTP service: one process-wide program registry
// behind a chi router.
type Server struct {
	cfg      *config.Config
	programs *Registry
	log      arbor.ILogger
	router   chi.Router
}

// NewServer builds a Server and wires its routes.
func NewServer(cfg *config.Config, log arbor.ILogger) *Server {
	s := &Server{
		cfg:      cfg,
		programs: NewRegistry(),
		log:      log,
	}
	s.setupRouter()
	return s
}

func (s *Server) Router() http.Handler { return s.router }

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/version", s.handleVersion)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/compile", s.handleCompile)
		r.Post("/run", s.handleRun)
		r.Get("/trace/{programID}", s.handleTrace)
	})

	s.router = r
}
