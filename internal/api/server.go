package api

import (
	"context"
	"net/http"

	"github.com/fxf-vault/internal/config"
	"github.com/fxf-vault/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Server represents the HTTP server
type Server struct {
	*http.Server
	router chi.Router
	store  store.Store
}

// NewServer creates a new HTTP server with all routes configured
func NewServer(cfg config.ServerConfig, st store.Store) *Server {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	s := &Server{
		Server: &http.Server{
			Addr:    cfg.Address(),
			Handler: r,
		},
		router: r,
		store:  st,
	}

	s.setupRoutes()

	return s
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.Route("/api", func(r chi.Router) {
		r.Use(middleware.SetHeader("Content-Type", "application/json"))

		r.Get("/health", s.handleHealth)

		r.Get("/sites", s.handleListSites)
		r.Get("/sites/{siteID}/bundles", s.handleListBundles)
		r.Get("/sites/{siteID}/fixlets", s.handleListFixlets)
		r.Get("/sites/{siteID}/fixlets/{fixletID}/revisions", s.handleListFixletRevisions)

		r.Get("/bundles/{bundleID}/revisions", s.handleListBundleRevisions)
		r.Get("/bundle-revisions/{id}", s.handleGetBundleRevision)
		r.Get("/bundle-revisions/{v1}/diff/{v2}", s.handleBundleDiff)

		r.Get("/fixlet-revisions/{id}", s.handleGetFixletRevision)
		r.Get("/fixlet-revisions/{v1}/diff/{v2}", s.handleFixletDiff)
	})
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.Server.Shutdown(ctx)
}
