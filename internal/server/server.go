// Package server wires the HTTP surface: idea lifecycle, labs, trade
// sheets and system monitoring.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/meridian/decisiondesk/internal/config"
	"github.com/meridian/decisiondesk/internal/database"
	"github.com/meridian/decisiondesk/internal/modules/ideas"
	"github.com/meridian/decisiondesk/internal/modules/labs"
	"github.com/meridian/decisiondesk/internal/modules/sheets"
	"github.com/meridian/decisiondesk/internal/scheduler"
)

// Config holds server wiring
type Config struct {
	Log           zerolog.Logger
	Config        *config.Config
	DeskDB        *database.DB
	LedgerDB      *database.DB
	Scheduler     *scheduler.Scheduler
	IdeasHandler  *ideas.Handler
	LabsHandler   *labs.Handler
	SheetsHandler *sheets.Handler
}

// Server is the HTTP server
type Server struct {
	router         *chi.Mux
	server         *http.Server
	log            zerolog.Logger
	systemHandlers *SystemHandlers
	ideasHandler   *ideas.Handler
	labsHandler    *labs.Handler
	sheetsHandler  *sheets.Handler
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router:         chi.NewRouter(),
		log:            cfg.Log.With().Str("component", "server").Logger(),
		systemHandlers: NewSystemHandlers(cfg.Log, cfg.Config.DataDir, cfg.DeskDB, cfg.LedgerDB, cfg.Scheduler),
		ideasHandler:   cfg.IdeasHandler,
		labsHandler:    cfg.LabsHandler,
		sheetsHandler:  cfg.SheetsHandler,
	}

	s.setupMiddleware(cfg.Config.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// SetJobs registers job instances for manual triggering via API
func (s *Server) SetJobs(revalidation scheduler.Job) {
	s.systemHandlers.SetJobs(revalidation)
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-User-ID", "X-Request-ID"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.systemHandlers.HandleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Route("/system", func(r chi.Router) {
			r.Get("/status", s.systemHandlers.HandleSystemStatus)
			r.Get("/database/stats", s.systemHandlers.HandleDatabaseStats)
			r.Get("/database/integrity", s.systemHandlers.HandleDatabaseIntegrity)
			r.Post("/jobs/revalidation/trigger", s.systemHandlers.HandleTriggerRevalidation)
		})

		r.Route("/ideas", func(r chi.Router) {
			r.Get("/", s.ideasHandler.HandleList)
			r.Post("/", s.ideasHandler.HandleCreate)
			r.Get("/{id}", s.ideasHandler.HandleGet)
			r.Post("/{id}/stage", s.ideasHandler.HandleMoveStage)
			r.Post("/{id}/stage/undo", s.ideasHandler.HandleUndoStage)
			r.Post("/{id}/retention", s.ideasHandler.HandleSetRetention)
			r.Get("/{id}/tracks", s.ideasHandler.HandleListTracks)
			r.Post("/{id}/tracks", s.ideasHandler.HandleLinkPortfolio)
			r.Post("/{id}/tracks/{portfolioID}/decision/initiate", s.ideasHandler.HandleInitiateDecision)
			r.Post("/{id}/tracks/{portfolioID}/decision", s.ideasHandler.HandleRecordDecision)
			r.Delete("/{id}/tracks/{portfolioID}/decision", s.ideasHandler.HandleRevertDecision)
			r.Put("/{id}/tracks/{portfolioID}/proposal", s.ideasHandler.HandleSubmitProposal)
		})

		r.Get("/proposals/{proposalID}/versions", s.ideasHandler.HandleListProposalVersions)

		r.Route("/labs", func(r chi.Router) {
			r.Get("/", s.labsHandler.HandleListLabs)
			r.Post("/", s.labsHandler.HandleCreateLab)
			r.Route("/{labID}/views/{viewID}", func(r chi.Router) {
				r.Get("/variants", s.labsHandler.HandleListVariants)
				r.Put("/variants/{assetID}", s.labsHandler.HandleSaveVariant)
				r.Post("/revalidate", s.labsHandler.HandleRevalidate)
				r.Post("/sheets", s.sheetsHandler.HandleAssemble)
			})
		})

		r.Post("/variants/{variantID}/confirm", s.labsHandler.HandleConfirmIdentity)
		r.Delete("/variants/{variantID}", s.labsHandler.HandleDeleteVariant)

		r.Route("/sheets", func(r chi.Router) {
			r.Get("/", s.sheetsHandler.HandleList)
			r.Get("/{id}", s.sheetsHandler.HandleGet)
			r.Post("/{id}/status", s.sheetsHandler.HandleUpdateStatus)
		})
	})
}

// loggingMiddleware logs request details
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("Request handled")
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("Starting HTTP server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}
