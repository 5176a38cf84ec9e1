package api

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/papercomputeco/openmem/pkg/hooks"
	"github.com/papercomputeco/openmem/pkg/metrics"
	"github.com/papercomputeco/openmem/pkg/search"
	"github.com/papercomputeco/openmem/pkg/storage"
)

// ErrorResponse is the JSON error envelope for every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Server is the API server for managing and querying the openmem system
type Server struct {
	config       Config
	store        *storage.Store
	orchestrator *search.Orchestrator
	runtime      *hooks.Runtime
	registry     *metrics.Registry
	logger       *zap.Logger
	app          *fiber.App
}

// NewServer creates a new API server. The store and orchestrator are
// injected to allow sharing with the in-process capture runtime.
func NewServer(config Config, store *storage.Store, orchestrator *search.Orchestrator, runtime *hooks.Runtime, registry *metrics.Registry, logger *zap.Logger) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	s := &Server{
		config:       config,
		store:        store,
		orchestrator: orchestrator,
		runtime:      runtime,
		registry:     registry,
		logger:       logger,
		app:          app,
	}

	app.Get("/ping", s.handlePing)
	app.Get("/search", s.handleSearch)

	app.Get("/observations", s.handleListObservations)
	app.Post("/observations", s.handleCreateObservation)
	app.Get("/observations/:id", s.handleGetObservation)
	app.Patch("/observations/:id", s.handleUpdateObservation)
	app.Delete("/observations/:id", s.handleDeleteObservation)
	app.Get("/observations/:id/lineage", s.handleGetLineage)
	app.Get("/observations/:id/diff/:other", s.handleDiff)
	app.Get("/timeline", s.handleTimeline)

	app.Get("/sessions", s.handleListSessions)
	app.Get("/sessions/:id", s.handleGetSession)

	app.Get("/stats", s.handleStats)
	app.Get("/metrics", s.handleMetrics)
	app.Get("/export", s.handleExport)
	app.Post("/import", s.handleImport)

	app.Get("/queue/status", s.handleQueueStatus)
	app.Post("/queue/process", s.handleQueueProcess)

	return s
}

// Run starts the API server on the configured address.
func (s *Server) Run() error {
	s.logger.Info("starting API server",
		zap.String("listen", s.config.ListenAddr),
	)
	return s.app.Listen(s.config.ListenAddr)
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// App exposes the fiber app for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// projectPath resolves the request's project scope: an explicit query
// param wins, else the server's configured project.
func (s *Server) projectPath(c *fiber.Ctx) string {
	if p := c.Query("project"); p != "" {
		return p
	}
	return s.config.ProjectPath
}
