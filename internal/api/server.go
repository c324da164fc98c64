// Package api exposes the REST surface: target CRUD, monitor control,
// history queries, config export/import, and Prometheus metrics.
package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/watchpost/watchpost/internal/config"
	"github.com/watchpost/watchpost/internal/logging"
	"github.com/watchpost/watchpost/internal/metricslog"
	"github.com/watchpost/watchpost/internal/registry"
	"github.com/watchpost/watchpost/internal/scheduler"
	"github.com/watchpost/watchpost/internal/storage"
)

// Deps carries the constructed subsystems the server fronts. History
// and MetricsLog are optional; their endpoints report unavailable when
// nil.
type Deps struct {
	Registry   *registry.Store
	Scheduler  *scheduler.Scheduler
	History    *storage.HistoryStore
	MetricsLog *metricslog.Log
}

// Server is the HTTP API server.
type Server struct {
	app           *fiber.App
	config        *config.Config
	deps          Deps
	logger        *logging.Logger
	prometheusReg prometheus.Registerer
}

// NewServer creates the API server and registers all routes.
func NewServer(cfg *config.Config, deps Deps, logger *logging.Logger, prometheusReg prometheus.Registerer) *Server {
	app := fiber.New(fiber.Config{
		AppName:               "Watchpost v1.0",
		DisableStartupMessage: true,
		ServerHeader:          "Watchpost",
		ErrorHandler:          errorHandler(logger),
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          30 * time.Second,
		IdleTimeout:           120 * time.Second,
	})

	s := &Server{
		app:           app,
		config:        cfg,
		deps:          deps,
		logger:        logger,
		prometheusReg: prometheusReg,
	}

	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	s.app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PATCH,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))
}

func (s *Server) setupRoutes() {
	s.app.Get("/health", s.healthHandler)
	s.app.Get("/ready", s.readyHandler)
	s.app.Get("/metrics", s.metricsHandler)

	api := s.app.Group("/api/v1")

	api.Get("/targets", s.listTargetsHandler)
	api.Post("/targets", s.createTargetHandler)
	api.Get("/targets/:id", s.getTargetHandler)
	api.Patch("/targets/:id", s.updateTargetHandler)
	api.Delete("/targets/:id", s.deleteTargetHandler)
	api.Get("/targets/:id/history", s.targetHistoryHandler)
	api.Get("/targets/:id/metrics", s.targetMetricsHandler)

	api.Post("/monitor/start", s.monitorStartHandler)
	api.Post("/monitor/stop", s.monitorStopHandler)
	api.Get("/monitor/status", s.monitorStatusHandler)

	api.Get("/config/export", s.exportConfigHandler)
	api.Post("/config/import", s.importConfigHandler)
}

// Start begins serving on the configured address. It blocks until the
// listener closes.
func (s *Server) Start() error {
	address := s.config.Server.Host + ":" + s.config.Server.Port

	s.logger.WithComponent(logging.ComponentAPI).
		WithEvent(logging.EventServerStart).
		WithFields(map[string]interface{}{"address": address}).
		Info("Starting HTTP server")

	return s.app.Listen(address)
}

// Stop gracefully stops the server.
func (s *Server) Stop() error {
	s.logger.WithComponent(logging.ComponentAPI).
		WithEvent(logging.EventServerStop).
		Info("Stopping HTTP server")
	return s.app.Shutdown()
}

func errorHandler(logger *logging.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		if e, ok := err.(*fiber.Error); ok {
			code = e.Code
		}

		logger.WithComponent(logging.ComponentAPI).
			WithFields(map[string]interface{}{
				"method": c.Method(),
				"path":   c.Path(),
				"status": code,
			}).
			WithError(err).
			Error("HTTP request error")

		return c.Status(code).JSON(fiber.Map{
			"error":   true,
			"message": err.Error(),
		})
	}
}
