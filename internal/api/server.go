package api

import (
	"time"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"agentflow/internal/config"
	"agentflow/internal/execution"
)

// Server is the HTTP surface of the workflow engine.
type Server struct {
	app     *fiber.App
	cfg     *config.Config
	tracker *execution.Tracker
}

func NewServer(cfg *config.Config, handler *WorkflowHandler, tracker *execution.Tracker) *Server {
	app := fiber.New(fiber.Config{
		AppName: "agentflow",
		// Local models can take minutes to produce a response.
		ReadTimeout:  900 * time.Second,
		WriteTimeout: 900 * time.Second,
		IdleTimeout:  900 * time.Second,
		BodyLimit:    10 * 1024 * 1024,
	})

	app.Use(recover.New())
	app.Use(logger.New())

	prometheus := fiberprometheus.New("agentflow")
	prometheus.RegisterAt(app, "/metrics")
	app.Use(prometheus.Middleware)

	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.AllowedOrigins,
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	apiGroup := app.Group("/api")
	apiGroup.Post("/workflows/execute", handler.Execute)
	apiGroup.Post("/workflows/validate", handler.Validate)
	apiGroup.Get("/workflows/:id/executions", handler.ListExecutions)
	apiGroup.Get("/executions/:id", handler.GetExecution)
	apiGroup.Get("/tools", handler.ListTools)

	return &Server{app: app, cfg: cfg, tracker: tracker}
}

// Listen blocks serving HTTP until Shutdown.
func (s *Server) Listen() error {
	return s.app.Listen(":" + s.cfg.Port)
}

// Shutdown drains active executions, then stops the HTTP listener.
func (s *Server) Shutdown(timeout time.Duration) error {
	if s.tracker != nil {
		s.tracker.Drain(timeout)
	}
	return s.app.Shutdown()
}

// App exposes the underlying fiber app for tests.
func (s *Server) App() *fiber.App {
	return s.app
}
