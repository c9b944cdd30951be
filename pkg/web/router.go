package web

import (
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

// NewApp mounts every API route on a new Fiber app.
func NewApp(handlers *APIHandlers) *fiber.App {
	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("NexusPro Flows API")
	})

	app.Get("/health", handlers.HealthCheck)

	g := app.Group("/graphs")
	g.Get("/", handlers.ListGraphs)
	g.Post("/", handlers.CreateGraph)
	g.Post("/import", handlers.ImportGraph)
	g.Post("/validate", handlers.ValidateGraph)
	g.Get("/:id", handlers.GetGraph)
	g.Put("/:id", handlers.UpdateGraph)
	g.Post("/:id/activate", handlers.ActivateGraph)
	g.Post("/:id/deactivate", handlers.DeactivateGraph)
	g.Get("/:id/runs", handlers.ListGraphRuns)

	r := app.Group("/runs")
	r.Get("/:id", handlers.GetRun)
	r.Post("/:id/cancel", handlers.CancelRun)

	app.Post("/triggers/:type", handlers.PublishTrigger)

	return app
}
