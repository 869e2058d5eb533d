package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

// NewApp builds the fiber application with middleware and every API route.
func NewApp(h *Handler, allowOrigins string, requestLog bool) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:      "braibit-api",
		ErrorHandler: h.ErrorHandler,
	})

	// Настройка CORS
	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowOrigins,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: true,
	}))

	app.Use(recover.New())
	if requestLog {
		app.Use(logger.New())
	}

	api := app.Group("/api")
	api.Post("/login", h.Login)

	protected := api.Group("/", h.AuthMiddleware)
	protected.Get("/me", h.Me)
	protected.Get("/accounts", h.GetAccounts)
	protected.Get("/tasks", h.GetTasks)
	protected.Get("/store", h.GetStore)
	protected.Get("/blocks", h.GetBlocks)
	protected.Get("/market", h.GetMarket)
	protected.Post("/awards", h.Award)
	protected.Post("/purchases", h.Purchase)
	protected.Post("/transactions/:id/cancel", h.Cancel)
	protected.Get("/transactions", h.GetTransactions)
	protected.Put("/groups/:id", h.RenameGroup)
	protected.Get("/export/csv", h.ExportCSV)
	protected.Get("/export/print", h.ExportPrint)
	protected.Get("/events", h.Events)

	return app
}
