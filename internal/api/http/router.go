package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/sap-ticketing/internal/api/http/handlers"
	"github.com/spec-kit/sap-ticketing/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Auth           *handlers.AuthHandler
	Tickets        *handlers.TicketsHandler
	Emails         *handlers.EmailsHandler
	Pipeline       *handlers.PipelineHandler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	authGroup := app.Group("/auth")
	authGroup.Post("/login", cfg.Auth.Login)
	authGroup.Post("/register", cfg.Auth.Register)

	tickets := app.Group("/tickets", cfg.AuthMiddleware.Handle)
	tickets.Get("/stats", cfg.Tickets.TicketStats)
	tickets.Post("/", cfg.Tickets.CreateTicket)
	tickets.Get("/", cfg.Tickets.ListTickets)
	tickets.Get("/:id", cfg.Tickets.GetTicket)
	tickets.Patch("/:id", cfg.Tickets.UpdateTicket)

	emails := app.Group("/emails", cfg.AuthMiddleware.Handle)
	emails.Get("/stats", cfg.Emails.EmailStats)
	emails.Get("/", cfg.Emails.ListEmails)
	emails.Post("/:id/reprocess", cfg.Emails.ReprocessEmail)

	pipelineGroup := app.Group("/pipeline", cfg.AuthMiddleware.Handle, auth.RequireAdmin())
	pipelineGroup.Post("/run", cfg.Pipeline.Run)
	pipelineGroup.Post("/export", cfg.Pipeline.RebuildExport)
}
