package handlers

import (
	"rps-arena-system/middleware"
	"rps-arena-system/services"

	"github.com/gofiber/fiber/v2"
)

func SetupMatchRoutes(app *fiber.App, matchService *services.MatchService, rateLimit fiber.Handler) {
	// 🔓 Public routes — still behind Gateway auth, no user context needed
	app.Get("/matches/:id/status", matchService.GetMatchStatus)
	app.Get("/matches/:id/events", matchService.StreamMatchEvents)

	// 🔐 Secured routes — require user context from the Gateway
	secured := app.Group("/matches", middleware.UserContextMiddleware(), rateLimit)

	secured.Post("/", matchService.CreateMatch)
	secured.Post("/:id/join", matchService.JoinMatch)
	secured.Post("/:id/choice", matchService.MakeChoice)
}
