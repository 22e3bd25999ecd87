package handlers

import (
	"rps-arena-system/middleware"
	"rps-arena-system/services"

	"github.com/gofiber/fiber/v2"
)

func SetupChestRoutes(app *fiber.App, chestService *services.ChestService) {
	app.Get("/chests", chestService.ListChests)

	secured := app.Group("/chests", middleware.UserContextMiddleware())
	secured.Post("/:id/open", chestService.OpenChest)
}
