package handlers

import (
	"rps-arena-system/services"

	"github.com/gofiber/fiber/v2"
)

func SetupUserRoutes(app *fiber.App, userService *services.UserService) {
	app.Get("/users/:external_id", userService.GetUserInfo)
	app.Get("/users/:external_id/transactions", userService.GetUserTransactions)
}
