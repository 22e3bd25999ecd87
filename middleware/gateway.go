package middleware

import (
	"log"
	"os"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// GatewayAuthMiddleware rejects every request that did not come through the
// platform gateway. The shared service token is the only credential the core
// ever checks; player identity arrives separately as X-User-ID.
func GatewayAuthMiddleware() fiber.Handler {
	expected := os.Getenv("ARENA_SERVICE_TOKEN")
	if expected == "" {
		log.Fatal("❌ ARENA_SERVICE_TOKEN not set, refusing to start unauthenticated")
	}

	return func(c *fiber.Ctx) error {
		header := c.Get("Authorization")
		if header == "" {
			log.Printf("🚫 [GATEWAY] no Authorization header on %s %s", c.Method(), c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "gateway authentication token missing",
			})
		}

		// Accept "Bearer <token>" or the bare token value.
		presented := strings.TrimPrefix(header, "Bearer ")
		if presented != expected {
			log.Printf("🚫 [GATEWAY] bad token on %s (prefix %.8s...)", c.Path(), presented)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid gateway authentication token",
			})
		}

		return c.Next()
	}
}
