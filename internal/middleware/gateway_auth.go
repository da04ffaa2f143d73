package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/makeasinger/videogen/pkg/response"
)

// GatewayAuthMiddleware reads user identity from X-User-* headers
// set by Traefik ForwardAuth and populates Fiber context locals.
// Requests without the headers go to fallback when one is given, so the
// studio can sit behind the gateway and still accept direct bearer tokens.
func GatewayAuthMiddleware(fallback fiber.Handler) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Get("X-User-Id")
		if userID == "" {
			if fallback != nil {
				return fallback(c)
			}
			return response.Unauthorized(c, "Missing user identity headers")
		}

		c.Locals("userId", userID)
		c.Locals("email", c.Get("X-User-Email"))
		c.Locals("name", c.Get("X-User-Name"))

		return c.Next()
	}
}
