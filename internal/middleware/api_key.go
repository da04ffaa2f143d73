package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/makeasinger/videogen/pkg/response"
)

// APIKey protects the provider API with a shared bearer key. An empty key
// disables the check. Routes listed in open skip it: playback URLs carry their
// own token and are loaded by a media element that cannot send headers.
func APIKey(key string, open ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if key == "" {
			return c.Next()
		}
		for _, suffix := range open {
			if strings.HasSuffix(c.Path(), suffix) {
				return c.Next()
			}
		}

		authHeader := c.Get("Authorization")
		token := strings.TrimPrefix(authHeader, "Bearer ")
		if authHeader == "" || token == authHeader {
			return response.Unauthorized(c, "Missing API key")
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(key)) != 1 {
			return response.Unauthorized(c, "Invalid API key")
		}
		return c.Next()
	}
}
