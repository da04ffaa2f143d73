package middleware

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/makeasinger/videogen/internal/auth"
	"github.com/makeasinger/videogen/pkg/response"
)

// AuthMiddleware handles JWT authentication
type AuthMiddleware struct {
	authenticator *auth.Authenticator
	jwtSecret     string
	tokenTTL      time.Duration
}

const defaultTokenTTL = 24 * time.Hour

// NewAuthMiddleware creates auth middleware with JWKS verification and, when
// jwtSecret is set, a legacy HMAC fallback.
func NewAuthMiddleware(verifier auth.TokenVerifier, jwtSecret string) *AuthMiddleware {
	return &AuthMiddleware{
		authenticator: auth.NewAuthenticator(verifier, jwtSecret),
		jwtSecret:     jwtSecret,
		tokenTTL:      defaultTokenTTL,
	}
}

// WithTokenTTL sets the lifetime of tokens minted by GenerateToken. A
// non-positive ttl keeps the default of a day.
func (m *AuthMiddleware) WithTokenTTL(ttl time.Duration) *AuthMiddleware {
	if ttl > 0 {
		m.tokenTTL = ttl
	}
	return m
}

// NewLegacyAuthMiddleware creates auth middleware using only HMAC signing (for testing/dev)
func NewLegacyAuthMiddleware(jwtSecret string) *AuthMiddleware {
	return NewAuthMiddleware(nil, jwtSecret)
}

// bearerToken extracts the token from the Authorization header. Browsers cannot
// set headers on a WebSocket upgrade, so upgrades may pass ?token= instead.
func bearerToken(c *fiber.Ctx) (string, string) {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		if token := c.Query("token"); token != "" && isUpgrade(c) {
			return token, ""
		}
		return "", "Missing authorization header"
	}

	token, ok := auth.BearerToken(authHeader)
	if !ok {
		return "", "Invalid authorization header format"
	}
	return token, ""
}

func isUpgrade(c *fiber.Ctx) bool {
	return strings.EqualFold(c.Get("Upgrade"), "websocket")
}

// Authenticate validates the bearer token and stores the identity in locals
func (m *AuthMiddleware) Authenticate() fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString, problem := bearerToken(c)
		if problem != "" {
			return response.Unauthorized(c, problem)
		}

		id, err := m.authenticator.Authenticate(tokenString)
		if err != nil {
			if errors.Is(err, auth.ErrNotConfigured) {
				return response.Unauthorized(c, "Authentication not configured")
			}
			return response.Unauthorized(c, "Invalid or expired token")
		}

		c.Locals("userId", id.UserID)
		c.Locals("email", id.Email)
		c.Locals("name", id.Name)
		return c.Next()
	}
}

// GetUserID extracts user ID from context
func GetUserID(c *fiber.Ctx) string {
	if userID, ok := c.Locals("userId").(string); ok {
		return userID
	}
	return ""
}

// GetUserEmail extracts user email from context
func GetUserEmail(c *fiber.Ctx) string {
	if email, ok := c.Locals("email").(string); ok {
		return email
	}
	return ""
}

// GenerateToken mints a studio token that expires after the configured TTL.
func (m *AuthMiddleware) GenerateToken(userID, email string) (string, error) {
	return auth.SignLegacyToken(m.jwtSecret, auth.Identity{UserID: userID, Email: email}, m.tokenTTL)
}
