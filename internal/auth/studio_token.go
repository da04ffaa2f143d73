package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// StudioIssuer is the iss claim of HMAC tokens minted by the studio itself.
const StudioIssuer = "videogen-studio"

var errNoSecret = errors.New("studio token secret not set")

// LegacyClaims are the claims of studio-minted HMAC tokens, accepted
// alongside OIDC tokens.
type LegacyClaims struct {
	UserID string `json:"userId"`
	Email  string `json:"email,omitempty"`
	Name   string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

func (c *LegacyClaims) identity() *Identity {
	return &Identity{UserID: c.UserID, Email: c.Email, Name: c.Name}
}

// SignLegacyToken mints an HS256 token for id that expires after ttl.
func SignLegacyToken(secret string, id Identity, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errNoSecret
	}
	now := time.Now()
	claims := LegacyClaims{
		UserID: id.UserID,
		Email:  id.Email,
		Name:   id.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    StudioIssuer,
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseLegacyToken checks signature, issuer and expiry of a studio token.
func ParseLegacyToken(tokenString, secret string) (*LegacyClaims, error) {
	if secret == "" {
		return nil, errNoSecret
	}
	claims := &LegacyClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (any, error) { return []byte(secret), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(StudioIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("studio token: %w", err)
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("studio token: %w", jwt.ErrTokenInvalidClaims)
	}
	return claims, nil
}
