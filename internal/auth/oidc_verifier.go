package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	"github.com/makeasinger/videogen/internal/config"
)

const discoveryTimeout = 30 * time.Second

// TokenVerifier checks externally issued tokens.
type TokenVerifier interface {
	Validate(tokenString string) (*Claims, error)
	Close() error
}

// Claims are the OIDC claims the studio reads from an access token.
type Claims struct {
	UserID        string `json:"sub"`
	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"email_verified,omitempty"`
	Name          string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// JWKSVerifier validates RS/ES tokens against the issuer's published key set.
type JWKSVerifier struct {
	jwks   keyfunc.Keyfunc
	opts   []jwt.ParserOption
	cancel context.CancelFunc
}

type discoveryDocument struct {
	Issuer  string `json:"issuer"`
	JWKSURI string `json:"jwks_uri"`
}

// IssuerURL returns the configured issuer, or https://<domain> when only the
// Zitadel domain is set.
func IssuerURL(cfg *config.ZitadelConfig) string {
	if cfg.Issuer != "" {
		return strings.TrimRight(cfg.Issuer, "/")
	}
	if cfg.Domain != "" {
		return "https://" + strings.TrimRight(cfg.Domain, "/")
	}
	return ""
}

// NewJWKSVerifier discovers the issuer's key set and keeps it refreshed until
// Close. Discovery is bounded by ctx and discoveryTimeout.
func NewJWKSVerifier(ctx context.Context, cfg *config.ZitadelConfig) (*JWKSVerifier, error) {
	issuer := IssuerURL(cfg)
	if issuer == "" {
		return nil, errors.New("oidc: issuer or domain is required")
	}

	dctx, cancelDiscovery := context.WithTimeout(ctx, discoveryTimeout)
	doc, err := discover(dctx, http.DefaultClient, issuer)
	cancelDiscovery()
	if err != nil {
		return nil, err
	}

	refreshCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	jwks, err := keyfunc.NewDefaultCtx(refreshCtx, []string{doc.JWKSURI})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("oidc: load key set %s: %w", doc.JWKSURI, err)
	}

	opts := []jwt.ParserOption{
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(5 * time.Second),
	}
	if cfg.ClientID != "" {
		opts = append(opts, jwt.WithAudience(cfg.ClientID))
	}
	return &JWKSVerifier{jwks: jwks, opts: opts, cancel: cancel}, nil
}

func discover(ctx context.Context, hc *http.Client, issuer string) (*discoveryDocument, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, issuer+"/.well-known/openid-configuration", nil)
	if err != nil {
		return nil, fmt.Errorf("oidc: discovery request: %w", err)
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("oidc: discovery: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("oidc: discovery returned %d", resp.StatusCode)
	}
	var doc discoveryDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("oidc: decode discovery: %w", err)
	}
	switch {
	case doc.JWKSURI == "":
		return nil, errors.New("oidc: discovery has no jwks_uri")
	case doc.Issuer != "" && strings.TrimRight(doc.Issuer, "/") != issuer:
		return nil, fmt.Errorf("oidc: discovery issuer %q does not match %q", doc.Issuer, issuer)
	}
	return &doc, nil
}

// Validate verifies signature, issuer, expiry and (when configured) audience.
func (v *JWKSVerifier) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}
	if _, err := jwt.ParseWithClaims(tokenString, claims, v.jwks.Keyfunc, v.opts...); err != nil {
		return nil, fmt.Errorf("oidc: %w", err)
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("oidc: %w", jwt.ErrTokenInvalidSubject)
	}
	return claims, nil
}

// Close stops the key set refresh.
func (v *JWKSVerifier) Close() error {
	v.cancel()
	return nil
}
