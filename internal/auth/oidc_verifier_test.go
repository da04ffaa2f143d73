package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/makeasinger/videogen/internal/config"
)

func TestIssuerURL(t *testing.T) {
	tests := []struct {
		cfg  config.ZitadelConfig
		want string
	}{
		{config.ZitadelConfig{Issuer: "https://id.example/"}, "https://id.example"},
		{config.ZitadelConfig{Domain: "auth.example"}, "https://auth.example"},
		{config.ZitadelConfig{Issuer: "https://a", Domain: "b"}, "https://a"},
		{config.ZitadelConfig{}, ""},
	}
	for _, tt := range tests {
		if got := IssuerURL(&tt.cfg); got != tt.want {
			t.Errorf("IssuerURL(%+v) = %q, want %q", tt.cfg, got, tt.want)
		}
	}
}

func discoveryServer(t *testing.T, body func(base string) string) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/openid-configuration" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body(srv.URL)))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDiscover(t *testing.T) {
	srv := discoveryServer(t, func(base string) string {
		return `{"issuer":"` + base + `","jwks_uri":"` + base + `/keys"}`
	})
	doc, err := discover(context.Background(), srv.Client(), srv.URL)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if doc.JWKSURI != srv.URL+"/keys" {
		t.Errorf("jwks_uri = %s", doc.JWKSURI)
	}
}

func TestDiscover_Rejects(t *testing.T) {
	tests := []struct {
		name string
		body func(base string) string
		want string
	}{
		{"no jwks", func(base string) string { return `{"issuer":"` + base + `"}` }, "no jwks_uri"},
		{"issuer mismatch", func(string) string { return `{"issuer":"https://evil","jwks_uri":"https://evil/keys"}` }, "does not match"},
		{"garbage", func(string) string { return `<html>` }, "decode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := discoveryServer(t, tt.body)
			_, err := discover(context.Background(), srv.Client(), srv.URL)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestNewJWKSVerifier_RequiresIssuer(t *testing.T) {
	if _, err := NewJWKSVerifier(context.Background(), &config.ZitadelConfig{}); err == nil {
		t.Fatal("want error without issuer")
	}
}
