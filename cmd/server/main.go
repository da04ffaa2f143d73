package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/makeasinger/videogen/internal/auth"
	"github.com/makeasinger/videogen/internal/client"
	"github.com/makeasinger/videogen/internal/config"
	"github.com/makeasinger/videogen/internal/handler"
	"github.com/makeasinger/videogen/internal/logging"
	"github.com/makeasinger/videogen/internal/middleware"
	"github.com/makeasinger/videogen/internal/model"
	"github.com/makeasinger/videogen/internal/service"
	ws "github.com/makeasinger/videogen/internal/websocket"
	"github.com/makeasinger/videogen/pkg/response"
)

// @title          Video Studio API
// @version        1.0
// @description    Studio backend that submits video generation jobs, tracks them and gates downloads on playback.
// @host           localhost:8000
// @BasePath       /
// @schemes        http https
// @securityDefinitions.apikey BearerAuth
// @in             header
// @name           Authorization
// @description    Enter your bearer token in the format **Bearer &lt;token&gt;**
func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("failed to load config")
	}
	log := logging.New(cfg.Server.Env, cfg.Server.LogLevel)

	// Initialize Redis client (rate limiting only)
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Msg("redis not available, rate limiting fails open")
	}

	// Initialize validator
	validate := validator.New()

	// Initialize WebSocket hub
	hub := ws.NewHub(log)
	go hub.Run()

	// Initialize provider client
	jobClient := client.NewJobClient(&cfg.Provider, log)
	if !jobClient.IsConfigured() {
		log.Warn().Msg("provider base URL not set")
	}

	// Initialize Zitadel JWKS verifier (optional - falls back to legacy JWT)
	var tokenVerifier auth.TokenVerifier
	if auth.IssuerURL(&cfg.Zitadel) != "" {
		jwksVerifier, err := auth.NewJWKSVerifier(ctx, &cfg.Zitadel)
		if err != nil {
			log.Warn().Err(err).Msg("JWKS verifier not initialized")
		} else {
			defer jwksVerifier.Close()
			tokenVerifier = jwksVerifier
		}
	}

	// Initialize services
	sessions := service.NewSessionService(jobClient, hub, service.SessionOptions{
		Model:         cfg.Provider.Model,
		PollInterval:  cfg.Poll.Interval,
		PollTimeout:   cfg.Poll.Timeout,
		WatchThrottle: cfg.Watch.Throttle,
		IdleTTL:       cfg.Session.IdleTTL,
		Logger:        log,
	})

	// Initialize handlers
	studioHandler := handler.NewStudioHandler(sessions, validate)
	authHandler := handler.NewAuthHandler(auth.NewAuthenticator(tokenVerifier, cfg.JWT.Secret))

	// Initialize middleware
	authMiddleware := middleware.NewAuthMiddleware(tokenVerifier, cfg.JWT.Secret).
		WithTokenTTL(time.Duration(cfg.JWT.Expiration) * time.Hour)
	apiAuthMiddleware := authMiddleware.Authenticate()
	if cfg.Gateway.Enabled {
		// Behind Traefik: identity arrives in X-User-* headers, bearer tokens still work
		log.Info().Msg("gateway mode enabled, using header-based auth")
		apiAuthMiddleware = middleware.GatewayAuthMiddleware(apiAuthMiddleware)
	}
	rateLimiter := middleware.NewRateLimiter(redisClient, log)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    1024 * 1024,
	})

	// Global middleware
	app.Use(recover.New())
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if logging.ParseLevel(cfg.Server.LogLevel) == zerolog.DebugLevel {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams} ${body}\n"
	}
	app.Use(logger.New(logger.Config{
		Format: logFormat,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"provider": jobClient.IsConfigured(),
				"redis":    redisClient.Ping(c.UserContext()).Err() == nil,
				"auth":     tokenVerifier != nil || cfg.JWT.Secret != "",
			},
		})
	})

	// ForwardAuth verification endpoint (internal, called by Traefik)
	app.Get("/auth/verify", authHandler.Verify)

	// Video routes
	video := app.Group("/api/video", apiAuthMiddleware)
	video.Post("/submit", rateLimiter.SubmitLimit(cfg.RateLimit.SubmitPerHour), studioHandler.Submit)
	video.Post("/resume/:jobId", studioHandler.Resume)
	video.Post("/cancel", studioHandler.Cancel)
	video.Post("/watch", studioHandler.Watch)
	video.Get("/state", studioHandler.State)
	video.Get("/download", studioHandler.Download)

	// WebSocket route: browsers cannot set headers on an upgrade, so the
	// token may come in the query string.
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/session", apiAuthMiddleware, websocket.New(func(c *websocket.Conn) {
		userID, _ := c.Locals("userId").(string)
		if _, err := sessions.Snapshot(userID); err != nil {
			return
		}
		hub.HandleConnection(c, userID, func() model.Snapshot {
			snap, _ := sessions.Snapshot(userID)
			return snap
		})
	}))

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info().Msg("shutting down server")
		sessions.Close()
		hub.Stop()
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Error().Err(err).Msg("server shutdown error")
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	log.Info().Str("addr", addr).Msg("studio server starting")
	if err := app.Listen(addr); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return response.Error(c, fe.Code, response.CodeServiceError, fe.Message, nil)
	}
	return response.ServiceError(c, "Internal Server Error")
}
