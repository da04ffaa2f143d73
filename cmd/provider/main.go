package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/makeasinger/videogen/internal/client"
	"github.com/makeasinger/videogen/internal/config"
	"github.com/makeasinger/videogen/internal/handler"
	"github.com/makeasinger/videogen/internal/logging"
	"github.com/makeasinger/videogen/internal/middleware"
	"github.com/makeasinger/videogen/internal/service"
	"github.com/makeasinger/videogen/internal/worker"
)

// @title          Video Generation Provider API
// @version        1.0
// @description    Reference provider: accepts generation jobs, renders them on a queue and enforces the watch-to-unlock download policy.
// @host           localhost:8100
// @BasePath       /
// @securityDefinitions.apikey ApiKeyAuth
// @in             header
// @name           Authorization
func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("failed to load config")
	}
	log := logging.New(cfg.Server.Env, cfg.Server.LogLevel)

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}

	// Initialize Redis client (job records)
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatal().Err(err).Msg("redis not available")
	}

	// Initialize Asynq client
	asynqClient := asynq.NewClient(redisOpt)
	defer asynqClient.Close()

	// Initialize R2 client (optional - assets are synthesized on demand without it)
	var storage client.StorageClient
	if cfg.R2.AccessKeyID != "" && cfg.R2.SecretAccessKey != "" {
		r2Client, err := client.NewR2Client(context.Background(), &cfg.R2)
		if err != nil {
			log.Warn().Err(err).Msg("R2 client not initialized")
		} else {
			storage = r2Client
		}
	} else {
		log.Info().Msg("R2 storage not configured, serving synthesized assets")
	}

	providerService := service.NewProviderService(redisClient, asynqClient, storage, service.NewModerator(cfg.Generation.BlockedTerms), service.ProviderOptions{
		DefaultModel:    cfg.Provider.Model,
		DefaultDuration: cfg.Generation.DefaultDuration,
		UnlockFraction:  cfg.Watch.UnlockFraction,
		Retention:       cfg.Generation.JobRetention,
		PlayTokenTTL:    cfg.Generation.PlayTokenTTL,
		Logger:          log,
	})
	providerHandler := handler.NewProviderHandler(providerService, validator.New(), log)

	// Start Asynq worker server
	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: 4,
		Queues: map[string]int{
			service.QueueGenerate: 1,
		},
		Logger:   worker.NewAsynqLogger(log),
		LogLevel: worker.AsynqLevel(logging.ParseLevel(cfg.Server.LogLevel)),
	})

	generateWorker := worker.NewGenerateWorker(providerService, storage, cfg.Generation.StepDelay, log)
	mux := asynq.NewServeMux()
	mux.HandleFunc(service.TaskTypeGenerate, generateWorker.ProcessTask)

	if err := srv.Start(mux); err != nil {
		log.Fatal().Err(err).Msg("asynq worker error")
	}

	app := fiber.New(fiber.Config{
		BodyLimit: 64 * 1024,
	})
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"redis": redisClient.Ping(c.UserContext()).Err() == nil,
				"r2":    storage != nil,
			},
		})
	})

	jobs := app.Group("/jobs", middleware.APIKey(cfg.Provider.APIKey, "/play"))
	jobs.Post("", providerHandler.Create)
	jobs.Get("/:id/status", providerHandler.Status)
	jobs.Post("/:id/progress", providerHandler.Progress)
	jobs.Get("/:id/download", providerHandler.Download)
	jobs.Get("/:id/play", providerHandler.Play)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info().Msg("shutting down provider")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Error().Err(err).Msg("server shutdown error")
		}
		srv.Shutdown()
	}()

	addr := ":" + cfg.Server.ProviderPort
	log.Info().Str("addr", addr).Msg("provider starting")
	if err := app.Listen(addr); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
}
