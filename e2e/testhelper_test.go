package e2e

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/makeasinger/videogen/internal/auth"
	"github.com/makeasinger/videogen/internal/client"
	"github.com/makeasinger/videogen/internal/config"
	"github.com/makeasinger/videogen/internal/handler"
	"github.com/makeasinger/videogen/internal/middleware"
	"github.com/makeasinger/videogen/internal/service"
	ws "github.com/makeasinger/videogen/internal/websocket"
	"github.com/makeasinger/videogen/internal/worker"
)

const (
	testJWTSecret = "test-secret-for-e2e"
	testAPIKey    = "provider-key"
)

// inlineQueue runs generation tasks on a goroutine instead of a Redis queue.
type inlineQueue struct {
	worker *worker.GenerateWorker
}

func (q *inlineQueue) Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	go q.worker.ProcessTask(context.Background(), task)
	return &asynq.TaskInfo{Type: task.Type()}, nil
}

// testApp holds the studio app and the provider it talks to over HTTP.
type testApp struct {
	app      *fiber.App
	provider *service.ProviderService
	sessions *service.SessionService
	jobs     *client.JobClient
}

// setupApp wires the studio exactly as main.go does, against a reference
// provider served on a loopback port with an in-memory Redis.
func setupApp(t *testing.T) *testApp {
	t.Helper()
	log := zerolog.Nop()

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { redisClient.Close() })

	// Provider side
	queue := &inlineQueue{}
	provider := service.NewProviderService(redisClient, queue, nil, service.NewModerator([]string{"forbidden"}), service.ProviderOptions{
		DefaultModel:    "veo-2",
		DefaultDuration: 8,
		Logger:          log,
	})
	queue.worker = worker.NewGenerateWorker(provider, nil, 5*time.Millisecond, log)

	providerHandler := handler.NewProviderHandler(provider, validator.New(), log)
	providerApp := fiber.New()
	jobs := providerApp.Group("/jobs", middleware.APIKey(testAPIKey, "/play"))
	jobs.Post("", providerHandler.Create)
	jobs.Get("/:id/status", providerHandler.Status)
	jobs.Post("/:id/progress", providerHandler.Progress)
	jobs.Get("/:id/download", providerHandler.Download)
	jobs.Get("/:id/play", providerHandler.Play)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go providerApp.Listener(ln)
	t.Cleanup(func() { providerApp.Shutdown() })

	// Studio side
	jobClient := client.NewJobClient(&config.ProviderConfig{
		BaseURL:        "http://" + ln.Addr().String(),
		APIKey:         testAPIKey,
		Model:          "veo-2",
		RequestTimeout: 5 * time.Second,
	}, log)

	hub := ws.NewHub(log)
	go hub.Run()
	t.Cleanup(hub.Stop)

	sessions := service.NewSessionService(jobClient, hub, service.SessionOptions{
		Model:         "veo-2",
		PollInterval:  10 * time.Millisecond,
		PollTimeout:   time.Minute,
		WatchThrottle: 10 * time.Millisecond,
		Logger:        log,
	})
	t.Cleanup(sessions.Close)

	studioHandler := handler.NewStudioHandler(sessions, validator.New())
	authHandler := handler.NewAuthHandler(auth.NewAuthenticator(nil, testJWTSecret))
	authMiddleware := middleware.NewLegacyAuthMiddleware(testJWTSecret)
	rateLimiter := middleware.NewRateLimiter(redisClient, log)

	app := fiber.New()
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"provider": jobClient.IsConfigured(),
				"auth":     true,
			},
		})
	})
	app.Get("/auth/verify", authHandler.Verify)

	// Use a very high rate limit so tests don't get blocked
	video := app.Group("/api/video", authMiddleware.Authenticate())
	video.Post("/submit", rateLimiter.SubmitLimit(10000), studioHandler.Submit)
	video.Post("/resume/:jobId", studioHandler.Resume)
	video.Post("/cancel", studioHandler.Cancel)
	video.Post("/watch", studioHandler.Watch)
	video.Get("/state", studioHandler.State)
	video.Get("/download", studioHandler.Download)

	return &testApp{app: app, provider: provider, sessions: sessions, jobs: jobClient}
}

// generateToken creates a legacy HMAC JWT token for test requests.
func generateToken(t *testing.T, userID string) string {
	t.Helper()
	token, err := middleware.NewLegacyAuthMiddleware(testJWTSecret).GenerateToken(userID, userID+"@example.com")
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}
	return token
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return app.Test(req, -1)
}

// doAuthRequest performs an authenticated request as userID.
func doAuthRequest(t *testing.T, app *fiber.App, userID, method, path, body string) *http.Response {
	t.Helper()
	resp, err := doRequest(app, method, path, body, map[string]string{
		"Authorization": "Bearer " + generateToken(t, userID),
	})
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

// readBody reads and returns the response body.
func readBody(t *testing.T, resp *http.Response) []byte {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return b
}

// parseJSON decodes the response body into out.
func parseJSON(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	body := readBody(t, resp)
	if err := json.Unmarshal(body, out); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		body := readBody(t, resp)
		t.Fatalf("expected status %d, got %d\nbody: %s", expected, resp.StatusCode, body)
	}
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
