package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/makeasinger/videogen/internal/model"
	"github.com/makeasinger/videogen/internal/service"
)

type nopQueue struct{}

func (nopQueue) Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	return &asynq.TaskInfo{Type: task.Type()}, nil
}

func newProviderApp(t *testing.T) (*fiber.App, *service.ProviderService) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	svc := service.NewProviderService(rdb, nopQueue{}, nil, service.NewModerator([]string{"forbidden"}), service.ProviderOptions{
		DefaultModel: "veo-2",
		Logger:       zerolog.Nop(),
	})
	h := NewProviderHandler(svc, validator.New(), zerolog.Nop())

	app := fiber.New()
	app.Post("/jobs", h.Create)
	app.Get("/jobs/:id/status", h.Status)
	app.Post("/jobs/:id/progress", h.Progress)
	app.Get("/jobs/:id/download", h.Download)
	app.Get("/jobs/:id/play", h.Play)
	return app, svc
}

func do(t *testing.T, app *fiber.App, method, target string, body interface{}) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, target, err)
	}
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	return resp, data
}

func TestProviderHandler_CreateValidation(t *testing.T) {
	app, _ := newProviderApp(t)

	resp, _ := do(t, app, "POST", "/jobs", map[string]interface{}{"prompt": "x"})
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestProviderHandler_CreateModerationBlock(t *testing.T) {
	app, _ := newProviderApp(t)

	resp, body := do(t, app, "POST", "/jobs", model.CreateJobRequest{Prompt: "something Forbidden here"})
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	var perr model.ProviderError
	if err := json.Unmarshal(body, &perr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if perr.ErrorKind != model.ErrorKindModerationBlock || perr.Message == "" {
		t.Fatalf("body = %s", body)
	}
}

func TestProviderHandler_StatusNotFound(t *testing.T) {
	app, _ := newProviderApp(t)

	resp, _ := do(t, app, "GET", "/jobs/missing/status", nil)
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestProviderHandler_Lifecycle(t *testing.T) {
	app, svc := newProviderApp(t)

	resp, body := do(t, app, "POST", "/jobs", model.CreateJobRequest{Prompt: "a cat surfing"})
	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("create status = %d: %s", resp.StatusCode, body)
	}
	var created model.CreateJobResponse
	if err := json.Unmarshal(body, &created); err != nil || created.ID == "" {
		t.Fatalf("create body = %s", body)
	}
	base := "/jobs/" + created.ID

	_, body = do(t, app, "GET", base+"/status", nil)
	var status model.RawStatus
	json.Unmarshal(body, &status)
	if status.Status != "queued" || status.OutputRef != "" {
		t.Fatalf("status = %+v", status)
	}

	resp, _ = do(t, app, "POST", base+"/progress", model.ProgressReport{SecondsWatched: 1, DurationSeconds: 8})
	if resp.StatusCode != fiber.StatusConflict {
		t.Fatalf("progress before completion = %d, want 409", resp.StatusCode)
	}

	job, err := svc.CompleteJob(context.Background(), created.ID, service.CompletedAsset{ContentType: "video/mp4", DurationSeconds: 8})
	if err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}

	_, body = do(t, app, "GET", base+"/status", nil)
	json.Unmarshal(body, &status)
	if status.Status != "completed" || status.OutputRef != job.PlayToken {
		t.Fatalf("status = %+v", status)
	}

	resp, body = do(t, app, "GET", base+"/download", nil)
	if resp.StatusCode != fiber.StatusForbidden {
		t.Fatalf("locked download = %d, want 403", resp.StatusCode)
	}
	var perr model.ProviderError
	json.Unmarshal(body, &perr)
	if perr.ErrorKind != model.ErrorKindDownloadLocked {
		t.Fatalf("locked body = %s", body)
	}

	resp, _ = do(t, app, "GET", base+"/play?token=wrong", nil)
	if resp.StatusCode != fiber.StatusForbidden {
		t.Fatalf("play with bad token = %d, want 403", resp.StatusCode)
	}
	resp, body = do(t, app, "GET", base+"/play?token="+job.PlayToken, nil)
	if resp.StatusCode != fiber.StatusOK || len(body) < 8 || string(body[4:8]) != "ftyp" {
		t.Fatalf("play = %d, %d bytes", resp.StatusCode, len(body))
	}

	_, body = do(t, app, "POST", base+"/progress", model.ProgressReport{SecondsWatched: 3, DurationSeconds: 8})
	var progress model.ProgressResponse
	json.Unmarshal(body, &progress)
	if progress.DownloadEnabled {
		t.Fatalf("unlocked after 3 of 8 seconds")
	}

	_, body = do(t, app, "POST", base+"/progress", model.ProgressReport{SecondsWatched: 8, DurationSeconds: 8, Ended: true})
	json.Unmarshal(body, &progress)
	if !progress.DownloadEnabled {
		t.Fatalf("still locked after playback ended")
	}

	resp, body = do(t, app, "GET", base+"/download", nil)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("download = %d: %s", resp.StatusCode, body)
	}
	if got := resp.Header.Get("Content-Type"); got != "video/mp4" {
		t.Errorf("content type = %q", got)
	}
	if string(body[4:8]) != "ftyp" {
		t.Errorf("download is not an mp4 container")
	}
}
