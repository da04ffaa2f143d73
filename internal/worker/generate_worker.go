package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/makeasinger/videogen/internal/client"
	"github.com/makeasinger/videogen/internal/model"
	"github.com/makeasinger/videogen/internal/service"
)

// JobStore is the slice of the provider service the worker writes to.
type JobStore interface {
	GetJob(ctx context.Context, jobID string) (*model.ProviderJob, error)
	UpdateProgress(ctx context.Context, jobID string, progress int, step string) error
	CompleteJob(ctx context.Context, jobID string, out service.CompletedAsset) (*model.ProviderJob, error)
	FailJob(ctx context.Context, jobID, errMsg string, kind model.ErrorKind) error
}

// failPromptMarker lets callers force a provider-side failure, which is how
// the failure path is exercised end to end.
const failPromptMarker = "[fail]"

var generateSteps = []struct {
	progress int
	step     string
}{
	{10, "Parsing prompt..."},
	{25, "Laying out scenes..."},
	{45, "Rendering keyframes..."},
	{65, "Interpolating frames..."},
	{80, "Encoding video..."},
	{95, "Finalizing..."},
}

// GenerateWorker processes video generation jobs
type GenerateWorker struct {
	jobs      JobStore
	storage   client.StorageClient
	stepDelay time.Duration
	logger    zerolog.Logger
}

// NewGenerateWorker creates a new generate worker. storage may be nil, in which
// case the provider serves the synthesized asset directly.
func NewGenerateWorker(jobs JobStore, storage client.StorageClient, stepDelay time.Duration, logger zerolog.Logger) *GenerateWorker {
	return &GenerateWorker{
		jobs:      jobs,
		storage:   storage,
		stepDelay: stepDelay,
		logger:    logger,
	}
}

// ProcessTask handles generate task processing
func (w *GenerateWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload model.GenerateJobPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %w: %w", err, asynq.SkipRetry)
	}

	jobID := payload.JobID
	logger := w.logger.With().Str("job_id", jobID).Logger()
	logger.Info().Msg("worker: generation started")

	if strings.Contains(strings.ToLower(payload.Prompt), failPromptMarker) {
		w.failJob(ctx, jobID, "generation failed: the model could not render this prompt")
		return nil
	}

	for _, step := range generateSteps {
		if err := w.jobs.UpdateProgress(ctx, jobID, step.progress, step.step); err != nil {
			logger.Warn().Err(err).Msg("worker: failed to update progress")
		}
		if err := sleep(ctx, w.stepDelay); err != nil {
			logger.Info().Msg("worker: generation cancelled")
			return err
		}
	}

	job, err := w.jobs.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to load job: %w", err)
	}
	job.DurationSeconds = float64(job.DurationHint)
	data := service.SynthesizeVideo(job)

	out := service.CompletedAsset{
		ContentType:     "video/mp4",
		DurationSeconds: job.DurationSeconds,
	}
	if w.storage != nil {
		key := client.AssetKey(jobID, "mp4")
		url, err := w.storage.Upload(ctx, key, bytes.NewReader(data), out.ContentType)
		if err != nil {
			w.failJob(ctx, jobID, fmt.Sprintf("Asset upload failed: %v", err))
			return err
		}
		out.Key = key
		out.URL = url
	}

	if _, err := w.jobs.CompleteJob(ctx, jobID, out); err != nil {
		w.failJob(ctx, jobID, "Failed to save result")
		return err
	}

	logger.Info().Int("bytes", len(data)).Msg("worker: generation completed")
	return nil
}

func (w *GenerateWorker) failJob(ctx context.Context, jobID, errMsg string) {
	if err := w.jobs.FailJob(ctx, jobID, errMsg, model.ErrorKindProviderError); err != nil {
		w.logger.Error().Err(err).Str("job_id", jobID).Msg("worker: failed to mark job as failed")
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
