package service

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/makeasinger/videogen/internal/client"
	"github.com/makeasinger/videogen/internal/model"
)

const (
	TaskTypeGenerate = "video:generate"
	QueueGenerate    = "generate"

	maxUpdateRetries = 10
	signedURLExpiry  = 15 * time.Minute
)

// TaskEnqueuer is the part of *asynq.Client the provider needs.
type TaskEnqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// ProviderOptions tunes a ProviderService.
type ProviderOptions struct {
	DefaultModel    string
	DefaultDuration int
	UnlockFraction  float64
	Retention       time.Duration
	PlayTokenTTL    time.Duration
	Logger          zerolog.Logger
}

// CompletedAsset describes the output a worker produced.
type CompletedAsset struct {
	Key             string
	URL             string
	ContentType     string
	DurationSeconds float64
}

// AssetSource is either a redirect target or a stream to serve.
type AssetSource struct {
	RedirectURL string
	Asset       *client.Asset
}

// ProviderService owns the reference provider's job records
type ProviderService struct {
	redis     *redis.Client
	queue     TaskEnqueuer
	storage   client.StorageClient
	moderator *Moderator
	opts      ProviderOptions
	logger    zerolog.Logger
	now       func() time.Time
}

func NewProviderService(redisClient *redis.Client, queue TaskEnqueuer, storage client.StorageClient, moderator *Moderator, opts ProviderOptions) *ProviderService {
	if opts.Retention <= 0 {
		opts.Retention = 24 * time.Hour
	}
	if opts.DefaultDuration <= 0 {
		opts.DefaultDuration = 8
	}
	if opts.UnlockFraction <= 0 || opts.UnlockFraction > 1 {
		opts.UnlockFraction = 0.9
	}
	return &ProviderService{
		redis:     redisClient,
		queue:     queue,
		storage:   storage,
		moderator: moderator,
		opts:      opts,
		logger:    opts.Logger,
		now:       time.Now,
	}
}

// CreateJob moderates the prompt, stores a queued record and enqueues the
// generation task.
func (s *ProviderService) CreateJob(ctx context.Context, req *model.CreateJobRequest) (*model.CreateJobResponse, error) {
	if term, blocked := s.moderator.Check(req.Prompt); blocked {
		s.logger.Info().Str("term", term).Msg("provider: prompt blocked")
		return nil, fmt.Errorf("%w: prompt contains a blocked term", ErrModerationBlocked)
	}

	job := &model.ProviderJob{
		ID:           uuid.New().String(),
		Status:       model.JobStatusQueued,
		Prompt:       req.Prompt,
		Model:        req.Model,
		DurationHint: req.DurationHint,
		Size:         req.Size,
		CreatedAt:    s.now(),
	}
	if job.Model == "" {
		job.Model = s.opts.DefaultModel
	}
	if job.DurationHint <= 0 {
		job.DurationHint = s.opts.DefaultDuration
	}
	if job.Size == "" {
		job.Size = model.SizeLandscape
	}

	if err := s.saveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}

	task, err := newGenerateTask(job)
	if err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}
	_, err = s.queue.Enqueue(task,
		asynq.Queue(QueueGenerate),
		asynq.MaxRetry(3),
		asynq.Retention(s.opts.Retention),
	)
	if err != nil {
		s.redis.Del(ctx, jobKey(job.ID))
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}

	s.logger.Info().Str("job_id", job.ID).Str("model", job.Model).Msg("provider: job queued")
	return &model.CreateJobResponse{ID: job.ID, Status: string(job.Status)}, nil
}

// GetJob returns the stored record.
func (s *ProviderService) GetJob(ctx context.Context, jobID string) (*model.ProviderJob, error) {
	return s.getJob(ctx, jobID)
}

// GetStatus returns the wire status of a job. A completed job's output
// reference is its play token.
func (s *ProviderService) GetStatus(ctx context.Context, jobID string) (*model.RawStatus, error) {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	progress := job.Progress
	status := &model.RawStatus{
		ID:       job.ID,
		Status:   string(job.Status),
		Progress: &progress,
	}
	switch job.Status {
	case model.JobStatusCompleted:
		status.OutputRef = job.PlayToken
	case model.JobStatusFailed:
		status.Error = job.Error
		status.ErrorKind = string(job.ErrorKind)
	}
	return status, nil
}

// ReportProgress records observed playback and applies the unlock policy:
// the download opens once playback ended or enough of the video was watched,
// and it never closes again.
func (s *ProviderService) ReportProgress(ctx context.Context, jobID string, report *model.ProgressReport) (*model.ProgressResponse, error) {
	job, err := s.update(ctx, jobID, func(job *model.ProviderJob) (bool, error) {
		if job.Status != model.JobStatusCompleted {
			return false, ErrJobNotCompleted
		}
		if report.SecondsWatched > job.SecondsWatched {
			job.SecondsWatched = report.SecondsWatched
		}
		if job.DurationSeconds <= 0 && report.DurationSeconds > 0 {
			job.DurationSeconds = report.DurationSeconds
		}
		if report.Ended {
			job.Ended = true
		}
		if !job.DownloadEnabled && s.unlocks(job) {
			job.DownloadEnabled = true
			s.logger.Info().Str("job_id", job.ID).Float64("seconds_watched", job.SecondsWatched).Msg("provider: download unlocked")
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return &model.ProgressResponse{DownloadEnabled: job.DownloadEnabled}, nil
}

func (s *ProviderService) unlocks(job *model.ProviderJob) bool {
	if job.Ended {
		return true
	}
	return job.DurationSeconds > 0 && job.SecondsWatched >= s.opts.UnlockFraction*job.DurationSeconds
}

// Download resolves the asset of an unlocked job.
func (s *ProviderService) Download(ctx context.Context, jobID string) (*AssetSource, error) {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != model.JobStatusCompleted {
		return nil, ErrJobNotCompleted
	}
	if !job.DownloadEnabled {
		return nil, ErrDownloadLocked
	}

	if s.storage != nil && job.AssetKey != "" {
		url, err := s.storage.GetSignedURL(ctx, job.AssetKey, signedURLExpiry)
		if err == nil {
			return &AssetSource{RedirectURL: url}, nil
		}
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("provider: presign failed, streaming instead")
	}
	return s.stream(ctx, job)
}

// Play streams a completed job for in-page playback.
func (s *ProviderService) Play(ctx context.Context, jobID, token string) (*AssetSource, error) {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != model.JobStatusCompleted {
		return nil, ErrJobNotCompleted
	}
	if job.PlayToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(job.PlayToken)) != 1 {
		return nil, ErrInvalidPlayToken
	}
	if s.opts.PlayTokenTTL > 0 && job.CompletedAt != nil && s.now().After(job.CompletedAt.Add(s.opts.PlayTokenTTL)) {
		return nil, ErrInvalidPlayToken
	}
	return s.stream(ctx, job)
}

func (s *ProviderService) stream(ctx context.Context, job *model.ProviderJob) (*AssetSource, error) {
	if s.storage != nil && job.AssetKey != "" {
		asset, err := s.storage.Open(ctx, job.AssetKey)
		switch {
		case err == nil:
			return &AssetSource{Asset: asset}, nil
		case !errors.Is(err, client.ErrAssetNotFound):
			return nil, fmt.Errorf("failed to open asset: %w", err)
		}
		// Evicted from the bucket: render it again.
		s.logger.Warn().Str("job_id", job.ID).Str("key", job.AssetKey).Msg("provider: stored asset missing")
	}

	data := SynthesizeVideo(job)
	contentType := job.ContentType
	if contentType == "" {
		contentType = placeholderContentType
	}
	return &AssetSource{Asset: &client.Asset{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentType:   contentType,
		ContentLength: int64(len(data)),
	}}, nil
}

// UpdateProgress moves a job to processing (called by worker). Updates to a
// terminal job are ignored and progress never goes backwards.
func (s *ProviderService) UpdateProgress(ctx context.Context, jobID string, progress int, step string) error {
	_, err := s.update(ctx, jobID, func(job *model.ProviderJob) (bool, error) {
		if job.Status.IsTerminal() {
			return false, nil
		}
		if job.Status == model.JobStatusQueued {
			now := s.now()
			job.StartedAt = &now
		}
		job.Status = model.JobStatusProcessing
		if progress > 99 {
			progress = 99
		}
		if progress > job.Progress {
			job.Progress = progress
		}
		job.CurrentStep = step
		return true, nil
	})
	return err
}

// CompleteJob marks a job completed and issues its play token (called by worker).
func (s *ProviderService) CompleteJob(ctx context.Context, jobID string, out CompletedAsset) (*model.ProviderJob, error) {
	return s.update(ctx, jobID, func(job *model.ProviderJob) (bool, error) {
		if job.Status.IsTerminal() {
			return false, nil
		}
		now := s.now()
		job.Status = model.JobStatusCompleted
		job.Progress = 100
		job.CurrentStep = ""
		job.AssetKey = out.Key
		job.AssetURL = out.URL
		job.ContentType = out.ContentType
		job.DurationSeconds = out.DurationSeconds
		job.PlayToken = uuid.New().String()
		job.CompletedAt = &now
		return true, nil
	})
}

// FailJob marks a job failed (called by worker).
func (s *ProviderService) FailJob(ctx context.Context, jobID, errMsg string, kind model.ErrorKind) error {
	if kind == "" {
		kind = model.ErrorKindProviderError
	}
	_, err := s.update(ctx, jobID, func(job *model.ProviderJob) (bool, error) {
		if job.Status.IsTerminal() {
			return false, nil
		}
		now := s.now()
		job.Status = model.JobStatusFailed
		job.Error = errMsg
		job.ErrorKind = kind
		job.CurrentStep = ""
		job.CompletedAt = &now
		return true, nil
	})
	return err
}

// Helper methods

func jobKey(jobID string) string {
	return fmt.Sprintf("videojob:%s", jobID)
}

func (s *ProviderService) saveJob(ctx context.Context, job *model.ProviderJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, jobKey(job.ID), data, s.opts.Retention).Err()
}

func (s *ProviderService) getJob(ctx context.Context, jobID string) (*model.ProviderJob, error) {
	return decodeJob(s.redis.Get(ctx, jobKey(jobID)))
}

func decodeJob(cmd *redis.StringCmd) (*model.ProviderJob, error) {
	data, err := cmd.Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}

	var job model.ProviderJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// update applies fn to a job inside an optimistic WATCH transaction. fn
// reports whether it changed the record.
func (s *ProviderService) update(ctx context.Context, jobID string, fn func(job *model.ProviderJob) (bool, error)) (*model.ProviderJob, error) {
	key := jobKey(jobID)
	var result *model.ProviderJob

	txf := func(tx *redis.Tx) error {
		job, err := decodeJob(tx.Get(ctx, key))
		if err != nil {
			return err
		}
		changed, err := fn(job)
		if err != nil {
			return err
		}
		result = job
		if !changed {
			return nil
		}

		data, err := json.Marshal(job)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.opts.Retention)
			return nil
		})
		return err
	}

	for i := 0; i < maxUpdateRetries; i++ {
		err := s.redis.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return result, nil
	}
	return nil, fmt.Errorf("update job %s: too many concurrent writers", jobID)
}

func newGenerateTask(job *model.ProviderJob) (*asynq.Task, error) {
	payload := model.GenerateJobPayload{
		JobID:        job.ID,
		Prompt:       job.Prompt,
		Model:        job.Model,
		DurationHint: job.DurationHint,
		Size:         job.Size,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeGenerate, data), nil
}
