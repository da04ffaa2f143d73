// Package jobctl drives long-running generation jobs: it submits a job, polls
// it to a terminal status under a single-flight timeout/resume protocol, and
// gates the download behind watched playback.
//
// A Controller's mutex plays the role of an event loop. Public methods and
// every asynchronous continuation (poll replies, progress replies) take it,
// and continuations check a session token before mutating anything.
package jobctl

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/makeasinger/videogen/internal/client"
	"github.com/makeasinger/videogen/internal/model"
)

// API is the provider surface the controller needs.
type API interface {
	StatusFetcher
	ProgressReporter
	CreateJob(ctx context.Context, req *model.CreateJobRequest) (*model.CreateJobResponse, error)
	Download(ctx context.Context, jobID string) (*client.Asset, error)
}

// Options tunes a Controller. Zero values fall back to defaults.
type Options struct {
	Model         string
	PollInterval  time.Duration
	PollTimeout   time.Duration
	WatchThrottle time.Duration
	Clock         Clock
	Logger        *zerolog.Logger
	// Context bounds every request the controller issues.
	Context context.Context
	// OnChange receives every observable change, in order. It is called with
	// the controller locked and must neither block nor call back into it.
	OnChange func(model.Snapshot)
}

// snapshotVersion is shared by all controllers, so a controller created for a
// user later never reuses a version an earlier one published.
var snapshotVersion atomic.Uint64

// Controller owns the current Job, its poll session and its watch session.
type Controller struct {
	mu       sync.Mutex
	api      API
	model    string
	logger   zerolog.Logger
	onChange func(model.Snapshot)

	scheduler *PollingScheduler
	gate      *WatchGate

	job            *model.Job
	suspended      bool
	suspendedJobID string
	submitGen      uint64
	version        uint64
}

// New creates a controller talking to api.
func New(api API, opts Options) *Controller {
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	clock := opts.Clock
	if clock == nil {
		clock = SystemClock()
	}

	c := &Controller{
		api:      api,
		model:    opts.Model,
		logger:   logger,
		onChange: opts.OnChange,
	}
	c.scheduler = newPollingScheduler(schedulerConfig{
		loop:     &c.mu,
		clock:    clock,
		fetcher:  api,
		target:   c,
		model:    opts.Model,
		interval: opts.PollInterval,
		timeout:  opts.PollTimeout,
		base:     opts.Context,
		logger:   logger,
	})
	c.gate = newWatchGate(watchGateConfig{
		loop:     &c.mu,
		clock:    clock,
		reporter: api,
		throttle: opts.WatchThrottle,
		base:     opts.Context,
		logger:   logger,
		onUnlock: c.notifyLocked,
	})
	return c
}

// Submit discards whatever the controller was tracking and creates a new job.
//
// A moderation rejection leaves a terminal failed job and returns nil: the
// rejection is the outcome, not an error of the call. Any other creation
// failure leaves a failed provider_error job and is returned. If Submit or
// Cancel is called again before the provider answers, the answer is dropped
// and ErrSuperseded is returned.
func (c *Controller) Submit(ctx context.Context, req model.SubmitRequest) error {
	c.mu.Lock()
	c.resetLocked()
	c.submitGen++
	gen := c.submitGen
	c.notifyLocked()
	c.mu.Unlock()

	modelName := req.Model
	if modelName == "" {
		modelName = c.model
	}
	resp, err := c.api.CreateJob(ctx, &model.CreateJobRequest{
		Prompt:       req.Prompt,
		Model:        modelName,
		DurationHint: req.DurationHint,
		Size:         req.Size,
	})

	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.submitGen {
		return ErrSuperseded
	}

	if err != nil {
		if client.IsModerationBlock(err) {
			var apiErr *client.APIError
			errors.As(err, &apiErr)
			c.job = &model.Job{
				Status:    model.JobStatusFailed,
				Error:     apiErr.Message,
				ErrorKind: model.ErrorKindModerationBlock,
			}
			c.logger.Info().Str("reason", apiErr.Message).Msg("jobctl: submission blocked by moderation")
			c.notifyLocked()
			return nil
		}

		c.job = &model.Job{
			Status:    model.JobStatusFailed,
			Error:     err.Error(),
			ErrorKind: model.ErrorKindProviderError,
		}
		c.notifyLocked()
		return fmt.Errorf("submit job: %w", err)
	}

	c.job = &model.Job{ID: resp.ID, Status: model.JobStatusQueued}
	c.logger.Info().Str("job_id", resp.ID).Msg("jobctl: job submitted")
	c.scheduler.Start(resp.ID)
	c.notifyLocked()
	return nil
}

// Attach discards the current state and starts tracking an existing job
// without resubmitting it.
func (c *Controller) Attach(jobID string) error {
	if jobID == "" {
		return ErrNoJob
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.resetLocked()
	c.submitGen++
	c.job = &model.Job{ID: jobID, Status: model.JobStatusQueued}
	c.scheduler.Start(jobID)
	c.notifyLocked()
	return nil
}

// Resume restarts polling of a suspended job with a fresh timeout window.
func (c *Controller) Resume(jobID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.suspended {
		return ErrNotSuspended
	}
	if jobID != c.suspendedJobID {
		return fmt.Errorf("%w: suspended job is %s", ErrNotSuspended, c.suspendedJobID)
	}

	c.suspended = false
	c.suspendedJobID = ""
	c.logger.Info().Str("job_id", jobID).Msg("jobctl: polling resumed")
	c.scheduler.Start(jobID)
	c.notifyLocked()
	return nil
}

// Cancel stops polling and discards the job and watch session.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.resetLocked()
	c.submitGen++
	c.notifyLocked()
}

// OnTimeUpdate forwards a playback position event. The new position is
// published whenever it is reported to the provider.
func (c *Controller) OnTimeUpdate(currentTime, duration float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.gate.OnTimeUpdate(currentTime, duration) {
		c.notifyLocked()
	}
}

// OnEnded forwards the end of playback.
func (c *Controller) OnEnded(duration float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.gate.Session() == nil {
		return
	}
	c.gate.OnEnded(duration)
	c.notifyLocked()
}

// DownloadEnabled reports whether the provider has unlocked the download.
func (c *Controller) DownloadEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.gate.IsDownloadEnabled()
}

// Download fetches the completed asset. The local gate only spares a request
// that would be refused; the provider makes the real decision.
func (c *Controller) Download(ctx context.Context) (*client.Asset, error) {
	c.mu.Lock()
	if c.job == nil || c.job.Status != model.JobStatusCompleted {
		c.mu.Unlock()
		return nil, ErrNoJob
	}
	if !c.gate.IsDownloadEnabled() {
		c.mu.Unlock()
		return nil, ErrDownloadLocked
	}
	jobID := c.job.ID
	c.mu.Unlock()

	return c.api.Download(ctx, jobID)
}

// Snapshot returns a copy of the observable state.
func (c *Controller) Snapshot() model.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() model.Snapshot {
	snap := model.Snapshot{
		Watch:          c.gate.Session(),
		Suspended:      c.suspended,
		SuspendedJobID: c.suspendedJobID,
		Version:        c.version,
	}
	if c.job != nil {
		job := *c.job
		snap.Job = &job
	}
	_, snap.Polling = c.scheduler.Active()
	return snap
}

func (c *Controller) notifyLocked() {
	c.version = snapshotVersion.Add(1)
	if c.onChange != nil {
		c.onChange(c.snapshotLocked())
	}
}

func (c *Controller) resetLocked() {
	c.scheduler.Stop()
	c.gate.Reset("")
	c.job = nil
	c.suspended = false
	c.suspendedJobID = ""
}

// pollTarget

func (c *Controller) reduce(raw *model.RawStatus) Reduction {
	r := Reduce(c.job, *raw)
	if r.Anomaly != "" {
		c.logger.Warn().
			Str("job_id", r.Job.ID).
			Str("status", string(r.Job.Status)).
			Str("reply_status", raw.Status).
			Str("anomaly", r.Anomaly).
			Msg("jobctl: rejected status reply")
	}
	return r
}

func (c *Controller) publish(r Reduction) {
	if !r.Changed {
		return
	}
	prev := c.job
	job := r.Job
	c.job = &job

	if job.Status == model.JobStatusCompleted && (prev == nil || prev.Status != model.JobStatusCompleted) {
		c.gate.Reset(job.ID)
	}
	if job.Status.IsTerminal() {
		c.logger.Info().
			Str("job_id", job.ID).
			Str("status", string(job.Status)).
			Str("error_kind", string(job.ErrorKind)).
			Msg("jobctl: job finished")
	}
	c.notifyLocked()
}

func (c *Controller) suspend(jobID string) {
	c.suspended = true
	c.suspendedJobID = jobID
	c.notifyLocked()
}
