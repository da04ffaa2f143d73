package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/makeasinger/videogen/internal/client"
	"github.com/makeasinger/videogen/internal/jobctl"
	"github.com/makeasinger/videogen/internal/model"
)

// SnapshotPublisher fans controller snapshots out to a user's sockets. It is
// called with the controller locked and must not block.
type SnapshotPublisher interface {
	PublishSnapshot(userID string, snap model.Snapshot)
}

// SessionOptions is the controller template used for every user.
type SessionOptions struct {
	Model         string
	PollInterval  time.Duration
	PollTimeout   time.Duration
	WatchThrottle time.Duration
	// IdleTTL evicts controllers that have been idle this long and have
	// nothing running. Zero keeps them until Close.
	IdleTTL time.Duration
	Clock   jobctl.Clock
	Logger  zerolog.Logger
}

const maxSweepInterval = time.Minute

type userSession struct {
	ctl      *jobctl.Controller
	lastUsed time.Time
}

// SessionService keeps one job controller per studio user
type SessionService struct {
	api       jobctl.API
	publisher SnapshotPublisher
	opts      SessionOptions
	logger    zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	now func() time.Time

	mu          sync.Mutex
	controllers map[string]*userSession
	lastSweep   time.Time
	closed      bool
}

func NewSessionService(api jobctl.API, publisher SnapshotPublisher, opts SessionOptions) *SessionService {
	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now
	if opts.Clock != nil {
		now = opts.Clock.Now
	}
	return &SessionService{
		now:         now,
		api:         api,
		publisher:   publisher,
		opts:        opts,
		logger:      opts.Logger,
		ctx:         ctx,
		cancel:      cancel,
		controllers: make(map[string]*userSession),
	}
}

func (s *SessionService) controller(userID string) (*jobctl.Controller, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrServiceClosed
	}
	now := s.now()
	s.sweepLocked(now, userID)
	if us, ok := s.controllers[userID]; ok {
		us.lastUsed = now
		return us.ctl, nil
	}

	logger := s.logger.With().Str("user_id", userID).Logger()
	c := jobctl.New(s.api, jobctl.Options{
		Model:         s.opts.Model,
		PollInterval:  s.opts.PollInterval,
		PollTimeout:   s.opts.PollTimeout,
		WatchThrottle: s.opts.WatchThrottle,
		Clock:         s.opts.Clock,
		Logger:        &logger,
		Context:       s.ctx,
		OnChange: func(snap model.Snapshot) {
			if s.publisher != nil {
				s.publisher.PublishSnapshot(userID, snap)
			}
		},
	})
	s.controllers[userID] = &userSession{ctl: c, lastUsed: now}
	return c, nil
}

// sweepLocked drops controllers unused for IdleTTL that are not polling and
// hold no running job. A suspended job counts as idle.
func (s *SessionService) sweepLocked(now time.Time, keep string) {
	ttl := s.opts.IdleTTL
	if ttl <= 0 || now.Sub(s.lastSweep) < min(ttl, maxSweepInterval) {
		return
	}
	s.lastSweep = now

	evicted := 0
	for userID, us := range s.controllers {
		if userID == keep || now.Sub(us.lastUsed) < ttl {
			continue
		}
		snap := us.ctl.Snapshot()
		if snap.Polling {
			continue
		}
		if snap.Job != nil && !snap.Job.Status.IsTerminal() && !snap.Suspended {
			continue
		}
		delete(s.controllers, userID)
		evicted++
	}
	if evicted > 0 {
		s.logger.Debug().Int("evicted", evicted).Int("sessions", len(s.controllers)).Msg("session: idle controllers evicted")
	}
}

// Submit replaces the user's current job with a new one.
func (s *SessionService) Submit(ctx context.Context, userID string, req *model.SubmitRequest) (model.Snapshot, error) {
	c, err := s.controller(userID)
	if err != nil {
		return model.Snapshot{}, err
	}
	if err := c.Submit(ctx, *req); err != nil {
		return c.Snapshot(), err
	}
	return c.Snapshot(), nil
}

// Resume restarts polling of the user's suspended job.
func (s *SessionService) Resume(userID, jobID string) (model.Snapshot, error) {
	c, err := s.controller(userID)
	if err != nil {
		return model.Snapshot{}, err
	}
	if err := c.Resume(jobID); err != nil {
		return c.Snapshot(), err
	}
	return c.Snapshot(), nil
}

// Cancel drops the user's current job.
func (s *SessionService) Cancel(userID string) (model.Snapshot, error) {
	c, err := s.controller(userID)
	if err != nil {
		return model.Snapshot{}, err
	}
	c.Cancel()
	return c.Snapshot(), nil
}

// Watch forwards a playback event and returns the cached unlock state. The
// report is sent asynchronously, so an unlock it causes is not reflected in
// the reply; subscribers receive it as a published snapshot.
func (s *SessionService) Watch(userID string, req *model.WatchEventRequest) (*model.WatchEventResponse, error) {
	c, err := s.controller(userID)
	if err != nil {
		return nil, err
	}
	switch req.Event {
	case model.WatchEventEnded:
		c.OnEnded(req.Duration)
	default:
		c.OnTimeUpdate(req.CurrentTime, req.Duration)
	}
	return &model.WatchEventResponse{DownloadEnabled: c.DownloadEnabled()}, nil
}

// Snapshot returns the user's current state.
func (s *SessionService) Snapshot(userID string) (model.Snapshot, error) {
	c, err := s.controller(userID)
	if err != nil {
		return model.Snapshot{}, err
	}
	return c.Snapshot(), nil
}

// Download fetches the user's unlocked asset.
func (s *SessionService) Download(ctx context.Context, userID string) (*client.Asset, error) {
	c, err := s.controller(userID)
	if err != nil {
		return nil, err
	}
	return c.Download(ctx)
}

// Close cancels every controller. Later calls fail with ErrServiceClosed.
func (s *SessionService) Close() {
	s.mu.Lock()
	controllers := s.controllers
	s.controllers = make(map[string]*userSession)
	s.closed = true
	s.mu.Unlock()

	for _, us := range controllers {
		us.ctl.Cancel()
	}
	s.cancel()
	s.logger.Info().Int("sessions", len(controllers)).Msg("session: all controllers cancelled")
}
