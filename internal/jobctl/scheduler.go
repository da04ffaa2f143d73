package jobctl

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/makeasinger/videogen/internal/model"
)

const (
	DefaultPollInterval = 2 * time.Second
	DefaultPollTimeout  = 10 * time.Minute
)

// StatusFetcher performs one poll cycle.
type StatusFetcher interface {
	GetStatus(ctx context.Context, jobID, modelName string) (*model.RawStatus, error)
}

// pollTarget receives poll outcomes. Every method runs with the loop lock held.
type pollTarget interface {
	reduce(raw *model.RawStatus) Reduction
	publish(r Reduction)
	suspend(jobID string)
}

type pollSession struct {
	token     uint64
	jobID     string
	startedAt time.Time
	active    bool
}

// PollingScheduler owns the single polling loop of a controller.
//
// Start and Stop must be called with the loop lock held. Poll continuations
// take the same lock and compare their session token before touching state,
// so a reply for a superseded or stopped session is dropped.
type PollingScheduler struct {
	loop     sync.Locker
	clock    Clock
	fetcher  StatusFetcher
	target   pollTarget
	model    string
	interval time.Duration
	timeout  time.Duration
	base     context.Context
	logger   zerolog.Logger

	seq     uint64
	session pollSession
	timer   Timer
	ctx     context.Context
	cancel  context.CancelFunc
}

type schedulerConfig struct {
	loop     sync.Locker
	clock    Clock
	fetcher  StatusFetcher
	target   pollTarget
	model    string
	interval time.Duration
	timeout  time.Duration
	base     context.Context
	logger   zerolog.Logger
}

func newPollingScheduler(cfg schedulerConfig) *PollingScheduler {
	if cfg.interval <= 0 {
		cfg.interval = DefaultPollInterval
	}
	if cfg.timeout <= 0 {
		cfg.timeout = DefaultPollTimeout
	}
	if cfg.base == nil {
		cfg.base = context.Background()
	}
	return &PollingScheduler{
		loop:     cfg.loop,
		clock:    cfg.clock,
		fetcher:  cfg.fetcher,
		target:   cfg.target,
		model:    cfg.model,
		interval: cfg.interval,
		timeout:  cfg.timeout,
		base:     cfg.base,
		logger:   cfg.logger,
	}
}

// Start begins polling jobID. It is a no-op while a session for the same job
// is active; any other session is torn down first. The first poll is issued
// immediately.
func (s *PollingScheduler) Start(jobID string) {
	if s.session.active && s.session.jobID == jobID {
		return
	}
	s.Stop()

	s.seq++
	s.ctx, s.cancel = context.WithCancel(s.base)
	s.session = pollSession{
		token:     s.seq,
		jobID:     jobID,
		startedAt: s.clock.Now(),
		active:    true,
	}

	s.logger.Debug().Str("job_id", jobID).Uint64("session", s.seq).Msg("jobctl: polling started")
	s.arm(0)
}

// Stop invalidates the current session and clears its timer. Requests already
// in flight are cancelled and their replies discarded.
func (s *PollingScheduler) Stop() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.session.active = false
}

// Active reports the job currently being polled.
func (s *PollingScheduler) Active() (string, bool) {
	return s.session.jobID, s.session.active
}

func (s *PollingScheduler) arm(d time.Duration) {
	if s.timer != nil {
		s.timer.Stop()
	}
	ctx, token, jobID := s.ctx, s.session.token, s.session.jobID
	s.timer = s.clock.AfterFunc(d, func() {
		s.poll(ctx, token, jobID)
	})
}

func (s *PollingScheduler) current(token uint64, jobID string) bool {
	return s.session.active && s.session.token == token && s.session.jobID == jobID
}

func (s *PollingScheduler) poll(ctx context.Context, token uint64, jobID string) {
	raw, err := s.fetcher.GetStatus(ctx, jobID, s.model)

	s.loop.Lock()
	defer s.loop.Unlock()

	if !s.current(token, jobID) {
		s.logger.Debug().Str("job_id", jobID).Uint64("session", token).Msg("jobctl: dropped stale poll reply")
		return
	}
	s.timer = nil

	elapsed := s.clock.Now().Sub(s.session.startedAt)
	timedOut := elapsed >= s.timeout

	if err != nil || raw == nil {
		s.logger.Debug().Err(err).Str("job_id", jobID).Msg("jobctl: poll failed, will retry")
		if timedOut {
			s.suspend(jobID, elapsed)
			return
		}
		s.arm(s.interval)
		return
	}

	r := s.target.reduce(raw)
	if r.Job.Status.IsTerminal() {
		s.Stop()
		s.target.publish(r)
		return
	}
	if timedOut {
		s.Stop()
		s.target.publish(r)
		s.suspend(jobID, elapsed)
		return
	}

	s.arm(s.interval)
	s.target.publish(r)
}

func (s *PollingScheduler) suspend(jobID string, elapsed time.Duration) {
	s.Stop()
	s.logger.Info().Str("job_id", jobID).Dur("elapsed", elapsed).Msg("jobctl: polling suspended after timeout")
	s.target.suspend(jobID)
}
