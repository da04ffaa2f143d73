package jobctl

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/makeasinger/videogen/internal/model"
)

const DefaultWatchThrottle = 3 * time.Second

// ProgressReporter sends observed playback to the provider.
type ProgressReporter interface {
	ReportProgress(ctx context.Context, jobID string, report *model.ProgressReport) (*model.ProgressResponse, error)
}

// WatchGate tracks playback of a completed job and caches the provider's
// download unlock. The flag is only ever set from a provider reply and is never
// cleared for the same job.
//
// Like the scheduler, every exported method expects the loop lock to be held.
type WatchGate struct {
	loop     sync.Locker
	clock    Clock
	reporter ProgressReporter
	throttle time.Duration
	base     context.Context
	logger   zerolog.Logger
	onUnlock func()

	gen            uint64
	session        *model.WatchSession
	lastReportedAt time.Time
	reported       bool
	ctx            context.Context
	cancel         context.CancelFunc
}

type watchGateConfig struct {
	loop     sync.Locker
	clock    Clock
	reporter ProgressReporter
	throttle time.Duration
	base     context.Context
	logger   zerolog.Logger
	onUnlock func()
}

func newWatchGate(cfg watchGateConfig) *WatchGate {
	if cfg.throttle <= 0 {
		cfg.throttle = DefaultWatchThrottle
	}
	if cfg.base == nil {
		cfg.base = context.Background()
	}
	return &WatchGate{
		loop:     cfg.loop,
		clock:    cfg.clock,
		reporter: cfg.reporter,
		throttle: cfg.throttle,
		base:     cfg.base,
		logger:   cfg.logger,
		onUnlock: cfg.onUnlock,
	}
}

// Reset discards the current session and, when jobID is non-empty, opens a
// fresh one for it. Reports still in flight for the old session are ignored.
func (g *WatchGate) Reset(jobID string) {
	g.gen++
	if g.cancel != nil {
		g.cancel()
		g.cancel = nil
	}
	g.session = nil
	g.reported = false
	g.lastReportedAt = time.Time{}
	if jobID == "" {
		return
	}
	g.ctx, g.cancel = context.WithCancel(g.base)
	g.session = &model.WatchSession{JobID: jobID}
}

// OnTimeUpdate records the playback position. A report is sent at most once per
// throttle window. It returns whether a report was dispatched.
func (g *WatchGate) OnTimeUpdate(currentTime, duration float64) bool {
	if g.session == nil {
		return false
	}
	g.observe(currentTime, duration)

	now := g.clock.Now()
	if g.reported && now.Sub(g.lastReportedAt) < g.throttle {
		return false
	}
	g.dispatch(now)
	return true
}

// OnEnded marks the session ended and reports immediately, ignoring the throttle.
func (g *WatchGate) OnEnded(duration float64) {
	if g.session == nil {
		return
	}
	if duration > 0 {
		g.observe(duration, duration)
	}
	g.session.Ended = true
	g.dispatch(g.clock.Now())
}

// IsDownloadEnabled reports the cached unlock.
func (g *WatchGate) IsDownloadEnabled() bool {
	return g.session != nil && g.session.DownloadEnabled
}

// Session returns a copy of the current session, or nil.
func (g *WatchGate) Session() *model.WatchSession {
	if g.session == nil {
		return nil
	}
	s := *g.session
	return &s
}

func (g *WatchGate) observe(currentTime, duration float64) {
	if currentTime >= 0 {
		g.session.SecondsWatched = currentTime
	}
	if duration > 0 {
		g.session.DurationSeconds = duration
	}
}

func (g *WatchGate) dispatch(now time.Time) {
	g.reported = true
	g.lastReportedAt = now

	gen, jobID, ctx := g.gen, g.session.JobID, g.ctx
	report := model.ProgressReport{
		SecondsWatched:  g.session.SecondsWatched,
		DurationSeconds: g.session.DurationSeconds,
		Ended:           g.session.Ended,
	}

	// Runs off the caller's goroutine; the reply is applied under the loop lock.
	g.clock.AfterFunc(0, func() {
		resp, err := g.reporter.ReportProgress(ctx, jobID, &report)

		g.loop.Lock()
		defer g.loop.Unlock()

		if gen != g.gen || g.session == nil || g.session.JobID != jobID {
			return
		}
		if err != nil || resp == nil {
			g.logger.Debug().Err(err).Str("job_id", jobID).Msg("jobctl: progress report failed")
			return
		}
		if resp.DownloadEnabled && !g.session.DownloadEnabled {
			g.session.DownloadEnabled = true
			g.logger.Info().Str("job_id", jobID).Msg("jobctl: download unlocked")
			if g.onUnlock != nil {
				g.onUnlock()
			}
		}
	})
}
