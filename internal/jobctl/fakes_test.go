package jobctl

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/makeasinger/videogen/internal/client"
	"github.com/makeasinger/videogen/internal/model"
)

// fakeClock fires due timers synchronously, in deadline order, on the
// goroutine that calls Advance.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	seq     int
	timers  []*fakeTimer
	created int
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	seq     int
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	c.created++
	t := &fakeTimer{clock: c, at: c.now.Add(d), seq: c.seq, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves time forward by d, running every timer that falls due.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var next *fakeTimer
		for _, t := range c.timers {
			if t.stopped || t.fired || t.at.After(target) {
				continue
			}
			if next == nil || t.at.Before(next.at) || (t.at.Equal(next.at) && t.seq < next.seq) {
				next = t
			}
		}
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		if next.at.After(c.now) {
			c.now = next.at
		}
		next.fired = true
		c.mu.Unlock()

		next.f()
	}
}

// pending counts timers that are armed and not yet fired.
func (c *fakeClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

func (c *fakeClock) createdCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.created
}

type statusReply struct {
	raw model.RawStatus
	err error
}

func processing(progress int) statusReply {
	return statusReply{raw: model.RawStatus{Status: "processing", Progress: &progress}}
}

func withStatus(status string) statusReply {
	return statusReply{raw: model.RawStatus{Status: status}}
}

// fakeAPI scripts provider replies. The last scripted status reply for a job
// repeats forever.
type fakeAPI struct {
	mu sync.Mutex

	createIDs     []string
	createErr     error
	createHold    chan struct{}
	createEntered chan struct{}

	statuses    map[string][]statusReply
	statusCalls map[string]int
	hold        map[string]chan struct{}
	entered     chan string

	reports      []model.ProgressReport
	reportReply  func(n int, r model.ProgressReport) (*model.ProgressResponse, error)
	downloadBody string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		statuses:    make(map[string][]statusReply),
		statusCalls: make(map[string]int),
		hold:        make(map[string]chan struct{}),
		entered:     make(chan string, 16),

		createEntered: make(chan struct{}, 4),
	}
}

func (f *fakeAPI) script(jobID string, replies ...statusReply) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[jobID] = append(f.statuses[jobID], replies...)
}

func (f *fakeAPI) holdStatus(jobID string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.hold[jobID] = ch
	return ch
}

func (f *fakeAPI) calls(jobID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statusCalls[jobID]
}

func (f *fakeAPI) reportCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reports)
}

func (f *fakeAPI) CreateJob(ctx context.Context, req *model.CreateJobRequest) (*model.CreateJobResponse, error) {
	f.mu.Lock()
	hold := f.createHold
	f.mu.Unlock()
	if hold != nil {
		f.createEntered <- struct{}{}
		<-hold
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	if len(f.createIDs) == 0 {
		return nil, errors.New("no scripted job id")
	}
	id := f.createIDs[0]
	f.createIDs = f.createIDs[1:]
	return &model.CreateJobResponse{ID: id, Status: "queued"}, nil
}

func (f *fakeAPI) GetStatus(ctx context.Context, jobID, modelName string) (*model.RawStatus, error) {
	f.mu.Lock()
	f.statusCalls[jobID]++
	n := f.statusCalls[jobID]
	hold := f.hold[jobID]
	replies := f.statuses[jobID]
	f.mu.Unlock()

	if hold != nil {
		f.entered <- jobID
		<-hold
	}

	if len(replies) == 0 {
		return &model.RawStatus{ID: jobID, Status: "queued"}, nil
	}
	reply := replies[len(replies)-1]
	if n <= len(replies) {
		reply = replies[n-1]
	}
	if reply.err != nil {
		return nil, reply.err
	}
	raw := reply.raw
	if raw.ID == "" {
		raw.ID = jobID
	}
	return &raw, nil
}

func (f *fakeAPI) ReportProgress(ctx context.Context, jobID string, report *model.ProgressReport) (*model.ProgressResponse, error) {
	f.mu.Lock()
	f.reports = append(f.reports, *report)
	n := len(f.reports)
	reply := f.reportReply
	f.mu.Unlock()

	if reply != nil {
		return reply(n, *report)
	}
	return &model.ProgressResponse{DownloadEnabled: report.Ended}, nil
}

func (f *fakeAPI) Download(ctx context.Context, jobID string) (*client.Asset, error) {
	return &client.Asset{
		Body:        io.NopCloser(strings.NewReader(f.downloadBody)),
		ContentType: "video/mp4",
	}, nil
}

// recorder collects every snapshot published through OnChange.
type recorder struct {
	mu    sync.Mutex
	snaps []model.Snapshot
}

func (r *recorder) record(s model.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
}

func (r *recorder) all() []model.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Snapshot, len(r.snaps))
	copy(out, r.snaps)
	return out
}

func (r *recorder) terminalPublishes() int {
	n := 0
	var last *model.Job
	for _, s := range r.all() {
		if s.Job != nil && s.Job.Status.IsTerminal() && (last == nil || !last.Status.IsTerminal()) {
			n++
		}
		last = s.Job
	}
	return n
}

func (r *recorder) suspensions() int {
	n := 0
	was := false
	for _, s := range r.all() {
		if s.Suspended && !was {
			n++
		}
		was = s.Suspended
	}
	return n
}
