package jobctl

import (
	"math/rand"
	"testing"

	"github.com/makeasinger/videogen/internal/model"
)

func intPtr(v int) *int { return &v }

func TestNormalizeStatus(t *testing.T) {
	tests := []struct {
		in   string
		want model.JobStatus
	}{
		{"queued", model.JobStatusQueued},
		{"PENDING", model.JobStatusQueued},
		{"processing", model.JobStatusProcessing},
		{"in_progress", model.JobStatusProcessing},
		{"running", model.JobStatusProcessing},
		{"something-new", model.JobStatusProcessing},
		{"completed", model.JobStatusCompleted},
		{"succeeded", model.JobStatusCompleted},
		{"failed", model.JobStatusFailed},
		{"cancelled", model.JobStatusFailed},
	}
	for _, tt := range tests {
		if got := NormalizeStatus(tt.in); got != tt.want {
			t.Errorf("NormalizeStatus(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestReduce(t *testing.T) {
	queued := &model.Job{ID: "a", Status: model.JobStatusQueued}
	proc40 := &model.Job{ID: "a", Status: model.JobStatusProcessing, Progress: 40}

	tests := []struct {
		name        string
		prev        *model.Job
		next        model.RawStatus
		want        model.Job
		changed     bool
		wantAnomaly bool
	}{
		{
			name:    "first reply",
			prev:    nil,
			next:    model.RawStatus{ID: "a", Status: "queued"},
			want:    model.Job{ID: "a", Status: model.JobStatusQueued},
			changed: true,
		},
		{
			name:    "redundant reply",
			prev:    queued,
			next:    model.RawStatus{ID: "a", Status: "queued"},
			want:    *queued,
			changed: false,
		},
		{
			name:    "progress advances",
			prev:    queued,
			next:    model.RawStatus{ID: "a", Status: "in_progress", Progress: intPtr(40)},
			want:    *proc40,
			changed: true,
		},
		{
			name:    "missing progress keeps previous",
			prev:    proc40,
			next:    model.RawStatus{ID: "a", Status: "processing"},
			want:    *proc40,
			changed: false,
		},
		{
			name:    "progress clamped high",
			prev:    queued,
			next:    model.RawStatus{ID: "a", Status: "processing", Progress: intPtr(250)},
			want:    model.Job{ID: "a", Status: model.JobStatusProcessing, Progress: 100},
			changed: true,
		},
		{
			name:    "progress clamped low",
			prev:    queued,
			next:    model.RawStatus{ID: "a", Status: "processing", Progress: intPtr(-5)},
			want:    model.Job{ID: "a", Status: model.JobStatusProcessing},
			changed: true,
		},
		{
			name:    "completed carries output",
			prev:    proc40,
			next:    model.RawStatus{ID: "a", Status: "completed", OutputRef: "abc"},
			want:    model.Job{ID: "a", Status: model.JobStatusCompleted, Progress: 100, OutputRef: "abc"},
			changed: true,
		},
		{
			name: "failed defaults to provider error",
			prev: proc40,
			next: model.RawStatus{ID: "a", Status: "failed"},
			want: model.Job{
				ID: "a", Status: model.JobStatusFailed, Progress: 40,
				Error: defaultFailureMessage, ErrorKind: model.ErrorKindProviderError,
			},
			changed: true,
		},
		{
			name: "failed keeps moderation kind",
			prev: queued,
			next: model.RawStatus{ID: "a", Status: "failed", Error: "unsafe", ErrorKind: "moderation_block"},
			want: model.Job{
				ID: "a", Status: model.JobStatusFailed,
				Error: "unsafe", ErrorKind: model.ErrorKindModerationBlock,
			},
			changed: true,
		},
		{
			name:    "output ignored unless completed",
			prev:    queued,
			next:    model.RawStatus{ID: "a", Status: "processing", OutputRef: "early", Error: "noise"},
			want:    model.Job{ID: "a", Status: model.JobStatusProcessing},
			changed: true,
		},
		{
			name:        "terminal regression rejected",
			prev:        &model.Job{ID: "a", Status: model.JobStatusCompleted, Progress: 100, OutputRef: "abc"},
			next:        model.RawStatus{ID: "a", Status: "processing", Progress: intPtr(10)},
			want:        model.Job{ID: "a", Status: model.JobStatusCompleted, Progress: 100, OutputRef: "abc"},
			changed:     false,
			wantAnomaly: true,
		},
		{
			name:        "reply for another job rejected",
			prev:        proc40,
			next:        model.RawStatus{ID: "b", Status: "completed"},
			want:        *proc40,
			changed:     false,
			wantAnomaly: true,
		},
		{
			name:    "repeated terminal reply is quiet",
			prev:    &model.Job{ID: "a", Status: model.JobStatusCompleted, Progress: 100, OutputRef: "abc"},
			next:    model.RawStatus{ID: "a", Status: "completed", OutputRef: "abc"},
			want:    model.Job{ID: "a", Status: model.JobStatusCompleted, Progress: 100, OutputRef: "abc"},
			changed: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var before model.Job
			if tt.prev != nil {
				before = *tt.prev
			}

			r := Reduce(tt.prev, tt.next)

			if !r.Job.Equal(tt.want) {
				t.Errorf("job = %+v, want %+v", r.Job, tt.want)
			}
			if r.Changed != tt.changed {
				t.Errorf("changed = %v, want %v", r.Changed, tt.changed)
			}
			if (r.Anomaly != "") != tt.wantAnomaly {
				t.Errorf("anomaly = %q, want anomaly %v", r.Anomaly, tt.wantAnomaly)
			}
			if tt.prev != nil && !tt.prev.Equal(before) {
				t.Errorf("Reduce mutated prev: %+v", tt.prev)
			}
		})
	}
}

func TestReduce_TerminalIsFinalForAnyInput(t *testing.T) {
	statuses := []string{"queued", "processing", "running", "completed", "failed", "error", "weird", ""}
	kinds := []string{"", "moderation_block", "provider_error"}
	rng := rand.New(rand.NewSource(42))

	terminals := []model.Job{
		{ID: "a", Status: model.JobStatusCompleted, Progress: 100, OutputRef: "abc"},
		{ID: "a", Status: model.JobStatusFailed, Progress: 30, Error: "boom", ErrorKind: model.ErrorKindProviderError},
	}

	for _, terminal := range terminals {
		job := terminal
		for i := 0; i < 500; i++ {
			next := model.RawStatus{
				ID:        []string{"a", "", "b"}[rng.Intn(3)],
				Status:    statuses[rng.Intn(len(statuses))],
				Progress:  intPtr(rng.Intn(300) - 100),
				Error:     []string{"", "other"}[rng.Intn(2)],
				ErrorKind: kinds[rng.Intn(len(kinds))],
				OutputRef: []string{"", "abc", "xyz"}[rng.Intn(3)],
			}
			r := Reduce(&job, next)
			if r.Changed || !r.Job.Equal(terminal) {
				t.Fatalf("terminal job changed after %+v: %+v", next, r.Job)
			}
			job = r.Job
		}
	}
}
