package jobctl

import (
	"strings"

	"github.com/makeasinger/videogen/internal/model"
)

const defaultFailureMessage = "generation failed"

// Reduction is the outcome of folding one status reply into the current job.
type Reduction struct {
	Job     model.Job
	Changed bool
	// Anomaly names the invariant a rejected reply would have broken.
	Anomaly string
}

// NormalizeStatus maps provider status strings onto the four job states.
// Unknown values are treated as in-progress variants.
func NormalizeStatus(raw string) model.JobStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "queued", "pending", "submitted", "in_queue", "waiting":
		return model.JobStatusQueued
	case "completed", "complete", "succeeded", "success", "done":
		return model.JobStatusCompleted
	case "failed", "failure", "error", "cancelled", "canceled", "timed_out":
		return model.JobStatusFailed
	default:
		return model.JobStatusProcessing
	}
}

func normalizeErrorKind(raw string) model.ErrorKind {
	if model.ErrorKind(raw) == model.ErrorKindModerationBlock {
		return model.ErrorKindModerationBlock
	}
	return model.ErrorKindProviderError
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// Reduce folds next into prev. It is pure: prev is never modified.
//
// A job that reached a terminal status never changes again; replies that
// would alter it are rejected and reported through Anomaly.
func Reduce(prev *model.Job, next model.RawStatus) Reduction {
	if prev != nil && prev.ID != "" && next.ID != "" && next.ID != prev.ID {
		return Reduction{Job: *prev, Anomaly: "status reply for a different job"}
	}

	candidate := model.Job{ID: next.ID, Status: NormalizeStatus(next.Status)}
	if candidate.ID == "" && prev != nil {
		candidate.ID = prev.ID
	}

	switch {
	case next.Progress != nil:
		candidate.Progress = clampProgress(*next.Progress)
	case prev != nil:
		candidate.Progress = prev.Progress
	}

	switch candidate.Status {
	case model.JobStatusCompleted:
		candidate.Progress = 100
		candidate.OutputRef = next.OutputRef
	case model.JobStatusFailed:
		candidate.Error = next.Error
		if candidate.Error == "" {
			candidate.Error = defaultFailureMessage
		}
		candidate.ErrorKind = normalizeErrorKind(next.ErrorKind)
	}

	if prev != nil && prev.Status.IsTerminal() {
		r := Reduction{Job: *prev}
		if !candidate.Equal(*prev) {
			r.Anomaly = "update after terminal status " + string(prev.Status)
		}
		return r
	}

	return Reduction{
		Job:     candidate,
		Changed: prev == nil || !candidate.Equal(*prev),
	}
}
