package model

import "time"

// Job is the client-side view of one generation request.
type Job struct {
	ID        string    `json:"id"`
	Status    JobStatus `json:"status"`
	Progress  int       `json:"progress"`
	Error     string    `json:"error,omitempty"`
	ErrorKind ErrorKind `json:"errorKind,omitempty"`
	OutputRef string    `json:"outputRef,omitempty"`
}

// Equal reports whether every observable field matches.
func (j Job) Equal(o Job) bool {
	return j.ID == o.ID &&
		j.Status == o.Status &&
		j.Progress == o.Progress &&
		j.Error == o.Error &&
		j.ErrorKind == o.ErrorKind &&
		j.OutputRef == o.OutputRef
}

// RawStatus is the provider's status reply before normalization.
type RawStatus struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	Progress  *int   `json:"progress,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorKind string `json:"errorKind,omitempty"`
	OutputRef string `json:"outputRef,omitempty"`
}

// WatchSession tracks consumption of a completed job's output.
type WatchSession struct {
	JobID           string  `json:"jobId"`
	SecondsWatched  float64 `json:"secondsWatched"`
	DurationSeconds float64 `json:"durationSeconds"`
	Ended           bool    `json:"ended"`
	DownloadEnabled bool    `json:"downloadEnabled"`
}

// Snapshot is everything a controller exposes to its observers.
type Snapshot struct {
	Job            *Job          `json:"job,omitempty"`
	Watch          *WatchSession `json:"watch,omitempty"`
	Polling        bool          `json:"polling"`
	Suspended      bool          `json:"suspended"`
	SuspendedJobID string        `json:"suspendedJobId,omitempty"`
	// Version grows with every published change. Zero means nothing has
	// been published yet.
	Version uint64 `json:"version,omitempty"`
}

// ProviderJob is the reference provider's persisted job record.
type ProviderJob struct {
	ID              string     `json:"id"`
	Status          JobStatus  `json:"status"`
	Progress        int        `json:"progress"`
	CurrentStep     string     `json:"currentStep,omitempty"`
	Error           string     `json:"error,omitempty"`
	ErrorKind       ErrorKind  `json:"errorKind,omitempty"`
	Prompt          string     `json:"prompt"`
	Model           string     `json:"model"`
	DurationHint    int        `json:"durationHint"`
	Size            string     `json:"size"`
	AssetKey        string     `json:"assetKey,omitempty"`
	AssetURL        string     `json:"assetUrl,omitempty"`
	ContentType     string     `json:"contentType,omitempty"`
	DurationSeconds float64    `json:"durationSeconds,omitempty"`
	PlayToken       string     `json:"playToken,omitempty"`
	SecondsWatched  float64    `json:"secondsWatched"`
	Ended           bool       `json:"ended"`
	DownloadEnabled bool       `json:"downloadEnabled"`
	CreatedAt       time.Time  `json:"createdAt"`
	StartedAt       *time.Time `json:"startedAt,omitempty"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
}

// GenerateJobPayload is the asynq task body for a generation job.
type GenerateJobPayload struct {
	JobID        string `json:"jobId"`
	Prompt       string `json:"prompt"`
	Model        string `json:"model"`
	DurationHint int    `json:"durationHint"`
	Size         string `json:"size"`
}
