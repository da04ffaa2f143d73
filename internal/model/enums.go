package model

// JobStatus is the normalized lifecycle state of a generation job.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

var ValidJobStatuses = []JobStatus{
	JobStatusQueued, JobStatusProcessing, JobStatusCompleted, JobStatusFailed,
}

// IsTerminal reports whether no further transition is allowed.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// ErrorKind classifies a failed job.
type ErrorKind string

const (
	// ErrorKindModerationBlock is a submission-time rejection. Resubmitting the
	// same input will be rejected again.
	ErrorKindModerationBlock ErrorKind = "moderation_block"
	// ErrorKindProviderError is retryable by resubmission.
	ErrorKindProviderError ErrorKind = "provider_error"
	// ErrorKindDownloadLocked is returned by the provider when the watch gate
	// has not been satisfied yet. It never appears on a Job.
	ErrorKindDownloadLocked ErrorKind = "download_locked"
)

// WatchEvent is a playback event forwarded by the UI.
type WatchEvent string

const (
	WatchEventTimeUpdate WatchEvent = "timeupdate"
	WatchEventEnded      WatchEvent = "ended"
)

// Video sizes accepted by the provider.
const (
	SizeLandscape = "1280x720"
	SizePortrait  = "720x1280"
	SizeSquare    = "1024x1024"
)
