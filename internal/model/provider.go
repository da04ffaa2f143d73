package model

// CreateJobRequest is the body of POST /jobs.
type CreateJobRequest struct {
	Prompt       string `json:"prompt" validate:"required,min=3,max=2000"`
	Model        string `json:"model,omitempty" validate:"omitempty,max=64"`
	DurationHint int    `json:"durationHint,omitempty" validate:"omitempty,min=1,max=60"`
	Size         string `json:"size,omitempty" validate:"omitempty,oneof=1280x720 720x1280 1024x1024"`
}

// CreateJobResponse is the 2xx reply of POST /jobs.
type CreateJobResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// ProviderError is the body of a rejected provider call.
type ProviderError struct {
	ErrorKind ErrorKind `json:"errorKind"`
	Message   string    `json:"message"`
}

// ProgressReport is the body of POST /jobs/{id}/progress.
type ProgressReport struct {
	SecondsWatched  float64 `json:"secondsWatched" validate:"gte=0"`
	DurationSeconds float64 `json:"durationSeconds" validate:"gte=0"`
	Ended           bool    `json:"ended"`
}

// ProgressResponse is the reply of POST /jobs/{id}/progress.
type ProgressResponse struct {
	DownloadEnabled bool `json:"downloadEnabled"`
}
