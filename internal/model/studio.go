package model

// SubmitRequest is the body of POST /api/video/submit.
type SubmitRequest struct {
	Prompt       string `json:"prompt" validate:"required,min=3,max=2000"`
	Model        string `json:"model,omitempty" validate:"omitempty,max=64"`
	DurationHint int    `json:"durationHint,omitempty" validate:"omitempty,min=1,max=60"`
	Size         string `json:"size,omitempty" validate:"omitempty,oneof=1280x720 720x1280 1024x1024"`
}

// WatchEventRequest is the body of POST /api/video/watch.
type WatchEventRequest struct {
	Event       WatchEvent `json:"event" validate:"required,oneof=timeupdate ended"`
	CurrentTime float64    `json:"currentTime" validate:"gte=0"`
	Duration    float64    `json:"duration" validate:"gte=0"`
}

// WatchEventResponse is the reply of POST /api/video/watch.
type WatchEventResponse struct {
	DownloadEnabled bool `json:"downloadEnabled"`
}
