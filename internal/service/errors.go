package service

import "errors"

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrJobNotCompleted   = errors.New("job not completed")
	ErrDownloadLocked    = errors.New("download locked until the video has been watched")
	ErrInvalidPlayToken  = errors.New("invalid play token")
	ErrModerationBlocked = errors.New("prompt blocked by moderation")
	ErrServiceClosed     = errors.New("service is shutting down")
)
