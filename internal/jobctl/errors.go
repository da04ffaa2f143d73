package jobctl

import "errors"

var (
	ErrNoJob          = errors.New("no job")
	ErrNotSuspended   = errors.New("job is not suspended")
	ErrSuperseded     = errors.New("submission superseded")
	ErrDownloadLocked = errors.New("download locked until the video has been watched")
)
