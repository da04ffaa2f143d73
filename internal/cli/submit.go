package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/makeasinger/videogen/internal/model"
)

func newSubmitCmd(e *env) *cobra.Command {
	var (
		req     model.SubmitRequest
		wait    bool
		resumes int
	)

	cmd := &cobra.Command{
		Use:   "submit <prompt...>",
		Short: "Submit a generation job and follow it to completion",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			req.Prompt = strings.Join(args, " ")

			t := e.newTracker(ctx)
			defer t.ctl.Cancel()

			if err := t.ctl.Submit(ctx, req); err != nil {
				snap := t.ctl.Snapshot()
				if snap.Job != nil && snap.Job.Status == model.JobStatusFailed {
					describeTo(e, snap)
					return e.outcome(snap)
				}
				return &ExitError{Code: ExitCLIError, Err: err}
			}

			if !wait {
				snap := t.ctl.Snapshot()
				if snap.Job != nil && snap.Job.ID != "" {
					e.println(snap.Job.ID)
					return nil
				}
				describeTo(e, snap)
				return e.outcome(snap)
			}

			snap, err := t.wait(ctx, e, resumes)
			if err != nil {
				return &ExitError{Code: ExitCLIError, Err: err}
			}
			return e.outcome(snap)
		},
	}

	fs := cmd.Flags()
	fs.IntVar(&req.DurationHint, "duration", 0, "Requested clip length in seconds")
	fs.StringVar(&req.Size, "size", "", "Frame size: 1280x720, 720x1280 or 1024x1024")
	fs.BoolVar(&wait, "wait", true, "Follow the job until it settles")
	fs.IntVar(&resumes, "auto-resume", 0, "Resume a timed-out poll this many times")
	return cmd
}

func describeTo(e *env, snap model.Snapshot) {
	e.println(describe(snap))
}
