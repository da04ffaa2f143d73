package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/makeasinger/videogen/internal/jobctl"
	"github.com/makeasinger/videogen/internal/model"
)

// tracker is a controller plus a wakeup signal for its changes.
type tracker struct {
	ctl     *jobctl.Controller
	changed chan struct{}
}

func (e *env) newTracker(ctx context.Context) *tracker {
	t := &tracker{changed: make(chan struct{}, 1)}
	t.ctl = jobctl.New(e.jobs, jobctl.Options{
		Model:        e.cfg.Provider.Model,
		PollInterval: e.cfg.Poll.Interval,
		PollTimeout:  e.cfg.Poll.Timeout,
		Logger:       &e.logger,
		Context:      ctx,
		OnChange: func(model.Snapshot) {
			select {
			case t.changed <- struct{}{}:
			default:
			}
		},
	})
	return t
}

// wait prints each distinct state until the job settles, resuming a
// suspended poll up to resumes times.
func (t *tracker) wait(ctx context.Context, e *env, resumes int) (model.Snapshot, error) {
	var last string
	for {
		snap := t.ctl.Snapshot()
		if line := describe(snap); line != last {
			fmt.Fprintln(e.out, line)
			last = line
		}

		if snap.Suspended && resumes > 0 {
			resumes--
			if err := t.ctl.Resume(snap.SuspendedJobID); err != nil {
				return snap, err
			}
			continue
		}
		if settled(snap) {
			return snap, nil
		}

		select {
		case <-ctx.Done():
			t.ctl.Cancel()
			return snap, ctx.Err()
		case <-t.changed:
		}
	}
}

func settled(snap model.Snapshot) bool {
	if snap.Suspended {
		return true
	}
	return snap.Job != nil && snap.Job.Status.IsTerminal() && !snap.Polling
}

func describe(snap model.Snapshot) string {
	switch {
	case snap.Suspended:
		return fmt.Sprintf("%s\tsuspended (polling window expired)", snap.SuspendedJobID)
	case snap.Job == nil:
		return "submitting..."
	}

	job := snap.Job
	switch job.Status {
	case model.JobStatusCompleted:
		return fmt.Sprintf("%s\tcompleted", job.ID)
	case model.JobStatusFailed:
		id := job.ID
		if id == "" {
			id = "-"
		}
		return fmt.Sprintf("%s\tfailed (%s): %s", id, job.ErrorKind, job.Error)
	}
	return fmt.Sprintf("%s\t%s %d%%", job.ID, job.Status, job.Progress)
}

// outcome maps a settled snapshot onto the process exit status.
func (e *env) outcome(snap model.Snapshot) error {
	switch {
	case snap.Suspended:
		return &ExitError{Code: ExitSuspended, Err: fmt.Errorf("job %s still running, run `genctl follow %s` to keep waiting", snap.SuspendedJobID, snap.SuspendedJobID)}
	case snap.Job == nil:
		return &ExitError{Code: ExitCLIError, Err: errors.New("no job")}
	case snap.Job.ErrorKind == model.ErrorKindModerationBlock:
		return &ExitError{Code: ExitModeration, Err: fmt.Errorf("blocked by moderation: %s", snap.Job.Error)}
	case snap.Job.Status == model.JobStatusFailed:
		return &ExitError{Code: ExitFailed, Err: fmt.Errorf("generation failed: %s", snap.Job.Error)}
	}

	fmt.Fprintf(e.out, "play: %s\n", e.jobs.PlayURL(snap.Job.ID, snap.Job.OutputRef))
	return nil
}

func newFollowCmd(e *env) *cobra.Command {
	var resumes int

	cmd := &cobra.Command{
		Use:     "follow <job-id>",
		Aliases: []string{"resume"},
		Short:   "Poll an existing job until it completes or fails",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			t := e.newTracker(ctx)
			defer t.ctl.Cancel()

			if err := t.ctl.Attach(args[0]); err != nil {
				return &ExitError{Code: ExitCLIError, Err: err}
			}
			snap, err := t.wait(ctx, e, resumes)
			if err != nil {
				return &ExitError{Code: ExitCLIError, Err: err}
			}
			return e.outcome(snap)
		},
	}
	cmd.Flags().IntVar(&resumes, "auto-resume", 0, "Resume a timed-out poll this many times")
	return cmd
}
