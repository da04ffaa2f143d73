package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/makeasinger/videogen/internal/model"
)

func newProgressCmd(e *env) *cobra.Command {
	var report model.ProgressReport

	cmd := &cobra.Command{
		Use:   "progress <job-id>",
		Short: "Report playback of a completed job",
		Long:  "Report how much of a completed job has been watched. The provider unlocks the download once playback ends or enough of the clip was seen.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if report.SecondsWatched < 0 || report.DurationSeconds < 0 {
				return &ExitError{Code: ExitCLIError, Err: fmt.Errorf("seconds and duration must not be negative")}
			}
			resp, err := e.jobs.ReportProgress(cmd.Context(), args[0], &report)
			if err != nil {
				return &ExitError{Code: ExitCLIError, Err: err}
			}
			if resp.DownloadEnabled {
				e.println("download unlocked")
			} else {
				e.println("download locked")
			}
			return nil
		},
	}

	fs := cmd.Flags()
	fs.Float64Var(&report.SecondsWatched, "seconds", 0, "Seconds watched so far")
	fs.Float64Var(&report.DurationSeconds, "duration", 0, "Clip duration in seconds")
	fs.BoolVar(&report.Ended, "ended", false, "Playback reached the end")
	return cmd
}
