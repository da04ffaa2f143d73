package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/makeasinger/videogen/internal/client"
)

func newDownloadCmd(e *env) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "download <job-id>",
		Short: "Download the video of an unlocked job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID := args[0]
			asset, err := e.jobs.Download(cmd.Context(), jobID)
			if err != nil {
				if client.IsDownloadLocked(err) {
					return &ExitError{Code: ExitLocked, Err: fmt.Errorf("download locked: watch the video first (genctl progress %s --ended)", jobID)}
				}
				return &ExitError{Code: ExitCLIError, Err: err}
			}
			defer asset.Body.Close()

			if output == "" {
				output = jobID + ".mp4"
			}
			f, err := os.Create(output)
			if err != nil {
				return &ExitError{Code: ExitCLIError, Err: err}
			}
			n, err := io.Copy(f, asset.Body)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				os.Remove(output)
				return &ExitError{Code: ExitCLIError, Err: fmt.Errorf("write %s: %w", output, err)}
			}

			e.println(fmt.Sprintf("saved %s (%d bytes)", output, n))
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default <job-id>.mp4)")
	return cmd
}
