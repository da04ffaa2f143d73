// Package cli implements genctl, a terminal client for the generation provider.
package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/makeasinger/videogen/internal/client"
	"github.com/makeasinger/videogen/internal/config"
	"github.com/makeasinger/videogen/internal/logging"
)

const (
	ExitOK         = 0
	ExitCLIError   = 1
	ExitFailed     = 3
	ExitModeration = 4
	ExitSuspended  = 5
	ExitLocked     = 6
)

// ExitError wraps an error with a process exit code.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// env carries the resolved configuration to subcommands.
type env struct {
	v      *viper.Viper
	cfg    *config.Config
	logger zerolog.Logger
	jobs   *client.JobClient
	out    io.Writer
}

// NewRootCmd builds the command tree. Flags take precedence over the
// environment, which takes precedence over defaults.
func NewRootCmd() *cobra.Command {
	e := &env{v: viper.New()}

	root := &cobra.Command{
		Use:           "genctl",
		Short:         "Submit and follow video generation jobs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return e.load(cmd)
		},
	}

	bindGlobalFlags(root.PersistentFlags())

	root.AddCommand(newSubmitCmd(e))
	root.AddCommand(newFollowCmd(e))
	root.AddCommand(newProgressCmd(e))
	root.AddCommand(newDownloadCmd(e))
	return root
}

func bindGlobalFlags(fs *pflag.FlagSet) {
	fs.String("provider-url", "", "Provider base URL")
	fs.String("api-key", "", "Provider API key")
	fs.String("model", "", "Model name")
	fs.Duration("poll-interval", 0, "Status poll interval")
	fs.Duration("poll-timeout", 0, "Give up polling after this long")
	fs.BoolP("verbose", "v", false, "Log controller activity to stderr")
}

var flagKeys = map[string]string{
	"provider-url":  "provider.base_url",
	"api-key":       "provider.api_key",
	"model":         "provider.model",
	"poll-interval": "poll.interval",
	"poll-timeout":  "poll.timeout",
}

func (e *env) load(cmd *cobra.Command) error {
	config.SetDefaults(e.v)
	e.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	e.v.AutomaticEnv()

	flags := cmd.Flags()
	for flag, key := range flagKeys {
		// Unset flags must not shadow the environment with their zero value.
		if f := flags.Lookup(flag); f != nil && f.Changed {
			if err := e.v.BindPFlag(key, f); err != nil {
				return &ExitError{Code: ExitCLIError, Err: err}
			}
		}
	}

	e.cfg = config.FromViper(e.v)

	level := "warn"
	if verbose, _ := flags.GetBool("verbose"); verbose {
		level = "debug"
	}
	e.logger = logging.NewWithWriter(cmd.ErrOrStderr(), "development", level)
	e.jobs = client.NewJobClient(&e.cfg.Provider, e.logger)
	e.out = cmd.OutOrStdout()
	return nil
}

// Execute runs the CLI with the provided context.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

func (e *env) println(a ...interface{}) {
	fmt.Fprintln(e.out, a...)
}
