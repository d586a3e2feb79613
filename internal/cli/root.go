// Package cli provides the command-line interface for tweetstream.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/ppiankov/tweetstream/internal/config"
	"github.com/ppiankov/tweetstream/internal/relay"
	"github.com/spf13/cobra"
)

// Version and Commit are set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
)

// Exit codes.
const (
	ExitOK           = 0
	ExitFailure      = 1
	ExitUsage        = 2
	ExitConfig       = 3
	ExitCredentials  = 4
	ExitDependencies = 5
)

var (
	configPath string
	statePath  string
	humbugRC   string
	noJournal  bool
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "tweetstream",
	Short: "Relay a Twitter timeline into a Humbug stream",
	Long: "tweetstream forwards new tweets from a home timeline to a Humbug stream, one message per tweet, " +
		"and remembers the last relayed tweet so the next run only sends what is new. Run it from cron.",
	Args:          usageArgs(cobra.NoArgs),
	RunE:          relayAction,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("tweetstream %s (%s)\n", Version, Commit)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", config.DefaultConfigPath, "settings file (optional unless given explicitly)")
	pf.StringVar(&statePath, "state-file", "", "state file holding twitter secrets and the cursor (default "+config.DefaultStatePath+")")
	pf.StringVar(&humbugRC, "humbugrc", "", "humbug credential store (default "+config.DefaultHumbugRC+")")
	pf.BoolVar(&noJournal, "no-journal", false, "do not record deliveries in the local journal")
	pf.BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{err: err}
	})
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// ExitCode maps an error returned by Execute to a process exit status.
func ExitCode(err error) int {
	var (
		usage *usageError
		cfg   *relay.ConfigurationError
		cred  *relay.CredentialsError
		dep   *relay.DependencyMissingError
	)
	switch {
	case err == nil:
		return ExitOK
	case errors.As(err, &usage):
		return ExitUsage
	case errors.As(err, &cfg):
		return ExitConfig
	case errors.As(err, &cred):
		return ExitCredentials
	case errors.As(err, &dep):
		return ExitDependencies
	default:
		return ExitFailure
	}
}

// usageError marks a bad invocation. Its message is printed with a hint
// to --help.
type usageError struct {
	err error
}

func (e *usageError) Error() string {
	return e.err.Error() + " (see --help)"
}

func (e *usageError) Unwrap() error { return e.err }

func usageErrorf(format string, args ...any) error {
	return &usageError{err: fmt.Errorf(format, args...)}
}

func usageArgs(check cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := check(cmd, args); err != nil {
			return &usageError{err: err}
		}
		return nil
	}
}

func newLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}
	if verbose {
		opts.Level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
