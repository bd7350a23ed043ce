// Package cmd implements the annex CLI. Each pipeline daemon is a
// subcommand over a shared runtime built once at startup.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "annex",
	Short: "Annotation pipeline daemons",
	Long: `Annex runs the annotation pipeline daemons: the annotator consumes
job requests and drives the job lifecycle, the archiver and thawd serve the
fan-out subscription endpoints for cold-storage tiering, the restorer lands
thawed results back in warm storage, and the notifier emails job owners.

Configuration comes from annex.yaml (or $ANNEX_CONFIG) and ANNEX_* environment
variables.

Example:
  annex annotator
  annex archiver --port 5001
  annex thawd --port 5002`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var logLevel string

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override logging level (debug|info|warn|error)")
}

// cliError carries an exit code through cobra back to Execute.
type cliError struct {
	code    int
	message string
	err     error
}

func (e *cliError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.message, e.err)
	}
	return e.message
}

func (e *cliError) Unwrap() error {
	return e.err
}

// exitError wraps err with a foundry exit code and an operator-facing
// message.
func exitError[C ~int](code C, message string, err error) error {
	return &cliError{code: int(code), message: message, err: err}
}

// Execute runs the CLI and exits the process with the command's code.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		if ce, ok := err.(*cliError); ok {
			os.Exit(ce.code)
		}
		os.Exit(1)
	}
}
