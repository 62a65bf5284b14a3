package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Exit codes.
const (
	exitCodeOK       = 0
	exitCodeError    = 1
	exitCodeRejected = 2
	exitCodeBadInput = 3
)

// exitError carries a process exit code up to main.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func badInput(format string, args ...any) error {
	return &exitError{code: exitCodeBadInput, err: fmt.Errorf(format, args...)}
}

func exitCode(err error) int {
	if err == nil {
		return exitCodeOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitCodeError
}

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "inspectcheck:", err)
		os.Exit(exitCode(err))
	}
}

func newRootCmd() *cobra.Command {
	var g globalFlags
	root := &cobra.Command{
		Use:           "inspectcheck",
		Short:         "Checklist-driven site inspections with conformity evaluation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.configFile, "config", "", "config file (default: inspectcheck.yaml in the current or a parent directory)")
	root.PersistentFlags().StringVar(&g.dsn, "db", "", "store DSN, overrides store.dsn")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "log level, overrides log.level")

	root.AddCommand(
		newSchemaCmd(&g),
		newNewCmd(&g),
		newApplyCmd(&g),
		newStatusCmd(&g),
		newReportCmd(&g),
		newSubmitCmd(&g),
		newSummarizeCmd(&g),
		newListCmd(&g),
	)
	return root
}
