package cmd

import (
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"cod-reconciler/pkg/errors"
	"cod-reconciler/pkg/logger"

	"github.com/go-sql-driver/mysql"
	"github.com/spf13/viper"
)

// CLIErrorHandler provides user-friendly error handling for CLI operations
type CLIErrorHandler struct {
	logger  logger.Logger
	verbose bool
	out     io.Writer
}

// NewCLIErrorHandler creates a new CLI error handler
func NewCLIErrorHandler() *CLIErrorHandler {
	return &CLIErrorHandler{
		logger:  logger.GetGlobalLogger().WithComponent("cli"),
		verbose: viper.GetBool("verbose"),
		out:     os.Stderr,
	}
}

// HandleError prints err and returns the process exit code
func (h *CLIErrorHandler) HandleError(err error) int {
	if err == nil {
		return 0
	}

	h.logger.WithError(err).Debug("Command failed")

	if reconcilerErr, ok := errors.AsReconcilerError(err); ok {
		return h.handleReconcilerError(reconcilerErr)
	}
	return h.handleGenericError(err)
}

func (h *CLIErrorHandler) handleReconcilerError(err *errors.ReconcilerError) int {
	fmt.Fprintf(h.out, "Error: %s\n", err.Message)

	if len(err.Context) > 0 {
		keys := make([]string, 0, len(err.Context))
		for key := range err.Context {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		fmt.Fprintf(h.out, "\nContext:\n")
		for _, key := range keys {
			fmt.Fprintf(h.out, "  %s: %v\n", key, err.Context[key])
		}
	}

	if err.Suggestion != "" {
		fmt.Fprintf(h.out, "\nSuggestion: %s\n", err.Suggestion)
	}

	fmt.Fprintf(h.out, "\n%s\n", h.getCategoryHelp(err.Category))

	if h.verbose && err.Cause != nil {
		fmt.Fprintf(h.out, "\nUnderlying error: %v\n", err.Cause)
	}

	return err.GetExitCode()
}

// handleGenericError covers errors raised outside the service, mostly cobra
// argument errors and driver errors that escaped classification
func (h *CLIErrorHandler) handleGenericError(err error) int {
	var mysqlErr *mysql.MySQLError
	if stderrors.As(err, &mysqlErr) {
		fmt.Fprintf(h.out, "Error: database rejected the request (%d): %s\n", mysqlErr.Number, mysqlErr.Message)
		fmt.Fprintf(h.out, "Suggestion: check the DSN, the user's grants and that the schema is migrated\n")
		return 6
	}

	if isUsageError(err) {
		fmt.Fprintf(h.out, "Error: %v\n", err)
		fmt.Fprintf(h.out, "Run 'reconciler --help' for usage.\n")
		return 2
	}

	fmt.Fprintf(h.out, "Error: %v\n", err)
	if !h.verbose {
		fmt.Fprintf(h.out, "\nRun with --verbose for more details\n")
	}
	return 1
}

func (h *CLIErrorHandler) getCategoryHelp(category errors.ErrorCategory) string {
	switch category {
	case errors.CategoryValidation:
		return `Validation error help:
• Record ids are positive integers
• Check the command arguments with 'reconciler <command> --help'`

	case errors.CategoryConfiguration:
		return `Configuration error help:
• Set store.dsn in the config file, a .env file or RECONCILER_STORE_DSN
• Verify configuration file syntax if using --config
• Environment variables use the RECONCILER_ prefix, e.g. RECONCILER_MATCHING_DATE_WINDOW_DAYS`

	case errors.CategoryReconciliation:
		return `Reconciliation error help:
• Every pass is idempotent; re-running it is safe
• Run 'reconciler review list' to see the current candidates`

	case errors.CategoryStorage:
		return `Storage error help:
• Check that the database is reachable and the DSN is correct
• Run 'reconciler migrate' if the reconciliation tables are missing
• Nothing from the failed transaction was committed; re-run the pass`

	default:
		return `For more help:
• Use 'reconciler --help' for general help
• Use 'reconciler <command> --help' for command-specific help`
	}
}

// cobra reports argument and flag problems as plain errors
func isUsageError(err error) bool {
	msg := err.Error()
	for _, prefix := range []string{"unknown command", "unknown flag", "unknown shorthand flag", "invalid argument", "accepts ", "requires at least", "flag needs an argument"} {
		if strings.HasPrefix(msg, prefix) {
			return true
		}
	}
	return false
}
