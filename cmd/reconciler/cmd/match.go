package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cod-reconciler/internal/matcher"
	"cod-reconciler/internal/reconciler"
	"cod-reconciler/pkg/errors"
	"cod-reconciler/pkg/logger"

	"github.com/spf13/cobra"
)

// Match targets
const (
	targetOrders        = "orders"
	targetReversals     = "reversals"
	targetBank          = "bank"
	targetBankPayments  = "bank-payments"
	targetBankReversals = "bank-reversals"
	targetAll           = "all"
)

var matchTargets = []string{targetOrders, targetReversals, targetBank, targetBankPayments, targetBankReversals, targetAll}

// Flags for the match command
var (
	dayTolerance int
	showProgress bool
)

var matchCmd = &cobra.Command{
	Use:   "match [orders|reversals|bank|bank-payments|bank-reversals|all]",
	Short: "Run one or more matching passes",
	Long: `Match runs reconciliation passes against the database.

Targets:
  orders          link orders to invoices and refresh review candidates
  reversals       link storno invoices and recompute open balances
  bank            bank-payments followed by bank-reversals
  bank-payments   link bank credits to courier payout records
  bank-reversals  link bank refunds to the invoices they reverse
  all             reversals, orders, bank-payments, bank-reversals

Examples:
  reconciler match all --progress
  reconciler match bank --day-tolerance 3 --output-format json`,
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: matchTargets,
	PreRunE:   validateMatchFlags,
	RunE:      runMatch,
}

func init() {
	rootCmd.AddCommand(matchCmd)

	matchCmd.Flags().IntVarP(&dayTolerance, "day-tolerance", "d", -1, "days between posting and pickup for bank payments (default from bank.day_tolerance)")
	matchCmd.Flags().BoolVar(&showProgress, "progress", false, "log progress while matching")
}

func validateMatchFlags(cmd *cobra.Command, args []string) error {
	if dayTolerance < -1 {
		return errors.ValidationError(errors.CodeOutOfRange, "day-tolerance", dayTolerance, nil).
			WithSuggestion("use a non-negative number of days, or omit the flag")
	}
	return nil
}

func runMatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	var progressFn matcher.ProgressFunc
	var tracker *logger.ProgressTracker
	if showProgress {
		tracker = logger.NewProgressTracker(logger.ProgressConfig{
			Operation: "match " + args[0],
			Logger:    sess.log,
		})
		progressFn = tracker.Report
	}

	run, err := runTarget(ctx, sess.service, args[0], dayTolerance, progressFn)
	if tracker != nil {
		tracker.Complete()
	}
	if err != nil && run != nil && len(run.Passes) > 0 {
		sess.log.WithFields(logger.Fields{
			"run_id":    run.RunID,
			"committed": len(run.Passes),
		}).Warn("Run stopped; earlier passes stay committed and a re-run will finish the rest")
	}
	if run != nil && len(run.Passes) > 0 {
		if werr := writeRun(sess, run); werr != nil && err == nil {
			err = werr
		}
	}
	return err
}

// passRunner is the shape shared by the single-pass service methods
type passRunner func(ctx context.Context, progressFn matcher.ProgressFunc) (*reconciler.PassSummary, error)

// runTarget runs the passes named by target and collects their summaries.
// On failure the summaries of the passes that completed are still returned.
func runTarget(ctx context.Context, svc *reconciler.Service, target string, dayTol int, progressFn matcher.ProgressFunc) (*reconciler.RunSummary, error) {
	if target == targetAll {
		return svc.RunAll(ctx, dayTol, progressFn)
	}

	payments := func(ctx context.Context, fn matcher.ProgressFunc) (*reconciler.PassSummary, error) {
		return svc.MatchBankPayments(ctx, dayTol, fn)
	}

	var passes []passRunner
	switch target {
	case targetOrders:
		passes = []passRunner{svc.MatchOrdersToInvoices}
	case targetReversals:
		passes = []passRunner{svc.LinkReversals}
	case targetBank:
		passes = []passRunner{payments, svc.MatchBankReversals}
	case targetBankPayments:
		passes = []passRunner{payments}
	case targetBankReversals:
		passes = []passRunner{svc.MatchBankReversals}
	default:
		return nil, errors.ValidationError(errors.CodeOutOfRange, "target", target, nil).
			WithSuggestion(fmt.Sprintf("use one of %v", matchTargets))
	}

	started := time.Now()
	run := &reconciler.RunSummary{StartedAt: started.UTC()}
	for _, pass := range passes {
		summary, err := pass(ctx, progressFn)
		if summary != nil {
			if run.RunID == "" {
				run.RunID = summary.RunID
			}
			run.Passes = append(run.Passes, summary)
		}
		if err != nil {
			run.Duration = time.Since(started)
			return run, err
		}
	}
	run.Duration = time.Since(started)
	return run, nil
}

func writeRun(sess *session, run *reconciler.RunSummary) error {
	out, err := output()
	if err != nil {
		return err
	}
	defer out.Close()

	if err := sess.report.WriteRun(run, out); err != nil {
		return errors.InternalError(errors.CodeUnexpectedError, "write report", err)
	}
	return nil
}
