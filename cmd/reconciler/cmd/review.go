package cmd

import (
	"context"
	"fmt"
	"strconv"

	"cod-reconciler/internal/models"
	"cod-reconciler/internal/reporter"
	"cod-reconciler/pkg/errors"

	"github.com/spf13/cobra"
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Work through matches that need a human decision",
	Long: `Review lists the candidates and needs-invoice flags left by order matching
and applies reviewer decisions. Every decision is written to the action log.

Examples:
  reconciler review list
  reconciler review confirm 17
  reconciler review needs-invoice 18
  reconciler review accept 42 1017`,
}

var reviewListCmd = &cobra.Command{
	Use:   "list",
	Short: "List ranked candidates and orders needing an invoice",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(ctx context.Context, sess *session) error {
			cands, flagged, err := sess.service.PendingReview(ctx)
			if err != nil {
				return err
			}
			out, err := output()
			if err != nil {
				return err
			}
			defer out.Close()

			queue := &reporter.ReviewQueue{Candidates: cands, NeedsInvoice: flagged}
			if err := sess.report.WriteReviewQueue(queue, out); err != nil {
				return errors.InternalError(errors.CodeUnexpectedError, "write review queue", err)
			}
			return nil
		})
	},
}

var reviewConfirmCmd = &cobra.Command{
	Use:   "confirm MATCH_ID",
	Short: "Confirm a match and settle its invoice",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		matchID, err := parseID("match id", args[0])
		if err != nil {
			return err
		}
		return withSession(func(ctx context.Context, sess *session) error {
			m, err := sess.service.ConfirmMatch(ctx, matchID)
			if err != nil {
				return err
			}
			printMatch(cmd, "Confirmed", m)
			return nil
		})
	},
}

var reviewNeedsInvoiceCmd = &cobra.Command{
	Use:   "needs-invoice MATCH_ID",
	Short: "Reject a match; the order still needs its own invoice",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		matchID, err := parseID("match id", args[0])
		if err != nil {
			return err
		}
		return withSession(func(ctx context.Context, sess *session) error {
			m, err := sess.service.MarkNeedsInvoice(ctx, matchID)
			if err != nil {
				return err
			}
			printMatch(cmd, "Marked needs-invoice", m)
			return nil
		})
	},
}

var reviewAcceptCmd = &cobra.Command{
	Use:   "accept ORDER_ID INVOICE_ID",
	Short: "Accept one of an order's ranked candidates",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		orderID, err := parseID("order id", args[0])
		if err != nil {
			return err
		}
		invoiceID, err := parseID("invoice id", args[1])
		if err != nil {
			return err
		}
		return withSession(func(ctx context.Context, sess *session) error {
			m, err := sess.service.AcceptCandidate(ctx, orderID, invoiceID)
			if err != nil {
				return err
			}
			printMatch(cmd, "Accepted", m)
			return nil
		})
	},
}

var closeInvoicesCmd = &cobra.Command{
	Use:   "close-invoices",
	Short: "Settle every invoice that has a confirmed match",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(ctx context.Context, sess *session) error {
			closed, err := sess.service.CloseInvoices(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Closed %d invoices\n", closed)
			return nil
		})
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the reconciliation tables",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(ctx context.Context, sess *session) error {
			if err := sess.store.Migrate(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Schema is up to date")
			return nil
		})
	},
}

func init() {
	reviewCmd.AddCommand(reviewListCmd, reviewConfirmCmd, reviewNeedsInvoiceCmd, reviewAcceptCmd)
	rootCmd.AddCommand(reviewCmd, closeInvoicesCmd, migrateCmd)
}

// withSession opens a session for the duration of fn
func withSession(fn func(ctx context.Context, sess *session) error) error {
	ctx := context.Background()
	sess, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()
	return fn(ctx, sess)
}

// parseID reads a positive record id from a command argument
func parseID(field, arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, errors.ValidationError(errors.CodeInvalidFormat, field, arg, err)
	}
	if id <= 0 {
		return 0, errors.ValidationError(errors.CodeOutOfRange, field, arg, nil).
			WithSuggestion("record ids are positive integers")
	}
	return id, nil
}

func printMatch(cmd *cobra.Command, verb string, m *models.MatchRecord) {
	fmt.Fprintf(cmd.OutOrStdout(), "%s: order %d -> invoice %d (score %d, %s, %s)\n",
		verb, m.DemandID, m.SettlementID, m.Score, m.Method, m.Status)
}
