package cmd

import (
	"context"

	"cod-reconciler/pkg/errors"

	"github.com/spf13/cobra"
)

var customerKeysCmd = &cobra.Command{
	Use:   "customer-keys",
	Short: "Recompute the customer key of every order",
	Long: `Customer-keys derives each order's customer key from its phone, email,
name and city and stores the keys that changed. Phones that are not valid
Serbian numbers are counted in the report; their keys are still derived.

Examples:
  reconciler customer-keys
  reconciler customer-keys --output-format json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(ctx context.Context, sess *session) error {
			summary, err := sess.service.RecomputeCustomerKeys(ctx)
			if err != nil {
				return err
			}
			out, err := output()
			if err != nil {
				return err
			}
			defer out.Close()

			if err := sess.report.WritePass(summary, out); err != nil {
				return errors.InternalError(errors.CodeUnexpectedError, "write report", err)
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(customerKeysCmd)
}
