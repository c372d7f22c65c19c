package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Generate missing contracts",
		Long:  "Generate the contract of every paid transaction that does not have one yet.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer rt.Close()

			n, err := newTransactionManager(rt, nil).ReconcileContracts(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "%d contract(s) generated\n", n)
			return err
		},
	}
}
