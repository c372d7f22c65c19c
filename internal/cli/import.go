package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"immotech/server/internal/processor"
)

func newImportCmd() *cobra.Command {
	var owner string

	cmd := &cobra.Command{
		Use:   "import <file.json|->",
		Short: "Bulk import listings",
		Long:  "Upsert the listings of a JSON array file (or stdin with -) in batches. Listings without created_by are attributed to --owner.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var in io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("failed to open import file: %w", err)
				}
				defer f.Close()
				in = f
			}

			rt, err := openRuntime(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer rt.Close()

			result, err := processor.NewImporter(rt.store, rt.cfg, rt.logger).Import(cmd.Context(), in, owner)
			if result != nil {
				if perr := printJSON(cmd.OutOrStdout(), result); perr != nil {
					return perr
				}
			}
			if err != nil {
				return err
			}
			if result.Failed > 0 {
				return fmt.Errorf("%d listing(s) could not be written", result.Failed)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "user id credited with listings that name no owner")

	return cmd
}
