package main

import (
	"fmt"

	"github.com/argus-labs/beacon/pkg/ledger"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

func newSeedCmd() *cobra.Command {
	var (
		force    bool
		recordID string
		shopID   string
		catalog  string
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Write the default character and shop records to the ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			items, err := loadCatalog(catalog)
			if err != nil {
				return err
			}

			rt, err := newRuntime(ctx, "beacon-seed", true)
			if err != nil {
				return err
			}
			defer rt.close()

			l := ledger.New(rt.store, recordID, shopID)
			wrote, err := l.Seed(ctx, ledger.DefaultCharacter(), force)
			if err != nil {
				return eris.Wrap(err, "failed to seed character")
			}
			report(cmd, "character", recordID, wrote)

			wrote, err = l.SeedShop(ctx, items.Prices(), force)
			if err != nil {
				return eris.Wrap(err, "failed to seed shop")
			}
			report(cmd, "shop", shopID, wrote)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing records")
	cmd.Flags().StringVar(&recordID, "record", "character", "character record id")
	cmd.Flags().StringVar(&shopID, "shop", "shop", "shop record id")
	cmd.Flags().StringVar(&catalog, "catalog", "", "JSON item table (default: built-in items)")
	return cmd
}

func report(cmd *cobra.Command, what, id string, wrote bool) {
	if wrote {
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s record %q\n", what, id)
		return
	}
	fmt.Fprintf(cmd.OutOrStdout(), "kept existing %s record %q (use --force to overwrite)\n", what, id)
}
