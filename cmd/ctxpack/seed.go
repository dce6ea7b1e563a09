package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/rozetyp/ctxpack/internal/output"
)

func newSeedCmd() *cobra.Command {
	var (
		contractPath string
		user         string
	)

	cmd := &cobra.Command{
		Use:   "seed <folder>",
		Short: "Cache a locally-produced folder under its derived URI",
		Long: `seed derives the URI of a contract, then copies folder into the
local cache under that identity, recording the current user and host
as provenance. Run push afterward to publish the result to a registry.`,
		Example: `  ctxpack seed ./output --contract contract.json`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())
			folder := args[0]

			c, err := loadContract(contractPath)
			if err != nil {
				return err
			}

			co, err := newCoordinator()
			if err != nil {
				return err
			}

			uri, err := co.Seed(cmd.Context(), folder, c, user, out)
			if err != nil {
				return err
			}

			if out.JSON {
				return out.PrintJSON(map[string]string{"uri": uri})
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&contractPath, "contract", "", "Path to the contract file (JSON or YAML)")
	_ = cmd.MarkFlagRequired("contract")
	cmd.Flags().StringVar(&user, "user", os.Getenv("USER"), "User name recorded in the cache entry's provenance")

	return cmd
}
