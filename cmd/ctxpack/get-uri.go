package main

import (
	"github.com/spf13/cobra"

	"github.com/rozetyp/ctxpack/internal/output"
)

func newGetURICmd() *cobra.Command {
	var contractPath string

	cmd := &cobra.Command{
		Use:   "get-uri",
		Short: "Compute the content-addressed URI for a contract",
		Long: `get-uri derives the ctx://sha256:<hex> identity of a contract
without touching the local cache or the registry. Any inputs.path
entries in the contract are hashed on disk as part of the derivation.`,
		Example: `  ctxpack get-uri --contract contract.json`,
		Args:    noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())

			c, err := loadContract(contractPath)
			if err != nil {
				return err
			}

			co, err := newCoordinator()
			if err != nil {
				return err
			}

			uri, err := co.GetURI(cmd.Context(), c)
			if err != nil {
				return err
			}

			if out.JSON {
				return out.PrintJSON(map[string]string{"uri": uri})
			}

			out.Print("%s\n", uri)

			return nil
		},
	}

	cmd.Flags().StringVar(&contractPath, "contract", "", "Path to the contract file (JSON or YAML)")
	_ = cmd.MarkFlagRequired("contract")

	return cmd
}
