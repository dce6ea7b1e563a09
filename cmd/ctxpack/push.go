package main

import (
	"github.com/spf13/cobra"

	"github.com/rozetyp/ctxpack/internal/output"
)

func newPushCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "push <uri>",
		Short: "Publish a cached artifact to the registry",
		Long: `push uploads the cache entry identified by uri to the configured
OCI registry. The artifact must already be cached — seed or pull it
first.`,
		Example: `  ctxpack push ctx://sha256:7a1e3c...`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())
			uri := args[0]

			co, err := newCoordinator()
			if err != nil {
				return err
			}

			if err := co.Push(cmd.Context(), uri, out); err != nil {
				return err
			}

			if out.JSON {
				return out.PrintJSON(map[string]string{"uri": uri, "status": "pushed"})
			}

			return nil
		},
	}
}
