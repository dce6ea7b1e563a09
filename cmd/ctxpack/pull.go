package main

import (
	"github.com/spf13/cobra"

	"github.com/rozetyp/ctxpack/internal/output"
)

func newPullCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pull <uri>",
		Short: "Fetch a cached or remote artifact",
		Long: `pull returns the local path of the artifact identified by uri. If
it is already in the local cache, pull performs no network I/O. On a
miss, pull downloads it from the configured registry and installs it.`,
		Example: `  ctxpack pull ctx://sha256:7a1e3c...`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())
			uri := args[0]

			co, err := newCoordinator()
			if err != nil {
				return err
			}

			path, err := co.Pull(cmd.Context(), uri, out)
			if err != nil {
				return err
			}

			if out.JSON {
				return out.PrintJSON(map[string]string{"uri": uri, "path": path})
			}

			out.Print("Artifact available at: %s\n", path)

			return nil
		},
	}
}
