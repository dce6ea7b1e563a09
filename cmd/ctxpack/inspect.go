package main

import (
	"github.com/spf13/cobra"

	"github.com/rozetyp/ctxpack/internal/output"
)

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <uri>",
		Short: "Show the manifest of a cached artifact",
		Long: `inspect prints the manifest.json recorded for uri. A cache miss is
reported, not treated as an error: inspect is a read-only query.`,
		Example: `  ctxpack inspect ctx://sha256:7a1e3c...`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())
			uri := args[0]

			co, err := newCoordinator()
			if err != nil {
				return err
			}

			manifest, ok, err := co.Inspect(uri)
			if err != nil {
				return err
			}

			if !ok {
				if out.JSON {
					return out.PrintJSON(map[string]any{"uri": uri, "cached": false})
				}

				out.Muted("%s not in local cache", uri)

				return nil
			}

			if out.JSON {
				return out.PrintJSON(manifest)
			}

			out.Print("uri:       %s\n", manifest.URI)
			out.Print("user:      %s\n", manifest.Provenance.User)
			out.Print("host:      %s\n", manifest.Provenance.Host)
			out.Print("sealed at: %s\n", manifest.Provenance.Timestamp.Format("2006-01-02T15:04:05Z07:00"))

			return nil
		},
	}
}
