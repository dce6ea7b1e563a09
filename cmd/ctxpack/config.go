package main

import (
	"github.com/spf13/cobra"

	"github.com/rozetyp/ctxpack/internal/config"
	clierrors "github.com/rozetyp/ctxpack/internal/errors"
	"github.com/rozetyp/ctxpack/internal/output"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long:  `View and modify ctxpack configuration settings.`,
	}

	cmd.AddCommand(newConfigListCmd())
	cmd.AddCommand(newConfigGetCmd())
	cmd.AddCommand(newConfigSetCmd())

	return cmd
}

func newConfigListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Short:   "List all configuration settings",
		Long:    `List every configuration key ctxpack reads, with its current value.`,
		Example: `  ctxpack config list`,
		Args:    noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())
			cfg := config.Load()
			settings := cfg.All()

			if reg, ok := settings["registry"].(map[string]any); ok {
				if tok, ok := reg["token"].(string); ok && tok != "" {
					reg["token"] = "[REDACTED]"
				}
			}

			if out.JSON {
				return out.PrintJSON(settings)
			}

			if len(settings) == 0 {
				out.Muted("No configuration set.")
				out.Println()
				out.Println("Available settings:")
				out.Print("  registry.url       OCI registry host (default: %s)\n", config.DefaultRegistryURL)
				out.Print("  registry.repo      Registry repository path (required for pull/push)\n")
				out.Print("  registry.user      Registry user/namespace (default: %s)\n", config.DefaultUser)
				out.Print("  registry.token     Registry credential (prefer CTXP_TOKEN or the system keyring)\n")
				out.Print("  cache.dir          Local cache root directory\n")
				out.Print("  http.timeout       Per-request HTTP deadline (default: %s)\n", config.DefaultHTTPTimeout)
				out.Print("  download.timeout   Total streaming deadline for pull/push (default: %s)\n", config.DefaultDownloadTimeout)
				out.Print("  log.level          Structured log level (default: %s)\n", config.DefaultLogLevel)
				out.Print("  log.format         Structured log encoding (default: %s)\n", config.DefaultLogFormat)

				return nil
			}

			for key, value := range settings {
				out.Print("%s = %v\n", key, value)
			}

			return nil
		},
	}
}

func newConfigGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "get <key>",
		Short:   "Get a configuration value",
		Long:    `Print the current value of a single configuration key.`,
		Example: `  ctxpack config get registry.repo`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())
			key := args[0]
			cfg := config.Load()
			value := cfg.Get(key)

			if value == nil {
				out.Muted("%s is not set", key)
				return nil
			}

			out.Print("%s = %v\n", key, value)

			return nil
		},
	}
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "set <key> <value>",
		Short:   "Set a configuration value",
		Long:    `Persist a configuration key/value pair to the config file.`,
		Example: `  ctxpack config set registry.repo myorg/pipeline-artifacts`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())
			key, value := args[0], args[1]
			cfg := config.Load()

			if err := cfg.Set(key, value); err != nil {
				return clierrors.PackError("set config", err)
			}

			out.Success("Set %s = %s", key, value)

			return nil
		},
	}
}
