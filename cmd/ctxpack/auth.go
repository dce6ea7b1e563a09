package main

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rozetyp/ctxpack/internal/auth"
	clierrors "github.com/rozetyp/ctxpack/internal/errors"
	"github.com/rozetyp/ctxpack/internal/output"
)

func newAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage registry credentials",
		Long:  `Store or clear the registry token ctxpack uses for pull/push.`,
	}

	cmd.AddCommand(newAuthLoginCmd())
	cmd.AddCommand(newAuthLogoutCmd())

	return cmd
}

func newAuthLoginCmd() *cobra.Command {
	var tokenFlag string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store a registry token",
		Long: `Store a registry token in the OS keyring (falling back to a
config-file if the keyring is unavailable) so pull/push don't require
CTXP_TOKEN to be set on every invocation.`,
		Example: `  ctxpack auth login --token ghp_xxx`,
		Args:    noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())

			if env := os.Getenv("CTXP_TOKEN"); env != "" {
				out.Info("CTXP_TOKEN environment variable is set")
				out.Muted("Environment variable takes precedence over stored credentials")
				out.Println()
			}

			if tokenFlag == "" {
				return clierrors.New(clierrors.ExitUsage, "--token is required").
					WithHint("pass the registry token with --token, e.g. ctxpack auth login --token ghp_xxx")
			}

			if err := auth.StoreToken(tokenFlag); err != nil {
				return clierrors.PackError("store credentials", err)
			}

			out.Success("Registry token stored")

			return nil
		},
	}

	cmd.Flags().StringVar(&tokenFlag, "token", "", "registry token to store (prefer CTXP_TOKEN to avoid shell history exposure)")

	return cmd
}

func newAuthLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "logout",
		Short:   "Clear stored credentials",
		Long:    `Remove the registry token cached in the OS keyring and config-file fallback.`,
		Example: `  ctxpack auth logout`,
		Args:    noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())

			if err := auth.DeleteToken(); err != nil {
				if strings.Contains(err.Error(), "not found") {
					out.Muted("No stored credentials found")
					return nil
				}

				return clierrors.PackError("clear credentials", err)
			}

			out.Success("Logged out successfully")

			if os.Getenv("CTXP_TOKEN") != "" {
				out.Println()
				out.Warning("CTXP_TOKEN environment variable is still set")
			}

			return nil
		},
	}
}
