// Package main is the entry point for the decodeguard binary.
// It runs the governed message host and validates configuration files.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/polisai/decodeguard/pkg/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd creates the root command for decodeguard
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "decodeguard",
		Short: "Decode-time governor for a network message host",
		Long: `decodeguard runs a TCP message host whose decode path is governed:
every connection is charged the time its frames take to decode, and a
connection that uses a full second of decode time within one second is
disconnected with "exceeded net processing time".`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newServeCmd(), newValidateCmd())
	return rootCmd
}

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate a configuration file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := cmd.Flags().GetString("config")
			if err != nil {
				return fmt.Errorf("failed to get config flag: %w", err)
			}

			cfg, err := config.Load(path)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "configuration OK: listen=%s admin=%s symbol=%s hook_enabled=%t\n",
				cfg.Server.ListenAddress, cfg.Server.AdminAddress, cfg.Hook.Symbol, cfg.Hook.Enabled)
			return nil
		},
	}

	cmd.Flags().StringP("config", "c", "", "Path to configuration file (YAML)")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}
