// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/foundriesio/dg-ota/cli/api"
	"github.com/foundriesio/dg-ota/cli/config"
	"github.com/foundriesio/dg-ota/cli/subcommands/commands"
	"github.com/foundriesio/dg-ota/cli/subcommands/devices"
	"github.com/foundriesio/dg-ota/cli/subcommands/login"
	"github.com/foundriesio/dg-ota/cli/subcommands/packages"
	"github.com/foundriesio/dg-ota/cli/subcommands/products"
	"github.com/foundriesio/dg-ota/cli/subcommands/tasks"
	"github.com/foundriesio/dg-ota/context"
)

var rootCmd = &cobra.Command{
	Use:   "otactl",
	Short: "A command line console for the OTA store and its devices",
	Long: `otactl manages products, devices, firmware packages and OTA tasks
on an otad store, and talks to live devices through a broker.

Configuration is stored in $HOME/.config/otactl.yaml`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, _ := cmd.Flags().GetString("log-level")
		log, err := context.InitLogger(level, context.LogFormatText)
		if err != nil {
			return err
		}
		ctx := context.CtxWithLog(cmd.Context(), log)
		cmd.SetContext(ctx)

		// login creates the configuration the other commands need
		if cmd.Name() == "login" {
			return nil
		}

		configPath, err := cmd.Flags().GetString("config")
		if err != nil {
			return fmt.Errorf("failed to get config flag: %w", err)
		}
		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		contextName, err := cmd.Flags().GetString("context")
		if err != nil {
			return fmt.Errorf("failed to get context flag: %w", err)
		}
		appCtx, err := cfg.GetContext(contextName)
		if err != nil {
			return fmt.Errorf("failed to get current context: %w", err)
		}

		ctx = api.CtxWithApi(ctx, api.NewClient(*appCtx))
		ctx = api.CtxWithConfig(ctx, *appCtx)
		cmd.SetContext(ctx)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringP("context", "c", "", "Specify the context to use from the configuration file")
	rootCmd.PersistentFlags().StringP("config", "f", "", "Specify the configuration file to use")
	rootCmd.PersistentFlags().String("log-level", "warning", "Log level: debug, info, warning or error")

	rootCmd.AddCommand(login.LoginCmd)
	rootCmd.AddCommand(products.ProductsCmd)
	rootCmd.AddCommand(commands.CommandsCmd)
	rootCmd.AddCommand(devices.DevicesCmd)
	rootCmd.AddCommand(packages.PackagesCmd)
	rootCmd.AddCommand(tasks.TasksCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
