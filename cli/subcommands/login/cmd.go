// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package login

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/foundriesio/dg-ota/cli/config"
	"github.com/foundriesio/dg-ota/correlation"
)

var LoginCmd = &cobra.Command{
	Use:   "login <context-name> <server-url>",
	Short: "Configure authentication for an OTA store",
	Long: `Configure a context holding the store URL, its API token and the
broker devices are reachable through.

The configuration is saved to ~/.config/otactl.yaml.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		token, _ := flags.GetString("token")
		setDefault, _ := flags.GetBool("set-default")
		configPath, _ := flags.GetString("config")

		appCtx := config.Context{URL: args[1], Token: token}
		appCtx.Broker, _ = flags.GetString("broker")
		appCtx.ClientId, _ = flags.GetString("client-id")
		appCtx.Username, _ = flags.GetString("username")
		appCtx.Password, _ = flags.GetString("password")
		appCtx.ResponseTimeout, _ = flags.GetDuration("response-timeout")

		return login(cmd.OutOrStdout(), configPath, args[0], appCtx, setDefault)
	},
}

func init() {
	LoginCmd.Flags().String("token", "", "API token created with `otad token-create`")
	LoginCmd.Flags().String("broker", "", "Broker URL devices are reachable through, e.g. tcp://localhost:1883 or nats://localhost:4222")
	LoginCmd.Flags().String("client-id", "otactl", "Client id presented to the broker")
	LoginCmd.Flags().String("username", "", "Broker user")
	LoginCmd.Flags().String("password", "", "Broker password")
	LoginCmd.Flags().Duration("response-timeout", correlation.DefaultTimeout, "How long to wait for a device to answer")
	LoginCmd.Flags().Bool("set-default", true, "Set this context as the default")
	LoginCmd.Flags().String("config", "", "Specify the configuration file to use")
	cobra.CheckErr(LoginCmd.MarkFlagRequired("token"))
}

func login(out io.Writer, configPath, contextName string, appCtx config.Context, setDefault bool) error {
	if appCtx.Token == "" {
		return fmt.Errorf("--token is required")
	} else if appCtx.ResponseTimeout <= 0 {
		return fmt.Errorf("--response-timeout must be positive")
	} else if err := appCtx.Validate(); err != nil {
		return fmt.Errorf("invalid context '%s': %w", contextName, err)
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg = &config.Config{}
	}

	cfg.SetContext(contextName, appCtx)
	if setDefault {
		cfg.ActiveContext = contextName
	}
	if err := config.SaveConfig(configPath, cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Fprintf(out, "Successfully configured context '%s'\n", contextName)
	fmt.Fprintf(out, "  Server URL: %s\n", appCtx.URL)
	if appCtx.Broker != "" {
		fmt.Fprintf(out, "  Broker: %s (timeout %s)\n", appCtx.Broker, appCtx.ResponseTimeout.Round(time.Second))
	}
	if setDefault {
		fmt.Fprintf(out, "  Set as default context\n")
	}
	return nil
}
