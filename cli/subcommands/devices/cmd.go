// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package devices

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/foundriesio/dg-ota/cli/api"
	"github.com/foundriesio/dg-ota/cli/subcommands/common"
	"github.com/foundriesio/dg-ota/storage"
)

var DevicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "Manage devices and talk to them",
	Long: `Commands for managing device records in the OTA store, and for
interacting with live devices through the broker of the current context.`,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List devices",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		product, _ := cmd.Flags().GetString("product")
		devices, err := api.CtxGetApi(cmd.Context()).DevicesList(cmd.Context(), product)
		if err != nil {
			return common.Fail(err)
		}
		rows := make([][]string, 0, len(devices))
		for _, d := range devices {
			rows = append(rows, []string{d.Id, d.DeviceId, d.Name, d.ProductId, common.OrDash(d.Version), common.OrDash(d.IpAddress)})
		}
		return common.Table(cmd.OutOrStdout(), []string{"ID", "DEVICE", "NAME", "PRODUCT", "VERSION", "IP"}, rows)
	},
}

var createCmd = &cobra.Command{
	Use:   "create <device-id> <name>",
	Short: "Register a device",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		d := storage.Device{DeviceId: args[0], Name: args[1]}
		d.ProductId, _ = cmd.Flags().GetString("product")
		d.Code, _ = cmd.Flags().GetString("code")
		d.IpAddress, _ = cmd.Flags().GetString("ip")
		d.Version, _ = cmd.Flags().GetString("version")
		d.Description, _ = cmd.Flags().GetString("description")
		saved, err := api.CtxGetApi(cmd.Context()).DeviceSave(cmd.Context(), d)
		if err != nil {
			return common.Fail(err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Registered device %s (%s)\n", saved.DeviceId, saved.Id)
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a device record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return common.Fail(api.CtxGetApi(cmd.Context()).DeviceDelete(cmd.Context(), args[0]))
	},
}

var eventsCmd = &cobra.Command{
	Use:   "events <device> <task-id>",
	Short: "Print the OTA progress reports a device sent for a task",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		client := api.CtxGetApi(ctx)
		d, err := client.DeviceFind(ctx, args[0])
		if err != nil {
			return common.Fail(err)
		} else if d == nil {
			return fmt.Errorf("device %s not found", args[0])
		}
		events, err := client.DeviceOtaEvents(ctx, d.Id, args[1])
		if err != nil {
			return common.Fail(err)
		}
		return common.PrintJSON(cmd.OutOrStdout(), events)
	},
}

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List agent bindings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		agents, err := api.CtxGetApi(cmd.Context()).AgentDevicesList(cmd.Context())
		if err != nil {
			return common.Fail(err)
		}
		rows := make([][]string, 0, len(agents))
		for _, a := range agents {
			kind := "standard"
			if a.IsCustom() {
				kind = "custom"
			}
			target := "-"
			if a.Target != nil {
				target = a.Target.Label()
			}
			rows = append(rows, []string{a.Id, kind, target, a.Directory, a.EntryName, common.OrDash(a.CondaEnv)})
		}
		return common.Table(cmd.OutOrStdout(), []string{"ID", "KIND", "TARGET", "DIRECTORY", "ENTRY", "ENV"}, rows)
	},
}

var addAgentCmd = &cobra.Command{
	Use:   "add-agent <directory> <entry>",
	Short: "Bind an agent process to a device or to a custom device name",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		a := storage.AgentDevice{Directory: args[0], EntryName: args[1]}
		a.CondaEnv, _ = flags.GetString("conda-env")
		a.StartCommand, _ = flags.GetString("start-command")
		device, _ := flags.GetString("device")
		custom, _ := flags.GetString("custom")
		switch {
		case device != "" && custom != "":
			return fmt.Errorf("--device and --custom are exclusive")
		case custom != "":
			a.Target = storage.CustomAgent{DeviceName: custom}
		case device != "":
			a.Target = storage.StandardDevice{DeviceRef: device}
		default:
			return fmt.Errorf("one of --device or --custom is required")
		}
		saved, err := api.CtxGetApi(cmd.Context()).AgentDeviceSave(cmd.Context(), a)
		if err != nil {
			return common.Fail(err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created agent binding %s for %s\n", saved.Id, saved.Target.Label())
		return nil
	},
}

var deleteAgentCmd = &cobra.Command{
	Use:   "delete-agent <agent-id>",
	Short: "Delete an agent binding",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return common.Fail(api.CtxGetApi(cmd.Context()).AgentDeviceDelete(cmd.Context(), args[0]))
	},
}

func init() {
	listCmd.Flags().String("product", "", "Only list devices of this product")

	createCmd.Flags().String("product", "", "Product the device belongs to")
	createCmd.Flags().String("code", "", "Device code")
	createCmd.Flags().String("ip", "", "IP address")
	createCmd.Flags().String("version", "", "Currently installed firmware version")
	createCmd.Flags().String("description", "", "Free text description")
	cobra.CheckErr(createCmd.MarkFlagRequired("product"))

	addAgentCmd.Flags().String("device", "", "Record id of the device hosting the agent")
	addAgentCmd.Flags().String("custom", "", "Name of a custom device that exists only for the agent")
	addAgentCmd.Flags().String("conda-env", "", "Conda environment to start the agent in")
	addAgentCmd.Flags().String("start-command", "", "Command used instead of the entry")

	DevicesCmd.AddCommand(listCmd, createCmd, deleteCmd, eventsCmd, agentsCmd, addAgentCmd, deleteAgentCmd)
}
