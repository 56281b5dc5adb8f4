// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package commands

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/foundriesio/dg-ota/catalog"
	"github.com/foundriesio/dg-ota/cli/api"
	"github.com/foundriesio/dg-ota/cli/subcommands/common"
	"github.com/foundriesio/dg-ota/errs"
	"github.com/foundriesio/dg-ota/storage"
)

var CommandsCmd = &cobra.Command{
	Use:   "commands",
	Short: "Manage the commands a product accepts",
}

var listCmd = &cobra.Command{
	Use:   "list <product-id>",
	Short: "List the commands of a product",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmds, err := api.CtxGetApi(cmd.Context()).CommandsList(cmd.Context(), args[0])
		if err != nil {
			return common.Fail(err)
		}
		rows := make([][]string, 0, len(cmds))
		for _, c := range cmds {
			rows = append(rows, []string{c.Id, c.Name, paramNames(c.ReqParams), paramNames(c.ResParams)})
		}
		return common.Table(cmd.OutOrStdout(), []string{"ID", "NAME", "REQUEST", "RESPONSE"}, rows)
	},
}

var showCmd = &cobra.Command{
	Use:   "show <command-id>",
	Short: "Show a command with its parameters",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := api.CtxGetApi(cmd.Context()).CommandGet(cmd.Context(), args[0])
		if err != nil {
			return common.Fail(err)
		} else if c == nil {
			return fmt.Errorf("command %s not found", args[0])
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Command: %s (%s)\n", c.Name, c.Id)
		if c.RequestUrl != "" {
			fmt.Fprintf(out, "Forward: %s %s\n", common.OrDash(c.RequestMethod), c.RequestUrl)
		}
		var rows [][]string
		for dir, params := range map[string][]storage.Param{"req": c.ReqParams, "res": c.ResParams} {
			for _, p := range params {
				rows = append(rows, []string{dir, p.Id, p.Name, string(p.Type), rangeSpec(p.DataRange)})
			}
		}
		return common.Table(out, []string{"DIR", "ID", "NAME", "TYPE", "RANGE"}, rows)
	},
}

var saveCmd = &cobra.Command{
	Use:   "save <product-id> <name>",
	Short: "Create a command or edit an existing one",
	Long: `Create a command, or edit the one given with --id.

Parameters are given as name:type[:min:max], e.g. --req speed:int:0:100.
A parameter named like an existing one replaces its type and range.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		client := api.CtxGetApi(ctx)
		flags := cmd.Flags()

		editor := catalog.NewCommandEditor(args[0])
		if id, _ := flags.GetString("id"); id != "" {
			existing, err := client.CommandGet(ctx, id)
			if err != nil {
				return common.Fail(err)
			} else if existing == nil {
				return fmt.Errorf("command %s not found", id)
			}
			editor.Load(*existing)
		}

		var e edits
		e.name = args[1]
		e.url, _ = flags.GetString("request-url")
		e.method, _ = flags.GetString("request-method")
		e.req, _ = flags.GetStringArray("req")
		e.res, _ = flags.GetStringArray("res")
		e.dropReq, _ = flags.GetStringArray("drop-req")
		e.dropRes, _ = flags.GetStringArray("drop-res")
		if err := e.apply(editor); err != nil {
			return common.Fail(err)
		}

		payload, err := editor.Payload()
		if err != nil {
			return common.Fail(err)
		}
		saved, err := client.CommandSave(ctx, payload)
		if err != nil {
			return common.Fail(err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Saved command %s (%s)\n", saved.Name, saved.Id)
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <command-id>",
	Short: "Delete a command and its parameters",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return common.Fail(api.CtxGetApi(cmd.Context()).CommandDelete(cmd.Context(), args[0]))
	},
}

func init() {
	saveCmd.Flags().String("id", "", "Id of the command to edit")
	saveCmd.Flags().String("request-url", "", "URL the device agent forwards the command to")
	saveCmd.Flags().String("request-method", "", "HTTP method the device agent forwards with")
	saveCmd.Flags().StringArray("req", nil, "Request parameter name:type[:min:max]")
	saveCmd.Flags().StringArray("res", nil, "Response parameter name:type[:min:max]")
	saveCmd.Flags().StringArray("drop-req", nil, "Name of a request parameter to remove")
	saveCmd.Flags().StringArray("drop-res", nil, "Name of a response parameter to remove")

	CommandsCmd.AddCommand(listCmd, showCmd, saveCmd, deleteCmd)
}

type edits struct {
	name, url, method string
	req, res          []string
	dropReq, dropRes  []string
}

func (e edits) apply(editor *catalog.CommandEditor) error {
	editor.Name = e.name
	if e.url != "" {
		editor.RequestUrl = e.url
	}
	if e.method != "" {
		editor.RequestMethod = e.method
	}
	for dir, names := range map[catalog.Direction][]string{catalog.Request: e.dropReq, catalog.Response: e.dropRes} {
		for _, name := range names {
			row, ok := editor.Find(dir, name)
			if !ok {
				return errs.Validation(name, "no %s parameter with this name", dir)
			}
			if err := editor.Remove(dir, row.ID); err != nil {
				return err
			}
		}
	}
	for dir, defs := range map[catalog.Direction][]string{catalog.Request: e.req, catalog.Response: e.res} {
		for _, def := range defs {
			if err := setParam(editor, dir, def); err != nil {
				return err
			}
		}
	}
	return nil
}

// setParam adds or replaces one parameter given as name:type[:min:max].
func setParam(editor *catalog.CommandEditor, dir catalog.Direction, def string) error {
	parts := strings.Split(def, ":")
	if len(parts) != 2 && len(parts) != 4 {
		return errs.Validation(def, "expected name:type[:min:max]")
	}
	var dataRange []float64
	if len(parts) == 4 {
		for _, s := range parts[2:] {
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return errs.Validation(def, "invalid range bound %q", s)
			}
			dataRange = append(dataRange, v)
		}
	}

	row, ok := editor.Find(dir, parts[0])
	id := row.ID
	if !ok {
		id = editor.Add(dir, parts[0])
	}
	return editor.Update(dir, id, func(r *catalog.ParamRow) {
		r.Type = storage.DataType(parts[1])
		if dataRange != nil {
			r.DataRange = dataRange
		} else if !r.Type.Numeric() {
			r.DataRange = nil
		}
	})
}

func paramNames(params []storage.Param) string {
	names := make([]string, 0, len(params))
	for _, p := range params {
		names = append(names, p.Name)
	}
	return common.OrDash(strings.Join(names, ","))
}

func rangeSpec(r []float64) string {
	if len(r) != 2 {
		return "-"
	}
	return strconv.FormatFloat(r[0], 'g', -1, 64) + ":" + strconv.FormatFloat(r[1], 'g', -1, 64)
}
