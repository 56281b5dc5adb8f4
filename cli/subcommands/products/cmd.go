// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package products

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/foundriesio/dg-ota/cli/api"
	"github.com/foundriesio/dg-ota/cli/subcommands/common"
	"github.com/foundriesio/dg-ota/storage"
)

var ProductsCmd = &cobra.Command{
	Use:   "products",
	Short: "Manage products and their properties",
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List products",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		products, err := api.CtxGetApi(cmd.Context()).ProductsList(cmd.Context())
		if err != nil {
			return common.Fail(err)
		}
		rows := make([][]string, 0, len(products))
		for _, p := range products {
			rows = append(rows, []string{p.Id, p.Name, p.Type, p.Protocol, p.Status, common.FormatTime(p.CreatedAt)})
		}
		return common.Table(cmd.OutOrStdout(), []string{"ID", "NAME", "TYPE", "PROTOCOL", "STATUS", "CREATED"}, rows)
	},
}

var createCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a product",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p := storage.Product{Name: args[0], Status: storage.ProductEnabled}
		p.Type, _ = cmd.Flags().GetString("type")
		p.Protocol, _ = cmd.Flags().GetString("protocol")
		p.Description, _ = cmd.Flags().GetString("description")
		saved, err := api.CtxGetApi(cmd.Context()).ProductSave(cmd.Context(), p)
		if err != nil {
			return common.Fail(err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created product %s (%s)\n", saved.Name, saved.Id)
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a product with its properties and commands",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return common.Fail(api.CtxGetApi(cmd.Context()).ProductDelete(cmd.Context(), args[0]))
	},
}

var propertiesCmd = &cobra.Command{
	Use:   "properties <product-id>",
	Short: "List the properties of a product",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		props, err := api.CtxGetApi(cmd.Context()).PropertiesList(cmd.Context(), args[0])
		if err != nil {
			return common.Fail(err)
		}
		rows := make([][]string, 0, len(props))
		for _, p := range props {
			rows = append(rows, []string{p.Id, p.Name, string(p.Type), strings.Join(p.AccessMethod, ","), formatRange(p.DataRange)})
		}
		return common.Table(cmd.OutOrStdout(), []string{"ID", "NAME", "TYPE", "ACCESS", "RANGE"}, rows)
	},
}

var addPropertyCmd = &cobra.Command{
	Use:   "add-property <product-id> <name>",
	Short: "Define a property on a product",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		p := storage.Property{ProductId: args[0], Name: args[1]}
		typ, _ := flags.GetString("type")
		p.Type = storage.DataType(typ)
		p.AccessMethod, _ = flags.GetStringSlice("access")
		p.DataRange, _ = flags.GetFloat64Slice("range")
		p.Description, _ = flags.GetString("description")
		p.RequestUrl, _ = flags.GetString("request-url")
		p.RequestMethod, _ = flags.GetString("request-method")
		saved, err := api.CtxGetApi(cmd.Context()).PropertySave(cmd.Context(), p)
		if err != nil {
			return common.Fail(err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created property %s (%s)\n", saved.Name, saved.Id)
		return nil
	},
}

var deletePropertyCmd = &cobra.Command{
	Use:   "delete-property <property-id>",
	Short: "Delete a property",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return common.Fail(api.CtxGetApi(cmd.Context()).PropertyDelete(cmd.Context(), args[0]))
	},
}

func init() {
	createCmd.Flags().String("type", "device", "Product type")
	createCmd.Flags().String("protocol", "mqtt", "Protocol devices speak")
	createCmd.Flags().String("description", "", "Free text description")

	addPropertyCmd.Flags().String("type", string(storage.DataTypeInt), "Data type: int, long, decimal, string, jsonObject or boolean")
	addPropertyCmd.Flags().StringSlice("access", []string{storage.AccessRead}, "Access methods: read, write")
	addPropertyCmd.Flags().Float64Slice("range", nil, "min,max for numeric types")
	addPropertyCmd.Flags().String("description", "", "Free text description")
	addPropertyCmd.Flags().String("request-url", "", "URL the device agent forwards writes to")
	addPropertyCmd.Flags().String("request-method", "", "HTTP method the device agent forwards writes with")

	ProductsCmd.AddCommand(listCmd, createCmd, deleteCmd, propertiesCmd, addPropertyCmd, deletePropertyCmd)
}

func formatRange(r []float64) string {
	if len(r) != 2 {
		return "-"
	}
	return "[" + strconv.FormatFloat(r[0], 'g', -1, 64) + ", " + strconv.FormatFloat(r[1], 'g', -1, 64) + "]"
}
