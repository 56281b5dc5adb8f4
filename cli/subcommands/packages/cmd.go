// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package packages

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/foundriesio/dg-ota/cli/api"
	"github.com/foundriesio/dg-ota/cli/subcommands/common"
	"github.com/foundriesio/dg-ota/storage"
)

var PackagesCmd = &cobra.Command{
	Use:   "packages",
	Short: "Manage firmware packages",
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List firmware packages",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		product, _ := cmd.Flags().GetString("product")
		pkgs, err := api.CtxGetApi(cmd.Context()).PackagesList(cmd.Context(), product)
		if err != nil {
			return common.Fail(err)
		}
		rows := make([][]string, 0, len(pkgs))
		for _, p := range pkgs {
			rows = append(rows, []string{p.Id, p.Name, p.Version, p.ProductId, strconv.FormatInt(p.Size, 10), p.Md5, common.FormatTime(p.CreatedAt)})
		}
		return common.Table(cmd.OutOrStdout(), []string{"ID", "NAME", "VERSION", "PRODUCT", "SIZE", "MD5", "CREATED"}, rows)
	},
}

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload a firmware package",
	Long: `Upload a firmware package. The MD5 of the file is sent along and
checked by the server.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		var p storage.Package
		p.Name, _ = flags.GetString("name")
		p.Version, _ = flags.GetString("version")
		p.ProductId, _ = flags.GetString("product")
		p.Description, _ = flags.GetString("description")
		p.Entry, _ = flags.GetString("entry")
		p.ProcessPath, _ = flags.GetString("process-path")
		if p.Name == "" {
			p.Name = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
		}
		saved, err := api.CtxGetApi(cmd.Context()).PackageUpload(cmd.Context(), args[0], p)
		if err != nil {
			return common.Fail(err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Uploaded %s %s (%s, md5 %s)\n", saved.Name, saved.Version, saved.Id, saved.Md5)
		return nil
	},
}

var downloadCmd = &cobra.Command{
	Use:   "download <id>",
	Short: "Download the content of a firmware package",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, _ := cmd.Flags().GetString("dir")
		dst, err := api.CtxGetApi(cmd.Context()).PackageDownload(cmd.Context(), args[0], dir)
		if err != nil {
			return common.Fail(err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Saved %s\n", dst)
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a firmware package no active OTA task uses",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return common.Fail(api.CtxGetApi(cmd.Context()).PackageDelete(cmd.Context(), args[0]))
	},
}

func init() {
	listCmd.Flags().String("product", "", "Only list packages of this product")

	uploadCmd.Flags().String("name", "", "Package name, defaults to the file name")
	uploadCmd.Flags().String("version", "", "Version devices report once installed")
	uploadCmd.Flags().String("product", "", "Product the package targets")
	uploadCmd.Flags().String("description", "", "Free text description")
	uploadCmd.Flags().String("entry", storage.DefaultPackageEntry, "Entry point started by the device agent")
	uploadCmd.Flags().String("process-path", "", "Install location on the device")
	cobra.CheckErr(uploadCmd.MarkFlagRequired("version"))
	cobra.CheckErr(uploadCmd.MarkFlagRequired("product"))

	downloadCmd.Flags().String("dir", ".", "Directory to save the package into")

	PackagesCmd.AddCommand(listCmd, uploadCmd, downloadCmd, deleteCmd)
}
