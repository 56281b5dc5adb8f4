// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package tasks

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/foundriesio/dg-ota/cli/api"
	"github.com/foundriesio/dg-ota/cli/subcommands/common"
	"github.com/foundriesio/dg-ota/ota"
	"github.com/foundriesio/dg-ota/poller"
	"github.com/foundriesio/dg-ota/storage"
)

var TasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Schedule and follow OTA tasks",
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List OTA tasks",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		filter, err := filterFlags(cmd)
		if err != nil {
			return err
		}
		tasks, err := common.Scheduler(cmd).ListTasks(cmd.Context(), filter)
		if err != nil {
			return common.Fail(err)
		}
		return printTasks(cmd.OutOrStdout(), tasks)
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Keep the OTA task list refreshed until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		filter, err := filterFlags(cmd)
		if err != nil {
			return err
		}
		interval, _ := cmd.Flags().GetDuration("interval")
		out := cmd.OutOrStdout()
		p := &poller.ListPoller{
			Scheduler: common.Scheduler(cmd),
			Interval:  interval,
			OnUpdate: func(tasks []storage.OtaTask) {
				fmt.Fprintf(out, "\n%s\n", time.Now().Format(common.TimeFormat))
				_ = printTasks(out, tasks)
			},
			OnError: func(err error) {
				fmt.Fprintln(cmd.ErrOrStderr(), "refresh failed:", common.Fail(err))
			},
		}
		p.SetFilter(filter)
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		p.Start()
		<-ctx.Done()
		p.Stop()
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show <task-id>",
	Short: "Show an OTA task with the status of each device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		scheduler := common.Scheduler(cmd)
		out := cmd.OutOrStdout()
		if follow, _ := cmd.Flags().GetBool("follow"); follow {
			interval, _ := cmd.Flags().GetDuration("interval")
			return followTask(cmd, scheduler, args[0], interval)
		}

		task, err := scheduler.GetTask(cmd.Context(), args[0])
		if err != nil {
			return common.Fail(err)
		}
		devices, err := scheduler.TaskDevices(cmd.Context(), task.Id)
		if err != nil {
			return common.Fail(err)
		}
		return printDetail(out, poller.Detail{Task: *task, Devices: devices})
	},
}

// followTask prints the task on every refresh until it finished or the user
// interrupts.
func followTask(cmd *cobra.Command, scheduler *ota.Scheduler, taskId string, interval time.Duration) error {
	out := cmd.OutOrStdout()
	p := &poller.DetailPoller{
		Scheduler: scheduler,
		Interval:  interval,
		OnUpdate: func(d poller.Detail) {
			fmt.Fprintf(out, "\n%s\n", time.Now().Format(common.TimeFormat))
			_ = printDetail(out, d)
		},
		OnError: func(err error) {
			fmt.Fprintln(cmd.ErrOrStderr(), "refresh failed:", common.Fail(err))
		},
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	p.Open(taskId)
	defer p.Close()
	select {
	case <-p.Done():
	case <-ctx.Done():
	}
	return nil
}

var createCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create an OTA task for a set of devices",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pkg, _ := cmd.Flags().GetString("package")
		devices, _ := cmd.Flags().GetStringSlice("device")
		task, err := common.Scheduler(cmd).CreateTask(cmd.Context(), args[0], pkg, devices)
		if err != nil {
			return common.Fail(err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created OTA task %s (%s) for %d device(s)\n", task.Name, task.Id, len(task.DeviceIds))
		return nil
	},
}

var eligibleCmd = &cobra.Command{
	Use:   "eligible <product-id>",
	Short: "List the devices of a product that can join a new OTA task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		version, _ := cmd.Flags().GetString("version")
		if pkgId, _ := cmd.Flags().GetString("package"); pkgId != "" {
			pkg, err := api.CtxGetApi(ctx).PackageGet(ctx, pkgId)
			if err != nil {
				return common.Fail(err)
			} else if pkg == nil {
				return fmt.Errorf("package %s not found", pkgId)
			}
			version = pkg.Version
		}
		devices, err := common.Scheduler(cmd).EligibleDevices(ctx, args[0], version)
		if err != nil {
			return common.Fail(err)
		}
		return printEligible(cmd.OutOrStdout(), devices)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop <task-id>",
	Short: "Stop every unfinished device of an OTA task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return common.Fail(common.Scheduler(cmd).StopTask(cmd.Context(), args[0]))
	},
}

var stopDeviceCmd = &cobra.Command{
	Use:   "stop-device <sub-task-id>",
	Short: "Stop the OTA of a single device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return common.Fail(common.Scheduler(cmd).StopDevice(cmd.Context(), args[0]))
	},
}

var retryCmd = &cobra.Command{
	Use:   "retry <sub-task-id>",
	Short: "Retry the OTA of a failed or canceled device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pkg, _ := cmd.Flags().GetString("package")
		return common.Fail(common.Scheduler(cmd).RetryDevice(cmd.Context(), args[0], pkg))
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <task-id>",
	Short: "Delete an OTA task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return common.Fail(common.Scheduler(cmd).DeleteTask(cmd.Context(), args[0]))
	},
}

func init() {
	for _, c := range []*cobra.Command{listCmd, watchCmd} {
		c.Flags().String("status", "", "Only tasks in this status")
		c.Flags().String("name", "", "Only tasks whose name contains this")
	}
	for _, c := range []*cobra.Command{watchCmd, showCmd} {
		c.Flags().Duration("interval", poller.DefaultInterval, "Refresh interval")
	}
	showCmd.Flags().BoolP("follow", "f", false, "Keep refreshing until the task finished")

	createCmd.Flags().String("package", "", "Package to install")
	createCmd.Flags().StringSlice("device", nil, "Device record id, repeat or comma separate for several")
	cobra.CheckErr(createCmd.MarkFlagRequired("package"))

	eligibleCmd.Flags().String("package", "", "Package the task would install")
	eligibleCmd.Flags().String("version", "", "Version the task would install")

	retryCmd.Flags().String("package", "", "Package to install, may differ from the original one")
	cobra.CheckErr(retryCmd.MarkFlagRequired("package"))

	TasksCmd.AddCommand(listCmd, watchCmd, showCmd, createCmd, eligibleCmd, stopCmd, stopDeviceCmd, retryCmd, deleteCmd)
}

func filterFlags(cmd *cobra.Command) (ota.Filter, error) {
	var f ota.Filter
	f.Name, _ = cmd.Flags().GetString("name")
	if s, _ := cmd.Flags().GetString("status"); s != "" {
		status, err := storage.ParseOtaStatus(s)
		if err != nil {
			return f, err
		}
		f.Status = status
	}
	return f, nil
}

func printTasks(out io.Writer, tasks []storage.OtaTask) error {
	rows := make([][]string, 0, len(tasks))
	for _, t := range tasks {
		rows = append(rows, []string{t.Id, t.Name, string(t.Status), t.PackageId, fmt.Sprint(len(t.DeviceIds)), common.FormatTime(t.CreatedAt)})
	}
	return common.Table(out, []string{"ID", "NAME", "STATUS", "PACKAGE", "DEVICES", "CREATED"}, rows)
}

func printDetail(out io.Writer, d poller.Detail) error {
	fmt.Fprintf(out, "Task: %s (%s)\nStatus: %s\nPackage: %s\n\n", d.Task.Name, d.Task.Id, d.Task.Status, d.Task.PackageId)
	rows := make([][]string, 0, len(d.Devices))
	for _, o := range d.Devices {
		rows = append(rows, []string{o.Id, o.DeviceId, common.OrDash(o.Version), string(o.Status), common.OrDash(oneLine(o.Description)), common.FormatTime(o.UpdatedAt)})
	}
	return common.Table(out, []string{"SUB-TASK", "DEVICE", "VERSION", "STATUS", "DESCRIPTION", "UPDATED"}, rows)
}

func printEligible(out io.Writer, devices []ota.EligibleDevice) error {
	rows := make([][]string, 0, len(devices))
	for _, d := range devices {
		eligible := "yes"
		if !d.Eligible {
			eligible = "no: " + d.Reason
		}
		rows = append(rows, []string{d.Id, d.DeviceId, d.Name, common.OrDash(d.Version), eligible})
	}
	return common.Table(out, []string{"ID", "DEVICE", "NAME", "VERSION", "ELIGIBLE"}, rows)
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
