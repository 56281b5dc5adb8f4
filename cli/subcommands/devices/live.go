// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package devices

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/foundriesio/dg-ota/cli/api"
	"github.com/foundriesio/dg-ota/cli/config"
	"github.com/foundriesio/dg-ota/cli/subcommands/common"
	"github.com/foundriesio/dg-ota/context"
	"github.com/foundriesio/dg-ota/correlation"
	"github.com/foundriesio/dg-ota/errs"
	"github.com/foundriesio/dg-ota/session"
	"github.com/foundriesio/dg-ota/storage"
	"github.com/foundriesio/dg-ota/transport"
)

var watchCmd = &cobra.Command{
	Use:   "watch <device>",
	Short: "Print the live telemetry of a device until interrupted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		s, err := openSession(cmd, args[0],
			session.WithReportHandler(func(snap session.Snapshot) { printReport(out, snap) }),
			session.WithMessageHandler(func(m session.Message) { printMessage(out, m) }),
		)
		if err != nil {
			return common.Fail(err)
		}
		defer s.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if refresh, _ := cmd.Flags().GetBool("request-properties"); refresh {
			if err := s.RequestProperties(ctx); err != nil {
				return common.Fail(err)
			}
		}
		fmt.Fprintf(out, "Watching %s, press Ctrl+C to stop...\n", s.DeviceId())
		<-ctx.Done()
		return nil
	},
}

var getPropertiesCmd = &cobra.Command{
	Use:   "get-properties <device>",
	Short: "Ask a device to report its properties and print the report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reports := make(chan session.Snapshot, 1)
		s, err := openSession(cmd, args[0], session.WithReportHandler(func(snap session.Snapshot) {
			select {
			case reports <- snap:
			default:
			}
		}))
		if err != nil {
			return common.Fail(err)
		}
		defer s.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), responseTimeout(cmd))
		defer cancel()
		if err := s.RequestProperties(ctx); err != nil {
			return common.Fail(err)
		}
		select {
		case snap := <-reports:
			printReport(cmd.OutOrStdout(), snap)
			return nil
		case <-ctx.Done():
			return common.Fail(errs.ErrTimeout)
		}
	},
}

var setPropertyCmd = &cobra.Command{
	Use:   "set-property <device> <property-id> <value>",
	Short: "Write a property of a device and wait for its answer",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		prop, err := api.CtxGetApi(ctx).PropertyGet(ctx, args[1])
		if err != nil {
			return common.Fail(err)
		} else if prop == nil {
			return fmt.Errorf("property %s not found", args[1])
		}
		s, err := openSession(cmd, args[0])
		if err != nil {
			return common.Fail(err)
		}
		defer s.Close()
		resp, err := s.SetProperty(ctx, prop.Id, map[string]any{prop.Name: common.ParseValue(args[2])})
		return printResponse(cmd.OutOrStdout(), resp, err)
	},
}

var invokeCmd = &cobra.Command{
	Use:   "invoke <device> <command-id> [name=value...]",
	Short: "Invoke a command on a device and wait for its answer",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		values, err := common.ParseValues(args[2:])
		if err != nil {
			return common.Fail(err)
		}
		s, err := openSession(cmd, args[0])
		if err != nil {
			return common.Fail(err)
		}
		defer s.Close()
		resp, err := s.InvokeCommand(cmd.Context(), args[1], values)
		return printResponse(cmd.OutOrStdout(), resp, err)
	},
}

var restartAgentCmd = &cobra.Command{
	Use:   "restart-agent <agent-id>",
	Short: "Restart the agent process of a binding",
	Long: `Restart the agent process of a binding. Standard bindings are
restarted on their device. Custom bindings need --device to name the device
hosting them.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		agent, err := api.CtxGetApi(ctx).AgentDeviceGet(ctx, args[0])
		if err != nil {
			return common.Fail(err)
		} else if agent == nil {
			return fmt.Errorf("agent binding %s not found", args[0])
		}
		host, _ := cmd.Flags().GetString("device")
		if host == "" {
			if t, ok := agent.Target.(storage.StandardDevice); ok {
				host = t.DeviceId
			}
		}
		if host == "" {
			return fmt.Errorf("--device is required for custom agent bindings")
		}
		s, err := openSession(cmd, host)
		if err != nil {
			return common.Fail(err)
		}
		defer s.Close()
		if err := s.RestartAgent(ctx, *agent); err != nil {
			return common.Fail(err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Restart sent to %s\n", s.DeviceId())
		return nil
	},
}

func init() {
	watchCmd.Flags().Bool("request-properties", true, "Ask the device for a property report first")
	restartAgentCmd.Flags().String("device", "", "Device hosting the agent")

	DevicesCmd.AddCommand(watchCmd, getPropertiesCmd, setPropertyCmd, invokeCmd, restartAgentCmd)
}

func responseTimeout(cmd *cobra.Command) time.Duration {
	if t := api.CtxGetConfig(cmd.Context()).ResponseTimeout; t > 0 {
		return t
	}
	return correlation.DefaultTimeout
}

// openSession resolves the device and opens a session on a transport of its
// own, connected to the broker of the current context.
func openSession(cmd *cobra.Command, ref string, opts ...session.Option) (*session.Session, error) {
	ctx := cmd.Context()
	client := api.CtxGetApi(ctx)
	cfg := api.CtxGetConfig(ctx)
	log := context.CtxGetLog(ctx)
	if cfg.Broker == "" {
		return nil, fmt.Errorf("the current context has no broker, run `otactl login --broker ...`")
	}

	deviceId := ref
	if d, err := client.DeviceFind(ctx, ref); err != nil {
		return nil, err
	} else if d != nil {
		deviceId = d.DeviceId
	}

	tr, err := transport.New(transportOptions(cfg, log))
	if err != nil {
		return nil, err
	}
	base := []session.Option{
		session.WithTimeout(responseTimeout(cmd)),
		session.WithDefinitions(session.NewDefinitionCache(client, session.DefinitionTTL)),
		session.WithLogger(log),
	}
	s := session.New(deviceId, tr, append(base, opts...)...)
	if err := s.Open(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// transportOptions gives every otactl invocation a distinct broker client
// id. Brokers drop the older of two connections sharing one.
func transportOptions(cfg config.Context, log *slog.Logger) transport.Options {
	clientId := cfg.ClientId
	if clientId == "" {
		clientId = "otactl"
	}
	return transport.Options{
		Broker:   cfg.Broker,
		ClientId: clientId + "-" + uuid.NewString()[:8],
		Username: cfg.Username,
		Password: cfg.Password,
		Log:      log,
	}
}

func printReport(out io.Writer, snap session.Snapshot) {
	keys := make([]string, 0, len(snap.Values))
	for k := range snap.Values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	rows := make([][]string, 0, len(keys))
	for _, k := range keys {
		v, _ := json.Marshal(snap.Values[k])
		rows = append(rows, []string{k, string(v)})
	}
	fmt.Fprintf(out, "properties at %s\n", snap.ReceivedAt.Format(common.TimeFormat))
	_ = common.Table(out, []string{"PROPERTY", "VALUE"}, rows)
}

func printMessage(out io.Writer, m session.Message) {
	fmt.Fprintf(out, "%s %s %s\n", m.ReceivedAt.Format(common.TimeFormat), m.Topic, m.Payload)
}

// printResponse shows a device answer. A refusal is returned as an error.
func printResponse(out io.Writer, resp *correlation.Response, err error) error {
	if err != nil {
		return common.Fail(err)
	}
	if !resp.Ok {
		return fmt.Errorf("device refused: %s", common.OrDash(resp.Msg))
	}
	fields := make(map[string]json.RawMessage, len(resp.Fields))
	for k, v := range resp.Fields {
		if k != "ok" && k != "msg" {
			fields[k] = v
		}
	}
	fmt.Fprintln(out, "ok")
	if len(fields) > 0 {
		return common.PrintJSON(out, fields)
	}
	return nil
}
