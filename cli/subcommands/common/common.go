// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

// Package common holds the helpers shared by the otactl subcommands.
package common

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/foundriesio/dg-ota/cli/api"
	"github.com/foundriesio/dg-ota/context"
	"github.com/foundriesio/dg-ota/errs"
	"github.com/foundriesio/dg-ota/ota"
)

const TimeFormat = "2006-01-02 15:04:05"

// Table prints rows aligned under a header.
func Table(out io.Writer, header []string, rows [][]string) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(header, "\t"))
	for _, r := range rows {
		fmt.Fprintln(w, strings.Join(r, "\t"))
	}
	return w.Flush()
}

func FormatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(TimeFormat)
}

func OrDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// Fail turns an error into the message shown to the user.
func Fail(err error) error {
	if err == nil {
		return nil
	}
	return errors.New(errs.Message(err))
}

func Scheduler(cmd *cobra.Command) *ota.Scheduler {
	ctx := cmd.Context()
	return ota.NewScheduler(api.CtxGetApi(ctx), context.CtxGetLog(ctx))
}

// ParseValue reads a command line value as JSON, falling back to a plain
// string, so `42` is a number and `on` is "on".
func ParseValue(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		return v
	}
	return s
}

// ParseValues reads key=value pairs.
func ParseValues(pairs []string) (map[string]any, error) {
	values := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return nil, errs.Validation(pair, "expected key=value")
		}
		values[k] = ParseValue(v)
	}
	return values, nil
}

func PrintJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
