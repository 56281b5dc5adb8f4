// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package context

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
)

var levelMap = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

const (
	LogFormatJson = "json"
	LogFormatText = "text"
)

// InitLogger creates the process logger. The daemon logs JSON to stdout while
// the CLI uses the text format on stderr so it does not mix with command output.
func InitLogger(level, format string) (*slog.Logger, error) {
	if level == "" {
		level = os.Getenv("LOG_LEVEL")
		if level == "" {
			level = "info"
		}
	}
	logLevel, ok := levelMap[level]
	if !ok {
		var valid []string
		for k := range levelMap {
			valid = append(valid, k)
		}
		slices.Sort(valid)
		return nil, fmt.Errorf("invalid log level: %s; supported: %s", level, strings.Join(valid, ", "))
	}

	var (
		handler slog.Handler
		out     io.Writer = os.Stdout
		opts              = &slog.HandlerOptions{Level: logLevel}
	)
	switch format {
	case "", LogFormatJson:
		handler = slog.NewJSONHandler(out, opts)
	case LogFormatText:
		out = os.Stderr
		handler = slog.NewTextHandler(out, opts)
	default:
		return nil, fmt.Errorf("invalid log format: %s; supported: %s, %s", format, LogFormatJson, LogFormatText)
	}

	logger := slog.New(handler)
	// This sets a default global logger for both slog and legacy log packages.
	slog.SetDefault(logger)
	_ = slog.SetLogLoggerLevel(logLevel)
	return logger, nil
}
