// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package main

import (
	"fmt"
	"os"

	"github.com/alexflint/go-arg"

	"github.com/foundriesio/dg-ota/context"
)

type CommonArgs struct {
	DataDir  string `arg:"required" help:"Directory to store data"`
	LogLevel string `arg:"--log-level" help:"One of debug, info, warning, error. Defaults to $LOG_LEVEL or info"`

	AuthInit    *AuthInitCmd    `arg:"subcommand:auth-init" help:"Create the secret used to sign API tokens"`
	TokenCreate *TokenCreateCmd `arg:"subcommand:token-create" help:"Create an API token for otactl"`
	Serve       *ServeCmd       `arg:"subcommand:serve" help:"Run the REST API and the OTA dispatcher"`

	ctx context.Context
}

func main() {
	var args CommonArgs
	p := arg.MustParse(&args)

	log, err := context.InitLogger(args.LogLevel, context.LogFormatJson)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", err)
		os.Exit(1)
		return
	}
	args.ctx = context.CtxWithLog(context.Background(), log)

	switch {
	case args.AuthInit != nil:
		err = args.AuthInit.Run(args)
	case args.TokenCreate != nil:
		err = args.TokenCreate.Run(args)
	case args.Serve != nil:
		err = args.Serve.Run(args)
	default:
		p.Fail("missing required subcommand")
	}
	if err != nil {
		log.Error("command failed", "error", err)
		os.Exit(1)
	}
}
