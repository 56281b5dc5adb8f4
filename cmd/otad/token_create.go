// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/foundriesio/dg-ota/auth"
	"github.com/foundriesio/dg-ota/storage"
	"github.com/foundriesio/dg-ota/storage/api"
)

type TokenCreateCmd struct {
	Description string        `arg:"positional,required" help:"What the token is used for"`
	Scopes      []string      `arg:"--scope,separate" help:"Scope granted to the token, may be repeated. Defaults to all scopes"`
	Expires     time.Duration `default:"8760h" help:"How long the token stays valid"`

	out io.Writer
}

func (c TokenCreateCmd) Run(args CommonArgs) error {
	fs, err := storage.NewFs(args.DataDir)
	if err != nil {
		return err
	}
	secret, err := fs.Auth.GetHmacSecret()
	if err != nil {
		return fmt.Errorf("unable to read token secret, run auth-init first: %w", err)
	}
	db, err := storage.NewDb(fs.Config.DbFile())
	if err != nil {
		return fmt.Errorf("failed to load database: %w", err)
	}
	defer db.Close() // nolint:errcheck
	strg, err := api.NewStorage(db, fs)
	if err != nil {
		return err
	}

	scopes := c.Scopes
	if len(scopes) == 0 {
		scopes = auth.AllScopes
	}
	value, tok, err := auth.NewTokens(secret, strg).Generate(c.Description, time.Now().Add(c.Expires), scopes)
	if err != nil {
		return err
	}
	out := c.out
	if out == nil {
		out = os.Stdout
	}
	_, err = fmt.Fprintf(out, "Token %d (expires %s): %s\n", tok.PublicId, time.Unix(tok.ExpiresAt, 0).Format(time.RFC3339), value)
	return err
}
