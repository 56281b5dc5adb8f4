// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package main

import (
	"github.com/foundriesio/dg-ota/storage"
)

type AuthInitCmd struct{}

func (c AuthInitCmd) Run(args CommonArgs) error {
	if fs, err := storage.NewFs(args.DataDir); err != nil {
		return err
	} else {
		return fs.Auth.InitHmacSecret()
	}
}
