// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package login

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foundriesio/dg-ota/cli/config"
)

func TestLogin(t *testing.T) {
	path := filepath.Join(t.TempDir(), "otactl.yaml")
	var out bytes.Buffer

	first := config.Context{URL: "http://one", Token: "t1", Broker: "tcp://broker:1883", ResponseTimeout: 10 * time.Second}
	require.Nil(t, login(&out, path, "one", first, false))
	assert.Contains(t, out.String(), "tcp://broker:1883")

	second := config.Context{URL: "http://two", Token: "t2", ResponseTimeout: time.Second}
	require.Nil(t, login(&out, path, "two", second, false))

	cfg, err := config.LoadConfig(path)
	require.Nil(t, err)
	assert.Equal(t, "one", cfg.ActiveContext)
	got, err := cfg.GetContext("")
	require.Nil(t, err)
	assert.Equal(t, first, *got)

	require.Nil(t, login(&out, path, "two", second, true))
	cfg, err = config.LoadConfig(path)
	require.Nil(t, err)
	assert.Equal(t, "two", cfg.ActiveContext)

	assert.NotNil(t, login(&out, path, "x", config.Context{URL: "http://x"}, true))
	assert.NotNil(t, login(&out, path, "x", config.Context{URL: "http://x", Token: "t"}, true))
}
