// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package main

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foundriesio/dg-ota/context"
)

func TestServe(t *testing.T) {
	tmpDir := t.TempDir()
	common := CommonArgs{DataDir: tmpDir}

	log, err := context.InitLogger("debug", context.LogFormatJson)
	require.Nil(t, err)
	common.ctx = context.CtxWithLog(context.Background(), log)

	// No secret yet
	server := ServeCmd{Port: 0}
	require.NotNil(t, server.Run(common))

	require.Nil(t, AuthInitCmd{}.Run(common))
	require.NotNil(t, AuthInitCmd{}.Run(common), "the secret is never overwritten")

	var out bytes.Buffer
	require.Nil(t, TokenCreateCmd{Description: "ci", Scopes: []string{"ota:read"}, Expires: time.Hour, out: &out}.Run(common))
	_, token, ok := strings.Cut(strings.TrimSpace(out.String()), ": ")
	require.True(t, ok)
	require.NotEmpty(t, token)
	require.NotNil(t, TokenCreateCmd{Description: "bad", Scopes: []string{"admin"}, out: &out}.Run(common))

	apiAddress := ""
	wait := make(chan bool)
	server = ServeCmd{
		startedCb: func(apiAddr string) {
			apiAddress = apiAddr
			wait <- true
		},
	}
	go func() {
		if err = server.Run(common); err != nil {
			// Unblock main thread and check an error over there
			wait <- false
		}
	}()
	<-wait
	require.Nil(t, err)

	r, err := http.Get(fmt.Sprintf("http://%s/doesnotexist", apiAddress))
	require.Nil(t, err)
	require.Equal(t, http.StatusUnauthorized, r.StatusCode)
	require.Equal(t, 12, len(r.Header.Get("X-Request-Id")))

	get := func(resource, tok string) int {
		req, err := http.NewRequest(http.MethodGet, fmt.Sprintf("http://%s%s", apiAddress, resource), nil)
		require.Nil(t, err)
		req.Header.Set("Authorization", "Bearer "+tok)
		r, err := http.DefaultClient.Do(req)
		require.Nil(t, err)
		require.Nil(t, r.Body.Close())
		return r.StatusCode
	}
	assert.Equal(t, http.StatusOK, get("/products", token))
	assert.Equal(t, http.StatusNotFound, get("/doesnotexist", token))
	assert.Equal(t, http.StatusUnauthorized, get("/products", "not-a-real-token-value"))

	require.Nil(t, syscall.Kill(syscall.Getpid(), syscall.SIGINT))
}
