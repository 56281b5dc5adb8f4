// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package storage

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecksum(t *testing.T) {
	sum, size, err := Checksum(strings.NewReader("hello world"))
	require.Nil(t, err)
	assert.Equal(t, "5eb63bbbe01eeed093cb22bb8f5acdc3", sum)
	assert.Equal(t, int64(11), size)

	sum, size, err = Checksum(strings.NewReader(""))
	require.Nil(t, err)
	assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", sum)
	assert.Equal(t, int64(0), size)

	// Spans several chunks.
	big := bytes.Repeat([]byte{'a'}, 2*ChecksumChunkSize+17)
	sum1, size, err := Checksum(bytes.NewReader(big))
	require.Nil(t, err)
	assert.Equal(t, int64(len(big)), size)
	sum2, _, err := Checksum(io.MultiReader(bytes.NewReader(big[:5]), bytes.NewReader(big[5:])))
	require.Nil(t, err)
	assert.Equal(t, sum1, sum2)
}

func TestPackagesFs(t *testing.T) {
	fs, err := NewFs(t.TempDir())
	require.Nil(t, err)

	sum, size, err := fs.Packages.WriteFile("pkg1", strings.NewReader("hello world"))
	require.Nil(t, err)
	assert.Equal(t, "5eb63bbbe01eeed093cb22bb8f5acdc3", sum)
	assert.Equal(t, int64(11), size)

	fd, err := fs.Packages.Open("pkg1")
	require.Nil(t, err)
	content, err := io.ReadAll(fd)
	require.Nil(t, fd.Close())
	require.Nil(t, err)
	assert.Equal(t, "hello world", string(content))

	_, err = os.Stat(fs.Packages.FilePath("pkg1") + partialFileSuffix)
	assert.True(t, os.IsNotExist(err))

	require.Nil(t, fs.Packages.Remove("pkg1"))
	require.Nil(t, fs.Packages.Remove("pkg1"))
	_, err = fs.Packages.Open("pkg1")
	assert.True(t, os.IsNotExist(err))
}

func TestDevicesFsOtaEvents(t *testing.T) {
	fs, err := NewFs(t.TempDir())
	require.Nil(t, err)

	require.Nil(t, fs.Devices.AppendOtaEvent("dev1", "task1", `{"status":"running"}`))
	require.Nil(t, fs.Devices.AppendOtaEvent("dev1", "task1", `{"status":"completed"}`))

	var lines []string
	for line, err := range fs.Devices.ReadOtaEvents("dev1", "task1") {
		require.Nil(t, err)
		lines = append(lines, line)
	}
	assert.Equal(t, []string{`{"status":"running"}`, `{"status":"completed"}`}, lines)

	for line, err := range fs.Devices.ReadOtaEvents("dev1", "missing") {
		t.Fatalf("unexpected line %q %v", line, err)
	}

	for i := 0; i < MaxOtaEventLogs+3; i++ {
		require.Nil(t, fs.Devices.AppendOtaEvent("dev2", fmt.Sprintf("t%02d", i), "{}"))
	}
	tasks, err := fs.Devices.ListOtaEventTasks("dev2")
	require.Nil(t, err)
	assert.Len(t, tasks, MaxOtaEventLogs)

	require.Nil(t, fs.Devices.RemoveAll("dev2"))
	tasks, err = fs.Devices.ListOtaEventTasks("dev2")
	require.Nil(t, err)
	assert.Empty(t, tasks)
}

func TestAuthFsHmacSecret(t *testing.T) {
	fs, err := NewFs(t.TempDir())
	require.Nil(t, err)

	_, err = fs.Auth.GetHmacSecret()
	require.ErrorIs(t, err, os.ErrNotExist)

	require.Nil(t, fs.Auth.InitHmacSecret())
	secret, err := fs.Auth.GetHmacSecret()
	require.Nil(t, err)
	require.Len(t, secret, 64)

	require.NotNil(t, fs.Auth.InitHmacSecret())
	again, err := fs.Auth.GetHmacSecret()
	require.Nil(t, err)
	require.Equal(t, secret, again)
}
