// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/foundriesio/dg-ota/context"
)

func TestMqttConnectUnreachable(t *testing.T) {
	m := NewMqtt(Options{Broker: "tcp://127.0.0.1:1", ClientId: "otactl-test", ConnectTimeout: 300 * time.Millisecond})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	start := time.Now()
	err := m.Connect(ctx)
	require.ErrorContains(t, err, "deadline exceeded")
	require.Less(t, time.Since(start), 5*time.Second)
	require.False(t, m.IsConnected())
	require.ErrorIs(t, m.Send(EventsDown("d1"), nil), ErrNotConnected)
}
