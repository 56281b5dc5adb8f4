// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package transport

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/foundriesio/dg-ota/context"
)

func TestMemory(t *testing.T) {
	broker := NewMemory()
	a, b := broker.Client(), broker.Client()

	var events []bool
	a.OnConnectionChange(func(c bool) { events = append(events, c) })
	var got []Message
	a.OnMessage(func(topic string, payload []byte) {
		got = append(got, Message{topic, payload})
	})

	// Subscribing while disconnected is a no-op.
	require.Nil(t, a.Subscribe(AllEventsUp))
	require.Empty(t, a.Subscriptions())

	require.Nil(t, a.Connect(context.Background()))
	require.Nil(t, b.Connect(context.Background()))
	require.True(t, a.IsConnected())
	require.Nil(t, a.Subscribe(AllEventsUp))
	require.Nil(t, a.Subscribe(AllEventsUp))
	require.Equal(t, []string{AllEventsUp}, a.Subscriptions())

	require.Nil(t, b.Publish(EventsUp("d1"), []byte("one")))
	require.Nil(t, b.Publish(MessagesUp("d1"), []byte("two")))
	require.Equal(t, []Message{{EventsUp("d1"), []byte("one")}}, got)
	require.Len(t, broker.Published(), 2)
	require.Len(t, broker.PublishedTo("/devices/d1/sys/messages/#"), 1)

	a.Drop()
	require.False(t, a.IsConnected())
	require.Empty(t, a.Subscriptions())
	require.Nil(t, b.Publish(EventsUp("d1"), []byte("three")))
	require.Len(t, got, 1)
	require.Equal(t, []bool{true, false}, events)

	b.FailPublish(errors.New("boom"))
	require.EqualError(t, b.Publish(EventsUp("d1"), nil), "boom")
	b.FailPublish(nil)
	require.Nil(t, b.Publish(EventsUp("d1"), nil))

	b.Drop()
	require.Nil(t, b.Publish(EventsUp("d1"), nil))
	require.ErrorIs(t, b.Send(EventsUp("d1"), nil), ErrNotConnected)
}

func TestMemoryHandlerPublishes(t *testing.T) {
	broker := NewMemory()
	device, console := broker.Client(), broker.Client()
	require.Nil(t, device.Connect(context.Background()))
	require.Nil(t, console.Connect(context.Background()))

	device.OnMessage(func(topic string, payload []byte) {
		dev, _ := DeviceOf(topic)
		require.Nil(t, device.Publish(EventsUp(dev), payload))
	})
	require.Nil(t, device.Subscribe(EventsDown("d1")))

	var echoed []byte
	console.OnMessage(func(_ string, payload []byte) { echoed = payload })
	require.Nil(t, console.Subscribe(EventsUp("d1")))
	require.Nil(t, console.Publish(EventsDown("d1"), []byte("ping")))
	require.Equal(t, []byte("ping"), echoed)
}
