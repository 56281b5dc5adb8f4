// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package correlation

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foundriesio/dg-ota/context"
	"github.com/foundriesio/dg-ota/errs"
	"github.com/foundriesio/dg-ota/transport"
)

type testBench struct {
	broker  *transport.Memory
	console *transport.MemoryClient
	device  *transport.MemoryClient
	engine  *Engine
}

func newTestBench(t *testing.T, opts ...Option) *testBench {
	broker := transport.NewMemory()
	tb := &testBench{broker: broker, console: broker.Client(), device: broker.Client()}
	require.Nil(t, tb.console.Connect(context.Background()))
	require.Nil(t, tb.device.Connect(context.Background()))
	tb.engine = New(tb.console, opts...)
	tb.console.OnMessage(func(topic string, payload []byte) {
		tb.engine.HandleMessage(topic, payload)
	})
	require.Nil(t, tb.device.Subscribe("/devices/+/sys/commands/+"))
	require.Nil(t, tb.device.Subscribe("/devices/+/sys/properties/set/+"))
	return tb
}

// respond makes the device answer every request with body.
func (tb *testBench) respond(body string) {
	tb.device.OnMessage(func(topic string, _ []byte) {
		dev, _ := transport.DeviceOf(topic)
		kind := transport.KindCommand
		if strings.Contains(topic, "/properties/") {
			kind = transport.KindPropertySet
		}
		_, rid, _ := strings.Cut(topic, "request_id=")
		_ = tb.device.Publish(transport.Response(dev, kind, rid), []byte(body))
	})
}

func TestEngineIds(t *testing.T) {
	e := New(transport.NewMemory().Client())
	fixed := time.UnixMilli(1700000000000)
	e.now = func() time.Time { return fixed }

	e.lock.Lock()
	a, b, c := e.nextId(), e.nextId(), e.nextId()
	e.lock.Unlock()
	require.Equal(t, "1700000000000-"+e.nonce, a)
	require.Equal(t, "1700000000001-"+e.nonce, b)
	require.Equal(t, "1700000000002-"+e.nonce, c)
	require.Len(t, e.nonce, 8)
	require.NotEqual(t, e.nonce, New(nil).nonce)
}

func TestEngineCall(t *testing.T) {
	tb := newTestBench(t)
	tb.respond(`{"ok": true, "temperature": 21}`)

	resp, err := tb.engine.Call(context.Background(), "d1", transport.KindCommand, []byte(`{"optionValue":"c1"}`))
	require.Nil(t, err)
	assert.True(t, resp.Ok)
	assert.Equal(t, "21", string(resp.Fields["temperature"]))
	assert.Equal(t, 0, tb.engine.Len())
	assert.Empty(t, tb.console.Subscriptions())

	// The response subscription went out before the request.
	published := tb.broker.Published()
	require.Len(t, published, 2)
	assert.True(t, strings.HasPrefix(published[0].Topic, "/devices/d1/sys/commands/request_id="))
	assert.True(t, strings.HasPrefix(published[1].Topic, "/devices/d1/sys/commands/response/request_id="))
}

func TestEngineRemoteFailure(t *testing.T) {
	tb := newTestBench(t)
	tb.respond(`{"ok": false, "msg": "value out of range"}`)
	_, err := tb.engine.Call(context.Background(), "d1", transport.KindPropertySet, []byte(`{}`))
	require.True(t, errs.IsRemote(err))
	assert.Equal(t, "value out of range", errs.Message(err))

	tb.respond(`{"ok": false}`)
	_, err = tb.engine.Call(context.Background(), "d1", transport.KindPropertySet, []byte(`{}`))
	assert.Equal(t, errs.GenericFailure, errs.Message(err))

	tb.respond(`not json`)
	_, err = tb.engine.Call(context.Background(), "d1", transport.KindCommand, []byte(`{}`))
	assert.True(t, errs.IsRemote(err))
}

func TestEngineTimeout(t *testing.T) {
	tb := newTestBench(t, WithTimeout(20*time.Millisecond))
	tb.device.OnMessage(func(string, []byte) {})

	p, err := tb.engine.Issue("d1", transport.KindCommand, []byte(`{}`))
	require.Nil(t, err)
	require.Equal(t, []string{transport.Response("d1", transport.KindCommand, p.Id)}, tb.console.Subscriptions())

	_, err = tb.engine.Await(context.Background(), p)
	require.ErrorIs(t, err, errs.ErrTimeout)
	assert.Equal(t, 0, tb.engine.Len())
	assert.Empty(t, tb.console.Subscriptions())

	// A late response is dropped.
	require.True(t, tb.engine.HandleMessage(transport.Response("d1", transport.KindCommand, p.Id), []byte(`{"ok":true}`)))
	_, err = p.Result()
	require.ErrorIs(t, err, errs.ErrTimeout)
}

func TestEngineCancel(t *testing.T) {
	tb := newTestBench(t)
	tb.device.OnMessage(func(string, []byte) {})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := tb.engine.Call(ctx, "d1", transport.KindCommand, []byte(`{}`))
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, tb.engine.Len())
}

func TestEngineDuplicateResponse(t *testing.T) {
	tb := newTestBench(t)
	tb.device.OnMessage(func(string, []byte) {})

	p, err := tb.engine.Issue("d1", transport.KindCommand, []byte(`{}`))
	require.Nil(t, err)
	topic := transport.Response("d1", transport.KindCommand, p.Id)

	require.True(t, tb.engine.HandleMessage(topic, []byte(`{"ok":true,"n":1}`)))
	require.True(t, tb.engine.HandleMessage(topic, []byte(`{"ok":false,"msg":"second"}`)))
	resp, err := tb.engine.Await(context.Background(), p)
	require.Nil(t, err)
	assert.Equal(t, "1", string(resp.Fields["n"]))
}

func TestEngineConcurrentRequests(t *testing.T) {
	tb := newTestBench(t)
	tb.device.OnMessage(func(string, []byte) {})

	a, err := tb.engine.Issue("d1", transport.KindCommand, []byte(`{}`))
	require.Nil(t, err)
	b, err := tb.engine.Issue("d1", transport.KindCommand, []byte(`{}`))
	require.Nil(t, err)
	c, err := tb.engine.Issue("d2", transport.KindPropertySet, []byte(`{}`))
	require.Nil(t, err)
	require.NotEqual(t, a.Id, b.Id)
	require.Equal(t, 3, tb.engine.Len())

	// Out of order, and one with the wrong device is ignored.
	tb.engine.HandleMessage(transport.Response("d9", transport.KindCommand, b.Id), []byte(`{"ok":true}`))
	require.Equal(t, 3, tb.engine.Len())
	tb.engine.HandleMessage(transport.Response("d1", transport.KindCommand, b.Id), []byte(`{"ok":true,"who":"b"}`))
	tb.engine.HandleMessage(transport.Response("d1", transport.KindCommand, a.Id), []byte(`{"ok":true,"who":"a"}`))

	ra, err := tb.engine.Await(context.Background(), a)
	require.Nil(t, err)
	rb, err := tb.engine.Await(context.Background(), b)
	require.Nil(t, err)
	assert.Equal(t, `"a"`, string(ra.Fields["who"]))
	assert.Equal(t, `"b"`, string(rb.Fields["who"]))

	tb.engine.Close()
	_, err = c.Result()
	require.ErrorIs(t, err, errs.ErrClosed)
	_, err = tb.engine.Issue("d1", transport.KindCommand, nil)
	require.ErrorIs(t, err, errs.ErrClosed)
}

func TestEnginePublishFailure(t *testing.T) {
	tb := newTestBench(t)
	tb.console.FailPublish(errors.New("broker gone"))
	_, err := tb.engine.Issue("d1", transport.KindCommand, []byte(`{}`))
	require.True(t, errs.IsNetwork(err))
	assert.Equal(t, 0, tb.engine.Len())
	assert.Empty(t, tb.console.Subscriptions())
}

func TestEngineIgnoresOtherTopics(t *testing.T) {
	e := New(transport.NewMemory().Client())
	require.False(t, e.HandleMessage(transport.MessagesUp("d1"), []byte(`{}`)))
	require.False(t, e.HandleMessage(transport.Request("d1", transport.KindCommand, "1"), []byte(`{}`)))
}
