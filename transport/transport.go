// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

// Package transport carries device messages over a publish/subscribe broker.
package transport

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/foundriesio/dg-ota/context"
)

// Handler receives every inbound message of a Transport.
type Handler func(topic string, payload []byte)

// ErrNotConnected is returned by Send while the broker is unreachable.
var ErrNotConnected = errors.New("not connected to broker")

// Transport is one broker connection. Subscribe, Unsubscribe and Publish are
// no-ops while disconnected: they log and return nil. Send is the strict
// Publish, failing with ErrNotConnected instead. Subscriptions do not
// survive a reconnect, owners re-issue them on the connectivity event.
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect()
	IsConnected() bool

	Subscribe(topic string) error
	Unsubscribe(topic string) error
	Publish(topic string, payload []byte) error
	Send(topic string, payload []byte) error

	OnMessage(h Handler)
	OnConnectionChange(f func(connected bool))
}

type Options struct {
	Broker         string
	ClientId       string
	Username       string
	Password       string
	ConnectTimeout time.Duration
	AckTimeout     time.Duration
	Log            *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout == 0 {
		o.ConnectTimeout = 10 * time.Second
	}
	if o.AckTimeout == 0 {
		o.AckTimeout = 5 * time.Second
	}
	if o.Log == nil {
		o.Log = slog.Default()
	}
	return o
}

// New picks the adapter from the broker url scheme: nats:// for NATS,
// anything else (tcp, ssl, ws, mqtt) for MQTT.
func New(opts Options) (Transport, error) {
	switch {
	case opts.Broker == "":
		return nil, fmt.Errorf("broker url is required")
	case strings.HasPrefix(opts.Broker, "nats://"), strings.HasPrefix(opts.Broker, "tls://"):
		return NewNats(opts), nil
	default:
		return NewMqtt(opts), nil
	}
}

func skipNotConnected(log *slog.Logger, topic string, err error) error {
	if errors.Is(err, ErrNotConnected) {
		log.Warn("not connected, skipping publish", "topic", topic)
		return nil
	}
	return err
}

// callbacks holds the handlers shared by all adapters.
type callbacks struct {
	lock         sync.RWMutex
	onMessage    Handler
	onConnChange func(bool)
}

func (c *callbacks) OnMessage(h Handler) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.onMessage = h
}

func (c *callbacks) OnConnectionChange(f func(bool)) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.onConnChange = f
}

func (c *callbacks) deliver(topic string, payload []byte) {
	c.lock.RLock()
	h := c.onMessage
	c.lock.RUnlock()
	if h != nil {
		h(topic, payload)
	}
}

func (c *callbacks) connChanged(connected bool) {
	c.lock.RLock()
	f := c.onConnChange
	c.lock.RUnlock()
	if f != nil {
		f(connected)
	}
}
