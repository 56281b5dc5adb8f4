// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package transport

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/foundriesio/dg-ota/context"
)

const natsReconnectWait = 500 * time.Millisecond

// Nats speaks the device topic scheme over core NATS subjects. Topic levels
// become subject tokens, so device ids must not contain dots.
type Nats struct {
	callbacks
	opts Options

	lock sync.Mutex
	nc   *nats.Conn
	subs map[string]*nats.Subscription
}

func NewNats(opts Options) *Nats {
	return &Nats{opts: opts.withDefaults()}
}

// TopicToSubject maps "/devices/+/sys/events/up" to "devices.*.sys.events.up".
func TopicToSubject(topic string) string {
	parts := strings.Split(strings.TrimPrefix(topic, "/"), "/")
	for i, p := range parts {
		switch p {
		case "+":
			parts[i] = "*"
		case "#":
			parts[i] = ">"
		}
	}
	return strings.Join(parts, ".")
}

func SubjectToTopic(subject string) string {
	return "/" + strings.ReplaceAll(subject, ".", "/")
}

func (n *Nats) Connect(ctx context.Context) error {
	n.lock.Lock()
	defer n.lock.Unlock()
	if n.nc != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("unable to connect to %s: %w", n.opts.Broker, err)
	}
	timeout := n.opts.ConnectTimeout
	if dl, ok := ctx.Deadline(); ok && time.Until(dl) < timeout {
		timeout = time.Until(dl)
	}
	log := n.opts.Log.With("broker", n.opts.Broker)

	opts := []nats.Option{
		nats.Name(n.opts.ClientId),
		nats.Timeout(timeout),
		nats.PingInterval(mqttPingTimeout),
		nats.MaxPingsOutstanding(3),
		nats.ReconnectWait(natsReconnectWait),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("broker connection lost", "error", err)
			n.connChanged(false)
		}),
		nats.ReconnectHandler(func(*nats.Conn) {
			log.Info("broker reconnected")
			n.connChanged(true)
		}),
	}
	if n.opts.Username != "" {
		opts = append(opts, nats.UserInfo(n.opts.Username, n.opts.Password))
	}
	nc, err := nats.Connect(n.opts.Broker, opts...)
	if err != nil {
		return fmt.Errorf("unable to connect to %s: %w", n.opts.Broker, err)
	}
	n.nc = nc
	n.subs = make(map[string]*nats.Subscription)
	log.Info("broker connected")
	go n.connChanged(true)
	return nil
}

func (n *Nats) Disconnect() {
	n.lock.Lock()
	nc := n.nc
	n.nc = nil
	n.subs = nil
	n.lock.Unlock()
	if nc != nil {
		// Close does not fire the disconnect handler when already closing.
		nc.SetDisconnectErrHandler(nil)
		nc.Close()
		n.connChanged(false)
	}
}

func (n *Nats) IsConnected() bool {
	n.lock.Lock()
	defer n.lock.Unlock()
	return n.nc != nil && n.nc.IsConnected()
}

func (n *Nats) Subscribe(topic string) error {
	n.lock.Lock()
	defer n.lock.Unlock()
	if n.nc == nil || !n.nc.IsConnected() {
		n.opts.Log.Warn("not connected, skipping subscribe", "topic", topic)
		return nil
	}
	// Core NATS subscriptions survive reconnects; re-issuing one is a no-op.
	if _, ok := n.subs[topic]; ok {
		return nil
	}
	sub, err := n.nc.Subscribe(TopicToSubject(topic), func(msg *nats.Msg) {
		n.deliver(SubjectToTopic(msg.Subject), msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	n.subs[topic] = sub
	return n.flush("subscribe", topic)
}

func (n *Nats) Unsubscribe(topic string) error {
	n.lock.Lock()
	defer n.lock.Unlock()
	if n.nc == nil {
		n.opts.Log.Warn("not connected, skipping unsubscribe", "topic", topic)
		return nil
	}
	sub, ok := n.subs[topic]
	if !ok {
		return nil
	}
	delete(n.subs, topic)
	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", topic, err)
	}
	return nil
}

func (n *Nats) Publish(topic string, payload []byte) error {
	return skipNotConnected(n.opts.Log, topic, n.Send(topic, payload))
}

func (n *Nats) Send(topic string, payload []byte) error {
	n.lock.Lock()
	defer n.lock.Unlock()
	if n.nc == nil || !n.nc.IsConnected() {
		return fmt.Errorf("publish %s: %w", topic, ErrNotConnected)
	}
	if err := n.nc.Publish(TopicToSubject(topic), payload); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return n.flush("publish", topic)
}

func (n *Nats) flush(op, topic string) error {
	if err := n.nc.FlushTimeout(n.opts.AckTimeout); err != nil {
		return fmt.Errorf("%s %s: %w", op, topic, err)
	}
	return nil
}
