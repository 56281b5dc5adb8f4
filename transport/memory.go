// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package transport

import (
	"errors"
	"slices"
	"sync"

	"github.com/foundriesio/dg-ota/context"
)

type Message struct {
	Topic   string
	Payload []byte
}

// Memory is an in-process broker. Delivery is synchronous on the publisher's
// goroutine, with the broker lock released, so handlers may publish.
type Memory struct {
	lock      sync.Mutex
	clients   []*MemoryClient
	published []Message
}

func NewMemory() *Memory {
	return &Memory{}
}

// Client returns a new, disconnected client of the broker.
func (m *Memory) Client() *MemoryClient {
	c := &MemoryClient{broker: m}
	m.lock.Lock()
	m.clients = append(m.clients, c)
	m.lock.Unlock()
	return c
}

// Published returns every message accepted by the broker so far.
func (m *Memory) Published() []Message {
	m.lock.Lock()
	defer m.lock.Unlock()
	return slices.Clone(m.published)
}

// PublishedTo returns the messages whose topic matches filter.
func (m *Memory) PublishedTo(filter string) []Message {
	var out []Message
	for _, msg := range m.Published() {
		if Match(filter, msg.Topic) {
			out = append(out, msg)
		}
	}
	return out
}

func (m *Memory) route(msg Message) {
	m.lock.Lock()
	m.published = append(m.published, msg)
	var targets []*MemoryClient
	for _, c := range m.clients {
		if c.wants(msg.Topic) {
			targets = append(targets, c)
		}
	}
	m.lock.Unlock()
	for _, c := range targets {
		c.deliver(msg.Topic, slices.Clone(msg.Payload))
	}
}

type MemoryClient struct {
	callbacks
	broker *Memory

	state      sync.Mutex
	connected  bool
	filters    []string
	publishErr error
}

func (c *MemoryClient) Connect(context.Context) error {
	c.state.Lock()
	was := c.connected
	c.connected = true
	c.state.Unlock()
	if !was {
		c.connChanged(true)
	}
	return nil
}

func (c *MemoryClient) Disconnect() {
	c.Drop()
}

// Drop simulates a lost connection: subscriptions are forgotten and the
// connectivity callback fires.
func (c *MemoryClient) Drop() {
	c.state.Lock()
	was := c.connected
	c.connected = false
	c.filters = nil
	c.state.Unlock()
	if was {
		c.connChanged(false)
	}
}

// FailPublish makes every following Publish return err. Pass nil to clear.
func (c *MemoryClient) FailPublish(err error) {
	c.state.Lock()
	defer c.state.Unlock()
	c.publishErr = err
}

func (c *MemoryClient) IsConnected() bool {
	c.state.Lock()
	defer c.state.Unlock()
	return c.connected
}

// Subscriptions returns the active subscription filters.
func (c *MemoryClient) Subscriptions() []string {
	c.state.Lock()
	defer c.state.Unlock()
	return slices.Clone(c.filters)
}

func (c *MemoryClient) Subscribe(topic string) error {
	c.state.Lock()
	defer c.state.Unlock()
	if c.connected && !slices.Contains(c.filters, topic) {
		c.filters = append(c.filters, topic)
	}
	return nil
}

func (c *MemoryClient) Unsubscribe(topic string) error {
	c.state.Lock()
	defer c.state.Unlock()
	c.filters = slices.DeleteFunc(c.filters, func(f string) bool { return f == topic })
	return nil
}

func (c *MemoryClient) Publish(topic string, payload []byte) error {
	if err := c.Send(topic, payload); !errors.Is(err, ErrNotConnected) {
		return err
	}
	return nil
}

func (c *MemoryClient) Send(topic string, payload []byte) error {
	c.state.Lock()
	connected, err := c.connected, c.publishErr
	c.state.Unlock()
	if err != nil {
		return err
	} else if !connected {
		return ErrNotConnected
	}
	c.broker.route(Message{Topic: topic, Payload: slices.Clone(payload)})
	return nil
}

func (c *MemoryClient) wants(topic string) bool {
	c.state.Lock()
	defer c.state.Unlock()
	if !c.connected {
		return false
	}
	for _, f := range c.filters {
		if Match(f, topic) {
			return true
		}
	}
	return false
}
