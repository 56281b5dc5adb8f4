// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package transport

import (
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/foundriesio/dg-ota/context"
)

const (
	mqttQos           = 1
	mqttKeepAlive     = 60 * time.Second
	mqttPingTimeout   = 10 * time.Second
	mqttRetryInterval = 5 * time.Second
	mqttQuiesceMs     = 250
)

type Mqtt struct {
	callbacks
	opts Options

	lock   sync.Mutex
	client mqtt.Client
}

func NewMqtt(opts Options) *Mqtt {
	return &Mqtt{opts: opts.withDefaults()}
}

func (m *Mqtt) Connect(ctx context.Context) error {
	m.lock.Lock()
	if m.client != nil {
		m.lock.Unlock()
		return nil
	}
	log := m.opts.Log.With("broker", m.opts.Broker)

	o := mqtt.NewClientOptions()
	o.AddBroker(m.opts.Broker)
	o.SetClientID(m.opts.ClientId)
	o.SetUsername(m.opts.Username)
	o.SetPassword(m.opts.Password)
	o.SetKeepAlive(mqttKeepAlive)
	o.SetPingTimeout(mqttPingTimeout)
	o.SetConnectTimeout(m.opts.ConnectTimeout)
	o.SetCleanSession(true)
	o.SetAutoReconnect(true)
	o.SetConnectRetry(true)
	o.SetConnectRetryInterval(mqttRetryInterval)
	o.SetMaxReconnectInterval(time.Minute)
	o.SetDefaultPublishHandler(func(_ mqtt.Client, msg mqtt.Message) {
		m.deliver(msg.Topic(), msg.Payload())
	})
	o.SetOnConnectHandler(func(mqtt.Client) {
		log.Info("broker connected")
		m.connChanged(true)
	})
	o.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn("broker connection lost", "error", err)
		m.connChanged(false)
	})
	o.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		log.Info("reconnecting to broker")
	})

	client := mqtt.NewClient(o)
	m.client = client
	m.lock.Unlock()

	// With connect retry the token stays open until the broker answers, so the
	// first connect is bounded here. Later reconnects keep retrying.
	ctx, cancel := context.WithTimeout(ctx, m.opts.ConnectTimeout)
	defer cancel()
	token := client.Connect()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			m.drop(client)
			return fmt.Errorf("unable to connect to %s: %w", m.opts.Broker, err)
		}
		return nil
	case <-ctx.Done():
		m.drop(client)
		return fmt.Errorf("unable to connect to %s: %w", m.opts.Broker, ctx.Err())
	}
}

func (m *Mqtt) drop(client mqtt.Client) {
	client.Disconnect(0)
	m.lock.Lock()
	if m.client == client {
		m.client = nil
	}
	m.lock.Unlock()
}

func (m *Mqtt) Disconnect() {
	m.lock.Lock()
	client := m.client
	m.client = nil
	m.lock.Unlock()
	if client != nil {
		client.Disconnect(mqttQuiesceMs)
		m.connChanged(false)
	}
}

func (m *Mqtt) IsConnected() bool {
	c := m.connected()
	return c != nil
}

func (m *Mqtt) connected() mqtt.Client {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.client != nil && m.client.IsConnectionOpen() {
		return m.client
	}
	return nil
}

func (m *Mqtt) Subscribe(topic string) error {
	c := m.connected()
	if c == nil {
		m.opts.Log.Warn("not connected, skipping subscribe", "topic", topic)
		return nil
	}
	// A nil callback routes messages to the default publish handler.
	return m.wait(c.Subscribe(topic, mqttQos, nil), "subscribe", topic)
}

func (m *Mqtt) Unsubscribe(topic string) error {
	c := m.connected()
	if c == nil {
		m.opts.Log.Warn("not connected, skipping unsubscribe", "topic", topic)
		return nil
	}
	return m.wait(c.Unsubscribe(topic), "unsubscribe", topic)
}

func (m *Mqtt) Publish(topic string, payload []byte) error {
	return skipNotConnected(m.opts.Log, topic, m.Send(topic, payload))
}

func (m *Mqtt) Send(topic string, payload []byte) error {
	c := m.connected()
	if c == nil {
		return fmt.Errorf("publish %s: %w", topic, ErrNotConnected)
	}
	return m.wait(c.Publish(topic, mqttQos, false, payload), "publish", topic)
}

func (m *Mqtt) wait(token mqtt.Token, op, topic string) error {
	if !token.WaitTimeout(m.opts.AckTimeout) {
		return fmt.Errorf("%s %s: %w", op, topic, errAckTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%s %s: %w", op, topic, err)
	}
	return nil
}

var errAckTimeout = errors.New("broker did not acknowledge in time")
