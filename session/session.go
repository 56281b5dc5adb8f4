// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

// Package session drives live interaction with one device: telemetry
// subscriptions, property updates, command invocation and agent restarts.
package session

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/foundriesio/dg-ota/context"
	"github.com/foundriesio/dg-ota/correlation"
	"github.com/foundriesio/dg-ota/errs"
	"github.com/foundriesio/dg-ota/storage"
	"github.com/foundriesio/dg-ota/transport"
)

const MessageHistory = 50

// Snapshot is the last property report of a device. Reports carry no ordering
// field, so the most recently received one wins.
type Snapshot struct {
	Values     map[string]any
	ReceivedAt time.Time
}

type Message struct {
	Topic      string
	Payload    json.RawMessage
	ReceivedAt time.Time
}

type Option func(*Session)

// WithSharedTransport marks the transport as owned by the caller. The caller
// connects it, routes inbound messages to HandleMessage and connectivity
// events to ConnectionChanged. Close leaves it connected.
func WithSharedTransport() Option {
	return func(s *Session) { s.shared = true }
}

func WithTimeout(d time.Duration) Option {
	return func(s *Session) { s.timeout = d }
}

func WithDefinitions(src DefinitionSource) Option {
	return func(s *Session) { s.defs = src }
}

func WithLogger(log *slog.Logger) Option {
	return func(s *Session) { s.log = log }
}

func WithReportHandler(f func(Snapshot)) Option {
	return func(s *Session) { s.onReport = f }
}

func WithMessageHandler(f func(Message)) Option {
	return func(s *Session) { s.onMessage = f }
}

type Session struct {
	deviceId string
	tr       transport.Transport
	shared   bool
	timeout  time.Duration
	defs     DefinitionSource
	log      *slog.Logger
	engine   *correlation.Engine
	now      func() time.Time

	onReport  func(Snapshot)
	onMessage func(Message)

	lock     sync.Mutex
	open     bool
	closed   bool
	snapshot Snapshot
	history  []Message
}

func New(deviceId string, tr transport.Transport, opts ...Option) *Session {
	s := &Session{
		deviceId: deviceId,
		tr:       tr,
		log:      slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("device", deviceId)
	s.engine = correlation.New(tr, correlation.WithTimeout(s.timeout), correlation.WithLogger(s.log))
	return s
}

func (s *Session) DeviceId() string {
	return s.deviceId
}

func (s *Session) topics() []string {
	return []string{
		transport.MessagesUp(s.deviceId),
		transport.PropertiesReport(s.deviceId),
		transport.EventsUp(s.deviceId),
	}
}

// Open connects the transport, unless shared, and subscribes to the device
// telemetry. Subscriptions are re-issued on every reconnect. A closed
// session cannot be reopened.
func (s *Session) Open(ctx context.Context) error {
	s.lock.Lock()
	if s.closed {
		s.lock.Unlock()
		return errs.ErrClosed
	} else if s.open {
		s.lock.Unlock()
		return nil
	}
	s.open = true
	s.lock.Unlock()

	if !s.shared {
		s.tr.OnMessage(s.HandleMessage)
		s.tr.OnConnectionChange(s.ConnectionChanged)
		if err := s.tr.Connect(ctx); err != nil {
			s.lock.Lock()
			s.open = false
			s.lock.Unlock()
			return errs.Network("connect", err)
		}
	}
	return s.subscribe()
}

func (s *Session) subscribe() error {
	for _, topic := range s.topics() {
		if err := s.tr.Subscribe(topic); err != nil {
			return errs.Network("subscribe", err)
		}
	}
	return nil
}

func (s *Session) isOpen() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.open
}

func (s *Session) ConnectionChanged(connected bool) {
	if !connected || !s.isOpen() {
		return
	}
	s.log.Info("re-subscribing after reconnect")
	if err := s.subscribe(); err != nil {
		s.log.Warn("unable to re-subscribe", "error", err)
	}
}

// Close fails outstanding requests, drops the telemetry subscriptions and
// disconnects the transport unless it is shared.
func (s *Session) Close() {
	s.lock.Lock()
	if !s.open {
		s.lock.Unlock()
		return
	}
	s.open = false
	s.closed = true
	s.lock.Unlock()

	s.engine.Close()
	for _, topic := range s.topics() {
		if err := s.tr.Unsubscribe(topic); err != nil {
			s.log.Warn("unable to unsubscribe", "topic", topic, "error", err)
		}
	}
	if !s.shared {
		s.tr.Disconnect()
	}
}

// HandleMessage routes one inbound message. Messages for other devices are
// ignored.
func (s *Session) HandleMessage(topic string, payload []byte) {
	if s.engine.HandleMessage(topic, payload) {
		return
	}
	if dev, ok := transport.DeviceOf(topic); !ok || dev != s.deviceId {
		return
	}
	now := s.now()
	switch topic {
	case transport.PropertiesReport(s.deviceId):
		var values map[string]any
		if err := json.Unmarshal(payload, &values); err != nil {
			s.log.Warn("ignoring malformed property report", "error", err)
			return
		}
		snap := Snapshot{Values: values, ReceivedAt: now}
		s.lock.Lock()
		s.snapshot = snap
		s.lock.Unlock()
		if s.onReport != nil {
			s.onReport(snap)
		}
	case transport.MessagesUp(s.deviceId), transport.EventsUp(s.deviceId):
		msg := Message{Topic: topic, Payload: slices.Clone(payload), ReceivedAt: now}
		s.lock.Lock()
		s.history = append(s.history, msg)
		if over := len(s.history) - MessageHistory; over > 0 {
			s.history = slices.Delete(s.history, 0, over)
		}
		s.lock.Unlock()
		if s.onMessage != nil {
			s.onMessage(msg)
		}
	}
}

func (s *Session) Snapshot() Snapshot {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.snapshot
}

// Messages returns up to MessageHistory recent messages, oldest first.
func (s *Session) Messages() []Message {
	s.lock.Lock()
	defer s.lock.Unlock()
	return slices.Clone(s.history)
}

func (s *Session) Pending() int {
	return s.engine.Len()
}

func (s *Session) definitions() (DefinitionSource, error) {
	if s.defs == nil {
		return nil, fmt.Errorf("session for %s has no definition source", s.deviceId)
	}
	return s.defs, nil
}

// SetProperty writes one property. values must carry the property's name.
func (s *Session) SetProperty(ctx context.Context, propertyId string, values map[string]any) (*correlation.Response, error) {
	if !s.isOpen() {
		return nil, errs.ErrClosed
	}
	defs, err := s.definitions()
	if err != nil {
		return nil, err
	}
	prop, err := defs.PropertyGet(ctx, propertyId)
	if err != nil {
		return nil, err
	} else if prop == nil {
		return nil, errs.Validation("property", "unknown property %s", propertyId)
	}
	if !prop.Writable() {
		return nil, errs.Validation(prop.Name, "property is read only")
	}
	v, ok := values[prop.Name]
	if !ok {
		return nil, errs.Validation(prop.Name, "a value is required")
	}
	if err := checkValue(prop.Name, prop.Type, prop.DataRange, v); err != nil {
		return nil, err
	}
	payload, err := buildPayload(prop.Id, prop.RequestUrl, prop.RequestMethod, values)
	if err != nil {
		return nil, err
	}
	s.log.Info("setting property", "property", prop.Name)
	return s.engine.Call(ctx, s.deviceId, transport.KindPropertySet, payload)
}

// InvokeCommand sends one command. Every request parameter must be supplied.
func (s *Session) InvokeCommand(ctx context.Context, commandId string, values map[string]any) (*correlation.Response, error) {
	if !s.isOpen() {
		return nil, errs.ErrClosed
	}
	defs, err := s.definitions()
	if err != nil {
		return nil, err
	}
	cmd, err := defs.CommandGet(ctx, commandId)
	if err != nil {
		return nil, err
	} else if cmd == nil {
		return nil, errs.Validation("command", "unknown command %s", commandId)
	}
	for _, p := range cmd.ReqParams {
		v, ok := values[p.Name]
		if !ok {
			return nil, errs.Validation(p.Name, "a value is required")
		}
		if err := checkValue(p.Name, p.Type, p.DataRange, v); err != nil {
			return nil, err
		}
	}
	payload, err := buildPayload(cmd.Id, cmd.RequestUrl, cmd.RequestMethod, values)
	if err != nil {
		return nil, err
	}
	s.log.Info("invoking command", "command", cmd.Name)
	return s.engine.Call(ctx, s.deviceId, transport.KindCommand, payload)
}

// RequestProperties asks the device to report its properties now.
func (s *Session) RequestProperties(ctx context.Context) error {
	if !s.isOpen() {
		return errs.ErrClosed
	}
	if err := s.tr.Publish(transport.PropertiesGet(s.deviceId), []byte("{}")); err != nil {
		return errs.Network("request properties", err)
	}
	return nil
}

type restartMessage struct {
	Type           string `json:"type"`
	IsCustomDevice bool   `json:"isCustomDevice"`
	Directory      string `json:"directory"`
	EntryName      string `json:"entryName"`
	CondaEnv       string `json:"condaEnv,omitempty"`
	StartCommand   string `json:"startCommand,omitempty"`
}

// RestartAgent asks the device to restart the agent process of a binding.
func (s *Session) RestartAgent(ctx context.Context, agent storage.AgentDevice) error {
	if !s.isOpen() {
		return errs.ErrClosed
	}
	if agent.Target == nil {
		return errs.Validation("device", "agent binding has no target")
	}
	msg, err := json.Marshal(restartMessage{
		Type:           "restart",
		IsCustomDevice: agent.IsCustom(),
		Directory:      agent.Directory,
		EntryName:      agent.EntryName,
		CondaEnv:       agent.CondaEnv,
		StartCommand:   agent.StartCommand,
	})
	if err != nil {
		return err
	}
	context.CtxGetLog(ctx).Info("restarting agent", "device", s.deviceId, "agent", agent.Target.Label())
	if err := s.tr.Publish(transport.MessagesDown(s.deviceId), msg); err != nil {
		return errs.Network("restart agent", err)
	}
	return nil
}

func buildPayload(id, url, method string, values map[string]any) ([]byte, error) {
	body := make(map[string]any, len(values)+3)
	for k, v := range values {
		body[k] = v
	}
	body["optionValue"] = id
	if url != "" {
		body["requestUrl"] = url
	}
	if method != "" {
		body["requestMethod"] = method
	}
	return json.Marshal(body)
}

func checkValue(field string, typ storage.DataType, dataRange []float64, v any) error {
	if !typ.Numeric() {
		return nil
	}
	f, ok := toFloat(v)
	if !ok {
		return errs.Validation(field, "%v is not a number", v)
	}
	if typ != storage.DataTypeDecimal && f != float64(int64(f)) {
		return errs.Validation(field, "%v is not an integer", v)
	}
	if len(dataRange) == 2 && (f < dataRange[0] || f > dataRange[1]) {
		return errs.Validation(field, "%v is outside [%v, %v]", v, dataRange[0], dataRange[1])
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}
