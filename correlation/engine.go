// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

// Package correlation matches device requests to their asynchronous responses
// using the request id embedded in the request and response topics.
package correlation

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/foundriesio/dg-ota/context"
	"github.com/foundriesio/dg-ota/errs"
	"github.com/foundriesio/dg-ota/transport"
)

const DefaultTimeout = 30 * time.Second

// Response is the body of a command or property-set response.
type Response struct {
	Ok     bool                       `json:"ok"`
	Msg    string                     `json:"msg,omitempty"`
	Fields map[string]json.RawMessage `json:"-"`
}

func parseResponse(payload []byte) (*Response, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, err
	}
	r := &Response{Fields: fields}
	if raw, ok := fields["ok"]; ok {
		if err := json.Unmarshal(raw, &r.Ok); err != nil {
			return nil, fmt.Errorf("invalid ok field: %w", err)
		}
	}
	if raw, ok := fields["msg"]; ok {
		_ = json.Unmarshal(raw, &r.Msg)
	}
	return r, nil
}

// Pending is one outstanding request. It completes exactly once: with the
// first matching response, a timeout, cancellation or engine shutdown.
type Pending struct {
	Id        string
	DeviceId  string
	Kind      transport.Kind
	CreatedAt time.Time

	topic string
	once  sync.Once
	done  chan struct{}
	resp  *Response
	err   error
}

func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Result is valid once Done is closed.
func (p *Pending) Result() (*Response, error) {
	return p.resp, p.err
}

func (p *Pending) finish(resp *Response, err error) bool {
	first := false
	p.once.Do(func() {
		p.resp, p.err = resp, err
		close(p.done)
		first = true
	})
	return first
}

type Option func(*Engine)

func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// Engine does not install itself as the transport's message handler; the
// owner of the transport routes inbound messages through HandleMessage.
type Engine struct {
	tr      transport.Transport
	timeout time.Duration
	log     *slog.Logger
	nonce   string
	now     func() time.Time

	lock    sync.Mutex
	last    int64
	closed  bool
	pending map[string]*Pending
}

func New(tr transport.Transport, opts ...Option) *Engine {
	e := &Engine{
		tr:      tr,
		timeout: DefaultTimeout,
		log:     slog.Default(),
		nonce:   uuid.NewString()[:8],
		now:     time.Now,
		pending: make(map[string]*Pending),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Timeout() time.Duration {
	return e.timeout
}

// nextId must be called with the lock held. Ids are strictly increasing per
// engine even when several are issued within one millisecond.
func (e *Engine) nextId() string {
	ms := e.now().UnixMilli()
	if ms <= e.last {
		ms = e.last + 1
	}
	e.last = ms
	return strconv.FormatInt(ms, 10) + "-" + e.nonce
}

// Issue registers a pending request, subscribes to its response topic and only
// then publishes the request.
func (e *Engine) Issue(deviceId string, kind transport.Kind, payload []byte) (*Pending, error) {
	e.lock.Lock()
	if e.closed {
		e.lock.Unlock()
		return nil, errs.ErrClosed
	}
	p := &Pending{
		Id:        e.nextId(),
		DeviceId:  deviceId,
		Kind:      kind,
		CreatedAt: e.now(),
		done:      make(chan struct{}),
	}
	p.topic = transport.Response(deviceId, kind, p.Id)
	e.pending[p.Id] = p
	e.lock.Unlock()

	log := e.log.With("device", deviceId, "request_id", p.Id, "kind", kind.String())
	op := "send " + kind.String()
	if err := e.tr.Subscribe(p.topic); err != nil {
		e.remove(p)
		return nil, errs.Network(op, err)
	}
	if err := e.tr.Publish(transport.Request(deviceId, kind, p.Id), payload); err != nil {
		e.remove(p)
		e.unsubscribe(p)
		return nil, errs.Network(op, err)
	}
	log.Debug("request issued")
	return p, nil
}

// Await blocks until p completes, ctx is done or the engine timeout elapses.
// A timed out or cancelled request is forgotten; a late response is dropped.
func (e *Engine) Await(ctx context.Context, p *Pending) (*Response, error) {
	timer := time.NewTimer(e.timeout)
	defer timer.Stop()
	select {
	case <-p.done:
	case <-timer.C:
		e.complete(p, nil, errs.ErrTimeout)
	case <-ctx.Done():
		e.complete(p, nil, ctx.Err())
	}
	return p.Result()
}

// Call issues a request and waits for its response. An `ok:false` response is
// returned as a RemoteError carrying the device message.
func (e *Engine) Call(ctx context.Context, deviceId string, kind transport.Kind, payload []byte) (*Response, error) {
	p, err := e.Issue(deviceId, kind, payload)
	if err != nil {
		return nil, err
	}
	return e.Await(ctx, p)
}

// HandleMessage completes the pending request matching a response topic. It
// returns false when topic is not a response topic at all.
func (e *Engine) HandleMessage(topic string, payload []byte) bool {
	deviceId, kind, id, ok := transport.ParseResponse(topic)
	if !ok {
		return false
	}
	e.lock.Lock()
	p := e.pending[id]
	e.lock.Unlock()
	if p == nil || p.DeviceId != deviceId || p.Kind != kind {
		e.log.Debug("dropping unmatched response", "topic", topic, "request_id", id)
		return true
	}

	op := kind.String() + " on " + deviceId
	resp, err := parseResponse(payload)
	switch {
	case err != nil:
		e.log.Warn("malformed device response", "topic", topic, "error", err)
		err = errs.Remote(op, 0, "")
	case !resp.Ok:
		err = errs.Remote(op, 0, resp.Msg)
	}
	e.complete(p, resp, err)
	return true
}

// Len returns the number of outstanding requests.
func (e *Engine) Len() int {
	e.lock.Lock()
	defer e.lock.Unlock()
	return len(e.pending)
}

// Close fails every outstanding request with errs.ErrClosed. Issue fails
// afterwards.
func (e *Engine) Close() {
	e.lock.Lock()
	e.closed = true
	pending := e.pending
	e.pending = make(map[string]*Pending)
	e.lock.Unlock()
	for _, p := range pending {
		e.unsubscribe(p)
		p.finish(nil, errs.ErrClosed)
	}
}

func (e *Engine) complete(p *Pending, resp *Response, err error) {
	if !e.remove(p) {
		return
	}
	e.unsubscribe(p)
	if p.finish(resp, err) && err != nil && !errors.Is(err, errs.ErrClosed) {
		e.log.Debug("request failed", "device", p.DeviceId, "request_id", p.Id, "error", err)
	}
}

func (e *Engine) remove(p *Pending) bool {
	e.lock.Lock()
	defer e.lock.Unlock()
	if e.pending[p.Id] != p {
		return false
	}
	delete(e.pending, p.Id)
	return true
}

func (e *Engine) unsubscribe(p *Pending) {
	if err := e.tr.Unsubscribe(p.topic); err != nil {
		e.log.Warn("unable to unsubscribe response topic", "topic", p.topic, "error", err)
	}
}
