// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package daemons

import (
	"time"

	"github.com/foundriesio/dg-ota/context"
	storage "github.com/foundriesio/dg-ota/storage/api"
	"github.com/foundriesio/dg-ota/transport"
)

type daemonFunc func(stop chan bool)

type Option func(*Daemons)

type Daemons struct {
	context   context.Context
	storage   *storage.Storage
	transport transport.Transport
	daemons   []daemonFunc
	stops     []chan bool
	wake      chan struct{}

	dispatchOptions dispatchOptions
}

// New creates the background workers of the store. Without a transport no
// OTA is dispatched and tasks stay pending.
func New(context context.Context, storage *storage.Storage, tr transport.Transport, opts ...Option) *Daemons {
	d := &Daemons{context: context, storage: storage, transport: tr, wake: make(chan struct{}, 1)}
	d.dispatchOptions = dispatchOptions{
		interval: 5 * time.Second,
	}
	if tr != nil {
		d.daemons = []daemonFunc{d.otaDispatcher()}
	}

	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Daemons) Start() {
	for _, f := range d.daemons {
		stop := make(chan bool)
		d.stops = append(d.stops, stop)
		go f(stop)
	}
}

func (d *Daemons) Shutdown() {
	for _, s := range d.stops {
		s <- true
	}
	d.stops = nil
}

// Wake asks the dispatcher to run now instead of at its next tick.
func (d *Daemons) Wake() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}
