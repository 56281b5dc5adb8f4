// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

// Package poller re-fetches store state on a fixed cadence so the console
// converges on what the store and the dispatcher decided.
package poller

import (
	"sync"
	"time"

	"github.com/foundriesio/dg-ota/context"
)

const DefaultInterval = 3 * time.Second

// FetchFunc performs one refresh. Returning false ends the loop.
type FetchFunc func(ctx context.Context) (again bool)

// Loop runs a FetchFunc sequentially: the next fetch is scheduled only after
// the previous one returned, so fetches never overlap.
type Loop struct {
	interval time.Duration
	fetch    FetchFunc

	lock     sync.Mutex
	alive    bool
	inFlight bool
	again    bool
	timer    *time.Timer
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	wg       sync.WaitGroup
}

func NewLoop(interval time.Duration, fetch FetchFunc) *Loop {
	if interval <= 0 {
		interval = DefaultInterval
	}
	done := make(chan struct{})
	close(done)
	return &Loop{interval: interval, fetch: fetch, done: done}
}

// Start fetches immediately and then every interval. It is a no-op on a
// running loop.
func (l *Loop) Start() {
	l.lock.Lock()
	defer l.lock.Unlock()
	if l.alive {
		return
	}
	l.alive = true
	l.again = false
	l.ctx, l.cancel = context.WithCancel(context.Background())
	l.done = make(chan struct{})
	l.schedule(0)
}

// Trigger fetches now. A trigger during a fetch is coalesced into one fetch
// right after it.
func (l *Loop) Trigger() {
	l.lock.Lock()
	defer l.lock.Unlock()
	if !l.alive {
		return
	}
	if l.inFlight {
		l.again = true
		return
	}
	l.schedule(0)
}

// Stop clears the timer, cancels an in-flight fetch and waits for it. Nothing
// is scheduled afterwards. Stop must not be called from the FetchFunc.
func (l *Loop) Stop() {
	l.lock.Lock()
	l.halt()
	l.lock.Unlock()
	l.wg.Wait()
}

// Running reports whether more fetches are expected.
func (l *Loop) Running() bool {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.alive
}

// Done is closed once the loop ended, by Stop or by its FetchFunc.
func (l *Loop) Done() <-chan struct{} {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.done
}

func (l *Loop) halt() {
	if !l.alive {
		return
	}
	l.alive = false
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	l.cancel()
	close(l.done)
}

func (l *Loop) schedule(d time.Duration) {
	if l.timer != nil {
		l.timer.Stop()
	}
	l.timer = time.AfterFunc(d, l.fire)
}

func (l *Loop) fire() {
	l.lock.Lock()
	if !l.alive || l.inFlight {
		l.lock.Unlock()
		return
	}
	l.inFlight = true
	l.timer = nil
	l.wg.Add(1)
	ctx := l.ctx
	l.lock.Unlock()

	again := l.fetch(ctx)

	l.lock.Lock()
	defer l.lock.Unlock()
	defer l.wg.Done()
	l.inFlight = false
	switch {
	case !l.alive:
		// stopped during the fetch
	case !again:
		l.halt()
	case l.again:
		l.again = false
		l.schedule(0)
	default:
		l.schedule(l.interval)
	}
}
