// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package poller

import (
	"sync"
	"time"

	"github.com/foundriesio/dg-ota/context"
	"github.com/foundriesio/dg-ota/errs"
	"github.com/foundriesio/dg-ota/ota"
	"github.com/foundriesio/dg-ota/storage"
)

// ListPoller refreshes the filtered task list for as long as it runs. Fetch
// errors are reported and the next cycle tries again.
type ListPoller struct {
	Scheduler *ota.Scheduler
	Interval  time.Duration
	OnUpdate  func([]storage.OtaTask)
	OnError   func(error)

	lock   sync.Mutex
	filter ota.Filter
	loop   *Loop
}

func (p *ListPoller) Start() {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.loop == nil {
		p.loop = NewLoop(p.Interval, p.fetch)
	}
	p.loop.Start()
}

// SetFilter replaces the filter and refreshes right away.
func (p *ListPoller) SetFilter(f ota.Filter) {
	p.lock.Lock()
	p.filter = f
	loop := p.loop
	p.lock.Unlock()
	if loop != nil {
		loop.Trigger()
	}
}

func (p *ListPoller) Filter() ota.Filter {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.filter
}

func (p *ListPoller) Stop() {
	p.lock.Lock()
	loop := p.loop
	p.lock.Unlock()
	if loop != nil {
		loop.Stop()
	}
}

func (p *ListPoller) fetch(ctx context.Context) bool {
	tasks, err := p.Scheduler.ListTasks(ctx, p.Filter())
	if ctx.Err() != nil {
		return false
	}
	if err != nil {
		if p.OnError != nil {
			p.OnError(err)
		}
		return true
	}
	if p.OnUpdate != nil {
		p.OnUpdate(tasks)
	}
	return true
}

type Detail struct {
	Task    storage.OtaTask
	Devices []storage.OtaDevice
}

// DetailPoller follows one task while it is active. Opening another task
// stops the previous loop first.
type DetailPoller struct {
	Scheduler *ota.Scheduler
	Interval  time.Duration
	OnUpdate  func(Detail)
	OnError   func(error)

	lock   sync.Mutex
	taskId string
	loop   *Loop
}

// Open fetches the task immediately and keeps polling until it is terminal.
func (p *DetailPoller) Open(taskId string) {
	p.Close()
	loop := NewLoop(p.Interval, func(ctx context.Context) bool {
		return p.fetch(ctx, taskId)
	})
	p.lock.Lock()
	p.taskId = taskId
	p.loop = loop
	p.lock.Unlock()
	loop.Start()
}

func (p *DetailPoller) TaskId() string {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.taskId
}

// Polling reports whether another refresh is expected.
func (p *DetailPoller) Polling() bool {
	p.lock.Lock()
	loop := p.loop
	p.lock.Unlock()
	return loop != nil && loop.Running()
}

// Done is closed when polling ended.
func (p *DetailPoller) Done() <-chan struct{} {
	p.lock.Lock()
	loop := p.loop
	p.lock.Unlock()
	if loop == nil {
		done := make(chan struct{})
		close(done)
		return done
	}
	return loop.Done()
}

func (p *DetailPoller) Close() {
	p.lock.Lock()
	loop := p.loop
	p.loop = nil
	p.taskId = ""
	p.lock.Unlock()
	if loop != nil {
		loop.Stop()
	}
}

func (p *DetailPoller) fetch(ctx context.Context, taskId string) bool {
	task, err := p.Scheduler.GetTask(ctx, taskId)
	var devices []storage.OtaDevice
	if err == nil {
		devices, err = p.Scheduler.TaskDevices(ctx, taskId)
	}
	if ctx.Err() != nil {
		return false
	}
	if err != nil {
		if p.OnError != nil {
			p.OnError(err)
		}
		// A deleted task will not come back.
		return !errs.IsNotFound(err)
	}
	if p.OnUpdate != nil {
		p.OnUpdate(Detail{Task: *task, Devices: devices})
	}
	return task.Status.Active()
}
