// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package ota

import (
	"fmt"
	"sync"
	"time"

	"github.com/foundriesio/dg-ota/context"
	"github.com/foundriesio/dg-ota/errs"
	"github.com/foundriesio/dg-ota/storage"
)

// FakeStore is an in-memory Store for tests. It applies the same status rules
// as the real store but no eligibility checks.
type FakeStore struct {
	lock    sync.Mutex
	err     error
	seq     int
	calls   map[string]int
	devices []storage.Device
	tasks   []storage.OtaTask
	subs    []storage.OtaDevice
}

func NewFakeStore(devices ...storage.Device) *FakeStore {
	return &FakeStore{devices: devices, calls: make(map[string]int)}
}

func (f *FakeStore) Calls(op string) int {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.calls[op]
}

// Fail makes every following call return err. Pass nil to clear.
func (f *FakeStore) Fail(err error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.err = err
}

func (f *FakeStore) enter(op string) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.calls[op]++
	return f.err
}

func (f *FakeStore) task(id string) *storage.OtaTask {
	for i := range f.tasks {
		if f.tasks[i].Id == id {
			return &f.tasks[i]
		}
	}
	return nil
}

func (f *FakeStore) sub(id string) *storage.OtaDevice {
	for i := range f.subs {
		if f.subs[i].Id == id {
			return &f.subs[i]
		}
	}
	return nil
}

// SetSubStatus moves a sub-task as the dispatcher would and recomputes its
// task.
func (f *FakeStore) SetSubStatus(subId string, status storage.OtaStatus) {
	f.lock.Lock()
	defer f.lock.Unlock()
	s := f.sub(subId)
	s.Status = status
	f.recompute(s.TaskId)
}

func (f *FakeStore) recompute(taskId string) {
	t := f.task(taskId)
	var statuses []storage.OtaStatus
	for _, s := range f.subs {
		if s.TaskId == taskId {
			statuses = append(statuses, s.Status)
		}
	}
	t.Status = storage.AggregateStatus(t.Status, statuses)
}

func (f *FakeStore) TasksList(context.Context) ([]storage.OtaTask, error) {
	if err := f.enter("TasksList"); err != nil {
		return nil, err
	}
	f.lock.Lock()
	defer f.lock.Unlock()
	return append([]storage.OtaTask{}, f.tasks...), nil
}

func (f *FakeStore) TaskGet(_ context.Context, id string) (*storage.OtaTask, error) {
	if err := f.enter("TaskGet"); err != nil {
		return nil, err
	}
	f.lock.Lock()
	defer f.lock.Unlock()
	if t := f.task(id); t != nil {
		cp := *t
		return &cp, nil
	}
	return nil, nil
}

func (f *FakeStore) TaskCreate(_ context.Context, req storage.OtaTaskCreate) (*storage.OtaTask, error) {
	if err := f.enter("TaskCreate"); err != nil {
		return nil, err
	}
	f.lock.Lock()
	defer f.lock.Unlock()
	f.seq++
	t := storage.OtaTask{
		Id:        fmt.Sprintf("task-%d", f.seq),
		Name:      req.Name,
		Status:    storage.OtaPending,
		PackageId: req.PackageId,
		DeviceIds: req.DeviceIds,
		CreatedAt: time.Now(),
	}
	f.tasks = append(f.tasks, t)
	for i, d := range req.DeviceIds {
		f.subs = append(f.subs, storage.OtaDevice{
			Id:        fmt.Sprintf("%s-sub-%d", t.Id, i),
			TaskId:    t.Id,
			DeviceRef: d,
			PackageId: req.PackageId,
			Status:    storage.OtaPending,
		})
	}
	return &t, nil
}

func (f *FakeStore) TaskDelete(_ context.Context, id string) error {
	if err := f.enter("TaskDelete"); err != nil {
		return err
	}
	f.lock.Lock()
	defer f.lock.Unlock()
	for i := range f.tasks {
		if f.tasks[i].Id == id {
			f.tasks = append(f.tasks[:i], f.tasks[i+1:]...)
			return nil
		}
	}
	return errs.Remote("delete task", 404, "not found")
}

func (f *FakeStore) TaskStop(_ context.Context, id string) error {
	if err := f.enter("TaskStop"); err != nil {
		return err
	}
	f.lock.Lock()
	defer f.lock.Unlock()
	t := f.task(id)
	if t == nil || !t.Status.CanTransition(storage.OtaStopping) {
		return nil
	}
	t.Status = storage.OtaStopping
	for i := range f.subs {
		if f.subs[i].TaskId == id && f.subs[i].Status.CanTransition(storage.OtaStopping) {
			f.subs[i].Status = storage.OtaStopping
		}
	}
	return nil
}

func (f *FakeStore) TaskDevices(_ context.Context, taskId string) ([]storage.OtaDevice, error) {
	if err := f.enter("TaskDevices"); err != nil {
		return nil, err
	}
	f.lock.Lock()
	defer f.lock.Unlock()
	var out []storage.OtaDevice
	for _, s := range f.subs {
		if s.TaskId == taskId {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *FakeStore) DeviceStop(_ context.Context, subId string) error {
	if err := f.enter("DeviceStop"); err != nil {
		return err
	}
	f.lock.Lock()
	defer f.lock.Unlock()
	s := f.sub(subId)
	if s == nil {
		return errs.Remote("stop device", 404, "not found")
	}
	if s.Status.CanTransition(storage.OtaStopping) {
		s.Status = storage.OtaStopping
	}
	return nil
}

func (f *FakeStore) DeviceRetry(_ context.Context, req storage.OtaRetry) error {
	if err := f.enter("DeviceRetry"); err != nil {
		return err
	}
	f.lock.Lock()
	defer f.lock.Unlock()
	s := f.sub(req.Id)
	if s == nil || !s.Status.CanRetry() {
		return errs.Remote("retry device", 409, "sub-task cannot be retried")
	}
	s.Status = storage.OtaPending
	s.PackageId = req.PackageId
	if t := f.task(s.TaskId); t.Status.Terminal() {
		t.Status = storage.OtaRunning
	}
	return nil
}

func (f *FakeStore) DevicesWithOta(_ context.Context, productId string) ([]storage.DeviceWithOta, error) {
	if err := f.enter("DevicesWithOta"); err != nil {
		return nil, err
	}
	f.lock.Lock()
	defer f.lock.Unlock()
	var out []storage.DeviceWithOta
	for _, d := range f.devices {
		if productId != "" && d.ProductId != productId {
			continue
		}
		dw := storage.DeviceWithOta{Device: d, ActiveOtas: []storage.OtaDevice{}}
		for _, s := range f.subs {
			if s.DeviceRef == d.Id && s.Status.Active() {
				dw.ActiveOtas = append(dw.ActiveOtas, s)
			}
		}
		dw.HasActiveOta = len(dw.ActiveOtas) > 0
		out = append(out, dw)
	}
	return out, nil
}
