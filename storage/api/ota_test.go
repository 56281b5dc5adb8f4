// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package api

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foundriesio/dg-ota/storage"
)

func TestStorageTaskCreate(t *testing.T) {
	s := newTestStorage(t)
	prod := createProduct(t, s, "sensor")
	other := createProduct(t, s, "camera")
	pkg := createPackage(t, s, prod.Id, "2.0")
	d1 := createDevice(t, s, prod.Id, "dev-1", "1.0")
	d2 := createDevice(t, s, prod.Id, "dev-2", "")
	upToDate := createDevice(t, s, prod.Id, "dev-3", "2.0")
	foreign := createDevice(t, s, other.Id, "dev-4", "")

	_, err := s.TaskCreate(OtaTaskCreate{Name: "t", PackageId: pkg.Id})
	require.NotNil(t, err)
	_, err = s.TaskCreate(OtaTaskCreate{Name: "t", PackageId: "nope", DeviceIds: []string{d1.Id}})
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = s.TaskCreate(OtaTaskCreate{Name: "t", PackageId: pkg.Id, DeviceIds: []string{"nope"}})
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = s.TaskCreate(OtaTaskCreate{Name: "t", PackageId: pkg.Id, DeviceIds: []string{upToDate.Id}})
	assert.True(t, errors.Is(err, ErrIneligible))
	_, err = s.TaskCreate(OtaTaskCreate{Name: "t", PackageId: pkg.Id, DeviceIds: []string{foreign.Id}})
	assert.True(t, errors.Is(err, ErrIneligible))

	task, err := s.TaskCreate(OtaTaskCreate{Name: "rollout", PackageId: pkg.Id, DeviceIds: []string{d1.Id, d2.Id, d1.Id}})
	require.Nil(t, err)
	assert.Equal(t, storage.OtaPending, task.Status)
	assert.ElementsMatch(t, []string{d1.Id, d2.Id}, task.DeviceIds)

	subs, err := s.TaskDevices(task.Id)
	require.Nil(t, err)
	require.Equal(t, 2, len(subs))
	for _, o := range subs {
		assert.Equal(t, storage.OtaPending, o.Status)
		assert.Equal(t, pkg.Id, o.PackageId)
		assert.NotEmpty(t, o.DeviceId)
	}

	// A device with an active sub-task cannot join another task
	_, err = s.TaskCreate(OtaTaskCreate{Name: "again", PackageId: pkg.Id, DeviceIds: []string{d2.Id}})
	assert.True(t, errors.Is(err, ErrIneligible))

	withOta, err := s.DevicesWithOta(prod.Id)
	require.Nil(t, err)
	for _, d := range withOta {
		if d.Id == d1.Id || d.Id == d2.Id {
			assert.True(t, d.HasActiveOta)
			assert.Equal(t, task.Id, d.ActiveOtas[0].TaskId)
		} else {
			assert.False(t, d.HasActiveOta)
		}
	}

	assert.True(t, errors.Is(s.DeviceDelete(d1.Id), ErrInUse))
	assert.True(t, errors.Is(s.PackageDelete(pkg.Id), ErrInUse))

	tasks, err := s.TasksList("")
	require.Nil(t, err)
	assert.Equal(t, 1, len(tasks))
	tasks, err = s.TasksList(storage.OtaRunning)
	require.Nil(t, err)
	assert.Equal(t, 0, len(tasks))

	require.Nil(t, s.TaskDelete(task.Id))
	subs, err = s.TaskDevices(task.Id)
	require.Nil(t, err)
	assert.Equal(t, 0, len(subs))
	assert.True(t, errors.Is(s.TaskDelete(task.Id), ErrNotFound))
}

func TestStorageTaskLifecycle(t *testing.T) {
	s := newTestStorage(t)
	prod := createProduct(t, s, "sensor")
	pkg := createPackage(t, s, prod.Id, "2.0")
	d1 := createDevice(t, s, prod.Id, "dev-1", "1.0")
	d2 := createDevice(t, s, prod.Id, "dev-2", "1.0")

	task, err := s.TaskCreate(OtaTaskCreate{Name: "rollout", PackageId: pkg.Id, DeviceIds: []string{d1.Id, d2.Id}})
	require.Nil(t, err)
	subs, err := s.TaskDevices(task.Id)
	require.Nil(t, err)
	sub1, sub2 := subs[0], subs[1]

	_, err = s.SubTaskTransition(sub1.Id, storage.OtaPending, storage.OtaCompleted, "")
	assert.True(t, errors.Is(err, storage.ErrInvalidTransition))

	ok, err := s.SubTaskTransition(sub1.Id, storage.OtaPending, storage.OtaRunning, "dispatched")
	require.Nil(t, err)
	assert.True(t, ok)
	// Lost race: status no longer pending
	ok, err = s.SubTaskTransition(sub1.Id, storage.OtaPending, storage.OtaRunning, "dispatched")
	require.Nil(t, err)
	assert.False(t, ok)

	task, changed, err := s.TaskRecompute(task.Id)
	require.Nil(t, err)
	assert.True(t, changed)
	assert.Equal(t, storage.OtaRunning, task.Status)

	_, err = s.SubTaskTransition(sub1.Id, storage.OtaRunning, storage.OtaCompleted, "done")
	require.Nil(t, err)
	_, err = s.SubTaskTransition(sub2.Id, storage.OtaPending, storage.OtaRunning, "")
	require.Nil(t, err)
	_, err = s.SubTaskTransition(sub2.Id, storage.OtaRunning, storage.OtaFailed, "disk full")
	require.Nil(t, err)

	task, changed, err = s.TaskRecompute(task.Id)
	require.Nil(t, err)
	assert.True(t, changed)
	assert.Equal(t, storage.OtaCompleted, task.Status)

	// Stopping a finished task is a no-op
	task, err = s.TaskStop(task.Id)
	require.Nil(t, err)
	assert.Equal(t, storage.OtaCompleted, task.Status)

	// Completed devices cannot be retried, failed ones can
	_, err = s.DeviceRetry(sub1.Id, pkg.Id)
	assert.True(t, errors.Is(err, storage.ErrInvalidTransition))
	_, err = s.DeviceRetry(sub2.Id, "nope")
	assert.True(t, errors.Is(err, ErrNotFound))

	pkg2 := createPackage(t, s, prod.Id, "2.1")
	o, err := s.DeviceRetry(sub2.Id, pkg2.Id)
	require.Nil(t, err)
	assert.Equal(t, storage.OtaPending, o.Status)
	assert.Equal(t, pkg2.Id, o.PackageId)
	assert.Empty(t, o.Description)
	task, err = s.TaskGet(task.Id)
	require.Nil(t, err)
	assert.Equal(t, storage.OtaRunning, task.Status)
}

func TestStorageTaskStop(t *testing.T) {
	s := newTestStorage(t)
	prod := createProduct(t, s, "sensor")
	pkg := createPackage(t, s, prod.Id, "2.0")
	d1 := createDevice(t, s, prod.Id, "dev-1", "")
	d2 := createDevice(t, s, prod.Id, "dev-2", "")
	d3 := createDevice(t, s, prod.Id, "dev-3", "")

	task, err := s.TaskCreate(OtaTaskCreate{Name: "rollout", PackageId: pkg.Id, DeviceIds: []string{d1.Id, d2.Id, d3.Id}})
	require.Nil(t, err)
	subs, err := s.TaskDevices(task.Id)
	require.Nil(t, err)

	// Stop a single device: siblings are untouched
	o, err := s.DeviceStop(subs[0].Id)
	require.Nil(t, err)
	assert.Equal(t, storage.OtaStopping, o.Status)
	o, err = s.SubTaskGet(subs[1].Id)
	require.Nil(t, err)
	assert.Equal(t, storage.OtaPending, o.Status)

	_, err = s.SubTaskTransition(subs[1].Id, storage.OtaPending, storage.OtaRunning, "")
	require.Nil(t, err)
	_, err = s.SubTaskTransition(subs[1].Id, storage.OtaRunning, storage.OtaCompleted, "")
	require.Nil(t, err)

	task, err = s.TaskStop(task.Id)
	require.Nil(t, err)
	assert.Equal(t, storage.OtaStopping, task.Status)
	subs, err = s.TaskDevices(task.Id)
	require.Nil(t, err)
	statuses := map[string]storage.OtaStatus{}
	for _, o := range subs {
		statuses[o.DeviceId] = o.Status
	}
	assert.Equal(t, storage.OtaStopping, statuses["dev-1"])
	assert.Equal(t, storage.OtaCompleted, statuses["dev-2"])
	assert.Equal(t, storage.OtaStopping, statuses["dev-3"])

	// Second stop is a no-op
	task, err = s.TaskStop(task.Id)
	require.Nil(t, err)
	assert.Equal(t, storage.OtaStopping, task.Status)

	stopping, err := s.SubTasksByStatus(storage.OtaStopping)
	require.Nil(t, err)
	require.Equal(t, 2, len(stopping))
	for _, o := range stopping {
		_, err = s.DeviceRetry(o.Id, pkg.Id)
		assert.True(t, errors.Is(err, storage.ErrInvalidTransition))
		_, err = s.SubTaskTransition(o.Id, storage.OtaStopping, storage.OtaCanceled, "")
		require.Nil(t, err)
	}
	task, changed, err := s.TaskRecompute(task.Id)
	require.Nil(t, err)
	assert.True(t, changed)
	assert.Equal(t, storage.OtaCanceled, task.Status)

	// Devices are eligible again once the task is finished
	_, err = s.TaskCreate(OtaTaskCreate{Name: "again", PackageId: pkg.Id, DeviceIds: []string{d1.Id}})
	require.Nil(t, err)
}
