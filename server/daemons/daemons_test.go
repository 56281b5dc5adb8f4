// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package daemons

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foundriesio/dg-ota/context"
	"github.com/foundriesio/dg-ota/storage"
	api "github.com/foundriesio/dg-ota/storage/api"
	"github.com/foundriesio/dg-ota/transport"
)

type testBench struct {
	t       *testing.T
	ctx     context.Context
	storage *api.Storage
	broker  *transport.Memory
	server  *transport.MemoryClient
	device  *transport.MemoryClient
	daemons *Daemons

	pkg     api.Package
	devices []api.Device
}

func newTestBench(t *testing.T, numDevices int, opts ...Option) *testBench {
	tmpdir := t.TempDir()
	db, err := storage.NewDb(filepath.Join(tmpdir, storage.DbFile))
	require.Nil(t, err)
	t.Cleanup(func() { _ = db.Close() })
	fs, err := storage.NewFs(tmpdir)
	require.Nil(t, err)
	s, err := api.NewStorage(db, fs)
	require.Nil(t, err)

	prod := api.Product{Name: "sensor", Type: "gateway", Protocol: "mqtt"}
	require.Nil(t, s.ProductSave(&prod))
	pkg := api.Package{Name: "fw", Version: "2.0", ProductId: prod.Id}
	require.Nil(t, s.PackageCreate(&pkg, strings.NewReader("firmware")))

	tb := &testBench{t: t, ctx: context.Background(), storage: s, broker: transport.NewMemory(), pkg: pkg}
	for i := range numDevices {
		d := api.Device{Name: fmt.Sprintf("device %d", i), DeviceId: fmt.Sprintf("dev-%d", i), ProductId: prod.Id, Version: "1.0"}
		require.Nil(t, s.DeviceSave(&d))
		tb.devices = append(tb.devices, d)
	}

	tb.server = tb.broker.Client()
	tb.device = tb.broker.Client()
	tb.daemons = New(tb.ctx, s, tb.server, opts...)
	require.Nil(t, tb.server.Connect(tb.ctx))
	require.Nil(t, tb.device.Connect(tb.ctx))
	require.Nil(t, tb.device.Subscribe("/devices/+/sys/events/down"))
	return tb
}

func (tb *testBench) createTask() *api.OtaTask {
	ids := make([]string, len(tb.devices))
	for i, d := range tb.devices {
		ids[i] = d.Id
	}
	task, err := tb.storage.TaskCreate(api.OtaTaskCreate{Name: "rollout", PackageId: tb.pkg.Id, DeviceIds: ids})
	require.Nil(tb.t, err)
	return task
}

func (tb *testBench) received(deviceId string) []otaDown {
	var out []otaDown
	for _, msg := range tb.broker.PublishedTo(transport.EventsDown(deviceId)) {
		var ev otaDown
		require.Nil(tb.t, json.Unmarshal(msg.Payload, &ev))
		out = append(out, ev)
	}
	return out
}

func (tb *testBench) report(deviceId, otaId, status, version string) {
	payload := fmt.Sprintf(`{"type":"ota","otaId":"%s","status":"%s","description":"step","version":"%s"}`,
		otaId, status, version)
	require.Nil(tb.t, tb.device.Publish(transport.EventsUp(deviceId), []byte(payload)))
}

func (tb *testBench) subs(taskId string) map[string]api.OtaDevice {
	subs, err := tb.storage.TaskDevices(taskId)
	require.Nil(tb.t, err)
	res := map[string]api.OtaDevice{}
	for _, o := range subs {
		res[o.DeviceId] = o
	}
	return res
}

func (tb *testBench) taskStatus(taskId string) storage.OtaStatus {
	task, err := tb.storage.TaskGet(taskId)
	require.Nil(tb.t, err)
	require.NotNil(tb.t, task)
	return task.Status
}

func TestDispatchOta(t *testing.T) {
	tb := newTestBench(t, 2)
	assert.Equal(t, []string{transport.AllEventsUp}, tb.server.Subscriptions())
	task := tb.createTask()

	tb.daemons.dispatch()
	assert.Equal(t, storage.OtaRunning, tb.taskStatus(task.Id))
	subs := tb.subs(task.Id)
	for _, d := range tb.devices {
		o := subs[d.DeviceId]
		assert.Equal(t, storage.OtaRunning, o.Status)
		events := tb.received(d.DeviceId)
		require.Equal(t, 1, len(events))
		assert.Equal(t, eventOta, events[0].Type)
		assert.Equal(t, o.Id, events[0].OtaId)
		assert.Equal(t, task.Id, events[0].TaskId)
		require.NotNil(t, events[0].Package)
		assert.Equal(t, "2.0", events[0].Package.Version)
		assert.Equal(t, tb.pkg.Md5, events[0].Package.Md5)
		assert.Equal(t, "/packages/download/"+tb.pkg.Id, events[0].Package.Url)
	}

	// Running devices are not dispatched twice
	tb.daemons.dispatch()
	assert.Equal(t, 1, len(tb.received("dev-0")))

	tb.report("dev-0", subs["dev-0"].Id, "running", "")
	assert.Equal(t, "step", tb.subs(task.Id)["dev-0"].Description)
	tb.report("dev-0", subs["dev-0"].Id, "completed", "2.0")
	assert.Equal(t, storage.OtaRunning, tb.taskStatus(task.Id))
	tb.report("dev-1", subs["dev-1"].Id, "failed", "")

	subs = tb.subs(task.Id)
	assert.Equal(t, storage.OtaCompleted, subs["dev-0"].Status)
	assert.Equal(t, storage.OtaFailed, subs["dev-1"].Status)
	// One device succeeded, so the task completed
	assert.Equal(t, storage.OtaCompleted, tb.taskStatus(task.Id))

	d, err := tb.storage.DeviceGet(tb.devices[0].Id)
	require.Nil(t, err)
	assert.Equal(t, "2.0", d.Version)
	d, err = tb.storage.DeviceGet(tb.devices[1].Id)
	require.Nil(t, err)
	assert.Equal(t, "1.0", d.Version)

	var lines []string
	for line, err := range tb.storage.DeviceOtaEvents(tb.devices[0].Id, task.Id) {
		require.Nil(t, err)
		lines = append(lines, line)
	}
	assert.Equal(t, 2, len(lines))

	// Retry reopens the task and the dispatcher sends the OTA again
	_, err = tb.storage.DeviceRetry(subs["dev-1"].Id, tb.pkg.Id)
	require.Nil(t, err)
	assert.Equal(t, storage.OtaRunning, tb.taskStatus(task.Id))
	tb.daemons.dispatch()
	assert.Equal(t, 2, len(tb.received("dev-1")))
	tb.report("dev-1", subs["dev-1"].Id, "completed", "")
	assert.Equal(t, storage.OtaCompleted, tb.taskStatus(task.Id))
	d, err = tb.storage.DeviceGet(tb.devices[1].Id)
	require.Nil(t, err)
	assert.Equal(t, "2.0", d.Version, "package version is used when the report has none")
}

func TestDispatchReportBeforeRunning(t *testing.T) {
	tb := newTestBench(t, 1)
	task := tb.createTask()
	o := tb.subs(task.Id)["dev-0"]

	tb.report("dev-0", o.Id, "completed", "2.0")
	assert.Equal(t, storage.OtaCompleted, tb.subs(task.Id)["dev-0"].Status)
	assert.Equal(t, storage.OtaCompleted, tb.taskStatus(task.Id))

	tb.daemons.dispatch()
	assert.Equal(t, 0, len(tb.received("dev-0")))
}

func TestDispatchCancel(t *testing.T) {
	tb := newTestBench(t, 2)
	task := tb.createTask()
	tb.daemons.dispatch()
	subs := tb.subs(task.Id)
	tb.report("dev-0", subs["dev-0"].Id, "completed", "")

	_, err := tb.storage.TaskStop(task.Id)
	require.Nil(t, err)
	assert.Equal(t, storage.OtaStopping, tb.taskStatus(task.Id))

	tb.daemons.dispatch()
	events := tb.received("dev-1")
	require.Equal(t, 2, len(events))
	assert.Equal(t, eventOtaCancel, events[1].Type)
	assert.Equal(t, subs["dev-1"].Id, events[1].OtaId)
	assert.Nil(t, events[1].Package)
	assert.Equal(t, 1, len(tb.received("dev-0")))

	subs = tb.subs(task.Id)
	assert.Equal(t, storage.OtaCompleted, subs["dev-0"].Status)
	assert.Equal(t, storage.OtaCanceled, subs["dev-1"].Status)
	assert.Equal(t, storage.OtaCanceled, tb.taskStatus(task.Id))

	// Late progress of a canceled device is ignored
	tb.report("dev-1", subs["dev-1"].Id, "completed", "")
	assert.Equal(t, storage.OtaCanceled, tb.subs(task.Id)["dev-1"].Status)
}

func TestDispatchStopDevice(t *testing.T) {
	tb := newTestBench(t, 2)
	task := tb.createTask()
	subs := tb.subs(task.Id)

	// Stopped before it was ever dispatched
	_, err := tb.storage.DeviceStop(subs["dev-0"].Id)
	require.Nil(t, err)
	tb.daemons.dispatch()

	events := tb.received("dev-0")
	require.Equal(t, 1, len(events))
	assert.Equal(t, eventOtaCancel, events[0].Type)
	subs = tb.subs(task.Id)
	assert.Equal(t, storage.OtaCanceled, subs["dev-0"].Status)
	assert.Equal(t, storage.OtaRunning, subs["dev-1"].Status)
	assert.Equal(t, storage.OtaRunning, tb.taskStatus(task.Id))
}

func TestDispatchNotConnected(t *testing.T) {
	tb := newTestBench(t, 1)
	task := tb.createTask()
	tb.server.Drop()

	tb.daemons.dispatch()
	assert.Equal(t, 0, len(tb.received("dev-0")))
	assert.Equal(t, storage.OtaPending, tb.subs(task.Id)["dev-0"].Status)
	assert.Equal(t, storage.OtaPending, tb.taskStatus(task.Id))

	// A failed publish leaves the device pending for the next run
	require.Nil(t, tb.server.Connect(tb.ctx))
	assert.Equal(t, []string{transport.AllEventsUp}, tb.server.Subscriptions())
	tb.server.FailPublish(errors.New("broker gone"))
	tb.daemons.dispatch()
	assert.Equal(t, storage.OtaPending, tb.subs(task.Id)["dev-0"].Status)

	tb.server.FailPublish(nil)
	tb.daemons.dispatch()
	assert.Equal(t, storage.OtaRunning, tb.subs(task.Id)["dev-0"].Status)
}

func TestDispatchConnectionLostMidway(t *testing.T) {
	tb := newTestBench(t, 3)
	task := tb.createTask()
	dropped := false
	tb.device.OnMessage(func(topic string, payload []byte) {
		if !dropped {
			dropped = true
			tb.server.Drop()
		}
	})

	tb.daemons.dispatch()
	subs := tb.subs(task.Id)
	running := 0
	for _, d := range tb.devices {
		o := subs[d.DeviceId]
		if o.Status == storage.OtaRunning {
			running++
			assert.Equal(t, 1, len(tb.received(d.DeviceId)), d.DeviceId)
		} else {
			assert.Equal(t, storage.OtaPending, o.Status, d.DeviceId)
			assert.Equal(t, 0, len(tb.received(d.DeviceId)), d.DeviceId)
		}
	}
	assert.Equal(t, 1, running)

	require.Nil(t, tb.server.Connect(tb.ctx))
	tb.daemons.dispatch()
	subs = tb.subs(task.Id)
	for _, d := range tb.devices {
		assert.Equal(t, storage.OtaRunning, subs[d.DeviceId].Status, d.DeviceId)
		assert.Equal(t, 1, len(tb.received(d.DeviceId)), d.DeviceId)
	}
}

func TestDispatchIgnoresStrangers(t *testing.T) {
	tb := newTestBench(t, 2)
	task := tb.createTask()
	tb.daemons.dispatch()
	subs := tb.subs(task.Id)

	// dev-1 cannot report progress for dev-0
	tb.report("dev-1", subs["dev-0"].Id, "completed", "")
	tb.report("dev-0", "unknown", "completed", "")
	tb.report("dev-0", subs["dev-0"].Id, "exploded", "")
	require.Nil(t, tb.device.Publish(transport.EventsUp("dev-0"), []byte("not json")))
	require.Nil(t, tb.device.Publish(transport.EventsUp("dev-0"), []byte(`{"type":"reboot"}`)))

	subs = tb.subs(task.Id)
	assert.Equal(t, storage.OtaRunning, subs["dev-0"].Status)
	assert.Equal(t, storage.OtaRunning, subs["dev-1"].Status)
	assert.Equal(t, storage.OtaRunning, tb.taskStatus(task.Id))
}

func TestDaemonsLoop(t *testing.T) {
	tb := newTestBench(t, 1, WithDispatchInterval(time.Hour))
	tb.daemons.Start()
	defer tb.daemons.Shutdown()

	task := tb.createTask()
	tb.daemons.Wake()
	require.Eventually(t, func() bool {
		return tb.taskStatus(task.Id) == storage.OtaRunning
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, len(tb.received("dev-0")))
}

func TestDaemonsWithoutTransport(t *testing.T) {
	d := New(context.Background(), nil, nil)
	d.Start()
	d.Wake()
	d.Wake()
	d.Shutdown()
	assert.Equal(t, 0, len(d.daemons))
}
