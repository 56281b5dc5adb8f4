// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package daemons

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/foundriesio/dg-ota/context"
	"github.com/foundriesio/dg-ota/storage"
	"github.com/foundriesio/dg-ota/transport"
)

const (
	eventOta       = "ota"
	eventOtaCancel = "ota-cancel"
)

// WithDispatchInterval sets how often pending and stopping OTA devices are
// looked up when nothing wakes the dispatcher earlier.
func WithDispatchInterval(interval time.Duration) Option {
	return func(d *Daemons) {
		d.dispatchOptions.interval = interval
	}
}

type dispatchOptions struct {
	interval time.Duration
}

type otaPackage struct {
	Id          string `json:"_id"`
	Name        string `json:"name"`
	Version     string `json:"version"`
	Md5         string `json:"md5"`
	Size        int64  `json:"size"`
	Entry       string `json:"entry,omitempty"`
	ProcessPath string `json:"processPath,omitempty"`
	Url         string `json:"url"`
}

type otaDown struct {
	Type    string      `json:"type"`
	OtaId   string      `json:"otaId"`
	TaskId  string      `json:"taskId"`
	Package *otaPackage `json:"package,omitempty"`
}

// otaUp is the progress report a device sends on its events/up topic.
type otaUp struct {
	Type        string `json:"type"`
	OtaId       string `json:"otaId"`
	Status      string `json:"status"`
	Description string `json:"description"`
	Version     string `json:"version"`
}

func (d *Daemons) otaDispatcher() daemonFunc {
	d.transport.OnMessage(d.handleEvent)
	d.transport.OnConnectionChange(func(connected bool) {
		if connected {
			d.subscribeEvents()
			d.Wake()
		}
	})
	return func(stop chan bool) {
		if d.transport.IsConnected() {
			d.subscribeEvents()
		}
		for {
			d.dispatch()
			select {
			case <-stop:
				return
			case <-d.wake:
			case <-time.After(d.dispatchOptions.interval):
			}
		}
	}
}

func (d *Daemons) subscribeEvents() {
	if err := d.transport.Subscribe(transport.AllEventsUp); err != nil {
		context.CtxGetLog(d.context).Error("failed to subscribe to device events", "error", err)
	}
}

// dispatch sends pending OTAs and cancellations. Devices that cannot be
// reached keep their status and are retried on the next run, including those
// left over when the broker drops partway through.
func (d *Daemons) dispatch() {
	log := context.CtxGetLog(d.context)
	if !d.transport.IsConnected() {
		log.Debug("broker not connected, skipping OTA dispatch")
		return
	}
	touched := map[string]bool{}

	pending, err := d.storage.SubTasksByStatus(storage.OtaPending)
	if err != nil {
		log.Error("failed to list pending OTA devices", "error", err)
	}
	for _, o := range pending {
		if !d.transport.IsConnected() {
			log.Info("broker connection lost, OTA dispatch postponed")
			break
		}
		if d.dispatchOta(o) {
			touched[o.TaskId] = true
		}
	}

	stopping, err := d.storage.SubTasksByStatus(storage.OtaStopping)
	if err != nil {
		log.Error("failed to list stopping OTA devices", "error", err)
	}
	for _, o := range stopping {
		if !d.transport.IsConnected() {
			break
		}
		if d.dispatchCancel(o) {
			touched[o.TaskId] = true
		}
	}

	for taskId := range touched {
		d.recompute(taskId)
	}
}

func (d *Daemons) dispatchOta(o storage.OtaDevice) bool {
	log := context.CtxGetLog(d.context).With("task", o.TaskId, "ota", o.Id, "device", o.DeviceId)
	task, err := d.storage.TaskGet(o.TaskId)
	if err != nil {
		log.Error("failed to look up OTA task", "error", err)
		return false
	} else if task == nil || task.Status == storage.OtaStopping || task.Status.Terminal() {
		return false
	}
	if o.DeviceId == "" {
		log.Warn("OTA device has no device id, not dispatching")
		return false
	}
	pkg, err := d.storage.PackageGet(o.PackageId)
	if err != nil || pkg == nil {
		log.Error("failed to look up OTA package", "package", o.PackageId, "error", err)
		return false
	}

	msg := otaDown{
		Type:   eventOta,
		OtaId:  o.Id,
		TaskId: o.TaskId,
		Package: &otaPackage{
			Id:          pkg.Id,
			Name:        pkg.Name,
			Version:     pkg.Version,
			Md5:         pkg.Md5,
			Size:        pkg.Size,
			Entry:       pkg.Entry,
			ProcessPath: pkg.ProcessPath,
			Url:         "/packages/download/" + pkg.Id,
		},
	}
	if !d.publish(o.DeviceId, msg) {
		return false
	}
	if task.Status == storage.OtaPending {
		if err = d.storage.TaskSetRunning(task.Id); err != nil {
			log.Error("failed to start OTA task", "error", err)
		}
	}
	if ok, err := d.storage.SubTaskTransition(o.Id, storage.OtaPending, storage.OtaRunning, "dispatched"); err != nil {
		log.Error("failed to mark OTA device running", "error", err)
	} else if ok {
		log.Info("OTA dispatched", "version", pkg.Version)
	}
	return true
}

func (d *Daemons) dispatchCancel(o storage.OtaDevice) bool {
	log := context.CtxGetLog(d.context).With("task", o.TaskId, "ota", o.Id, "device", o.DeviceId)
	if o.DeviceId != "" && !d.publish(o.DeviceId, otaDown{Type: eventOtaCancel, OtaId: o.Id, TaskId: o.TaskId}) {
		return false
	}
	if _, err := d.storage.SubTaskTransition(o.Id, storage.OtaStopping, storage.OtaCanceled, "canceled by operator"); err != nil {
		log.Error("failed to mark OTA device canceled", "error", err)
		return false
	}
	log.Info("OTA canceled")
	return true
}

func (d *Daemons) publish(deviceId string, msg otaDown) bool {
	log := context.CtxGetLog(d.context)
	payload, err := json.Marshal(msg)
	if err != nil {
		log.Error("failed to encode OTA event", "error", err)
		return false
	}
	// Send, not Publish: a message dropped while disconnected must not count
	// as delivered.
	if err = d.transport.Send(transport.EventsDown(deviceId), payload); err != nil {
		log.Warn("failed to publish OTA event", "device", deviceId, "type", msg.Type, "error", err)
		return false
	}
	return true
}

func (d *Daemons) recompute(taskId string) {
	task, changed, err := d.storage.TaskRecompute(taskId)
	log := context.CtxGetLog(d.context).With("task", taskId)
	if err != nil {
		log.Error("failed to recompute OTA task status", "error", err)
	} else if changed {
		log.Info("OTA task status changed", "status", task.Status)
	}
}

// handleEvent applies a device progress report to its OTA sub-task.
func (d *Daemons) handleEvent(topic string, payload []byte) {
	log := context.CtxGetLog(d.context).With("topic", topic)
	deviceId, ok := transport.DeviceOf(topic)
	if !ok || !transport.Match(transport.AllEventsUp, topic) {
		return
	}
	var ev otaUp
	if err := json.Unmarshal(payload, &ev); err != nil {
		log.Warn("ignoring malformed device event", "error", err)
		return
	} else if ev.Type != eventOta || ev.OtaId == "" {
		return
	}
	log = log.With("ota", ev.OtaId, "device", deviceId)

	o, err := d.storage.SubTaskGet(ev.OtaId)
	if err != nil {
		log.Error("failed to look up OTA device", "error", err)
		return
	} else if o == nil || o.DeviceId != deviceId {
		log.Warn("ignoring progress for an unknown OTA")
		return
	}
	if err = d.storage.DeviceAppendOtaEvent(o.DeviceRef, o.TaskId, string(payload)); err != nil {
		log.Error("failed to store OTA event", "error", err)
	}

	status, err := storage.ParseOtaStatus(ev.Status)
	if err != nil {
		log.Warn("ignoring OTA progress", "error", err)
		return
	}
	if o.Status == storage.OtaPending && status != storage.OtaRunning && storage.OtaRunning.CanTransition(status) {
		// The report overtook the dispatcher marking the device running.
		if ok, err := d.storage.SubTaskTransition(o.Id, storage.OtaPending, storage.OtaRunning, ""); err != nil || !ok {
			log.Warn("OTA device changed concurrently, progress dropped", "status", status, "error", err)
			return
		}
		o.Status = storage.OtaRunning
	}
	if status == o.Status {
		if err = d.storage.SubTaskDescribe(o.Id, status, ev.Description); err != nil {
			log.Error("failed to update OTA progress", "error", err)
		}
		return
	}
	if ok, err := d.storage.SubTaskTransition(o.Id, o.Status, status, ev.Description); err != nil {
		if errors.Is(err, storage.ErrInvalidTransition) {
			log.Warn("ignoring OTA progress", "error", err)
		} else {
			log.Error("failed to update OTA device", "error", err)
		}
		return
	} else if !ok {
		log.Warn("OTA device changed concurrently, progress dropped", "status", status)
		return
	}

	if status == storage.OtaCompleted {
		version := ev.Version
		if version == "" {
			if pkg, err := d.storage.PackageGet(o.PackageId); err == nil && pkg != nil {
				version = pkg.Version
			}
		}
		if err = d.storage.DeviceSetVersion(o.DeviceRef, version); err != nil {
			log.Error("failed to record installed version", "error", err)
		}
	}
	d.recompute(o.TaskId)
}
