// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

// Package ota is the console side of OTA task orchestration: it validates
// operator input, talks to the store and derives device eligibility. The
// store remains authoritative for every status change.
package ota

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/foundriesio/dg-ota/context"
	"github.com/foundriesio/dg-ota/errs"
	"github.com/foundriesio/dg-ota/storage"
)

type Store interface {
	TasksList(ctx context.Context) ([]storage.OtaTask, error)
	TaskGet(ctx context.Context, id string) (*storage.OtaTask, error)
	TaskCreate(ctx context.Context, req storage.OtaTaskCreate) (*storage.OtaTask, error)
	TaskDelete(ctx context.Context, id string) error
	TaskStop(ctx context.Context, id string) error
	TaskDevices(ctx context.Context, taskId string) ([]storage.OtaDevice, error)
	DeviceStop(ctx context.Context, subId string) error
	DeviceRetry(ctx context.Context, req storage.OtaRetry) error
	DevicesWithOta(ctx context.Context, productId string) ([]storage.DeviceWithOta, error)
}

// Filter is applied client side to the full task list.
type Filter struct {
	Name   string
	Status storage.OtaStatus
}

func (f Filter) Match(t storage.OtaTask) bool {
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	return f.Name == "" || strings.Contains(t.Name, f.Name)
}

func (f Filter) Apply(tasks []storage.OtaTask) []storage.OtaTask {
	out := make([]storage.OtaTask, 0, len(tasks))
	for _, t := range tasks {
		if f.Match(t) {
			out = append(out, t)
		}
	}
	return out
}

type EligibleDevice struct {
	storage.DeviceWithOta
	Eligible bool
	Reason   string
}

const (
	ReasonActiveOta        = "device has an active OTA task"
	reasonVersionInstalled = "version %s is already installed"
)

type Scheduler struct {
	store Store
	log   *slog.Logger
}

func NewScheduler(store Store, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{store: store, log: log}
}

// CreateTask validates the request before anything is sent to the store.
func (s *Scheduler) CreateTask(ctx context.Context, name, packageId string, deviceIds []string) (*storage.OtaTask, error) {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return nil, errs.Validation("name", "a task name is required")
	case packageId == "":
		return nil, errs.Validation("package", "a package is required")
	case len(deviceIds) == 0:
		return nil, errs.Validation("deviceIdList", "select at least one device")
	}
	seen := make(map[string]bool, len(deviceIds))
	for _, id := range deviceIds {
		if id == "" {
			return nil, errs.Validation("deviceIdList", "empty device id")
		} else if seen[id] {
			return nil, errs.Validation("deviceIdList", "device %s is listed twice", id)
		}
		seen[id] = true
	}
	task, err := s.store.TaskCreate(ctx, storage.OtaTaskCreate{Name: name, PackageId: packageId, DeviceIds: deviceIds})
	if err != nil {
		return nil, err
	}
	s.log.Info("OTA task created", "task", task.Id, "devices", len(deviceIds))
	return task, nil
}

func (s *Scheduler) ListTasks(ctx context.Context, filter Filter) ([]storage.OtaTask, error) {
	tasks, err := s.store.TasksList(ctx)
	if err != nil {
		return nil, err
	}
	return filter.Apply(tasks), nil
}

func (s *Scheduler) GetTask(ctx context.Context, id string) (*storage.OtaTask, error) {
	task, err := s.store.TaskGet(ctx, id)
	if err != nil {
		return nil, err
	} else if task == nil {
		return nil, errs.Remote("get task", 404, fmt.Sprintf("OTA task %s not found", id))
	}
	return task, nil
}

func (s *Scheduler) DeleteTask(ctx context.Context, id string) error {
	if id == "" {
		return errs.Validation("id", "a task id is required")
	}
	return s.store.TaskDelete(ctx, id)
}

// StopTask is a no-op on a task that already reached a terminal status.
func (s *Scheduler) StopTask(ctx context.Context, id string) error {
	task, err := s.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if task.Status.Terminal() || task.Status == storage.OtaStopping {
		s.log.Debug("task already stopped", "task", id, "status", task.Status)
		return nil
	}
	if err := s.store.TaskStop(ctx, id); err != nil {
		return err
	}
	s.log.Info("OTA task stopping", "task", id)
	return nil
}

func (s *Scheduler) StopDevice(ctx context.Context, subId string) error {
	if subId == "" {
		return errs.Validation("id", "a sub-task id is required")
	}
	return s.store.DeviceStop(ctx, subId)
}

// RetryDevice needs the package id because the sub-task may be retargeted.
func (s *Scheduler) RetryDevice(ctx context.Context, subId, packageId string) error {
	switch {
	case subId == "":
		return errs.Validation("id", "a sub-task id is required")
	case packageId == "":
		return errs.Validation("packageId", "a package is required")
	}
	if err := s.store.DeviceRetry(ctx, storage.OtaRetry{Id: subId, PackageId: packageId}); err != nil {
		return err
	}
	s.log.Info("OTA device retried", "sub_task", subId, "package", packageId)
	return nil
}

func (s *Scheduler) TaskDevices(ctx context.Context, taskId string) ([]storage.OtaDevice, error) {
	return s.store.TaskDevices(ctx, taskId)
}

// EligibleDevices lists every device of a product with an eligibility flag
// for a new task targeting targetVersion. The store repeats this check.
func (s *Scheduler) EligibleDevices(ctx context.Context, productId, targetVersion string) ([]EligibleDevice, error) {
	devices, err := s.store.DevicesWithOta(ctx, productId)
	if err != nil {
		return nil, err
	}
	out := make([]EligibleDevice, 0, len(devices))
	for _, d := range devices {
		e := EligibleDevice{DeviceWithOta: d, Eligible: true}
		switch {
		case hasActiveOta(d):
			e.Eligible, e.Reason = false, ReasonActiveOta
		case targetVersion != "" && d.Version == targetVersion:
			e.Eligible, e.Reason = false, fmt.Sprintf(reasonVersionInstalled, d.Version)
		}
		out = append(out, e)
	}
	return out, nil
}

func hasActiveOta(d storage.DeviceWithOta) bool {
	if d.HasActiveOta {
		return true
	}
	return slices.ContainsFunc(d.ActiveOtas, func(o storage.OtaDevice) bool {
		return o.Status.Active()
	})
}
