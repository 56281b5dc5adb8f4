// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package api

import (
	"database/sql"
	"errors"
	"fmt"
	"slices"

	"github.com/foundriesio/dg-ota/storage"
)

var ErrIneligible = errors.New("device is not eligible for this OTA task")

func (s *Storage) initOtaStmts() {
	const taskCols = `t.id, t.name, t.status, t.package_id, t.created_at,
		(SELECT json_group_array(device_ref) FROM ota_devices WHERE task_id = t.id)`
	s.stmtTaskList = stmtQuery[OtaTask]{name: "apiTaskList", scan: scanTask, query: `
		SELECT ` + taskCols + ` FROM ota_tasks t
		WHERE ?1 = '' OR t.status = ?1
		ORDER BY t.created_at DESC, t.id`}
	s.stmtTaskGet = stmtQuery[OtaTask]{name: "apiTaskGet", scan: scanTask, query: `
		SELECT ` + taskCols + ` FROM ota_tasks t WHERE t.id = ?`}
	s.stmtTaskInsert = stmtExec{name: "apiTaskInsert", query: `
		INSERT INTO ota_tasks (id, name, status, package_id, created_at) VALUES (?, ?, ?, ?, ?)`}
	s.stmtTaskSetStatus = stmtExec{name: "apiTaskSetStatus", query: `
		UPDATE ota_tasks SET status=? WHERE id = ? AND status = ?`}
	s.stmtTaskDelete = stmtExec{name: "apiTaskDelete", query: `DELETE FROM ota_tasks WHERE id = ?`}

	const subSelect = `
		SELECT o.id, o.task_id, o.device_ref, COALESCE(d.device_id, ''), COALESCE(d.name, ''),
		       COALESCE(d.version, ''), o.package_id, o.status, o.description, o.updated_at
		FROM ota_devices o LEFT JOIN devices d ON d.id = o.device_ref`
	s.stmtSubList = stmtQuery[OtaDevice]{name: "apiSubList", scan: scanSub, query: subSelect + `
		WHERE o.task_id = ? ORDER BY d.name, o.id`}
	s.stmtSubGet = stmtQuery[OtaDevice]{name: "apiSubGet", scan: scanSub, query: subSelect + `
		WHERE o.id = ?`}
	s.stmtSubActive = stmtQuery[OtaDevice]{name: "apiSubActive", scan: scanSub, query: subSelect + `
		WHERE o.device_ref = ? AND o.status IN ('pending', 'running', 'stopping')
		ORDER BY o.created_at`}
	s.stmtSubByStatus = stmtQuery[OtaDevice]{name: "apiSubByStatus", scan: scanSub, query: subSelect + `
		WHERE o.status = ? ORDER BY o.created_at, o.id`}
	s.stmtSubInsert = stmtExec{name: "apiSubInsert", query: `
		INSERT INTO ota_devices (id, task_id, device_ref, package_id, status, description, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, '', ?, ?)`}
	s.stmtSubSetStatus = stmtExec{name: "apiSubSetStatus", query: `
		UPDATE ota_devices SET status=?, description=?, updated_at=? WHERE id = ? AND status = ?`}
	s.stmtSubRetry = stmtExec{name: "apiSubRetry", query: `
		UPDATE ota_devices SET status='pending', package_id=?, description='', updated_at=?
		WHERE id = ? AND status IN ('failed', 'canceled')`}
	s.stmtSubStopAll = stmtExec{name: "apiSubStopAll", query: `
		UPDATE ota_devices SET status='stopping', updated_at=?
		WHERE task_id = ? AND status IN ('pending', 'running')`}
	s.stmtSubDeleteForTask = stmtExec{name: "apiSubDeleteForTask", query: `DELETE FROM ota_devices WHERE task_id = ?`}
	s.stmtSubDeleteForDev = stmtExec{name: "apiSubDeleteForDev", query: `DELETE FROM ota_devices WHERE device_ref = ?`}
}

func scanTask(row rowScanner) (t OtaTask, err error) {
	var (
		created int64
		devices string
	)
	if err = row.Scan(&t.Id, &t.Name, &t.Status, &t.PackageId, &created, &devices); err != nil {
		return
	}
	t.CreatedAt = fromMillis(created)
	t.DeviceIds, err = unmarshalStrings(devices)
	return
}

func scanSub(row rowScanner) (o OtaDevice, err error) {
	var updated int64
	if err = row.Scan(
		&o.Id, &o.TaskId, &o.DeviceRef, &o.DeviceId, &o.DeviceName, &o.Version,
		&o.PackageId, &o.Status, &o.Description, &updated,
	); err == nil {
		o.UpdatedAt = fromMillis(updated)
	}
	return
}

// TasksList returns all tasks, newest first, optionally with a given status.
func (s Storage) TasksList(status OtaStatus) ([]OtaTask, error) {
	return s.stmtTaskList.all(nil, string(status))
}

func (s Storage) TaskGet(id string) (*OtaTask, error) {
	return s.stmtTaskGet.one(nil, id)
}

func (s Storage) TaskDevices(taskId string) ([]OtaDevice, error) {
	return s.stmtSubList.all(nil, taskId)
}

func (s Storage) SubTaskGet(id string) (*OtaDevice, error) {
	return s.stmtSubGet.one(nil, id)
}

func (s Storage) SubTasksByStatus(status OtaStatus) ([]OtaDevice, error) {
	return s.stmtSubByStatus.all(nil, string(status))
}

// TaskCreate creates a pending task with one pending sub-task per device.
// Devices that already run an OTA or already have the package version are
// rejected, whatever the client decided.
func (s Storage) TaskCreate(req OtaTaskCreate) (*OtaTask, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("%w: task name is required", ErrInvalid)
	}
	var deviceRefs []string
	for _, id := range req.DeviceIds {
		if id != "" && !slices.Contains(deviceRefs, id) {
			deviceRefs = append(deviceRefs, id)
		}
	}
	if len(deviceRefs) == 0 {
		return nil, fmt.Errorf("%w: at least one device is required", ErrInvalid)
	}

	taskId := newId()
	err := s.db.Tx(func(tx *sql.Tx) error {
		pkg, err := s.stmtPackageGet.one(tx, req.PackageId)
		if err != nil {
			return err
		} else if pkg == nil {
			return fmt.Errorf("package %s: %w", req.PackageId, ErrNotFound)
		}
		for _, ref := range deviceRefs {
			d, err := s.stmtDeviceGet.one(tx, ref)
			if err != nil {
				return err
			} else if d == nil {
				return fmt.Errorf("device %s: %w", ref, ErrNotFound)
			}
			if d.ProductId != pkg.ProductId {
				return fmt.Errorf("%w: device %s belongs to another product", ErrIneligible, d.DeviceId)
			}
			if d.Version != "" && d.Version == pkg.Version {
				return fmt.Errorf("%w: device %s already runs version %s", ErrIneligible, d.DeviceId, d.Version)
			}
			if active, err := s.stmtSubActive.all(tx, ref); err != nil {
				return err
			} else if len(active) > 0 {
				return fmt.Errorf("%w: device %s has an active OTA task %s", ErrIneligible, d.DeviceId, active[0].TaskId)
			}
		}

		now := nowMillis()
		if _, err := s.stmtTaskInsert.run(tx, taskId, req.Name, storage.OtaPending, pkg.Id, now); err != nil {
			return err
		}
		for _, ref := range deviceRefs {
			if _, err := s.stmtSubInsert.run(tx, newId(), taskId, ref, pkg.Id, storage.OtaPending, now, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.TaskGet(taskId)
}

func (s Storage) TaskDelete(id string) error {
	return s.db.Tx(func(tx *sql.Tx) error {
		if _, err := s.stmtSubDeleteForTask.run(tx, id); err != nil {
			return err
		}
		return notFoundIfZero(s.stmtTaskDelete.run(tx, id))
	})
}

// TaskStop moves the task and its unfinished sub-tasks to stopping. Stopping
// a finished or already stopping task changes nothing.
func (s Storage) TaskStop(id string) (*OtaTask, error) {
	err := s.db.Tx(func(tx *sql.Tx) error {
		t, err := s.stmtTaskGet.one(tx, id)
		if err != nil {
			return err
		} else if t == nil {
			return ErrNotFound
		} else if !t.Status.CanTransition(storage.OtaStopping) {
			return nil
		}
		if _, err = s.stmtTaskSetStatus.run(tx, storage.OtaStopping, id, t.Status); err != nil {
			return err
		}
		_, err = s.stmtSubStopAll.run(tx, nowMillis(), id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.TaskGet(id)
}

// DeviceStop moves one sub-task to stopping. Finished sub-tasks are left as is.
func (s Storage) DeviceStop(subId string) (*OtaDevice, error) {
	o, err := s.SubTaskGet(subId)
	if err != nil {
		return nil, err
	} else if o == nil {
		return nil, ErrNotFound
	}
	if o.Status.CanTransition(storage.OtaStopping) {
		if _, err = s.SubTaskTransition(subId, o.Status, storage.OtaStopping, "stop requested"); err != nil {
			return nil, err
		}
	}
	return s.SubTaskGet(subId)
}

// DeviceRetry resets a failed or canceled sub-task to pending against the
// given package and reopens its task if the task had already finished.
func (s Storage) DeviceRetry(subId, packageId string) (*OtaDevice, error) {
	err := s.db.Tx(func(tx *sql.Tx) error {
		o, err := s.stmtSubGet.one(tx, subId)
		if err != nil {
			return err
		} else if o == nil {
			return ErrNotFound
		} else if !o.Status.CanRetry() {
			return fmt.Errorf("%w: cannot retry a %s device", storage.ErrInvalidTransition, o.Status)
		}
		if pkg, err := s.stmtPackageGet.one(tx, packageId); err != nil {
			return err
		} else if pkg == nil {
			return fmt.Errorf("package %s: %w", packageId, ErrNotFound)
		}
		t, err := s.stmtTaskGet.one(tx, o.TaskId)
		if err != nil {
			return err
		} else if t == nil {
			return fmt.Errorf("task %s: %w", o.TaskId, ErrNotFound)
		} else if t.Status == storage.OtaStopping {
			return fmt.Errorf("%w: task %s is stopping", storage.ErrInvalidTransition, t.Id)
		}
		if err = notFoundIfZero(s.stmtSubRetry.run(tx, packageId, nowMillis(), subId)); err != nil {
			return err
		}
		if t.Status.Terminal() {
			_, err = s.stmtTaskSetStatus.run(tx, storage.OtaRunning, t.Id, t.Status)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.SubTaskGet(subId)
}

// SubTaskTransition changes a sub-task status if it still is `from`. It
// returns false when another writer changed the status first.
func (s Storage) SubTaskTransition(subId string, from, to OtaStatus, description string) (bool, error) {
	if !from.CanTransitionDevice(to) {
		return false, fmt.Errorf("%w: %s -> %s", storage.ErrInvalidTransition, from, to)
	}
	n, err := s.stmtSubSetStatus.run(nil, to, description, nowMillis(), subId, from)
	return n == 1, err
}

// SubTaskDescribe updates the progress description without a status change.
func (s Storage) SubTaskDescribe(subId string, status OtaStatus, description string) error {
	_, err := s.stmtSubSetStatus.run(nil, status, description, nowMillis(), subId, status)
	return err
}

// TaskRecompute re-derives the task status from its sub-tasks and stores it
// if it changed.
func (s Storage) TaskRecompute(id string) (task *OtaTask, changed bool, err error) {
	err = s.db.Tx(func(tx *sql.Tx) error {
		if task, err = s.stmtTaskGet.one(tx, id); err != nil {
			return err
		} else if task == nil {
			return ErrNotFound
		}
		subs, err := s.stmtSubList.all(tx, id)
		if err != nil {
			return err
		}
		statuses := make([]OtaStatus, len(subs))
		for i, o := range subs {
			statuses[i] = o.Status
		}
		next := storage.AggregateStatus(task.Status, statuses)
		if next == task.Status {
			return nil
		}
		if _, err = task.Status.Path(next); err != nil {
			return err
		}
		n, err := s.stmtTaskSetStatus.run(tx, next, id, task.Status)
		if err == nil && n == 1 {
			task.Status = next
			changed = true
		}
		return err
	})
	return
}

// TaskSetRunning marks a pending task as started.
func (s Storage) TaskSetRunning(id string) error {
	_, err := s.stmtTaskSetStatus.run(nil, storage.OtaRunning, id, storage.OtaPending)
	return err
}
