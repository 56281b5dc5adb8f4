// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package api

import (
	"database/sql"
	"fmt"
	"iter"

	"github.com/foundriesio/dg-ota/storage"
)

func (s *Storage) initDeviceStmts() {
	const deviceCols = `id, name, code, device_id, product_id, ip_address, version, description, created_at`
	s.stmtDeviceList = stmtQuery[Device]{name: "apiDeviceList", scan: scanDevice, query: `
		SELECT ` + deviceCols + ` FROM devices
		WHERE ?1 = '' OR product_id = ?1
		ORDER BY created_at DESC, id`}
	s.stmtDeviceGet = stmtQuery[Device]{name: "apiDeviceGet", scan: scanDevice, query: `
		SELECT ` + deviceCols + ` FROM devices WHERE id = ?`}
	s.stmtDeviceByDeviceId = stmtQuery[Device]{name: "apiDeviceByDeviceId", scan: scanDevice, query: `
		SELECT ` + deviceCols + ` FROM devices WHERE device_id = ?`}
	s.stmtDeviceInsert = stmtExec{name: "apiDeviceInsert", query: `
		INSERT INTO devices (` + deviceCols + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`}
	s.stmtDeviceUpdate = stmtExec{name: "apiDeviceUpdate", query: `
		UPDATE devices SET name=?, code=?, device_id=?, ip_address=?, description=? WHERE id = ?`}
	s.stmtDeviceDelete = stmtExec{name: "apiDeviceDelete", query: `DELETE FROM devices WHERE id = ?`}
	s.stmtDeviceSetVersion = stmtExec{name: "apiDeviceSetVersion", query: `UPDATE devices SET version=? WHERE id = ?`}

	const agentCols = `id, agent_id, is_custom, device_ref, device_id, device_name, directory, entry_name, conda_env, start_command, created_at`
	s.stmtAgentList = stmtQuery[AgentDevice]{name: "apiAgentList", scan: scanAgent, query: `
		SELECT ` + agentCols + ` FROM agent_devices ORDER BY created_at DESC, id`}
	s.stmtAgentGet = stmtQuery[AgentDevice]{name: "apiAgentGet", scan: scanAgent, query: `
		SELECT ` + agentCols + ` FROM agent_devices WHERE id = ?`}
	s.stmtAgentInsert = stmtExec{name: "apiAgentInsert", query: `
		INSERT INTO agent_devices (` + agentCols + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`}
	s.stmtAgentUpdate = stmtExec{name: "apiAgentUpdate", query: `
		UPDATE agent_devices
		SET agent_id=?, is_custom=?, device_ref=?, device_id=?, device_name=?,
		    directory=?, entry_name=?, conda_env=?, start_command=?
		WHERE id = ?`}
	s.stmtAgentDelete = stmtExec{name: "apiAgentDelete", query: `DELETE FROM agent_devices WHERE id = ?`}
}

func scanDevice(row rowScanner) (d Device, err error) {
	var created int64
	if err = row.Scan(
		&d.Id, &d.Name, &d.Code, &d.DeviceId, &d.ProductId, &d.IpAddress, &d.Version, &d.Description, &created,
	); err == nil {
		d.CreatedAt = fromMillis(created)
	}
	return
}

func scanAgent(row rowScanner) (a AgentDevice, err error) {
	var (
		isCustom                        bool
		deviceRef, deviceId, deviceName string
		created                         int64
	)
	if err = row.Scan(
		&a.Id, &a.AgentId, &isCustom, &deviceRef, &deviceId, &deviceName,
		&a.Directory, &a.EntryName, &a.CondaEnv, &a.StartCommand, &created,
	); err != nil {
		return
	}
	a.CreatedAt = fromMillis(created)
	if isCustom {
		a.Target = storage.CustomAgent{DeviceName: deviceName}
	} else {
		a.Target = storage.StandardDevice{DeviceRef: deviceRef, DeviceId: deviceId}
	}
	return
}

// DevicesList returns all devices, or only those of a product.
func (s Storage) DevicesList(productId string) ([]Device, error) {
	return s.stmtDeviceList.all(nil, productId)
}

func (s Storage) DeviceGet(id string) (*Device, error) {
	return s.stmtDeviceGet.one(nil, id)
}

func (s Storage) DeviceGetByDeviceId(deviceId string) (*Device, error) {
	return s.stmtDeviceByDeviceId.one(nil, deviceId)
}

// DeviceSave registers a new device or edits an existing one. The installed
// version is only ever changed by OTA completion.
func (s Storage) DeviceSave(d *Device) error {
	if d.DeviceId == "" {
		return fmt.Errorf("%w: deviceId is required", ErrInvalid)
	}
	if d.Id == "" {
		if prod, err := s.ProductGet(d.ProductId); err != nil {
			return err
		} else if prod == nil {
			return fmt.Errorf("product %s: %w", d.ProductId, ErrNotFound)
		}
		d.Id = newId()
		created := nowMillis()
		d.CreatedAt = fromMillis(created)
		_, err := s.stmtDeviceInsert.run(nil,
			d.Id, d.Name, d.Code, d.DeviceId, d.ProductId, d.IpAddress, d.Version, d.Description, created)
		return err
	}
	return notFoundIfZero(s.stmtDeviceUpdate.run(nil, d.Name, d.Code, d.DeviceId, d.IpAddress, d.Description, d.Id))
}

// DeviceDelete refuses to delete a device that is part of an active OTA.
func (s Storage) DeviceDelete(id string) error {
	err := s.db.Tx(func(tx *sql.Tx) error {
		if active, err := s.stmtSubActive.all(tx, id); err != nil {
			return err
		} else if len(active) > 0 {
			return fmt.Errorf("device %s has %d active OTA tasks: %w", id, len(active), ErrInUse)
		}
		if _, err := s.stmtSubDeleteForDev.run(tx, id); err != nil {
			return err
		}
		return notFoundIfZero(s.stmtDeviceDelete.run(tx, id))
	})
	if err == nil {
		err = s.fs.Devices.RemoveAll(id)
	}
	return err
}

func (s Storage) DeviceSetVersion(id, version string) error {
	return notFoundIfZero(s.stmtDeviceSetVersion.run(nil, version, id))
}

// DevicesWithOta lists a product's devices together with their active OTA
// sub-tasks.
func (s Storage) DevicesWithOta(productId string) ([]DeviceWithOta, error) {
	devices, err := s.DevicesList(productId)
	if err != nil {
		return nil, err
	}
	res := make([]DeviceWithOta, 0, len(devices))
	for _, d := range devices {
		active, err := s.stmtSubActive.all(nil, d.Id)
		if err != nil {
			return nil, err
		}
		res = append(res, DeviceWithOta{Device: d, ActiveOtas: active, HasActiveOta: len(active) > 0})
	}
	return res, nil
}

// DeviceAppendOtaEvent records a raw progress report of a device.
func (s Storage) DeviceAppendOtaEvent(id, taskId, content string) error {
	return s.fs.Devices.AppendOtaEvent(id, taskId, content)
}

// DeviceOtaEvents returns the raw progress reports a device sent for a task.
func (s Storage) DeviceOtaEvents(id, taskId string) iter.Seq2[string, error] {
	return s.fs.Devices.ReadOtaEvents(id, taskId)
}

func (s Storage) AgentDevicesList() ([]AgentDevice, error) {
	return s.stmtAgentList.all(nil)
}

func (s Storage) AgentDeviceGet(id string) (*AgentDevice, error) {
	return s.stmtAgentGet.one(nil, id)
}

func (s Storage) AgentDeviceSave(a *AgentDevice) error {
	var (
		isCustom                        bool
		deviceRef, deviceId, deviceName string
	)
	switch t := a.Target.(type) {
	case storage.CustomAgent:
		isCustom = true
		deviceName = t.DeviceName
	case storage.StandardDevice:
		var (
			d   *Device
			err error
		)
		if t.DeviceRef != "" {
			d, err = s.DeviceGet(t.DeviceRef)
		} else {
			d, err = s.DeviceGetByDeviceId(t.DeviceId)
		}
		if err != nil {
			return err
		} else if d == nil {
			return fmt.Errorf("device %s: %w", t.Label(), ErrNotFound)
		}
		deviceRef, deviceId = d.Id, d.DeviceId
		a.Target = storage.StandardDevice{DeviceRef: deviceRef, DeviceId: deviceId}
	default:
		return fmt.Errorf("%w: agent binding has no target device", ErrInvalid)
	}

	if a.Id == "" {
		a.Id = newId()
		created := nowMillis()
		a.CreatedAt = fromMillis(created)
		_, err := s.stmtAgentInsert.run(nil, a.Id, a.AgentId, isCustom, deviceRef, deviceId, deviceName,
			a.Directory, a.EntryName, a.CondaEnv, a.StartCommand, created)
		return err
	}
	return notFoundIfZero(s.stmtAgentUpdate.run(nil, a.AgentId, isCustom, deviceRef, deviceId, deviceName,
		a.Directory, a.EntryName, a.CondaEnv, a.StartCommand, a.Id))
}

func (s Storage) AgentDeviceDelete(id string) error {
	return notFoundIfZero(s.stmtAgentDelete.run(nil, id))
}
