// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/foundriesio/dg-ota/server"
	storage "github.com/foundriesio/dg-ota/storage/api"
)

type (
	Device        = storage.Device
	DeviceWithOta = storage.DeviceWithOta
	AgentDevice   = storage.AgentDevice
)

// @Summary List devices
// @Param   productId query string false "Only devices of this product"
// @Produce json
// @Success 200 {array} Device
// @Router  /devices [get]
func (h *handlers) deviceList(c echo.Context) error {
	devices, err := h.storage.DevicesList(c.QueryParam("productId"))
	if err != nil {
		return storageError(c, err, "Unexpected error listing devices")
	}
	return server.EchoOk(c, http.StatusOK, orEmpty(devices))
}

// @Summary List the devices of a product with their active OTA sub-tasks
// @Param   productId query string true "Product id"
// @Produce json
// @Success 200 {array} DeviceWithOta
// @Router  /devices/getDataWidthOTATask [get]
func (h *handlers) deviceListWithOta(c echo.Context) error {
	productId := c.QueryParam("productId")
	if productId == "" {
		return server.EchoError(c, storage.ErrInvalid, http.StatusBadRequest, "productId is required")
	}
	devices, err := h.storage.DevicesWithOta(productId)
	if err != nil {
		return storageError(c, err, "Unexpected error listing devices")
	}
	return server.EchoOk(c, http.StatusOK, orEmpty(devices))
}

// @Summary List the per-device sub-tasks of an OTA task
// @Param   taskId query string true "OTA task id"
// @Produce json
// @Success 200 {array} storage.OtaDevice
// @Router  /devices/getOTADeviceList [get]
func (h *handlers) taskDeviceList(c echo.Context) error {
	taskId := c.QueryParam("taskId")
	if t, err := h.storage.TaskGet(taskId); err != nil {
		return storageError(c, err, "Failed to look up OTA task")
	} else if t == nil {
		return notFound(c, "OTA task")
	}
	subs, err := h.storage.TaskDevices(taskId)
	if err != nil {
		return storageError(c, err, "Failed to list OTA devices")
	}
	return server.EchoOk(c, http.StatusOK, orEmpty(subs))
}

// @Summary Get a device
// @Produce json
// @Success 200 {object} Device
// @Router  /devices/{id} [get]
func (h *handlers) deviceGet(c echo.Context) error {
	device, err := h.storage.DeviceGet(c.Param("id"))
	if err != nil {
		return storageError(c, err, "Failed to lookup device")
	} else if device == nil {
		return notFound(c, "Device")
	}
	return server.EchoOk(c, http.StatusOK, device)
}

// @Summary Raw OTA progress reports of a device for one task
// @Param   taskId query string true "OTA task id"
// @Produce json
// @Success 200 {array} object
// @Router  /devices/{id}/otaEvents [get]
func (h *handlers) deviceOtaEvents(c echo.Context) error {
	id, taskId := c.Param("id"), c.QueryParam("taskId")
	if taskId == "" || strings.ContainsAny(id+taskId, `/\`) {
		return server.EchoError(c, storage.ErrInvalid, http.StatusBadRequest, "Invalid device or taskId")
	}
	events := []json.RawMessage{}
	for line, err := range h.storage.DeviceOtaEvents(id, taskId) {
		if err != nil {
			return storageError(c, err, "Failed to read OTA events")
		}
		if json.Valid([]byte(line)) {
			events = append(events, json.RawMessage(line))
		}
	}
	return server.EchoOk(c, http.StatusOK, events)
}

// @Summary Register or edit a device
// @Accept  json
// @Param   data body Device true "Device"
// @Produce json
// @Success 200 {object} Device
// @Router  /devices [post]
func (h *handlers) deviceSave(c echo.Context) error {
	var d Device
	if err := c.Bind(&d); err != nil {
		return badJson(c, err)
	}
	status := savedStatus(d.Id)
	if err := h.storage.DeviceSave(&d); err != nil {
		return storageError(c, err, "Failed to save device")
	}
	if status == http.StatusOK {
		if saved, err := h.storage.DeviceGet(d.Id); err == nil && saved != nil {
			d = *saved
		}
	}
	return server.EchoOk(c, status, d)
}

// @Summary Delete a device that has no active OTA
// @Success 200
// @Router  /devices/{id} [delete]
func (h *handlers) deviceDelete(c echo.Context) error {
	if err := h.storage.DeviceDelete(c.Param("id")); err != nil {
		return storageError(c, err, "Failed to delete device")
	}
	return server.EchoOk(c, http.StatusOK, nil)
}

// @Summary List agent bindings
// @Produce json
// @Success 200 {array} AgentDevice
// @Router  /agentDevices [get]
func (h *handlers) agentList(c echo.Context) error {
	agents, err := h.storage.AgentDevicesList()
	if err != nil {
		return storageError(c, err, "Failed to list agent devices")
	}
	return server.EchoOk(c, http.StatusOK, orEmpty(agents))
}

// @Summary Get an agent binding
// @Produce json
// @Success 200 {object} AgentDevice
// @Router  /agentDevices/{id} [get]
func (h *handlers) agentGet(c echo.Context) error {
	a, err := h.storage.AgentDeviceGet(c.Param("id"))
	if err != nil {
		return storageError(c, err, "Failed to look up agent device")
	} else if a == nil {
		return notFound(c, "Agent device")
	}
	return server.EchoOk(c, http.StatusOK, a)
}

// @Summary Create or update an agent binding
// @Accept  json
// @Param   data body AgentDevice true "Either isCustomDevice with deviceName, or device/deviceId"
// @Produce json
// @Success 200 {object} AgentDevice
// @Router  /agentDevices [post]
func (h *handlers) agentSave(c echo.Context) error {
	var a AgentDevice
	if err := c.Bind(&a); err != nil {
		return badJson(c, err)
	}
	status := savedStatus(a.Id)
	if err := h.storage.AgentDeviceSave(&a); err != nil {
		return storageError(c, err, "Failed to save agent device")
	}
	return server.EchoOk(c, status, a)
}

// @Summary Delete an agent binding
// @Success 200
// @Router  /agentDevices/{id} [delete]
func (h *handlers) agentDelete(c echo.Context) error {
	if err := h.storage.AgentDeviceDelete(c.Param("id")); err != nil {
		return storageError(c, err, "Failed to delete agent device")
	}
	return server.EchoOk(c, http.StatusOK, nil)
}
