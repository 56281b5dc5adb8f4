// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/foundriesio/dg-ota/server"
	st "github.com/foundriesio/dg-ota/storage"
	storage "github.com/foundriesio/dg-ota/storage/api"
)

type (
	OtaTask       = storage.OtaTask
	OtaTaskCreate = storage.OtaTaskCreate
	OtaDevice     = storage.OtaDevice
	OtaRetry      = st.OtaRetry
)

// @Summary List OTA tasks
// @Param   status query string false "Only tasks in this status"
// @Produce json
// @Success 200 {array} OtaTask
// @Router  /otaTasks [get]
func (h *handlers) taskList(c echo.Context) error {
	var status storage.OtaStatus
	if s := c.QueryParam("status"); s != "" {
		var err error
		if status, err = st.ParseOtaStatus(s); err != nil {
			return server.EchoError(c, err, http.StatusBadRequest, err.Error())
		}
	}
	tasks, err := h.storage.TasksList(status)
	if err != nil {
		return storageError(c, err, "Failed to list OTA tasks")
	}
	return server.EchoOk(c, http.StatusOK, orEmpty(tasks))
}

// @Summary Get an OTA task
// @Produce json
// @Success 200 {object} OtaTask
// @Router  /otaTasks/{id} [get]
func (h *handlers) taskGet(c echo.Context) error {
	t, err := h.storage.TaskGet(c.Param("id"))
	if err != nil {
		return storageError(c, err, "Failed to look up OTA task")
	} else if t == nil {
		return notFound(c, "OTA task")
	}
	return server.EchoOk(c, http.StatusOK, t)
}

// @Summary Create an OTA task fanning a package out to devices
// @Accept  json
// @Param   data body OtaTaskCreate true "Task name, package and devices"
// @Produce json
// @Success 201 {object} OtaTask
// @Router  /otaTasks [post]
func (h *handlers) taskCreate(c echo.Context) error {
	var req OtaTaskCreate
	if err := c.Bind(&req); err != nil {
		return badJson(c, err)
	}
	t, err := h.storage.TaskCreate(req)
	if err != nil {
		return storageError(c, err, "Failed to create OTA task")
	}
	CtxGetLog(c.Request().Context()).Info("OTA task created", "task", t.Id, "devices", len(t.DeviceIds))
	h.wake()
	return server.EchoOk(c, http.StatusCreated, t)
}

// @Summary Retry a failed or canceled device of an OTA task
// @Accept  json
// @Param   data body OtaRetry true "Sub-task id and the package to retry with"
// @Produce json
// @Success 200 {object} OtaDevice
// @Router  /otaTasks/retry [post]
func (h *handlers) taskRetryDevice(c echo.Context) error {
	var req OtaRetry
	if err := c.Bind(&req); err != nil {
		return badJson(c, err)
	}
	if req.Id == "" || req.PackageId == "" {
		return server.EchoError(c, storage.ErrInvalid, http.StatusBadRequest, "id and packageId are required")
	}
	o, err := h.storage.DeviceRetry(req.Id, req.PackageId)
	if err != nil {
		return storageError(c, err, "Failed to retry OTA device")
	}
	h.wake()
	return server.EchoOk(c, http.StatusOK, o)
}

// @Summary Stop the OTA of a single device
// @Produce json
// @Success 200 {object} OtaDevice
// @Router  /otaTasks/stop/{id} [post]
func (h *handlers) taskStopDevice(c echo.Context) error {
	o, err := h.storage.DeviceStop(c.Param("id"))
	if err != nil {
		return storageError(c, err, "Failed to stop OTA device")
	}
	h.wake()
	return server.EchoOk(c, http.StatusOK, o)
}

// @Summary Stop every unfinished device of an OTA task
// @Produce json
// @Success 200 {object} OtaTask
// @Router  /otaTasks/stopTask/{id} [post]
func (h *handlers) taskStop(c echo.Context) error {
	t, err := h.storage.TaskStop(c.Param("id"))
	if err != nil {
		return storageError(c, err, "Failed to stop OTA task")
	}
	h.wake()
	return server.EchoOk(c, http.StatusOK, t)
}

// @Summary Delete an OTA task and its sub-tasks
// @Success 200
// @Router  /otaTasks/{id} [delete]
func (h *handlers) taskDelete(c echo.Context) error {
	if err := h.storage.TaskDelete(c.Param("id")); err != nil {
		return storageError(c, err, "Failed to delete OTA task")
	}
	return server.EchoOk(c, http.StatusOK, nil)
}
