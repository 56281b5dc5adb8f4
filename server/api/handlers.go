// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package api

import (
	"github.com/labstack/echo/v4"

	"github.com/foundriesio/dg-ota/auth"
	"github.com/foundriesio/dg-ota/storage/api"
)

type handlers struct {
	storage *api.Storage
	wake    func()
}

// RegisterHandlers wires the REST endpoints. wake, when set, is called after a
// change the OTA dispatcher should act on without waiting for its next tick.
func RegisterHandlers(e *echo.Echo, storage *api.Storage, authFunc auth.AuthUserFunc, wake func()) {
	if wake == nil {
		wake = func() {}
	}
	h := handlers{storage: storage, wake: wake}
	e.Use(authUser(authFunc))

	r, ru, d := requireScope(auth.ScopeOtaR), requireScope(auth.ScopeOtaRU), requireScope(auth.ScopeOtaD)

	e.GET("/products", h.productList, r)
	e.GET("/products/:id", h.productGet, r)
	e.POST("/products", h.productSave, ru)
	e.DELETE("/products/:id", h.productDelete, d)

	e.GET("/properties", h.propertyList, r)
	e.GET("/properties/:id", h.propertyGet, r)
	e.POST("/properties", h.propertySave, ru)
	e.DELETE("/properties/:id", h.propertyDelete, d)

	e.GET("/commands", h.commandList, r)
	e.GET("/commands/:id", h.commandGet, r)
	e.POST("/commands", h.commandSave, ru)
	e.DELETE("/commands/:id", h.commandDelete, d)

	for path, dir := range map[string]string{"/reqParams": api.ParamsReq, "/resParams": api.ParamsRes} {
		e.GET(path, h.paramList(dir), r)
		e.POST(path, h.paramSave(dir), ru)
		e.DELETE(path+"/:id", h.paramDelete(dir), d)
	}

	e.GET("/devices", h.deviceList, r)
	e.GET("/devices/getDataWidthOTATask", h.deviceListWithOta, r)
	e.GET("/devices/getOTADeviceList", h.taskDeviceList, r)
	e.GET("/devices/:id", h.deviceGet, r)
	e.GET("/devices/:id/otaEvents", h.deviceOtaEvents, r)
	e.POST("/devices", h.deviceSave, ru)
	e.DELETE("/devices/:id", h.deviceDelete, d)

	e.GET("/agentDevices", h.agentList, r)
	e.GET("/agentDevices/:id", h.agentGet, r)
	e.POST("/agentDevices", h.agentSave, ru)
	e.DELETE("/agentDevices/:id", h.agentDelete, d)

	e.GET("/packages", h.packageList, r)
	e.GET("/packages/download/:id", h.packageDownload, r)
	e.GET("/packages/:id", h.packageGet, r)
	e.POST("/packages", h.packageUpload, ru)
	e.DELETE("/packages/:id", h.packageDelete, d)

	e.GET("/otaTasks", h.taskList, r)
	e.GET("/otaTasks/:id", h.taskGet, r)
	e.POST("/otaTasks", h.taskCreate, ru)
	e.POST("/otaTasks/retry", h.taskRetryDevice, ru)
	e.POST("/otaTasks/stop/:id", h.taskStopDevice, ru)
	e.POST("/otaTasks/stopTask/:id", h.taskStop, ru)
	e.DELETE("/otaTasks/:id", h.taskDelete, d)
}
