// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/foundriesio/dg-ota/server"
	storage "github.com/foundriesio/dg-ota/storage/api"
)

type (
	Product     = storage.Product
	Property    = storage.Property
	Command     = storage.Command
	CommandSave = storage.CommandSave
	Param       = storage.Param
)

// @Summary List products
// @Produce json
// @Success 200 {array} Product
// @Router  /products [get]
func (h *handlers) productList(c echo.Context) error {
	products, err := h.storage.ProductsList()
	if err != nil {
		return storageError(c, err, "Failed to list products")
	}
	return server.EchoOk(c, http.StatusOK, orEmpty(products))
}

// @Summary Get a product
// @Produce json
// @Success 200 {object} Product
// @Router  /products/{id} [get]
func (h *handlers) productGet(c echo.Context) error {
	p, err := h.storage.ProductGet(c.Param("id"))
	if err != nil {
		return storageError(c, err, "Failed to look up product")
	} else if p == nil {
		return notFound(c, "Product")
	}
	return server.EchoOk(c, http.StatusOK, p)
}

// @Summary Create or update a product
// @Accept  json
// @Param   data body Product true "Product, without _id to create one"
// @Produce json
// @Success 200 {object} Product
// @Router  /products [post]
func (h *handlers) productSave(c echo.Context) error {
	var p Product
	if err := c.Bind(&p); err != nil {
		return badJson(c, err)
	}
	status := savedStatus(p.Id)
	if err := h.storage.ProductSave(&p); err != nil {
		return storageError(c, err, "Failed to save product")
	}
	return server.EchoOk(c, status, p)
}

// @Summary Delete a product with its properties and commands
// @Success 200
// @Router  /products/{id} [delete]
func (h *handlers) productDelete(c echo.Context) error {
	if err := h.storage.ProductDelete(c.Param("id")); err != nil {
		return storageError(c, err, "Failed to delete product")
	}
	return server.EchoOk(c, http.StatusOK, nil)
}

// @Summary List the properties of a product
// @Param   productId query string true "Product id"
// @Produce json
// @Success 200 {array} Property
// @Router  /properties [get]
func (h *handlers) propertyList(c echo.Context) error {
	props, err := h.storage.PropertiesList(c.QueryParam("productId"))
	if err != nil {
		return storageError(c, err, "Failed to list properties")
	}
	return server.EchoOk(c, http.StatusOK, orEmpty(props))
}

// @Summary Get a property definition
// @Produce json
// @Success 200 {object} Property
// @Router  /properties/{id} [get]
func (h *handlers) propertyGet(c echo.Context) error {
	p, err := h.storage.PropertyGet(c.Param("id"))
	if err != nil {
		return storageError(c, err, "Failed to look up property")
	} else if p == nil {
		return notFound(c, "Property")
	}
	return server.EchoOk(c, http.StatusOK, p)
}

// @Summary Create or update a property definition
// @Accept  json
// @Param   data body Property true "Property"
// @Produce json
// @Success 200 {object} Property
// @Router  /properties [post]
func (h *handlers) propertySave(c echo.Context) error {
	var p Property
	if err := c.Bind(&p); err != nil {
		return badJson(c, err)
	}
	status := savedStatus(p.Id)
	if err := h.storage.PropertySave(&p); err != nil {
		return storageError(c, err, "Failed to save property")
	}
	return server.EchoOk(c, status, p)
}

// @Summary Delete a property definition
// @Success 200
// @Router  /properties/{id} [delete]
func (h *handlers) propertyDelete(c echo.Context) error {
	if err := h.storage.PropertyDelete(c.Param("id")); err != nil {
		return storageError(c, err, "Failed to delete property")
	}
	return server.EchoOk(c, http.StatusOK, nil)
}

// @Summary List the commands of a product with their parameters
// @Param   productId query string true "Product id"
// @Produce json
// @Success 200 {array} Command
// @Router  /commands [get]
func (h *handlers) commandList(c echo.Context) error {
	cmds, err := h.storage.CommandsList(c.QueryParam("productId"))
	if err != nil {
		return storageError(c, err, "Failed to list commands")
	}
	return server.EchoOk(c, http.StatusOK, orEmpty(cmds))
}

// @Summary Get a command with its parameters
// @Produce json
// @Success 200 {object} Command
// @Router  /commands/{id} [get]
func (h *handlers) commandGet(c echo.Context) error {
	cmd, err := h.storage.CommandGet(c.Param("id"))
	if err != nil {
		return storageError(c, err, "Failed to look up command")
	} else if cmd == nil {
		return notFound(c, "Command")
	}
	return server.EchoOk(c, http.StatusOK, cmd)
}

// @Summary Save a command together with its parameter edits
// @Accept  json
// @Param   data body CommandSave true "Command edit session"
// @Produce json
// @Success 200 {object} Command
// @Router  /commands [post]
func (h *handlers) commandSave(c echo.Context) error {
	var req CommandSave
	if err := c.Bind(&req); err != nil {
		return badJson(c, err)
	}
	status := savedStatus(req.Id)
	cmd, err := h.storage.CommandSave(req)
	if err != nil {
		return storageError(c, err, "Failed to save command")
	}
	return server.EchoOk(c, status, cmd)
}

// @Summary Delete a command and its parameters
// @Success 200
// @Router  /commands/{id} [delete]
func (h *handlers) commandDelete(c echo.Context) error {
	if err := h.storage.CommandDelete(c.Param("id")); err != nil {
		return storageError(c, err, "Failed to delete command")
	}
	return server.EchoOk(c, http.StatusOK, nil)
}

// @Summary List request or response parameters of a command
// @Param   commandId query string true "Command id"
// @Produce json
// @Success 200 {array} Param
// @Router  /reqParams [get]
// @Router  /resParams [get]
func (h *handlers) paramList(direction string) echo.HandlerFunc {
	return func(c echo.Context) error {
		params, err := h.storage.ParamsList(c.QueryParam("commandId"), direction)
		if err != nil {
			return storageError(c, err, "Failed to list parameters")
		}
		return server.EchoOk(c, http.StatusOK, orEmpty(params))
	}
}

// @Summary Create or update a single command parameter
// @Param   commandId query string true "Command id"
// @Param   data body Param true "Parameter"
// @Produce json
// @Success 200 {object} Param
// @Router  /reqParams [post]
// @Router  /resParams [post]
func (h *handlers) paramSave(direction string) echo.HandlerFunc {
	return func(c echo.Context) error {
		var p Param
		if err := c.Bind(&p); err != nil {
			return badJson(c, err)
		}
		status := savedStatus(p.Id)
		saved, err := h.storage.ParamSave(c.QueryParam("commandId"), direction, p)
		if err != nil {
			return storageError(c, err, "Failed to save parameter")
		}
		return server.EchoOk(c, status, saved)
	}
}

// @Summary Delete a command parameter
// @Success 200
// @Router  /reqParams/{id} [delete]
// @Router  /resParams/{id} [delete]
func (h *handlers) paramDelete(direction string) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := h.storage.ParamDelete(direction, c.Param("id")); err != nil {
			return storageError(c, err, "Failed to delete parameter")
		}
		return server.EchoOk(c, http.StatusOK, nil)
	}
}

// orEmpty makes empty lists marshal as [] rather than null.
func orEmpty[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

func savedStatus(id string) int {
	if id == "" {
		return http.StatusCreated
	}
	return http.StatusOK
}
