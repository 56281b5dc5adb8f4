// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package api

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/foundriesio/dg-ota/server"
	storage "github.com/foundriesio/dg-ota/storage/api"
)

type Package = storage.Package

// @Summary List firmware packages
// @Param   productId query string false "Only packages of this product"
// @Produce json
// @Success 200 {array} Package
// @Router  /packages [get]
func (h *handlers) packageList(c echo.Context) error {
	pkgs, err := h.storage.PackagesList(c.QueryParam("productId"))
	if err != nil {
		return storageError(c, err, "Failed to list packages")
	}
	return server.EchoOk(c, http.StatusOK, orEmpty(pkgs))
}

// @Summary Get a firmware package
// @Produce json
// @Success 200 {object} Package
// @Router  /packages/{id} [get]
func (h *handlers) packageGet(c echo.Context) error {
	p, err := h.storage.PackageGet(c.Param("id"))
	if err != nil {
		return storageError(c, err, "Failed to look up package")
	} else if p == nil {
		return notFound(c, "Package")
	}
	return server.EchoOk(c, http.StatusOK, p)
}

// @Summary Upload a firmware package
// @Accept  multipart/form-data
// @Param   file formData file true "Package content"
// @Param   name formData string true "Package name"
// @Param   version formData string true "Package version"
// @Param   product formData string true "Product id"
// @Param   md5 formData string false "Hex MD5 of the content, checked by the server"
// @Produce json
// @Success 201 {object} Package
// @Router  /packages [post]
func (h *handlers) packageUpload(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return server.EchoError(c, err, http.StatusBadRequest, "Missing package file")
	}
	content, err := fh.Open()
	if err != nil {
		return server.EchoError(c, err, http.StatusInternalServerError, "Failed to read uploaded package")
	}
	defer func() {
		if err := content.Close(); err != nil {
			CtxGetLog(c.Request().Context()).Warn("failed to close upload", "error", err)
		}
	}()

	p := Package{
		Name:        c.FormValue("name"),
		Version:     c.FormValue("version"),
		Description: c.FormValue("description"),
		Entry:       c.FormValue("entry"),
		ProcessPath: c.FormValue("processPath"),
		ProductId:   c.FormValue("product"),
		Md5:         c.FormValue("md5"),
	}
	if err = h.storage.PackageCreate(&p, content); err != nil {
		return storageError(c, err, "Failed to store package")
	}
	return server.EchoOk(c, http.StatusCreated, p)
}

// @Summary Download the content of a firmware package
// @Produce octet-stream
// @Success 200
// @Router  /packages/download/{id} [get]
func (h *handlers) packageDownload(c echo.Context) error {
	p, fd, err := h.storage.PackageOpen(c.Param("id"))
	if err != nil {
		return storageError(c, err, "Failed to open package")
	}
	defer func() {
		if err := fd.Close(); err != nil {
			CtxGetLog(c.Request().Context()).Warn("failed to close package", "error", err)
		}
	}()

	res := c.Response()
	res.Header().Set(echo.HeaderContentDisposition, contentDisposition(packageFileName(p)))
	res.Header().Set(echo.HeaderContentType, echo.MIMEOctetStream)
	res.Header().Set(echo.HeaderContentLength, strconv.FormatInt(p.Size, 10))
	res.WriteHeader(http.StatusOK)
	_, err = io.Copy(res, fd)
	return err
}

// @Summary Delete a firmware package not used by an active OTA
// @Success 200
// @Router  /packages/{id} [delete]
func (h *handlers) packageDelete(c echo.Context) error {
	if err := h.storage.PackageDelete(c.Param("id")); err != nil {
		return storageError(c, err, "Failed to delete package")
	}
	return server.EchoOk(c, http.StatusOK, nil)
}

func packageFileName(p *Package) string {
	name := p.Name
	if p.Version != "" {
		name += "-" + p.Version
	}
	return filepath.Base(name) + ".bin"
}

// contentDisposition carries both the plain and the RFC 5987 filename so
// clients can recover names that are not plain ASCII.
func contentDisposition(name string) string {
	ascii := strings.Map(func(r rune) rune {
		if r < 0x20 || r > 0x7e || r == '"' || r == '\\' {
			return '_'
		}
		return r
	}, name)
	return fmt.Sprintf(`attachment; filename="%s"; filename*=UTF-8''%s`, ascii, url.PathEscape(name))
}
