// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/foundriesio/dg-ota/server"
	"github.com/foundriesio/dg-ota/storage"
	"github.com/foundriesio/dg-ota/storage/api"
)

// storageError answers with the status matching a storage failure. Client
// caused failures carry the storage message, everything else carries msg.
func storageError(c echo.Context, err error, msg string) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, api.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, api.ErrInvalid), errors.Is(err, api.ErrChecksumMismatch):
		status = http.StatusBadRequest
	case errors.Is(err, api.ErrInUse), errors.Is(err, api.ErrIneligible),
		errors.Is(err, storage.ErrInvalidTransition), api.IsDbError(err, api.ErrDbConstraintUnique):
		status = http.StatusConflict
	}
	if status != http.StatusInternalServerError {
		msg = msg + ": " + err.Error()
	}
	return server.EchoError(c, err, status, msg)
}

func notFound(c echo.Context, what string) error {
	return server.EchoError(c, api.ErrNotFound, http.StatusNotFound, what+" not found")
}

func badJson(c echo.Context, err error) error {
	return server.EchoError(c, err, http.StatusBadRequest, "Bad JSON body")
}
