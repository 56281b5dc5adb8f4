// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package server

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/foundriesio/dg-ota/context"
)

// Envelope wraps every JSON response of the REST api.
type Envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func EchoOk(c echo.Context, status int, data any) error {
	return c.JSON(status, Envelope{Success: true, Data: data})
}

// EchoError logs the cause and answers with a failure envelope carrying msg.
func EchoError(c echo.Context, err error, status int, msg string) error {
	log := context.CtxGetLog(c.Request().Context())
	if status >= http.StatusInternalServerError {
		log.Error(msg, "error", err, "status", status)
	} else {
		log.Info(msg, "error", err, "status", status)
	}
	return c.JSON(status, Envelope{Success: false, Message: msg})
}

// envelopeErrorHandler renders errors not handled by EchoError, e.g. unknown
// routes or oversized bodies, as failure envelopes.
func envelopeErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	status, msg := http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError)
	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		if m, ok := he.Message.(string); ok {
			msg = m
		} else {
			msg = http.StatusText(status)
		}
	}
	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, Envelope{Success: false, Message: msg})
	}
	if err != nil {
		context.CtxGetLog(c.Request().Context()).Error("unable to send error response", "error", err)
	}
}
