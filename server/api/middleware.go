// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/foundriesio/dg-ota/auth"
	"github.com/foundriesio/dg-ota/server"
)

// requireScope rejects the request unless the operator holds one of scope's
// entries. It must run after authUser.
func requireScope(scope auth.Scope) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			user := CtxGetOperator(c.Request().Context())
			if user == nil {
				err := errors.New("no operator on request")
				return server.EchoError(c, err, http.StatusUnauthorized, err.Error())
			}
			if err := user.HasScope(scope); err != nil {
				return server.EchoError(c, err, http.StatusForbidden, err.Error())
			}
			return next(c)
		}
	}
}

// authUser resolves the operator of a request. The auth function writes its
// own response when it returns no user.
func authUser(authFunc auth.AuthUserFunc) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			user, err := authFunc(c.Response().Writer, req)
			if err != nil || user == nil {
				return err
			}
			ctx := CtxWithOperator(req.Context(), user)
			ctx = CtxWithLog(ctx, CtxGetLog(ctx).With("operator", user.Id()))
			c.SetRequest(req.WithContext(ctx))
			return next(c)
		}
	}
}
