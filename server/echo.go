// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package server

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/random"

	"github.com/foundriesio/dg-ota/context"
)

// MaxUploadSize bounds package uploads.
const MaxUploadSize = "512M"

type EchoOption func(*echo.Echo)

// WithCORS lets a browser console served from one of origins call the api.
// The download file name and the request id are exposed to it.
func WithCORS(origins []string) EchoOption {
	return func(e *echo.Echo) {
		if len(origins) == 0 {
			return
		}
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins:  origins,
			AllowHeaders:  []string{echo.HeaderAuthorization, echo.HeaderContentType},
			ExposeHeaders: []string{echo.HeaderContentDisposition, echo.HeaderXRequestID},
		}))
	}
}

func NewEchoServer(opts ...EchoOption) *echo.Echo {
	server := echo.New()
	server.HideBanner = true
	server.HidePort = true
	server.HTTPErrorHandler = envelopeErrorHandler
	server.Use(contextLogger())
	server.Use(middlewareLogger())
	for _, opt := range opts {
		opt(server)
	}
	server.Use(middleware.BodyLimit(MaxUploadSize))
	return server
}

func middlewareLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		HandleError:      true, // forwards error to the global error handler, so it can decide appropriate status code
		LogContentLength: true,
		LogError:         true,
		LogMethod:        true,
		LogStatus:        true,
		LogURI:           true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log := context.CtxGetLog(c.Request().Context())
			args := []any{"method", v.Method, "content_length", v.ContentLength, "status", v.Status}
			if v.Error == nil {
				log.Info("response", args...)
			} else {
				args = append(args, "err", v.Error.Error())
				log.Error("response", args...)
			}
			return nil
		},
	})
}

func contextLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			res := c.Response()
			ctx := req.Context()
			log := context.CtxGetLog(ctx)

			rid := req.Header.Get(echo.HeaderXRequestID)
			if rid == "" {
				rid = random.String(12) // No need for uuid, save some space
			}
			res.Header().Set(echo.HeaderXRequestID, rid)
			log = log.With("req_id", rid, "uri", req.RequestURI)
			ctx = context.CtxWithLog(ctx, log)
			c.SetRequest(req.WithContext(ctx))
			return next(c)
		}
	}
}
