// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
)

func newTestEcho(opts ...EchoOption) *echo.Echo {
	e := NewEchoServer(opts...)
	e.GET("/ok", func(c echo.Context) error {
		return EchoOk(c, http.StatusOK, "pong")
	})
	e.GET("/fail", func(c echo.Context) error {
		return EchoError(c, errors.New("boom"), http.StatusConflict, "already running")
	})
	return e
}

func serve(e *echo.Echo, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) Envelope {
	var env Envelope
	require.Nil(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}

func TestEchoEnvelope(t *testing.T) {
	e := newTestEcho()

	rec := serve(e, http.MethodGet, "/ok", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(t, rec)
	require.True(t, env.Success)
	require.Equal(t, "pong", env.Data)

	rec = serve(e, http.MethodGet, "/fail", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	env = decodeEnvelope(t, rec)
	require.False(t, env.Success)
	require.Equal(t, "already running", env.Message)

	rec = serve(e, http.MethodGet, "/missing", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "Not Found", decodeEnvelope(t, rec).Message)

	rec = serve(e, http.MethodHead, "/missing", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Zero(t, rec.Body.Len())
}

func TestEchoRequestId(t *testing.T) {
	e := newTestEcho()

	rec := serve(e, http.MethodGet, "/ok", map[string]string{echo.HeaderXRequestID: "abc"})
	require.Equal(t, "abc", rec.Header().Get(echo.HeaderXRequestID))

	rec = serve(e, http.MethodGet, "/ok", nil)
	require.Len(t, rec.Header().Get(echo.HeaderXRequestID), 12)
}

func TestEchoCors(t *testing.T) {
	origin := "https://console.example.com"

	rec := serve(newTestEcho(), http.MethodGet, "/ok", map[string]string{echo.HeaderOrigin: origin})
	require.Empty(t, rec.Header().Get(echo.HeaderAccessControlAllowOrigin))

	e := newTestEcho(WithCORS([]string{origin}))
	rec = serve(e, http.MethodGet, "/ok", map[string]string{echo.HeaderOrigin: origin})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, origin, rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
	require.Contains(t, rec.Header().Get(echo.HeaderAccessControlExposeHeaders), echo.HeaderContentDisposition)

	rec = serve(e, http.MethodGet, "/ok", map[string]string{echo.HeaderOrigin: "https://evil.example.com"})
	require.Empty(t, rec.Header().Get(echo.HeaderAccessControlAllowOrigin))

	rec = serve(e, http.MethodOptions, "/ok", map[string]string{
		echo.HeaderOrigin:                     origin,
		echo.HeaderAccessControlRequestMethod: http.MethodDelete,
	})
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, origin, rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
}
