// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/foundriesio/dg-ota/cli/config"
)

// Api is the REST client of the store. It implements ota.Store and
// session.DefinitionSource.
type Api struct {
	URL string

	Client *http.Client
}

const userAgent = "otactl"

func NewClient(appCtx config.Context) *Api {
	return &Api{
		URL: strings.TrimSuffix(appCtx.URL, "/"),
		Client: &http.Client{
			Transport: &authTransport{
				token: appCtx.Token,
				base:  http.DefaultTransport,
			},
		},
	}
}

// authTransport stamps the operator token and client headers on every request.
type authTransport struct {
	token string
	base  http.RoundTripper
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// A RoundTripper must not modify the caller's request.
	out := req.Clone(req.Context())
	out.Header.Set("Authorization", "Bearer "+t.token)
	out.Header.Set("User-Agent", userAgent)
	if out.Header.Get("Accept") == "" {
		out.Header.Set("Accept", "application/json")
	}
	resp, err := t.base.RoundTrip(out)
	if err != nil {
		slog.Debug("request failed", "method", req.Method, "url", req.URL.Redacted(), "error", err)
	}
	return resp, err
}
