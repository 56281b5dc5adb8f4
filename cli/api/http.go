// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/foundriesio/dg-ota/context"
	"github.com/foundriesio/dg-ota/errs"
)

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (a Api) Get(ctx context.Context, resource string, result any) error {
	return a.do(ctx, http.MethodGet, resource, nil, "", result)
}

func (a Api) Post(ctx context.Context, resource string, body, result any) error {
	var data []byte
	if body != nil {
		var err error
		if data, err = json.Marshal(body); err != nil {
			return fmt.Errorf("unable to encode request: %w", err)
		}
	}
	return a.do(ctx, http.MethodPost, resource, bytes.NewReader(data), "application/json", result)
}

func (a Api) Delete(ctx context.Context, resource string) error {
	return a.do(ctx, http.MethodDelete, resource, nil, "", nil)
}

func (a Api) do(ctx context.Context, method, resource string, body io.Reader, contentType string, result any) error {
	resp, err := a.send(ctx, method, resource, body, contentType)
	if err != nil {
		return err
	}
	defer a.closeBody(ctx, resp)
	return decodeEnvelope(method+" "+resource, resp, result)
}

// send performs the request. Failing to reach the store is a NetworkError.
func (a Api) send(ctx context.Context, method, resource string, body io.Reader, contentType string) (*http.Response, error) {
	op := method + " " + resource
	req, err := http.NewRequestWithContext(ctx, method, a.URL+resource, body)
	if err != nil {
		return nil, fmt.Errorf("unable to create request %s: %w", op, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := a.Client.Do(req)
	if err != nil {
		return nil, errs.Network(op, err)
	}
	return resp, nil
}

func (a Api) closeBody(ctx context.Context, resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		context.CtxGetLog(ctx).Warn("failed to close response body", "error", err)
	}
}

// decodeEnvelope turns a `success:false` answer or a failing status into a
// RemoteError carrying the server message.
func decodeEnvelope(op string, resp *http.Response, result any) error {
	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return errs.Network(op, err)
	}
	var env envelope
	if err = json.Unmarshal(buf, &env); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			rid := resp.Header.Get("X-Request-ID")
			return errs.Remote(op, resp.StatusCode, fmt.Sprintf("request (id=%s) failed with status %d", rid, resp.StatusCode))
		}
		return errs.Remote(op, resp.StatusCode, "malformed response: "+err.Error())
	}
	if !env.Success || resp.StatusCode >= http.StatusBadRequest {
		return errs.Remote(op, resp.StatusCode, env.Message)
	}
	if result != nil && len(env.Data) > 0 {
		if err = json.Unmarshal(env.Data, result); err != nil {
			return errs.Remote(op, resp.StatusCode, "malformed response data: "+err.Error())
		}
	}
	return nil
}
