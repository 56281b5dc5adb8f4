// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package api

import (
	"github.com/foundriesio/dg-ota/cli/config"
	"github.com/foundriesio/dg-ota/context"
)

type apiContextKey int

const (
	contextKey apiContextKey = iota
	configKey
)

func CtxGetApi(ctx context.Context) *Api {
	return ctx.Value(contextKey).(*Api)
}

func CtxWithApi(ctx context.Context, api *Api) context.Context {
	return context.WithValue(ctx, contextKey, api)
}

// CtxGetConfig returns the selected configuration context. Commands that
// reach devices read the broker settings from it.
func CtxGetConfig(ctx context.Context) config.Context {
	return ctx.Value(configKey).(config.Context)
}

func CtxWithConfig(ctx context.Context, cfg config.Context) context.Context {
	return context.WithValue(ctx, configKey, cfg)
}
