// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package api

import (
	"github.com/foundriesio/dg-ota/auth"
	"github.com/foundriesio/dg-ota/context"
)

type (
	Context = context.Context
	ctxKey  int
)

var (
	CtxGetLog  = context.CtxGetLog
	CtxWithLog = context.CtxWithLog
)

const (
	ctxKeyOperator ctxKey = iota
)

// CtxGetOperator returns the authenticated operator of a request, or nil
// outside of authUser.
func CtxGetOperator(ctx Context) auth.User {
	user, _ := ctx.Value(ctxKeyOperator).(auth.User)
	return user
}

func CtxWithOperator(ctx Context, user auth.User) Context {
	return context.WithValue(ctx, ctxKeyOperator, user)
}
