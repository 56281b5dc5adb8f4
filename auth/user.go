// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package auth

import (
	"net/http"
)

// Scope helps simplify how we check for role-based access. For example,
// listing tasks needs `ota:read` *or* `ota:read-update`. A Scope lists every
// token scope that grants the access.
type Scope []string

var (
	ScopeOtaR  = Scope{"ota:read", "ota:read-update"}
	ScopeOtaRU = Scope{"ota:read-update"}
	ScopeOtaD  = Scope{"ota:delete"}
)

// AllScopes are the scopes a token can be granted.
var AllScopes = []string{"ota:read", "ota:read-update", "ota:delete"}

type User interface {
	Id() string
	HasScope(Scope) error
}

// AuthUserFunc allows us to define a generic way for middleware to do
// authentication and authorization based on the incoming http request.
// The function returns nil if the user wasn't authenticated implying
// this function returned the proper error to the caller.
type AuthUserFunc func(w http.ResponseWriter, r *http.Request) (User, error)
