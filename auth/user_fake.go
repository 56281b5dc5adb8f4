// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package auth

import (
	"fmt"
	"net/http"
	"slices"
)

const FakeUserId = "fake-operator"

// fakeUser holds every scope except the denied ones. A denied "*" revokes all.
type fakeUser struct {
	denied []string
}

func (fakeUser) Id() string {
	return FakeUserId
}

func (u fakeUser) HasScope(scope Scope) error {
	if slices.Contains(u.denied, "*") {
		return fmt.Errorf("%s is denied every scope", FakeUserId)
	}
	for _, s := range scope {
		if !slices.Contains(u.denied, s) {
			return nil
		}
	}
	return fmt.Errorf("%s is denied %v", FakeUserId, []string(scope))
}

// FakeAuthUser accepts every request. It backs `otad serve --no-auth` and the
// handler tests, which revoke scopes with `?deny-scope=ota:delete` or
// `?deny-scope=*`.
func FakeAuthUser(w http.ResponseWriter, r *http.Request) (User, error) {
	return &fakeUser{denied: r.URL.Query()["deny-scope"]}, nil
}
