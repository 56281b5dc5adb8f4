// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessage(t *testing.T) {
	assert.Equal(t, "", Message(nil))
	assert.Equal(t, "device busy", Message(Remote("invoke", 0, "device busy")))
	assert.Equal(t, GenericFailure, Message(Remote("invoke", 0, "")))
	assert.Equal(t, "deviceIds: select at least one device", Message(Validation("deviceIds", "select at least one device")))
	assert.Equal(t, ErrTimeout.Error(), Message(fmt.Errorf("set property: %w", ErrTimeout)))
	assert.Equal(t, "network error: refused", Message(Network("GET /otaTasks", errors.New("refused"))))
}

func TestPredicates(t *testing.T) {
	wrapped := fmt.Errorf("create: %w", Validation("", "bad"))
	assert.True(t, IsValidation(wrapped))
	assert.False(t, IsNetwork(wrapped))

	cause := errors.New("dial tcp: refused")
	n := Network("connect", cause)
	assert.True(t, IsNetwork(n))
	assert.True(t, errors.Is(n, cause))
	assert.True(t, IsRemote(fmt.Errorf("x: %w", Remote("op", 409, "conflict"))))
	assert.False(t, IsNotFound(Remote("op", 409, "conflict")))
	assert.True(t, IsNotFound(fmt.Errorf("x: %w", Remote("get task", 404, "gone"))))
	assert.False(t, IsNotFound(n))
}
