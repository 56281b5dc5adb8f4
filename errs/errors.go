// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

// Package errs holds the error types shared by the console components. Every
// operation boundary converts its failure into one of these so the caller can
// render a transient message with Message.
package errs

import (
	"errors"
	"fmt"
)

// GenericFailure is shown when a remote failure carries no message.
const GenericFailure = "operation failed"

var (
	ErrTimeout = errors.New("timed out waiting for device response")
	ErrClosed  = errors.New("session closed")
)

// ValidationError is raised before any network traffic happens.
type ValidationError struct {
	Field string
	Msg   string
}

func Validation(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return e.Field + ": " + e.Msg
}

// NetworkError means the request was rejected or the remote end could not be
// reached. The next poll cycle is the only retry.
type NetworkError struct {
	Op  string
	Err error
}

func Network(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err}
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// RemoteError is a `success:false` envelope from the store or an `ok:false`
// device response.
type RemoteError struct {
	Op     string
	Status int
	Msg    string
}

func Remote(op string, status int, msg string) *RemoteError {
	if msg == "" {
		msg = GenericFailure
	}
	return &RemoteError{Op: op, Status: status, Msg: msg}
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Msg)
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func IsNetwork(err error) bool {
	var n *NetworkError
	return errors.As(err, &n)
}

func IsRemote(err error) bool {
	var r *RemoteError
	return errors.As(err, &r)
}

// IsNotFound reports whether the store answered that the resource is gone.
func IsNotFound(err error) bool {
	var r *RemoteError
	return errors.As(err, &r) && r.Status == 404
}

// Message renders err the way an operator should see it. Remote messages are
// passed through verbatim.
func Message(err error) string {
	var (
		v *ValidationError
		n *NetworkError
		r *RemoteError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &r):
		return r.Msg
	case errors.As(err, &v):
		return v.Error()
	case errors.Is(err, ErrTimeout):
		return ErrTimeout.Error()
	case errors.As(err, &n):
		return "network error: " + n.Err.Error()
	}
	return err.Error()
}
