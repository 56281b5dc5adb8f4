// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package storage

import (
	"errors"
	"fmt"
)

// OtaStatus is shared by OTA tasks and their per-device sub-tasks.
type OtaStatus string

const (
	OtaPending   OtaStatus = "pending"
	OtaRunning   OtaStatus = "running"
	OtaStopping  OtaStatus = "stopping"
	OtaCompleted OtaStatus = "completed"
	OtaFailed    OtaStatus = "failed"
	OtaCanceled  OtaStatus = "canceled"
)

var ErrInvalidTransition = errors.New("invalid status transition")

var OtaStatuses = []OtaStatus{OtaPending, OtaRunning, OtaStopping, OtaCompleted, OtaFailed, OtaCanceled}

var taskEdges = map[OtaStatus][]OtaStatus{
	OtaPending:  {OtaRunning, OtaStopping},
	OtaRunning:  {OtaCompleted, OtaFailed, OtaStopping},
	OtaStopping: {OtaCanceled},
}

// Sub-tasks may additionally be retried out of failed and canceled.
var retryEdges = map[OtaStatus][]OtaStatus{
	OtaFailed:   {OtaPending},
	OtaCanceled: {OtaPending},
}

func ParseOtaStatus(s string) (OtaStatus, error) {
	for _, st := range OtaStatuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown OTA status %q", s)
}

func (s OtaStatus) Terminal() bool {
	return s == OtaCompleted || s == OtaFailed || s == OtaCanceled
}

// Active reports whether work is still expected for this status. Detail
// polling runs only while a task is active.
func (s OtaStatus) Active() bool {
	return s == OtaPending || s == OtaRunning || s == OtaStopping
}

func (s OtaStatus) CanTransition(to OtaStatus) bool {
	for _, n := range taskEdges[s] {
		if n == to {
			return true
		}
	}
	return false
}

func (s OtaStatus) CanRetry() bool {
	_, ok := retryEdges[s]
	return ok
}

func (s OtaStatus) Transition(to OtaStatus) (OtaStatus, error) {
	if !s.CanTransition(to) {
		return s, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s, to)
	}
	return to, nil
}

// CanTransitionDevice is CanTransition extended with the sub-task retry edges.
func (s OtaStatus) CanTransitionDevice(to OtaStatus) bool {
	if s.CanTransition(to) {
		return true
	}
	for _, n := range retryEdges[s] {
		if n == to {
			return true
		}
	}
	return false
}

// Path returns the sequence of statuses needed to walk from s to `to` along
// task edges, excluding s. It is used when an aggregate jumps more than one
// step, e.g. running -> canceled goes through stopping.
func (s OtaStatus) Path(to OtaStatus) ([]OtaStatus, error) {
	if s == to {
		return nil, nil
	}
	type node struct {
		st   OtaStatus
		path []OtaStatus
	}
	seen := map[OtaStatus]bool{s: true}
	queue := []node{{st: s}}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for _, next := range taskEdges[n.st] {
			if seen[next] {
				continue
			}
			path := append(append([]OtaStatus{}, n.path...), next)
			if next == to {
				return path, nil
			}
			seen[next] = true
			queue = append(queue, node{st: next, path: path})
		}
	}
	return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s, to)
}

// AggregateStatus derives a task's status from its sub-tasks. A task with a
// single failed device still completes when others succeeded; it fails only
// when nothing completed.
func AggregateStatus(current OtaStatus, subs []OtaStatus) OtaStatus {
	if current.Terminal() || len(subs) == 0 {
		return current
	}
	var completed, failed, terminal, started int
	for _, s := range subs {
		if s != OtaPending {
			started++
		}
		if s.Terminal() {
			terminal++
		}
		switch s {
		case OtaCompleted:
			completed++
		case OtaFailed:
			failed++
		}
	}

	if current == OtaStopping {
		if terminal == len(subs) {
			return OtaCanceled
		}
		return OtaStopping
	}
	if current == OtaPending && started == 0 {
		return OtaPending
	}
	if terminal < len(subs) {
		return OtaRunning
	}
	switch {
	case completed > 0:
		return OtaCompleted
	case failed > 0:
		return OtaFailed
	default:
		return OtaCanceled
	}
}
