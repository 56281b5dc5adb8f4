// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package transport

import (
	"strings"
)

// Kind is the kind of a correlated device request.
type Kind int

const (
	KindCommand Kind = iota
	KindPropertySet
)

func (k Kind) String() string {
	switch k {
	case KindCommand:
		return "command"
	case KindPropertySet:
		return "property-set"
	}
	return "unknown"
}

const (
	devicesPrefix   = "/devices/"
	requestIdPrefix = "request_id="

	suffixMessagesUp       = "/sys/messages/up"
	suffixMessagesDown     = "/sys/messages/down"
	suffixPropertiesReport = "/sys/properties/report"
	suffixPropertiesGet    = "/sys/properties/get"
	suffixEventsUp         = "/sys/events/up"
	suffixEventsDown       = "/sys/events/down"

	commandsRequest    = "/sys/commands/"
	commandsResponse   = "/sys/commands/response/"
	propertiesRequest  = "/sys/properties/set/"
	propertiesResponse = "/sys/properties/set/response/"
)

func deviceTopic(deviceId, suffix string) string {
	return devicesPrefix + deviceId + suffix
}

func MessagesUp(deviceId string) string       { return deviceTopic(deviceId, suffixMessagesUp) }
func MessagesDown(deviceId string) string     { return deviceTopic(deviceId, suffixMessagesDown) }
func PropertiesReport(deviceId string) string { return deviceTopic(deviceId, suffixPropertiesReport) }
func PropertiesGet(deviceId string) string    { return deviceTopic(deviceId, suffixPropertiesGet) }
func EventsUp(deviceId string) string         { return deviceTopic(deviceId, suffixEventsUp) }
func EventsDown(deviceId string) string       { return deviceTopic(deviceId, suffixEventsDown) }

// AllEventsUp matches the events/up topic of every device.
const AllEventsUp = devicesPrefix + "+" + suffixEventsUp

// Request returns the platform -> device topic of a correlated request.
func Request(deviceId string, kind Kind, requestId string) string {
	if kind == KindPropertySet {
		return deviceTopic(deviceId, propertiesRequest+requestIdPrefix+requestId)
	}
	return deviceTopic(deviceId, commandsRequest+requestIdPrefix+requestId)
}

// Response returns the device -> platform topic answering a correlated request.
func Response(deviceId string, kind Kind, requestId string) string {
	if kind == KindPropertySet {
		return deviceTopic(deviceId, propertiesResponse+requestIdPrefix+requestId)
	}
	return deviceTopic(deviceId, commandsResponse+requestIdPrefix+requestId)
}

// ParseResponse extracts the device, kind and request id of a response topic.
func ParseResponse(topic string) (deviceId string, kind Kind, requestId string, ok bool) {
	rest, found := strings.CutPrefix(topic, devicesPrefix)
	if !found {
		return
	}
	idx := strings.Index(rest, "/sys/")
	if idx <= 0 {
		return
	}
	deviceId, rest = rest[:idx], rest[idx:]
	switch {
	case strings.HasPrefix(rest, commandsResponse):
		kind, rest = KindCommand, rest[len(commandsResponse):]
	case strings.HasPrefix(rest, propertiesResponse):
		kind, rest = KindPropertySet, rest[len(propertiesResponse):]
	default:
		return "", 0, "", false
	}
	requestId, found = strings.CutPrefix(rest, requestIdPrefix)
	if !found || requestId == "" || strings.Contains(requestId, "/") {
		return "", 0, "", false
	}
	return deviceId, kind, requestId, true
}

// DeviceOf returns the device id of any device topic.
func DeviceOf(topic string) (string, bool) {
	rest, found := strings.CutPrefix(topic, devicesPrefix)
	if !found {
		return "", false
	}
	deviceId, _, found := strings.Cut(rest, "/")
	return deviceId, found && deviceId != ""
}

// Match reports whether topic matches an MQTT subscription filter with `+`
// and `#` wildcards.
func Match(filter, topic string) bool {
	if filter == topic {
		return true
	}
	fparts := strings.Split(filter, "/")
	tparts := strings.Split(topic, "/")
	for i, f := range fparts {
		if f == "#" {
			return i == len(fparts)-1
		}
		if i >= len(tparts) {
			return false
		}
		if f != "+" && f != tparts[i] {
			return false
		}
	}
	return len(fparts) == len(tparts)
}
