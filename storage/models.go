// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package storage

import (
	"encoding/json"
	"errors"
	"time"
)

type Product struct {
	Id          string    `json:"_id"`
	Name        string    `json:"name"`
	Type        string    `json:"type"`
	Protocol    string    `json:"protocol"`
	Status      string    `json:"status"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

const (
	ProductEnabled  = "enabled"
	ProductDisabled = "disabled"
)

type DataType string

const (
	DataTypeInt        DataType = "int"
	DataTypeLong       DataType = "long"
	DataTypeDecimal    DataType = "decimal"
	DataTypeString     DataType = "string"
	DataTypeJsonObject DataType = "jsonObject"
	DataTypeBoolean    DataType = "boolean"
)

func (t DataType) Numeric() bool {
	return t == DataTypeInt || t == DataTypeLong || t == DataTypeDecimal
}

func (t DataType) Valid() bool {
	switch t {
	case DataTypeInt, DataTypeLong, DataTypeDecimal, DataTypeString, DataTypeJsonObject, DataTypeBoolean:
		return true
	}
	return false
}

// DefaultDataRange applies to new numeric parameters.
var DefaultDataRange = []float64{0, 65535}

const (
	AccessRead  = "read"
	AccessWrite = "write"
)

type Property struct {
	Id            string    `json:"_id"`
	ProductId     string    `json:"productId"`
	Name          string    `json:"name"`
	Type          DataType  `json:"type"`
	AccessMethod  []string  `json:"accessMethod"`
	Description   string    `json:"description,omitempty"`
	DataRange     []float64 `json:"dataRange,omitempty"`
	RequestUrl    string    `json:"requestUrl,omitempty"`
	RequestMethod string    `json:"requestMethod,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

func (p Property) Writable() bool {
	for _, m := range p.AccessMethod {
		if m == AccessWrite {
			return true
		}
	}
	return false
}

type Param struct {
	Id          string    `json:"_id,omitempty"`
	Name        string    `json:"name"`
	Type        DataType  `json:"type"`
	Description string    `json:"description,omitempty"`
	DataRange   []float64 `json:"dataRange,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

type Command struct {
	Id            string    `json:"_id"`
	ProductId     string    `json:"productId"`
	Name          string    `json:"name"`
	RequestUrl    string    `json:"requestUrl,omitempty"`
	RequestMethod string    `json:"requestMethod,omitempty"`
	ReqParams     []Param   `json:"reqParams"`
	ResParams     []Param   `json:"resParams"`
	CreatedAt     time.Time `json:"createdAt"`
}

// CommandSave is the body of POST /commands. Params without an id are
// created, params with an id are updated, and the listed ids are deleted.
type CommandSave struct {
	Id                 string   `json:"_id,omitempty"`
	ProductId          string   `json:"productId"`
	Name               string   `json:"name"`
	RequestUrl         string   `json:"requestUrl,omitempty"`
	RequestMethod      string   `json:"requestMethod,omitempty"`
	ReqParams          []Param  `json:"reqParams"`
	ResParams          []Param  `json:"resParams"`
	DeleteReqParamsIds []string `json:"deleteReqParamsIds"`
	DeleteResParamsIds []string `json:"deleteResParamsIds"`
}

type Device struct {
	Id          string    `json:"_id"`
	Name        string    `json:"name"`
	Code        string    `json:"code"`
	DeviceId    string    `json:"deviceId"`
	ProductId   string    `json:"productId"`
	IpAddress   string    `json:"ipAddress,omitempty"`
	Version     string    `json:"version,omitempty"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

type DeviceWithOta struct {
	Device
	ActiveOtas   []OtaDevice `json:"activeOTAs"`
	HasActiveOta bool        `json:"hasActiveOTA"`
}

type Package struct {
	Id          string    `json:"_id"`
	Name        string    `json:"name"`
	Version     string    `json:"version"`
	Description string    `json:"description,omitempty"`
	Entry       string    `json:"entry,omitempty"`
	ProcessPath string    `json:"processPath,omitempty"`
	ProductId   string    `json:"product"`
	FilePath    string    `json:"filePath"`
	Md5         string    `json:"md5"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"createdAt"`
}

// DefaultPackageEntry is used when a package is uploaded without an entry.
const DefaultPackageEntry = "main.py"

type OtaTask struct {
	Id        string    `json:"_id"`
	Name      string    `json:"name"`
	Status    OtaStatus `json:"status"`
	PackageId string    `json:"package"`
	DeviceIds []string  `json:"deviceList"`
	CreatedAt time.Time `json:"createdAt"`
}

type OtaTaskCreate struct {
	Name      string   `json:"name"`
	PackageId string   `json:"package"`
	DeviceIds []string `json:"deviceIdList"`
}

type OtaRetry struct {
	Id        string `json:"id"`
	PackageId string `json:"packageId"`
}

// OtaDevice is the per-device sub-task of an OtaTask. Device details are
// joined in for display.
type OtaDevice struct {
	Id          string    `json:"_id"`
	TaskId      string    `json:"otaTask"`
	DeviceRef   string    `json:"device"`
	DeviceId    string    `json:"deviceId"`
	DeviceName  string    `json:"deviceName"`
	Version     string    `json:"version,omitempty"`
	PackageId   string    `json:"package"`
	Status      OtaStatus `json:"status"`
	Description string    `json:"description"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// AgentTarget is what an agent process is bound to: either a registered
// device or a free-form custom device that exists only for the agent.
type AgentTarget interface {
	agentTarget()
	Label() string
}

type StandardDevice struct {
	DeviceRef string
	DeviceId  string
}

func (StandardDevice) agentTarget() {}

func (d StandardDevice) Label() string {
	if d.DeviceId != "" {
		return d.DeviceId
	}
	return d.DeviceRef
}

type CustomAgent struct {
	DeviceName string
}

func (CustomAgent) agentTarget() {}

func (d CustomAgent) Label() string {
	return d.DeviceName
}

type AgentDevice struct {
	Id           string
	AgentId      string
	Directory    string
	EntryName    string
	CondaEnv     string
	StartCommand string
	Target       AgentTarget
	CreatedAt    time.Time
}

var (
	errAgentNoTarget   = errors.New("agent binding has no target device")
	errAgentNoName     = errors.New("custom agent binding requires deviceName")
	errAgentNoDeviceId = errors.New("agent binding requires device")
)

func (a AgentDevice) IsCustom() bool {
	_, ok := a.Target.(CustomAgent)
	return ok
}

type agentDeviceWire struct {
	Id             string    `json:"_id"`
	IsCustomDevice bool      `json:"isCustomDevice"`
	DeviceName     string    `json:"deviceName,omitempty"`
	Device         string    `json:"device,omitempty"`
	DeviceId       string    `json:"deviceId,omitempty"`
	AgentId        string    `json:"agentId"`
	Directory      string    `json:"directory"`
	EntryName      string    `json:"entryName"`
	CondaEnv       string    `json:"condaEnv,omitempty"`
	StartCommand   string    `json:"startCommand,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

func (a AgentDevice) MarshalJSON() ([]byte, error) {
	w := agentDeviceWire{
		Id:           a.Id,
		AgentId:      a.AgentId,
		Directory:    a.Directory,
		EntryName:    a.EntryName,
		CondaEnv:     a.CondaEnv,
		StartCommand: a.StartCommand,
		CreatedAt:    a.CreatedAt,
	}
	switch t := a.Target.(type) {
	case CustomAgent:
		w.IsCustomDevice = true
		w.DeviceName = t.DeviceName
	case StandardDevice:
		w.Device = t.DeviceRef
		w.DeviceId = t.DeviceId
	default:
		return nil, errAgentNoTarget
	}
	return json.Marshal(w)
}

func (a *AgentDevice) UnmarshalJSON(data []byte) error {
	var w agentDeviceWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*a = AgentDevice{
		Id:           w.Id,
		AgentId:      w.AgentId,
		Directory:    w.Directory,
		EntryName:    w.EntryName,
		CondaEnv:     w.CondaEnv,
		StartCommand: w.StartCommand,
		CreatedAt:    w.CreatedAt,
	}
	if w.IsCustomDevice {
		if w.DeviceName == "" {
			return errAgentNoName
		}
		a.Target = CustomAgent{DeviceName: w.DeviceName}
	} else {
		if w.Device == "" && w.DeviceId == "" {
			return errAgentNoDeviceId
		}
		a.Target = StandardDevice{DeviceRef: w.Device, DeviceId: w.DeviceId}
	}
	return nil
}
