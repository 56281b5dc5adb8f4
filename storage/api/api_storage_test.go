// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package api

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foundriesio/dg-ota/storage"
)

func newTestStorage(t *testing.T) *Storage {
	tmpdir := t.TempDir()
	db, err := storage.NewDb(filepath.Join(tmpdir, "sql.db"))
	require.Nil(t, err)
	t.Cleanup(func() { _ = db.Close() })
	fs, err := storage.NewFs(tmpdir)
	require.Nil(t, err)
	s, err := NewStorage(db, fs)
	require.Nil(t, err)
	return s
}

func timeIn(secs int) time.Time {
	return time.Now().Add(time.Duration(secs) * time.Second)
}

func createProduct(t *testing.T, s *Storage, name string) Product {
	p := Product{Name: name, Type: "gateway", Protocol: "mqtt"}
	require.Nil(t, s.ProductSave(&p))
	return p
}

func createDevice(t *testing.T, s *Storage, productId, deviceId, version string) Device {
	d := Device{Name: "name-" + deviceId, Code: "code-" + deviceId, DeviceId: deviceId, ProductId: productId, Version: version}
	require.Nil(t, s.DeviceSave(&d))
	return d
}

func createPackage(t *testing.T, s *Storage, productId, version string) Package {
	p := Package{Name: "fw", Version: version, ProductId: productId}
	require.Nil(t, s.PackageCreate(&p, strings.NewReader("firmware "+version)))
	return p
}

func TestStorageProducts(t *testing.T) {
	s := newTestStorage(t)

	p, err := s.ProductGet("does not exist")
	require.Nil(t, err)
	require.Nil(t, p)

	products, err := s.ProductsList()
	require.Nil(t, err)
	require.Equal(t, 0, len(products))

	prod := createProduct(t, s, "sensor")
	assert.NotEmpty(t, prod.Id)
	assert.Equal(t, storage.ProductEnabled, prod.Status)

	prod.Status = storage.ProductDisabled
	require.Nil(t, s.ProductSave(&prod))
	p, err = s.ProductGet(prod.Id)
	require.Nil(t, err)
	assert.Equal(t, storage.ProductDisabled, p.Status)

	prod.Status = "broken"
	require.NotNil(t, s.ProductSave(&prod))

	dup := Product{Name: "sensor"}
	err = s.ProductSave(&dup)
	require.NotNil(t, err)
	assert.True(t, IsDbError(err, ErrDbConstraintUnique))

	missing := Product{Id: "nope", Name: "x"}
	assert.True(t, errors.Is(s.ProductSave(&missing), ErrNotFound))

	prop := Property{ProductId: prod.Id, Name: "temp", Type: storage.DataTypeInt,
		AccessMethod: []string{"read", "write"}, DataRange: []float64{-40, 125}}
	require.Nil(t, s.PropertySave(&prop))
	props, err := s.PropertiesList(prod.Id)
	require.Nil(t, err)
	require.Equal(t, 1, len(props))
	assert.Equal(t, []float64{-40, 125}, props[0].DataRange)
	assert.True(t, props[0].Writable())

	bad := Property{ProductId: prod.Id, Name: "x", Type: "float"}
	require.NotNil(t, s.PropertySave(&bad))
	bad = Property{ProductId: prod.Id, Name: "y", Type: storage.DataTypeInt, DataRange: []float64{5, 1}}
	require.NotNil(t, s.PropertySave(&bad))

	d := createDevice(t, s, prod.Id, "dev-1", "")
	assert.True(t, errors.Is(s.ProductDelete(prod.Id), ErrInUse))
	require.Nil(t, s.DeviceDelete(d.Id))
	require.Nil(t, s.ProductDelete(prod.Id))
	props, err = s.PropertiesList(prod.Id)
	require.Nil(t, err)
	assert.Equal(t, 0, len(props))
	assert.True(t, errors.Is(s.ProductDelete(prod.Id), ErrNotFound))
}

func TestStorageCommands(t *testing.T) {
	s := newTestStorage(t)
	prod := createProduct(t, s, "sensor")

	c, err := s.CommandSave(CommandSave{
		ProductId: prod.Id,
		Name:      "reboot",
		ReqParams: []Param{
			{Name: "delay", Type: storage.DataTypeInt, DataRange: []float64{0, 60}},
			{Name: "reason", Type: storage.DataTypeString},
		},
		ResParams: []Param{{Name: "accepted", Type: storage.DataTypeBoolean}},
	})
	require.Nil(t, err)
	require.Equal(t, 2, len(c.ReqParams))
	require.Equal(t, 1, len(c.ResParams))
	assert.Equal(t, "delay", c.ReqParams[0].Name)
	assert.Equal(t, "reason", c.ReqParams[1].Name)

	// Rename one, delete one, add one
	delay := c.ReqParams[0]
	delay.Name = "delaySeconds"
	c, err = s.CommandSave(CommandSave{
		Id:                 c.Id,
		ProductId:          prod.Id,
		Name:               "reboot",
		ReqParams:          []Param{delay, {Name: "force", Type: storage.DataTypeBoolean}},
		ResParams:          c.ResParams,
		DeleteReqParamsIds: []string{c.ReqParams[1].Id},
	})
	require.Nil(t, err)
	require.Equal(t, 2, len(c.ReqParams))
	assert.Equal(t, "delaySeconds", c.ReqParams[0].Name)
	assert.Equal(t, delay.Id, c.ReqParams[0].Id)
	assert.Equal(t, "force", c.ReqParams[1].Name)
	require.Equal(t, 1, len(c.ResParams))

	// A failing param rolls back the whole save
	_, err = s.CommandSave(CommandSave{
		Id: c.Id, ProductId: prod.Id, Name: "renamed",
		ReqParams: []Param{{Name: "bad", Type: "nope"}},
	})
	require.NotNil(t, err)
	c2, err := s.CommandGet(c.Id)
	require.Nil(t, err)
	assert.Equal(t, "reboot", c2.Name)
	assert.Equal(t, 2, len(c2.ReqParams))

	res, err := s.ParamSave(c.Id, ParamsRes, Param{Name: "code", Type: storage.DataTypeInt})
	require.Nil(t, err)
	params, err := s.ParamsList(c.Id, ParamsRes)
	require.Nil(t, err)
	require.Equal(t, 2, len(params))
	assert.Equal(t, "code", params[1].Name)

	assert.True(t, errors.Is(s.ParamDelete(ParamsReq, res.Id), ErrNotFound))
	require.Nil(t, s.ParamDelete(ParamsRes, res.Id))

	commands, err := s.CommandsList(prod.Id)
	require.Nil(t, err)
	require.Equal(t, 1, len(commands))
	assert.Equal(t, 1, len(commands[0].ResParams))

	require.Nil(t, s.CommandDelete(c.Id))
	commands, err = s.CommandsList(prod.Id)
	require.Nil(t, err)
	assert.Equal(t, 0, len(commands))
}

func TestStorageDevices(t *testing.T) {
	s := newTestStorage(t)
	prod := createProduct(t, s, "sensor")
	other := createProduct(t, s, "camera")

	d1 := createDevice(t, s, prod.Id, "dev-1", "1.0")
	createDevice(t, s, other.Id, "dev-2", "")

	dup := Device{Name: "x", DeviceId: "dev-1", ProductId: prod.Id}
	err := s.DeviceSave(&dup)
	require.NotNil(t, err)
	assert.True(t, IsDbError(err, ErrDbConstraintUnique))

	devices, err := s.DevicesList("")
	require.Nil(t, err)
	assert.Equal(t, 2, len(devices))
	devices, err = s.DevicesList(prod.Id)
	require.Nil(t, err)
	require.Equal(t, 1, len(devices))
	assert.Equal(t, "dev-1", devices[0].DeviceId)

	d, err := s.DeviceGetByDeviceId("dev-1")
	require.Nil(t, err)
	assert.Equal(t, d1.Id, d.Id)

	require.Nil(t, s.DeviceSetVersion(d1.Id, "2.0"))
	d, err = s.DeviceGet(d1.Id)
	require.Nil(t, err)
	assert.Equal(t, "2.0", d.Version)

	// Editing does not touch the installed version
	d.Version = "9.9"
	d.Name = "renamed"
	require.Nil(t, s.DeviceSave(d))
	d, err = s.DeviceGet(d1.Id)
	require.Nil(t, err)
	assert.Equal(t, "2.0", d.Version)
	assert.Equal(t, "renamed", d.Name)

	agent := AgentDevice{AgentId: "agent-1", Directory: "/opt/app", EntryName: "main.py",
		Target: storage.StandardDevice{DeviceId: "dev-1"}}
	require.Nil(t, s.AgentDeviceSave(&agent))
	custom := AgentDevice{AgentId: "agent-2", Directory: "/srv", EntryName: "run.py", CondaEnv: "py311",
		Target: storage.CustomAgent{DeviceName: "lab-pc"}}
	require.Nil(t, s.AgentDeviceSave(&custom))
	missing := AgentDevice{AgentId: "agent-3", Target: storage.StandardDevice{DeviceId: "nope"}}
	assert.True(t, errors.Is(s.AgentDeviceSave(&missing), ErrNotFound))

	a, err := s.AgentDeviceGet(agent.Id)
	require.Nil(t, err)
	assert.Equal(t, storage.StandardDevice{DeviceRef: d1.Id, DeviceId: "dev-1"}, a.Target)
	a, err = s.AgentDeviceGet(custom.Id)
	require.Nil(t, err)
	assert.True(t, a.IsCustom())
	assert.Equal(t, "lab-pc", a.Target.Label())

	agents, err := s.AgentDevicesList()
	require.Nil(t, err)
	assert.Equal(t, 2, len(agents))
	require.Nil(t, s.AgentDeviceDelete(custom.Id))
	assert.True(t, errors.Is(s.AgentDeviceDelete(custom.Id), ErrNotFound))
}

func TestStoragePackages(t *testing.T) {
	s := newTestStorage(t)
	prod := createProduct(t, s, "sensor")

	p := Package{Name: "fw", Version: "1.0", ProductId: prod.Id, Md5: "5EB63BBBE01EEED093CB22BB8F5ACDC3"}
	require.Nil(t, s.PackageCreate(&p, strings.NewReader("hello world")))
	assert.Equal(t, "5eb63bbbe01eeed093cb22bb8f5acdc3", p.Md5)
	assert.Equal(t, int64(11), p.Size)
	assert.Equal(t, storage.DefaultPackageEntry, p.Entry)

	bad := Package{Name: "fw", Version: "1.1", ProductId: prod.Id, Md5: "00000000000000000000000000000000"}
	err := s.PackageCreate(&bad, strings.NewReader("hello world"))
	assert.True(t, errors.Is(err, ErrChecksumMismatch))
	packages, err := s.PackagesList(prod.Id)
	require.Nil(t, err)
	require.Equal(t, 1, len(packages))

	got, fd, err := s.PackageOpen(p.Id)
	require.Nil(t, err)
	require.Nil(t, fd.Close())
	assert.Equal(t, p.Id, got.Id)

	require.Nil(t, s.PackageDelete(p.Id))
	_, _, err = s.PackageOpen(p.Id)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestStorageTokens(t *testing.T) {
	s := newTestStorage(t)
	tok, err := s.TokenCreate("ci", timeIn(3600), []string{"ota:read"}, "hashed-1")
	require.Nil(t, err)
	found, err := s.TokenLookup("hashed-1")
	require.Nil(t, err)
	require.NotNil(t, found)
	assert.Equal(t, tok.PublicId, found.PublicId)
	assert.Equal(t, []string{"ota:read"}, found.Scopes)

	_, err = s.TokenCreate("expired", timeIn(-1), nil, "hashed-2")
	require.Nil(t, err)
	found, err = s.TokenLookup("hashed-2")
	require.Nil(t, err)
	assert.Nil(t, found)

	require.Nil(t, s.TokenDelete(tok.PublicId))
	found, err = s.TokenLookup("hashed-1")
	require.Nil(t, err)
	assert.Nil(t, found)
}
