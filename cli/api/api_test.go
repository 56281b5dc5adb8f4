// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package api

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foundriesio/dg-ota/auth"
	"github.com/foundriesio/dg-ota/cli/config"
	"github.com/foundriesio/dg-ota/context"
	"github.com/foundriesio/dg-ota/errs"
	"github.com/foundriesio/dg-ota/ota"
	"github.com/foundriesio/dg-ota/server"
	serverApi "github.com/foundriesio/dg-ota/server/api"
	"github.com/foundriesio/dg-ota/session"
	"github.com/foundriesio/dg-ota/storage"
	apiStorage "github.com/foundriesio/dg-ota/storage/api"
)

var (
	_ ota.Store                = Api{}
	_ session.DefinitionSource = Api{}
)

func newTestApi(t *testing.T) (context.Context, *Api) {
	tmpDir := t.TempDir()
	fs, err := storage.NewFs(tmpDir)
	require.Nil(t, err)
	db, err := storage.NewDb(filepath.Join(tmpDir, storage.DbFile))
	require.Nil(t, err)
	t.Cleanup(func() { _ = db.Close() })
	st, err := apiStorage.NewStorage(db, fs)
	require.Nil(t, err)

	e := server.NewEchoServer()
	serverApi.RegisterHandlers(e, st, auth.FakeAuthUser, nil)
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)

	log, err := context.InitLogger("debug", "text")
	require.Nil(t, err)
	ctx := context.CtxWithLog(context.Background(), log)
	return ctx, NewClient(config.Context{URL: srv.URL + "/", Token: "ignored"})
}

func writeFile(t *testing.T, content string) string {
	name := filepath.Join(t.TempDir(), "firmware.bin")
	require.Nil(t, os.WriteFile(name, []byte(content), 0o600))
	return name
}

func TestApiProducts(t *testing.T) {
	ctx, a := newTestApi(t)

	p, err := a.ProductSave(ctx, storage.Product{Name: "sensor", Type: "gateway", Protocol: "mqtt"})
	require.Nil(t, err)
	require.NotEmpty(t, p.Id)

	got, err := a.ProductGet(ctx, p.Id)
	require.Nil(t, err)
	assert.Equal(t, "sensor", got.Name)

	got, err = a.ProductGet(ctx, "nope")
	require.Nil(t, err)
	assert.Nil(t, got)

	_, err = a.ProductSave(ctx, storage.Product{Name: "sensor"})
	require.NotNil(t, err)
	assert.True(t, errs.IsRemote(err))
	var re *errs.RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, http.StatusConflict, re.Status)

	prop, err := a.PropertySave(ctx, storage.Property{ProductId: p.Id, Name: "speed", Type: storage.DataTypeInt, AccessMethod: []string{"read", "write"}})
	require.Nil(t, err)
	found, err := a.PropertyGet(ctx, prop.Id)
	require.Nil(t, err)
	assert.Equal(t, "speed", found.Name)
	found, err = a.PropertyGet(ctx, "missing")
	require.Nil(t, err)
	assert.Nil(t, found)

	cmd, err := a.CommandSave(ctx, storage.CommandSave{ProductId: p.Id, Name: "reboot"})
	require.Nil(t, err)
	cmds, err := a.CommandsList(ctx, p.Id)
	require.Nil(t, err)
	require.Len(t, cmds, 1)
	assert.Equal(t, cmd.Id, cmds[0].Id)
	missing, err := a.CommandGet(ctx, "missing")
	require.Nil(t, err)
	assert.Nil(t, missing)

	require.Nil(t, a.CommandDelete(ctx, cmd.Id))
	require.Nil(t, a.PropertyDelete(ctx, prop.Id))
	require.Nil(t, a.ProductDelete(ctx, p.Id))
	products, err := a.ProductsList(ctx)
	require.Nil(t, err)
	assert.Empty(t, products)
}

func TestApiDevicesAndOta(t *testing.T) {
	ctx, a := newTestApi(t)
	p, err := a.ProductSave(ctx, storage.Product{Name: "sensor", Type: "gateway", Protocol: "mqtt"})
	require.Nil(t, err)

	d, err := a.DeviceSave(ctx, storage.Device{Name: "one", DeviceId: "dev-1", ProductId: p.Id, Version: "1.0"})
	require.Nil(t, err)
	byDeviceId, err := a.DeviceFind(ctx, "dev-1")
	require.Nil(t, err)
	require.NotNil(t, byDeviceId)
	assert.Equal(t, d.Id, byDeviceId.Id)
	none, err := a.DeviceFind(ctx, "dev-2")
	require.Nil(t, err)
	assert.Nil(t, none)

	pkg, err := a.PackageUpload(ctx, writeFile(t, "firmware v2"), storage.Package{Name: "fw", Version: "2.0", ProductId: p.Id})
	require.Nil(t, err)
	sum, err := FileMD5(writeFile(t, "firmware v2"))
	require.Nil(t, err)
	assert.Equal(t, sum, pkg.Md5)

	withOta, err := a.DevicesWithOta(ctx, p.Id)
	require.Nil(t, err)
	require.Len(t, withOta, 1)
	assert.False(t, withOta[0].HasActiveOta)

	task, err := a.TaskCreate(ctx, storage.OtaTaskCreate{Name: "rollout", PackageId: pkg.Id, DeviceIds: []string{d.Id}})
	require.Nil(t, err)
	assert.Equal(t, storage.OtaPending, task.Status)

	tasks, err := a.TasksList(ctx)
	require.Nil(t, err)
	require.Len(t, tasks, 1)

	subs, err := a.TaskDevices(ctx, task.Id)
	require.Nil(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "dev-1", subs[0].DeviceId)

	require.Nil(t, a.DeviceStop(ctx, subs[0].Id))
	require.Nil(t, a.TaskStop(ctx, task.Id))
	err = a.DeviceRetry(ctx, storage.OtaRetry{Id: subs[0].Id, PackageId: pkg.Id})
	assert.True(t, errs.IsRemote(err))

	events, err := a.DeviceOtaEvents(ctx, d.Id, task.Id)
	require.Nil(t, err)
	assert.Empty(t, events)

	require.Nil(t, a.TaskDelete(ctx, task.Id))
	got, err := a.TaskGet(ctx, task.Id)
	require.Nil(t, err)
	assert.Nil(t, got)

	require.Nil(t, a.DeviceDelete(ctx, d.Id))
}

func TestApiPackageDownload(t *testing.T) {
	ctx, a := newTestApi(t)
	p, err := a.ProductSave(ctx, storage.Product{Name: "sensor", Type: "gateway", Protocol: "mqtt"})
	require.Nil(t, err)
	pkg, err := a.PackageUpload(ctx, writeFile(t, "payload"), storage.Package{Name: "ota", Version: "v2", ProductId: p.Id})
	require.Nil(t, err)

	dir := t.TempDir()
	dst, err := a.PackageDownload(ctx, pkg.Id, dir)
	require.Nil(t, err)
	assert.Equal(t, filepath.Join(dir, "ota-v2.bin"), dst)
	content, err := os.ReadFile(dst)
	require.Nil(t, err)
	assert.Equal(t, "payload", string(content))

	_, err = a.PackageDownload(ctx, "nope", dir)
	var re *errs.RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, http.StatusNotFound, re.Status)

	pkgs, err := a.PackagesList(ctx, p.Id)
	require.Nil(t, err)
	require.Len(t, pkgs, 1)
	require.Nil(t, a.PackageDelete(ctx, pkg.Id))
}

func TestApiNetworkError(t *testing.T) {
	ctx, _ := newTestApi(t)
	a := NewClient(config.Context{URL: "http://127.0.0.1:1"})
	_, err := a.ProductsList(ctx)
	assert.True(t, errs.IsNetwork(err))
}

func TestFilenameFromDisposition(t *testing.T) {
	assert.Equal(t, "ota v2.bin", FilenameFromDisposition(`attachment; filename="ota_v2.bin"; filename*=UTF-8''ota%20v2.bin`))
	assert.Equal(t, "plain.bin", FilenameFromDisposition(`attachment; filename="plain.bin"`))
	assert.Equal(t, "passwd", FilenameFromDisposition(`attachment; filename="../../etc/passwd"`))
	assert.Equal(t, "", FilenameFromDisposition(`attachment; filename="unterminated`))
	assert.Equal(t, "", FilenameFromDisposition(""))

	assert.Equal(t, "ota v2.bin", FilenameFromDisposition(`filename*=UTF-8''ota%20v2.bin`))
	assert.Equal(t, "plain.bin", FilenameFromDisposition(`filename="plain.bin"`))
	assert.Equal(t, "ota v2.bin", FilenameFromDisposition(`attachment; filename=ota v2.bin`))
	assert.Equal(t, "fw.bin", FilenameFromDisposition(`inline; filename*=UTF-8''..%2Ffw.bin`))
}
