// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package api

import (
	"github.com/foundriesio/dg-ota/context"
	"github.com/foundriesio/dg-ota/storage"
)

func (a Api) TasksList(ctx context.Context) (res []storage.OtaTask, err error) {
	err = a.Get(ctx, "/otaTasks", &res)
	return
}

func (a Api) TaskGet(ctx context.Context, id string) (*storage.OtaTask, error) {
	return getOne[storage.OtaTask](ctx, a, path("/otaTasks", id))
}

func (a Api) TaskCreate(ctx context.Context, req storage.OtaTaskCreate) (res *storage.OtaTask, err error) {
	err = a.Post(ctx, "/otaTasks", req, &res)
	return
}

func (a Api) TaskDelete(ctx context.Context, id string) error {
	return a.Delete(ctx, path("/otaTasks", id))
}

func (a Api) TaskStop(ctx context.Context, id string) error {
	return a.Post(ctx, path("/otaTasks/stopTask", id), nil, nil)
}

func (a Api) TaskDevices(ctx context.Context, taskId string) (res []storage.OtaDevice, err error) {
	err = a.Get(ctx, query("/devices/getOTADeviceList", "taskId", taskId), &res)
	return
}

func (a Api) DeviceStop(ctx context.Context, subId string) error {
	return a.Post(ctx, path("/otaTasks/stop", subId), nil, nil)
}

func (a Api) DeviceRetry(ctx context.Context, req storage.OtaRetry) error {
	return a.Post(ctx, "/otaTasks/retry", req, nil)
}

func (a Api) DevicesWithOta(ctx context.Context, productId string) (res []storage.DeviceWithOta, err error) {
	err = a.Get(ctx, query("/devices/getDataWidthOTATask", "productId", productId), &res)
	return
}

// DeviceOtaEvents returns the raw progress reports of a device for a task.
func (a Api) DeviceOtaEvents(ctx context.Context, deviceRef, taskId string) (res []map[string]any, err error) {
	err = a.Get(ctx, query(path("/devices", deviceRef)+"/otaEvents", "taskId", taskId), &res)
	return
}
