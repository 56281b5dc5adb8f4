// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package api

import (
	"net/url"

	"github.com/foundriesio/dg-ota/context"
	"github.com/foundriesio/dg-ota/errs"
	"github.com/foundriesio/dg-ota/storage"
)

// IsNotFound reports whether the store answered 404.
func IsNotFound(err error) bool {
	return errs.IsNotFound(err)
}

func query(resource, key, value string) string {
	if value == "" {
		return resource
	}
	return resource + "?" + url.Values{key: []string{value}}.Encode()
}

func path(resource, id string) string {
	return resource + "/" + url.PathEscape(id)
}

// getOne fetches a single resource, returning nil when it does not exist.
func getOne[T any](ctx context.Context, a Api, resource string) (*T, error) {
	var v T
	if err := a.Get(ctx, resource, &v); err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &v, nil
}

func (a Api) ProductsList(ctx context.Context) (res []storage.Product, err error) {
	err = a.Get(ctx, "/products", &res)
	return
}

func (a Api) ProductGet(ctx context.Context, id string) (*storage.Product, error) {
	return getOne[storage.Product](ctx, a, path("/products", id))
}

func (a Api) ProductSave(ctx context.Context, p storage.Product) (res *storage.Product, err error) {
	err = a.Post(ctx, "/products", p, &res)
	return
}

func (a Api) ProductDelete(ctx context.Context, id string) error {
	return a.Delete(ctx, path("/products", id))
}

func (a Api) PropertiesList(ctx context.Context, productId string) (res []storage.Property, err error) {
	err = a.Get(ctx, query("/properties", "productId", productId), &res)
	return
}

func (a Api) PropertyGet(ctx context.Context, id string) (*storage.Property, error) {
	return getOne[storage.Property](ctx, a, path("/properties", id))
}

func (a Api) PropertySave(ctx context.Context, p storage.Property) (res *storage.Property, err error) {
	err = a.Post(ctx, "/properties", p, &res)
	return
}

func (a Api) PropertyDelete(ctx context.Context, id string) error {
	return a.Delete(ctx, path("/properties", id))
}

func (a Api) CommandsList(ctx context.Context, productId string) (res []storage.Command, err error) {
	err = a.Get(ctx, query("/commands", "productId", productId), &res)
	return
}

func (a Api) CommandGet(ctx context.Context, id string) (*storage.Command, error) {
	return getOne[storage.Command](ctx, a, path("/commands", id))
}

func (a Api) CommandSave(ctx context.Context, req storage.CommandSave) (res *storage.Command, err error) {
	err = a.Post(ctx, "/commands", req, &res)
	return
}

func (a Api) CommandDelete(ctx context.Context, id string) error {
	return a.Delete(ctx, path("/commands", id))
}

func (a Api) DevicesList(ctx context.Context, productId string) (res []storage.Device, err error) {
	err = a.Get(ctx, query("/devices", "productId", productId), &res)
	return
}

func (a Api) DeviceGet(ctx context.Context, id string) (*storage.Device, error) {
	return getOne[storage.Device](ctx, a, path("/devices", id))
}

// DeviceFind looks a device up by its record id or its device id.
func (a Api) DeviceFind(ctx context.Context, ref string) (*storage.Device, error) {
	if d, err := a.DeviceGet(ctx, ref); err != nil || d != nil {
		return d, err
	}
	devices, err := a.DevicesList(ctx, "")
	if err != nil {
		return nil, err
	}
	for _, d := range devices {
		if d.DeviceId == ref {
			return &d, nil
		}
	}
	return nil, nil
}

func (a Api) DeviceSave(ctx context.Context, d storage.Device) (res *storage.Device, err error) {
	err = a.Post(ctx, "/devices", d, &res)
	return
}

func (a Api) DeviceDelete(ctx context.Context, id string) error {
	return a.Delete(ctx, path("/devices", id))
}

func (a Api) AgentDevicesList(ctx context.Context) (res []storage.AgentDevice, err error) {
	err = a.Get(ctx, "/agentDevices", &res)
	return
}

func (a Api) AgentDeviceGet(ctx context.Context, id string) (*storage.AgentDevice, error) {
	return getOne[storage.AgentDevice](ctx, a, path("/agentDevices", id))
}

func (a Api) AgentDeviceSave(ctx context.Context, agent storage.AgentDevice) (res *storage.AgentDevice, err error) {
	err = a.Post(ctx, "/agentDevices", agent, &res)
	return
}

func (a Api) AgentDeviceDelete(ctx context.Context, id string) error {
	return a.Delete(ctx, path("/agentDevices", id))
}
