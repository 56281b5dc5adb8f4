// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package api

import (
	"fmt"
	"time"

	"github.com/foundriesio/dg-ota/auth"
	"github.com/foundriesio/dg-ota/server"
	"github.com/foundriesio/dg-ota/server/daemons"
	"github.com/foundriesio/dg-ota/storage"
	"github.com/foundriesio/dg-ota/storage/api"
	"github.com/foundriesio/dg-ota/transport"
)

const serverName = "rest-api"

type Config struct {
	Port        uint16
	CorsOrigins []string
}

// NewServer creates the REST api of the store. When tr is set the OTA
// dispatcher runs alongside it.
func NewServer(ctx Context, db *storage.DbHandle, fs *storage.FsHandle, cfg Config, authFunc auth.AuthUserFunc,
	tr transport.Transport, opts ...daemons.Option) (*ApiServer, error) {
	strg, err := api.NewStorage(db, fs)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s storage: %w", serverName, err)
	}
	d := daemons.New(ctx, strg, tr, opts...)
	e := server.NewEchoServer(server.WithCORS(cfg.CorsOrigins))
	srv := server.NewServer(ctx, e, serverName, cfg.Port)
	RegisterHandlers(e, strg, authFunc, d.Wake)
	return &ApiServer{server: srv, daemons: d}, nil
}

type ApiServer struct {
	server  server.Server
	daemons *daemons.Daemons
}

func (s ApiServer) Start(quit chan error) {
	s.daemons.Start()
	s.server.Start(quit)
}

func (s ApiServer) Shutdown(timeout time.Duration) {
	s.daemons.Shutdown()
	s.server.Shutdown(timeout)
}

func (s ApiServer) GetAddress() string {
	return s.server.GetAddress()
}
