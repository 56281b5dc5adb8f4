// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/foundriesio/dg-ota/auth"
	"github.com/foundriesio/dg-ota/context"
	"github.com/foundriesio/dg-ota/server/api"
	"github.com/foundriesio/dg-ota/server/daemons"
	"github.com/foundriesio/dg-ota/storage"
	apiStorage "github.com/foundriesio/dg-ota/storage/api"
	"github.com/foundriesio/dg-ota/transport"
)

type ServeCmd struct {
	startedCb func(apiAddress string)

	Port             uint16        `default:"8080"`
	Broker           string        `help:"Broker url, e.g. tcp://localhost:1883 or nats://localhost:4222. Without it no OTA is dispatched"`
	ClientId         string        `arg:"--client-id" default:"otad" help:"Client id on the broker"`
	BrokerUser       string        `arg:"--broker-user,env:OTAD_BROKER_USER"`
	BrokerPassword   string        `arg:"--broker-password,env:OTAD_BROKER_PASSWORD"`
	DispatchInterval time.Duration `arg:"--dispatch-interval" default:"5s" help:"How often pending OTA devices are dispatched"`
	CorsOrigin       []string      `arg:"--cors-origin,separate" help:"Origin of a browser console allowed to call the api, can be repeated"`
	NoAuth           bool          `arg:"--no-auth" help:"Accept every request without a token. For local testing only"`
}

func (c *ServeCmd) Run(args CommonArgs) error {
	log := context.CtxGetLog(args.ctx)
	fs, err := storage.NewFs(args.DataDir)
	if err != nil {
		return fmt.Errorf("failed to load filesystem: %w", err)
	}
	db, err := storage.NewDb(fs.Config.DbFile())
	if err != nil {
		return fmt.Errorf("failed to load database: %w", err)
	}
	defer db.Close() // nolint:errcheck

	authFunc, err := c.authFunc(db, fs)
	if err != nil {
		return err
	}

	var tr transport.Transport
	if c.Broker != "" {
		tr, err = transport.New(transport.Options{
			Broker:   c.Broker,
			ClientId: c.ClientId,
			Username: c.BrokerUser,
			Password: c.BrokerPassword,
			Log:      log.With("broker", c.Broker),
		})
		if err != nil {
			return err
		}
	} else {
		log.Warn("no broker configured, OTA tasks will not be dispatched")
	}

	apiServer, err := api.NewServer(args.ctx, db, fs, api.Config{Port: c.Port, CorsOrigins: c.CorsOrigin}, authFunc, tr, daemons.WithDispatchInterval(c.DispatchInterval))
	if err != nil {
		return err
	}
	if tr != nil {
		// The handlers are installed by NewServer, the dispatcher subscribes on connect.
		ctx, cancel := context.WithTimeout(args.ctx, 30*time.Second)
		err = tr.Connect(ctx)
		cancel()
		if err != nil {
			return err
		}
		defer tr.Disconnect()
	}

	quitErr := make(chan error, 1)
	apiServer.Start(quitErr)

	if c.startedCb != nil {
		// Testing code, see serve_test.go
		time.Sleep(time.Millisecond * 2)
		c.startedCb(apiServer.GetAddress())
	}

	// setup channel to gracefully terminate server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)

	select {
	case err = <-quitErr:
	case <-quit:
		break
	}
	apiServer.Shutdown(time.Minute)
	return err
}

func (c *ServeCmd) authFunc(db *storage.DbHandle, fs *storage.FsHandle) (auth.AuthUserFunc, error) {
	if c.NoAuth {
		return auth.FakeAuthUser, nil
	}
	secret, err := fs.Auth.GetHmacSecret()
	if err != nil {
		return nil, fmt.Errorf("unable to read token secret, run auth-init first: %w", err)
	}
	strg, err := apiStorage.NewStorage(db, fs)
	if err != nil {
		return nil, err
	}
	return auth.NewTokens(secret, strg).AuthUser, nil
}
