// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"

	"github.com/mattn/go-sqlite3"
)

type DbHandle struct {
	db *sql.DB
}

var ErrDbConstraintUnique = sqlite3.ErrConstraintUnique

func NewDb(dbfile string) (*DbHandle, error) {
	var newDb bool
	if _, err := os.Stat(dbfile); err != nil {
		newDb = errors.Is(err, os.ErrNotExist)
	}
	db, err := sql.Open("sqlite3", dbfile+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}
	if newDb {
		if err := createTables(db); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return &DbHandle{db: db}, nil
}

func (d DbHandle) Close() error {
	return d.db.Close()
}

func (d DbHandle) Prepare(name, query string) (stmt *sql.Stmt, err error) {
	if stmt, err = d.db.Prepare(query); err != nil {
		err = fmt.Errorf("unable to prepare '%s' statement: %w", name, err)
	}
	return
}

func (d DbHandle) InitStmt(stmt ...DbStmtInit) (err error) {
	for _, s := range stmt {
		if err = s.Init(d); err != nil {
			break
		}
	}
	return
}

// Tx runs fn in a transaction. Prepared statements are bound to it with
// tx.Stmt.
func (d DbHandle) Tx(fn func(tx *sql.Tx) error) error {
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("unable to start transaction: %w", err)
	}
	if err = fn(tx); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			err = errors.Join(err, rerr)
		}
		return err
	}
	return tx.Commit()
}

func IsDbError(err error, code sqlite3.ErrNoExtended) bool {
	var sqlErr sqlite3.Error
	if errors.As(err, &sqlErr) {
		return sqlErr.ExtendedCode == code
	}
	return false
}

func createTables(db *sql.DB) error {
	sqlStmt := `
		CREATE TABLE products (
			id          VARCHAR(48) NOT NULL PRIMARY KEY,
			name        TEXT NOT NULL UNIQUE,
			type        VARCHAR(32) DEFAULT "",
			protocol    VARCHAR(32) DEFAULT "",
			status      VARCHAR(16) DEFAULT "enabled",
			description TEXT DEFAULT "",
			created_at  INT DEFAULT 0
		) WITHOUT ROWID;

		CREATE TABLE properties (
			id             VARCHAR(48) NOT NULL PRIMARY KEY,
			product_id     VARCHAR(48) NOT NULL,
			name           TEXT NOT NULL,
			type           VARCHAR(16) NOT NULL,
			access_method  VARCHAR(64) DEFAULT "[]",
			description    TEXT DEFAULT "",
			data_range     VARCHAR(64) DEFAULT "",
			request_url    TEXT DEFAULT "",
			request_method VARCHAR(8) DEFAULT "",
			created_at     INT DEFAULT 0,
			UNIQUE(product_id, name)
		) WITHOUT ROWID;

		CREATE TABLE commands (
			id             VARCHAR(48) NOT NULL PRIMARY KEY,
			product_id     VARCHAR(48) NOT NULL,
			name           TEXT NOT NULL,
			request_url    TEXT DEFAULT "",
			request_method VARCHAR(8) DEFAULT "",
			created_at     INT DEFAULT 0,
			UNIQUE(product_id, name)
		) WITHOUT ROWID;

		CREATE TABLE command_params (
			id          VARCHAR(48) NOT NULL PRIMARY KEY,
			command_id  VARCHAR(48) NOT NULL,
			direction   VARCHAR(3) NOT NULL,
			position    INT DEFAULT 0,
			name        TEXT NOT NULL,
			type        VARCHAR(16) NOT NULL,
			description TEXT DEFAULT "",
			data_range  VARCHAR(64) DEFAULT "",
			created_at  INT DEFAULT 0
		) WITHOUT ROWID;

		CREATE TABLE devices (
			id          VARCHAR(48) NOT NULL PRIMARY KEY,
			name        TEXT NOT NULL,
			code        VARCHAR(80) DEFAULT "",
			device_id   VARCHAR(80) NOT NULL UNIQUE,
			product_id  VARCHAR(48) NOT NULL,
			ip_address  VARCHAR(39) DEFAULT "",
			version     VARCHAR(80) DEFAULT "",
			description TEXT DEFAULT "",
			created_at  INT DEFAULT 0
		) WITHOUT ROWID;

		CREATE TABLE agent_devices (
			id            VARCHAR(48) NOT NULL PRIMARY KEY,
			agent_id      VARCHAR(80) NOT NULL,
			is_custom     BOOL DEFAULT 0,
			device_ref    VARCHAR(48) DEFAULT "",
			device_id     VARCHAR(80) DEFAULT "",
			device_name   TEXT DEFAULT "",
			directory     TEXT DEFAULT "",
			entry_name    TEXT DEFAULT "",
			conda_env     TEXT DEFAULT "",
			start_command TEXT DEFAULT "",
			created_at    INT DEFAULT 0
		) WITHOUT ROWID;

		CREATE TABLE packages (
			id           VARCHAR(48) NOT NULL PRIMARY KEY,
			name         TEXT NOT NULL,
			version      VARCHAR(80) NOT NULL,
			description  TEXT DEFAULT "",
			entry        TEXT DEFAULT "",
			process_path TEXT DEFAULT "",
			product_id   VARCHAR(48) NOT NULL,
			file_path    TEXT NOT NULL,
			md5          VARCHAR(32) NOT NULL,
			size         INT DEFAULT 0,
			created_at   INT DEFAULT 0
		) WITHOUT ROWID;

		CREATE TABLE ota_tasks (
			id         VARCHAR(48) NOT NULL PRIMARY KEY,
			name       TEXT NOT NULL,
			status     VARCHAR(16) NOT NULL,
			package_id VARCHAR(48) NOT NULL,
			created_at INT DEFAULT 0
		) WITHOUT ROWID;

		CREATE TABLE ota_devices (
			id          VARCHAR(48) NOT NULL PRIMARY KEY,
			task_id     VARCHAR(48) NOT NULL,
			device_ref  VARCHAR(48) NOT NULL,
			package_id  VARCHAR(48) NOT NULL,
			status      VARCHAR(16) NOT NULL,
			description TEXT DEFAULT "",
			created_at  INT DEFAULT 0,
			updated_at  INT DEFAULT 0,
			UNIQUE(task_id, device_ref)
		) WITHOUT ROWID;

		CREATE INDEX ota_devices_by_device ON ota_devices(device_ref, status);
		CREATE INDEX ota_devices_by_status ON ota_devices(status);

		CREATE TABLE tokens (
			public_id   INTEGER PRIMARY KEY AUTOINCREMENT,
			description VARCHAR(80),
			created_at  INT,
			expires_at  INT,
			scopes      TEXT NOT NULL DEFAULT '[]',
			value       VARCHAR(64) NOT NULL UNIQUE
		);
	`
	if _, err := db.Exec(sqlStmt); err != nil {
		return fmt.Errorf("unable to create ota db: %w", err)
	}
	return nil
}

type DbStmt struct {
	Stmt *sql.Stmt
}

type DbStmtInit interface {
	Init(db DbHandle) error
}
