// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/foundriesio/dg-ota/storage"
)

type (
	FsHandle = storage.FsHandle

	AgentDevice   = storage.AgentDevice
	Command       = storage.Command
	CommandSave   = storage.CommandSave
	Device        = storage.Device
	DeviceWithOta = storage.DeviceWithOta
	OtaDevice     = storage.OtaDevice
	OtaStatus     = storage.OtaStatus
	OtaTask       = storage.OtaTask
	OtaTaskCreate = storage.OtaTaskCreate
	Package       = storage.Package
	Param         = storage.Param
	Product       = storage.Product
	Property      = storage.Property
)

var (
	NewDb = storage.NewDb
	NewFs = storage.NewFs

	IsDbError             = storage.IsDbError
	ErrDbConstraintUnique = storage.ErrDbConstraintUnique
)

var (
	ErrNotFound         = errors.New("not found")
	ErrInUse            = errors.New("resource is still referenced")
	ErrChecksumMismatch = errors.New("package checksum mismatch")
	ErrInvalid          = errors.New("invalid request")
)

type Storage struct {
	db *storage.DbHandle
	fs *storage.FsHandle

	stmtProductList   stmtQuery[Product]
	stmtProductGet    stmtQuery[Product]
	stmtProductInsert stmtExec
	stmtProductUpdate stmtExec
	stmtProductDelete stmtExec
	stmtProductInUse  stmtQuery[int]

	stmtPropertyList   stmtQuery[Property]
	stmtPropertyGet    stmtQuery[Property]
	stmtPropertyInsert stmtExec
	stmtPropertyUpdate stmtExec
	stmtPropertyDelete stmtExec

	stmtCommandList   stmtQuery[Command]
	stmtCommandGet    stmtQuery[Command]
	stmtCommandInsert stmtExec
	stmtCommandUpdate stmtExec
	stmtCommandDelete stmtExec
	stmtParamList     stmtQuery[commandParam]
	stmtParamGet      stmtQuery[commandParam]
	stmtParamInsert   stmtExec
	stmtParamUpdate   stmtExec
	stmtParamDelete   stmtExec

	stmtDeviceList       stmtQuery[Device]
	stmtDeviceGet        stmtQuery[Device]
	stmtDeviceByDeviceId stmtQuery[Device]
	stmtDeviceInsert     stmtExec
	stmtDeviceUpdate     stmtExec
	stmtDeviceDelete     stmtExec
	stmtDeviceSetVersion stmtExec

	stmtAgentList   stmtQuery[AgentDevice]
	stmtAgentGet    stmtQuery[AgentDevice]
	stmtAgentInsert stmtExec
	stmtAgentUpdate stmtExec
	stmtAgentDelete stmtExec

	stmtPackageList   stmtQuery[Package]
	stmtPackageGet    stmtQuery[Package]
	stmtPackageInsert stmtExec
	stmtPackageDelete stmtExec
	stmtPackageInUse  stmtQuery[int]

	stmtTaskList         stmtQuery[OtaTask]
	stmtTaskGet          stmtQuery[OtaTask]
	stmtTaskInsert       stmtExec
	stmtTaskSetStatus    stmtExec
	stmtTaskDelete       stmtExec
	stmtSubList          stmtQuery[OtaDevice]
	stmtSubGet           stmtQuery[OtaDevice]
	stmtSubActive        stmtQuery[OtaDevice]
	stmtSubByStatus      stmtQuery[OtaDevice]
	stmtSubInsert        stmtExec
	stmtSubSetStatus     stmtExec
	stmtSubRetry         stmtExec
	stmtSubStopAll       stmtExec
	stmtSubDeleteForTask stmtExec
	stmtSubDeleteForDev  stmtExec

	stmtTokenCreate stmtQuery[int64]
	stmtTokenLookup stmtQuery[tokenRow]
	stmtTokenDelete stmtExec
}

func NewStorage(db *storage.DbHandle, fs *storage.FsHandle) (*Storage, error) {
	handle := &Storage{db: db, fs: fs}
	handle.initProductStmts()
	handle.initDeviceStmts()
	handle.initPackageStmts()
	handle.initOtaStmts()
	handle.initTokenStmts()

	if err := db.InitStmt(
		&handle.stmtProductList, &handle.stmtProductGet, &handle.stmtProductInsert,
		&handle.stmtProductUpdate, &handle.stmtProductDelete, &handle.stmtProductInUse,

		&handle.stmtPropertyList, &handle.stmtPropertyGet, &handle.stmtPropertyInsert,
		&handle.stmtPropertyUpdate, &handle.stmtPropertyDelete,

		&handle.stmtCommandList, &handle.stmtCommandGet, &handle.stmtCommandInsert,
		&handle.stmtCommandUpdate, &handle.stmtCommandDelete,
		&handle.stmtParamList, &handle.stmtParamGet, &handle.stmtParamInsert,
		&handle.stmtParamUpdate, &handle.stmtParamDelete,

		&handle.stmtDeviceList, &handle.stmtDeviceGet, &handle.stmtDeviceByDeviceId,
		&handle.stmtDeviceInsert, &handle.stmtDeviceUpdate, &handle.stmtDeviceDelete,
		&handle.stmtDeviceSetVersion,

		&handle.stmtAgentList, &handle.stmtAgentGet, &handle.stmtAgentInsert,
		&handle.stmtAgentUpdate, &handle.stmtAgentDelete,

		&handle.stmtPackageList, &handle.stmtPackageGet, &handle.stmtPackageInsert,
		&handle.stmtPackageDelete, &handle.stmtPackageInUse,

		&handle.stmtTaskList, &handle.stmtTaskGet, &handle.stmtTaskInsert,
		&handle.stmtTaskSetStatus, &handle.stmtTaskDelete,
		&handle.stmtSubList, &handle.stmtSubGet, &handle.stmtSubActive, &handle.stmtSubByStatus,
		&handle.stmtSubInsert, &handle.stmtSubSetStatus, &handle.stmtSubRetry,
		&handle.stmtSubStopAll, &handle.stmtSubDeleteForTask, &handle.stmtSubDeleteForDev,

		&handle.stmtTokenCreate, &handle.stmtTokenLookup, &handle.stmtTokenDelete,
	); err != nil {
		return nil, err
	}
	return handle, nil
}

func newId() string {
	return uuid.Must(uuid.NewV7()).String()
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// stmtExec is a prepared statement run for its side effects.
type stmtExec struct {
	storage.DbStmt
	name  string
	query string
}

func (s *stmtExec) Init(db storage.DbHandle) (err error) {
	s.Stmt, err = db.Prepare(s.name, s.query)
	return
}

func (s stmtExec) run(tx *sql.Tx, args ...any) (int64, error) {
	stmt := s.Stmt
	if tx != nil {
		stmt = tx.Stmt(s.Stmt)
	}
	res, err := stmt.Exec(args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// stmtQuery is a prepared select whose rows are decoded by scan.
type stmtQuery[T any] struct {
	storage.DbStmt
	name  string
	query string
	scan  func(rowScanner) (T, error)
}

func (s *stmtQuery[T]) Init(db storage.DbHandle) (err error) {
	s.Stmt, err = db.Prepare(s.name, s.query)
	return
}

func (s stmtQuery[T]) one(tx *sql.Tx, args ...any) (*T, error) {
	stmt := s.Stmt
	if tx != nil {
		stmt = tx.Stmt(s.Stmt)
	}
	v, err := s.scan(stmt.QueryRow(args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &v, nil
}

func (s stmtQuery[T]) all(tx *sql.Tx, args ...any) ([]T, error) {
	stmt := s.Stmt
	if tx != nil {
		stmt = tx.Stmt(s.Stmt)
	}
	rows, err := stmt.Query(args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("failed to close rows", "query", s.name, "error", err)
		}
	}()
	res := []T{}
	for rows.Next() {
		v, err := s.scan(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, rows.Err()
}

func scanInt(row rowScanner) (v int, err error) {
	err = row.Scan(&v)
	return
}

func marshalRange(r []float64) (string, error) {
	if len(r) == 0 {
		return "", nil
	}
	if len(r) != 2 || r[0] > r[1] {
		return "", fmt.Errorf("%w: invalid data range %v: expected [min, max]", ErrInvalid, r)
	}
	b, err := json.Marshal(r)
	return string(b), err
}

func unmarshalRange(s string) ([]float64, error) {
	if s == "" {
		return nil, nil
	}
	var r []float64
	if err := json.Unmarshal([]byte(s), &r); err != nil {
		return nil, fmt.Errorf("failed to parse data range: %w", err)
	}
	return r, nil
}

func marshalStrings(v []string) string {
	if v == nil {
		v = []string{}
	}
	b, _ := json.Marshal(v)
	return string(b)
}

func unmarshalStrings(s string) ([]string, error) {
	v := []string{}
	if s == "" {
		return v, nil
	}
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, fmt.Errorf("failed to parse string list: %w", err)
	}
	return v, nil
}

func notFoundIfZero(n int64, err error) error {
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return err
}
