// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package api

import (
	"database/sql"
	"fmt"
	"slices"

	"github.com/foundriesio/dg-ota/storage"
)

const (
	ParamsReq = "req"
	ParamsRes = "res"
)

// commandParam is a Param row together with its owning command.
type commandParam struct {
	CommandId string
	Direction string
	Param
}

func (s *Storage) initProductStmts() {
	s.stmtProductList = stmtQuery[Product]{name: "apiProductList", scan: scanProduct, query: `
		SELECT id, name, type, protocol, status, description, created_at
		FROM products ORDER BY created_at DESC, id`}
	s.stmtProductGet = stmtQuery[Product]{name: "apiProductGet", scan: scanProduct, query: `
		SELECT id, name, type, protocol, status, description, created_at
		FROM products WHERE id = ?`}
	s.stmtProductInsert = stmtExec{name: "apiProductInsert", query: `
		INSERT INTO products (id, name, type, protocol, status, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`}
	s.stmtProductUpdate = stmtExec{name: "apiProductUpdate", query: `
		UPDATE products SET name=?, type=?, protocol=?, status=?, description=? WHERE id = ?`}
	s.stmtProductDelete = stmtExec{name: "apiProductDelete", query: `DELETE FROM products WHERE id = ?`}
	s.stmtProductInUse = stmtQuery[int]{name: "apiProductInUse", scan: scanInt, query: `
		SELECT (SELECT COUNT(*) FROM devices WHERE product_id = ?1) +
		       (SELECT COUNT(*) FROM packages WHERE product_id = ?1)`}

	s.stmtPropertyList = stmtQuery[Property]{name: "apiPropertyList", scan: scanProperty, query: `
		SELECT id, product_id, name, type, access_method, description, data_range, request_url, request_method, created_at
		FROM properties WHERE product_id = ? ORDER BY created_at, id`}
	s.stmtPropertyGet = stmtQuery[Property]{name: "apiPropertyGet", scan: scanProperty, query: `
		SELECT id, product_id, name, type, access_method, description, data_range, request_url, request_method, created_at
		FROM properties WHERE id = ?`}
	s.stmtPropertyInsert = stmtExec{name: "apiPropertyInsert", query: `
		INSERT INTO properties (
			id, product_id, name, type, access_method, description, data_range, request_url, request_method, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`}
	s.stmtPropertyUpdate = stmtExec{name: "apiPropertyUpdate", query: `
		UPDATE properties
		SET name=?, type=?, access_method=?, description=?, data_range=?, request_url=?, request_method=?
		WHERE id = ?`}
	s.stmtPropertyDelete = stmtExec{name: "apiPropertyDelete", query: `DELETE FROM properties WHERE id = ?`}

	s.stmtCommandList = stmtQuery[Command]{name: "apiCommandList", scan: scanCommand, query: `
		SELECT id, product_id, name, request_url, request_method, created_at
		FROM commands WHERE product_id = ? ORDER BY created_at, id`}
	s.stmtCommandGet = stmtQuery[Command]{name: "apiCommandGet", scan: scanCommand, query: `
		SELECT id, product_id, name, request_url, request_method, created_at
		FROM commands WHERE id = ?`}
	s.stmtCommandInsert = stmtExec{name: "apiCommandInsert", query: `
		INSERT INTO commands (id, product_id, name, request_url, request_method, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`}
	s.stmtCommandUpdate = stmtExec{name: "apiCommandUpdate", query: `
		UPDATE commands SET name=?, request_url=?, request_method=? WHERE id = ?`}
	s.stmtCommandDelete = stmtExec{name: "apiCommandDelete", query: `DELETE FROM commands WHERE id = ?`}

	s.stmtParamList = stmtQuery[commandParam]{name: "apiParamList", scan: scanParam, query: `
		SELECT command_id, direction, id, name, type, description, data_range, created_at
		FROM command_params
		WHERE command_id IN (SELECT value FROM json_each(?))
		ORDER BY command_id, direction, position, created_at`}
	s.stmtParamGet = stmtQuery[commandParam]{name: "apiParamGet", scan: scanParam, query: `
		SELECT command_id, direction, id, name, type, description, data_range, created_at
		FROM command_params WHERE id = ?`}
	s.stmtParamInsert = stmtExec{name: "apiParamInsert", query: `
		INSERT INTO command_params (id, command_id, direction, position, name, type, description, data_range, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`}
	s.stmtParamUpdate = stmtExec{name: "apiParamUpdate", query: `
		UPDATE command_params SET position=?, name=?, type=?, description=?, data_range=?
		WHERE id = ? AND command_id = ? AND direction = ?`}
	s.stmtParamDelete = stmtExec{name: "apiParamDelete", query: `
		DELETE FROM command_params
		WHERE id IN (SELECT value FROM json_each(?1)) AND command_id = ?2 AND direction = ?3`}
}

func scanProduct(row rowScanner) (p Product, err error) {
	var created int64
	if err = row.Scan(&p.Id, &p.Name, &p.Type, &p.Protocol, &p.Status, &p.Description, &created); err == nil {
		p.CreatedAt = fromMillis(created)
	}
	return
}

func scanProperty(row rowScanner) (p Property, err error) {
	var (
		access, dataRange string
		created           int64
	)
	if err = row.Scan(
		&p.Id, &p.ProductId, &p.Name, &p.Type, &access, &p.Description, &dataRange,
		&p.RequestUrl, &p.RequestMethod, &created,
	); err != nil {
		return
	}
	p.CreatedAt = fromMillis(created)
	if p.AccessMethod, err = unmarshalStrings(access); err != nil {
		return
	}
	p.DataRange, err = unmarshalRange(dataRange)
	return
}

func scanCommand(row rowScanner) (c Command, err error) {
	var created int64
	if err = row.Scan(&c.Id, &c.ProductId, &c.Name, &c.RequestUrl, &c.RequestMethod, &created); err == nil {
		c.CreatedAt = fromMillis(created)
		c.ReqParams = []Param{}
		c.ResParams = []Param{}
	}
	return
}

func scanParam(row rowScanner) (p commandParam, err error) {
	var (
		dataRange string
		created   int64
	)
	if err = row.Scan(
		&p.CommandId, &p.Direction, &p.Id, &p.Name, &p.Type, &p.Description, &dataRange, &created,
	); err != nil {
		return
	}
	p.CreatedAt = fromMillis(created)
	p.DataRange, err = unmarshalRange(dataRange)
	return
}

func (s Storage) ProductsList() ([]Product, error) {
	return s.stmtProductList.all(nil)
}

func (s Storage) ProductGet(id string) (*Product, error) {
	return s.stmtProductGet.one(nil, id)
}

// ProductSave creates the product when it has no id, otherwise updates it.
func (s Storage) ProductSave(p *Product) error {
	if p.Status == "" {
		p.Status = storage.ProductEnabled
	}
	if p.Status != storage.ProductEnabled && p.Status != storage.ProductDisabled {
		return fmt.Errorf("%w: invalid product status: %s", ErrInvalid, p.Status)
	}
	if p.Id == "" {
		p.Id = newId()
		created := nowMillis()
		p.CreatedAt = fromMillis(created)
		_, err := s.stmtProductInsert.run(nil, p.Id, p.Name, p.Type, p.Protocol, p.Status, p.Description, created)
		return err
	}
	return notFoundIfZero(s.stmtProductUpdate.run(nil, p.Name, p.Type, p.Protocol, p.Status, p.Description, p.Id))
}

// ProductDelete removes a product with its schema. A product that still owns
// devices or packages cannot be deleted.
func (s Storage) ProductDelete(id string) error {
	return s.db.Tx(func(tx *sql.Tx) error {
		if n, err := s.stmtProductInUse.one(tx, id); err != nil {
			return err
		} else if *n > 0 {
			return fmt.Errorf("product %s has %d devices or packages: %w", id, *n, ErrInUse)
		}
		commands, err := s.stmtCommandList.all(tx, id)
		if err != nil {
			return err
		}
		for _, c := range commands {
			if err := s.commandDelete(tx, c.Id); err != nil {
				return err
			}
		}
		props, err := s.stmtPropertyList.all(tx, id)
		if err != nil {
			return err
		}
		for _, p := range props {
			if _, err := s.stmtPropertyDelete.run(tx, p.Id); err != nil {
				return err
			}
		}
		return notFoundIfZero(s.stmtProductDelete.run(tx, id))
	})
}

func (s Storage) PropertiesList(productId string) ([]Property, error) {
	return s.stmtPropertyList.all(nil, productId)
}

func (s Storage) PropertyGet(id string) (*Property, error) {
	return s.stmtPropertyGet.one(nil, id)
}

func (s Storage) PropertySave(p *Property) error {
	if !p.Type.Valid() {
		return fmt.Errorf("%w: invalid property type: %s", ErrInvalid, p.Type)
	}
	dataRange, err := marshalRange(p.DataRange)
	if err != nil {
		return err
	}
	access := marshalStrings(p.AccessMethod)
	if p.Id == "" {
		if prod, err := s.ProductGet(p.ProductId); err != nil {
			return err
		} else if prod == nil {
			return fmt.Errorf("product %s: %w", p.ProductId, ErrNotFound)
		}
		p.Id = newId()
		created := nowMillis()
		p.CreatedAt = fromMillis(created)
		_, err := s.stmtPropertyInsert.run(nil,
			p.Id, p.ProductId, p.Name, p.Type, access, p.Description, dataRange, p.RequestUrl, p.RequestMethod, created)
		return err
	}
	return notFoundIfZero(s.stmtPropertyUpdate.run(nil,
		p.Name, p.Type, access, p.Description, dataRange, p.RequestUrl, p.RequestMethod, p.Id))
}

func (s Storage) PropertyDelete(id string) error {
	return notFoundIfZero(s.stmtPropertyDelete.run(nil, id))
}

func (s Storage) CommandsList(productId string) ([]Command, error) {
	commands, err := s.stmtCommandList.all(nil, productId)
	if err != nil {
		return nil, err
	}
	return commands, s.attachParams(nil, commands)
}

func (s Storage) CommandGet(id string) (*Command, error) {
	return s.commandGet(nil, id)
}

func (s Storage) commandGet(tx *sql.Tx, id string) (*Command, error) {
	c, err := s.stmtCommandGet.one(tx, id)
	if err != nil || c == nil {
		return c, err
	}
	list := []Command{*c}
	if err = s.attachParams(tx, list); err != nil {
		return nil, err
	}
	return &list[0], nil
}

func (s Storage) attachParams(tx *sql.Tx, commands []Command) error {
	ids := make([]string, len(commands))
	for i, c := range commands {
		ids[i] = c.Id
	}
	params, err := s.stmtParamList.all(tx, marshalStrings(ids))
	if err != nil {
		return err
	}
	for _, p := range params {
		idx := slices.IndexFunc(commands, func(c Command) bool { return c.Id == p.CommandId })
		if idx < 0 {
			continue
		}
		if p.Direction == ParamsReq {
			commands[idx].ReqParams = append(commands[idx].ReqParams, p.Param)
		} else {
			commands[idx].ResParams = append(commands[idx].ResParams, p.Param)
		}
	}
	return nil
}

// CommandSave applies an edit session atomically: the command row is created
// or updated, listed parameter ids are deleted, and parameters are created or
// updated in the order given.
func (s Storage) CommandSave(req CommandSave) (*Command, error) {
	var id string
	err := s.db.Tx(func(tx *sql.Tx) error {
		id = req.Id
		if id == "" {
			if prod, err := s.stmtProductGet.one(tx, req.ProductId); err != nil {
				return err
			} else if prod == nil {
				return fmt.Errorf("product %s: %w", req.ProductId, ErrNotFound)
			}
			id = newId()
			if _, err := s.stmtCommandInsert.run(tx,
				id, req.ProductId, req.Name, req.RequestUrl, req.RequestMethod, nowMillis()); err != nil {
				return err
			}
		} else if err := notFoundIfZero(s.stmtCommandUpdate.run(tx,
			req.Name, req.RequestUrl, req.RequestMethod, id)); err != nil {
			return err
		}

		for _, dir := range []struct {
			name    string
			deletes []string
			params  []Param
		}{
			{ParamsReq, req.DeleteReqParamsIds, req.ReqParams},
			{ParamsRes, req.DeleteResParamsIds, req.ResParams},
		} {
			if len(dir.deletes) > 0 {
				if _, err := s.stmtParamDelete.run(tx, marshalStrings(dir.deletes), id, dir.name); err != nil {
					return err
				}
			}
			for pos, p := range dir.params {
				if _, err := s.paramSave(tx, id, dir.name, pos, p); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.CommandGet(id)
}

func (s Storage) CommandDelete(id string) error {
	return s.db.Tx(func(tx *sql.Tx) error {
		return s.commandDelete(tx, id)
	})
}

func (s Storage) commandDelete(tx *sql.Tx, id string) error {
	c, err := s.commandGet(tx, id)
	if err != nil {
		return err
	} else if c == nil {
		return ErrNotFound
	}
	for _, dir := range []struct {
		name   string
		params []Param
	}{{ParamsReq, c.ReqParams}, {ParamsRes, c.ResParams}} {
		ids := make([]string, len(dir.params))
		for i, p := range dir.params {
			ids[i] = p.Id
		}
		if _, err := s.stmtParamDelete.run(tx, marshalStrings(ids), id, dir.name); err != nil {
			return err
		}
	}
	_, err = s.stmtCommandDelete.run(tx, id)
	return err
}

// ParamsList returns the request or response parameters of a command.
func (s Storage) ParamsList(commandId, direction string) ([]Param, error) {
	c, err := s.CommandGet(commandId)
	if err != nil {
		return nil, err
	} else if c == nil {
		return nil, ErrNotFound
	}
	if direction == ParamsReq {
		return c.ReqParams, nil
	}
	return c.ResParams, nil
}

// ParamSave creates or updates a single parameter, appending new ones.
func (s Storage) ParamSave(commandId, direction string, p Param) (*Param, error) {
	var saved *Param
	err := s.db.Tx(func(tx *sql.Tx) error {
		c, err := s.commandGet(tx, commandId)
		if err != nil {
			return err
		} else if c == nil {
			return fmt.Errorf("command %s: %w", commandId, ErrNotFound)
		}
		existing := c.ReqParams
		if direction == ParamsRes {
			existing = c.ResParams
		}
		pos := slices.IndexFunc(existing, func(e Param) bool { return e.Id == p.Id })
		if p.Id == "" || pos < 0 {
			pos = len(existing)
		}
		saved, err = s.paramSave(tx, commandId, direction, pos, p)
		return err
	})
	return saved, err
}

func (s Storage) ParamDelete(direction, id string) error {
	p, err := s.stmtParamGet.one(nil, id)
	if err != nil {
		return err
	} else if p == nil || p.Direction != direction {
		return ErrNotFound
	}
	return notFoundIfZero(s.stmtParamDelete.run(nil, marshalStrings([]string{id}), p.CommandId, direction))
}

func (s Storage) paramSave(tx *sql.Tx, commandId, direction string, pos int, p Param) (*Param, error) {
	if !p.Type.Valid() {
		return nil, fmt.Errorf("%w: invalid parameter type for %s: %s", ErrInvalid, p.Name, p.Type)
	}
	dataRange, err := marshalRange(p.DataRange)
	if err != nil {
		return nil, err
	}
	if p.Id == "" {
		p.Id = newId()
		created := nowMillis()
		p.CreatedAt = fromMillis(created)
		_, err = s.stmtParamInsert.run(tx,
			p.Id, commandId, direction, pos, p.Name, p.Type, p.Description, dataRange, created)
		return &p, err
	}
	err = notFoundIfZero(s.stmtParamUpdate.run(tx,
		pos, p.Name, p.Type, p.Description, dataRange, p.Id, commandId, direction))
	if err != nil {
		err = fmt.Errorf("parameter %s: %w", p.Id, err)
	}
	return &p, err
}
