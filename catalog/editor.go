// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

// Package catalog holds editing state for product definitions.
package catalog

import (
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/foundriesio/dg-ota/errs"
	"github.com/foundriesio/dg-ota/storage"
)

type Direction string

const (
	Request  Direction = "req"
	Response Direction = "res"
)

// ParamID identifies a parameter row. Rows loaded from the store carry the
// persisted id; rows added in the editor carry a tentative id that is never
// sent to the store.
type ParamID struct {
	id        string
	persisted bool
}

func Persisted(id string) ParamID {
	return ParamID{id: id, persisted: true}
}

func NotYetSaved() ParamID {
	return ParamID{id: uuid.NewString()}
}

func (p ParamID) IsPersisted() bool {
	return p.persisted
}

// Persisted returns the store id, if any.
func (p ParamID) Persisted() (string, bool) {
	if !p.persisted {
		return "", false
	}
	return p.id, true
}

func (p ParamID) String() string {
	if p.persisted {
		return p.id
	}
	return "new:" + p.id
}

type ParamRow struct {
	ID          ParamID
	Name        string
	Type        storage.DataType
	Description string
	DataRange   []float64
}

// CommandEditor is the state of one command edit. Reset it, or Load a
// command, every time an edit starts.
type CommandEditor struct {
	Id            string
	ProductId     string
	Name          string
	RequestUrl    string
	RequestMethod string

	rows    map[Direction][]ParamRow
	deleted map[Direction][]string
}

func NewCommandEditor(productId string) *CommandEditor {
	e := &CommandEditor{}
	e.Reset()
	e.ProductId = productId
	return e
}

func (e *CommandEditor) Reset() {
	productId := e.ProductId
	*e = CommandEditor{
		ProductId: productId,
		rows:      map[Direction][]ParamRow{},
		deleted:   map[Direction][]string{},
	}
}

// Load starts editing an existing command.
func (e *CommandEditor) Load(cmd storage.Command) {
	e.Reset()
	e.Id = cmd.Id
	e.ProductId = cmd.ProductId
	e.Name = cmd.Name
	e.RequestUrl = cmd.RequestUrl
	e.RequestMethod = cmd.RequestMethod
	for dir, params := range map[Direction][]storage.Param{Request: cmd.ReqParams, Response: cmd.ResParams} {
		for _, p := range params {
			e.rows[dir] = append(e.rows[dir], ParamRow{
				ID:          Persisted(p.Id),
				Name:        p.Name,
				Type:        p.Type,
				Description: p.Description,
				DataRange:   slices.Clone(p.DataRange),
			})
		}
	}
}

func (e *CommandEditor) Rows(dir Direction) []ParamRow {
	return slices.Clone(e.rows[dir])
}

// Deleted returns the persisted ids removed in this edit.
func (e *CommandEditor) Deleted(dir Direction) []string {
	return slices.Clone(e.deleted[dir])
}

// Add appends a new int row with the default range.
func (e *CommandEditor) Add(dir Direction, name string) ParamID {
	row := ParamRow{
		ID:        NotYetSaved(),
		Name:      name,
		Type:      storage.DataTypeInt,
		DataRange: slices.Clone(storage.DefaultDataRange),
	}
	e.rows[dir] = append(e.rows[dir], row)
	return row.ID
}

func (e *CommandEditor) index(dir Direction, id ParamID) int {
	return slices.IndexFunc(e.rows[dir], func(r ParamRow) bool { return r.ID == id })
}

// Update applies fn to one row. The row id cannot be changed.
func (e *CommandEditor) Update(dir Direction, id ParamID, fn func(*ParamRow)) error {
	idx := e.index(dir, id)
	if idx < 0 {
		return fmt.Errorf("no %s parameter %s", dir, id)
	}
	row := e.rows[dir][idx]
	fn(&row)
	row.ID = id
	e.rows[dir][idx] = row
	return nil
}

// Remove drops a row. Only persisted rows are recorded for deletion.
func (e *CommandEditor) Remove(dir Direction, id ParamID) error {
	idx := e.index(dir, id)
	if idx < 0 {
		return fmt.Errorf("no %s parameter %s", dir, id)
	}
	e.rows[dir] = slices.Delete(e.rows[dir], idx, idx+1)
	if pid, ok := id.Persisted(); ok {
		e.deleted[dir] = append(e.deleted[dir], pid)
	}
	return nil
}

// Find returns the row with the given name.
func (e *CommandEditor) Find(dir Direction, name string) (ParamRow, bool) {
	for _, r := range e.rows[dir] {
		if r.Name == name {
			return r, true
		}
	}
	return ParamRow{}, false
}

// Payload validates the edit and returns the body of POST /commands.
func (e *CommandEditor) Payload() (storage.CommandSave, error) {
	save := storage.CommandSave{
		Id:                 e.Id,
		ProductId:          e.ProductId,
		Name:               strings.TrimSpace(e.Name),
		RequestUrl:         e.RequestUrl,
		RequestMethod:      e.RequestMethod,
		ReqParams:          []storage.Param{},
		ResParams:          []storage.Param{},
		DeleteReqParamsIds: append([]string{}, e.deleted[Request]...),
		DeleteResParamsIds: append([]string{}, e.deleted[Response]...),
	}
	if save.ProductId == "" {
		return save, errs.Validation("productId", "a product is required")
	} else if save.Name == "" {
		return save, errs.Validation("name", "a command name is required")
	}
	for _, dir := range []Direction{Request, Response} {
		params, err := e.params(dir)
		if err != nil {
			return save, err
		}
		if dir == Request {
			save.ReqParams = params
		} else {
			save.ResParams = params
		}
	}
	return save, nil
}

func (e *CommandEditor) params(dir Direction) ([]storage.Param, error) {
	field := string(dir) + "Params"
	names := make(map[string]bool)
	out := make([]storage.Param, 0, len(e.rows[dir]))
	for _, r := range e.rows[dir] {
		name := strings.TrimSpace(r.Name)
		switch {
		case name == "":
			return nil, errs.Validation(field, "parameter name is required")
		case names[name]:
			return nil, errs.Validation(field, "duplicate parameter %s", name)
		case !r.Type.Valid():
			return nil, errs.Validation(field, "parameter %s has unknown type %q", name, r.Type)
		}
		names[name] = true
		p := storage.Param{Name: name, Type: r.Type, Description: r.Description}
		if id, ok := r.ID.Persisted(); ok {
			p.Id = id
		}
		if r.Type.Numeric() {
			switch {
			case len(r.DataRange) == 0:
				p.DataRange = slices.Clone(storage.DefaultDataRange)
			case len(r.DataRange) != 2 || r.DataRange[0] > r.DataRange[1]:
				return nil, errs.Validation(field, "parameter %s has an invalid range", name)
			default:
				p.DataRange = slices.Clone(r.DataRange)
			}
		}
		out = append(out, p)
	}
	return out, nil
}
