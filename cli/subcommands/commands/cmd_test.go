// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package commands

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foundriesio/dg-ota/catalog"
	"github.com/foundriesio/dg-ota/errs"
	"github.com/foundriesio/dg-ota/storage"
)

func TestEditsNewCommand(t *testing.T) {
	editor := catalog.NewCommandEditor("prod-1")
	e := edits{
		name: "move",
		req:  []string{"speed:int:0:100", "label:string"},
		res:  []string{"done:boolean"},
	}
	require.Nil(t, e.apply(editor))

	payload, err := editor.Payload()
	require.Nil(t, err)
	assert.Equal(t, "move", payload.Name)
	require.Len(t, payload.ReqParams, 2)
	assert.Equal(t, []float64{0, 100}, payload.ReqParams[0].DataRange)
	assert.Empty(t, payload.ReqParams[0].Id)
	assert.Nil(t, payload.ReqParams[1].DataRange)
	require.Len(t, payload.ResParams, 1)
	assert.Equal(t, storage.DataTypeBoolean, payload.ResParams[0].Type)
}

func TestEditsExistingCommand(t *testing.T) {
	editor := catalog.NewCommandEditor("prod-1")
	editor.Load(storage.Command{
		Id:        "cmd-1",
		ProductId: "prod-1",
		Name:      "move",
		ReqParams: []storage.Param{
			{Id: "p1", Name: "speed", Type: storage.DataTypeInt, DataRange: []float64{0, 10}},
			{Id: "p2", Name: "label", Type: storage.DataTypeString},
		},
	})
	e := edits{name: "move fast", req: []string{"speed:decimal:0:50"}, dropReq: []string{"label"}}
	require.Nil(t, e.apply(editor))

	payload, err := editor.Payload()
	require.Nil(t, err)
	assert.Equal(t, "cmd-1", payload.Id)
	require.Len(t, payload.ReqParams, 1)
	assert.Equal(t, "p1", payload.ReqParams[0].Id)
	assert.Equal(t, storage.DataTypeDecimal, payload.ReqParams[0].Type)
	assert.Equal(t, []float64{0, 50}, payload.ReqParams[0].DataRange)
	assert.Equal(t, []string{"p2"}, payload.DeleteReqParamsIds)

	err = edits{name: "x", dropRes: []string{"missing"}}.apply(editor)
	assert.True(t, errs.IsValidation(err))
	err = edits{name: "x", req: []string{"bad"}}.apply(editor)
	assert.True(t, errs.IsValidation(err))
	err = edits{name: "x", req: []string{"a:int:zero:1"}}.apply(editor)
	assert.True(t, errs.IsValidation(err))
}
