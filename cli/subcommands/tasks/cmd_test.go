// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package tasks

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foundriesio/dg-ota/ota"
	"github.com/foundriesio/dg-ota/poller"
	"github.com/foundriesio/dg-ota/storage"
)

func TestPrintDetail(t *testing.T) {
	var out bytes.Buffer
	d := poller.Detail{
		Task: storage.OtaTask{Id: "t1", Name: "rollout", Status: storage.OtaRunning, PackageId: "p1"},
		Devices: []storage.OtaDevice{
			{Id: "s1", DeviceId: "dev-1", Status: storage.OtaRunning, Description: "downloading\n50%"},
			{Id: "s2", DeviceId: "dev-2", Status: storage.OtaPending},
		},
	}
	require.Nil(t, printDetail(&out, d))
	text := out.String()
	assert.Contains(t, text, "Status: running")
	assert.Contains(t, text, "downloading 50%")
	assert.Contains(t, text, "dev-2")
}

func TestPrintEligible(t *testing.T) {
	var out bytes.Buffer
	devices := []ota.EligibleDevice{
		{DeviceWithOta: storage.DeviceWithOta{Device: storage.Device{Id: "d1", DeviceId: "dev-1", Version: "1.0"}}, Eligible: true},
		{DeviceWithOta: storage.DeviceWithOta{Device: storage.Device{Id: "d2", DeviceId: "dev-2"}}, Reason: ota.ReasonActiveOta},
	}
	require.Nil(t, printEligible(&out, devices))
	assert.Contains(t, out.String(), "yes")
	assert.Contains(t, out.String(), "no: "+ota.ReasonActiveOta)
}

func TestFilterFlags(t *testing.T) {
	require.Nil(t, listCmd.Flags().Set("status", "running"))
	require.Nil(t, listCmd.Flags().Set("name", "roll"))
	t.Cleanup(func() {
		_ = listCmd.Flags().Set("status", "")
		_ = listCmd.Flags().Set("name", "")
	})
	f, err := filterFlags(listCmd)
	require.Nil(t, err)
	assert.Equal(t, ota.Filter{Name: "roll", Status: storage.OtaRunning}, f)

	require.Nil(t, listCmd.Flags().Set("status", "bogus"))
	_, err = filterFlags(listCmd)
	assert.NotNil(t, err)
}
