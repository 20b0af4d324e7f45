// SPDX-License-Identifier: Apache-2.0
// Copyright (C) 2023 Nordix Foundation.

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opiproject/opi-p4rt-tablectl/pkg/config"
	"github.com/opiproject/opi-p4rt-tablectl/pkg/journal"
	"github.com/opiproject/opi-p4rt-tablectl/pkg/p4runtime/codec"
	"github.com/opiproject/opi-p4rt-tablectl/pkg/p4runtime/p4driverapi"
	"github.com/opiproject/opi-p4rt-tablectl/pkg/p4runtime/p4rtsim"
	"github.com/opiproject/opi-p4rt-tablectl/pkg/storage"
)

const hostsFile = `
hosts:
  - {name: h1a, ip: 172.16.1.1, mac: "00:00:00:00:00:1a", port: 1}
  - {name: h1b, ip: 172.16.1.2, mac: "00:00:00:00:00:1b", port: 2}
  - {name: h1c, ip: 172.16.1.3, mac: "00:00:00:00:00:1c", port: 3}
  - {name: h1d, ip: 172.16.1.4, mac: "00:00:00:00:00:20", port: 4}
`

const badPortFile = `
entries:
  - table: IngressPipeImpl.l2_exact_table
    match: {hdr.ethernet.dst_addr: "00:00:00:00:00:1a"}
    action: IngressPipeImpl.set_egress_port
    params: {port_num: 512}
`

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "entries.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func testConfig() *config.Config {
	return &config.Config{
		Database:           storage.BackendGomap,
		RequestTimeout:     time.Second,
		ArbitrationTimeout: time.Second,
		Retry:              config.RetryConfig{MaxAttempts: 2, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond},
		Targets:            []config.TargetConfig{{Name: "s1", Address: p4rtsim.Address, DeviceID: 1}},
	}
}

func TestApplyAndStatus(t *testing.T) {
	srv := p4rtsim.Serve(p4rtsim.NewSwitch(1, p4rtsim.IngressPipeP4Info()))
	defer srv.Stop()
	store, err := storage.NewStore(storage.BackendGomap, "")
	require.NoError(t, err)
	defer store.Close()

	cfg := testConfig()
	path := writeFile(t, hostsFile)
	dial := p4driverapi.WithDialOptions(srv.DialOption())

	var out bytes.Buffer
	require.NoError(t, runApply(context.Background(), &out, cfg, store, path, "", dial))
	assert.Contains(t, out.String(), "s1: 8 inserted, 0 already existed, 0 failed")

	out.Reset()
	require.NoError(t, runApply(context.Background(), &out, cfg, store, path, "s1", dial))
	assert.Contains(t, out.String(), "s1: 0 inserted, 8 already existed, 0 failed")

	out.Reset()
	require.NoError(t, runStatus(&out, store, "s1", false))
	assert.Contains(t, out.String(), "target: s1")
	assert.Contains(t, out.String(), "alreadyexists: 8")

	out.Reset()
	err = runApply(context.Background(), &out, cfg, store, writeFile(t, badPortFile), "s1", dial)
	assert.ErrorIs(t, err, errApplyFailed)
	assert.Contains(t, out.String(), "value out of range")

	assert.ErrorIs(t, runStatus(&out, store, "s2", false), journal.ErrNotFound)

	out.Reset()
	require.NoError(t, runStatus(&out, store, "s1", true))
	assert.Contains(t, out.String(), "failed: 1")
	assert.ErrorIs(t, runStatus(&out, store, "s1", false), journal.ErrNotFound)
}

func TestApplyUnknownTarget(t *testing.T) {
	store, err := storage.NewStore(storage.BackendGomap, "")
	require.NoError(t, err)
	defer store.Close()

	err = runApply(context.Background(), &bytes.Buffer{}, testConfig(), store, writeFile(t, hostsFile), "s9")
	assert.Error(t, err)
}

func TestEncode(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		bitwidth int32
		want     string
		wantErr  error
	}{
		{name: "ipv4 address", value: "172.16.1.1", bitwidth: 32, want: "ac 10 01 01\n"},
		{name: "mac address", value: "00:00:00:00:00:1a", bitwidth: 48, want: "00 00 00 00 00 1a\n"},
		{name: "port", value: "4", bitwidth: 9, want: "00 04\n"},
		{name: "too wide", value: "512", bitwidth: 9, wantErr: codec.ErrValueOutOfRange},
		{name: "no width", value: "1", bitwidth: 0, wantErr: codec.ErrInvalidWidth},
		{name: "not a value", value: "eth0", bitwidth: 8, wantErr: codec.ErrInvalidValue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			err := runEncode(&out, tt.value, tt.bitwidth)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.String())
		})
	}
}
