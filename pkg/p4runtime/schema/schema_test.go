// SPDX-License-Identifier: Apache-2.0
// Copyright (C) 2023 Nordix Foundation.

package schema

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/golang/protobuf/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadTestSchema(t *testing.T) *Schema {
	t.Helper()
	s, err := Load(filepath.Join("testdata", "p4info.txt"))
	require.NoError(t, err)
	return s
}

func TestLoadText(t *testing.T) {
	s := loadTestSchema(t)

	names := s.Tables()
	sort.Strings(names)
	assert.Equal(t, []string{
		"IngressPipeImpl.acl_table",
		"IngressPipeImpl.arp_table",
		"IngressPipeImpl.l2_exact_table",
	}, names)

	table, err := s.Table("IngressPipeImpl.arp_table")
	require.NoError(t, err)
	assert.Equal(t, uint32(33563442), table.ID)

	mf, err := table.MatchField("hdr.arp.target_proto_addr")
	require.NoError(t, err)
	assert.Equal(t, int32(32), mf.Bitwidth)
	assert.Equal(t, MatchExact, mf.MatchType)
	assert.False(t, table.NeedsPriority())
}

func TestLoadBinary(t *testing.T) {
	p4Info, err := LoadP4Info(filepath.Join("testdata", "p4info.txt"))
	require.NoError(t, err)

	data, err := proto.Marshal(p4Info)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "p4info.bin")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	s, err := Load(path)
	require.NoError(t, err)
	_, err = s.Table("l2_exact_table")
	assert.NoError(t, err)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join("testdata", "missing.txt"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "broken.txt")
	require.NoError(t, os.WriteFile(path, []byte("tables { preamble "), 0o600))
	_, err = Load(path)
	assert.Error(t, err)
}

func TestTableAction(t *testing.T) {
	s := loadTestSchema(t)

	tests := []struct {
		name    string
		table   string
		action  string
		wantErr bool
	}{
		{name: "full names", table: "IngressPipeImpl.l2_exact_table", action: "IngressPipeImpl.set_egress_port"},
		{name: "aliases", table: "arp_table", action: "arp_req_to_reply"},
		{name: "unknown table", table: "IngressPipeImpl.l3_table", action: "IngressPipeImpl.drop", wantErr: true},
		{name: "unknown action", table: "arp_table", action: "IngressPipeImpl.flood", wantErr: true},
		{name: "action of another table", table: "arp_table", action: "IngressPipeImpl.set_egress_port", wantErr: true},
		{name: "default only action", table: "l2_exact_table", action: "NoAction", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table, action, err := s.TableAction(tt.table, tt.action)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrSchemaMismatch)
				return
			}
			require.NoError(t, err)
			assert.NotZero(t, table.ID)
			assert.NotZero(t, action.ID)
		})
	}
}

func TestParamsAndFields(t *testing.T) {
	s := loadTestSchema(t)

	action, err := s.Action("IngressPipeImpl.set_egress_port")
	require.NoError(t, err)
	p, err := action.Param("port_num")
	require.NoError(t, err)
	assert.Equal(t, int32(9), p.Bitwidth)
	_, err = action.Param("port")
	assert.ErrorIs(t, err, ErrSchemaMismatch)

	acl, err := s.Table("acl_table")
	require.NoError(t, err)
	assert.True(t, acl.NeedsPriority())
	mf, err := acl.MatchField("hdr.ipv4.dst_addr")
	require.NoError(t, err)
	assert.Equal(t, "lpm", mf.MatchType.String())
	_, err = acl.MatchField("hdr.ipv4.src_addr")
	assert.ErrorIs(t, err, ErrSchemaMismatch)
}
