// SPDX-License-Identifier: Apache-2.0
// Copyright (C) 2023 Nordix Foundation.

package controller

import (
	"testing"

	p4_config_v1 "github.com/p4lang/p4runtime/go/p4/config/v1"
	p4_v1 "github.com/p4lang/p4runtime/go/p4/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"

	"github.com/opiproject/opi-p4rt-tablectl/pkg/p4runtime/codec"
	"github.com/opiproject/opi-p4rt-tablectl/pkg/p4runtime/p4rtsim"
	"github.com/opiproject/opi-p4rt-tablectl/pkg/p4runtime/schema"
)

const (
	arpTable   = "IngressPipeImpl.arp_table"
	arpField   = "hdr.arp.target_proto_addr"
	arpAction  = "IngressPipeImpl.arp_req_to_reply"
	arpParam   = "target_mac"
	l2Table    = "IngressPipeImpl.l2_exact_table"
	l2Field    = "hdr.ethernet.dst_addr"
	l2Action   = "IngressPipeImpl.set_egress_port"
	l2Param    = "port_num"
	aclTable   = "IngressPipeImpl.acl_table"
	aclPort    = "standard_metadata.ingress_port"
	aclDstAddr = "hdr.ipv4.dst_addr"
	aclL4Port  = "local_metadata.l4_dst_port"
)

func testSchema() *schema.Schema {
	return schema.FromP4Info(p4rtsim.IngressPipeP4Info())
}

func arpEntry(ip, mac string) TableEntry {
	return TableEntry{
		Table:  arpTable,
		Match:  []FieldMatch{Exact(arpField, codec.MustParse(ip))},
		Action: arpAction,
		Params: []ActionParam{Param(arpParam, codec.MustParse(mac))},
	}
}

func l2Entry(mac string, port uint64) TableEntry {
	return TableEntry{
		Table:  l2Table,
		Match:  []FieldMatch{Exact(l2Field, codec.MustParse(mac))},
		Action: l2Action,
		Params: []ActionParam{Param(l2Param, codec.Uint(port))},
	}
}

func aclEntry(match ...FieldMatch) TableEntry {
	return TableEntry{Table: aclTable, Match: match, Action: "drop", Priority: 10}
}

func TestBuildEntryEncoding(t *testing.T) {
	s := testSchema()

	got, err := BuildEntry(s, arpEntry("172.16.1.1", "00:00:00:00:00:1a"))
	require.NoError(t, err)
	assert.Equal(t, uint32(33563442), got.GetTableId())
	require.Len(t, got.GetMatch(), 1)
	assert.Equal(t, []byte{172, 16, 1, 1}, got.GetMatch()[0].GetExact().GetValue())
	action := got.GetAction().GetAction()
	assert.Equal(t, uint32(16808582), action.GetActionId())
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0x1a}, action.GetParams()[0].GetValue())

	got, err = BuildEntry(s, l2Entry("00:00:00:00:00:1b", 4))
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0x1b}, got.GetMatch()[0].GetExact().GetValue())
	assert.Equal(t, []byte{0x00, 0x04}, got.GetAction().GetAction().GetParams()[0].GetValue())
}

func TestBuildEntryMatchKinds(t *testing.T) {
	s := testSchema()

	tests := []struct {
		name  string
		entry TableEntry
		want  []*p4_v1.FieldMatch
	}{
		{
			name:  "lpm value is masked to its prefix",
			entry: aclEntry(LPM(aclDstAddr, codec.MustParse("10.1.2.3"), 24)),
			want: []*p4_v1.FieldMatch{{
				FieldId:        2,
				FieldMatchType: &p4_v1.FieldMatch_Lpm{Lpm: &p4_v1.FieldMatch_LPM{Value: []byte{10, 1, 2, 0}, PrefixLen: 24}},
			}},
		},
		{
			name:  "zero length prefix is a don't care",
			entry: aclEntry(LPM(aclDstAddr, codec.MustParse("10.1.2.3"), 0)),
		},
		{
			name:  "ternary value is masked",
			entry: aclEntry(Ternary(aclPort, codec.Uint(0x1ff), codec.Uint(0x0f0))),
			want: []*p4_v1.FieldMatch{{
				FieldId:        1,
				FieldMatchType: &p4_v1.FieldMatch_Ternary_{Ternary: &p4_v1.FieldMatch_Ternary{Value: []byte{0x00, 0xf0}, Mask: []byte{0x00, 0xf0}}},
			}},
		},
		{
			name:  "all zero ternary mask is a don't care",
			entry: aclEntry(Ternary(aclPort, codec.Uint(3), codec.Uint(0))),
		},
		{
			name:  "range",
			entry: aclEntry(Range(aclL4Port, codec.Uint(80), codec.Uint(443))),
			want: []*p4_v1.FieldMatch{{
				FieldId:        3,
				FieldMatchType: &p4_v1.FieldMatch_Range_{Range: &p4_v1.FieldMatch_Range{Low: []byte{0, 80}, High: []byte{0x01, 0xbb}}},
			}},
		},
		{
			name:  "full range is a don't care",
			entry: aclEntry(Range(aclL4Port, codec.Uint(0), codec.Uint(0xffff))),
		},
		{
			name:  "unspecified kind takes the field's match type",
			entry: aclEntry(FieldMatch{Name: aclDstAddr, Value: codec.MustParse("10.1.2.3")}),
			want: []*p4_v1.FieldMatch{{
				FieldId:        2,
				FieldMatchType: &p4_v1.FieldMatch_Lpm{Lpm: &p4_v1.FieldMatch_LPM{Value: []byte{10, 1, 2, 3}, PrefixLen: 32}},
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BuildEntry(s, tt.entry)
			require.NoError(t, err)
			require.Len(t, got.GetMatch(), len(tt.want))
			for i := range tt.want {
				assert.True(t, proto.Equal(tt.want[i], got.GetMatch()[i]), "got %v", got.GetMatch()[i])
			}
			assert.Equal(t, int32(10), got.GetPriority())
		})
	}
}

func TestBuildEntryErrors(t *testing.T) {
	s := testSchema()

	tests := []struct {
		name    string
		entry   TableEntry
		wantErr error
	}{
		{
			name:    "unknown table",
			entry:   TableEntry{Table: "IngressPipeImpl.l3_table", Action: "drop"},
			wantErr: ErrSchemaMismatch,
		},
		{
			name:    "action not allowed in the table",
			entry:   TableEntry{Table: arpTable, Match: []FieldMatch{Exact(arpField, codec.Uint(1))}, Action: "drop"},
			wantErr: ErrSchemaMismatch,
		},
		{
			name: "unknown match field",
			entry: func() TableEntry {
				e := arpEntry("172.16.1.1", "00:00:00:00:00:1a")
				e.Match = append(e.Match, Exact("hdr.arp.sender_proto_addr", codec.Uint(1)))
				return e
			}(),
			wantErr: ErrSchemaMismatch,
		},
		{
			name: "missing exact field",
			entry: func() TableEntry {
				e := arpEntry("172.16.1.1", "00:00:00:00:00:1a")
				e.Match = nil
				return e
			}(),
			wantErr: ErrSchemaMismatch,
		},
		{
			name: "duplicate match field",
			entry: func() TableEntry {
				e := arpEntry("172.16.1.1", "00:00:00:00:00:1a")
				e.Match = append(e.Match, e.Match[0])
				return e
			}(),
			wantErr: ErrSchemaMismatch,
		},
		{
			name: "missing param",
			entry: func() TableEntry {
				e := arpEntry("172.16.1.1", "00:00:00:00:00:1a")
				e.Params = nil
				return e
			}(),
			wantErr: ErrSchemaMismatch,
		},
		{
			name: "extra param",
			entry: func() TableEntry {
				e := arpEntry("172.16.1.1", "00:00:00:00:00:1a")
				e.Params = append(e.Params, Param("vlan", codec.Uint(1)))
				return e
			}(),
			wantErr: ErrSchemaMismatch,
		},
		{
			name:    "wrong match kind",
			entry:   TableEntry{Table: arpTable, Match: []FieldMatch{LPM(arpField, codec.Uint(1), 8)}, Action: arpAction, Params: []ActionParam{Param(arpParam, codec.Uint(1))}},
			wantErr: ErrSchemaMismatch,
		},
		{
			name:    "priority on an exact table",
			entry:   func() TableEntry { e := l2Entry("00:00:00:00:00:1a", 1); e.Priority = 1; return e }(),
			wantErr: ErrSchemaMismatch,
		},
		{
			name:    "missing priority on a ternary table",
			entry:   TableEntry{Table: aclTable, Action: "drop"},
			wantErr: ErrSchemaMismatch,
		},
		{
			name: "address wider than 32 bits",
			entry: TableEntry{
				Table:  arpTable,
				Match:  []FieldMatch{Exact(arpField, codec.Uint(1<<32))},
				Action: arpAction,
				Params: []ActionParam{Param(arpParam, codec.Uint(1))},
			},
			wantErr: ErrValueOutOfRange,
		},
		{
			name:    "port wider than 9 bits",
			entry:   l2Entry("00:00:00:00:00:1a", 512),
			wantErr: ErrValueOutOfRange,
		},
		{
			name:    "prefix longer than the field",
			entry:   aclEntry(LPM(aclDstAddr, codec.Uint(1), 33)),
			wantErr: ErrValueOutOfRange,
		},
		{
			name:    "inverted range",
			entry:   aclEntry(Range(aclL4Port, codec.Uint(443), codec.Uint(80))),
			wantErr: ErrValueOutOfRange,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BuildEntry(s, tt.entry)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, got)
		})
	}

	_, err := BuildEntry(nil, arpEntry("172.16.1.1", "00:00:00:00:00:1a"))
	assert.ErrorIs(t, err, ErrSchemaMismatch)
}

func TestBuildEntryParamOrder(t *testing.T) {
	s := schema.FromP4Info(&p4_config_v1.P4Info{
		Tables: []*p4_config_v1.Table{{
			Preamble:    &p4_config_v1.Preamble{Id: 1, Name: "IngressPipeImpl.nat_table"},
			MatchFields: []*p4_config_v1.MatchField{{Id: 1, Name: "hdr.ipv4.src_addr", Bitwidth: 32, Match: &p4_config_v1.MatchField_MatchType_{MatchType: p4_config_v1.MatchField_EXACT}}},
			ActionRefs:  []*p4_config_v1.ActionRef{{Id: 2}},
		}},
		Actions: []*p4_config_v1.Action{{
			Preamble: &p4_config_v1.Preamble{Id: 2, Name: "IngressPipeImpl.rewrite"},
			Params: []*p4_config_v1.Action_Param{
				{Id: 7, Name: "new_addr", Bitwidth: 32},
				{Id: 3, Name: "new_port", Bitwidth: 16},
			},
		}},
	})

	got, err := BuildEntry(s, TableEntry{
		Table:  "IngressPipeImpl.nat_table",
		Match:  []FieldMatch{Exact("hdr.ipv4.src_addr", codec.MustParse("10.0.0.1"))},
		Action: "IngressPipeImpl.rewrite",
		Params: []ActionParam{
			Param("new_port", codec.Uint(8080)),
			Param("new_addr", codec.MustParse("192.168.0.1")),
		},
	})
	require.NoError(t, err)
	params := got.GetAction().GetAction().GetParams()
	require.Len(t, params, 2)
	assert.Equal(t, uint32(7), params[0].GetParamId())
	assert.Equal(t, []byte{192, 168, 0, 1}, params[0].GetValue())
	assert.Equal(t, uint32(3), params[1].GetParamId())
	assert.Equal(t, []byte{0x1f, 0x90}, params[1].GetValue())
}
