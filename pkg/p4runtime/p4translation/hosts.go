// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2022-2023 Intel Corporation, or its subsidiaries.
// Copyright (C) 2023 Nordix Foundation.

// Package p4translation turns host bindings and entries files into the
// declarative table entries applied by the controller.
package p4translation

import (
	"fmt"
	"net"

	"github.com/opiproject/opi-p4rt-tablectl/pkg/p4runtime/codec"
	"github.com/opiproject/opi-p4rt-tablectl/pkg/p4runtime/controller"
)

// Pipeline names the tables, keys, actions and params a host binding is
// translated into.
type Pipeline struct {
	ARPTable  string `yaml:"arptable"`
	ARPKey    string `yaml:"arpkey"`
	ARPAction string `yaml:"arpaction"`
	ARPParam  string `yaml:"arpparam"`
	L2Table   string `yaml:"l2table"`
	L2Key     string `yaml:"l2key"`
	L2Action  string `yaml:"l2action"`
	L2Param   string `yaml:"l2param"`
}

// DefaultPipeline returns the names used by the IngressPipeImpl program
func DefaultPipeline() Pipeline {
	return Pipeline{
		ARPTable:  "IngressPipeImpl.arp_table",
		ARPKey:    "hdr.arp.target_proto_addr",
		ARPAction: "IngressPipeImpl.arp_req_to_reply",
		ARPParam:  "target_mac",
		L2Table:   "IngressPipeImpl.l2_exact_table",
		L2Key:     "hdr.ethernet.dst_addr",
		L2Action:  "IngressPipeImpl.set_egress_port",
		L2Param:   "port_num",
	}
}

// WithDefaults fills every empty name from DefaultPipeline
func (p Pipeline) WithDefaults() Pipeline {
	d := DefaultPipeline()
	fill := func(v *string, def string) {
		if *v == "" {
			*v = def
		}
	}
	fill(&p.ARPTable, d.ARPTable)
	fill(&p.ARPKey, d.ARPKey)
	fill(&p.ARPAction, d.ARPAction)
	fill(&p.ARPParam, d.ARPParam)
	fill(&p.L2Table, d.L2Table)
	fill(&p.L2Key, d.L2Key)
	fill(&p.L2Action, d.L2Action)
	fill(&p.L2Param, d.L2Param)
	return p
}

// HostBinding is a host attached to a switch port
type HostBinding struct {
	Name string `yaml:"name"`
	IP   string `yaml:"ip"`
	MAC  string `yaml:"mac"`
	Port uint64 `yaml:"port"`
}

// DefaultHosts are the four hosts of the single switch test topology
func DefaultHosts() []HostBinding {
	return []HostBinding{
		{Name: "h1a", IP: "172.16.1.1", MAC: "00:00:00:00:00:1a", Port: 1},
		{Name: "h1b", IP: "172.16.1.2", MAC: "00:00:00:00:00:1b", Port: 2},
		{Name: "h1c", IP: "172.16.1.3", MAC: "00:00:00:00:00:1c", Port: 3},
		{Name: "h1d", IP: "172.16.1.4", MAC: "00:00:00:00:00:20", Port: 4},
	}
}

func (h HostBinding) values() (codec.Value, codec.Value, error) {
	ip := net.ParseIP(h.IP)
	if ip == nil {
		return codec.Value{}, codec.Value{}, fmt.Errorf("host %s: %w: ip %q", h.Name, codec.ErrInvalidValue, h.IP)
	}
	mac, err := net.ParseMAC(h.MAC)
	if err != nil {
		return codec.Value{}, codec.Value{}, fmt.Errorf("host %s: %w: mac %q", h.Name, codec.ErrInvalidValue, h.MAC)
	}
	return codec.IP(ip), codec.MAC(mac), nil
}

// ARPEntries answers ARP requests for every host IP with the host MAC
func ARPEntries(p Pipeline, hosts []HostBinding) ([]controller.TableEntry, error) {
	entries := make([]controller.TableEntry, 0, len(hosts))
	for _, h := range hosts {
		ip, mac, err := h.values()
		if err != nil {
			return nil, err
		}
		entries = append(entries, controller.TableEntry{
			Table:  p.ARPTable,
			Match:  []controller.FieldMatch{controller.Exact(p.ARPKey, ip)},
			Action: p.ARPAction,
			Params: []controller.ActionParam{controller.Param(p.ARPParam, mac)},
		})
	}
	return entries, nil
}

// L2Entries forwards frames for every host MAC to the host port
func L2Entries(p Pipeline, hosts []HostBinding) ([]controller.TableEntry, error) {
	entries := make([]controller.TableEntry, 0, len(hosts))
	for _, h := range hosts {
		_, mac, err := h.values()
		if err != nil {
			return nil, err
		}
		entries = append(entries, controller.TableEntry{
			Table:  p.L2Table,
			Match:  []controller.FieldMatch{controller.Exact(p.L2Key, mac)},
			Action: p.L2Action,
			Params: []controller.ActionParam{controller.Param(p.L2Param, codec.Uint(h.Port))},
		})
	}
	return entries, nil
}

// Translate returns the ARP entries of all hosts followed by their L2 entries
func Translate(p Pipeline, hosts []HostBinding) ([]controller.TableEntry, error) {
	arp, err := ARPEntries(p, hosts)
	if err != nil {
		return nil, err
	}
	l2, err := L2Entries(p, hosts)
	if err != nil {
		return nil, err
	}
	return append(arp, l2...), nil
}
