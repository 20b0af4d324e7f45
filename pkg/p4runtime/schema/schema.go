// SPDX-License-Identifier: Apache-2.0
// Copyright (C) 2023 Nordix Foundation.

// Package schema describes the tables and actions of a loaded P4 program,
// as declared by its P4Info.
package schema

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang/protobuf/proto"
	p4_config_v1 "github.com/p4lang/p4runtime/go/p4/config/v1"
)

// ErrSchemaMismatch is returned when a name is not part of the loaded program
var ErrSchemaMismatch = errors.New("schema mismatch")

// MatchType is the kind of match a table key field uses
type MatchType int32

// Match types, values follow p4.config.v1.MatchField.MatchType
const (
	MatchUnspecified MatchType = MatchType(p4_config_v1.MatchField_UNSPECIFIED)
	MatchExact       MatchType = MatchType(p4_config_v1.MatchField_EXACT)
	MatchLPM         MatchType = MatchType(p4_config_v1.MatchField_LPM)
	MatchTernary     MatchType = MatchType(p4_config_v1.MatchField_TERNARY)
	MatchRange       MatchType = MatchType(p4_config_v1.MatchField_RANGE)
	MatchOptional    MatchType = MatchType(p4_config_v1.MatchField_OPTIONAL)
)

func (m MatchType) String() string {
	switch m {
	case MatchExact:
		return "exact"
	case MatchLPM:
		return "lpm"
	case MatchTernary:
		return "ternary"
	case MatchRange:
		return "range"
	case MatchOptional:
		return "optional"
	default:
		return "unspecified"
	}
}

// MatchField is one key field of a table
type MatchField struct {
	ID        uint32
	Name      string
	Bitwidth  int32
	MatchType MatchType
}

// Param is one parameter of an action
type Param struct {
	ID       uint32
	Name     string
	Bitwidth int32
}

// Action is an action of the program with its ordered parameters
type Action struct {
	ID     uint32
	Name   string
	Alias  string
	Params []Param
}

// Table is a match-action table with its ordered key fields
type Table struct {
	ID          uint32
	Name        string
	Alias       string
	MatchFields []MatchField
	actionIDs   map[uint32]bool
}

// Schema indexes the tables and actions of one P4Info
type Schema struct {
	tables  map[string]*Table
	actions map[string]*Action
}

// LoadP4Info reads a P4Info file. Files ending in .bin or .pb are read as
// binary protobuf, anything else as protobuf text format.
func LoadP4Info(path string) (*p4_config_v1.P4Info, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading p4info %s: %w", path, err)
	}
	p4Info := &p4_config_v1.P4Info{}
	switch filepath.Ext(path) {
	case ".bin", ".pb":
		err = proto.Unmarshal(data, p4Info)
	default:
		err = proto.UnmarshalText(string(data), p4Info)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing p4info %s: %w", path, err)
	}
	return p4Info, nil
}

// Load is LoadP4Info followed by FromP4Info
func Load(path string) (*Schema, error) {
	p4Info, err := LoadP4Info(path)
	if err != nil {
		return nil, err
	}
	return FromP4Info(p4Info), nil
}

// FromP4Info indexes the tables and actions of p4Info by full name and alias
func FromP4Info(p4Info *p4_config_v1.P4Info) *Schema {
	s := &Schema{
		tables:  make(map[string]*Table),
		actions: make(map[string]*Action),
	}
	for _, a := range p4Info.GetActions() {
		action := &Action{
			ID:    a.GetPreamble().GetId(),
			Name:  a.GetPreamble().GetName(),
			Alias: a.GetPreamble().GetAlias(),
		}
		for _, p := range a.GetParams() {
			action.Params = append(action.Params, Param{
				ID:       p.GetId(),
				Name:     p.GetName(),
				Bitwidth: p.GetBitwidth(),
			})
		}
		s.actions[action.Name] = action
		if action.Alias != "" {
			if _, taken := s.actions[action.Alias]; !taken {
				s.actions[action.Alias] = action
			}
		}
	}
	for _, t := range p4Info.GetTables() {
		table := &Table{
			ID:        t.GetPreamble().GetId(),
			Name:      t.GetPreamble().GetName(),
			Alias:     t.GetPreamble().GetAlias(),
			actionIDs: make(map[uint32]bool),
		}
		for _, mf := range t.GetMatchFields() {
			table.MatchFields = append(table.MatchFields, MatchField{
				ID:        mf.GetId(),
				Name:      mf.GetName(),
				Bitwidth:  mf.GetBitwidth(),
				MatchType: MatchType(mf.GetMatchType()),
			})
		}
		for _, ref := range t.GetActionRefs() {
			if ref.GetScope() == p4_config_v1.ActionRef_DEFAULT_ONLY {
				continue
			}
			table.actionIDs[ref.GetId()] = true
		}
		s.tables[table.Name] = table
		if table.Alias != "" {
			if _, taken := s.tables[table.Alias]; !taken {
				s.tables[table.Alias] = table
			}
		}
	}
	return s
}

// Table looks a table up by full name or alias
func (s *Schema) Table(name string) (*Table, error) {
	t, ok := s.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown table %q", ErrSchemaMismatch, name)
	}
	return t, nil
}

// Action looks an action up by full name or alias
func (s *Schema) Action(name string) (*Action, error) {
	a, ok := s.actions[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown action %q", ErrSchemaMismatch, name)
	}
	return a, nil
}

// TableAction resolves a table and one of its entry actions
func (s *Schema) TableAction(table, action string) (*Table, *Action, error) {
	t, err := s.Table(table)
	if err != nil {
		return nil, nil, err
	}
	a, err := s.Action(action)
	if err != nil {
		return nil, nil, err
	}
	if !t.actionIDs[a.ID] {
		return nil, nil, fmt.Errorf("%w: action %q is not an entry action of table %q", ErrSchemaMismatch, a.Name, t.Name)
	}
	return t, a, nil
}

// MatchField looks a key field up by name
func (t *Table) MatchField(name string) (MatchField, error) {
	for _, mf := range t.MatchFields {
		if mf.Name == name {
			if mf.Bitwidth <= 0 {
				return mf, fmt.Errorf("%w: field %q of table %q has no fixed bit width", ErrSchemaMismatch, name, t.Name)
			}
			return mf, nil
		}
	}
	return MatchField{}, fmt.Errorf("%w: table %q has no match field %q", ErrSchemaMismatch, t.Name, name)
}

// NeedsPriority reports whether entries of the table must carry a priority
func (t *Table) NeedsPriority() bool {
	for _, mf := range t.MatchFields {
		switch mf.MatchType {
		case MatchTernary, MatchRange, MatchOptional:
			return true
		}
	}
	return false
}

// Param looks an action parameter up by name
func (a *Action) Param(name string) (Param, error) {
	for _, p := range a.Params {
		if p.Name == name {
			if p.Bitwidth <= 0 {
				return p, fmt.Errorf("%w: param %q of action %q has no fixed bit width", ErrSchemaMismatch, name, a.Name)
			}
			return p, nil
		}
	}
	return Param{}, fmt.Errorf("%w: action %q has no param %q", ErrSchemaMismatch, a.Name, name)
}

// Tables lists the tables by full name
func (s *Schema) Tables() []string {
	var names []string
	for name, t := range s.tables {
		if name == t.Name {
			names = append(names, name)
		}
	}
	return names
}
