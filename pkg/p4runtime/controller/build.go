// SPDX-License-Identifier: Apache-2.0
// Copyright (C) 2023 Nordix Foundation.

package controller

import (
	"fmt"

	p4_v1 "github.com/p4lang/p4runtime/go/p4/v1"

	"github.com/opiproject/opi-p4rt-tablectl/pkg/p4runtime/codec"
	"github.com/opiproject/opi-p4rt-tablectl/pkg/p4runtime/schema"
)

var kindOf = map[schema.MatchType]Kind{
	schema.MatchExact:    KindExact,
	schema.MatchLPM:      KindLPM,
	schema.MatchTernary:  KindTernary,
	schema.MatchRange:    KindRange,
	schema.MatchOptional: KindOptional,
}

// BuildEntry resolves e against s and encodes it into a P4Runtime table
// entry. Every value is written with the width declared by the schema.
func BuildEntry(s *schema.Schema, e TableEntry) (*p4_v1.TableEntry, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: no pipeline schema for the target", ErrSchemaMismatch)
	}
	table, action, err := s.TableAction(e.Table, e.Action)
	if err != nil {
		return nil, err
	}

	if table.NeedsPriority() {
		if e.Priority <= 0 {
			return nil, fmt.Errorf("%w: table %q needs a positive priority", ErrSchemaMismatch, table.Name)
		}
	} else if e.Priority != 0 {
		return nil, fmt.Errorf("%w: table %q does not take a priority", ErrSchemaMismatch, table.Name)
	}

	entry := &p4_v1.TableEntry{
		TableId:  table.ID,
		Priority: e.Priority,
	}
	seen := make(map[string]bool, len(e.Match))
	for _, fm := range e.Match {
		if seen[fm.Name] {
			return nil, fmt.Errorf("%w: field %q given twice", ErrSchemaMismatch, fm.Name)
		}
		seen[fm.Name] = true
		mf, err := table.MatchField(fm.Name)
		if err != nil {
			return nil, err
		}
		m, err := buildMatch(mf, fm)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", fm.Name, err)
		}
		if m != nil {
			entry.Match = append(entry.Match, m)
		}
	}
	for _, mf := range table.MatchFields {
		if mf.MatchType == schema.MatchExact && !seen[mf.Name] {
			return nil, fmt.Errorf("%w: exact field %q of table %q is missing", ErrSchemaMismatch, mf.Name, table.Name)
		}
	}

	params, err := buildParams(action, e.Params)
	if err != nil {
		return nil, err
	}
	entry.Action = &p4_v1.TableAction{
		Type: &p4_v1.TableAction_Action{
			Action: &p4_v1.Action{ActionId: action.ID, Params: params},
		},
	}
	return entry, nil
}

// buildMatch returns nil when the field is a don't care
func buildMatch(mf schema.MatchField, fm FieldMatch) (*p4_v1.FieldMatch, error) {
	want, ok := kindOf[mf.MatchType]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported match type %v", ErrSchemaMismatch, mf.MatchType)
	}
	kind := fm.Kind
	if kind == KindUnspecified {
		kind = want
		switch want {
		case KindLPM:
			fm.PrefixLen = mf.Bitwidth
		case KindTernary:
			fm.Mask = codec.AllOnes(mf.Bitwidth)
		case KindRange:
			fm.High = fm.Value
		}
	}
	if kind != want {
		return nil, fmt.Errorf("%w: %s match given for a %s field", ErrSchemaMismatch, kind, want)
	}

	width := mf.Bitwidth
	value, err := codec.Encode(fm.Value, width)
	if err != nil {
		return nil, err
	}
	out := &p4_v1.FieldMatch{FieldId: mf.ID}
	switch kind {
	case KindExact:
		out.FieldMatchType = &p4_v1.FieldMatch_Exact_{Exact: &p4_v1.FieldMatch_Exact{Value: value}}
	case KindOptional:
		out.FieldMatchType = &p4_v1.FieldMatch_Optional_{Optional: &p4_v1.FieldMatch_Optional{Value: value}}
	case KindLPM:
		if fm.PrefixLen < 0 || fm.PrefixLen > width {
			return nil, fmt.Errorf("%w: prefix length %d for a %d bit field", ErrValueOutOfRange, fm.PrefixLen, width)
		}
		if fm.PrefixLen == 0 {
			return nil, nil
		}
		if value, err = codec.Encode(fm.Value.And(codec.PrefixMask(fm.PrefixLen, width)), width); err != nil {
			return nil, err
		}
		out.FieldMatchType = &p4_v1.FieldMatch_Lpm{Lpm: &p4_v1.FieldMatch_LPM{Value: value, PrefixLen: fm.PrefixLen}}
	case KindTernary:
		mask, err := codec.Encode(fm.Mask, width)
		if err != nil {
			return nil, err
		}
		if fm.Mask.IsZero() {
			return nil, nil
		}
		if value, err = codec.Encode(fm.Value.And(fm.Mask), width); err != nil {
			return nil, err
		}
		out.FieldMatchType = &p4_v1.FieldMatch_Ternary_{Ternary: &p4_v1.FieldMatch_Ternary{Value: value, Mask: mask}}
	case KindRange:
		high, err := codec.Encode(fm.High, width)
		if err != nil {
			return nil, err
		}
		if fm.Value.Cmp(fm.High) > 0 {
			return nil, fmt.Errorf("%w: range low %s above high %s", ErrValueOutOfRange, fm.Value, fm.High)
		}
		if fm.Value.IsZero() && fm.High.Equal(codec.AllOnes(width)) {
			return nil, nil
		}
		out.FieldMatchType = &p4_v1.FieldMatch_Range_{Range: &p4_v1.FieldMatch_Range{Low: value, High: high}}
	}
	return out, nil
}

// buildParams emits the action parameters in the order the action declares them
func buildParams(action *schema.Action, given []ActionParam) ([]*p4_v1.Action_Param, error) {
	byName := make(map[string]codec.Value, len(given))
	for _, p := range given {
		if _, dup := byName[p.Name]; dup {
			return nil, fmt.Errorf("%w: param %q given twice", ErrSchemaMismatch, p.Name)
		}
		if _, err := action.Param(p.Name); err != nil {
			return nil, err
		}
		byName[p.Name] = p.Value
	}
	params := make([]*p4_v1.Action_Param, 0, len(action.Params))
	for _, p := range action.Params {
		v, ok := byName[p.Name]
		if !ok {
			return nil, fmt.Errorf("%w: action %q is missing param %q", ErrSchemaMismatch, action.Name, p.Name)
		}
		b, err := codec.Encode(v, p.Bitwidth)
		if err != nil {
			return nil, fmt.Errorf("param %q: %w", p.Name, err)
		}
		params = append(params, &p4_v1.Action_Param{ParamId: p.ID, Value: b})
	}
	return params, nil
}
