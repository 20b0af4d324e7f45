// SPDX-License-Identifier: Apache-2.0
// Copyright (C) 2023 Nordix Foundation.

package controller

import (
	"errors"
	"fmt"
	"time"

	"github.com/opiproject/opi-p4rt-tablectl/pkg/p4runtime/codec"
	"github.com/opiproject/opi-p4rt-tablectl/pkg/p4runtime/schema"
)

// Error kinds carried by failed write results
var (
	ErrSchemaMismatch  = schema.ErrSchemaMismatch
	ErrValueOutOfRange = codec.ErrValueOutOfRange
	ErrDuplicateKey    = errors.New("duplicate key")
	ErrChannel         = errors.New("channel error")
	ErrTimeout         = errors.New("timeout")
	ErrRejected        = errors.New("rejected by target")
)

// Kind selects how a match field value is interpreted
type Kind string

// Match kinds. KindUnspecified takes the match type declared by the table.
const (
	KindUnspecified Kind = ""
	KindExact       Kind = "exact"
	KindLPM         Kind = "lpm"
	KindTernary     Kind = "ternary"
	KindRange       Kind = "range"
	KindOptional    Kind = "optional"
)

// FieldMatch is one key field of a table entry. Value is the exact, lpm,
// optional or ternary value and the low end of a range.
type FieldMatch struct {
	Name      string
	Kind      Kind
	Value     codec.Value
	Mask      codec.Value
	High      codec.Value
	PrefixLen int32
}

// Exact matches name against v
func Exact(name string, v codec.Value) FieldMatch {
	return FieldMatch{Name: name, Kind: KindExact, Value: v}
}

// LPM matches the first prefixLen bits of name against v
func LPM(name string, v codec.Value, prefixLen int32) FieldMatch {
	return FieldMatch{Name: name, Kind: KindLPM, Value: v, PrefixLen: prefixLen}
}

// Ternary matches the bits of name selected by mask against v
func Ternary(name string, v, mask codec.Value) FieldMatch {
	return FieldMatch{Name: name, Kind: KindTernary, Value: v, Mask: mask}
}

// Range matches name when it lies within [low, high]
func Range(name string, low, high codec.Value) FieldMatch {
	return FieldMatch{Name: name, Kind: KindRange, Value: low, High: high}
}

// Optional matches name against v
func Optional(name string, v codec.Value) FieldMatch {
	return FieldMatch{Name: name, Kind: KindOptional, Value: v}
}

// ActionParam is one named action argument
type ActionParam struct {
	Name  string
	Value codec.Value
}

// Param builds an ActionParam
func Param(name string, v codec.Value) ActionParam {
	return ActionParam{Name: name, Value: v}
}

// TableEntry is the declarative description of one entry to insert
type TableEntry struct {
	Table    string
	Match    []FieldMatch
	Action   string
	Params   []ActionParam
	Priority int32
}

func (e TableEntry) String() string {
	return fmt.Sprintf("%s/%s", e.Table, e.Action)
}

// Status is the outcome of one entry
type Status int

// Outcomes of a write
const (
	Inserted Status = iota
	AlreadyExists
	Failed
)

func (s Status) String() string {
	switch s {
	case Inserted:
		return "Inserted"
	case AlreadyExists:
		return "AlreadyExists"
	case Failed:
		return "Failed"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// WriteResult reports what happened to one entry. Err is set only when
// Status is Failed and wraps one of the error kinds above.
type WriteResult struct {
	Status   Status
	Err      error
	Attempts int
}

func (r WriteResult) String() string {
	if r.Status == Failed {
		return fmt.Sprintf("Failed(%v)", r.Err)
	}
	return r.Status.String()
}

// Batch is a list of entries for one target
type Batch struct {
	Target  string
	Entries []TableEntry
}

// BatchResult is the outcome of one Batch. Err is set when no session to
// the target could be established, in which case Results is nil.
type BatchResult struct {
	Target  string
	Results []WriteResult
	Err     error
}

// Summary counts results by status
type Summary struct {
	Inserted      int `json:"inserted"`
	AlreadyExists int `json:"alreadyexists"`
	Failed        int `json:"failed"`
}

// Summarize counts results by status
func Summarize(results []WriteResult) Summary {
	var s Summary
	for _, r := range results {
		switch r.Status {
		case Inserted:
			s.Inserted++
		case AlreadyExists:
			s.AlreadyExists++
		default:
			s.Failed++
		}
	}
	return s
}

// BatchReport is published on the event bus after every Apply
type BatchReport struct {
	BatchID  string
	Target   string
	Started  time.Time
	Duration time.Duration
	Entries  []TableEntry
	Results  []WriteResult
}

// Summary counts the results of the batch
func (r *BatchReport) Summary() Summary {
	return Summarize(r.Results)
}
