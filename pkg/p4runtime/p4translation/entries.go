// SPDX-License-Identifier: Apache-2.0
// Copyright (C) 2023 Nordix Foundation.

package p4translation

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/opiproject/opi-p4rt-tablectl/pkg/p4runtime/codec"
	"github.com/opiproject/opi-p4rt-tablectl/pkg/p4runtime/controller"
)

// entryDoc keeps match and params as nodes so that the file order survives
type entryDoc struct {
	Table    string    `yaml:"table"`
	Match    yaml.Node `yaml:"match"`
	Action   string    `yaml:"action"`
	Params   yaml.Node `yaml:"params"`
	Priority int32     `yaml:"priority"`
}

type entriesDoc struct {
	Hosts   []HostBinding `yaml:"hosts"`
	Entries []entryDoc    `yaml:"entries"`
}

// LoadEntries reads an entries file. Entries translated from its hosts come
// first, followed by its explicit entries in file order.
func LoadEntries(path string, p Pipeline) ([]controller.TableEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	entries, err := ParseEntries(data, p)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return entries, nil
}

// ParseEntries decodes the YAML content of an entries file
func ParseEntries(data []byte, p Pipeline) ([]controller.TableEntry, error) {
	var doc entriesDoc
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	entries, err := Translate(p, doc.Hosts)
	if err != nil {
		return nil, err
	}
	for i, d := range doc.Entries {
		e, err := d.entry()
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (d entryDoc) entry() (controller.TableEntry, error) {
	e := controller.TableEntry{Table: d.Table, Action: d.Action, Priority: d.Priority}
	if d.Table == "" || d.Action == "" {
		return e, fmt.Errorf("table and action are required")
	}
	err := pairs(&d.Match, func(name, value string) error {
		fm, err := ParseMatch(name, value)
		if err != nil {
			return err
		}
		e.Match = append(e.Match, fm)
		return nil
	})
	if err != nil {
		return e, fmt.Errorf("match: %w", err)
	}
	err = pairs(&d.Params, func(name, value string) error {
		v, err := codec.Parse(value)
		if err != nil {
			return fmt.Errorf("param %q: %w", name, err)
		}
		e.Params = append(e.Params, controller.Param(name, v))
		return nil
	})
	if err != nil {
		return e, fmt.Errorf("params: %w", err)
	}
	return e, nil
}

// pairs walks a mapping of scalars in document order
func pairs(n *yaml.Node, fn func(key, value string) error) error {
	if n.Kind == 0 {
		return nil
	}
	if n.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: expected a mapping", n.Line)
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		k, v := n.Content[i], n.Content[i+1]
		if v.Kind != yaml.ScalarNode {
			return fmt.Errorf("line %d: %q must be a scalar", v.Line, k.Value)
		}
		if err := fn(k.Value, v.Value); err != nil {
			return err
		}
	}
	return nil
}

// ParseMatch reads a match written as "v" (the field's own match type),
// "v/len" (lpm), "v&&&mask" (ternary) or "lo..hi" (range).
func ParseMatch(name, s string) (controller.FieldMatch, error) {
	parse := func(s string) (codec.Value, error) {
		v, err := codec.Parse(s)
		if err != nil {
			return v, fmt.Errorf("field %q: %w", name, err)
		}
		return v, nil
	}

	if value, mask, ok := strings.Cut(s, "&&&"); ok {
		v, err := parse(value)
		if err != nil {
			return controller.FieldMatch{}, err
		}
		m, err := parse(mask)
		if err != nil {
			return controller.FieldMatch{}, err
		}
		return controller.Ternary(name, v, m), nil
	}
	if low, high, ok := strings.Cut(s, ".."); ok {
		lo, err := parse(low)
		if err != nil {
			return controller.FieldMatch{}, err
		}
		hi, err := parse(high)
		if err != nil {
			return controller.FieldMatch{}, err
		}
		return controller.Range(name, lo, hi), nil
	}
	if value, prefix, ok := strings.Cut(s, "/"); ok {
		v, err := parse(value)
		if err != nil {
			return controller.FieldMatch{}, err
		}
		plen, err := strconv.ParseInt(strings.TrimSpace(prefix), 10, 32)
		if err != nil {
			return controller.FieldMatch{}, fmt.Errorf("field %q: %w: prefix length %q", name, codec.ErrInvalidValue, prefix)
		}
		return controller.LPM(name, v, int32(plen)), nil
	}
	v, err := parse(s)
	if err != nil {
		return controller.FieldMatch{}, err
	}
	return controller.FieldMatch{Name: name, Value: v}, nil
}
