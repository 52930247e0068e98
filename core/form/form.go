// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package form implements the schema-driven record engine for job cards.

A shop defines its own job-card shape as an ordered tree of fields. The
engine derives empty records from such a tree, validates populated records,
computes the repair cost over nested part lists and reconciles stored
records against a schema that has evolved since the record was written.

All operations are pure functions over immutable inputs; they return new
Record values and never mutate their arguments.
*/
package form

import (
	"fmt"
	"strings"
)

// FieldKind is the type of a field in a job-card schema
type FieldKind string

// all supported field kinds
const (
	KindText     FieldKind = "text"
	KindNumber   FieldKind = "number"
	KindDate     FieldKind = "date"
	KindCheckbox FieldKind = "checkbox"
	KindDropdown FieldKind = "dropdown"
	KindList     FieldKind = "list"
)

// Option is one selectable entry of a dropdown field. The first option
// of a dropdown is the implicit default.
type Option struct {
	Value            string `json:"value"`
	Color            string `json:"color,omitempty"`
	DisplayByDefault bool   `json:"display_by_default,omitempty"`
}

// Field is one node of a job-card schema. Options are only valid for
// dropdown fields, Fields only for list fields. A list field's rows are
// independent records of its Fields sub-schema; list sub-fields may
// themselves be lists (items with parts).
//
// Mandatory fields cannot be renamed or removed by the schema editor.
type Field struct {
	Name      string    `json:"name"`
	Key       string    `json:"key"`
	Type      FieldKind `json:"type"`
	Options   []Option  `json:"options,omitempty"`
	Fields    []Field   `json:"fields,omitempty"`
	Mandatory bool      `json:"mandatory,omitempty"`
}

// maxDepth limits the nesting of interactively authored schemas
const maxDepth = 8

// KeyForName derives the machine key for a field name: the name is
// trimmed, lowercased, and every run of whitespace becomes a single
// underscore. The derivation is deterministic, names differing only in
// case or whitespace run length map to the same key.
func KeyForName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), "_"))
}

// IsQuantityField is the policy deciding whether a key denotes a
// quantity. Quantity fields default to 1 regardless of their declared
// type, so that computed totals start from a sane nonzero value.
func IsQuantityField(key string) bool {
	return strings.Contains(strings.ToLower(key), "qty")
}

// IsPriceField is the policy deciding whether a key denotes a price.
// Price fields default to 0 regardless of their declared type.
func IsPriceField(key string) bool {
	return strings.Contains(strings.ToLower(key), "price")
}

// NormalizeKeys recomputes every field key from its name. The schema
// editor calls this on save, so a rename always moves the key along.
// The input is not modified.
func NormalizeKeys(fields []Field) []Field {
	out := make([]Field, len(fields))
	for i, f := range fields {
		f.Key = KeyForName(f.Name)
		if f.Type == KindList {
			f.Fields = NormalizeKeys(f.Fields)
		}
		out[i] = f
	}
	return out
}

// CheckFields verifies that a schema is well-formed: known field kinds,
// non-empty keys, no duplicate sibling keys, options only on dropdowns,
// sub-fields only on lists, and bounded nesting depth. The schema editor
// must refuse documents for which CheckFields returns an error.
func CheckFields(fields []Field) error {
	return checkFields(fields, "", 0)
}

func checkFields(fields []Field, path string, depth int) error {
	if depth > maxDepth {
		return fmt.Errorf("schema exceeds maximum nesting depth of %d", maxDepth)
	}
	seen := map[string]string{}
	for _, f := range fields {
		loc := f.Key
		if path != "" {
			loc = path + "." + f.Key
		}
		if f.Key == "" {
			return fmt.Errorf("field '%s' has an empty key", f.Name)
		}
		if name, ok := seen[f.Key]; ok {
			return fmt.Errorf("fields '%s' and '%s' collide on key '%s'", name, f.Name, loc)
		}
		seen[f.Key] = f.Name

		switch f.Type {
		case KindText, KindNumber, KindDate, KindCheckbox:
		case KindDropdown:
		case KindList:
			if len(f.Fields) == 0 {
				return fmt.Errorf("list field '%s' has no sub-fields", loc)
			}
		default:
			return fmt.Errorf("field '%s' has unknown type '%s'", loc, f.Type)
		}
		if f.Type != KindDropdown && len(f.Options) > 0 {
			return fmt.Errorf("field '%s' is not a dropdown but has options", loc)
		}
		if f.Type != KindList && len(f.Fields) > 0 {
			return fmt.Errorf("field '%s' is not a list but has sub-fields", loc)
		}
		if f.Type == KindList {
			if err := checkFields(f.Fields, loc, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

// fieldByKey returns the field with the given key, or false
func fieldByKey(fields []Field, key string) (Field, bool) {
	for _, f := range fields {
		if f.Key == key {
			return f, true
		}
	}
	return Field{}, false
}
