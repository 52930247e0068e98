// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package form

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Record is one job card or list row. Keys are field keys, values have
// the shape determined by the field kind: string for text and date,
// float64 or string for number, bool for checkbox, the selected option
// value for dropdown, and a sequence of child records for list.
//
// A record may carry keys that are not in the current schema; the engine
// never strips them (see Reconcile).
type Record map[string]interface{}

// Clone returns a deep copy of the record
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for key, value := range r {
		out[key] = cloneValue(value)
	}
	return out
}

func cloneValue(value interface{}) interface{} {
	switch v := value.(type) {
	case Record:
		return v.Clone()
	case map[string]interface{}:
		return Record(v).Clone()
	case []Record:
		rows := make([]Record, len(v))
		for i, row := range v {
			rows[i] = row.Clone()
		}
		return rows
	case []interface{}:
		rows := make([]interface{}, len(v))
		for i, row := range v {
			rows[i] = cloneValue(row)
		}
		return rows
	default:
		return value
	}
}

// Rows returns the value under key as a sequence of records. Values
// unmarshalled from JSON arrive as []interface{} of map[string]interface{};
// both representations are accepted. Anything else yields an empty
// sequence.
func (r Record) Rows(key string) []Record {
	return toRows(r[key])
}

func toRows(value interface{}) []Record {
	switch v := value.(type) {
	case []Record:
		return v
	case []interface{}:
		rows := make([]Record, 0, len(v))
		for _, item := range v {
			switch row := item.(type) {
			case Record:
				rows = append(rows, row)
			case map[string]interface{}:
				rows = append(rows, Record(row))
			}
		}
		return rows
	default:
		return nil
	}
}

// Number parses a value under the canonical numeric contract: numbers
// pass through, strings are trimmed and parsed as floating point.
// Everything else, including the empty string, is not a number.
func Number(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// String renders a value the way the form surface displays it
func String(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// AppendRow returns a copy of the record with one default row appended to
// the list field listKey. The new row follows the default derivation
// rules, nested lists inside it start empty. Row order is insertion
// order.
func AppendRow(rec Record, fields []Field, listKey string) (Record, error) {
	field, ok := fieldByKey(fields, listKey)
	if !ok || field.Type != KindList {
		return nil, fmt.Errorf("'%s' is not a list field", listKey)
	}
	out := rec.Clone()
	out[listKey] = append(out.Rows(listKey), DefaultRow(field.Fields))
	return out, nil
}

// RemoveRow returns a copy of the record with the row at index removed
// from the list field listKey. Removal is strictly positional.
func RemoveRow(rec Record, listKey string, index int) (Record, error) {
	rows := rec.Rows(listKey)
	if index < 0 || index >= len(rows) {
		return nil, fmt.Errorf("'%s' has no row %d", listKey, index)
	}
	out := rec.Clone()
	rows = out.Rows(listKey)
	out[listKey] = append(rows[:index], rows[index+1:]...)
	return out, nil
}

// SetValue returns a copy of the record with the top-level field set to
// value. No type coercion happens here; values are checked at validation
// time.
func SetValue(rec Record, fieldKey string, value interface{}) Record {
	out := rec.Clone()
	out[fieldKey] = value
	return out
}

// SetCell returns a copy of the record with one cell of a list row
// replaced. No type coercion happens here.
func SetCell(rec Record, listKey string, rowIndex int, fieldKey string, value interface{}) (Record, error) {
	rows := rec.Rows(listKey)
	if rowIndex < 0 || rowIndex >= len(rows) {
		return nil, fmt.Errorf("'%s' has no row %d", listKey, rowIndex)
	}
	out := rec.Clone()
	out.Rows(listKey)[rowIndex][fieldKey] = value
	return out, nil
}

// policyNumber returns the value of the first key in the row matching the
// policy, parsed as a number. Keys are visited in sorted order so the
// result does not depend on map iteration.
func policyNumber(row Record, policy func(string) bool) (float64, bool) {
	keys := make([]string, 0, len(row))
	for key := range row {
		if policy(key) {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return 0, false
	}
	sort.Strings(keys)
	return Number(row[keys[0]])
}
